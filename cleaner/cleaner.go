// Package cleaner turns a tab's rendered HTML into a compact snapshot and
// lists the forms on the page.
package cleaner

import (
	"bytes"
	"math"
	"strings"
	"unicode"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"github.com/use-agent/tabhost/models"
)

// Output formats and extraction modes accepted by Clean.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatText     = "text"

	ModeReadability = "readability"
	ModeRaw         = "raw"
)

// Cleaner runs the snapshot pipeline:
//
//	selector (optional): keep only matching elements
//	extraction:          readability main-content, or the raw page
//	conversion:          markdown, html or text
//
// The markdown converter is built once and shared; Cleaner is safe for
// concurrent use.
type Cleaner struct {
	md *converter.Converter
}

// NewCleaner returns a Cleaner with the markdown converter configured.
// Inspection pages are table heavy, so tables keep minimal cell padding.
func NewCleaner() *Cleaner {
	return &Cleaner{md: converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)}
}

// Clean converts rawHTML taken from sourceURL into a snapshot. Metadata,
// links and token estimates are filled; timing and cache status are left
// to the caller.
func (c *Cleaner) Clean(rawHTML, sourceURL, format, mode, selector string) (*models.SnapshotResponse, error) {
	originalTokens := EstimateTokens(rawHTML)

	var m goquery.Matcher
	if selector != "" {
		sel, err := cascadia.Compile(selector)
		if err != nil {
			return nil, models.NewAPIError(models.ErrCodeInvalidInput, "invalid css selector", err)
		}
		m = sel
	}

	title := ""
	scoped := rawHTML
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML)); err == nil {
		title = strings.TrimSpace(doc.Find("title").First().Text())
		if m != nil {
			scoped = narrow(doc, m, rawHTML)
		}
	}

	var article readability.Article
	switch mode {
	case ModeRaw:
		article = rawArticle(scoped)
		// Title still comes from the full page.
		article.Title = title
	default:
		article, _ = ExtractContent(scoped, sourceURL)
		if article.Title == "" {
			article.Title = title
		}
	}

	var content string
	switch format {
	case FormatHTML:
		content = article.Content
	case FormatText:
		content = strings.TrimSpace(article.TextContent)
	default:
		format = FormatMarkdown
		md, err := c.markdown(article.Content, sourceURL)
		if err != nil {
			return nil, models.NewAPIError(models.ErrCodeSnapshot, "markdown conversion failed", err)
		}
		content = md
	}

	cleanedTokens := EstimateTokens(content)
	savings := 0.0
	if originalTokens > 0 {
		savings = float64(originalTokens-cleanedTokens) / float64(originalTokens) * 100
		savings = math.Round(savings*100) / 100
	}

	return &models.SnapshotResponse{
		Success: true,
		URL:     sourceURL,
		Format:  format,
		Content: content,
		Metadata: models.Metadata{
			Title:       article.Title,
			Description: article.Excerpt,
			SiteName:    article.SiteName,
			Author:      article.Byline,
			Language:    article.Language,
		},
		Links: ExtractLinks(scoped, sourceURL),
		Tokens: models.TokenInfo{
			OriginalEstimate: originalTokens,
			CleanedEstimate:  cleanedTokens,
			SavingsPercent:   savings,
		},
	}, nil
}

// markdown converts an HTML fragment, resolving relative links and images
// against pageURL.
func (c *Cleaner) markdown(fragment, pageURL string) (string, error) {
	md, err := c.md.ConvertString(fragment, converter.WithDomain(pageURL))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}

// narrow keeps the outer HTML of every element of doc matched by m, in
// document order. A selector that matches nothing keeps the whole page.
func narrow(doc *goquery.Document, m goquery.Matcher, rawHTML string) string {
	nodes := doc.FindMatcher(m).Nodes
	if len(nodes) == 0 {
		return rawHTML
	}
	var buf bytes.Buffer
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			return rawHTML
		}
	}
	return buf.String()
}

// EstimateTokens approximates the token count of text: about four runes
// per token for alphabetic scripts and one and a half for CJK.
func EstimateTokens(text string) int {
	var cjk, other int
	for _, r := range text {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			cjk++
		} else {
			other++
		}
	}
	if cjk+other == 0 {
		return 0
	}
	return int(math.Ceil(float64(other)/4 + float64(cjk)/1.5))
}

// stripTags extracts the visible text of an HTML fragment.
func stripTags(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	doc.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
