package cleaner

import (
	"log/slog"
	nurl "net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// minArticleText is the shortest readability text accepted as the main
// content. Shorter output usually means the form or app page has no
// article, so the whole page is kept instead.
const minArticleText = 50

// ExtractContent runs Mozilla Readability over rawHTML. The bool reports
// whether readability output was used; on any failure the page is
// returned whole so a snapshot never comes back empty.
func ExtractContent(rawHTML, sourceURL string) (readability.Article, bool) {
	parsed, err := nurl.Parse(sourceURL)
	if err != nil || parsed.Scheme == "" {
		// about:blank and friends have nothing for readability to resolve against.
		return rawArticle(rawHTML), false
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), parsed)
	if err != nil {
		slog.Debug("readability: extraction failed, keeping whole page",
			"url", sourceURL, "error", err,
		)
		return rawArticle(rawHTML), false
	}

	if len(strings.TrimSpace(article.TextContent)) < minArticleText {
		slog.Debug("readability: main content too short, keeping whole page",
			"url", sourceURL, "length", len(article.TextContent),
		)
		fallback := rawArticle(rawHTML)
		fallback.Title = article.Title
		fallback.Excerpt = article.Excerpt
		fallback.SiteName = article.SiteName
		fallback.Language = article.Language
		return fallback, false
	}

	return article, true
}

// rawArticle wraps a page so the rest of the pipeline treats it like
// readability output.
func rawArticle(rawHTML string) readability.Article {
	return readability.Article{
		Content:     rawHTML,
		TextContent: stripTags(rawHTML),
	}
}
