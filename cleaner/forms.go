package cleaner

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/tabhost/models"
)

// maskedValue replaces the value of password fields.
const maskedValue = "********"

// ExtractForms lists every <form> in rawHTML with its named controls.
// Controls outside any form that carry a form="id" attribute are attached
// to that form. Buttons and unnamed controls are skipped.
func ExtractForms(rawHTML string) ([]models.Form, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	labels := labelIndex(doc)
	forms := []models.Form{}
	byID := make(map[string]int)

	doc.Find("form").Each(func(_ int, f *goquery.Selection) {
		form := models.Form{
			ID:     f.AttrOr("id", ""),
			Name:   f.AttrOr("name", ""),
			Action: f.AttrOr("action", ""),
			Method: strings.ToUpper(f.AttrOr("method", "GET")),
			Fields: []models.FormField{},
		}
		f.Find("input, select, textarea").Each(func(_ int, c *goquery.Selection) {
			if field, ok := formField(c, labels); ok {
				form.Fields = append(form.Fields, field)
			}
		})
		if form.ID != "" {
			byID[form.ID] = len(forms)
		}
		forms = append(forms, form)
	})

	doc.Find("input[form], select[form], textarea[form]").Each(func(_ int, c *goquery.Selection) {
		idx, ok := byID[c.AttrOr("form", "")]
		if !ok || c.ParentsFiltered("form").Length() > 0 {
			return
		}
		if field, ok := formField(c, labels); ok {
			forms[idx].Fields = append(forms[idx].Fields, field)
		}
	})

	return forms, nil
}

// labelIndex maps control ids to the text of their <label for=...>.
func labelIndex(doc *goquery.Document) map[string]string {
	out := make(map[string]string)
	doc.Find("label[for]").Each(func(_ int, l *goquery.Selection) {
		if id := l.AttrOr("for", ""); id != "" {
			out[id] = strings.Join(strings.Fields(l.Text()), " ")
		}
	})
	return out
}

func formField(c *goquery.Selection, labels map[string]string) (models.FormField, bool) {
	name := c.AttrOr("name", "")
	if name == "" {
		return models.FormField{}, false
	}

	tag := goquery.NodeName(c)
	typ := tag
	if tag == "input" {
		typ = strings.ToLower(c.AttrOr("type", "text"))
	}
	switch typ {
	case "submit", "button", "reset", "image":
		return models.FormField{}, false
	}

	_, required := c.Attr("required")
	field := models.FormField{
		Name:     name,
		Type:     typ,
		Required: required,
	}

	switch tag {
	case "select":
		c.Find("option").Each(func(_ int, o *goquery.Selection) {
			val := o.AttrOr("value", strings.TrimSpace(o.Text()))
			field.Options = append(field.Options, val)
			if _, selected := o.Attr("selected"); selected {
				field.Value = val
			}
		})
	case "textarea":
		field.Value = c.Text()
	default:
		field.Value = c.AttrOr("value", "")
		if typ == "checkbox" || typ == "radio" {
			if _, checked := c.Attr("checked"); !checked {
				field.Value = ""
			}
		}
	}
	if typ == "password" && field.Value != "" {
		field.Value = maskedValue
	}

	if id := c.AttrOr("id", ""); id != "" {
		field.Label = labels[id]
	}
	if field.Label == "" {
		if l := c.ParentsFiltered("label").First(); l.Length() > 0 {
			field.Label = strings.Join(strings.Fields(l.Text()), " ")
		}
	}
	return field, true
}
