package visitor

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageFacts are the SEO fields pulled out of a fetched HTML document.
type PageFacts struct {
	Title           string
	MetaDescription string
	H1              string
	Canonical       string
	Robots          string
}

// ExtractFacts parses the document and pulls the audited fields. A
// malformed document yields whatever fields could still be read.
func ExtractFacts(body []byte) (PageFacts, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return PageFacts{}, err
	}
	facts := PageFacts{
		Title:           strings.TrimSpace(doc.Find("title").First().Text()),
		MetaDescription: strings.TrimSpace(doc.Find(`meta[name="description"]`).First().AttrOr("content", "")),
		H1:              strings.TrimSpace(doc.Find("h1").First().Text()),
		Canonical:       strings.TrimSpace(doc.Find(`link[rel="canonical"]`).First().AttrOr("href", "")),
		Robots:          strings.TrimSpace(doc.Find(`meta[name="robots"]`).First().AttrOr("content", "")),
	}
	return facts, nil
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}
