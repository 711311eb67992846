// Package content extracts plain text from stored document bytes so the
// analysis pipeline can feed it to the LLM regardless of upload format.
package content

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Text converts document bytes to plain text based on the file type
// (a lowercase extension such as "txt", "pdf", "html").
func Text(fileType string, data []byte) (string, error) {
	switch strings.ToLower(fileType) {
	case "txt", "md", "markdown", "json", "csv", "xml":
		return string(data), nil
	case "pdf":
		return pdfText(data)
	case "html", "htm":
		return htmlText(data)
	default:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("unsupported file type %q", fileType)
		}
		return string(data), nil
	}
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}

	if b.Len() == 0 {
		return "", fmt.Errorf("no extractable text in PDF")
	}
	return b.String(), nil
}

// htmlText walks the parsed document collecting text nodes, skipping script
// and style subtrees.
func htmlText(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(parts, " "), nil
}

// SupportedTypes lists the file types the pipeline can extract text from,
// surfaced by the analysis API.
func SupportedTypes() []string {
	return []string{"txt", "md", "json", "csv", "xml", "html", "pdf"}
}
