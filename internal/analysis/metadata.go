package analysis

import (
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/selfgraph/internal/storage"
)

// TextExtractionResult carries the extracted text and its basic statistics.
type TextExtractionResult struct {
	ExtractedText  string `json:"extracted_text"`
	TextLength     int    `json:"text_length"`
	WordCount      int    `json:"word_count"`
	CharacterCount int    `json:"character_count"`
	LineCount      int    `json:"line_count"`
	Language       string `json:"language"`
}

func textExtraction(text string) TextExtractionResult {
	if len(text) > maxStoredTextLength {
		text = text[:maxStoredTextLength] + "..."
	}
	return TextExtractionResult{
		ExtractedText:  text,
		TextLength:     len(text),
		WordCount:      len(strings.Fields(text)),
		CharacterCount: len(text),
		LineCount:      strings.Count(text, "\n") + 1,
		Language:       detectLanguage(text),
	}
}

// MetadataResult describes the file and the structure of its content.
type MetadataResult struct {
	FileInfo     FileInfo     `json:"file_info"`
	ContentStats ContentStats `json:"content_stats"`
	Structure    Structure    `json:"structure_analysis"`
}

type FileInfo struct {
	Filename   string `json:"filename"`
	FileType   string `json:"file_type"`
	FileSize   int64  `json:"file_size"`
	UploadDate string `json:"upload_date"`
	Category   string `json:"category"`
}

type ContentStats struct {
	CharacterCount    int     `json:"character_count"`
	WordCount         int     `json:"word_count"`
	LineCount         int     `json:"line_count"`
	ParagraphCount    int     `json:"paragraph_count"`
	AverageWordLength float64 `json:"average_word_length"`
	Language          string  `json:"language"`
}

type Structure struct {
	HasHeaders bool `json:"has_headers"`
	HasLists   bool `json:"has_lists"`
	HasLinks   bool `json:"has_links"`
	HasCode    bool `json:"has_code"`
}

var (
	headerRe   = regexp.MustCompile(`(?m)^#{1,6}\s`)
	bulletRe   = regexp.MustCompile(`(?m)^\s*[-*+]\s`)
	numberedRe = regexp.MustCompile(`(?m)^\s*\d+\.\s`)
	urlRe      = regexp.MustCompile(`https?://\S+`)
	mdLinkRe   = regexp.MustCompile(`\[.*\]\(.*\)`)
	codeRe     = regexp.MustCompile("(?s)```.*```|`[^`]+`")
)

func metadata(doc storage.Document, text string) MetadataResult {
	return MetadataResult{
		FileInfo: FileInfo{
			Filename:   doc.Filename,
			FileType:   doc.FileType,
			FileSize:   doc.FileSize,
			UploadDate: doc.UploadDate.UTC().Format(time.RFC3339),
			Category:   doc.Category,
		},
		ContentStats: ContentStats{
			CharacterCount:    len(text),
			WordCount:         len(strings.Fields(text)),
			LineCount:         strings.Count(text, "\n") + 1,
			ParagraphCount:    paragraphCount(text),
			AverageWordLength: averageWordLength(text),
			Language:          detectLanguage(text),
		},
		Structure: Structure{
			HasHeaders: headerRe.MatchString(text),
			HasLists:   bulletRe.MatchString(text) || numberedRe.MatchString(text),
			HasLinks:   urlRe.MatchString(text) || mdLinkRe.MatchString(text),
			HasCode:    codeRe.MatchString(text),
		},
	}
}

func paragraphCount(text string) int {
	n := 0
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			n++
		}
	}
	return n
}

func averageWordLength(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	total := 0
	for _, w := range words {
		total += len(w)
	}
	return float64(total) / float64(len(words))
}

func detectLanguage(text string) string {
	if len(text) < 10 {
		return "unknown"
	}
	return "en"
}
