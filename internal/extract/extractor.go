// Package extract turns raw document text into knowledge graph entries by
// prompting a local LLM and repairing its JSON output.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kalambet/selfgraph/internal/graph"
	"github.com/kalambet/selfgraph/internal/ollama"
)

const defaultMaxPromptChars = 8000

// Chatter is the LLM surface the extractor needs. *ollama.Client satisfies it.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, jsonSchema *ollama.Schema) (string, error)
}

// Result is the outcome of one extraction run. Err is set (and Entries empty)
// when the model produced output that could not be turned into valid entries;
// the run itself still counts as finished so callers can persist the failure.
type Result struct {
	Entries      []graph.Entry `json:"entries,omitempty"`
	EntryCount   int           `json:"entry_count,omitempty"`
	InvalidCount int           `json:"invalid_count,omitempty"`
	Model        string        `json:"model,omitempty"`
	Err          string        `json:"error,omitempty"`
	RawOutput    string        `json:"raw_output,omitempty"`
}

// Extractor prompts a model for knowledge graph entries.
type Extractor struct {
	chat           Chatter
	model          string
	maxPromptChars int
}

func New(chat Chatter, model string) *Extractor {
	return &Extractor{
		chat:           chat,
		model:          model,
		maxPromptChars: defaultMaxPromptChars,
	}
}

// entriesSchema asks the model for a JSON array of category/question/answer
// objects via structured output. The repair pipeline below still runs on the
// response, since not every model honors the schema.
var entriesSchema = &ollama.Schema{
	Type: "array",
	Items: &ollama.Schema{
		Type: "object",
		Properties: map[string]*ollama.Schema{
			"category": {Type: "string"},
			"question": {Type: "string"},
			"answer":   {Type: "string"},
		},
		Required: []string{"category", "question", "answer"},
	},
}

// Extract prompts the model with the document text and parses its response
// into entries. A failed chat call returns a non-nil error; unusable model
// output returns a Result with Err set and a nil error.
func (e *Extractor) Extract(ctx context.Context, content string) (Result, error) {
	if content == "" {
		return Result{Err: "empty document content"}, nil
	}
	if len(content) > e.maxPromptChars {
		content = content[:e.maxPromptChars] + "..."
	}

	raw, err := e.chat.Chat(ctx, e.model, []ollama.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPromptPrefix + content},
	}, entriesSchema)
	if err != nil {
		return Result{}, fmt.Errorf("extraction chat: %w", err)
	}

	entries, invalid, perr := parseEntries(raw)
	if perr != nil {
		slog.Error("extraction output unusable", "model", e.model, "error", perr)
		return Result{Err: perr.Error(), RawOutput: truncate(raw, 200), Model: e.model}, nil
	}

	slog.Info("extraction complete", "model", e.model, "entries", len(entries), "invalid", invalid)
	return Result{
		Entries:      entries,
		EntryCount:   len(entries),
		InvalidCount: invalid,
		Model:        e.model,
	}, nil
}

var jsonBlockRe = regexp.MustCompile(`(?s)(\[.*\]|\{.*\})`)

// parseEntries repairs and decodes raw model output: code fences are
// stripped, a JSON array or object wrapped in prose is recovered, and a bare
// object is promoted to a one-element array. Entries missing any of the three
// fields are counted but dropped.
func parseEntries(raw string) ([]graph.Entry, int, error) {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		parts := strings.Split(raw, "```")
		if len(parts) >= 3 {
			raw = strings.Join(parts[1:len(parts)-1], "```")
		}
		raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "json"))
	}

	if m := jsonBlockRe.FindString(raw); m != "" {
		raw = m
	}

	var items []map[string]any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		// A single object still counts as one entry.
		var single map[string]any
		if serr := json.Unmarshal([]byte(raw), &single); serr != nil {
			return nil, 0, fmt.Errorf("output parse error: %w", err)
		}
		items = []map[string]any{single}
	}

	var entries []graph.Entry
	invalid := 0
	for _, item := range items {
		category, okC := stringField(item, "category")
		question, okQ := stringField(item, "question")
		answer, okA := stringField(item, "answer")
		if !okC || !okQ || !okA {
			invalid++
			continue
		}
		entries = append(entries, graph.Entry{
			Category: category,
			Question: question,
			Answer:   answer,
		})
	}

	if len(entries) == 0 {
		return nil, invalid, fmt.Errorf("no valid entries extracted")
	}
	return entries, invalid, nil
}

func stringField(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	s = strings.TrimSpace(s)
	return s, ok && s != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
