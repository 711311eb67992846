package graph

import "fmt"

// Categories is the fixed set of top-level facets every Q&A fact belongs to.
// Defined once at process start and never mutated.
var Categories = []string{
	"Knowledge",
	"Feelings",
	"Personalities",
	"ImportanceOfPeople",
	"Preferences",
	"Morals",
	"AutomaticQuestions",
}

// Hub node identifiers.
const (
	TrainingHubID = "Training"
	DocumentHubID = "Documents"
)

// TrainingCategoryMap maps questionnaire category names to internal
// categories. Training resync correctness depends on this table staying
// exactly in sync with the questionnaire subsystem.
var TrainingCategoryMap = map[string]string{
	"Questions about my knowledge":                      "Knowledge",
	"Questions about my feelings and 5 personalities":   "Personalities",
	"Question about the importance of people in my life": "ImportanceOfPeople",
	"Iteratively add to a knowledge graph":              "Knowledge",
	"Preferences":                                       "Preferences",
	"Moral questions":                                   "Morals",
	"Automatic questions to extend known knowledge":     "AutomaticQuestions",
}

// NodeType is the closed set of node variants. The front-end styles nodes by
// this value, so the strings are part of the wire contract.
type NodeType string

const (
	TypeCategory         NodeType = "category"
	TypeQA               NodeType = "qa"
	TypeTrainingMain     NodeType = "training_main"
	TypeTrainingCategory NodeType = "training_category"
	TypeTrainingQA       NodeType = "training_qa"
	TypeDocumentMain     NodeType = "document_main"
	TypeDocumentInstance NodeType = "document_instance"
)

// Attrs holds a node's attribute map. Values are normalized to strings,
// float64 numbers, and bools on insertion so that in-memory state is
// identical before and after a JSON snapshot round trip.
type Attrs map[string]any

// Node is a graph node. Nodes auto-created as bare edge endpoints have an
// empty Type and nil Attrs.
type Node struct {
	ID    string   `json:"id"`
	Type  NodeType `json:"type,omitempty"`
	Attrs Attrs    `json:"attrs,omitempty"`
}

// Edge is a directed edge, optionally carrying a relation label. Only one
// edge may exist per ordered (Source, Target) pair.
type Edge struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation,omitempty"`
}

// validCategory reports whether c is one of the fixed categories.
func validCategory(c string) bool {
	for _, cat := range Categories {
		if c == cat {
			return true
		}
	}
	return false
}

// normalizeValue coerces v into the snapshot-stable value set.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case string, bool, float64, nil:
		return val
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case uint:
		return float64(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func normalizeAttrs(attrs Attrs) Attrs {
	if attrs == nil {
		return nil
	}
	out := make(Attrs, len(attrs))
	for k, v := range attrs {
		out[k] = normalizeValue(v)
	}
	return out
}
