package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// ErrInvalidCategory is returned when an entry names a category outside the
// fixed set.
var ErrInvalidCategory = errors.New("invalid category")

// Graph is an insertion-ordered directed graph of typed, attributed nodes.
// It is not safe for concurrent use; Manager serializes access.
type Graph struct {
	// HashedIDs switches Q&A node identity from question-prefix truncation
	// to a SHA-256 prefix. Truncation is the default: two questions sharing
	// a 30-character prefix collide and upsert the same node.
	HashedIDs bool

	nodes     map[string]*Node
	order     []string
	edges     []Edge
	edgeIndex map[string]map[string]int // source → target → index into edges
}

// New returns a fully initialized graph: the seven category nodes, the
// training and document hubs, and one training-category node per mapping
// entry, each linked to the training hub.
func New() *Graph {
	g := newEmpty()
	for _, cat := range Categories {
		g.upsertNode(cat, TypeCategory, nil)
	}
	g.upsertNode(TrainingHubID, TypeTrainingMain, nil)
	g.upsertNode(DocumentHubID, TypeDocumentMain, Attrs{"color": "blue"})

	// Sorted questionnaire names keep initialization deterministic; two
	// questionnaire categories map to Knowledge and share one node.
	names := make([]string, 0, len(TrainingCategoryMap))
	for name := range TrainingCategoryMap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		id := trainingCategoryNodeID(TrainingCategoryMap[name])
		g.upsertNode(id, TypeTrainingCategory, Attrs{"training_category": name})
		g.ensureEdge(TrainingHubID, id, "")
	}
	return g
}

func newEmpty() *Graph {
	return &Graph{
		nodes:     make(map[string]*Node),
		edgeIndex: make(map[string]map[string]int),
	}
}

func trainingCategoryNodeID(category string) string {
	return "Training_" + category
}

// upsertNode creates the node or merges attrs into an existing one,
// overwriting keys that are present in both.
func (g *Graph) upsertNode(id string, typ NodeType, attrs Attrs) *Node {
	n, ok := g.nodes[id]
	if !ok {
		n = &Node{ID: id}
		g.nodes[id] = n
		g.order = append(g.order, id)
	}
	if typ != "" {
		n.Type = typ
	}
	if len(attrs) > 0 {
		if n.Attrs == nil {
			n.Attrs = make(Attrs, len(attrs))
		}
		for k, v := range normalizeAttrs(attrs) {
			n.Attrs[k] = v
		}
	}
	return n
}

// ensureEdge adds a directed edge, auto-creating bare endpoint nodes. An
// existing (source, target) edge has its relation overwritten instead of
// being duplicated.
func (g *Graph) ensureEdge(source, target, relation string) {
	g.upsertNode(source, "", nil)
	g.upsertNode(target, "", nil)

	if targets, ok := g.edgeIndex[source]; ok {
		if i, ok := targets[target]; ok {
			g.edges[i].Relation = relation
			return
		}
	}
	g.edges = append(g.edges, Edge{Source: source, Target: target, Relation: relation})
	if g.edgeIndex[source] == nil {
		g.edgeIndex[source] = make(map[string]int)
	}
	g.edgeIndex[source][target] = len(g.edges) - 1
}

// RemoveNode deletes a node and every edge touching it. Removing an unknown
// id is a no-op.
func (g *Graph) RemoveNode(id string) {
	if _, ok := g.nodes[id]; !ok {
		return
	}
	delete(g.nodes, id)
	for i, nid := range g.order {
		if nid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}

	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.Source != id && e.Target != id {
			kept = append(kept, e)
		}
	}
	g.edges = kept
	g.rebuildEdgeIndex()
}

func (g *Graph) rebuildEdgeIndex() {
	g.edgeIndex = make(map[string]map[string]int)
	for i, e := range g.edges {
		if g.edgeIndex[e.Source] == nil {
			g.edgeIndex[e.Source] = make(map[string]int)
		}
		g.edgeIndex[e.Source][e.Target] = i
	}
}

// qaNodeID derives a Q&A node id from its category and question.
func (g *Graph) qaNodeID(category, question string) string {
	if g.HashedIDs {
		sum := sha256.Sum256([]byte(question))
		return category + ":" + hex.EncodeToString(sum[:])[:12]
	}
	runes := []rune(question)
	if len(runes) > 30 {
		runes = runes[:30]
	}
	return category + ":" + string(runes)
}

// AddEntry upserts a Q&A node under a category and returns its id so callers
// can attach further edges. The graph is unchanged when the category is
// invalid.
func (g *Graph) AddEntry(category, question, answer string, extra Attrs) (string, error) {
	if !validCategory(category) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	id := g.qaNodeID(category, question)
	attrs := Attrs{"question": question, "answer": answer}
	for k, v := range extra {
		attrs[k] = v
	}
	g.upsertNode(id, TypeQA, attrs)
	g.ensureEdge(category, id, "")
	return id, nil
}

// AddRelationship adds a labeled directed edge between two node ids.
// Endpoints that do not exist yet are created as bare nodes, so callers
// should ensure both nodes exist first.
func (g *Graph) AddRelationship(from, to, relation string) {
	g.ensureEdge(from, to, relation)
}

// TrainingRecord is one questionnaire answer as stored by the training
// subsystem. Answer is a string for text answers or a string slice for
// multiple-choice selections.
type TrainingRecord struct {
	QuestionID string
	Question   string
	Answer     any
	AnswerType string
	Category   string // questionnaire category name
	Timestamp  string
}

var timestampSanitizer = strings.NewReplacer(":", "_", ".", "_")

// AddTrainingEntry upserts a training answer node under its mapped
// training-category node. An unmapped questionnaire category logs a warning
// and leaves the graph unchanged.
func (g *Graph) AddTrainingEntry(rec TrainingRecord) {
	internal, ok := TrainingCategoryMap[rec.Category]
	if !ok {
		slog.Warn("unmapped training category, skipping answer",
			"category", rec.Category, "question_id", rec.QuestionID)
		return
	}

	id := "training_" + rec.QuestionID + "_" + timestampSanitizer.Replace(rec.Timestamp)
	g.upsertNode(id, TypeTrainingQA, Attrs{
		"question":          rec.Question,
		"answer":            formatAnswer(rec.Answer, rec.AnswerType),
		"question_id":       rec.QuestionID,
		"training_category": rec.Category,
		"answer_type":       rec.AnswerType,
		"timestamp":         rec.Timestamp,
	})
	g.ensureEdge(trainingCategoryNodeID(internal), id, "")
}

// formatAnswer renders a stored answer value for display. Multiple-choice
// selections are joined with ", ".
func formatAnswer(answer any, answerType string) string {
	if answerType == "multiple_choice" {
		switch v := answer.(type) {
		case []string:
			return strings.Join(v, ", ")
		case []any:
			parts := make([]string, len(v))
			for i, p := range v {
				parts[i] = fmt.Sprintf("%v", p)
			}
			return strings.Join(parts, ", ")
		}
	}
	switch v := answer.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// SyncTrainingData replaces the whole training-answer node set with one node
// per record. The training store stays the system of record; the graph is a
// derived view, so no incremental diffing is needed.
func (g *Graph) SyncTrainingData(records []TrainingRecord) {
	for _, id := range g.NodeIDsOfType(TypeTrainingQA) {
		g.RemoveNode(id)
	}
	for _, rec := range records {
		g.AddTrainingEntry(rec)
	}
}

// DocumentInfo identifies an uploaded document being folded into the graph.
type DocumentInfo struct {
	ID         string
	Filename   string
	FileType   string
	FileSize   int64
	UploadDate string
}

// Entry is one extracted (category, question, answer) fact candidate.
type Entry struct {
	Category string `json:"category"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// DocumentNodeID returns the provenance node id for a document.
func DocumentNodeID(documentID string) string {
	return "Doc_" + documentID
}

// IngestDocumentEntries folds extracted facts into the graph under the
// document's provenance node and returns the number of entries added.
//
// The document hub's color is forced back to blue on every call (self-healing
// for drift). A document node is created on first analysis; re-analysis only
// refreshes analysis_timestamp, all other fields stay frozen at their
// first-creation values. An entry with an invalid category falls back to
// Knowledge rather than dropping the batch.
func (g *Graph) IngestDocumentEntries(info DocumentInfo, entries []Entry, now time.Time) int {
	g.upsertNode(DocumentHubID, TypeDocumentMain, Attrs{"color": "blue"})

	docID := DocumentNodeID(info.ID)
	if _, ok := g.nodes[docID]; !ok {
		g.upsertNode(docID, TypeDocumentInstance, Attrs{
			"filename":           info.Filename,
			"document_id":        info.ID,
			"file_type":          info.FileType,
			"file_size":          info.FileSize,
			"upload_date":        info.UploadDate,
			"analysis_timestamp": now.Format(time.RFC3339),
			"color":              "blue",
		})
		g.ensureEdge(DocumentHubID, docID, "")
	} else {
		g.upsertNode(docID, TypeDocumentInstance, Attrs{
			"analysis_timestamp": now.Format(time.RFC3339),
		})
	}

	added := 0
	for _, entry := range entries {
		qaID, err := g.AddEntry(entry.Category, entry.Question, entry.Answer, nil)
		if errors.Is(err, ErrInvalidCategory) {
			slog.Warn("invalid extracted category, falling back to Knowledge",
				"category", entry.Category, "document_id", info.ID)
			qaID, err = g.AddEntry("Knowledge", entry.Question, entry.Answer, nil)
		}
		if err != nil {
			slog.Error("skipping extracted entry", "document_id", info.ID, "error", err)
			continue
		}
		g.AddRelationship(docID, qaID, "contains")
		added++
	}
	return added
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Edges returns a copy of all edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// EdgesFrom returns the edges whose source is the given node id, in
// insertion order.
func (g *Graph) EdgesFrom(id string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// EdgesInto returns the edges whose target is the given node id, in
// insertion order.
func (g *Graph) EdgesInto(id string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Target == id {
			out = append(out, e)
		}
	}
	return out
}

// NodeIDsOfType returns the ids of all nodes with the given type, in
// insertion order.
func (g *Graph) NodeIDsOfType(t NodeType) []string {
	var ids []string
	for _, id := range g.order {
		if g.nodes[id].Type == t {
			ids = append(ids, id)
		}
	}
	return ids
}

// View is the flattened node/link representation consumed by the
// visualization front-end.
type View struct {
	Nodes []map[string]any `json:"nodes"`
	Links []map[string]any `json:"links"`
}

// Export flattens the full graph in insertion order. Every node carries its
// id, type, and attributes; every edge appears exactly once.
func (g *Graph) Export() View {
	view := View{
		Nodes: make([]map[string]any, 0, len(g.order)),
		Links: make([]map[string]any, 0, len(g.edges)),
	}
	for _, id := range g.order {
		n := g.nodes[id]
		flat := map[string]any{"id": n.ID}
		if n.Type != "" {
			flat["type"] = string(n.Type)
		}
		for k, v := range n.Attrs {
			flat[k] = v
		}
		view.Nodes = append(view.Nodes, flat)
	}
	for _, e := range g.edges {
		link := map[string]any{"source": e.Source, "target": e.Target}
		if e.Relation != "" {
			link["relation"] = e.Relation
		}
		view.Links = append(view.Links, link)
	}
	return view
}
