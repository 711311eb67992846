package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// snapshot is the on-disk representation of the whole graph.
type snapshot struct {
	Nodes []*Node `json:"nodes"`
	Edges []Edge  `json:"edges"`
}

// Save serializes the full graph to path. The snapshot is written to a
// temporary file in the same directory and renamed into place so a crash
// mid-write never corrupts the durable store.
func (g *Graph) Save(path string) error {
	snap := snapshot{
		Nodes: make([]*Node, 0, len(g.order)),
		Edges: g.edges,
	}
	for _, id := range g.order {
		snap.Nodes = append(snap.Nodes, g.nodes[id])
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding graph snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot from path, replacing the graph's contents. A missing
// or corrupt file propagates an error; callers fall back to New().
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading graph snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding graph snapshot: %w", err)
	}

	g := newEmpty()
	for _, n := range snap.Nodes {
		if n == nil || n.ID == "" {
			return nil, fmt.Errorf("decoding graph snapshot: node without id")
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	g.edges = snap.Edges
	g.rebuildEdgeIndex()
	return g, nil
}
