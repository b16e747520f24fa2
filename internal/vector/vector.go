// Package vector writes task embeddings to the semantic context store
// consulted by the planner prompt.
package vector

import "context"

// Document is one embedded task ready for upsert.
type Document struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata map[string]string
}

// Writer upserts documents into a vector collection. Writes are
// best-effort from the pipeline's point of view.
type Writer interface {
	Upsert(ctx context.Context, docs []Document) error
}
