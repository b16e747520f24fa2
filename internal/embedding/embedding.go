// Package embedding turns task text into vectors for the encoding stage.
package embedding

import "context"

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}
