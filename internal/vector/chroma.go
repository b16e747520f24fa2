package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ChromaClient writes documents to a Chroma collection over its REST API.
type ChromaClient struct {
	baseURL    string
	collection string
	client     *http.Client
}

// NewChromaClient creates a writer for one collection.
func NewChromaClient(baseURL, collection string) *ChromaClient {
	return &ChromaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

var _ Writer = (*ChromaClient)(nil)

type upsertRequest struct {
	IDs        []string            `json:"ids"`
	Embeddings [][]float32         `json:"embeddings"`
	Documents  []string            `json:"documents"`
	Metadatas  []map[string]string `json:"metadatas"`
}

// Upsert writes the documents into the collection, replacing any prior
// entries with the same ids.
func (c *ChromaClient) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	req := upsertRequest{
		IDs:        make([]string, len(docs)),
		Embeddings: make([][]float32, len(docs)),
		Documents:  make([]string, len(docs)),
		Metadatas:  make([]map[string]string, len(docs)),
	}
	for i, d := range docs {
		req.IDs[i] = d.ID
		req.Embeddings[i] = d.Vector
		req.Documents[i] = d.Text
		req.Metadatas[i] = d.Metadata
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling upsert: %w", err)
	}

	path := fmt.Sprintf("%s/api/v1/collections/%s/upsert",
		c.baseURL, url.PathEscape(c.collection))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("upserting vectors: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vector store error (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}
