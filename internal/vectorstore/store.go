// Package vectorstore holds document chunk embeddings and answers similarity queries.
package vectorstore

import (
	"context"
)

// Record is one embedded chunk.
type Record struct {
	ID       string                 `json:"id"`
	Values   []float32              `json:"values"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Match is one query hit.
type Match struct {
	ID       string                 `json:"id"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Text returns the chunk text stored with the match.
func (m Match) Text() string {
	s, _ := m.Metadata[MetaText].(string)
	return s
}

const (
	MetaFileName = "file_name"
	MetaChunkNum = "chunk_num"
	MetaText     = "text"
)

// Filter narrows a query. An empty filter matches everything in the namespace.
type Filter struct {
	FileNames []string
}

func (f Filter) Empty() bool { return len(f.FileNames) == 0 }

// Store is the backing similarity index.
type Store interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error)
	ListIDs(ctx context.Context, namespace, prefix string) ([]string, error)
	DeleteIDs(ctx context.Context, namespace string, ids []string) error
}
