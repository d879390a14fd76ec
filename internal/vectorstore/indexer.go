package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/feichai0017/legal-rag/internal/llm"
	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/pkg/logger"
	"github.com/feichai0017/legal-rag/pkg/retry"
)

const (
	embedBatchSize  = 20
	upsertBatchSize = 100
)

type IndexerConfig struct {
	EmbedMaxWait  time.Duration
	UpsertMaxWait time.Duration
}

// Indexer chunks, embeds and stores documents, and serves retrieval queries.
type Indexer struct {
	store    Store
	embedder llm.Embedder
	splitter *Splitter
	logger   logger.Logger

	embedPolicy  retry.Policy
	upsertPolicy retry.Policy
}

func NewIndexer(store Store, embedder llm.Embedder, cfg IndexerConfig, log logger.Logger) *Indexer {
	if cfg.EmbedMaxWait <= 0 {
		cfg.EmbedMaxWait = 90 * time.Second
	}
	if cfg.UpsertMaxWait <= 0 {
		cfg.UpsertMaxWait = 10 * time.Second
	}
	return &Indexer{
		store:        store,
		embedder:     embedder,
		splitter:     NewSplitter(),
		logger:       log.Named("indexer"),
		embedPolicy:  retry.DefaultPolicy(cfg.EmbedMaxWait),
		upsertPolicy: retry.DefaultPolicy(cfg.UpsertMaxWait),
	}
}

// WithPolicies overrides the backoff policies, mainly for tests.
func (ix *Indexer) WithPolicies(embed, upsert retry.Policy) *Indexer {
	ix.embedPolicy = embed
	ix.upsertPolicy = upsert
	return ix
}

// IndexDocument stores text under ids "{scope}:{name}:chunk{n}" and returns
// the number of chunks written.
func (ix *Indexer) IndexDocument(ctx context.Context, scope models.Scope, name, text string) (int, error) {
	chunks := ix.splitter.Split(text)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no chunks produced for %s", name)
	}

	records := make([]Record, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		var vectors [][]float32
		err := retry.Do(ctx, ix.embedPolicy, models.IsRateLimit, func(attempt int) error {
			if attempt > 0 {
				ix.logger.Warn("Retrying embedding after rate limit",
					logger.String("document", name),
					logger.Int("attempt", attempt),
				)
			}
			var err error
			vectors, err = ix.embedder.Embed(ctx, batch)
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunks: %w", err)
		}
		if len(vectors) != len(batch) {
			return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		for i, vec := range vectors {
			n := start + i + 1
			records = append(records, Record{
				ID:     fmt.Sprintf("%s%d", scope.ChunkPrefix(name), n),
				Values: vec,
				Metadata: map[string]interface{}{
					MetaFileName: scope.DocumentKey(name),
					MetaChunkNum: n,
					MetaText:     batch[i],
				},
			})
		}
	}

	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		err := retry.Do(ctx, ix.upsertPolicy, models.IsRateLimit, func(int) error {
			return ix.store.Upsert(ctx, scope.Namespace(), records[start:end])
		})
		if err != nil {
			return 0, fmt.Errorf("failed to upsert chunks: %w", err)
		}
	}

	ix.logger.Info("Document indexed",
		logger.String("scope", scope.Key()),
		logger.String("document", name),
		logger.Int("chunks", len(records)),
	)
	return len(records), nil
}

// DeleteDocument removes every chunk of name. Missing chunks are not an error.
func (ix *Indexer) DeleteDocument(ctx context.Context, scope models.Scope, name string) error {
	prefix := scope.ChunkPrefix(name)
	ids, err := ix.store.ListIDs(ctx, scope.Namespace(), prefix)
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}
	ids = ownChunkIDs(ids, prefix)
	if len(ids) == 0 {
		return nil
	}
	if err := ix.store.DeleteIDs(ctx, scope.Namespace(), ids); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Search embeds query and returns the topK closest chunks. When names is
// non-empty only chunks of those documents are considered.
func (ix *Indexer) Search(ctx context.Context, scope models.Scope, query string, topK int, names []string) ([]Match, error) {
	var vectors [][]float32
	err := retry.Do(ctx, ix.embedPolicy, models.IsRateLimit, func(int) error {
		var err error
		vectors, err = ix.embedder.Embed(ctx, []string{query})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	var filter Filter
	for _, n := range names {
		filter.FileNames = append(filter.FileNames, scope.DocumentKey(n))
	}
	return ix.store.Query(ctx, scope.Namespace(), vectors[0], topK, filter)
}

// ownChunkIDs keeps ids that are exactly prefix followed by a chunk number,
// so "a.txt" never matches chunks of "a.txt:chunk1.txt".
func ownChunkIDs(ids []string, prefix string) []string {
	out := ids[:0]
	for _, id := range ids {
		suffix := strings.TrimPrefix(id, prefix)
		if suffix == id || suffix == "" {
			continue
		}
		if strings.Trim(suffix, "0123456789") == "" {
			out = append(out, id)
		}
	}
	return out
}
