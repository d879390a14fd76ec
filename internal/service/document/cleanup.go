package document

import (
	"context"
	"time"

	"github.com/feichai0017/legal-rag/pkg/logger"
	"github.com/feichai0017/legal-rag/pkg/storage"
)

// CleanupStaleBlobs removes blobs older than olderThan that no metadata row
// references, in both the user and knowledge base stores.
func (s *Service) CleanupStaleBlobs(ctx context.Context, olderThan time.Duration) (int, error) {
	keep := make(map[string]struct{})
	for _, kb := range []bool{false, true} {
		keys, err := s.repo.ReferencedBlobKeys(ctx, kb)
		if err != nil {
			return 0, err
		}
		for k := range keys {
			keep[k] = struct{}{}
		}
	}
	referenced := func(key string) bool {
		_, ok := keep[key]
		return ok
	}

	threshold := time.Now().Add(-olderThan)
	backends := []storage.Storage{s.users.Blobs}
	if s.kb.Blobs != s.users.Blobs {
		backends = append(backends, s.kb.Blobs)
	}

	total := 0
	for _, b := range backends {
		n, err := b.CleanupBefore(ctx, threshold, referenced)
		total += n
		if err != nil {
			return total, err
		}
	}
	s.logger.Info("Stale blob cleanup finished",
		logger.Int("removed", total),
		logger.Duration("olderThan", olderThan),
	)
	return total, nil
}
