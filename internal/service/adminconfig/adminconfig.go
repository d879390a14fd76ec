package adminconfig

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/feichai0017/legal-rag/internal/llm"
	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/pkg/logger"
)

// ErrEmptyPatch is returned by Update when the patch sets no field.
var ErrEmptyPatch = errors.New("no configuration fields provided")

type Repository interface {
	Get(ctx context.Context) (*models.AdminConfig, error)
	Save(ctx context.Context, cfg *models.AdminConfig) error
}

// Snapshot is an immutable view of the admin config taken at LoadedAt.
type Snapshot struct {
	models.AdminConfig
	Version  int64
	LoadedAt time.Time
}

// ModelConfig is what a chat request needs from the snapshot.
func (s *Snapshot) ModelConfig() llm.ModelConfig {
	return llm.ModelConfig{
		ModelName:   s.LLMModelName,
		Temperature: s.LLMTemperature,
		Streaming:   s.LLMStreaming,
	}
}

type Service struct {
	repo    Repository
	logger  logger.Logger
	current atomic.Pointer[Snapshot]

	// serializes writers
	mu sync.Mutex
}

// New returns a service serving defaults until the first Reload.
func New(repo Repository, log logger.Logger) *Service {
	s := &Service{repo: repo, logger: log.Named("adminconfig")}
	s.current.Store(&Snapshot{AdminConfig: models.DefaultAdminConfig(), LoadedAt: time.Now()})
	return s
}

func (s *Service) Snapshot() *Snapshot {
	return s.current.Load()
}

// Reload re-reads the stored row, seeding defaults when the table is empty.
// On failure the previous snapshot stays in place.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked(ctx)
}

func (s *Service) reloadLocked(ctx context.Context) error {
	cfg, err := s.repo.Get(ctx)
	if err != nil {
		s.logger.Error("Failed to load admin config, keeping previous snapshot", logger.Error(err))
		return err
	}
	if cfg == nil {
		seed := models.DefaultAdminConfig()
		if err := s.repo.Save(ctx, &seed); err != nil {
			return fmt.Errorf("failed to seed admin config: %w", err)
		}
		s.logger.Info("Seeded default admin config")
		cfg = &seed
	}
	prev := s.current.Load()
	s.current.Store(&Snapshot{AdminConfig: *cfg, Version: prev.Version + 1, LoadedAt: time.Now()})
	return nil
}

// Update applies patch to the stored row and reloads.
func (s *Service) Update(ctx context.Context, patch models.AdminConfigPatch) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		seed := models.DefaultAdminConfig()
		cfg = &seed
	}
	if patch.Apply(cfg) == 0 {
		return nil, ErrEmptyPatch
	}
	if err := s.repo.Save(ctx, cfg); err != nil {
		return nil, err
	}
	if err := s.reloadLocked(ctx); err != nil {
		return nil, err
	}
	snap := s.current.Load()
	s.logger.Info("Admin config updated", logger.Int64("version", snap.Version))
	return snap, nil
}
