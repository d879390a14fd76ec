package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/pkg/logger"
)

const (
	pineconeUpsertBatch = 100
	pineconeDeleteBatch = 1000
)

type PineconeConfig struct {
	APIKey     string
	IndexHost  string
	APIVersion string
	Timeout    time.Duration
}

// PineconeStore talks to the Pinecone data plane over REST.
type PineconeStore struct {
	cfg    PineconeConfig
	http   *http.Client
	logger logger.Logger
}

func NewPineconeStore(cfg PineconeConfig, log logger.Logger) (*PineconeStore, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing Pinecone API key")
	}
	if strings.TrimSpace(cfg.IndexHost) == "" {
		return nil, fmt.Errorf("missing Pinecone index host")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-07"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &PineconeStore{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: log.Named("pinecone"),
	}, nil
}

func (s *PineconeStore) baseURL() string {
	host := strings.TrimRight(s.cfg.IndexHost, "/")
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return host
}

func (s *PineconeStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	for start := 0; start < len(records); start += pineconeUpsertBatch {
		end := start + pineconeUpsertBatch
		if end > len(records) {
			end = len(records)
		}
		body := map[string]interface{}{
			"vectors":   records[start:end],
			"namespace": namespace,
		}
		if err := s.doJSON(ctx, http.MethodPost, "/vectors/upsert", body, nil); err != nil {
			return fmt.Errorf("failed to upsert vectors %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (s *PineconeStore) Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error) {
	if topK <= 0 {
		topK = 10
	}
	body := map[string]interface{}{
		"namespace":       namespace,
		"vector":          vector,
		"topK":            topK,
		"includeMetadata": true,
	}
	if !filter.Empty() {
		body["filter"] = map[string]interface{}{
			MetaFileName: map[string]interface{}{"$in": filter.FileNames},
		}
	}
	var out struct {
		Matches []Match `json:"matches"`
	}
	if err := s.doJSON(ctx, http.MethodPost, "/query", body, &out); err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	return out.Matches, nil
}

func (s *PineconeStore) ListIDs(ctx context.Context, namespace, prefix string) ([]string, error) {
	var ids []string
	token := ""
	for {
		q := url.Values{}
		q.Set("namespace", namespace)
		q.Set("prefix", prefix)
		if token != "" {
			q.Set("paginationToken", token)
		}
		var out struct {
			Vectors []struct {
				ID string `json:"id"`
			} `json:"vectors"`
			Pagination *struct {
				Next string `json:"next"`
			} `json:"pagination"`
		}
		if err := s.doJSON(ctx, http.MethodGet, "/vectors/list?"+q.Encode(), nil, &out); err != nil {
			return nil, fmt.Errorf("failed to list vectors: %w", err)
		}
		for _, v := range out.Vectors {
			ids = append(ids, v.ID)
		}
		if out.Pagination == nil || out.Pagination.Next == "" {
			return ids, nil
		}
		token = out.Pagination.Next
	}
}

func (s *PineconeStore) DeleteIDs(ctx context.Context, namespace string, ids []string) error {
	for start := 0; start < len(ids); start += pineconeDeleteBatch {
		end := start + pineconeDeleteBatch
		if end > len(ids) {
			end = len(ids)
		}
		body := map[string]interface{}{
			"ids":       ids[start:end],
			"namespace": namespace,
		}
		if err := s.doJSON(ctx, http.MethodPost, "/vectors/delete", body, nil); err != nil {
			return fmt.Errorf("failed to delete vectors %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (s *PineconeStore) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL()+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Api-Key", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pinecone-API-Version", s.cfg.APIVersion)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &models.RateLimitError{
			StatusCode: resp.StatusCode,
			RetryAfter: time.Duration(retryAfter) * time.Second,
			Body:       string(raw),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Error("Pinecone request failed",
			logger.String("path", path),
			logger.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("pinecone http %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("pinecone decode error: %w", err)
	}
	return nil
}
