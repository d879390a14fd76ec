package document

import (
	"context"
	"fmt"
	"io"

	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/pkg/logger"
)

// ListDocuments partitions the scope's rows by status. Upload failures are
// reported once and then purged; del_failed rows stay until deleted again.
func (s *Service) ListDocuments(ctx context.Context, scope models.Scope) (*models.DocumentList, error) {
	docs, err := s.repo.List(ctx, scope)
	if err != nil {
		return nil, err
	}

	list := &models.DocumentList{
		Files:           []models.FileInfo{},
		ProcessingFiles: []models.FileInfo{},
		FailedFiles:     []models.FileInfo{},
	}
	var purge []string
	for _, d := range docs {
		info := models.FileInfo{
			Filename:    d.DocumentName,
			ContentType: d.ContentType,
			Status:      string(d.Status),
		}
		switch {
		case d.Status == models.StatusCompleted:
			list.Files = append(list.Files, info)
		case d.Status.IsProcessing():
			list.ProcessingFiles = append(list.ProcessingFiles, info)
		default:
			list.FailedFiles = append(list.FailedFiles, info)
			if d.Status == models.StatusUploadFailed {
				purge = append(purge, d.DocumentName)
			}
		}
	}

	if len(purge) > 0 {
		// only rows still failed are removed, a concurrent retry keeps its row
		if _, err := s.repo.DeleteByStatus(ctx, scope, models.StatusUploadFailed, purge); err != nil {
			s.logger.Warn("Failed to purge failed uploads",
				logger.String("scope", scope.Key()),
				logger.Error(err),
			)
		}
	}
	return list, nil
}

// ValidateFilenames reports, in input order, whether each name is already
// taken in scope. Failed rows do not count.
func (s *Service) ValidateFilenames(ctx context.Context, scope models.Scope, names []string) ([]models.FileExistence, error) {
	existing, err := s.repo.ExistingNames(ctx, scope, names, models.StatusDelFailed, models.StatusUploadFailed)
	if err != nil {
		return nil, err
	}
	out := make([]models.FileExistence, 0, len(names))
	for _, n := range names {
		out = append(out, models.FileExistence{Filename: n, Exists: existing[n]})
	}
	return out, nil
}

func blobNotFound(name string) error {
	return &models.NotFoundError{Resource: "document", Name: name, Message: "File not found"}
}

func (s *Service) storedKey(ctx context.Context, scope models.Scope, name string) (string, error) {
	doc, err := s.repo.Get(ctx, scope, name)
	if err != nil {
		return "", err
	}
	if doc == nil || doc.Status != models.StatusCompleted {
		return "", blobNotFound(name)
	}
	key := scope.BlobKey(name)
	ok, err := s.stores(scope).Blobs.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", blobNotFound(name)
	}
	return key, nil
}

// GetDownloadLink returns a time limited link to a Completed document.
func (s *Service) GetDownloadLink(ctx context.Context, scope models.Scope, name string) (string, error) {
	key, err := s.storedKey(ctx, scope, name)
	if err != nil {
		return "", err
	}
	link, err := s.stores(scope).Blobs.DownloadLink(ctx, key, s.config.LinkExpiry)
	if err != nil {
		if models.IsNotFound(err) {
			return "", blobNotFound(name)
		}
		return "", fmt.Errorf("failed to create download link: %w", err)
	}
	return link, nil
}

// Download returns the stored bytes of a Completed document.
func (s *Service) Download(ctx context.Context, scope models.Scope, name string) ([]byte, error) {
	key, err := s.storedKey(ctx, scope, name)
	if err != nil {
		return nil, err
	}
	rc, err := s.stores(scope).Blobs.Get(ctx, key)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, blobNotFound(name)
		}
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}
