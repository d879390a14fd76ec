package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/feichai0017/legal-rag/internal/models"
)

// ErrStatusChanged is returned when a conditional status update matched no row,
// meaning another request moved the document first.
var ErrStatusChanged = errors.New("document status changed concurrently")

// DocumentRepository serves both the per user and the knowledge base tables;
// the scope argument picks the table and tenant filter.
type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

type documentRow struct {
	DocumentName string
	ContentType  string
	Status       models.DocumentStatus
	CharCount    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (row documentRow) toDocument(scope models.Scope) models.Document {
	return models.Document{
		Scope:        scope,
		DocumentName: row.DocumentName,
		ContentType:  row.ContentType,
		Status:       row.Status,
		CharCount:    row.CharCount,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

func model(scope models.Scope) interface{} {
	if scope.IsKnowledgeBase() {
		return &models.KnowledgeBaseDocument{}
	}
	return &models.UserDocument{}
}

func (r *DocumentRepository) scoped(ctx context.Context, scope models.Scope) *gorm.DB {
	q := r.db.WithContext(ctx).Model(model(scope))
	if !scope.IsKnowledgeBase() {
		q = q.Where("user_id = ?", scope.UserID)
	}
	return q
}

// Get returns nil when the row does not exist.
func (r *DocumentRepository) Get(ctx context.Context, scope models.Scope, name string) (*models.Document, error) {
	var rows []documentRow
	if err := r.scoped(ctx, scope).Where("document_name = ?", name).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	doc := rows[0].toDocument(scope)
	return &doc, nil
}

// Create inserts a row; a name already taken in the scope is a DuplicateDocumentError.
func (r *DocumentRepository) Create(ctx context.Context, scope models.Scope, name, contentType string, status models.DocumentStatus) error {
	var row interface{}
	if scope.IsKnowledgeBase() {
		row = &models.KnowledgeBaseDocument{DocumentName: name, ContentType: contentType, Status: status}
	} else {
		row = &models.UserDocument{UserID: scope.UserID, DocumentName: name, ContentType: contentType, Status: status}
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &models.DuplicateDocumentError{Name: name}
		}
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

// UpdateStatus moves name from one status to another. The update only applies
// while the row is still in from.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, scope models.Scope, name string, from, to models.DocumentStatus) error {
	if _, err := from.Transition(to); err != nil {
		return err
	}
	res := r.scoped(ctx, scope).
		Where("document_name = ? AND status = ?", name, from).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("update document status failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s is no longer %s", ErrStatusChanged, name, from)
	}
	return nil
}

func (r *DocumentRepository) SetCharCount(ctx context.Context, scope models.Scope, name string, n int64) error {
	if err := r.scoped(ctx, scope).Where("document_name = ?", name).Update("char_count", n).Error; err != nil {
		return fmt.Errorf("update document char count failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Delete(ctx context.Context, scope models.Scope, name string) error {
	if err := r.scoped(ctx, scope).Where("document_name = ?", name).Delete(model(scope)).Error; err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}

// List returns every row of the scope, most recently updated first.
func (r *DocumentRepository) List(ctx context.Context, scope models.Scope) ([]models.Document, error) {
	return r.find(ctx, r.scoped(ctx, scope), scope)
}

func (r *DocumentRepository) ListByStatus(ctx context.Context, scope models.Scope, statuses ...models.DocumentStatus) ([]models.Document, error) {
	return r.find(ctx, r.scoped(ctx, scope).Where("status IN ?", statuses), scope)
}

func (r *DocumentRepository) find(_ context.Context, q *gorm.DB, scope models.Scope) ([]models.Document, error) {
	var rows []documentRow
	if err := q.Order("updated_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	docs := make([]models.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, row.toDocument(scope))
	}
	return docs, nil
}

// DeleteByStatus removes the given names if they are still in status.
func (r *DocumentRepository) DeleteByStatus(ctx context.Context, scope models.Scope, status models.DocumentStatus, names []string) (int64, error) {
	if len(names) == 0 {
		return 0, nil
	}
	res := r.scoped(ctx, scope).Where("status = ? AND document_name IN ?", status, names).Delete(model(scope))
	if res.Error != nil {
		return 0, fmt.Errorf("delete documents by status failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ExistingNames reports which of names have a row whose status is not excluded.
func (r *DocumentRepository) ExistingNames(ctx context.Context, scope models.Scope, names []string, exclude ...models.DocumentStatus) (map[string]bool, error) {
	found := make(map[string]bool, len(names))
	if len(names) == 0 {
		return found, nil
	}
	q := r.scoped(ctx, scope).Where("document_name IN ?", names)
	if len(exclude) > 0 {
		q = q.Where("status NOT IN ?", exclude)
	}
	var existing []string
	if err := q.Pluck("document_name", &existing).Error; err != nil {
		return nil, fmt.Errorf("query existing documents failed: %w", err)
	}
	for _, n := range existing {
		found[n] = true
	}
	return found, nil
}

// Count returns the number of rows in the scope that are not upload failures.
func (r *DocumentRepository) Count(ctx context.Context, scope models.Scope) (int64, error) {
	var n int64
	if err := r.scoped(ctx, scope).Where("status <> ?", models.StatusUploadFailed).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count documents failed: %w", err)
	}
	return n, nil
}

func (r *DocumentRepository) SumCharacters(ctx context.Context, scope models.Scope) (int64, error) {
	var total int64
	if err := r.scoped(ctx, scope).Select("COALESCE(SUM(char_count), 0)").Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("sum document characters failed: %w", err)
	}
	return total, nil
}

// ReferencedBlobKeys returns the blob key of every row in one table,
// the user table when knowledgeBase is false.
func (r *DocumentRepository) ReferencedBlobKeys(ctx context.Context, knowledgeBase bool) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	if knowledgeBase {
		var names []string
		if err := r.db.WithContext(ctx).Model(&models.KnowledgeBaseDocument{}).Pluck("document_name", &names).Error; err != nil {
			return nil, fmt.Errorf("list knowledge base names failed: %w", err)
		}
		for _, n := range names {
			keys[models.KnowledgeBase.BlobKey(n)] = struct{}{}
		}
		return keys, nil
	}

	var rows []struct {
		UserID       string
		DocumentName string
	}
	if err := r.db.WithContext(ctx).Model(&models.UserDocument{}).Select("user_id", "document_name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list user document names failed: %w", err)
	}
	for _, row := range rows {
		keys[models.UserScope(row.UserID).BlobKey(row.DocumentName)] = struct{}{}
	}
	return keys, nil
}
