package models

import (
	"fmt"
	"time"
)

// DocumentStatus is the lifecycle state of a stored document.
type DocumentStatus string

const (
	StatusQueued       DocumentStatus = "Queued For Google Drive Transfer"
	StatusUploaded     DocumentStatus = "Uploaded"
	StatusCompleted    DocumentStatus = "Completed"
	StatusUploadFailed DocumentStatus = "upload_failed"
	StatusToDelete     DocumentStatus = "to_delete"
	StatusDelFailed    DocumentStatus = "del_failed"
)

// transitions lists every legal status change. Row removal is not a status
// and is only allowed from StatusToDelete or StatusUploadFailed.
var transitions = map[DocumentStatus][]DocumentStatus{
	StatusQueued:       {StatusUploaded, StatusUploadFailed},
	StatusUploaded:     {StatusCompleted, StatusUploadFailed},
	StatusCompleted:    {StatusToDelete},
	StatusToDelete:     {StatusCompleted, StatusDelFailed},
	StatusDelFailed:    {StatusToDelete},
	StatusUploadFailed: {},
}

func (s DocumentStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether s may move to next.
func (s DocumentStatus) CanTransition(next DocumentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next or ErrIllegalTransition.
func (s DocumentStatus) Transition(next DocumentStatus) (DocumentStatus, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %q -> %q", ErrIllegalTransition, s, next)
	}
	return next, nil
}

// IsProcessing is true for the transient states a list call reports as in flight.
func (s DocumentStatus) IsProcessing() bool {
	switch s {
	case StatusQueued, StatusUploaded, StatusToDelete:
		return true
	}
	return false
}

// IsTerminalFailure is true for rows that no longer represent stored content.
func (s DocumentStatus) IsTerminalFailure() bool {
	return s == StatusUploadFailed || s == StatusDelFailed
}

const knowledgeBaseKey = "knowledge_base"

// Scope partitions documents: one user's email, or the global knowledge base.
type Scope struct {
	UserID string
}

// KnowledgeBase is the admin managed global scope.
var KnowledgeBase = Scope{}

func UserScope(email string) Scope { return Scope{UserID: email} }

func (s Scope) IsKnowledgeBase() bool { return s.UserID == "" }

// Key is the prefix shared by vector ids and blob keys.
func (s Scope) Key() string {
	if s.IsKnowledgeBase() {
		return knowledgeBaseKey
	}
	return s.UserID
}

// Namespace is the vector store namespace for the scope kind.
func (s Scope) Namespace() string {
	if s.IsKnowledgeBase() {
		return knowledgeBaseKey
	}
	return "consumer"
}

// BlobKey is where the original bytes of name are stored.
func (s Scope) BlobKey(name string) string {
	return s.Key() + "/" + name
}

// DocumentKey is the vector store file_name metadata value for name.
func (s Scope) DocumentKey(name string) string {
	return s.Key() + ":" + name
}

// ChunkPrefix is the id prefix of every vector record of name.
func (s Scope) ChunkPrefix(name string) string {
	return s.DocumentKey(name) + ":chunk"
}

func (s Scope) String() string { return s.Key() }

// Document is the scope independent view of a metadata row.
type Document struct {
	Scope        Scope          `json:"-"`
	DocumentName string         `json:"document_name"`
	ContentType  string         `json:"content_type"`
	Status       DocumentStatus `json:"status"`
	CharCount    int64          `json:"char_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// UserDocument is a consumer uploaded document row.
type UserDocument struct {
	ID           uint           `gorm:"primaryKey"`
	UserID       string         `gorm:"column:user_id;size:255;not null;uniqueIndex:idx_user_documents_user_name,priority:1"`
	DocumentName string         `gorm:"column:document_name;size:250;not null;uniqueIndex:idx_user_documents_user_name,priority:2"`
	ContentType  string         `gorm:"column:content_type;size:250;index"`
	Status       DocumentStatus `gorm:"column:status;size:100;index"`
	CharCount    int64          `gorm:"column:char_count;not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (UserDocument) TableName() string { return "user_documents" }

// KnowledgeBaseDocument is an admin uploaded document row.
type KnowledgeBaseDocument struct {
	ID           uint           `gorm:"primaryKey"`
	DocumentName string         `gorm:"column:document_name;size:250;not null;uniqueIndex"`
	ContentType  string         `gorm:"column:content_type;size:250;index"`
	Status       DocumentStatus `gorm:"column:status;size:100;index"`
	CharCount    int64          `gorm:"column:char_count;not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (KnowledgeBaseDocument) TableName() string { return "knowledgebase_documents" }

// FileInfo is the per file outcome reported by batch operations.
type FileInfo struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Status      string `json:"status,omitempty"`
	Error       string `json:"error,omitempty"`
	// TaskID is set for work handed to the background worker
	TaskID string `json:"task_id,omitempty"`
}

type UploadResult struct {
	UploadedFiles []FileInfo `json:"uploaded_files"`
	FailedFiles   []FileInfo `json:"failed_files"`
}

type DeleteResult struct {
	DeletedFiles []FileInfo `json:"deleted_files"`
	FailedFiles  []FileInfo `json:"failed_files"`
}

type DriveImportResult struct {
	QueuedFiles []FileInfo `json:"queued_files"`
	FailedFiles []FileInfo `json:"failed_files"`
}

type DocumentList struct {
	Files           []FileInfo `json:"files"`
	ProcessingFiles []FileInfo `json:"processing_files"`
	FailedFiles     []FileInfo `json:"failed_files"`
}

type FileExistence struct {
	Filename string `json:"filename"`
	Exists   bool   `json:"exists"`
}

// FileUpload is one incoming file of a batch.
type FileUpload struct {
	Name        string
	ContentType string
	Data        []byte
}
