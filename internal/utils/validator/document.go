package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/legal-rag/internal/extractor"
	"github.com/feichai0017/legal-rag/pkg/logger"
)

const maxFilenameLength = 250

// DocumentValidator checks uploaded files before they reach the document service.
type DocumentValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

type ValidatorConfig struct {
	MaxFileSize int64
	// AllowedTypes maps an extension to the sniffed MIME prefixes accepted for it
	AllowedTypes map[string][]string
}

func DefaultConfig(maxFileSize int64) *ValidatorConfig {
	return &ValidatorConfig{
		MaxFileSize: maxFileSize,
		AllowedTypes: map[string][]string{
			".pdf":  {"application/pdf"},
			".txt":  {"text/"},
			".md":   {"text/"},
			".csv":  {"text/"},
			".html": {"text/"},
			".htm":  {"text/"},
			".json": {"text/", "application/json"},
		},
	}
}

type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
	// Data holds the file bytes once read
	Data []byte `json:"-"`
}

type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Error joins the messages of all validation errors.
func (r *ValidationResult) Error() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

type FileInfo struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	Extension   string `json:"extension"`
	Hash        string `json:"hash"`
}

func NewDocumentValidator(log logger.Logger, config *ValidatorConfig) *DocumentValidator {
	if config == nil {
		config = DefaultConfig(25 * 1024 * 1024)
	}
	return &DocumentValidator{logger: log.Named("validator"), config: config}
}

// ValidateFile reads an uploaded file and checks its name, size and type.
func (v *DocumentValidator) ValidateFile(file *multipart.FileHeader) (*ValidationResult, error) {
	result := &ValidationResult{
		IsValid: true,
		Errors:  make([]ValidationError, 0),
		FileInfo: FileInfo{
			Filename:  file.Filename,
			Size:      file.Size,
			Extension: strings.ToLower(filepath.Ext(file.Filename)),
		},
	}

	if errs := v.performBasicValidation(result.FileInfo); len(errs) > 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, errs...)
		return result, nil
	}

	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, v.config.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if int64(len(data)) > v.config.MaxFileSize {
		result.IsValid = false
		result.Errors = append(result.Errors, tooLarge(v.config.MaxFileSize))
		return result, nil
	}
	result.Data = data
	result.FileInfo.Size = int64(len(data))
	result.FileInfo.Hash = calculateHash(data)
	result.FileInfo.ContentType = extractor.DetectContentType(file.Filename, head(data))

	if errs := v.validateContent(result.FileInfo, data); len(errs) > 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, errs...)
	}
	if !result.IsValid {
		v.logger.Warn("Rejected upload",
			logger.String("file", file.Filename),
			logger.String("reason", result.Error()),
		)
	}
	return result, nil
}

// ValidateFiles validates files concurrently; results keep the input order.
func (v *DocumentValidator) ValidateFiles(files []*multipart.FileHeader) ([]*ValidationResult, error) {
	results := make([]*ValidationResult, len(files))
	var g errgroup.Group
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			result, err := v.ValidateFile(file)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ValidateFilename rejects names that cannot be used as a document name.
func ValidateFilename(name string) *ValidationError {
	switch {
	case strings.TrimSpace(name) == "":
		return &ValidationError{Code: "INVALID_FILENAME", Message: "File name is required", Field: "filename"}
	case utf8.RuneCountInString(name) > maxFilenameLength:
		return &ValidationError{Code: "INVALID_FILENAME", Message: fmt.Sprintf("File name exceeds %d characters", maxFilenameLength), Field: "filename"}
	case strings.ContainsAny(name, `/\`) || name == "." || name == "..":
		return &ValidationError{Code: "INVALID_FILENAME", Message: "File name must not contain path separators", Field: "filename"}
	case strings.ContainsRune(name, 0):
		return &ValidationError{Code: "INVALID_FILENAME", Message: "File name contains invalid characters", Field: "filename"}
	}
	return nil
}

func tooLarge(limit int64) ValidationError {
	return ValidationError{
		Code:    "FILE_TOO_LARGE",
		Message: fmt.Sprintf("File size exceeds maximum limit of %d bytes", limit),
		Field:   "size",
	}
}

func (v *DocumentValidator) performBasicValidation(info FileInfo) []ValidationError {
	var errors []ValidationError
	if e := ValidateFilename(info.Filename); e != nil {
		errors = append(errors, *e)
	}
	if info.Size > v.config.MaxFileSize {
		errors = append(errors, tooLarge(v.config.MaxFileSize))
	}
	if _, ok := v.config.AllowedTypes[info.Extension]; !ok {
		errors = append(errors, ValidationError{
			Code:    "INVALID_FILE_TYPE",
			Message: fmt.Sprintf("File type %s is not allowed", info.Extension),
			Field:   "extension",
		})
	}
	return errors
}

func (v *DocumentValidator) validateContent(info FileInfo, data []byte) []ValidationError {
	if len(data) == 0 {
		return []ValidationError{{Code: "EMPTY_FILE", Message: "File is empty", Field: "size"}}
	}
	sniffed := http.DetectContentType(head(data))
	for _, prefix := range v.config.AllowedTypes[info.Extension] {
		if strings.HasPrefix(sniffed, prefix) {
			return nil
		}
	}
	return []ValidationError{{
		Code:    "INVALID_MIME_TYPE",
		Message: fmt.Sprintf("Invalid MIME type %s for extension %s", sniffed, info.Extension),
		Field:   "contentType",
	}}
}

func head(data []byte) []byte {
	if len(data) > 512 {
		return data[:512]
	}
	return data
}

func calculateHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
