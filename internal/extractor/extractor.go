// Package extractor turns uploaded file bytes into plain text.
package extractor

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/pkg/logger"
)

const MIMEPDF = "application/pdf"

var extToMIME = map[string]string{
	".pdf":  MIMEPDF,
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".json": "application/json",
	".html": "text/html",
	".htm":  "text/html",
}

var (
	errEmptyText   = errors.New("no text found in file")
	errInvalidUTF8 = errors.New("file is not valid utf-8 text")
)

type Extractor struct {
	logger     logger.Logger
	pdfWorkers int
}

func New(log logger.Logger) *Extractor {
	return &Extractor{logger: log.Named("extractor"), pdfWorkers: 4}
}

// Extract returns the text content of data. PDF pages are joined with a
// newline in page order; everything else must be UTF-8.
func (e *Extractor) Extract(fileName string, data []byte, mimeType string) (string, error) {
	text, err := e.extract(data, mimeType)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyText
	}
	if err != nil {
		e.logger.Error("Failed to extract text",
			logger.String("file", fileName),
			logger.String("content_type", mimeType),
			logger.Error(err),
		)
		return "", &models.ExtractionError{FileName: fileName, ContentType: mimeType, Err: err}
	}
	return text, nil
}

func (e *Extractor) extract(data []byte, mimeType string) (string, error) {
	if baseMIME(mimeType) == MIMEPDF {
		pages, err := pdfPages(context.Background(), data, e.pdfWorkers)
		if err != nil {
			return "", err
		}
		return strings.Join(pages, "\n"), nil
	}
	if !utf8.Valid(data) {
		return "", errInvalidUTF8
	}
	return string(data), nil
}

// DetectContentType maps the file extension to a MIME type and falls back
// to sniffing the first bytes.
func DetectContentType(fileName string, head []byte) string {
	if mt, ok := extToMIME[strings.ToLower(filepath.Ext(fileName))]; ok {
		return mt
	}
	return baseMIME(http.DetectContentType(head))
}

func baseMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
