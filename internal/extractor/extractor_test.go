package extractor

import (
	"errors"
	"testing"

	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/pkg/logger"
)

func TestExtractPlainText(t *testing.T) {
	e := New(logger.NewTestLogger())
	got, err := e.Extract("a.txt", []byte("tenancy law\nsection 8"), "text/plain; charset=utf-8")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "tenancy law\nsection 8" {
		t.Fatalf("text = %q", got)
	}
}

func TestExtractRejectsBlankText(t *testing.T) {
	e := New(logger.NewTestLogger())
	for _, input := range []string{"", "   \n\t  "} {
		_, err := e.Extract("blank.txt", []byte(input), "text/plain")
		var ee *models.ExtractionError
		if !errors.As(err, &ee) {
			t.Fatalf("input %q: err = %v, want ExtractionError", input, err)
		}
		if ee.FileName != "blank.txt" {
			t.Errorf("FileName = %q", ee.FileName)
		}
	}
}

func TestExtractRejectsInvalidUTF8(t *testing.T) {
	e := New(logger.NewTestLogger())
	_, err := e.Extract("bin.txt", []byte{0xff, 0xfe, 0xfd}, "text/plain")
	var ee *models.ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want ExtractionError", err)
	}
}

func TestExtractRejectsBrokenPDF(t *testing.T) {
	log := logger.NewTestLogger()
	e := New(log)
	_, err := e.Extract("broken.pdf", []byte("definitely not a pdf"), MIMEPDF)
	var ee *models.ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want ExtractionError", err)
	}
	if len(log.EntriesAt("ERROR", "Failed to extract text")) != 1 {
		t.Fatalf("extraction failure was not logged")
	}
}

func TestDetectContentType(t *testing.T) {
	cases := map[string]string{
		"brief.PDF": MIMEPDF,
		"notes.txt": "text/plain",
		"readme.md": "text/markdown",
	}
	for name, want := range cases {
		if got := DetectContentType(name, nil); got != want {
			t.Errorf("DetectContentType(%q) = %q, want %q", name, got, want)
		}
	}
	if got := DetectContentType("noext", []byte("%PDF-1.4\n")); got != MIMEPDF {
		t.Errorf("sniffed type = %q, want %q", got, MIMEPDF)
	}
}
