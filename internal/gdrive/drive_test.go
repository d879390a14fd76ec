package gdrive

import (
	"errors"
	"testing"

	"github.com/feichai0017/legal-rag/internal/models"
)

func TestParseLink(t *testing.T) {
	cases := []struct {
		link string
		id   string
		kind LinkKind
	}{
		{"https://drive.google.com/file/d/1AbC-d_9/view?usp=sharing", "1AbC-d_9", LinkFile},
		{"https://drive.google.com/drive/folders/Fold3r", "Fold3r", LinkFolder},
		{"https://drive.google.com/drive/u/1/folders/F_2", "F_2", LinkFolder},
		{"https://drive.google.com/corp/drive/folders/F3", "F3", LinkFolder},
	}
	for _, c := range cases {
		id, kind, err := ParseLink(c.link)
		if err != nil {
			t.Fatalf("%s: %v", c.link, err)
		}
		if id != c.id || kind != c.kind {
			t.Errorf("%s: want=(%s,%s) got=(%s,%s)", c.link, c.id, c.kind, id, kind)
		}
	}

	_, _, err := ParseLink("https://example.com/file/d/x")
	var invalid *models.InvalidInputError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v", err)
	}
}

func TestSupportedTypes(t *testing.T) {
	for mime, want := range map[string]bool{
		"text/plain":      true,
		"text/markdown":   true,
		"application/pdf": true,
		MimeGoogleDoc:     true,
		"image/png":       false,
		MimeGoogleFolder:  false,
	} {
		if got := Supported(mime); got != want {
			t.Errorf("%s want=%v got=%v", mime, want, got)
		}
	}
	if (File{MimeType: MimeGoogleDoc}).ContentType() != "application/pdf" {
		t.Fatal("google docs should download as pdf")
	}
}
