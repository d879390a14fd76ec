package gdrive

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/pkg/logger"
)

const (
	MimeGoogleDoc    = "application/vnd.google-apps.document"
	MimeGoogleFolder = "application/vnd.google-apps.folder"
	mimePDF          = "application/pdf"
)

type LinkKind string

const (
	LinkFile   LinkKind = "file"
	LinkFolder LinkKind = "folder"
)

var linkPatterns = []struct {
	re   *regexp.Regexp
	kind LinkKind
}{
	{regexp.MustCompile(`https?://drive\.google\.com/file/d/([a-zA-Z0-9_-]+)/?`), LinkFile},
	{regexp.MustCompile(`https?://drive\.google\.com/drive/folders/([a-zA-Z0-9_-]+)`), LinkFolder},
	{regexp.MustCompile(`https?://drive\.google\.com/drive/u/\d/folders/([a-zA-Z0-9_-]+)`), LinkFolder},
	{regexp.MustCompile(`https?://drive\.google\.com/.+/folders/([a-zA-Z0-9_-]+)`), LinkFolder},
}

// File is a Drive entry that can be imported.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
}

// ParseLink extracts the id and kind from a Drive share link.
func ParseLink(link string) (string, LinkKind, error) {
	for _, p := range linkPatterns {
		if m := p.re.FindStringSubmatch(link); m != nil {
			return m[1], p.kind, nil
		}
	}
	return "", "", &models.InvalidInputError{Message: "Invalid Google Drive link"}
}

// Supported reports whether files of mimeType can be imported.
func Supported(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/") || mimeType == mimePDF || mimeType == MimeGoogleDoc
}

// ContentType is the type of the bytes Download returns for f.
func (f File) ContentType() string {
	if f.MimeType == MimeGoogleDoc {
		return mimePDF
	}
	return f.MimeType
}

type Client struct {
	svc    *drive.Service
	logger logger.Logger
}

func New(ctx context.Context, credentialsFile string, log logger.Logger) (*Client, error) {
	svc, err := drive.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(drive.DriveReadonlyScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &Client{svc: svc, logger: log.Named("gdrive")}, nil
}

// ResolveFiles lists every file a link points at, walking folders recursively.
// Unsupported types are returned too so callers can report them.
func (c *Client) ResolveFiles(ctx context.Context, link string) ([]File, error) {
	id, kind, err := ParseLink(link)
	if err != nil {
		return nil, err
	}
	root, err := c.svc.Files.Get(id).Fields("id, name, mimeType").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return nil, &models.NotFoundError{Resource: "drive file", Name: id, Message: "Unable to access Google Drive link"}
	}
	if kind == LinkFile || root.MimeType != MimeGoogleFolder {
		return []File{{ID: root.Id, Name: root.Name, MimeType: root.MimeType}}, nil
	}
	var files []File
	if err := c.walk(ctx, root.Id, &files); err != nil {
		return nil, err
	}
	c.logger.Info("Resolved drive folder",
		logger.String("folder", root.Id),
		logger.Int("files", len(files)),
	)
	return files, nil
}

func (c *Client) walk(ctx context.Context, folderID string, out *[]File) error {
	query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)
	var subfolders []string
	err := c.svc.Files.List().
		Q(query).
		Fields("nextPageToken, files(id, name, mimeType)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				if f.MimeType == MimeGoogleFolder {
					subfolders = append(subfolders, f.Id)
					continue
				}
				*out = append(*out, File{ID: f.Id, Name: f.Name, MimeType: f.MimeType})
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to list folder %s: %w", folderID, err)
	}
	for _, sub := range subfolders {
		if err := c.walk(ctx, sub, out); err != nil {
			return err
		}
	}
	return nil
}

// Download returns the bytes of f. Google Docs are exported as PDF.
func (c *Client) Download(ctx context.Context, f File) ([]byte, error) {
	var (
		body io.ReadCloser
	)
	if f.MimeType == MimeGoogleDoc {
		resp, err := c.svc.Files.Export(f.ID, mimePDF).Context(ctx).Download()
		if err != nil {
			return nil, fmt.Errorf("failed to export %s: %w", f.Name, err)
		}
		body = resp.Body
	} else {
		resp, err := c.svc.Files.Get(f.ID).SupportsAllDrives(true).Context(ctx).Download()
		if err != nil {
			return nil, fmt.Errorf("failed to download %s: %w", f.Name, err)
		}
		body = resp.Body
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	return data, nil
}
