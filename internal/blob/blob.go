package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store keeps payment-proof files outside the ledger; milestones hold
// only the returned reference.
type Store interface {
	SaveProof(ctx context.Context, r io.Reader, ext string) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	PublicURL(ref string) string
}

// FS is a filesystem-backed store rooted in the workspace.
type FS struct {
	Dir     string
	BaseURL string
}

func NewFS(dir, baseURL string) (*FS, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FS{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *FS) SaveProof(ctx context.Context, r io.Reader, ext string) (string, error) {
	ext = strings.TrimPrefix(ext, ".")
	ref := uuid.New().String()
	if ext != "" {
		ref += "." + ext
	}
	if err := validRef(ref); err != nil {
		return "", err
	}
	f, err := os.Create(filepath.Join(s.Dir, ref))
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return ref, nil
}

func (s *FS) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := validRef(ref); err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.Dir, ref))
}

func (s *FS) PublicURL(ref string) string {
	if s.BaseURL == "" {
		return ref
	}
	return s.BaseURL + "/" + ref
}

// validRef rejects path traversal in references.
func validRef(ref string) error {
	if ref == "" || strings.ContainsAny(ref, "/\\") || strings.Contains(ref, "..") {
		return fmt.Errorf("invalid blob reference %q", ref)
	}
	return nil
}
