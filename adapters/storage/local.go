package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain/repositories"
)

// LocalStore writes artifacts below a directory that the server exposes
// under URLPrefix.
type LocalStore struct {
	dir       string
	urlPrefix string
	logger    *zap.Logger
}

var _ repositories.ArtifactStore = (*LocalStore)(nil)

// NewLocalStore creates the directory if needed
func NewLocalStore(dir, urlPrefix string, logger *zap.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &LocalStore{dir: dir, urlPrefix: strings.TrimSuffix(urlPrefix, "/"), logger: logger}, nil
}

// Dir returns the artifact directory
func (s *LocalStore) Dir() string {
	return s.dir
}

// Put writes r to name and returns its URL path
func (s *LocalStore) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	clean := path.Clean("/" + name)[1:]
	if clean == "" || clean != name {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	target := filepath.Join(s.dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create artifact file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, readerWithContext{ctx: ctx, r: r})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("failed to store artifact %s: %w", name, err)
	}

	s.logger.Info("Artifact stored",
		zap.String("name", clean),
		zap.String("contentType", contentType),
		zap.Int64("bytes", n))
	return s.urlPrefix + "/" + clean, nil
}

// readerWithContext stops a copy once ctx is done
type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
