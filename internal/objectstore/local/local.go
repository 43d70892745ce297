package local

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/vbonduro/capturesync/internal/objectstore"
)

// LocalObjectStore keeps objects under basePath and serves them from baseURL.
type LocalObjectStore struct {
	basePath string
	baseURL  string
}

// NewLocalObjectStore creates basePath if needed. An empty baseURL yields
// file:// locators.
func NewLocalObjectStore(basePath, baseURL string) (*LocalObjectStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create object directory: %w", err)
	}
	if baseURL == "" {
		abs, err := filepath.Abs(basePath)
		if err != nil {
			return nil, fmt.Errorf("invalid base path: %w", err)
		}
		baseURL = (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	}
	return &LocalObjectStore{basePath: basePath, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Put writes r to key, replacing any previous object. The write goes to a
// temp file first so readers never see a partial object.
func (s *LocalObjectStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (objectstore.ObjectRef, error) {
	filePath, err := s.safeJoin(key)
	if err != nil {
		return objectstore.ObjectRef{}, err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return objectstore.ObjectRef{}, fmt.Errorf("failed to create object directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*")
	if err != nil {
		return objectstore.ObjectRef{}, fmt.Errorf("failed to create file: %w", err)
	}
	tmpPath := f.Name()

	n, err := io.Copy(f, r)
	if err != nil {
		if cerr := f.Close(); cerr != nil {
			slog.Error("failed to close file after write error", "error", cerr)
		}
		if rerr := os.Remove(tmpPath); rerr != nil {
			slog.Error("failed to remove file after write error", "error", rerr)
		}
		return objectstore.ObjectRef{}, fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		if rerr := os.Remove(tmpPath); rerr != nil {
			slog.Error("failed to remove file after close error", "error", rerr)
		}
		return objectstore.ObjectRef{}, fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		_ = os.Remove(tmpPath)
		return objectstore.ObjectRef{}, fmt.Errorf("failed to move file into place: %w", err)
	}

	return objectstore.ObjectRef{Key: key, ContentType: contentType, Size: n}, nil
}

func (s *LocalObjectStore) DownloadURL(ctx context.Context, ref objectstore.ObjectRef) (string, error) {
	filePath, err := s.safeJoin(ref.Key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("object not found: %s", ref.Key)
		}
		return "", fmt.Errorf("failed to stat object: %w", err)
	}

	segments := strings.Split(ref.Key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + strings.Join(segments, "/"), nil
}

// safeJoin resolves key relative to basePath and rejects directory traversal.
func (s *LocalObjectStore) safeJoin(key string) (string, error) {
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(s.basePath, filepath.FromSlash(key)))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt")
	}
	return absPath, nil
}
