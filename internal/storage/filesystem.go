package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStore implements Store on a local directory. It backs
// development deployments and the pipeline's storage tests.
type FilesystemStore struct {
	baseDir string
	baseURL string
}

// objectMeta is the sidecar record holding what S3 keeps as object headers
type objectMeta struct {
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Ensure interface compliance
var _ Store = (*FilesystemStore)(nil)

// NewFilesystemStore creates a filesystem-backed store rooted at baseDir
func NewFilesystemStore(baseDir, publicBaseURL string) (*FilesystemStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &FilesystemStore{
		baseDir: baseDir,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

func (fs *FilesystemStore) objectPath(key string) string {
	return filepath.Join(fs.baseDir, filepath.FromSlash(key))
}

func (fs *FilesystemStore) metaPath(key string) string {
	return fs.objectPath(key) + ".meta"
}

// Put stores data at key, with a sidecar file carrying content type and metadata
func (fs *FilesystemStore) Put(ctx context.Context, key string, data io.Reader, contentType string, metadata map[string]string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	fullPath := fs.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		os.Remove(fullPath) // Clean up on error
		return fmt.Errorf("failed to write file: %w", err)
	}

	meta := objectMeta{ContentType: contentType, Metadata: metadata}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode object metadata: %w", err)
	}
	if err := os.WriteFile(fs.metaPath(key), metaBytes, 0644); err != nil {
		return fmt.Errorf("failed to write object metadata: %w", err)
	}

	return nil
}

// Get streams the object at key
func (fs *FilesystemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	file, err := os.Open(fs.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("getting object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Head returns size and content type for the object at key
func (fs *FilesystemStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	stat, err := os.Stat(fs.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("heading object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	info := &ObjectInfo{Size: stat.Size()}
	if metaBytes, err := os.ReadFile(fs.metaPath(key)); err == nil {
		var meta objectMeta
		if err := json.Unmarshal(metaBytes, &meta); err == nil {
			info.ContentType = meta.ContentType
		}
	}
	return info, nil
}

// Delete removes the object at key; missing keys are not an error
func (fs *FilesystemStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	if err := os.Remove(fs.objectPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if err := os.Remove(fs.metaPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file metadata: %w", err)
	}
	return nil
}

// PublicURL returns the externally reachable URL for key
func (fs *FilesystemStore) PublicURL(key string) string {
	return fs.baseURL + "/" + key
}
