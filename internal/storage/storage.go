// Package storage provides the object store gateway used by the pipeline
// to persist audio artifacts and syndication feeds.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned when no object exists at the requested key
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored object without its bytes
type ObjectInfo struct {
	Size        int64
	ContentType string
}

// Store is the object store gateway. Keys are flat strings; layout is
// dictated by callers.
type Store interface {
	// Put stores bytes at key with the given content type and metadata
	Put(ctx context.Context, key string, data io.Reader, contentType string, metadata map[string]string) error
	// Get streams the object at key. Callers must close the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Head returns size and content type for the object at key
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// PublicURL returns the externally reachable URL for key
	PublicURL(key string) string
}

// Stable key layout shared by the pipeline stages
func EpisodeAudioKey(episodeID uint) string {
	return fmt.Sprintf("episodes/%d/audio.mp3", episodeID)
}

func NarrationKey(digestID string, position int, kind string) string {
	return fmt.Sprintf("digests/%s/narration/%d-%s.mp3", digestID, position, kind)
}

func DigestAudioKey(digestID string) string {
	return fmt.Sprintf("digests/%s/digest.mp3", digestID)
}

func UserFeedKey(userID string) string {
	return fmt.Sprintf("feeds/%s/feed.xml", userID)
}

// validateKey rejects empty keys and keys that escape the store root
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("object key is empty")
	}
	cleaned := path.Clean(key)
	if strings.HasPrefix(cleaned, "..") || strings.HasPrefix(cleaned, "/") {
		return fmt.Errorf("invalid object key: %q", key)
	}
	return nil
}
