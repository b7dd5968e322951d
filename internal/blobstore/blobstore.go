// Package blobstore keeps durable job artifacts such as instrumental tracks,
// either in a local directory or in an S3-compatible bucket.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"rythmo/internal/config"
)

// Store persists files under slash-separated keys.
type Store interface {
	// Put uploads the file at src under key and returns its durable location.
	Put(ctx context.Context, key, src string) (string, error)
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// Check verifies the backend is reachable and writable.
	Check(ctx context.Context) error
	Kind() string
}

// New builds the backend selected by cfg.
func New(ctx context.Context, cfg config.Storage) (Store, error) {
	switch cfg.Backend {
	case config.StorageLocal, "":
		return NewLocal(cfg.LocalDir)
	case config.StorageMinIO:
		return NewMinIO(ctx, cfg.MinIO)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// CleanKey normalizes key and rejects keys escaping the store root.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned == "." {
		return "", errors.New("blob key required")
	}
	if cleaned != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("blob key %q is not canonical", key)
	}
	return cleaned, nil
}
