package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
)

// ObjectStore abstracts object storage operations.
type ObjectStore interface {
	PutFile(ctx context.Context, key, localPath, contentType string) error
}

// Artifact is one file produced by a show
type Artifact struct {
	Path        string
	ContentType string
}

// ShowKey returns the object key of a show artifact
func ShowKey(prefix, sessionID, localPath string) string {
	return path.Join(prefix, sessionID, filepath.Base(localPath))
}

// UploadShow copies the artifacts of a finished show into store. Every
// artifact is attempted; the returned error joins all failures.
func UploadShow(ctx context.Context, store ObjectStore, prefix, sessionID string, artifacts ...Artifact) error {
	logger := slog.With("component", "storage", "session", sessionID)

	var errs []error
	for _, a := range artifacts {
		key := ShowKey(prefix, sessionID, a.Path)
		if err := store.PutFile(ctx, key, a.Path, a.ContentType); err != nil {
			logger.Error("Upload failed", slog.String("key", key), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("upload %s: %w", a.Path, err))
			continue
		}
		logger.Info("Uploaded show artifact", slog.String("key", key))
	}
	return errors.Join(errs...)
}
