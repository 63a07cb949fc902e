package storage

import (
	"context"
	"errors"
	"testing"
)

type memoryStore struct {
	puts map[string]string
	fail map[string]bool
}

func (m *memoryStore) PutFile(ctx context.Context, key, localPath, contentType string) error {
	if m.fail[localPath] {
		return errors.New("connection reset")
	}
	m.puts[key] = contentType
	return nil
}

func TestShowKey(t *testing.T) {
	if got := ShowKey("shows", "abc", "/var/lib/webradio/saved_show.wav"); got != "shows/abc/saved_show.wav" {
		t.Errorf("ShowKey() = %q", got)
	}
}

func TestUploadShowAttemptsEveryArtifact(t *testing.T) {
	store := &memoryStore{puts: map[string]string{}, fail: map[string]bool{"/tmp/saved_show.wav": true}}

	err := UploadShow(context.Background(), store, "shows", "s1",
		Artifact{Path: "/tmp/saved_show.wav", ContentType: "audio/wav"},
		Artifact{Path: "/tmp/annotations.json", ContentType: "application/json"},
	)
	if err == nil {
		t.Fatal("expected upload error")
	}
	if got := store.puts["shows/s1/annotations.json"]; got != "application/json" {
		t.Errorf("annotations not uploaded: %v", store.puts)
	}
}
