package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAndReadBack(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}

	key, err := store.Write(context.Background(), "req/output/a_ru.jpg", []byte("payload"))
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if key != "req/output/a_ru.jpg" {
		t.Fatalf("key mismatch: %q", key)
	}
	data, err := os.ReadFile(store.Path(key))
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("payload mismatch: %q", data)
	}
}

func TestWriteRejectsTraversal(t *testing.T) {
	base := t.TempDir()
	store, err := NewFileStore(base)
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}

	for _, key := range []string{"../escape.jpg", "a/../../escape.jpg", "   ", ""} {
		if _, err := store.Write(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("key %q: expected rejection", key)
		}
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(base), "escape.jpg")); !os.IsNotExist(err) {
		t.Fatal("traversal escaped the storage root")
	}
}

func TestWriteNormalizesLeadingSlash(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	key, err := store.Write(context.Background(), "/req/a.jpg", []byte("x"))
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if key != "req/a.jpg" {
		t.Fatalf("key not normalized: %q", key)
	}
}
