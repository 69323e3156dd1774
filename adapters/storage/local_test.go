package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestLocalStorePut(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "/artifacts/", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ref, err := store.Put(context.Background(), "videos/abc.mp4", "video/mp4", strings.NewReader("frames"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if ref != "/artifacts/videos/abc.mp4" {
		t.Errorf("Unexpected ref %q", ref)
	}

	data, err := os.ReadFile(filepath.Join(dir, "videos", "abc.mp4"))
	if err != nil {
		t.Fatalf("Artifact not written: %v", err)
	}
	if string(data) != "frames" {
		t.Errorf("Unexpected content %q", data)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "videos"))
	if len(entries) != 1 {
		t.Errorf("Expected only the artifact, found %d entries", len(entries))
	}
}

func TestLocalStoreRejectsBadNames(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/artifacts", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	for _, name := range []string{"", "../escape.png", "a/../../b.png", "/abs.png", "a//b.png"} {
		if _, err := store.Put(context.Background(), name, "image/png", strings.NewReader("x")); err == nil {
			t.Errorf("Expected error for name %q", name)
		}
	}
}

func TestLocalStoreCancelled(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/artifacts", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Put(ctx, "a.png", "image/png", strings.NewReader("x")); err == nil {
		t.Error("Expected error for cancelled context")
	}
}
