package stores

import (
	"context"
	"path/filepath"
	"testing"
)

func TestBlobStorage(t *testing.T) {
	factories := map[string]func(t *testing.T) BlobStorage{
		"memory": func(t *testing.T) BlobStorage { return NewMemoryBlobStore() },
		"filesystem": func(t *testing.T) BlobStorage {
			store, err := NewFSBlobStore(filepath.Join(t.TempDir(), "blobs"))
			if err != nil {
				t.Fatalf("failed to create blob store: %v", err)
			}
			return store
		},
		"sqlite": func(t *testing.T) BlobStorage { return setupSQLiteStore(t) },
	}

	ctx := context.Background()
	for name, open := range factories {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			if _, ok, err := s.GetBlob(ctx, "worker/abc/1"); err != nil || ok {
				t.Fatalf("expected missing blob, got %v %v", ok, err)
			}

			if err := s.PutBlob(ctx, "worker/abc/1", []byte("payload")); err != nil {
				t.Fatalf("put: %v", err)
			}
			data, ok, err := s.GetBlob(ctx, "worker/abc/1")
			if err != nil || !ok || string(data) != "payload" {
				t.Fatalf("unexpected blob %q %v %v", data, ok, err)
			}

			if err := s.PutBlob(ctx, "worker/abc/1", []byte("replaced")); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			data, _, _ = s.GetBlob(ctx, "worker/abc/1")
			if string(data) != "replaced" {
				t.Errorf("expected overwritten blob, got %q", data)
			}

			if err := s.DeleteBlob(ctx, "worker/abc/1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, ok, _ := s.GetBlob(ctx, "worker/abc/1"); ok {
				t.Error("blob still present after delete")
			}
			if err := s.DeleteBlob(ctx, "worker/abc/1"); err != nil {
				t.Errorf("deleting a missing blob should succeed: %v", err)
			}
		})
	}
}

func TestFSBlobStoreRejectsEscapingPaths(t *testing.T) {
	store, err := NewFSBlobStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{"../outside", "/etc/passwd", ".", ""} {
		if err := store.PutBlob(context.Background(), path, []byte("x")); err == nil {
			t.Errorf("expected error for path %q", path)
		}
	}
}
