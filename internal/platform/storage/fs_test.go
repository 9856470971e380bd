package storage

import (
	"bytes"
	"context"
	"testing"
)

func TestFSStorePutGet(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore error: %v", err)
	}
	ctx := context.Background()

	blob := Blob{Data: []byte("payload"), ContentType: "image/webp"}
	if err := store.Put(ctx, "2026-08-31/abc.webp", blob); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	got, err := store.Get(ctx, "2026-08-31/abc.webp")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !bytes.Equal(got.Data, blob.Data) {
		t.Errorf("Get data = %q, want %q", got.Data, blob.Data)
	}
	if got.ContentType != "image/webp" {
		t.Errorf("Get content type = %q, want image/webp", got.ContentType)
	}

	ok, err := store.Exists(ctx, "2026-08-31/abc.webp")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v, want true, nil", ok, err)
	}
}

func TestFSStoreGetMissing(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore error: %v", err)
	}
	if _, err := store.Get(context.Background(), "nope/missing.webp"); err == nil {
		t.Error("expected error for missing blob")
	}
}

func TestFSStoreDelete(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore error: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "d/x.jpg", Blob{Data: []byte{1}}); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if err := store.Delete(ctx, "d/x.jpg"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	ok, err := store.Exists(ctx, "d/x.jpg")
	if err != nil {
		t.Fatalf("Exists error: %v", err)
	}
	if ok {
		t.Error("blob still exists after delete")
	}
	// Deleting a missing blob is not an error.
	if err := store.Delete(ctx, "d/x.jpg"); err != nil {
		t.Errorf("Delete missing blob error: %v", err)
	}
}

func TestFSStoreRejectsTraversal(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore error: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"", "../escape.txt", "a/../../escape.txt", "/etc/passwd"} {
		if err := store.Put(ctx, key, Blob{Data: []byte{1}}); err == nil {
			t.Errorf("Put(%q) accepted a traversal key", key)
		}
	}
}
