package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	imgproc "github.com/Rohithcheryala/Image-Processing-API"
	"github.com/Rohithcheryala/Image-Processing-API/id"
)

func TestKey(t *testing.T) {
	itemID := id.NewItemID()
	key := Key(itemID, 2)
	if !strings.HasPrefix(key, itemID.String()) || !strings.HasSuffix(key, "_2.jpg") {
		t.Fatalf("Key = %q", key)
	}
	if !ValidKey(key) {
		t.Fatalf("derived key %q reported invalid", key)
	}
}

func TestValidKey(t *testing.T) {
	for key, want := range map[string]bool{
		"item_0.jpg":             true,
		"":                       false,
		".":                      false,
		"..":                     false,
		"../escape.jpg":          false,
		"dir/file.jpg":           false,
		"dir\\file.jpg":          false,
	} {
		if got := ValidKey(key); got != want {
			t.Errorf("ValidKey(%q) = %v, want %v", key, got, want)
		}
	}
}

// stores under test share one behavioural suite.
func runStoreSuite(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	key := Key(id.NewItemID(), 0)
	if _, err := s.Get(ctx, key); !errors.Is(err, imgproc.ErrBlobNotFound) {
		t.Fatalf("Get missing = %v, want ErrBlobNotFound", err)
	}

	if err := s.Put(ctx, key, []byte("first")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, key)
	if err != nil || string(got) != "first" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	// Overwrite is allowed; retried items replace their outputs.
	if err := s.Put(ctx, key, []byte("second")); err != nil {
		t.Fatalf("overwrite Put: %v", err)
	}
	got, err = s.Get(ctx, key)
	if err != nil || string(got) != "second" {
		t.Fatalf("Get after overwrite = %q, %v", got, err)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, imgproc.ErrBlobNotFound) {
		t.Fatalf("Get after delete = %v, want ErrBlobNotFound", err)
	}
	// Deleting again is a no-op.
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemory())
}

func TestFSStore(t *testing.T) {
	s, err := NewFS(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	runStoreSuite(t, s)
}

func TestFSRejectsPathKeys(t *testing.T) {
	s, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	ctx := context.Background()
	if err := s.Put(ctx, "../escape.jpg", []byte("x")); err == nil {
		t.Fatal("Put accepted a traversal key")
	}
	if _, err := s.Get(ctx, "a/b.jpg"); err == nil {
		t.Fatal("Get accepted a path key")
	}
}

func TestFSLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	s, err := NewFS(root)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	if err := s.Put(context.Background(), "a.jpg", []byte("data")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "a.jpg" {
		t.Fatalf("unexpected directory contents: %v", entries)
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Put(ctx, "a.jpg", []byte("abc")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, _ := m.Get(ctx, "a.jpg")
	got[0] = 'X'
	again, _ := m.Get(ctx, "a.jpg")
	if string(again) != "abc" {
		t.Fatal("mutating a returned blob leaked into store state")
	}
}
