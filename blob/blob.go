// Package blob stores processed image bytes under flat string keys.
// Output keys are derived from item IDs, so retrying a finalized item
// overwrites its previous outputs instead of accumulating copies.
package blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/Rohithcheryala/Image-Processing-API/id"
)

// Store is a flat key→bytes blob store.
type Store interface {
	// Put writes data under key, overwriting any existing blob.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the blob for key, or ErrBlobNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the blob for key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error
}

// Key derives the deterministic output key for one reference of an item.
func Key(itemID id.ItemID, index int) string {
	return fmt.Sprintf("%s_%d.jpg", itemID, index)
}

// ValidKey reports whether key is a plain filename with no path
// components, which is what Key produces and what FS stores require.
func ValidKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, "/\\")
}
