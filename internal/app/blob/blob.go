// Package blob stores document content. Keys are slash separated paths such
// as org/<org>/documents/<id>.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned by Get and Delete for unknown keys.
var ErrNotFound = errors.New("blob: not found")

// Store persists opaque content by key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ValidateKey rejects empty keys, absolute paths and any parent traversal.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("blob: empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("blob: invalid key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("blob: invalid key %q", key)
		}
	}
	return nil
}

// DocumentKey is the storage key for a document's original content.
func DocumentKey(orgID, documentID string) string {
	return "org/" + orgID + "/documents/" + documentID
}

// SignedKey is the storage key for the stamped copy of a document.
func SignedKey(orgID, documentID string) string {
	return DocumentKey(orgID, documentID) + "/signed"
}
