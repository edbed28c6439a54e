// Package storage defines the upload/signed-URL contract the extraction
// pipeline needs from its storage collaborator, plus a local
// content-addressed implementation for offline runs and tests. The mistral
// engine satisfies Uploader natively through the provider's files API.
package storage

import (
	"context"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Uploader stores a document and later exchanges its identifier for a
// fetchable, expiring URL. Implementations must be safe for concurrent use.
type Uploader interface {
	Upload(ctx context.Context, name string, content []byte) (id string, err error)
	SignedURL(ctx context.Context, id string, expiry time.Duration) (url string, err error)
}

// Digest returns the hex BLAKE2b-256 digest of a payload. It keys the
// annotation cache and names blobs in the local store.
func Digest(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}
