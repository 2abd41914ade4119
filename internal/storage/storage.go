// Package storage holds generation image bytes in an object store.
// Only locators and checksums are persisted next to jobs.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gofrs/uuid/v5"
)

// Locator addresses one stored object.
type Locator struct {
	Bucket string
	Key    string
}

// ObjectStore puts and fetches opaque bytes.
type ObjectStore interface {
	// Put stores data under bucket/key.
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) (Locator, error)
	// Get returns the bytes and content type stored at loc.
	Get(ctx context.Context, loc Locator) ([]byte, string, error)
	// Delete removes the object; a missing object is not an error.
	Delete(ctx context.Context, loc Locator) error
}

// Checksum returns the hex sha256 recorded on assets.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// InputKey is the object key of a job's uploaded image.
func InputKey(jobID uuid.UUID, contentType string) string {
	return "raw/" + jobID.String() + "/input." + Ext(contentType)
}

// OutputKey is the object key of a job's generated image.
func OutputKey(jobID uuid.UUID, contentType string) string {
	return "generated/" + jobID.String() + "/output." + Ext(contentType)
}

// Ext maps an image content type to a file extension.
func Ext(contentType string) string {
	ct, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(contentType)), ";")
	switch ct {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "image/heic", "image/heif":
		return "heic"
	}
	return "bin"
}
