package reelauth

import (
	"fmt"
	"strings"
)

// MediaKind is what an upload is meant to be
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// DefaultMaxUploadBytes is the largest file a client may upload with a grant
const DefaultMaxUploadBytes int64 = 100 << 20

// UploadPolicy is checked by clients before they ask for a grant. The storage
// provider never sees it.
type UploadPolicy struct {
	// MaxBytes <= 0 uses DefaultMaxUploadBytes
	MaxBytes int64
}

// Check returns an ErrValidation error if a file of contentType and size may
// not be uploaded as kind
func (p UploadPolicy) Check(kind MediaKind, contentType string, size int64) error {
	switch kind {
	case MediaImage, MediaVideo:
	default:
		return newValidationError("kind", fmt.Sprintf("unknown media kind %q", kind))
	}
	if !strings.HasPrefix(strings.ToLower(contentType), string(kind)+"/") {
		return newValidationError("content_type", fmt.Sprintf("please upload a valid %s file", kind))
	}
	limit := p.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	if size <= 0 {
		return newValidationError("size", "file is empty")
	}
	if size > limit {
		return newValidationError("size", fmt.Sprintf("file size must be at most %d MB", limit>>20))
	}
	return nil
}
