// Package evidence stores handover photos in a content-addressed object store.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	dErrors "parcelproof/pkg/domain-errors"
)

// MaxPhotoBytes bounds a single evidence upload.
const MaxPhotoBytes = 10 << 20

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/heic": "heic",
	"image/webp": "webp",
}

// ObjectKey is the content-addressed key for a photo: evidence/<sha256>.<ext>.
// Identical bytes always map to the same key, so retried uploads overwrite
// rather than duplicate.
func ObjectKey(data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", dErrors.New(dErrors.CodeValidation, "photo is empty")
	}
	if len(data) > MaxPhotoBytes {
		return "", dErrors.New(dErrors.CodeValidation, "photo exceeds the upload limit")
	}
	ext, ok := extensions[normalizeContentType(contentType)]
	if !ok {
		return "", dErrors.New(dErrors.CodeValidation, "unsupported photo content type: "+contentType)
	}
	sum := sha256.Sum256(data)
	return "evidence/" + hex.EncodeToString(sum[:]) + "." + ext, nil
}

func normalizeContentType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
