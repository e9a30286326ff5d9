package service

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const maxExtLen = 8

// OriginalPrefix starts every original blob name
const OriginalPrefix = "original-"

// Identifier is a storage-safe asset name. Token is never derived from caller input.
type Identifier struct {
	Token string // 32 lower-hex characters
	Ext   string // sanitized extension of the original upload
}

// OriginalKey is the blob name of the untouched upload
func (id Identifier) OriginalKey() string {
	return OriginalPrefix + id.Token + "." + id.Ext
}

// RenditionKey is the blob name of the served rendition
func (id Identifier) RenditionKey(ext string) string {
	return id.Token + "." + ext
}

// Allocator produces random identifiers. Safe for concurrent use.
type Allocator struct {
	newToken func() uuid.UUID
}

// NewAllocator returns an allocator backed by random v4 UUIDs
func NewAllocator() *Allocator {
	return &Allocator{newToken: uuid.New}
}

// Allocate returns a fresh identifier. Only the filename's extension is used,
// falling back to the declared type's canonical extension.
func (a *Allocator) Allocate(filename, declaredType string) Identifier {
	ext := SanitizeExt(filename)
	if ext == "" {
		ext = ExtForType(declaredType)
	}

	token := a.newToken()
	return Identifier{
		Token: strings.ReplaceAll(token.String(), "-", ""),
		Ext:   ext,
	}
}

// SanitizeExt returns the lower-cased extension of filename restricted to [a-z0-9]
func SanitizeExt(filename string) string {
	// Accept both separators; browsers on Windows send full paths
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")

	var b strings.Builder
	for _, r := range strings.ToLower(ext) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == maxExtLen {
				break
			}
		}
	}
	return b.String()
}

// ExtForType maps a content type to its usual file extension
func ExtForType(declaredType string) string {
	switch NormalizeType(declaredType) {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "bin"
	}
}
