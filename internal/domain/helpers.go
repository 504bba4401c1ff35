package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

func diskName(id AttachmentId, hash string) string {
	return fmt.Sprintf("%d_%s.dat", id, hash)
}

// ThumbName returns the physical filename a thumbnail row resolves to.
func ThumbName(id AttachmentId, hash string) string {
	return diskName(id, hash)
}

// NormalizeExtension lowercases an extension and truncates it to eight
// characters (dot excluded). Returns "" for names without an extension.
func NormalizeExtension(filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	ext = strings.ToLower(ext)
	if len(ext) > 8 {
		ext = ext[:8]
	}
	return ext
}

// ReplaceExtension swaps the extension of filename for ext (no dot).
func ReplaceExtension(filename, ext string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	if ext == "" {
		return base
	}
	return base + "." + ext
}
