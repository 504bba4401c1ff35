package dirman

import (
	"path/filepath"
	"strings"
)

// RootDetector extracts the filesystem root of an absolute path,
// returning the root segment and the remainder. It exists so the
// hierarchy walk can treat POSIX roots and drive-letter roots the same
// way and be tested without a Windows filesystem.
type RootDetector func(path string) (root, rest string, ok bool)

// PosixRoot handles "/"-rooted paths.
func PosixRoot(path string) (string, string, bool) {
	if strings.HasPrefix(path, "/") {
		return "/", strings.TrimPrefix(path, "/"), true
	}
	return "", "", false
}

// DriveLetterRoot handles "C:\"-style and "C:/"-style paths.
func DriveLetterRoot(path string) (string, string, bool) {
	if len(path) >= 2 && path[1] == ':' &&
		(path[0] >= 'A' && path[0] <= 'Z' || path[0] >= 'a' && path[0] <= 'z') {
		rest := path[2:]
		rest = strings.TrimLeft(rest, `/\`)
		return path[:2] + string(filepath.Separator), rest, true
	}
	return "", "", false
}

// DefaultRootDetector tries drive-letter roots first, then POSIX.
func DefaultRootDetector(path string) (string, string, bool) {
	if root, rest, ok := DriveLetterRoot(path); ok {
		return root, rest, ok
	}
	return PosixRoot(path)
}

// SplitPathSegments breaks a path into its root segment followed by one
// segment per directory level. Relative paths get no root segment.
func SplitPathSegments(path string, detect RootDetector) []string {
	path = filepath.ToSlash(filepath.Clean(path))

	var segments []string
	rest := path
	if root, r, ok := detect(path); ok {
		segments = append(segments, root)
		rest = r
	}

	for _, seg := range strings.Split(rest, "/") {
		if seg != "" && seg != "." {
			segments = append(segments, seg)
		}
	}
	return segments
}
