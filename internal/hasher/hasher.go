// Package hasher derives the content-addressed identifiers used for
// physical attachment filenames.
package hasher

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

const idBytes = 20 // 160-bit identifiers

// ContentHasher produces keyed digests under a secret held in
// configuration. The same file bytes under the same secret always map
// to the same identifier, so a promotion can be re-derived idempotently.
type ContentHasher struct {
	secret []byte
}

func New(secret string) *ContentHasher {
	return &ContentHasher{secret: []byte(secret)}
}

// DeriveID returns a 40-char hex identifier. If input names an existing
// file the digest covers the file's bytes; a non-empty string that is
// not a path is digested directly; an empty input yields fresh random
// bytes and is never deterministic.
func (h *ContentHasher) DeriveID(input string) (string, error) {
	if input == "" {
		return h.randomID()
	}

	if info, err := os.Stat(input); err == nil && !info.IsDir() {
		return h.hashFile(input)
	}

	mac := hmac.New(sha1.New, h.secret)
	mac.Write([]byte(input))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (h *ContentHasher) hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	mac := hmac.New(sha1.New, h.secret)
	if _, err := io.Copy(mac, f); err != nil {
		return "", fmt.Errorf("failed to hash file %s: %w", path, err)
	}
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (h *ContentHasher) randomID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
