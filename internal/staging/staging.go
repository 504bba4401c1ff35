// Package staging moves raw upload bytes into the active directory
// under a random temporary name and tracks the per-session staged
// metadata until the post is submitted.
package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/driftchan/driftchan/internal/domain"
	"github.com/driftchan/driftchan/internal/logger"
	"github.com/driftchan/driftchan/internal/metrics"
)

// SessionStore holds staged-file metadata between the moment bytes hit
// disk and the moment a post is submitted. One instance per upload
// session.
type SessionStore struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*domain.StagedUpload
	post    *domain.PostSlot
}

func NewSessionStore() *SessionStore {
	return &SessionStore{entries: make(map[string]*domain.StagedUpload)}
}

func (s *SessionStore) Put(staged *domain.StagedUpload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.entries[staged.Token]; !seen {
		s.order = append(s.order, staged.Token)
	}
	s.entries[staged.Token] = staged
}

func (s *SessionStore) Get(token string) (*domain.StagedUpload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[token]
	return e, ok
}

// All returns the staged uploads in arrival order.
func (s *SessionStore) All() []*domain.StagedUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.StagedUpload, 0, len(s.entries))
	for _, token := range s.order {
		if e, ok := s.entries[token]; ok {
			out = append(out, e)
		}
	}
	return out
}

func (s *SessionStore) Forget(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
}

// SetPostSlot records the post the staged files will attach to, before
// the post itself exists.
func (s *SessionStore) SetPostSlot(slot domain.PostSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.post = &slot
}

func (s *SessionStore) PostSlot() (domain.PostSlot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.post == nil {
		return domain.PostSlot{}, false
	}
	return *s.post, true
}

// Area writes incoming files to disk.
type Area struct {
	sessions *SessionStore
}

func NewArea(sessions *SessionStore) *Area {
	return &Area{sessions: sessions}
}

// Stage copies src into dir under a random temp name and records the
// staged entry. The caller supplies the active directory; validation
// may later move the file if the directory rotates.
func (a *Area) Stage(src io.Reader, dir domain.UploadDirectory, declaredName, declaredMime string) (*domain.StagedUpload, error) {
	token := uuid.New().String()
	tempPath := filepath.Join(dir.Path, "post_tmp_"+token)

	dst, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}

	n, err := io.Copy(dst, src)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempPath) // Best effort, ignore error here.
		return nil, fmt.Errorf("failed to write staging file: %w", err)
	}

	staged := &domain.StagedUpload{
		Token:        token,
		TempPath:     tempPath,
		DeclaredName: declaredName,
		DeclaredMime: declaredMime,
		Size:         n,
		FolderId:     dir.Id,
	}
	a.sessions.Put(staged)
	metrics.BytesStaged.Add(float64(n))
	return staged, nil
}

// Discard unlinks the temp file and forgets the entry. Unlink failures
// are logged, not returned; a leftover temp file is preferable to a
// stuck session.
func (a *Area) Discard(staged *domain.StagedUpload) {
	if err := os.Remove(staged.TempPath); err != nil && !os.IsNotExist(err) {
		logger.Log.Warn("failed to remove staged file", "path", staged.TempPath, "error", err)
	}
	a.sessions.Forget(staged.Token)
}

// Relocate moves a staged temp file into another directory, updating
// the entry in place. Used when validation rotates to a fresh folder.
func (a *Area) Relocate(staged *domain.StagedUpload, dir domain.UploadDirectory) error {
	newPath := filepath.Join(dir.Path, filepath.Base(staged.TempPath))
	if err := os.Rename(staged.TempPath, newPath); err != nil {
		return fmt.Errorf("failed to relocate staged file: %w", err)
	}
	staged.TempPath = newPath
	staged.FolderId = dir.Id
	return nil
}
