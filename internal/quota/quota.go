// Package quota tracks directory and per-post attachment usage for one
// validation batch. Counters are primed from the persistent store once
// per batch, then mutated optimistically in memory; the store remains
// the ground truth, so drift is bounded to a single request.
package quota

import (
	"fmt"

	"github.com/driftchan/driftchan/internal/config"
	"github.com/driftchan/driftchan/internal/domain"
	"github.com/driftchan/driftchan/internal/logger"
)

// UsageStore supplies the aggregate queries the tracker re-derives from.
type UsageStore interface {
	// DirectoryUsage returns byte/file totals for one folder.
	// includeThumbs selects whether thumbnail rows count.
	DirectoryUsage(folderId domain.FolderId, includeThumbs bool) (bytes int64, files int, err error)
	// PostUsage returns totals for the approved standard-kind
	// attachments already on a post.
	PostUsage(messageId domain.MessageId) (bytes int64, files int, err error)
}

// Notifier receives the one-shot administrator alert when a directory
// crosses the warning threshold.
type Notifier interface {
	NotifyDirectoryNearFull(folderId domain.FolderId, bytesUsed int64)
}

// LogNotifier is the default Notifier; it only logs.
type LogNotifier struct{}

func (LogNotifier) NotifyDirectoryNearFull(folderId domain.FolderId, bytesUsed int64) {
	logger.Log.Warn("upload directory near full", "folder_id", folderId, "bytes_used", bytesUsed)
}

// Limits are the configured hard and soft quota bounds. Zero disables
// the corresponding check.
type Limits struct {
	MaxDirBytes  int64
	MaxDirFiles  int
	WarnDirBytes int64
}

// Tracker holds the request-scoped counters. Not safe for concurrent
// use; each request builds its own.
type Tracker struct {
	store    UsageStore
	settings config.SettingsStore
	notifier Notifier

	primed   bool
	folderId domain.FolderId

	DirBytesUsed  int64
	DirFilesUsed  int
	PostBytesUsed int64
	PostFileCount int
}

func New(store UsageStore, settings config.SettingsStore, notifier Notifier) *Tracker {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Tracker{store: store, settings: settings, notifier: notifier}
}

// PrimeFromStore loads current totals for the folder and post. Repeat
// calls within one batch are no-ops, so mid-batch rotation re-primes
// only via Reprime.
func (t *Tracker) PrimeFromStore(folderId domain.FolderId, messageId domain.MessageId, includeThumbs bool) error {
	if t.primed {
		return nil
	}

	dirBytes, dirFiles, err := t.store.DirectoryUsage(folderId, includeThumbs)
	if err != nil {
		return fmt.Errorf("failed to prime directory usage: %w", err)
	}
	postBytes, postFiles, err := t.store.PostUsage(messageId)
	if err != nil {
		return fmt.Errorf("failed to prime post usage: %w", err)
	}

	t.folderId = folderId
	t.DirBytesUsed = dirBytes
	t.DirFilesUsed = dirFiles
	t.PostBytesUsed = postBytes
	t.PostFileCount = postFiles
	t.primed = true
	return nil
}

// Reprime re-derives the directory counters after a rotation moved the
// batch to a new folder. Post counters carry over.
func (t *Tracker) Reprime(folderId domain.FolderId, includeThumbs bool) error {
	dirBytes, dirFiles, err := t.store.DirectoryUsage(folderId, includeThumbs)
	if err != nil {
		return fmt.Errorf("failed to reprime directory usage: %w", err)
	}
	t.folderId = folderId
	t.DirBytesUsed = dirBytes
	t.DirFilesUsed = dirFiles
	return nil
}

// TryReserve charges byteSize against every counter before any limit is
// compared. Later checks rely on the post-reservation totals, so the
// reservation always happens first and is undone with Rollback when a
// check fails.
func (t *Tracker) TryReserve(byteSize int64) {
	t.DirBytesUsed += byteSize
	t.DirFilesUsed++
	t.PostBytesUsed += byteSize
	t.PostFileCount++
}

// Rollback is the exact inverse of TryReserve.
func (t *Tracker) Rollback(byteSize int64) {
	t.DirBytesUsed -= byteSize
	t.DirFilesUsed--
	t.PostBytesUsed -= byteSize
	t.PostFileCount--
}

// OverFull reports whether usage strictly exceeds the hard limits.
func (t *Tracker) OverFull(limits Limits) bool {
	if limits.MaxDirBytes > 0 && t.DirBytesUsed > limits.MaxDirBytes {
		return true
	}
	if limits.MaxDirFiles > 0 && t.DirFilesUsed > limits.MaxDirFiles {
		return true
	}
	return false
}

// NearFull reports whether remaining headroom crossed the warning
// threshold, and fires the administrator notification exactly once per
// crossing. The latch is a durable settings flag so restarts do not
// repeat the alert.
func (t *Tracker) NearFull(limits Limits) bool {
	if limits.WarnDirBytes <= 0 || limits.MaxDirBytes <= 0 {
		return false
	}
	if limits.MaxDirBytes-t.DirBytesUsed > limits.WarnDirBytes {
		t.resetLatch()
		return false
	}

	if latched, _, err := t.settings.Get(config.KeyFullNotified); err == nil && latched != "1" {
		t.notifier.NotifyDirectoryNearFull(t.folderId, t.DirBytesUsed)
		if err := t.settings.Set(config.KeyFullNotified, "1"); err != nil {
			logger.Log.Warn("failed to latch near-full notification", "error", err)
		}
	}
	return true
}

func (t *Tracker) resetLatch() {
	if latched, ok, err := t.settings.Get(config.KeyFullNotified); err == nil && ok && latched == "1" {
		if err := t.settings.Set(config.KeyFullNotified, "0"); err != nil {
			logger.Log.Warn("failed to reset near-full latch", "error", err)
		}
	}
}
