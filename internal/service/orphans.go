package service

import (
	"context"
	"time"

	"github.com/driftchan/driftchan/internal/domain"
	"github.com/driftchan/driftchan/internal/logger"
	"github.com/driftchan/driftchan/internal/metrics"
)

// OrphanStorage defines the database operations the sweep needs.
type OrphanStorage interface {
	OrphanedThumbnails() ([]*domain.AttachmentRecord, error)
	DeleteAttachmentRows(ids []domain.AttachmentId) error
	ClearDanglingThumbnailRefs() (int64, error)
}

// ThumbnailSweeper removes thumbnail rows whose owning attachment is
// gone and clears owner rows whose thumbnail column points nowhere.
// Both states are left behind when removals were run with thumbnail
// cascading disabled.
type ThumbnailSweeper struct {
	storage      OrphanStorage
	attachments  *Attachments
	lastRunStats SweepStats
}

// SweepStats tracks the outcome of the last sweep.
type SweepStats struct {
	RunAt           time.Time
	OrphansFound    int
	OrphansDeleted  int
	BytesReclaimed  int64
	DanglingRefsCut int64
	DurationMs      int64
	Errors          []string
}

func NewThumbnailSweeper(storage OrphanStorage, attachments *Attachments) *ThumbnailSweeper {
	return &ThumbnailSweeper{storage: storage, attachments: attachments}
}

// StartBackgroundSweep runs RunSweep on every tick until ctx ends.
func (s *ThumbnailSweeper) StartBackgroundSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	logger.Log.Info("started orphaned thumbnail sweep", "interval", interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.RunSweep(); err != nil {
					logger.Log.Error("thumbnail sweep failed", "error", err)
					continue
				}
				stats := s.LastRunStats()
				logger.Log.Info("thumbnail sweep completed",
					"found", stats.OrphansFound,
					"deleted", stats.OrphansDeleted,
					"bytes_reclaimed", stats.BytesReclaimed,
					"dangling_refs", stats.DanglingRefsCut,
					"duration_ms", stats.DurationMs,
					"errors", len(stats.Errors),
				)
			case <-ctx.Done():
				logger.Log.Info("thumbnail sweep shutting down")
				return
			}
		}
	}()
}

// RunSweep executes a single sweep cycle. Safe to call manually.
func (s *ThumbnailSweeper) RunSweep() error {
	start := time.Now()
	stats := SweepStats{RunAt: start, Errors: []string{}}

	orphans, err := s.storage.OrphanedThumbnails()
	if err != nil {
		return err
	}
	stats.OrphansFound = len(orphans)

	var doomed []domain.AttachmentId
	for _, rec := range orphans {
		s.attachments.unlink(rec)
		doomed = append(doomed, rec.Id)
		stats.BytesReclaimed += rec.ByteSize
	}
	if len(doomed) > 0 {
		if err := s.storage.DeleteAttachmentRows(doomed); err != nil {
			stats.Errors = append(stats.Errors, "delete rows: "+err.Error())
		} else {
			stats.OrphansDeleted = len(doomed)
			s.attachments.cache.invalidate(doomed...)
			metrics.Removals.WithLabelValues(domain.KindThumbnail.String()).Add(float64(len(doomed)))
		}
	}

	cut, err := s.storage.ClearDanglingThumbnailRefs()
	if err != nil {
		stats.Errors = append(stats.Errors, "clear refs: "+err.Error())
	}
	stats.DanglingRefsCut = cut

	stats.DurationMs = time.Since(start).Milliseconds()
	s.lastRunStats = stats
	return nil
}

// LastRunStats returns statistics from the most recent sweep.
func (s *ThumbnailSweeper) LastRunStats() SweepStats {
	return s.lastRunStats
}
