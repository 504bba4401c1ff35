package service

import (
	"os"
	"path/filepath"

	"github.com/driftchan/driftchan/internal/domain"
	"github.com/driftchan/driftchan/internal/hooks"
	"github.com/driftchan/driftchan/internal/logger"
	"github.com/driftchan/driftchan/internal/metrics"
)

// RemoveOptions tune cascade and bookkeeping behavior of Remove.
type RemoveOptions struct {
	// SkipThumbnails leaves thumbnail rows and files of matched
	// attachments in place (the orphan sweep picks them up later).
	SkipThumbnails bool
	// CollectMessages returns the distinct message ids the removed
	// attachments belonged to, for post-text cleanup by the caller.
	CollectMessages bool
	// LogEach writes a moderation log row per removed standard-kind
	// attachment. Thumbnails and avatars never enter the audit trail.
	LogEach bool
}

// Remove deletes every attachment matching the filter, unlinking files
// and cascading exactly one level into thumbnails: removing an owner
// removes its thumbnail, removing a thumbnail only clears back
// references and never touches the owner. Returns the affected message
// ids when requested.
func (a *Attachments) Remove(filter domain.RemoveFilter, opts RemoveOptions) ([]domain.MessageId, error) {
	matched, err := a.storage.SelectForRemoval(filter)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, nil
	}

	a.events.Dispatch(hooks.BeforeRemove, &hooks.Payload{Records: matched})

	doomed := make(map[domain.AttachmentId]*domain.AttachmentRecord, len(matched))
	for _, rec := range matched {
		doomed[rec.Id] = rec
	}

	var rowIds []domain.AttachmentId
	msgSeen := make(map[domain.MessageId]struct{})

	for _, rec := range matched {
		a.unlink(rec)
		rowIds = append(rowIds, rec.Id)
		if rec.MessageId != 0 {
			msgSeen[rec.MessageId] = struct{}{}
		}
		metrics.Removals.WithLabelValues(rec.Kind.String()).Inc()

		if opts.LogEach && rec.Kind == domain.KindStandard {
			if err := a.storage.InsertModerationLog("remove_attachment", rec.Id, rec.Filename); err != nil {
				logger.Log.Warn("failed to write moderation log", "id", rec.Id, "error", err)
			}
		}

		switch {
		case rec.Kind == domain.KindThumbnail:
			// One level only: never follow the back edge to the owner.
			if err := a.storage.ClearThumbnailRefs(rec.Id); err != nil {
				logger.Log.Warn("failed to clear thumbnail references", "id", rec.Id, "error", err)
			}
		case rec.ThumbnailId != 0 && !opts.SkipThumbnails:
			if _, alreadyDoomed := doomed[rec.ThumbnailId]; alreadyDoomed {
				continue
			}
			thumbs, err := a.storage.GetAttachmentsByIds([]domain.AttachmentId{rec.ThumbnailId}, domain.LoadFilter{})
			if err != nil || len(thumbs) == 0 {
				logger.Log.Warn("thumbnail row missing during cascade", "parent", rec.Id, "thumbnail", rec.ThumbnailId, "error", err)
				continue
			}
			a.unlink(thumbs[0])
			rowIds = append(rowIds, thumbs[0].Id)
			metrics.Removals.WithLabelValues(thumbs[0].Kind.String()).Inc()
		}
	}

	if err := a.storage.DeleteAttachmentRows(rowIds); err != nil {
		return nil, err
	}
	a.cache.invalidate(rowIds...)

	a.events.Dispatch(hooks.AfterRemove, &hooks.Payload{Records: matched})

	if !opts.CollectMessages {
		return nil, nil
	}
	msgs := make([]domain.MessageId, 0, len(msgSeen))
	for id := range msgSeen {
		msgs = append(msgs, id)
	}
	return msgs, nil
}

// unlink removes the physical file. A failure is logged and swallowed
// so a missing file never blocks row deletion.
func (a *Attachments) unlink(rec *domain.AttachmentRecord) {
	dir, err := a.folders.PathFor(rec.FolderId)
	if err != nil {
		logger.Log.Warn("unknown folder for attachment file", "id", rec.Id, "folder", rec.FolderId, "error", err)
		return
	}
	if err := os.Remove(filepath.Join(dir, rec.DiskName())); err != nil && !os.IsNotExist(err) {
		logger.Log.Warn("failed to unlink attachment file", "id", rec.Id, "error", err)
	}
}
