package service

import (
	"os"
	"path/filepath"

	"github.com/driftchan/driftchan/internal/config"
	"github.com/driftchan/driftchan/internal/domain"
	"github.com/driftchan/driftchan/internal/imaging"
	"github.com/driftchan/driftchan/internal/logger"
	"github.com/driftchan/driftchan/internal/metrics"
	"github.com/driftchan/driftchan/internal/quota"
)

// ActiveDirectories is the directory-manager slice the generator uses.
type ActiveDirectories interface {
	Current() (domain.UploadDirectory, error)
	PathFor(id domain.FolderId) (string, error)
	Policy() domain.RotationPolicy
	RotateBySpace() (domain.UploadDirectory, error)
}

// ThumbnailGenerator produces reduced-size companions for oversized
// image attachments. Generation is opportunistic: every failure is
// logged and the parent attachment stays fully usable.
type ThumbnailGenerator struct {
	attachments *Attachments
	images      imaging.Service
	dirs        ActiveDirectories
	tracker     *quota.Tracker
	uploads     config.Uploads
}

func NewThumbnailGenerator(attachments *Attachments, images imaging.Service, dirs ActiveDirectories, tracker *quota.Tracker, uploads config.Uploads) *ThumbnailGenerator {
	return &ThumbnailGenerator{
		attachments: attachments,
		images:      images,
		dirs:        dirs,
		tracker:     tracker,
		uploads:     uploads,
	}
}

// MaybeGenerate creates and links a thumbnail for parent when one is
// warranted. Returns the new thumbnail record, or nil when nothing was
// generated.
func (g *ThumbnailGenerator) MaybeGenerate(parent *domain.AttachmentRecord) *domain.AttachmentRecord {
	if !g.uploads.ThumbnailsEnabled || parent.Kind == domain.KindThumbnail {
		return nil
	}
	if parent.Width == 0 && parent.Height == 0 {
		return nil
	}
	if parent.Width <= g.uploads.ThumbMaxWidth && parent.Height <= g.uploads.ThumbMaxHeight {
		return nil
	}

	parentDir, err := g.attachments.folders.PathFor(parent.FolderId)
	if err != nil {
		logger.Log.Warn("unknown folder for thumbnail source", "parent", parent.Id, "error", err)
		return nil
	}
	parentPath := filepath.Join(parentDir, parent.DiskName())

	derived, err := g.images.CreateThumbnail(parentPath, g.uploads.ThumbMaxWidth, g.uploads.ThumbMaxHeight)
	if err != nil {
		logger.Log.Warn("thumbnail generation failed", "parent", parent.Id, "error", err)
		return nil
	}
	if derived == nil {
		return nil
	}

	folderId, ok := g.reserve(derived.ByteSize)
	if !ok {
		if err := os.Remove(derived.SourcePath); err != nil {
			logger.Log.Warn("failed to discard unplaceable thumbnail", "parent", parent.Id, "error", err)
		}
		return nil
	}

	// The thumbnail inherits the parent name, with the extension
	// following the generated format when re-encoding changed it.
	name := parent.Filename
	if ext := domain.NormalizeExtension(name); ext != derived.FormatType {
		name = domain.ReplaceExtension(name, derived.FormatType)
	}

	staged := &domain.StagedUpload{
		TempPath:     derived.SourcePath,
		DeclaredName: name,
		DeclaredMime: derived.MimeType,
		Size:         derived.ByteSize,
		FolderId:     folderId,
		Width:        derived.Width,
		Height:       derived.Height,
	}
	thumb, err := g.attachments.Promote(staged, PromoteAttrs{
		Kind:      domain.KindThumbnail,
		MessageId: parent.MessageId,
		MemberId:  parent.MemberId,
		Approved:  parent.Approved,
	})
	if err != nil {
		logger.Log.Warn("failed to promote thumbnail", "parent", parent.Id, "error", err)
		g.tracker.Rollback(derived.ByteSize)
		if err := os.Remove(derived.SourcePath); err != nil && !os.IsNotExist(err) {
			logger.Log.Warn("failed to discard thumbnail file", "parent", parent.Id, "error", err)
		}
		return nil
	}

	previous := parent.ThumbnailId
	if err := g.attachments.storage.SetThumbnail(parent.Id, thumb.Id); err != nil {
		logger.Log.Warn("failed to link thumbnail", "parent", parent.Id, "thumbnail", thumb.Id, "error", err)
		return thumb
	}
	parent.ThumbnailId = thumb.Id
	g.attachments.cache.invalidate(parent.Id)

	if previous != 0 {
		g.dropSuperseded(previous)
	}

	metrics.ThumbnailsGenerated.Inc()
	return thumb
}

// reserve charges the thumbnail bytes against the active directory,
// rotating once on a full directory under the manual policy.
func (g *ThumbnailGenerator) reserve(byteSize int64) (domain.FolderId, bool) {
	dir, err := g.dirs.Current()
	if err != nil {
		logger.Log.Warn("no active directory for thumbnail", "error", err)
		return 0, false
	}

	limits := quota.Limits{
		MaxDirBytes:  g.uploads.MaxDirBytes,
		MaxDirFiles:  g.uploads.MaxDirFiles,
		WarnDirBytes: g.uploads.WarnDirBytes,
	}
	if err := g.tracker.Reprime(dir.Id, g.uploads.CountThumbsInQuota); err != nil {
		logger.Log.Warn("failed to prime directory usage for thumbnail", "error", err)
		return 0, false
	}
	g.tracker.TryReserve(byteSize)
	if !g.tracker.OverFull(limits) {
		return dir.Id, true
	}

	g.tracker.Rollback(byteSize)
	if g.dirs.Policy() != domain.RotateManualCounter {
		logger.Log.Warn("directory full, skipping thumbnail", "folder", dir.Id)
		return 0, false
	}
	next, err := g.dirs.RotateBySpace()
	if err != nil {
		logger.Log.Warn("directory rotation failed, skipping thumbnail", "error", err)
		return 0, false
	}
	if err := g.tracker.Reprime(next.Id, g.uploads.CountThumbsInQuota); err != nil {
		logger.Log.Warn("failed to prime rotated directory", "error", err)
		return 0, false
	}
	g.tracker.TryReserve(byteSize)
	if g.tracker.OverFull(limits) {
		g.tracker.Rollback(byteSize)
		return 0, false
	}
	return next.Id, true
}

// dropSuperseded deletes a replaced thumbnail row and file. No cascade
// runs here because a thumbnail has no dependents.
func (g *ThumbnailGenerator) dropSuperseded(id domain.AttachmentId) {
	rows, err := g.attachments.storage.GetAttachmentsByIds([]domain.AttachmentId{id}, domain.LoadFilter{})
	if err != nil || len(rows) == 0 {
		logger.Log.Warn("superseded thumbnail row missing", "id", id, "error", err)
		return
	}
	g.attachments.unlink(rows[0])
	if err := g.attachments.storage.DeleteAttachmentRows([]domain.AttachmentId{id}); err != nil {
		logger.Log.Warn("failed to delete superseded thumbnail", "id", id, "error", err)
		return
	}
	g.attachments.cache.invalidate(id)
}
