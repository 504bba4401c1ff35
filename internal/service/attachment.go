// Package service implements attachment persistence: promotion of
// staged uploads, bulk loading with caching, cascade-bounded removal
// and thumbnail management.
package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/driftchan/driftchan/internal/domain"
	internal_errors "github.com/driftchan/driftchan/internal/errors"
	"github.com/driftchan/driftchan/internal/hooks"
	"github.com/driftchan/driftchan/internal/logger"
	"github.com/driftchan/driftchan/internal/metrics"
)

// AttachmentStorage is the slice of the persistent store this service
// consumes.
type AttachmentStorage interface {
	InsertAttachment(rec *domain.AttachmentRecord) (domain.AttachmentId, error)
	DeleteAttachmentRow(id domain.AttachmentId) error
	GetAttachmentsByIds(ids []domain.AttachmentId, filter domain.LoadFilter) ([]*domain.AttachmentRecord, error)
	GetAttachmentsByMessages(ids []domain.MessageId, filter domain.LoadFilter) ([]*domain.AttachmentRecord, error)
	GetAttachmentsByMembers(ids []domain.MemberId, filter domain.LoadFilter) ([]*domain.AttachmentRecord, error)
	SelectForRemoval(filter domain.RemoveFilter) ([]*domain.AttachmentRecord, error)
	DeleteAttachmentRows(ids []domain.AttachmentId) error
	SetApproved(id domain.AttachmentId, approved bool) error
	SetThumbnail(parentId, thumbId domain.AttachmentId) error
	ClearThumbnailRefs(thumbId domain.AttachmentId) error
	IncrementDownloadCount(id domain.AttachmentId) (int64, error)
	InsertModerationQueueEntry(attachmentId domain.AttachmentId, messageId domain.MessageId) error
	DeleteModerationQueueEntry(attachmentId domain.AttachmentId) error
	InsertDeferredTask(task, payload string) error
	InsertModerationLog(action string, attachmentId domain.AttachmentId, filename string) error
}

// FolderResolver maps folder ids to physical paths.
type FolderResolver interface {
	PathFor(id domain.FolderId) (string, error)
}

// IdDeriver produces the content hash for a staged file.
type IdDeriver interface {
	DeriveID(input string) (string, error)
}

type Attachments struct {
	storage AttachmentStorage
	folders FolderResolver
	hasher  IdDeriver
	events  *hooks.Dispatcher
	cache   *recordCache
}

func NewAttachments(storage AttachmentStorage, folders FolderResolver, hasher IdDeriver, events *hooks.Dispatcher) *Attachments {
	if events == nil {
		events = hooks.NewDispatcher()
	}
	return &Attachments{
		storage: storage,
		folders: folders,
		hasher:  hasher,
		events:  events,
		cache:   newRecordCache(),
	}
}

// PromoteAttrs are the attributes the surrounding post submission
// supplies at promotion time.
type PromoteAttrs struct {
	Kind      domain.AttachmentKind
	MessageId domain.MessageId
	MemberId  domain.MemberId
	Approved  bool
}

// Promote turns a staged upload into a persisted AttachmentRecord:
// content hash, insert (assigns the id), rename into the permanent
// content-addressed path. After a successful return exactly one row
// resolves to an existing file; after a failure no row exists and the
// temp file is still at its staged path.
func (a *Attachments) Promote(staged *domain.StagedUpload, attrs PromoteAttrs) (*domain.AttachmentRecord, error) {
	if staged.Failed() {
		return nil, fmt.Errorf("refusing to promote a staged upload with validation errors")
	}

	hash, err := a.hasher.DeriveID(staged.TempPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internal_errors.ErrPersistFailed, err)
	}

	name := domain.ReplaceExtension(staged.DeclaredName, domain.NormalizeExtension(staged.DeclaredName))
	rec := &domain.AttachmentRecord{
		Kind:        attrs.Kind,
		FolderId:    staged.FolderId,
		MessageId:   attrs.MessageId,
		MemberId:    attrs.MemberId,
		ContentHash: hash,
		Filename:    name,
		ByteSize:    staged.Size,
		MimeType:    staged.DeclaredMime,
		Width:       staged.Width,
		Height:      staged.Height,
		Approved:    attrs.Approved,
	}

	a.events.Dispatch(hooks.BeforeCreate, &hooks.Payload{Record: rec})

	if _, err := a.storage.InsertAttachment(rec); err != nil {
		return nil, fmt.Errorf("%w: %v", internal_errors.ErrPersistFailed, err)
	}

	folderPath, err := a.folders.PathFor(rec.FolderId)
	if err == nil {
		err = os.Rename(staged.TempPath, filepath.Join(folderPath, rec.DiskName()))
	}
	if err != nil {
		// Undo the insert; the temp file stays where it was.
		if delErr := a.storage.DeleteAttachmentRow(rec.Id); delErr != nil {
			logger.Log.Error("failed to undo attachment insert", "id", rec.Id, "error", delErr)
		}
		return nil, fmt.Errorf("%w: %v", internal_errors.ErrCannotMove, err)
	}

	if !attrs.Approved {
		// Feed the moderation queue; failures here must not lose the
		// already-promoted file.
		if err := a.storage.InsertModerationQueueEntry(rec.Id, rec.MessageId); err != nil {
			logger.Log.Error("failed to queue attachment for moderation", "id", rec.Id, "error", err)
		}
		payload := fmt.Sprintf(`{"attachment_id":%d,"message_id":%d}`, rec.Id, rec.MessageId)
		if err := a.storage.InsertDeferredTask("approval_notify", payload); err != nil {
			logger.Log.Error("failed to queue approval notification", "id", rec.Id, "error", err)
		}
	}

	a.cache.put(rec)
	metrics.Promotions.WithLabelValues(rec.Kind.String()).Inc()
	a.events.Dispatch(hooks.AfterCreate, &hooks.Payload{Record: rec})
	return rec, nil
}

// LoadByIds serves from the id cache first and batch-queries the rest.
// Results come back ordered by id.
func (a *Attachments) LoadByIds(ids []domain.AttachmentId, filter domain.LoadFilter) ([]*domain.AttachmentRecord, error) {
	a.events.Dispatch(hooks.BeforeLoad, &hooks.Payload{})

	var out []*domain.AttachmentRecord
	var missing []domain.AttachmentId
	for _, id := range ids {
		if rec, ok := a.cache.get(id); ok {
			if filter.Matches(rec) {
				out = append(out, rec)
			}
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		// The store applies the filter itself; rows filtered out are
		// not cached so a later unfiltered load still finds them.
		fetched, err := a.storage.GetAttachmentsByIds(missing, filter)
		if err != nil {
			return nil, err
		}
		a.cache.put(fetched...)
		out = append(out, fetched...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	a.events.Dispatch(hooks.AfterLoad, &hooks.Payload{Records: out})
	return out, nil
}

// LoadByMessages returns every attachment of the given posts, caching
// the per-message id sets as a side effect.
func (a *Attachments) LoadByMessages(ids []domain.MessageId, filter domain.LoadFilter) ([]*domain.AttachmentRecord, error) {
	a.events.Dispatch(hooks.BeforeLoad, &hooks.Payload{})

	var out []*domain.AttachmentRecord
	var missing []domain.MessageId
	for _, msgId := range ids {
		attIds, ok := a.cache.messageIds(msgId)
		if !ok {
			missing = append(missing, msgId)
			continue
		}
		for _, id := range attIds {
			if rec, cached := a.cache.get(id); cached && filter.Matches(rec) {
				out = append(out, rec)
			}
		}
	}

	if len(missing) > 0 {
		// Index population needs the unfiltered set per message.
		fetched, err := a.storage.GetAttachmentsByMessages(missing, domain.LoadFilter{})
		if err != nil {
			return nil, err
		}
		a.cache.put(fetched...)
		byMsg := make(map[domain.MessageId][]domain.AttachmentId)
		for _, rec := range fetched {
			byMsg[rec.MessageId] = append(byMsg[rec.MessageId], rec.Id)
			if filter.Matches(rec) {
				out = append(out, rec)
			}
		}
		for _, msgId := range missing {
			a.cache.indexMessage(msgId, byMsg[msgId])
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	a.events.Dispatch(hooks.AfterLoad, &hooks.Payload{Records: out})
	return out, nil
}

// LoadByMembers mirrors LoadByMessages for avatar/member lookups.
func (a *Attachments) LoadByMembers(ids []domain.MemberId, filter domain.LoadFilter) ([]*domain.AttachmentRecord, error) {
	a.events.Dispatch(hooks.BeforeLoad, &hooks.Payload{})

	var out []*domain.AttachmentRecord
	var missing []domain.MemberId
	for _, memberId := range ids {
		attIds, ok := a.cache.memberIds(memberId)
		if !ok {
			missing = append(missing, memberId)
			continue
		}
		for _, id := range attIds {
			if rec, cached := a.cache.get(id); cached && filter.Matches(rec) {
				out = append(out, rec)
			}
		}
	}

	if len(missing) > 0 {
		fetched, err := a.storage.GetAttachmentsByMembers(missing, domain.LoadFilter{})
		if err != nil {
			return nil, err
		}
		a.cache.put(fetched...)
		byMember := make(map[domain.MemberId][]domain.AttachmentId)
		for _, rec := range fetched {
			byMember[rec.MemberId] = append(byMember[rec.MemberId], rec.Id)
			if filter.Matches(rec) {
				out = append(out, rec)
			}
		}
		for _, memberId := range missing {
			a.cache.indexMember(memberId, byMember[memberId])
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	a.events.Dispatch(hooks.AfterLoad, &hooks.Payload{Records: out})
	return out, nil
}

// Approve flips moderation state and clears the queue entry.
func (a *Attachments) Approve(id domain.AttachmentId) error {
	a.events.Dispatch(hooks.BeforeApprove, &hooks.Payload{})
	if err := a.storage.SetApproved(id, true); err != nil {
		return err
	}
	if err := a.storage.DeleteModerationQueueEntry(id); err != nil {
		logger.Log.Warn("failed to clear moderation queue entry", "id", id, "error", err)
	}
	a.cache.invalidate(id)
	a.events.Dispatch(hooks.AfterApprove, &hooks.Payload{})
	return nil
}

// Unapprove sends an attachment back to the moderation queue.
func (a *Attachments) Unapprove(id domain.AttachmentId) error {
	a.events.Dispatch(hooks.BeforeApprove, &hooks.Payload{})
	if err := a.storage.SetApproved(id, false); err != nil {
		return err
	}
	recs, err := a.storage.GetAttachmentsByIds([]domain.AttachmentId{id}, domain.LoadFilter{})
	if err == nil && len(recs) > 0 {
		if err := a.storage.InsertModerationQueueEntry(id, recs[0].MessageId); err != nil {
			logger.Log.Warn("failed to re-queue attachment for moderation", "id", id, "error", err)
		}
	}
	a.cache.invalidate(id)
	a.events.Dispatch(hooks.AfterApprove, &hooks.Payload{})
	return nil
}

// RegisterDownload bumps the download counter.
func (a *Attachments) RegisterDownload(id domain.AttachmentId) (int64, error) {
	n, err := a.storage.IncrementDownloadCount(id)
	if err != nil {
		return 0, err
	}
	a.cache.invalidate(id)
	return n, nil
}
