package pg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftchan/driftchan/internal/domain"
	internal_errors "github.com/driftchan/driftchan/internal/errors"
)

// insertTestAttachment persists a record and schedules row cleanup.
func insertTestAttachment(t *testing.T, rec domain.AttachmentRecord) *domain.AttachmentRecord {
	t.Helper()
	if rec.ContentHash == "" {
		rec.ContentHash = "deadbeef"
	}
	if rec.Filename == "" {
		rec.Filename = "file.jpg"
	}
	_, err := storage.InsertAttachment(&rec)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, storage.DeleteAttachmentRow(rec.Id))
	})
	return &rec
}

func TestInsertAndGetAttachment(t *testing.T) {
	rec := insertTestAttachment(t, domain.AttachmentRecord{
		Kind:      domain.KindStandard,
		FolderId:  1,
		MessageId: 100,
		Filename:  "holiday.png",
		ByteSize:  2048,
		MimeType:  "image/png",
		Width:     640,
		Height:    480,
		Approved:  true,
	})
	require.NotZero(t, rec.Id)
	require.False(t, rec.CreatedAt.IsZero())

	t.Run("round trips every column", func(t *testing.T) {
		got, err := storage.GetAttachment(rec.Id)
		require.NoError(t, err)
		assert.Equal(t, rec.Filename, got.Filename)
		assert.Equal(t, rec.ByteSize, got.ByteSize)
		assert.Equal(t, rec.MimeType, got.MimeType)
		assert.Equal(t, rec.Width, got.Width)
		assert.Equal(t, rec.Height, got.Height)
		assert.True(t, got.Approved)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("missing id returns 404", func(t *testing.T) {
		_, err := storage.GetAttachment(999999)
		var statusErr *internal_errors.ErrorWithStatusCode
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, 404, statusErr.StatusCode)
	})
}

func TestGetAttachmentsBulk(t *testing.T) {
	msgId := domain.MessageId(2001)
	memberId := domain.MemberId(3001)
	a := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, MessageId: msgId, ByteSize: 10, Approved: true})
	b := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, MessageId: msgId, ByteSize: 20, Approved: false})
	c := insertTestAttachment(t, domain.AttachmentRecord{Kind: domain.KindAvatar, FolderId: 1, MemberId: memberId, ByteSize: 30, Approved: true})

	t.Run("by ids ordered by id", func(t *testing.T) {
		got, err := storage.GetAttachmentsByIds([]domain.AttachmentId{c.Id, a.Id, b.Id}, domain.LoadFilter{})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, a.Id, got[0].Id)
		assert.Equal(t, b.Id, got[1].Id)
		assert.Equal(t, c.Id, got[2].Id)
	})

	t.Run("by message with approved filter", func(t *testing.T) {
		approved := true
		got, err := storage.GetAttachmentsByMessages([]domain.MessageId{msgId}, domain.LoadFilter{Approved: &approved})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, a.Id, got[0].Id)
	})

	t.Run("by member with kind filter", func(t *testing.T) {
		got, err := storage.GetAttachmentsByMembers([]domain.MemberId{memberId},
			domain.LoadFilter{Kinds: []domain.AttachmentKind{domain.KindAvatar}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, c.Id, got[0].Id)
	})

	t.Run("empty id list is a no-op", func(t *testing.T) {
		got, err := storage.GetAttachmentsByIds(nil, domain.LoadFilter{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestDirectoryAndPostUsage(t *testing.T) {
	folderId := domain.FolderId(77)
	msgId := domain.MessageId(4001)
	insertTestAttachment(t, domain.AttachmentRecord{FolderId: folderId, MessageId: msgId, ByteSize: 100, Approved: true})
	insertTestAttachment(t, domain.AttachmentRecord{FolderId: folderId, MessageId: msgId, ByteSize: 50, Approved: false})
	insertTestAttachment(t, domain.AttachmentRecord{Kind: domain.KindThumbnail, FolderId: folderId, MessageId: msgId, ByteSize: 7, Approved: true})

	t.Run("directory usage excludes thumbnails by default", func(t *testing.T) {
		bytes, files, err := storage.DirectoryUsage(folderId, false)
		require.NoError(t, err)
		assert.Equal(t, int64(150), bytes)
		assert.Equal(t, 2, files)
	})

	t.Run("directory usage can include thumbnails", func(t *testing.T) {
		bytes, files, err := storage.DirectoryUsage(folderId, true)
		require.NoError(t, err)
		assert.Equal(t, int64(157), bytes)
		assert.Equal(t, 3, files)
	})

	t.Run("post usage counts only approved standard attachments", func(t *testing.T) {
		bytes, files, err := storage.PostUsage(msgId)
		require.NoError(t, err)
		assert.Equal(t, int64(100), bytes)
		assert.Equal(t, 1, files)
	})

	t.Run("post usage for message 0 is zero", func(t *testing.T) {
		bytes, files, err := storage.PostUsage(0)
		require.NoError(t, err)
		assert.Zero(t, bytes)
		assert.Zero(t, files)
	})
}

func TestModerationState(t *testing.T) {
	rec := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, Approved: false})

	require.NoError(t, storage.SetApproved(rec.Id, true))
	got, err := storage.GetAttachment(rec.Id)
	require.NoError(t, err)
	assert.True(t, got.Approved)

	t.Run("missing id returns 404", func(t *testing.T) {
		err := storage.SetApproved(999999, true)
		var statusErr *internal_errors.ErrorWithStatusCode
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, 404, statusErr.StatusCode)
	})
}

func TestDownloadCounter(t *testing.T) {
	rec := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, Approved: true})

	n, err := storage.IncrementDownloadCount(rec.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = storage.IncrementDownloadCount(rec.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = storage.IncrementDownloadCount(999999)
	assert.Error(t, err)
}

func TestThumbnailBookkeeping(t *testing.T) {
	parent := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, Approved: true})
	thumb := insertTestAttachment(t, domain.AttachmentRecord{Kind: domain.KindThumbnail, FolderId: 1, Approved: true})
	require.NoError(t, storage.SetThumbnail(parent.Id, thumb.Id))

	t.Run("a referenced thumbnail is not orphaned", func(t *testing.T) {
		orphans, err := storage.OrphanedThumbnails()
		require.NoError(t, err)
		for _, o := range orphans {
			assert.NotEqual(t, thumb.Id, o.Id)
		}
	})

	t.Run("clearing refs orphans the thumbnail", func(t *testing.T) {
		require.NoError(t, storage.ClearThumbnailRefs(thumb.Id))
		got, err := storage.GetAttachment(parent.Id)
		require.NoError(t, err)
		assert.Zero(t, got.ThumbnailId)

		orphans, err := storage.OrphanedThumbnails()
		require.NoError(t, err)
		found := false
		for _, o := range orphans {
			if o.Id == thumb.Id {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("dangling pointers get cleared", func(t *testing.T) {
		ghost := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, Approved: true})
		require.NoError(t, storage.SetThumbnail(ghost.Id, 424242))

		n, err := storage.ClearDanglingThumbnailRefs()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		got, err := storage.GetAttachment(ghost.Id)
		require.NoError(t, err)
		assert.Zero(t, got.ThumbnailId)
	})
}

func TestModerationQueueAndTasks(t *testing.T) {
	rec := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, MessageId: 5001, Approved: false})

	require.NoError(t, storage.InsertModerationQueueEntry(rec.Id, rec.MessageId))
	// Re-queueing the same attachment must not fail.
	require.NoError(t, storage.InsertModerationQueueEntry(rec.Id, rec.MessageId))
	require.NoError(t, storage.DeleteModerationQueueEntry(rec.Id))

	require.NoError(t, storage.InsertDeferredTask("approval_notify", `{"attachment_id":1}`))
	require.NoError(t, storage.InsertModerationLog("remove_attachment", rec.Id, rec.Filename))
}

func TestCreatedAtPrecision(t *testing.T) {
	rec := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, Approved: true})
	got, err := storage.GetAttachment(rec.Id)
	require.NoError(t, err)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)
}
