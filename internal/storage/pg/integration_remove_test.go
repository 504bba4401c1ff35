package pg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftchan/driftchan/internal/domain"
)

func insertTestMessage(t *testing.T, topicId domain.TopicId) domain.MessageId {
	t.Helper()
	var id domain.MessageId
	require.NoError(t, storage.db.QueryRow(
		`INSERT INTO messages(topic_id) VALUES($1) RETURNING id`, topicId).Scan(&id))
	t.Cleanup(func() {
		_, err := storage.db.Exec(`DELETE FROM messages WHERE id = $1`, id)
		require.NoError(t, err)
	})
	return id
}

func removalIds(recs []*domain.AttachmentRecord) []domain.AttachmentId {
	var ids []domain.AttachmentId
	for _, r := range recs {
		ids = append(ids, r.Id)
	}
	return ids
}

func TestSelectForRemoval(t *testing.T) {
	t.Run("empty filter is rejected", func(t *testing.T) {
		_, err := storage.SelectForRemoval(domain.RemoveFilter{})
		require.Error(t, err)
	})

	t.Run("by attachment ids", func(t *testing.T) {
		a := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, Approved: true})
		b := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, Approved: true})

		got, err := storage.SelectForRemoval(domain.RemoveFilter{}.WithAttachments(a.Id, b.Id))
		require.NoError(t, err)
		assert.Equal(t, []domain.AttachmentId{a.Id, b.Id}, removalIds(got))
	})

	t.Run("by message excluding thumbnails", func(t *testing.T) {
		msgId := domain.MessageId(6001)
		std := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, MessageId: msgId, Approved: true})
		insertTestAttachment(t, domain.AttachmentRecord{Kind: domain.KindThumbnail, FolderId: 1, MessageId: msgId, Approved: true})

		got, err := storage.SelectForRemoval(
			domain.RemoveFilter{}.WithMessages(msgId).WithoutKind(domain.KindThumbnail))
		require.NoError(t, err)
		assert.Equal(t, []domain.AttachmentId{std.Id}, removalIds(got))
	})

	t.Run("by topic through the messages table", func(t *testing.T) {
		topicId := domain.TopicId(7001)
		msgA := insertTestMessage(t, topicId)
		msgB := insertTestMessage(t, topicId)
		otherMsg := insertTestMessage(t, 7002)

		a := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, MessageId: msgA, Approved: true})
		b := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, MessageId: msgB, Approved: true})
		insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, MessageId: otherMsg, Approved: true})

		got, err := storage.SelectForRemoval(domain.RemoveFilter{}.WithTopics(topicId))
		require.NoError(t, err)
		assert.Equal(t, []domain.AttachmentId{a.Id, b.Id}, removalIds(got))
	})

	t.Run("by member and kind", func(t *testing.T) {
		memberId := domain.MemberId(8001)
		avatar := insertTestAttachment(t, domain.AttachmentRecord{Kind: domain.KindAvatar, FolderId: 1, MemberId: memberId, Approved: true})
		insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, MemberId: memberId, Approved: true})

		got, err := storage.SelectForRemoval(
			domain.RemoveFilter{}.WithMembers(memberId).WithKind(domain.KindAvatar))
		require.NoError(t, err)
		assert.Equal(t, []domain.AttachmentId{avatar.Id}, removalIds(got))
	})

	t.Run("by age and size", func(t *testing.T) {
		small := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, ByteSize: 10, Approved: true})
		big := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, ByteSize: 5000, Approved: true})

		cutoff := time.Now().Add(time.Hour)
		got, err := storage.SelectForRemoval(
			domain.RemoveFilter{}.WithAttachments(small.Id, big.Id).WithOlderThan(cutoff).WithLargerThan(100))
		require.NoError(t, err)
		assert.Equal(t, []domain.AttachmentId{big.Id}, removalIds(got))
	})

	t.Run("negated id condition", func(t *testing.T) {
		msgId := domain.MessageId(9001)
		keep := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, MessageId: msgId, Approved: true})
		drop := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, MessageId: msgId, Approved: true})

		got, err := storage.SelectForRemoval(
			domain.RemoveFilter{}.WithMessages(msgId).WithAttachments(keep.Id).Negate())
		require.NoError(t, err)
		assert.Equal(t, []domain.AttachmentId{drop.Id}, removalIds(got))
	})
}

func TestDeleteAttachmentRows(t *testing.T) {
	a := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, Approved: true})
	b := insertTestAttachment(t, domain.AttachmentRecord{FolderId: 1, Approved: true})

	require.NoError(t, storage.DeleteAttachmentRows([]domain.AttachmentId{a.Id, b.Id}))
	_, err := storage.GetAttachment(a.Id)
	assert.Error(t, err)
	_, err = storage.GetAttachment(b.Id)
	assert.Error(t, err)

	t.Run("empty list is a no-op", func(t *testing.T) {
		require.NoError(t, storage.DeleteAttachmentRows(nil))
	})
}
