package pg

import (
	"time"

	"github.com/driftchan/driftchan/internal/domain"
)

// Moderation-side rows written at promotion and removal time. The
// moderation UI itself is a separate service; these tables are its
// feed.

func (s *Storage) InsertModerationQueueEntry(attachmentId domain.AttachmentId, messageId domain.MessageId) error {
	_, err := s.db.Exec(`
	INSERT INTO moderation_queue(attachment_id, message_id, created_at)
	VALUES($1, $2, $3)
	ON CONFLICT (attachment_id) DO NOTHING`,
		attachmentId, messageId, time.Now().UTC())
	return err
}

func (s *Storage) DeleteModerationQueueEntry(attachmentId domain.AttachmentId) error {
	_, err := s.db.Exec(`DELETE FROM moderation_queue WHERE attachment_id = $1`, attachmentId)
	return err
}

// InsertDeferredTask queues a background task (e.g. the approval
// notification) for the surrounding system's worker to pick up.
func (s *Storage) InsertDeferredTask(task, payload string) error {
	_, err := s.db.Exec(`
	INSERT INTO deferred_tasks(task, payload, created_at)
	VALUES($1, $2, $3)`, task, payload, time.Now().UTC())
	return err
}

// InsertModerationLog records one removal for the audit trail.
func (s *Storage) InsertModerationLog(action string, attachmentId domain.AttachmentId, filename string) error {
	_, err := s.db.Exec(`
	INSERT INTO moderation_log(action, attachment_id, filename, created_at)
	VALUES($1, $2, $3, $4)`, action, attachmentId, filename, time.Now().UTC())
	return err
}
