package pg

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/driftchan/driftchan/internal/domain"
	internal_errors "github.com/driftchan/driftchan/internal/errors"
)

const attachmentColumns = `
	id, kind, folder_id, message_id, member_id, content_hash, filename,
	byte_size, mime_type, width, height, approved, download_count,
	thumbnail_id, created_at`

func scanAttachment(row interface{ Scan(...any) error }) (*domain.AttachmentRecord, error) {
	var rec domain.AttachmentRecord
	var kind int
	err := row.Scan(&rec.Id, &kind, &rec.FolderId, &rec.MessageId, &rec.MemberId,
		&rec.ContentHash, &rec.Filename, &rec.ByteSize, &rec.MimeType,
		&rec.Width, &rec.Height, &rec.Approved, &rec.DownloadCount,
		&rec.ThumbnailId, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Kind = domain.AttachmentKind(kind)
	return &rec, nil
}

// InsertAttachment persists a record and returns the assigned id.
func (s *Storage) InsertAttachment(rec *domain.AttachmentRecord) (domain.AttachmentId, error) {
	createdTs := time.Now().UTC().Round(time.Microsecond) // database anyway rounds to microsecond
	var id domain.AttachmentId
	err := s.db.QueryRow(`
	INSERT INTO attachments(kind, folder_id, message_id, member_id, content_hash,
		filename, byte_size, mime_type, width, height, approved, thumbnail_id, created_at)
	VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING id`,
		int(rec.Kind), rec.FolderId, rec.MessageId, rec.MemberId, rec.ContentHash,
		rec.Filename, rec.ByteSize, rec.MimeType, rec.Width, rec.Height,
		rec.Approved, rec.ThumbnailId, createdTs).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert attachment: %w", err)
	}
	rec.Id = id
	rec.CreatedAt = createdTs
	return id, nil
}

// DeleteAttachmentRow removes a single row without touching the
// filesystem. Used to undo a failed promotion.
func (s *Storage) DeleteAttachmentRow(id domain.AttachmentId) error {
	_, err := s.db.Exec(`DELETE FROM attachments WHERE id = $1`, id)
	return err
}

func (s *Storage) GetAttachment(id domain.AttachmentId) (*domain.AttachmentRecord, error) {
	rec, err := scanAttachment(s.db.QueryRow(
		`SELECT `+attachmentColumns+` FROM attachments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &internal_errors.ErrorWithStatusCode{Message: "Attachment not found", StatusCode: 404}
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func loadFilterClauses(f domain.LoadFilter, argOffset int) (string, []any) {
	where := ""
	var args []any
	n := argOffset
	if f.Approved != nil {
		n++
		where += fmt.Sprintf(" AND approved = $%d", n)
		args = append(args, *f.Approved)
	}
	if len(f.Kinds) > 0 {
		kinds := make([]int64, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = int64(k)
		}
		n++
		where += fmt.Sprintf(" AND kind = ANY($%d)", n)
		args = append(args, pq.Array(kinds))
	}
	return where, args
}

func (s *Storage) queryAttachments(column string, ids []int64, filter domain.LoadFilter) ([]*domain.AttachmentRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	where, args := loadFilterClauses(filter, 1)
	args = append([]any{pq.Array(ids)}, args...)

	rows, err := s.db.Query(`
	SELECT `+attachmentColumns+`
	FROM attachments
	WHERE `+column+` = ANY($1)`+where+`
	ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load attachments by %s: %w", column, err)
	}
	defer rows.Close()

	var out []*domain.AttachmentRecord
	for rows.Next() {
		rec, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Storage) GetAttachmentsByIds(ids []domain.AttachmentId, filter domain.LoadFilter) ([]*domain.AttachmentRecord, error) {
	return s.queryAttachments("id", ids, filter)
}

func (s *Storage) GetAttachmentsByMessages(ids []domain.MessageId, filter domain.LoadFilter) ([]*domain.AttachmentRecord, error) {
	return s.queryAttachments("message_id", ids, filter)
}

func (s *Storage) GetAttachmentsByMembers(ids []domain.MemberId, filter domain.LoadFilter) ([]*domain.AttachmentRecord, error) {
	return s.queryAttachments("member_id", ids, filter)
}

// DirectoryUsage returns byte/file totals for one folder.
func (s *Storage) DirectoryUsage(folderId domain.FolderId, includeThumbs bool) (int64, int, error) {
	query := `
	SELECT COALESCE(SUM(byte_size), 0), COUNT(*)
	FROM attachments
	WHERE folder_id = $1`
	args := []any{folderId}
	if !includeThumbs {
		query += ` AND kind <> $2`
		args = append(args, int(domain.KindThumbnail))
	}

	var bytes int64
	var files int
	if err := s.db.QueryRow(query, args...).Scan(&bytes, &files); err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate directory usage: %w", err)
	}
	return bytes, files, nil
}

// PostUsage returns totals of the approved standard attachments already
// on a post. messageId 0 (no post yet) reports zero.
func (s *Storage) PostUsage(messageId domain.MessageId) (int64, int, error) {
	if messageId == 0 {
		return 0, 0, nil
	}
	var bytes int64
	var files int
	err := s.db.QueryRow(`
	SELECT COALESCE(SUM(byte_size), 0), COUNT(*)
	FROM attachments
	WHERE message_id = $1 AND kind = $2 AND approved`,
		messageId, int(domain.KindStandard)).Scan(&bytes, &files)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate post usage: %w", err)
	}
	return bytes, files, nil
}

// SetApproved flips moderation state.
func (s *Storage) SetApproved(id domain.AttachmentId, approved bool) error {
	result, err := s.db.Exec(`UPDATE attachments SET approved = $2 WHERE id = $1`, id, approved)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &internal_errors.ErrorWithStatusCode{Message: "Attachment not found", StatusCode: 404}
	}
	return nil
}

// SetThumbnail points a parent at its thumbnail row (0 clears).
func (s *Storage) SetThumbnail(parentId, thumbId domain.AttachmentId) error {
	_, err := s.db.Exec(`UPDATE attachments SET thumbnail_id = $2 WHERE id = $1`, parentId, thumbId)
	return err
}

// ClearThumbnailRefs zeroes every reference to the given thumbnail row.
func (s *Storage) ClearThumbnailRefs(thumbId domain.AttachmentId) error {
	_, err := s.db.Exec(`UPDATE attachments SET thumbnail_id = 0 WHERE thumbnail_id = $1`, thumbId)
	return err
}

// IncrementDownloadCount bumps the counter and returns the new value.
func (s *Storage) IncrementDownloadCount(id domain.AttachmentId) (int64, error) {
	var n int64
	err := s.db.QueryRow(`
	UPDATE attachments SET download_count = download_count + 1
	WHERE id = $1
	RETURNING download_count`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &internal_errors.ErrorWithStatusCode{Message: "Attachment not found", StatusCode: 404}
	}
	return n, err
}

// OrphanedThumbnails lists thumbnail rows no parent references.
func (s *Storage) OrphanedThumbnails() ([]*domain.AttachmentRecord, error) {
	rows, err := s.db.Query(`
	SELECT `+attachmentColumns+`
	FROM attachments t
	WHERE t.kind = $1
	  AND NOT EXISTS (SELECT 1 FROM attachments p WHERE p.thumbnail_id = t.id)
	ORDER BY id`, int(domain.KindThumbnail))
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned thumbnails: %w", err)
	}
	defer rows.Close()

	var out []*domain.AttachmentRecord
	for rows.Next() {
		rec, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ClearDanglingThumbnailRefs zeroes thumbnail_id pointers whose target
// row no longer exists, returning how many were cleared.
func (s *Storage) ClearDanglingThumbnailRefs() (int64, error) {
	result, err := s.db.Exec(`
	UPDATE attachments a SET thumbnail_id = 0
	WHERE a.thumbnail_id <> 0
	  AND NOT EXISTS (SELECT 1 FROM attachments t WHERE t.id = a.thumbnail_id)`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
