package pg

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/driftchan/driftchan/internal/domain"
)

// buildRemoveWhere turns a RemoveFilter into a parameterized WHERE
// clause. The typed conditions keep the same expressive power the
// removal predicate needs without any string-concatenated values.
func buildRemoveWhere(filter domain.RemoveFilter) (string, []any, error) {
	if len(filter.Conditions) == 0 {
		return "", nil, fmt.Errorf("removal filter must have at least one condition")
	}

	var clauses []string
	var args []any
	for _, c := range filter.Conditions {
		n := len(args) + 1
		var clause string
		switch c.Field {
		case domain.ByAttachmentId:
			clause = fmt.Sprintf("id = ANY($%d)", n)
			args = append(args, pq.Array(c.Ids))
		case domain.ByMessageId:
			clause = fmt.Sprintf("message_id = ANY($%d)", n)
			args = append(args, pq.Array(c.Ids))
		case domain.ByMemberId:
			clause = fmt.Sprintf("member_id = ANY($%d)", n)
			args = append(args, pq.Array(c.Ids))
		case domain.ByTopicId:
			clause = fmt.Sprintf("message_id IN (SELECT id FROM messages WHERE topic_id = ANY($%d))", n)
			args = append(args, pq.Array(c.Ids))
		case domain.ByKind:
			clause = fmt.Sprintf("kind = $%d", n)
			args = append(args, int(c.Kind))
		case domain.ByOlderThan:
			clause = fmt.Sprintf("created_at < $%d", n)
			args = append(args, c.Time)
		case domain.ByLargerThan:
			clause = fmt.Sprintf("byte_size > $%d", n)
			args = append(args, c.Size)
		default:
			return "", nil, fmt.Errorf("unknown removal field %d", c.Field)
		}
		if c.Negated {
			clause = "NOT (" + clause + ")"
		}
		clauses = append(clauses, clause)
	}
	return strings.Join(clauses, " AND "), args, nil
}

// SelectForRemoval returns the rows a filter matches, ordered by id.
func (s *Storage) SelectForRemoval(filter domain.RemoveFilter) ([]*domain.AttachmentRecord, error) {
	where, args, err := buildRemoveWhere(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
	SELECT `+attachmentColumns+`
	FROM attachments
	WHERE `+where+`
	ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments for removal: %w", err)
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

// DeleteAttachmentRows removes rows by id.
func (s *Storage) DeleteAttachmentRows(ids []domain.AttachmentId) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(`DELETE FROM attachments WHERE id = ANY($1)`, pq.Array(ids))
	return err
}
