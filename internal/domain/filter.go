package domain

import "time"

// LoadFilter narrows bulk attachment loads. Nil Approved means both
// moderation states; empty Kinds means every kind.
type LoadFilter struct {
	Approved *bool
	Kinds    []AttachmentKind
}

// Matches reports whether a record passes the filter.
func (f LoadFilter) Matches(rec *AttachmentRecord) bool {
	if f.Approved != nil && rec.Approved != *f.Approved {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if rec.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// RemoveField enumerates the columns a bulk removal can match on.
type RemoveField int

const (
	ByAttachmentId RemoveField = iota
	ByMessageId
	ByMemberId
	ByTopicId
	ByKind
	ByOlderThan
	ByLargerThan
)

// RemoveCondition is one clause of a bulk-removal predicate. Ids holds
// the operand for the id-set fields, Kind/Time/Size for the rest.
// Negated inverts the clause.
type RemoveCondition struct {
	Field   RemoveField
	Negated bool
	Ids     []int64
	Kind    AttachmentKind
	Time    time.Time
	Size    int64
}

// RemoveFilter is a conjunction of conditions built with the With*
// helpers. An empty filter matches nothing; callers must add at least
// one condition.
type RemoveFilter struct {
	Conditions []RemoveCondition
}

func (f RemoveFilter) with(c RemoveCondition) RemoveFilter {
	f.Conditions = append(f.Conditions, c)
	return f
}

func (f RemoveFilter) WithAttachments(ids ...AttachmentId) RemoveFilter {
	return f.with(RemoveCondition{Field: ByAttachmentId, Ids: ids})
}

func (f RemoveFilter) WithMessages(ids ...MessageId) RemoveFilter {
	return f.with(RemoveCondition{Field: ByMessageId, Ids: ids})
}

func (f RemoveFilter) WithMembers(ids ...MemberId) RemoveFilter {
	return f.with(RemoveCondition{Field: ByMemberId, Ids: ids})
}

func (f RemoveFilter) WithTopics(ids ...TopicId) RemoveFilter {
	return f.with(RemoveCondition{Field: ByTopicId, Ids: ids})
}

func (f RemoveFilter) WithKind(k AttachmentKind) RemoveFilter {
	return f.with(RemoveCondition{Field: ByKind, Kind: k})
}

func (f RemoveFilter) WithoutKind(k AttachmentKind) RemoveFilter {
	return f.with(RemoveCondition{Field: ByKind, Kind: k, Negated: true})
}

func (f RemoveFilter) WithOlderThan(t time.Time) RemoveFilter {
	return f.with(RemoveCondition{Field: ByOlderThan, Time: t})
}

func (f RemoveFilter) WithLargerThan(bytes int64) RemoveFilter {
	return f.with(RemoveCondition{Field: ByLargerThan, Size: bytes})
}

// Negate flips the last added condition. No-op on an empty filter.
func (f RemoveFilter) Negate() RemoveFilter {
	if len(f.Conditions) > 0 {
		f.Conditions[len(f.Conditions)-1].Negated = true
	}
	return f
}
