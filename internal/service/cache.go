package service

import (
	"sync"

	"github.com/driftchan/driftchan/internal/domain"
)

// recordCache is the in-process attachment cache. It is keyed by id;
// the by-message and by-member indexes only record id sets that were
// fully loaded once, so a hit can be served without the store.
type recordCache struct {
	mu       sync.RWMutex
	byId     map[domain.AttachmentId]*domain.AttachmentRecord
	byMsg    map[domain.MessageId][]domain.AttachmentId
	byMember map[domain.MemberId][]domain.AttachmentId
}

func newRecordCache() *recordCache {
	return &recordCache{
		byId:     make(map[domain.AttachmentId]*domain.AttachmentRecord),
		byMsg:    make(map[domain.MessageId][]domain.AttachmentId),
		byMember: make(map[domain.MemberId][]domain.AttachmentId),
	}
}

func (c *recordCache) get(id domain.AttachmentId) (*domain.AttachmentRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.byId[id]
	return rec, ok
}

func (c *recordCache) put(recs ...*domain.AttachmentRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range recs {
		c.byId[rec.Id] = rec
	}
}

// indexMessage records the complete id set of one message.
func (c *recordCache) indexMessage(msgId domain.MessageId, ids []domain.AttachmentId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byMsg[msgId] = ids
}

func (c *recordCache) indexMember(memberId domain.MemberId, ids []domain.AttachmentId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byMember[memberId] = ids
}

func (c *recordCache) messageIds(msgId domain.MessageId) ([]domain.AttachmentId, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids, ok := c.byMsg[msgId]
	return ids, ok
}

func (c *recordCache) memberIds(memberId domain.MemberId) ([]domain.AttachmentId, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids, ok := c.byMember[memberId]
	return ids, ok
}

// invalidate drops records and any index entry mentioning them.
func (c *recordCache) invalidate(ids ...domain.AttachmentId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	drop := make(map[domain.AttachmentId]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
		delete(c.byId, id)
	}
	for msgId, msgIds := range c.byMsg {
		for _, id := range msgIds {
			if drop[id] {
				delete(c.byMsg, msgId)
				break
			}
		}
	}
	for memberId, memberIds := range c.byMember {
		for _, id := range memberIds {
			if drop[id] {
				delete(c.byMember, memberId)
				break
			}
		}
	}
}
