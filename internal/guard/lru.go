package guard

import (
	"container/list"
	"sync"
	"time"
)

// lruSet remembers recently seen ids, bounded by capacity and age.
// Lookups refresh recency; expired entries are dropped lazily.
type lruSet struct {
	mu    sync.Mutex
	cap   int
	ttl   time.Duration
	order *list.List
	items map[string]*list.Element

	now func() time.Time
}

type lruEntry struct {
	id      string
	addedAt time.Time
}

func newLRUSet(capacity int, ttl time.Duration) *lruSet {
	return &lruSet{
		cap:   capacity,
		ttl:   ttl,
		order: list.New(),
		items: make(map[string]*list.Element),
		now:   time.Now,
	}
}

// Seen reports whether id was recorded within the TTL, recording it
// either way.
func (s *lruSet) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if el, ok := s.items[id]; ok {
		entry := el.Value.(*lruEntry)
		if now.Sub(entry.addedAt) <= s.ttl {
			s.order.MoveToFront(el)
			return true
		}
		// Expired entry counts as unseen; restart its clock.
		entry.addedAt = now
		s.order.MoveToFront(el)
		return false
	}

	s.items[id] = s.order.PushFront(&lruEntry{id: id, addedAt: now})
	for s.order.Len() > s.cap {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(*lruEntry).id)
	}
	return false
}

func (s *lruSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
