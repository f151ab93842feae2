package lists

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MemoryStore is a thread-safe, bounded in-memory list store. Time-bounded
// blocks expire lazily; when the store grows past maxEntries the
// least-recently-touched block is evicted (permanent curated entries are
// evicted last).
type MemoryStore struct {
	mu         sync.RWMutex
	maxEntries int

	blocks map[string]*list.Element // entity key -> *blockEntry element
	order  *list.List               // LRU order, front = most recent

	whitelist map[string]domain.WhitelistEntry

	now func() time.Time
}

type blockEntry struct {
	key string
	rec domain.BlockRecord
}

// NewMemoryStore creates a memory store with the specified capacity.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryStore{
		maxEntries: maxEntries,
		blocks:     make(map[string]*list.Element),
		order:      list.New(),
		whitelist:  make(map[string]domain.WhitelistEntry),
		now:        time.Now,
	}
}

// Block records a block for an entity, replacing any existing block.
func (s *MemoryStore) Block(ctx context.Context, rec domain.BlockRecord) error {
	if err := rec.Entity.Validate(); err != nil {
		return err
	}

	id := rec.Entity.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.blocks[id]; ok {
		s.order.MoveToFront(elem)
		elem.Value.(*blockEntry).rec = rec
		return nil
	}

	elem := s.order.PushFront(&blockEntry{key: id, rec: rec})
	s.blocks[id] = elem

	for s.order.Len() > s.maxEntries {
		s.evictOldest()
	}
	return nil
}

// Unblock removes a block; removing a missing block is not an error.
func (s *MemoryStore) Unblock(ctx context.Context, key domain.EntityKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.blocks[key.String()]; ok {
		s.removeElement(elem)
	}
	return nil
}

// GetBlock returns the active block for an entity, or nil, nil.
func (s *MemoryStore) GetBlock(ctx context.Context, key domain.EntityKey) (*domain.BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.blocks[key.String()]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*blockEntry)
	if !entry.rec.Active(s.now()) {
		s.removeElement(elem)
		return nil, nil
	}

	s.order.MoveToFront(elem)
	rec := entry.rec
	return &rec, nil
}

// ListBlocks returns all active blocks.
func (s *MemoryStore) ListBlocks(ctx context.Context) ([]domain.BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []domain.BlockRecord
	for elem := s.order.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*blockEntry)
		if entry.rec.Active(now) {
			out = append(out, entry.rec)
		} else {
			s.removeElement(elem)
		}
		elem = next
	}
	return out, nil
}

// Whitelist adds an entity to the whitelist.
func (s *MemoryStore) Whitelist(ctx context.Context, entry domain.WhitelistEntry) error {
	if err := entry.Entity.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.whitelist[entry.Entity.String()] = entry
	return nil
}

// Unwhitelist removes an entity from the whitelist.
func (s *MemoryStore) Unwhitelist(ctx context.Context, key domain.EntityKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.whitelist, key.String())
	return nil
}

// IsWhitelisted reports whitelist membership.
func (s *MemoryStore) IsWhitelisted(ctx context.Context, key domain.EntityKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.whitelist[key.String()]
	return ok, nil
}

// Ping checks store health.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = make(map[string]*list.Element)
	s.order = list.New()
	s.whitelist = make(map[string]domain.WhitelistEntry)
	return nil
}

// Stats returns store statistics.
func (s *MemoryStore) Stats() (blocks int, capacity int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.order.Len(), s.maxEntries
}

func (s *MemoryStore) removeElement(elem *list.Element) {
	s.order.Remove(elem)
	delete(s.blocks, elem.Value.(*blockEntry).key)
}

// evictOldest removes the least-recently-touched expiring block; permanent
// entries are only evicted when nothing else remains.
func (s *MemoryStore) evictOldest() {
	for elem := s.order.Back(); elem != nil; elem = elem.Prev() {
		if elem.Value.(*blockEntry).rec.ExpiresAt != nil {
			s.removeElement(elem)
			return
		}
	}
	if elem := s.order.Back(); elem != nil {
		s.removeElement(elem)
	}
}
