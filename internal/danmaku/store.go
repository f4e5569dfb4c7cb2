package danmaku

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// Store is the persistence collaborator for danmaku.
type Store interface {
	Create(ctx context.Context, item Item) (Item, error)
	// List returns every item of a video ordered by TimeMs.
	List(ctx context.Context, videoID string) ([]Item, error)
	// Delete removes an item and returns what was removed.
	Delete(ctx context.Context, id string) (Item, error)
}

// MemoryStore keeps danmaku in process memory. Used when no database is configured.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Item
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]Item{}}
}

func (s *MemoryStore) Create(_ context.Context, item Item) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return Item{}, ErrDuplicateItem
	}
	s.items[item.ID] = item
	return item, nil
}

func (s *MemoryStore) List(_ context.Context, videoID string) ([]Item, error) {
	s.mu.Lock()
	out := make([]Item, 0)
	for _, it := range s.items {
		if it.VideoID == videoID {
			out = append(out, it)
		}
	}
	s.mu.Unlock()

	sortItems(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	delete(s.items, id)
	return it, nil
}

// sortItems orders by offset, then creation time, then id, so ties are stable across stores.
func sortItems(items []Item) {
	slices.SortFunc(items, func(a, b Item) int {
		if c := cmp.Compare(a.TimeMs, b.TimeMs); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
