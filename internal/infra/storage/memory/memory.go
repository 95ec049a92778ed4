package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/curator/internal/core/domain"
	"github.com/vietddude/curator/internal/infra/storage"
)

// ItemRepo is an in-memory storage.ItemRepository, used when no
// database is configured and in tests.
type ItemRepo struct {
	mu    sync.RWMutex
	items map[string]*domain.Item // keyed by URL
}

// NewItemRepo creates an empty in-memory item repository.
func NewItemRepo() *ItemRepo {
	return &ItemRepo{items: make(map[string]*domain.Item)}
}

func (r *ItemRepo) Save(ctx context.Context, item *domain.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *item
	now := time.Now()
	if existing, ok := r.items[item.URL]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.items[item.URL] = &cp
	return nil
}

func (r *ItemRepo) GetByURL(ctx context.Context, url string) (*domain.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[url]
	if !ok {
		return nil, storage.ErrItemNotFound
	}
	cp := *item
	return &cp, nil
}

func (r *ItemRepo) UpdateStatus(ctx context.Context, id string, status domain.ItemStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range r.items {
		if item.ID == id {
			item.Status = status
			item.Error = errMsg
			item.UpdatedAt = time.Now()
			return nil
		}
	}
	return storage.ErrItemNotFound
}

func (r *ItemRepo) List(ctx context.Context, limit int) ([]*domain.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	items := make([]*domain.Item, 0, len(r.items))
	for _, item := range r.items {
		cp := *item
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *ItemRepo) CountByStatus(ctx context.Context) (map[domain.ItemStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.ItemStatus]int)
	for _, item := range r.items {
		counts[item.Status]++
	}
	return counts, nil
}
