package storage

import (
	"context"
	"errors"

	"github.com/vietddude/curator/internal/core/domain"
)

var (
	// ErrItemNotFound is returned when an item doesn't exist
	ErrItemNotFound = errors.New("item not found")
)

// ItemRepository handles ingested-item storage operations
type ItemRepository interface {
	// Save inserts a new item record
	Save(ctx context.Context, item *domain.Item) error

	// GetByURL retrieves an item by its source URL
	GetByURL(ctx context.Context, url string) (*domain.Item, error)

	// UpdateStatus moves an item through the pipeline stages
	UpdateStatus(ctx context.Context, id string, status domain.ItemStatus, errMsg string) error

	// List returns the most recent items, newest first
	List(ctx context.Context, limit int) ([]*domain.Item, error)

	// CountByStatus returns item counts grouped by status
	CountByStatus(ctx context.Context) (map[domain.ItemStatus]int, error)
}
