package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/curator/internal/core/domain"
	"github.com/vietddude/curator/internal/infra/storage"
)

// ItemRepo implements storage.ItemRepository using PostgreSQL.
type ItemRepo struct {
	db *DB
}

// NewItemRepo creates a new PostgreSQL item repository.
func NewItemRepo(db *DB) *ItemRepo {
	return &ItemRepo{db: db}
}

type itemRow struct {
	ID         string    `db:"id"`
	URL        string    `db:"url"`
	Source     string    `db:"source"`
	Title      string    `db:"title"`
	Uploader   string    `db:"uploader"`
	DurationMs int64     `db:"duration_ms"`
	MediaPath  string    `db:"media_path"`
	Status     string    `db:"status"`
	ErrorMsg   string    `db:"error_msg"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r itemRow) toDomain() *domain.Item {
	return &domain.Item{
		ID:        r.ID,
		URL:       r.URL,
		Source:    domain.Source(r.Source),
		Title:     r.Title,
		Uploader:  r.Uploader,
		Duration:  time.Duration(r.DurationMs) * time.Millisecond,
		MediaPath: r.MediaPath,
		Status:    domain.ItemStatus(r.Status),
		Error:     r.ErrorMsg,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// Save inserts a new item record.
func (r *ItemRepo) Save(ctx context.Context, item *domain.Item) error {
	query := `
		INSERT INTO items (id, url, source, title, uploader, duration_ms, media_path, status, error_msg, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (url) DO UPDATE
		SET title = EXCLUDED.title,
		    uploader = EXCLUDED.uploader,
		    duration_ms = EXCLUDED.duration_ms,
		    media_path = EXCLUDED.media_path,
		    status = EXCLUDED.status,
		    error_msg = EXCLUDED.error_msg,
		    updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.URL,
		string(item.Source),
		item.Title,
		item.Uploader,
		item.Duration.Milliseconds(),
		item.MediaPath,
		string(item.Status),
		item.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}
	return nil
}

// GetByURL retrieves an item by its source URL.
func (r *ItemRepo) GetByURL(ctx context.Context, url string) (*domain.Item, error) {
	query := `
		SELECT id, url, source, title, uploader, duration_ms, media_path, status, error_msg, created_at, updated_at
		FROM items
		WHERE url = $1
	`
	var row itemRow
	err := r.db.GetContext(ctx, &row, query, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return row.toDomain(), nil
}

// UpdateStatus moves an item through the pipeline stages.
func (r *ItemRepo) UpdateStatus(ctx context.Context, id string, status domain.ItemStatus, errMsg string) error {
	query := `
		UPDATE items SET status = $2, error_msg = $3, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("failed to update item status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrItemNotFound
	}
	return nil
}

// List returns the most recent items, newest first.
func (r *ItemRepo) List(ctx context.Context, limit int) ([]*domain.Item, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, url, source, title, uploader, duration_ms, media_path, status, error_msg, created_at, updated_at
		FROM items
		ORDER BY created_at DESC
		LIMIT $1
	`
	var rows []itemRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	items := make([]*domain.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

// CountByStatus returns item counts grouped by status.
func (r *ItemRepo) CountByStatus(ctx context.Context) (map[domain.ItemStatus]int, error) {
	query := `SELECT status, COUNT(*) AS count FROM items GROUP BY status`

	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}

	counts := make(map[domain.ItemStatus]int, len(rows))
	for _, row := range rows {
		counts[domain.ItemStatus(row.Status)] = row.Count
	}
	return counts, nil
}
