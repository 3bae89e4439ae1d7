// Package history stands in for the "external collaborator" spec.md §1
// describes: clipboard polling, deduplication, and the history schema
// beyond the embedding table. The core subsystem only ever consumes it
// through the Provider interface.
package history

import (
	"context"
	"fmt"

	"github.com/clipvault/semantic/internal/db/sqlite"
	"github.com/clipvault/semantic/pkg/models"
)

// Provider is the subset of the clipboard history store the semantic
// search core depends on (spec.md §6, "Consumed from the host application").
type Provider interface {
	ListTextItemIDs(ctx context.Context) ([]int64, error)
	GetItems(ctx context.Context, ids []int64) ([]models.ClipboardItem, error)
	OnNewTextItem(fn func(id int64))
}

// SQLiteProvider is the concrete Provider backed by the clipboard_items
// table, used by the daemon when no other host application supplies one.
type SQLiteProvider struct {
	db        *sqlite.Store
	listeners []func(id int64)
}

// NewSQLiteProvider wraps a store as a history.Provider.
func NewSQLiteProvider(db *sqlite.Store) *SQLiteProvider {
	return &SQLiteProvider{db: db}
}

// ListTextItemIDs returns every clipboard item id, ascending.
func (p *SQLiteProvider) ListTextItemIDs(ctx context.Context) ([]int64, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT id FROM clipboard_items ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("list item ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetItems fetches items by id. Missing ids are silently omitted from the
// result; callers match on ClipboardItem.ID.
func (p *SQLiteProvider) GetItems(ctx context.Context, ids []int64) ([]models.ClipboardItem, error) {
	items := make([]models.ClipboardItem, 0, len(ids))
	for _, id := range ids {
		row := p.db.QueryRowContext(ctx, "SELECT id, text, created_at_epoch FROM clipboard_items WHERE id = ?", id)
		var item models.ClipboardItem
		if err := row.Scan(&item.ID, &item.Text, &item.CreatedAtEpoch); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// InsertItem stores a new clipboard text item and fires OnNewTextItem
// listeners with its assigned id. This is the "store delta" producer side
// of spec.md §2's indexing data flow.
func (p *SQLiteProvider) InsertItem(ctx context.Context, text string, createdAtEpoch int64) (int64, error) {
	res, err := p.db.ExecContext(ctx, "INSERT INTO clipboard_items (text, created_at_epoch) VALUES (?, ?)", text, createdAtEpoch)
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get inserted id: %w", err)
	}
	for _, fn := range p.listeners {
		fn(id)
	}
	return id, nil
}

// OnNewTextItem registers a subscriber invoked after each InsertItem.
func (p *SQLiteProvider) OnNewTextItem(fn func(id int64)) {
	p.listeners = append(p.listeners, fn)
}
