package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type MySQLAdapter struct {
	db  *sql.DB
	now func() time.Time
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db, now: time.Now}
}

func (m *MySQLAdapter) Create(ctx context.Context, item *domain.StockItem) (bool, error) {
	now := m.now().UTC()
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO stock_items (id, product_id, quantity_on_hand, version, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON DUPLICATE KEY UPDATE id = id`,
		item.ID(), item.ProductID(), item.QuantityOnHand(), now, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert stock item: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return false, nil
	}

	item.MarkPersisted(1)
	return true, nil
}

func (m *MySQLAdapter) Load(ctx context.Context, stockItemID string) (*domain.StockItem, error) {
	items, err := m.loadWhere(ctx, `id = ?`, stockItemID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("stock item %s: %w", stockItemID, domain.ErrNotFound)
	}
	return items[0], nil
}

func (m *MySQLAdapter) LoadByProduct(ctx context.Context, productID string) (*domain.StockItem, error) {
	items, err := m.loadWhere(ctx, `product_id = ?`, productID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("stock item for product %s: %w", productID, domain.ErrNotFound)
	}
	return items[0], nil
}

func (m *MySQLAdapter) LoadByProducts(ctx context.Context, productIDs []string) ([]*domain.StockItem, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	return m.loadWhere(ctx, `product_id IN (`+placeholders(len(productIDs))+`)`, toArgs(productIDs)...)
}

func (m *MySQLAdapter) loadWhere(ctx context.Context, where string, args ...any) ([]*domain.StockItem, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, product_id, quantity_on_hand, version
		FROM stock_items WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query stock items: %w", err)
	}
	defer rows.Close()

	type header struct {
		id, productID string
		onHand        int
		version       int64
	}
	var headers []header
	for rows.Next() {
		var h header
		if err := rows.Scan(&h.id, &h.productID, &h.onHand, &h.version); err != nil {
			return nil, fmt.Errorf("scan stock item: %w", err)
		}
		headers = append(headers, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock items: %w", err)
	}
	if len(headers) == 0 {
		return nil, nil
	}

	ids := make([]string, len(headers))
	for i, h := range headers {
		ids[i] = h.id
	}
	reservations, err := m.loadReservations(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]*domain.StockItem, len(headers))
	for i, h := range headers {
		items[i] = domain.RestoreStockItem(h.id, h.productID, h.onHand, h.version, reservations[h.id])
	}
	return items, nil
}

func (m *MySQLAdapter) loadReservations(ctx context.Context, stockItemIDs []string) (map[string][]domain.StockReservation, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, stock_item_id, quantity, created_at, expires_at
		FROM stock_reservations WHERE stock_item_id IN (`+placeholders(len(stockItemIDs))+`)`,
		toArgs(stockItemIDs)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.StockReservation, len(stockItemIDs))
	for rows.Next() {
		var r domain.StockReservation
		if err := rows.Scan(&r.ID, &r.StockItemID, &r.Quantity, &r.CreatedAt, &r.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out[r.StockItemID] = append(out[r.StockItemID], r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return out, nil
}

func (m *MySQLAdapter) Save(ctx context.Context, item *domain.StockItem, adjustments ...domain.Adjustment) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := m.now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE stock_items
		SET quantity_on_hand = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		item.QuantityOnHand(), now, item.ID(), item.Version(),
	)
	if err != nil {
		return fmt.Errorf("update stock item: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrConcurrencyConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stock_reservations WHERE stock_item_id = ?`, item.ID()); err != nil {
		return fmt.Errorf("delete reservations: %w", err)
	}

	// Expired reservations are not written back; the sweeper may already
	// have removed them.
	var active []domain.StockReservation
	for _, r := range item.Reservations() {
		if r.IsActive(now) {
			active = append(active, r)
		}
	}
	if len(active) > 0 {
		args := make([]any, 0, len(active)*5)
		for _, r := range active {
			args = append(args, r.ID, item.ID(), r.Quantity, r.CreatedAt.UTC(), r.ExpiresAt.UTC())
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stock_reservations (id, stock_item_id, quantity, created_at, expires_at)
			VALUES `+valueGroups(len(active), 5), args...)
		if err != nil {
			return fmt.Errorf("insert reservations: %w", err)
		}
	}

	for _, a := range adjustments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stock_adjustments (id, stock_item_id, adjustment, quantity_after, reason, actor, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.StockItemID, a.Adjustment, a.QuantityAfter,
			nullString(a.Reason), nullString(a.Actor), a.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert adjustment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	item.MarkPersisted(item.Version() + 1)
	return nil
}

func (m *MySQLAdapter) DeleteExpiredReservations(ctx context.Context, now time.Time, limit int) (int64, error) {
	result, err := m.db.ExecContext(ctx, `
		DELETE FROM stock_reservations WHERE expires_at <= ? LIMIT ?`,
		now.UTC(), limit,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired reservations: %w", err)
	}
	return result.RowsAffected()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func valueGroups(rows, cols int) string {
	group := "(" + placeholders(cols) + ")"
	return strings.TrimSuffix(strings.Repeat(group+", ", rows), ", ")
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
