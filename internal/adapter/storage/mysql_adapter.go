package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS inventory (
	item_id    VARCHAR(64) PRIMARY KEY,
	name       VARCHAR(255) NOT NULL DEFAULT '',
	stock      INT NOT NULL,
	version    BIGINT NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	CONSTRAINT chk_stock_non_negative CHECK (stock >= 0)
);

CREATE TABLE IF NOT EXISTS orders (
	id         VARCHAR(64) PRIMARY KEY,
	item_id    VARCHAR(64) NOT NULL,
	user_id    VARCHAR(64) NOT NULL,
	quantity   INT NOT NULL,
	status     VARCHAR(16) NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	KEY idx_orders_item_id (item_id)
);
`

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// EnsureSchema creates the inventory and orders tables if missing.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range splitStatements(schema) {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("create schema", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := m.db.QueryRowContext(ctx, `
		SELECT item_id, name, stock, version, created_at, updated_at
		FROM inventory WHERE item_id = ?`, itemID,
	).Scan(&item.ID, &item.Name, &item.Quantity, &item.Version, &item.CreatedAt, &item.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("query inventory", err)
	}

	return &item, nil
}

// UpdateQuantityCAS is the conditional-write primitive: decision and
// mutation in one statement, guarded by the expected version.
func (m *MySQLAdapter) UpdateQuantityCAS(ctx context.Context, itemID string, newQuantity int, expectedVersion int64) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE inventory
		SET stock = ?, version = version + 1, updated_at = NOW()
		WHERE item_id = ? AND version = ?`,
		newQuantity, itemID, expectedVersion,
	)
	if err != nil {
		return false, storageErr("update inventory", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, storageErr("rows affected", err)
	}

	return rows == 1, nil
}

// ReserveLocked serializes contenders for one item behind SELECT ... FOR
// UPDATE. Same contract as the optimistic path, zero retries.
func (m *MySQLAdapter) ReserveLocked(ctx context.Context, itemID string, quantity int) (*domain.Reservation, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin tx", err)
	}
	defer tx.Rollback()

	var stock int
	var version int64
	err = tx.QueryRowContext(ctx, `
		SELECT stock, version FROM inventory WHERE item_id = ? FOR UPDATE`, itemID,
	).Scan(&stock, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("lock inventory row", err)
	}

	if stock < quantity {
		return nil, domain.ErrInsufficientStock
	}

	newQuantity := stock - quantity
	if _, err := tx.ExecContext(ctx, `
		UPDATE inventory SET stock = ?, version = version + 1, updated_at = NOW()
		WHERE item_id = ?`,
		newQuantity, itemID,
	); err != nil {
		return nil, storageErr("update inventory", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit", err)
	}

	return &domain.Reservation{
		ItemID:    itemID,
		Quantity:  quantity,
		Remaining: newQuantity,
		Version:   version + 1,
	}, nil
}

func (m *MySQLAdapter) CreateItem(ctx context.Context, item domain.InventoryItem) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO inventory (item_id, name, stock, version)
		VALUES (?, ?, ?, 0)`,
		item.ID, item.Name, item.Quantity,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return domain.ErrItemExists
		}
		return storageErr("insert inventory", err)
	}
	return nil
}

func (m *MySQLAdapter) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT item_id, name, stock, version, created_at, updated_at
		FROM inventory ORDER BY item_id`)
	if err != nil {
		return nil, storageErr("query inventory", err)
	}
	defer rows.Close()

	var items []domain.InventoryItem
	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Quantity, &item.Version,
			&item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, storageErr("scan inventory", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate inventory", err)
	}

	return items, nil
}

func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO orders (id, item_id, user_id, quantity, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.ItemID, order.UserID, order.Quantity, order.Status,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return storageErr("insert order", err)
	}
	return nil
}

// storageErr classifies a driver failure as store unavailability so the
// ledger can surface it without retrying.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w (%w)", op, domain.ErrStorageUnavailable, err)
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

func splitStatements(s string) []string {
	var stmts []string
	for _, stmt := range strings.Split(s, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
