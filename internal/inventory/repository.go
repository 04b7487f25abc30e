package inventory

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/samuniv/saga-commerce/internal/errs"
)

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Repository persists inventory items keyed by product id, plus the
// per-order reservation records that make reserve and release commands
// idempotent across redeliveries and restarts.
type Repository interface {
	GetByProductID(ctx context.Context, productID string) (*Item, error)
	ExistsByProductID(ctx context.Context, productID string) (bool, error)
	Save(ctx context.Context, item *Item) error
	Mutate(ctx context.Context, productID string, fn func(*Item) error) (*Item, error)
	List(ctx context.Context) ([]Item, error)
	ListLowStock(ctx context.Context, threshold int) ([]Item, error)
	GetReservation(ctx context.Context, orderID string) (*Reservation, error)
	SaveReservation(ctx context.Context, res *Reservation) error
}

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const itemColumns = `id, product_id, name, sku, available, reserved, unit_price, last_updated`

func (r *PostgresRepository) GetByProductID(ctx context.Context, productID string) (*Item, error) {
	var item Item
	row := r.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM inventory_items WHERE product_id = $1`, productID)
	if err := scanItem(row, &item); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("inventory item for product %s not found", productID)
		}
		return nil, err
	}
	return &item, nil
}

func (r *PostgresRepository) ExistsByProductID(ctx context.Context, productID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM inventory_items WHERE product_id = $1)`, productID,
	).Scan(&exists)
	return exists, err
}

func (r *PostgresRepository) Save(ctx context.Context, item *Item) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inventory_items (id, product_id, name, sku, available, reserved, unit_price, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (product_id) DO UPDATE SET
			available = EXCLUDED.available,
			reserved = EXCLUDED.reserved,
			unit_price = EXCLUDED.unit_price,
			last_updated = EXCLUDED.last_updated
	`, item.ID, item.ProductID, item.Name, item.SKU, item.Available, item.Reserved, item.UnitPrice, item.LastUpdated)
	return err
}

// Mutate applies fn to one item under a row lock: the row is read with
// SELECT ... FOR UPDATE inside a transaction, so concurrent mutations of the
// same product serialize at the database and the counters stay non-negative
// no matter how many service instances are running. An error from fn rolls
// the transaction back with nothing written.
func (r *PostgresRepository) Mutate(ctx context.Context, productID string, fn func(*Item) error) (*Item, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var item Item
	row := tx.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM inventory_items WHERE product_id = $1 FOR UPDATE`, productID)
	if err := scanItem(row, &item); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("inventory item for product %s not found", productID)
		}
		return nil, err
	}

	if err := fn(&item); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE inventory_items
		SET available = $2, reserved = $3, unit_price = $4, last_updated = $5
		WHERE product_id = $1
	`, productID, item.Available, item.Reserved, item.UnitPrice, item.LastUpdated); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM inventory_items ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *PostgresRepository) ListLowStock(ctx context.Context, threshold int) ([]Item, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM inventory_items WHERE available <= $1 ORDER BY available`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *PostgresRepository) GetReservation(ctx context.Context, orderID string) (*Reservation, error) {
	var res Reservation
	var state string
	var lines []byte
	row := r.pool.QueryRow(ctx,
		`SELECT order_id, state, lines, created_at, updated_at FROM inventory_reservations WHERE order_id = $1`, orderID)
	if err := row.Scan(&res.OrderID, &state, &lines, &res.CreatedAt, &res.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("reservation for order %s not found", orderID)
		}
		return nil, err
	}
	res.State = ReservationState(state)
	if err := json.Unmarshal(lines, &res.Lines); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *PostgresRepository) SaveReservation(ctx context.Context, res *Reservation) error {
	lines, err := json.Marshal(res.Lines)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO inventory_reservations (order_id, state, lines, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO UPDATE SET
			state = EXCLUDED.state,
			lines = EXCLUDED.lines,
			updated_at = EXCLUDED.updated_at
	`, res.OrderID, string(res.State), lines, res.CreatedAt, res.UpdatedAt)
	return err
}

func scanItem(row pgx.Row, item *Item) error {
	return row.Scan(&item.ID, &item.ProductID, &item.Name, &item.SKU,
		&item.Available, &item.Reserved, &item.UnitPrice, &item.LastUpdated)
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		var item Item
		if err := scanItem(rows, &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
