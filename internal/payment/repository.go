package payment

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/samuniv/saga-commerce/internal/errs"
)

// DBPool matches the methods from *pgxpool.Pool that we use.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Repository persists payments. One active payment per order.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*Payment, error)
	Save(ctx context.Context, p *Payment) error
}

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const paymentColumns = `id, order_id, amount, status, transaction_id, failure_reason, refund_reason,
	created_at, updated_at, processed_at, failed_at, refunded_at`

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("payment %s not found", id)
		}
		return nil, err
	}
	return p, nil
}

func (r *PostgresRepository) GetByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`, orderID)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("payment for order %s not found", orderID)
		}
		return nil, err
	}
	return p, nil
}

func (r *PostgresRepository) Save(ctx context.Context, p *Payment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payments (id, order_id, amount, status, transaction_id, failure_reason, refund_reason,
			created_at, updated_at, processed_at, failed_at, refunded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			transaction_id = EXCLUDED.transaction_id,
			failure_reason = EXCLUDED.failure_reason,
			refund_reason = EXCLUDED.refund_reason,
			updated_at = EXCLUDED.updated_at,
			processed_at = EXCLUDED.processed_at,
			failed_at = EXCLUDED.failed_at,
			refunded_at = EXCLUDED.refunded_at
	`, p.ID, p.OrderID, p.Amount, p.Status, nullable(p.TransactionID), nullable(p.FailureReason),
		nullable(p.RefundReason), p.CreatedAt, p.UpdatedAt, p.ProcessedAt, p.FailedAt, p.RefundedAt)
	return err
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var txID, failureReason, refundReason *string
	err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Status, &txID, &failureReason, &refundReason,
		&p.CreatedAt, &p.UpdatedAt, &p.ProcessedAt, &p.FailedAt, &p.RefundedAt)
	if err != nil {
		return nil, err
	}
	if txID != nil {
		p.TransactionID = *txID
	}
	if failureReason != nil {
		p.FailureReason = *failureReason
	}
	if refundReason != nil {
		p.RefundReason = *refundReason
	}
	return &p, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
