// Package journal persists an audit trail of completed vending transactions.
// The machine core stays in-memory; the journal is a decoupled, optional sink.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/vendsys/vendomat/internal/machine"
)

// SQLJournal writes sales and refunds to PostgreSQL.
type SQLJournal struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLJournal creates a journal backed by the provided database handle.
func NewSQLJournal(db *sql.DB, log *slog.Logger) *SQLJournal {
	if log == nil {
		log = slog.Default()
	}

	return &SQLJournal{
		db:  db,
		log: log,
	}
}

// RecordSale inserts a row describing a successful dispense.
func (j *SQLJournal) RecordSale(ctx context.Context, sale machine.SaleRecord) error {
	const query = `
		INSERT INTO vend_sales (session_id, code, item_type, price_cents, paid_cents, change_cents, sold_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if _, err := j.db.ExecContext(
		ctx,
		query,
		sale.SessionID,
		sale.Code,
		string(sale.Item.Type),
		sale.Item.PriceCents,
		sale.PaidCents,
		sale.ChangeCents,
		sale.At,
	); err != nil {
		j.log.Error("failed to insert sale", slog.String("session_id", sale.SessionID), slog.Any("error", err))
		return fmt.Errorf("insert sale: %w", err)
	}

	return nil
}

// RecordRefund inserts a row describing returned coins, keeping the coin
// sequence as an integer array of face values.
func (j *SQLJournal) RecordRefund(ctx context.Context, refund machine.RefundRecord) error {
	const query = `
		INSERT INTO vend_refunds (session_id, coins, amount_cents, reason, refunded_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	coins := make([]int64, len(refund.Coins))
	for i, c := range refund.Coins {
		coins[i] = int64(c.Cents())
	}

	if _, err := j.db.ExecContext(
		ctx,
		query,
		refund.SessionID,
		pq.Array(coins),
		refund.AmountCents,
		refund.Reason,
		refund.At,
	); err != nil {
		j.log.Error("failed to insert refund", slog.String("session_id", refund.SessionID), slog.Any("error", err))
		return fmt.Errorf("insert refund: %w", err)
	}

	return nil
}

// SalesTotal returns the number of journaled sales and their gross revenue in
// cents, for operator reporting.
func (j *SQLJournal) SalesTotal(ctx context.Context) (count int, revenueCents int, err error) {
	const query = `SELECT COUNT(*), COALESCE(SUM(price_cents), 0) FROM vend_sales`

	row := j.db.QueryRowContext(ctx, query)
	if err := row.Scan(&count, &revenueCents); err != nil {
		return 0, 0, fmt.Errorf("select sales total: %w", err)
	}

	return count, revenueCents, nil
}
