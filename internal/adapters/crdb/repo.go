package crdb

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"golang.org/x/sync/errgroup"
)

const (
	SerializationFailureCode = "40001"
)

//go:embed schema.sql
var schema string

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return errors.Wrap(err, "apply schema")
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return mapTxError(err)
	}
	return mapTxError(tx.Commit(ctx))
}

func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
		return domain.ErrSerializationFailure
	}
	return err
}

func (r *Repository) CreateTransaction(ctx context.Context, tx pgx.Tx, t domain.Transaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, user_id, event_id, status, payment_method, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, t.ID, t.UserID, t.EventID, string(t.Status), t.PaymentMethod, t.TotalAmount, t.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert transaction")
	}

	// a pgx.Tx is a single connection; items go in one after another
	for _, item := range t.Items {
		_, err := tx.Exec(ctx, `
			INSERT INTO transaction_items (transaction_id, offering_id, ticket_type, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, t.ID, item.OfferingID, string(item.Kind), item.Quantity, item.UnitPrice)
		if err != nil {
			return errors.Wrapf(err, "insert item %s", item.OfferingID)
		}
	}
	return nil
}

// UpdateTransactionStatus moves a transaction from one status to another.
// It returns ErrNotFound for an unknown id and ErrConflict when the current
// status is not from.
func (r *Repository) UpdateTransactionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.TransactionStatus) error {
	result, err := tx.Exec(ctx, `
		UPDATE transactions SET status = $3, updated_at = now() WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return err
	}
	if result.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

// GetExpiredPending lists PENDING transactions created before cutoff,
// oldest first, without their items.
func (r *Repository) GetExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, event_id, status, payment_method, total_amount, created_at
		FROM transactions WHERE status = 'PENDING' AND created_at <= $1
		ORDER BY created_at ASC LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var status string
		if err := rows.Scan(&t.ID, &t.UserID, &t.EventID, &status, &t.PaymentMethod, &t.TotalAmount, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Status = domain.TransactionStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return getTransaction(ctx, r.pool, id)
}

// GetTransactionTx reads a transaction inside tx.
func (r *Repository) GetTransactionTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	return getTransaction(ctx, tx, id)
}

func getTransaction(ctx context.Context, q querier, id uuid.UUID) (*domain.Transaction, error) {
	var t domain.Transaction
	var status string
	err := q.QueryRow(ctx, `
		SELECT id, user_id, event_id, status, payment_method, total_amount, created_at
		FROM transactions WHERE id = $1
	`, id).Scan(&t.ID, &t.UserID, &t.EventID, &status, &t.PaymentMethod, &t.TotalAmount, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Status = domain.TransactionStatus(status)

	rows, err := q.Query(ctx, `
		SELECT offering_id, ticket_type, quantity, unit_price
		FROM transaction_items WHERE transaction_id = $1 ORDER BY offering_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.TransactionItem
		var kind string
		if err := rows.Scan(&item.OfferingID, &kind, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		item.Kind = domain.TicketKind(kind)
		t.Items = append(t.Items, item)
	}
	return &t, rows.Err()
}

// CustomerStats runs the totals and ticket count queries concurrently on the
// pool.
func (r *Repository) CustomerStats(ctx context.Context, userID string) (domain.CustomerStats, error) {
	var s domain.CustomerStats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := r.pool.QueryRow(gctx, `
			SELECT
				count(*) FILTER (WHERE status = 'COMPLETED'),
				COALESCE(sum(total_amount) FILTER (WHERE status = 'COMPLETED'), 0)::INT8,
				count(*) FILTER (WHERE status = 'PENDING')
			FROM transactions WHERE user_id = $1
		`, userID).Scan(&s.TotalTransactions, &s.TotalSpent, &s.PendingCount)
		return errors.Wrap(err, "customer totals")
	})
	g.Go(func() error {
		err := r.pool.QueryRow(gctx, `
			SELECT COALESCE(sum(i.quantity), 0)::INT8
			FROM transactions t JOIN transaction_items i ON i.transaction_id = t.id
			WHERE t.user_id = $1 AND t.status = 'COMPLETED'
		`, userID).Scan(&s.TotalTickets)
		return errors.Wrap(err, "customer tickets")
	})
	if err := g.Wait(); err != nil {
		return domain.CustomerStats{}, err
	}
	return s, nil
}

// SalesStats sums completed sales across eventIDs.
func (r *Repository) SalesStats(ctx context.Context, eventIDs []string) (domain.SalesStats, error) {
	var s domain.SalesStats
	if len(eventIDs) == 0 {
		return s, nil
	}
	err := r.pool.QueryRow(ctx, `
		SELECT
			count(DISTINCT t.id),
			COALESCE(sum(i.quantity), 0)::INT8,
			COALESCE(sum(i.quantity * i.unit_price), 0)::INT8
		FROM transactions t JOIN transaction_items i ON i.transaction_id = t.id
		WHERE t.event_id = ANY($1) AND t.status = 'COMPLETED'
	`, eventIDs).Scan(&s.TotalTransactions, &s.TotalTicketsSold, &s.TotalRevenue)
	return s, errors.Wrap(err, "sales totals")
}

// ListTransactions returns one page of transactions matching f, newest
// first and with their items, plus the total number of matches.
func (r *Repository) ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]domain.Transaction, int, error) {
	var where []string
	var args []any
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.EventIDs != nil {
		if len(f.EventIDs) == 0 {
			return nil, 0, nil
		}
		args = append(args, f.EventIDs)
		where = append(where, fmt.Sprintf("event_id = ANY($%d)", len(args)))
	}
	if len(where) == 0 {
		return nil, 0, errors.Wrap(domain.ErrInvalidInput, "transaction filter needs an owner or events")
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")
	page := f.Page.Normalize()

	var total int
	var out []domain.Transaction
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := r.pool.QueryRow(gctx, `SELECT count(*) FROM transactions WHERE `+cond, args...).Scan(&total)
		return errors.Wrap(err, "count transactions")
	})
	g.Go(func() error {
		pageArgs := append(append([]any(nil), args...), page.Size, page.Offset())
		rows, err := r.pool.Query(gctx, fmt.Sprintf(`
			SELECT id, user_id, event_id, status, payment_method, total_amount, created_at
			FROM transactions WHERE %s
			ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d
		`, cond, len(args)+1, len(args)+2), pageArgs...)
		if err != nil {
			return errors.Wrap(err, "list transactions")
		}
		defer rows.Close()
		for rows.Next() {
			var t domain.Transaction
			var status string
			if err := rows.Scan(&t.ID, &t.UserID, &t.EventID, &status, &t.PaymentMethod, &t.TotalAmount, &t.CreatedAt); err != nil {
				return err
			}
			t.Status = domain.TransactionStatus(status)
			out = append(out, t)
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	if err := r.attachItems(ctx, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *Repository) attachItems(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	ids := make([]string, len(txs))
	index := make(map[uuid.UUID]int, len(txs))
	for i, t := range txs {
		ids[i] = t.ID.String()
		index[t.ID] = i
	}
	rows, err := r.pool.Query(ctx, `
		SELECT transaction_id, offering_id, ticket_type, quantity, unit_price
		FROM transaction_items WHERE transaction_id = ANY($1::UUID[]) ORDER BY offering_id
	`, ids)
	if err != nil {
		return errors.Wrap(err, "list transaction items")
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var item domain.TransactionItem
		var kind string
		if err := rows.Scan(&id, &item.OfferingID, &kind, &item.Quantity, &item.UnitPrice); err != nil {
			return err
		}
		item.Kind = domain.TicketKind(kind)
		if i, ok := index[id]; ok {
			txs[i].Items = append(txs[i].Items, item)
		}
	}
	return rows.Err()
}
