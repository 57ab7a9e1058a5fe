package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const transactionSelectCols = `t.transaction_id, t.timestamp, t.order_type, t.currency, t.paid_with,
	t.order_amount::text, t."from", t."to"`

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var t domain.Transaction
	var orderType, amount, from, to string
	if err := row.Scan(&t.ID, &t.Timestamp, &orderType, &t.Currency, &t.PaidWith, &amount, &from, &to); err != nil {
		return domain.Transaction{}, err
	}
	var err error
	t.OrderType = domain.OrderType(orderType)
	t.Timestamp = t.Timestamp.UTC()
	if t.OrderAmount, err = decimal.NewFromString(amount); err != nil {
		return domain.Transaction{}, fmt.Errorf("postgres: parse order_amount of %s: %w", t.ID, err)
	}
	if t.From, err = domain.DecodeDiffObject(from); err != nil {
		return domain.Transaction{}, err
	}
	if t.To, err = domain.DecodeDiffObject(to); err != nil {
		return domain.Transaction{}, err
	}
	return t, nil
}

func scanTransactionRows(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()
	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, classify(rows.Err())
}

// Append writes t and one portfolio update per party in a single
// transaction. Portfolio ids are taken from the counter row, whose lock is
// held until commit, so ids are gap-free and follow commit order.
func (s *LedgerStore) Append(ctx context.Context, t domain.Transaction, updates []domain.PortfolioUpdate) ([]domain.PortfolioUpdate, error) {
	from, err := t.From.Encode()
	if err != nil {
		return nil, err
	}
	to, err := t.To.Encode()
	if err != nil {
		return nil, err
	}
	diffs := make([]string, len(updates))
	for i, u := range updates {
		if diffs[i], err = u.Diff.Encode(); err != nil {
			return nil, err
		}
	}

	out := make([]domain.PortfolioUpdate, len(updates))
	copy(out, updates)

	err = inTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := checkParties(ctx, tx, t.Parties()); err != nil {
			return err
		}

		const insertTx = `
			INSERT INTO global_transactions (
				transaction_id, timestamp, order_type, currency, paid_with,
				order_amount, "from", "to"
			) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)`
		if _, err := tx.Exec(ctx, insertTx,
			t.ID, t.Timestamp, string(t.OrderType), t.Currency, t.PaidWith,
			t.OrderAmount.String(), from, to,
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("postgres: insert transaction %s: %w: %w", t.ID, domain.ErrIDCollision, err)
			}
			return fmt.Errorf("postgres: insert transaction %s: %w", t.ID, classify(err))
		}
		if len(out) == 0 {
			return nil
		}

		var last int64
		const reserve = `UPDATE ledger_counters SET value = value + $1 WHERE name = 'portfolio_id' RETURNING value`
		if err := tx.QueryRow(ctx, reserve, len(out)).Scan(&last); err != nil {
			return fmt.Errorf("postgres: reserve portfolio ids: %w", classify(err))
		}
		first := last - int64(len(out)) + 1

		batch := &pgx.Batch{}
		const insertUpdate = `
			INSERT INTO portfolio_updates (portfolio_id, portfolio, date_of_update, username, transaction_id)
			VALUES ($1, $2, $3, $4, $5)`
		for i := range out {
			out[i].ID = first + int64(i)
			batch.Queue(insertUpdate, out[i].ID, diffs[i], out[i].Timestamp, out[i].Username, t.ID)
		}
		br := tx.SendBatch(ctx, batch)
		for i := range out {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: insert portfolio update %d: %w", out[i].ID, classify(err))
			}
		}
		return br.Close()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetTransaction returns one transaction by id.
func (s *LedgerStore) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	query := `SELECT ` + transactionSelectCols + ` FROM global_transactions t WHERE t.transaction_id = $1`
	t, err := scanTransaction(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction %s: %w", id, classify(err))
	}
	return t, nil
}

// ListByUser returns the transactions the user took part in, newest first.
func (s *LedgerStore) ListByUser(ctx context.Context, username string, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionSelectCols + `
		FROM portfolio_updates p
		JOIN global_transactions t ON t.transaction_id = p.transaction_id
		WHERE p.username = $1
		ORDER BY p.portfolio_id DESC`
	args := []any{username}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions of %s: %w", username, classify(err))
	}
	return scanTransactionRows(rows)
}

// ListBefore returns transactions strictly older than before, oldest first.
func (s *LedgerStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionSelectCols + `
		FROM global_transactions t
		WHERE t.timestamp < $1
		ORDER BY t.timestamp, t.transaction_id`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions before %s: %w", before.Format(time.RFC3339), classify(err))
	}
	return scanTransactionRows(rows)
}

// checkParties returns an *UnknownPartyError naming every username not in
// the users table.
func checkParties(ctx context.Context, tx pgx.Tx, usernames []string) error {
	rows, err := tx.Query(ctx, `SELECT username FROM users WHERE username = ANY($1)`, usernames)
	if err != nil {
		return fmt.Errorf("postgres: check parties: %w", classify(err))
	}
	defer rows.Close()

	known := make(map[string]bool, len(usernames))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("postgres: scan party: %w", err)
		}
		known[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: check parties: %w", classify(err))
	}

	var missing []string
	for _, name := range usernames {
		if !known[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &domain.UnknownPartyError{Usernames: missing}
	}
	return nil
}
