package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// PortfolioStore implements domain.PortfolioStore using PostgreSQL.
type PortfolioStore struct {
	pool *pgxpool.Pool
}

// NewPortfolioStore creates a new PortfolioStore backed by the given pool.
func NewPortfolioStore(pool *pgxpool.Pool) *PortfolioStore {
	return &PortfolioStore{pool: pool}
}

const portfolioSelectCols = `portfolio_id, transaction_id, portfolio, date_of_update, username`

func scanPortfolioUpdate(row pgx.Row) (domain.PortfolioUpdate, error) {
	var u domain.PortfolioUpdate
	var diff string
	if err := row.Scan(&u.ID, &u.TransactionID, &diff, &u.Timestamp, &u.Username); err != nil {
		return domain.PortfolioUpdate{}, err
	}
	var err error
	if u.Diff, err = domain.DecodePortfolioDiff(diff); err != nil {
		return domain.PortfolioUpdate{}, err
	}
	u.Timestamp = u.Timestamp.UTC()
	return u, nil
}

func scanPortfolioRows(rows pgx.Rows) ([]domain.PortfolioUpdate, error) {
	defer rows.Close()
	var out []domain.PortfolioUpdate
	for rows.Next() {
		u, err := scanPortfolioUpdate(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan portfolio update: %w", err)
		}
		out = append(out, u)
	}
	return out, classify(rows.Err())
}

// Latest returns the user's most recent update.
func (s *PortfolioStore) Latest(ctx context.Context, username string) (domain.PortfolioUpdate, error) {
	query := `SELECT ` + portfolioSelectCols + ` FROM portfolio_updates
		WHERE username = $1 ORDER BY portfolio_id DESC LIMIT 1`
	u, err := scanPortfolioUpdate(s.pool.QueryRow(ctx, query, username))
	if err != nil {
		return domain.PortfolioUpdate{}, fmt.Errorf("postgres: latest portfolio update of %s: %w", username, classify(err))
	}
	return u, nil
}

// Get returns one update owned by username.
func (s *PortfolioStore) Get(ctx context.Context, username string, id int64) (domain.PortfolioUpdate, error) {
	query := `SELECT ` + portfolioSelectCols + ` FROM portfolio_updates
		WHERE portfolio_id = $1 AND username = $2`
	u, err := scanPortfolioUpdate(s.pool.QueryRow(ctx, query, id, username))
	if err != nil {
		return domain.PortfolioUpdate{}, fmt.Errorf("postgres: get portfolio update %d: %w", id, classify(err))
	}
	return u, nil
}

// ListByUser returns the user's updates newest first.
func (s *PortfolioStore) ListByUser(ctx context.Context, username string, limit int) ([]domain.PortfolioUpdate, error) {
	query := `SELECT ` + portfolioSelectCols + ` FROM portfolio_updates
		WHERE username = $1 ORDER BY portfolio_id DESC`
	args := []any{username}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list portfolio updates of %s: %w", username, classify(err))
	}
	return scanPortfolioRows(rows)
}

// ListAfter returns the user's updates with id > afterID in increasing id
// order, optionally bounded by timestamp.
func (s *PortfolioStore) ListAfter(ctx context.Context, username string, afterID int64, until *time.Time) ([]domain.PortfolioUpdate, error) {
	query := `SELECT ` + portfolioSelectCols + ` FROM portfolio_updates
		WHERE username = $1 AND portfolio_id > $2`
	args := []any{username, afterID}
	if until != nil {
		query += ` AND date_of_update <= $3`
		args = append(args, *until)
	}
	query += ` ORDER BY portfolio_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list portfolio updates of %s after %d: %w", username, afterID, classify(err))
	}
	return scanPortfolioRows(rows)
}

// ListBefore returns every update strictly older than before in id order.
func (s *PortfolioStore) ListBefore(ctx context.Context, before time.Time) ([]domain.PortfolioUpdate, error) {
	query := `SELECT ` + portfolioSelectCols + ` FROM portfolio_updates
		WHERE date_of_update < $1 ORDER BY portfolio_id`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list portfolio updates before %s: %w", before.Format(time.RFC3339), classify(err))
	}
	return scanPortfolioRows(rows)
}
