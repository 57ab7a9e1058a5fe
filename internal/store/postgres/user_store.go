package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// View templates rendered server-side by format(): %I quotes the view name
// and %L the username literal.
const (
	transactionViewTemplate = `CREATE VIEW %I AS
		SELECT t.transaction_id, t.timestamp, t.order_type, t.currency, t.paid_with,
			t.order_amount, t."from", t."to"
		FROM global_transactions t
		WHERE EXISTS (
			SELECT 1 FROM portfolio_updates p
			WHERE p.transaction_id = t.transaction_id AND p.username = %L
		)`

	notificationViewTemplate = `CREATE VIEW %I AS
		SELECT p.portfolio_id, p.transaction_id, t.order_type, t.currency, t.paid_with,
			p.date_of_update AS created_at
		FROM portfolio_updates p
		JOIN global_transactions t ON t.transaction_id = p.transaction_id
		WHERE p.username = %L`

	// usernameConstraint is the default name of the UNIQUE on users.username.
	usernameConstraint = "users_username_key"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// Create inserts the user and provisions its transaction and notification
// views in one transaction.
func (s *UserStore) Create(ctx context.Context, u domain.User) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		const insert = `INSERT INTO users (user_id, username) VALUES ($1, $2)`
		if _, err := tx.Exec(ctx, insert, u.ID, u.Username); err != nil {
			if isUniqueViolation(err) {
				if violatedConstraint(err) == usernameConstraint {
					return fmt.Errorf("%w: username %q is taken", domain.ErrConflict, u.Username)
				}
				return fmt.Errorf("postgres: create user %s: %w: %w", u.Username, domain.ErrIDCollision, err)
			}
			return fmt.Errorf("postgres: create user %s: %w", u.Username, classify(err))
		}

		views := []struct{ name, template string }{
			{domain.TransactionViewName(u.ID), transactionViewTemplate},
			{domain.NotificationViewName(u.ID), notificationViewTemplate},
		}
		for _, v := range views {
			if err := createUserView(ctx, tx, v.name, v.template, u.Username); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByUsername looks a user up by username.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, username FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username)
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", username, classify(err))
	}
	return u, nil
}

// ListNotifications reads the user's notification view newest first.
func (s *UserStore) ListNotifications(ctx context.Context, u domain.User, limit int) ([]domain.Notification, error) {
	query := fmt.Sprintf(`SELECT portfolio_id, transaction_id, order_type, currency, paid_with, created_at
		FROM %s ORDER BY portfolio_id DESC`, pgx.Identifier{domain.NotificationViewName(u.ID)}.Sanitize())
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list notifications of %s: %w", u.Username, classify(err))
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n := domain.Notification{Event: domain.EventTransactionCommitted}
		var orderType string
		if err := rows.Scan(&n.PortfolioID, &n.TransactionID, &orderType, &n.Currency, &n.PaidWith, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan notification: %w", err)
		}
		n.OrderType = domain.OrderType(orderType)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list notifications of %s: %w", u.Username, classify(err))
	}
	return out, nil
}

func createUserView(ctx context.Context, tx pgx.Tx, name, template, username string) error {
	var ddl string
	if err := tx.QueryRow(ctx, `SELECT format($1::text, $2::text, $3::text)`, template, name, username).Scan(&ddl); err != nil {
		return fmt.Errorf("postgres: render view %s: %w", name, classify(err))
	}
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: create view %s: %w", name, classify(err))
	}
	return registerTable(ctx, tx, name, domain.TableKindView, false)
}
