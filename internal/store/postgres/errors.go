package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// PostgreSQL error codes the stores translate into domain kinds.
const (
	codeUniqueViolation = "23505"
	codeDuplicateTable  = "42P07"
	codeUndefinedTable  = "42P01"
	codeLockTimeout     = "55P03"
	codeQueryCanceled   = "57014"
)

// classify maps driver errors onto the domain sentinels, keeping the
// original error in the chain for logging.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation, codeDuplicateTable:
			return fmt.Errorf("%w: %w", domain.ErrConflict, err)
		case codeUndefinedTable:
			return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
		case codeLockTimeout, codeQueryCanceled:
			return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
		}
		return err
	}

	var netErr net.Error
	if pgconn.SafeToRetry(err) || errors.As(err, &netErr) || isConnectError(err) {
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	return err
}

func isConnectError(err error) bool {
	var ce *pgconn.ConnectError
	return errors.As(err, &ce)
}

// violatedConstraint returns the constraint named by a driver error, or "".
func violatedConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
