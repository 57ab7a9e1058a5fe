package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// Default page sizes for the history readers.
const (
	DefaultTransactionPage     = 10
	DefaultPortfolioUpdatePage = 5
)

// PageSizes configures how many rows the history readers return when the
// caller does not ask for the entire history.
type PageSizes struct {
	Transactions     int
	PortfolioUpdates int
}

func (p PageSizes) withDefaults() PageSizes {
	if p.Transactions <= 0 {
		p.Transactions = DefaultTransactionPage
	}
	if p.PortfolioUpdates <= 0 {
		p.PortfolioUpdates = DefaultPortfolioUpdatePage
	}
	return p
}

// PortfolioService is the read path over the transaction and portfolio
// update logs.
type PortfolioService struct {
	users      domain.UserStore
	ledger     domain.LedgerStore
	portfolios domain.PortfolioStore
	cache      domain.PortfolioCache
	pages      PageSizes
	opts       Options
	logger     *slog.Logger
}

// NewPortfolioService creates a PortfolioService. cache may be nil, in
// which case every resolve folds the full history.
func NewPortfolioService(
	users domain.UserStore,
	ledger domain.LedgerStore,
	portfolios domain.PortfolioStore,
	cache domain.PortfolioCache,
	pages PageSizes,
	opts Options,
	logger *slog.Logger,
) *PortfolioService {
	return &PortfolioService{
		users:      users,
		ledger:     ledger,
		portfolios: portfolios,
		cache:      cache,
		pages:      pages.withDefaults(),
		opts:       opts.withDefaults(),
		logger:     logger.With(slog.String("component", "portfolio_service")),
	}
}

// GetLatestPortfolioUpdate returns the user's newest update, or the empty
// sentinel when a registered user has none.
func (s *PortfolioService) GetLatestPortfolioUpdate(ctx context.Context, username string) (domain.PortfolioUpdate, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	if err := s.requireUser(ctx, username); err != nil {
		return domain.PortfolioUpdate{}, wrap("portfolio_service: latest update", err)
	}
	u, err := s.portfolios.Latest(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.EmptyPortfolioUpdate(username), nil
	}
	if err != nil {
		return domain.PortfolioUpdate{}, wrap(fmt.Sprintf("portfolio_service: latest update of %q", username), err)
	}
	return u, nil
}

// GetPortfolioUpdate returns one update, which must belong to username.
func (s *PortfolioService) GetPortfolioUpdate(ctx context.Context, username string, portfolioID int64) (domain.PortfolioUpdate, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	u, err := s.portfolios.Get(ctx, username, portfolioID)
	if err != nil {
		return domain.PortfolioUpdate{}, wrap(fmt.Sprintf("portfolio_service: update %d of %q", portfolioID, username), err)
	}
	return u, nil
}

// GetUserTransactions returns the transactions naming username, newest
// first.
func (s *PortfolioService) GetUserTransactions(ctx context.Context, username string, entire bool) ([]domain.Transaction, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	if err := s.requireUser(ctx, username); err != nil {
		return nil, wrap("portfolio_service: user transactions", err)
	}
	txs, err := s.ledger.ListByUser(ctx, username, pageLimit(entire, s.pages.Transactions))
	if err != nil {
		return nil, wrap(fmt.Sprintf("portfolio_service: transactions of %q", username), err)
	}
	return txs, nil
}

// GetUserPortfolioUpdates returns the user's updates, newest first.
func (s *PortfolioService) GetUserPortfolioUpdates(ctx context.Context, username string, entire bool) ([]domain.PortfolioUpdate, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	if err := s.requireUser(ctx, username); err != nil {
		return nil, wrap("portfolio_service: user updates", err)
	}
	updates, err := s.portfolios.ListByUser(ctx, username, pageLimit(entire, s.pages.PortfolioUpdates))
	if err != nil {
		return nil, wrap(fmt.Sprintf("portfolio_service: updates of %q", username), err)
	}
	return updates, nil
}

// GetTransaction returns one transaction by id.
func (s *PortfolioService) GetTransaction(ctx context.Context, transactionID string) (domain.Transaction, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	t, err := s.ledger.GetTransaction(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, wrap("portfolio_service: get transaction "+transactionID, err)
	}
	return t, nil
}

// ResolvePortfolio folds every update of username into balances. A cached
// snapshot is reused when its last update still exists in the store, and
// only newer updates are folded into it.
func (s *PortfolioService) ResolvePortfolio(ctx context.Context, username string) (domain.PortfolioSnapshot, error) {
	bounded, cancel := s.opts.bound(ctx)
	defer cancel()

	if err := s.requireUser(bounded, username); err != nil {
		return domain.PortfolioSnapshot{}, wrap("portfolio_service: resolve", err)
	}

	base := s.cachedSnapshot(bounded, username)
	fresh, err := s.portfolios.ListAfter(bounded, username, base.LastPortfolioID, nil)
	if err != nil {
		return domain.PortfolioSnapshot{}, wrap(fmt.Sprintf("portfolio_service: resolve %q", username), err)
	}
	snap := base.Advance(fresh)
	if snap.Balances == nil {
		snap.Balances = domain.Portfolio{}
	}

	if s.cache != nil && len(fresh) > 0 {
		if err := s.cache.Set(bounded, snap); err != nil {
			s.logger.WarnContext(ctx, "portfolio cache write failed",
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
		}
	}
	return snap, nil
}

// ResolvePortfolioAt folds the updates of username timestamped at or before
// at. It never touches the cache.
func (s *PortfolioService) ResolvePortfolioAt(ctx context.Context, username string, at time.Time) (domain.PortfolioSnapshot, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	if err := s.requireUser(ctx, username); err != nil {
		return domain.PortfolioSnapshot{}, wrap("portfolio_service: resolve at", err)
	}
	updates, err := s.portfolios.ListAfter(ctx, username, 0, &at)
	if err != nil {
		return domain.PortfolioSnapshot{}, wrap(fmt.Sprintf("portfolio_service: resolve %q at %s", username, at.Format(time.RFC3339)), err)
	}
	snap := domain.PortfolioSnapshot{Username: username}.Advance(updates)
	if snap.Balances == nil {
		snap.Balances = domain.Portfolio{}
	}
	return snap, nil
}

// cachedSnapshot returns the cached snapshot of username if it is still
// consistent with the store, otherwise an empty one.
func (s *PortfolioService) cachedSnapshot(ctx context.Context, username string) domain.PortfolioSnapshot {
	empty := domain.PortfolioSnapshot{Username: username}
	if s.cache == nil {
		return empty
	}
	snap, err := s.cache.Get(ctx, username)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "portfolio cache read failed",
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
		}
		return empty
	}
	if snap.LastPortfolioID == 0 {
		return empty
	}

	last, err := s.portfolios.Get(ctx, username, snap.LastPortfolioID)
	if err != nil || !last.Timestamp.Equal(snap.AsOf) {
		s.logger.InfoContext(ctx, "discarding stale portfolio snapshot",
			slog.String("username", username),
			slog.Int64("last_portfolio_id", snap.LastPortfolioID),
		)
		if err := s.cache.Invalidate(ctx, username); err != nil {
			s.logger.WarnContext(ctx, "portfolio cache invalidate failed",
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
		}
		return empty
	}
	return snap
}

func (s *PortfolioService) requireUser(ctx context.Context, username string) error {
	if _, err := s.users.GetByUsername(ctx, username); err != nil {
		return err
	}
	return nil
}
