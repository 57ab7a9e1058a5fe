package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// Receipt is the result of a committed transaction: the transaction row and
// the portfolio updates written with it, in party order.
type Receipt struct {
	Transaction domain.Transaction       `json:"transaction"`
	Updates     []domain.PortfolioUpdate `json:"portfolio_updates"`
}

// LedgerService is the write path of the transaction log.
type LedgerService struct {
	ledger domain.LedgerStore
	idem   *Idempotency
	events domain.EventPublisher
	opts   Options
	logger *slog.Logger
}

// NewLedgerService creates a LedgerService. idem and events may be nil.
func NewLedgerService(
	ledger domain.LedgerStore,
	idem *Idempotency,
	events domain.EventPublisher,
	opts Options,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		ledger: ledger,
		idem:   idem,
		events: events,
		opts:   opts.withDefaults(),
		logger: logger.With(slog.String("component", "ledger_service")),
	}
}

// AddNewTransaction validates req, apportions it into per-party portfolio
// updates and appends everything in one store transaction. A non-empty
// idempotencyKey seen before within its TTL returns the first receipt.
func (s *LedgerService) AddNewTransaction(ctx context.Context, req domain.NewTransaction, idempotencyKey string) (Receipt, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return Receipt{}, wrap("ledger_service: add transaction", err)
	}

	if idempotencyKey != "" && s.idem != nil {
		prior, done, err := s.idem.Claim(idempotencyKey)
		if err != nil {
			return Receipt{}, wrap("ledger_service: add transaction", err)
		}
		if done {
			s.logger.InfoContext(ctx, "duplicate submission replayed",
				slog.String("idempotency_key", idempotencyKey),
				slog.String("transaction_id", prior.Transaction.ID),
			)
			return prior, nil
		}
	}

	receipt, err := s.append(ctx, req)
	if idempotencyKey != "" && s.idem != nil {
		if err != nil {
			s.idem.Abort(idempotencyKey)
		} else {
			s.idem.Complete(idempotencyKey, receipt)
		}
	}
	if err != nil {
		return Receipt{}, err
	}

	parties := receipt.Transaction.Parties()
	s.logger.InfoContext(ctx, "transaction committed",
		slog.String("transaction_id", receipt.Transaction.ID),
		slog.String("order_type", string(receipt.Transaction.OrderType)),
		slog.String("currency", receipt.Transaction.Currency),
		slog.String("order_amount", receipt.Transaction.OrderAmount.String()),
		slog.Int("parties", len(parties)),
	)
	publish(ctx, s.events, s.logger, domain.Event{
		Type:          domain.EventTransactionCommitted,
		TransactionID: receipt.Transaction.ID,
		Usernames:     parties,
		OccurredAt:    receipt.Transaction.Timestamp,
	})
	return receipt, nil
}

func (s *LedgerService) append(ctx context.Context, req domain.NewTransaction) (Receipt, error) {
	bounded, cancel := s.opts.bound(ctx)
	defer cancel()

	var receipt Receipt
	err := retryConflict(bounded, func() error {
		t := domain.Transaction{
			ID:          uuid.NewString(),
			Timestamp:   s.opts.Now().UTC().Truncate(time.Microsecond),
			OrderType:   req.OrderType,
			Currency:    req.Currency,
			PaidWith:    req.PaidWith,
			OrderAmount: req.OrderAmount,
			From:        req.From,
			To:          req.To,
		}
		updates, err := s.ledger.Append(bounded, t, domain.Apportion(t))
		if err != nil {
			return err
		}
		receipt = Receipt{Transaction: t, Updates: updates}
		return nil
	})
	if err != nil {
		var unknown *domain.UnknownPartyError
		if errors.As(err, &unknown) {
			s.logger.WarnContext(ctx, "transaction rejected",
				slog.Any("unknown_parties", unknown.Usernames),
			)
		}
		return Receipt{}, wrap("ledger_service: add transaction", err)
	}
	return receipt, nil
}
