package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/groupledger/internal/cache/local"
	"github.com/alanyoungcy/groupledger/internal/domain"
	"github.com/alanyoungcy/groupledger/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stepClock returns a strictly increasing time on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// harness wires every service over one memory store.
type harness struct {
	store     *memory.Store
	cache     *local.PortfolioCache
	events    *recordingPublisher
	schema    *SchemaService
	groups    *GroupService
	users     *UserService
	ledger    *LedgerService
	portfolio *PortfolioService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memory.New()
	clock := newStepClock()
	opts := Options{OpTimeout: 5 * time.Second, Now: clock.Now}
	logger := discardLogger()
	h := &harness{
		store:  st,
		cache:  local.NewPortfolioCache(time.Hour),
		events: &recordingPublisher{},
	}
	idem := NewIdempotency(time.Hour)
	h.schema = NewSchemaService(st.Registry(), local.NewLockManager(), h.cache, opts, logger)
	h.schema.OnReset(idem.Flush)
	h.groups = NewGroupService(st.Groups(), nil, h.events, opts, logger)
	h.users = NewUserService(st.Users(), h.events, 0, opts, logger)
	h.ledger = NewLedgerService(st.Ledger(), idem, h.events, opts, logger)
	h.portfolio = NewPortfolioService(st.Users(), st.Ledger(), st.Portfolios(), h.cache, PageSizes{}, opts, logger)

	if _, err := h.schema.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return h
}

func (h *harness) register(t *testing.T, usernames ...string) {
	t.Helper()
	for _, name := range usernames {
		if _, err := h.users.SetupNewUser(context.Background(), name); err != nil {
			t.Fatalf("SetupNewUser(%q) error = %v", name, err)
		}
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func leg(username, amount string) domain.Leg {
	return domain.Leg{Username: username, Amount: dec(amount)}
}

func buy(amount string, from, to []domain.Leg) domain.NewTransaction {
	return domain.NewTransaction{
		OrderType:   domain.OrderBuy,
		Currency:    "BTC",
		PaidWith:    "USD",
		OrderAmount: dec(amount),
		From:        from,
		To:          to,
	}
}
