package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

func TestPortfolioService_LatestUpdate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "marcus254", "sheldon256")

	got, err := h.portfolio.GetLatestPortfolioUpdate(ctx, "marcus254")
	if err != nil {
		t.Fatalf("GetLatestPortfolioUpdate() error = %v", err)
	}
	if !got.IsEmpty() || len(got.Diff) != 0 {
		t.Errorf("latest before any transaction = %+v, want empty sentinel", got)
	}

	if _, err := h.portfolio.GetLatestPortfolioUpdate(ctx, "stranger"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unregistered user error = %v, want ErrNotFound", err)
	}

	r, err := h.ledger.AddNewTransaction(ctx,
		buy("200", []domain.Leg{leg("marcus254", "200")}, []domain.Leg{leg("sheldon256", "200")}), "")
	if err != nil {
		t.Fatalf("AddNewTransaction() error = %v", err)
	}
	got, _ = h.portfolio.GetLatestPortfolioUpdate(ctx, "sheldon256")
	if got.ID != r.Updates[1].ID {
		t.Errorf("latest id = %d, want %d", got.ID, r.Updates[1].ID)
	}

	if _, err := h.portfolio.GetPortfolioUpdate(ctx, "marcus254", r.Updates[1].ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("foreign update error = %v, want ErrNotFound", err)
	}
	own, err := h.portfolio.GetPortfolioUpdate(ctx, "marcus254", r.Updates[0].ID)
	if err != nil || own.Username != "marcus254" {
		t.Errorf("GetPortfolioUpdate() = %+v, %v", own, err)
	}
}

func TestPortfolioService_DefaultPages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "marcus254", "sheldon256")

	var ids []string
	for i := 0; i < DefaultTransactionPage+3; i++ {
		r, err := h.ledger.AddNewTransaction(ctx,
			buy("1", []domain.Leg{leg("marcus254", "1")}, []domain.Leg{leg("sheldon256", "1")}), "")
		if err != nil {
			t.Fatalf("AddNewTransaction() error = %v", err)
		}
		ids = append(ids, r.Transaction.ID)
	}

	txs, err := h.portfolio.GetUserTransactions(ctx, "marcus254", false)
	if err != nil {
		t.Fatalf("GetUserTransactions() error = %v", err)
	}
	if len(txs) != DefaultTransactionPage {
		t.Fatalf("len = %d, want %d", len(txs), DefaultTransactionPage)
	}
	if txs[0].ID != ids[len(ids)-1] {
		t.Errorf("first = %q, want newest %q", txs[0].ID, ids[len(ids)-1])
	}
	all, _ := h.portfolio.GetUserTransactions(ctx, "marcus254", true)
	if len(all) != len(ids) {
		t.Errorf("entire len = %d, want %d", len(all), len(ids))
	}

	updates, _ := h.portfolio.GetUserPortfolioUpdates(ctx, "sheldon256", false)
	if len(updates) != DefaultPortfolioUpdatePage {
		t.Errorf("updates len = %d, want %d", len(updates), DefaultPortfolioUpdatePage)
	}

	if _, err := h.portfolio.GetUserTransactions(ctx, "stranger", false); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unregistered user error = %v, want ErrNotFound", err)
	}
}

func TestPortfolioService_ResolveIncremental(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "a", "b")

	add := func(amount string) domain.PortfolioUpdate {
		t.Helper()
		r, err := h.ledger.AddNewTransaction(ctx,
			buy(amount, []domain.Leg{leg("a", amount)}, []domain.Leg{leg("b", amount)}), "")
		if err != nil {
			t.Fatalf("AddNewTransaction() error = %v", err)
		}
		return r.Updates[1]
	}

	add("2")
	snap, err := h.portfolio.ResolvePortfolio(ctx, "b")
	if err != nil {
		t.Fatalf("ResolvePortfolio() error = %v", err)
	}
	if !snap.Balances.Amount("BTC").Equal(dec("2")) {
		t.Errorf("BTC = %s, want 2", snap.Balances.Amount("BTC"))
	}
	cached, err := h.cache.Get(ctx, "b")
	if err != nil || cached.LastPortfolioID != snap.LastPortfolioID {
		t.Fatalf("cache after resolve = %+v, %v", cached, err)
	}

	mid := add("3")
	add("5")
	snap, _ = h.portfolio.ResolvePortfolio(ctx, "b")
	if !snap.Balances.Amount("BTC").Equal(dec("10")) {
		t.Errorf("incremental BTC = %s, want 10", snap.Balances.Amount("BTC"))
	}

	all, _ := h.portfolio.GetUserPortfolioUpdates(ctx, "b", true)
	full := domain.Fold(nil, all)
	if !full.Equal(snap.Balances) {
		t.Errorf("incremental %v != full fold %v", snap.Balances, full)
	}

	at, err := h.portfolio.ResolvePortfolioAt(ctx, "b", mid.Timestamp)
	if err != nil {
		t.Fatalf("ResolvePortfolioAt() error = %v", err)
	}
	if !at.Balances.Amount("BTC").Equal(dec("5")) || at.LastPortfolioID != mid.ID {
		t.Errorf("ResolvePortfolioAt() = %+v, want BTC 5 through id %d", at, mid.ID)
	}

	before, _ := h.portfolio.ResolvePortfolioAt(ctx, "b", mid.Timestamp.Add(-time.Hour))
	if len(before.Balances) != 0 || before.LastPortfolioID != 0 {
		t.Errorf("ResolvePortfolioAt() before history = %+v", before)
	}
}

func TestPortfolioService_StaleSnapshotAfterReset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "a", "b")
	if _, err := h.ledger.AddNewTransaction(ctx,
		buy("7", []domain.Leg{leg("a", "7")}, []domain.Leg{leg("b", "7")}), ""); err != nil {
		t.Fatalf("AddNewTransaction() error = %v", err)
	}
	if _, err := h.portfolio.ResolvePortfolio(ctx, "b"); err != nil {
		t.Fatalf("ResolvePortfolio() error = %v", err)
	}

	// Bypass the service so the cache survives the reset.
	if err := h.store.Registry().DropAll(ctx); err != nil {
		t.Fatalf("DropAll() error = %v", err)
	}
	if _, err := h.schema.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	h.register(t, "a", "b")
	if _, err := h.ledger.AddNewTransaction(ctx,
		buy("1", []domain.Leg{leg("b", "1")}, []domain.Leg{leg("a", "1")}), ""); err != nil {
		t.Fatalf("AddNewTransaction() error = %v", err)
	}

	snap, err := h.portfolio.ResolvePortfolio(ctx, "b")
	if err != nil {
		t.Fatalf("ResolvePortfolio() error = %v", err)
	}
	if !snap.Balances.Amount("BTC").IsZero() || !snap.Balances.Amount("USD").Equal(dec("-1")) {
		t.Errorf("balances after reset = %v, want only USD -1", snap.Balances)
	}
}

func TestSchemaService_ResetClearsCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "a", "b")
	if _, err := h.ledger.AddNewTransaction(ctx,
		buy("7", []domain.Leg{leg("a", "7")}, []domain.Leg{leg("b", "7")}), "k"); err != nil {
		t.Fatalf("AddNewTransaction() error = %v", err)
	}
	if _, err := h.portfolio.ResolvePortfolio(ctx, "b"); err != nil {
		t.Fatalf("ResolvePortfolio() error = %v", err)
	}

	tables, err := h.schema.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if len(tables) != len(domain.FixedTables) {
		t.Errorf("tables after reset = %v", tables)
	}
	if _, err := h.cache.Get(ctx, "b"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("cache after reset error = %v, want ErrNotFound", err)
	}
	if _, err := h.users.GetUser(ctx, "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("user after reset error = %v, want ErrNotFound", err)
	}

	h.register(t, "a", "b")
	r, err := h.ledger.AddNewTransaction(ctx,
		buy("7", []domain.Leg{leg("a", "7")}, []domain.Leg{leg("b", "7")}), "k")
	if err != nil {
		t.Fatalf("AddNewTransaction() after reset error = %v", err)
	}
	if r.Updates[0].ID != 1 {
		t.Errorf("first id after reset = %d, want 1 (idempotency key must not replay)", r.Updates[0].ID)
	}
}

func TestUserService_SetupAndNotifications(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	u, err := h.users.SetupNewUser(ctx, "marcus254")
	if err != nil {
		t.Fatalf("SetupNewUser() error = %v", err)
	}
	if _, err := h.users.SetupNewUser(ctx, "marcus254"); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate SetupNewUser() error = %v, want ErrConflict", err)
	}
	if _, err := h.users.SetupNewUser(ctx, "has space"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("SetupNewUser(space) error = %v, want ErrValidation", err)
	}

	tables, _ := h.store.Registry().ListTables(ctx)
	for _, name := range tables {
		if name == domain.TransactionViewName(u.ID) {
			t.Errorf("view %q listed among tables", name)
		}
	}

	h.register(t, "sheldon256")
	for i := 0; i < DefaultNotificationPage+2; i++ {
		if _, err := h.ledger.AddNewTransaction(ctx,
			buy("1", []domain.Leg{leg("marcus254", "1")}, []domain.Leg{leg("sheldon256", "1")}), ""); err != nil {
			t.Fatalf("AddNewTransaction() error = %v", err)
		}
	}
	page, err := h.users.GetNotifications(ctx, "marcus254", false)
	if err != nil {
		t.Fatalf("GetNotifications() error = %v", err)
	}
	if len(page) != DefaultNotificationPage {
		t.Errorf("len = %d, want %d", len(page), DefaultNotificationPage)
	}
	all, _ := h.users.GetNotifications(ctx, "marcus254", true)
	if len(all) != DefaultNotificationPage+2 {
		t.Errorf("entire len = %d, want %d", len(all), DefaultNotificationPage+2)
	}
	if all[0].PortfolioID < all[1].PortfolioID {
		t.Errorf("notifications not newest first")
	}
}
