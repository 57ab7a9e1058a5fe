package memory

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

func newInitialized(t *testing.T) *Store {
	t.Helper()
	s := New()
	if _, err := s.Registry().Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return s
}

func TestRegistry_ListTablesOrder(t *testing.T) {
	ctx := context.Background()
	s := newInitialized(t)

	ids := []string{"g_b", "g_a", "g_c"}
	for _, id := range ids {
		g := domain.Group{ID: id, Name: id, Leader: "lead", CreatedAt: time.Now()}
		if err := s.Groups().Create(ctx, g, domain.Member{Role: domain.RoleLeader, Username: "lead"}); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}
	if err := s.Users().Create(ctx, domain.User{ID: "u1", Username: "lead"}); err != nil {
		t.Fatalf("Users().Create() error = %v", err)
	}

	got, err := s.Registry().ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables() error = %v", err)
	}
	want := append(append([]string{}, domain.FixedTables...), ids...)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListTables() = %v, want %v", got, want)
	}

	if err := s.Registry().DropAll(ctx); err != nil {
		t.Fatalf("DropAll() error = %v", err)
	}
	got, _ = s.Registry().ListTables(ctx)
	if len(got) != 0 {
		t.Errorf("ListTables() after DropAll = %v", got)
	}
	tables, _ := s.Registry().Initialize(ctx)
	if !reflect.DeepEqual(tables, domain.FixedTables) {
		t.Errorf("Initialize() after DropAll = %v", tables)
	}
}

func TestRegistry_CreateTableConflict(t *testing.T) {
	ctx := context.Background()
	s := newInitialized(t)
	if _, err := s.Registry().CreateTable(ctx, "scratch", domain.MembershipColumns); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	if _, err := s.Registry().CreateTable(ctx, "scratch", domain.MembershipColumns); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate CreateTable() error = %v, want ErrConflict", err)
	}
	if err := s.Registry().DropTable(ctx, "scratch"); err != nil {
		t.Fatalf("DropTable() error = %v", err)
	}
	if err := s.Registry().DropTable(ctx, "scratch"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second DropTable() error = %v, want ErrNotFound", err)
	}
}

func TestLedger_AppendIsAtomicAndGapFree(t *testing.T) {
	ctx := context.Background()
	s := newInitialized(t)
	for i, name := range []string{"a", "b"} {
		if err := s.Users().Create(ctx, domain.User{ID: string(rune('0' + i)), Username: name}); err != nil {
			t.Fatal(err)
		}
	}
	one := decimal.NewFromInt(1)
	tx := domain.Transaction{
		ID: "t1", OrderType: domain.OrderBuy, Currency: "BTC", PaidWith: "USD", OrderAmount: one,
		From: domain.DiffObject{{Username: "a", Amount: one}},
		To:   domain.DiffObject{{Username: "b", Amount: one}},
	}
	bad := tx
	bad.ID = "t0"
	bad.To = domain.DiffObject{{Username: "nobody", Amount: one}}
	if _, err := s.Ledger().Append(ctx, bad, domain.Apportion(bad)); !errors.Is(err, domain.ErrUnknownParty) {
		t.Fatalf("Append(bad) error = %v, want ErrUnknownParty", err)
	}

	got, err := s.Ledger().Append(ctx, tx, domain.Apportion(tx))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2 (failed append must not consume ids)", got[0].ID, got[1].ID)
	}
	if _, err := s.Ledger().GetTransaction(ctx, "t0"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("failed append left a transaction: %v", err)
	}
	if _, err := s.Portfolios().Get(ctx, "a", 2); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get() of another user's update error = %v, want ErrNotFound", err)
	}
}

func TestGroups_NameResolutionPrefersEarliest(t *testing.T) {
	ctx := context.Background()
	s := newInitialized(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"late", "early"} {
		g := domain.Group{ID: id, Name: "Jammin", Leader: "x", CreatedAt: base.Add(time.Duration(1-i) * time.Hour)}
		if err := s.Groups().Create(ctx, g, domain.Member{Role: domain.RoleLeader, Username: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	id, err := s.Groups().FindIDByName(ctx, "Jammin")
	if err != nil || id != "early" {
		t.Fatalf("FindIDByName() = %q, %v, want early", id, err)
	}
}
