package postgres

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// openTestClient connects to LEDGER_TEST_DSN, resets the schema and skips
// the test when no database is configured.
func openTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Close)
	if err := c.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	reg := NewSchemaRegistry(c.Pool())
	if err := reg.DropAll(ctx); err != nil {
		t.Fatalf("DropAll() error = %v", err)
	}
	if _, err := reg.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return c
}

func TestIntegration_GroupLifecycle(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	reg := NewSchemaRegistry(c.Pool())
	groups := NewGroupStore(c.Pool())

	g := domain.Group{ID: domain.NewGroupID(), Name: "Jammin", Leader: "marcus254", CreatedAt: time.Now().UTC()}
	if err := groups.Create(ctx, g, domain.Member{Role: domain.RoleLeader, Username: "marcus254"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tables, err := reg.ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables() error = %v", err)
	}
	want := append(append([]string{}, domain.FixedTables...), g.ID)
	if !reflect.DeepEqual(tables, want) {
		t.Fatalf("ListTables() = %v, want %v", tables, want)
	}

	for i := 0; i < domain.MaxPlayers; i++ {
		m := domain.Member{Role: domain.RolePlayer, Username: "player" + string(rune('a'+i))}
		if err := groups.AddMember(ctx, g.ID, m); err != nil {
			t.Fatalf("AddMember(%d) error = %v", i, err)
		}
	}
	err = groups.AddMember(ctx, g.ID, domain.Member{Role: domain.RolePlayer, Username: "overflow"})
	if !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Fatalf("tenth player error = %v, want ErrCapacityExceeded", err)
	}
	err = groups.AddMember(ctx, g.ID, domain.Member{Role: domain.RoleLeader, Username: "usurper"})
	if !errors.Is(err, domain.ErrRoleConflict) {
		t.Fatalf("second leader error = %v, want ErrRoleConflict", err)
	}

	change, err := groups.UpdateRole(ctx, g.ID, "playera", domain.RoleLeader)
	if err != nil || change.Demoted != "marcus254" {
		t.Fatalf("UpdateRole() = %+v, %v", change, err)
	}
	got, err := groups.GetByID(ctx, g.ID)
	if err != nil || got.Leader != "playera" {
		t.Fatalf("leader after transfer = %q, %v", got.Leader, err)
	}

	if err := groups.Delete(ctx, g.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := groups.ListMembers(ctx, g.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ListMembers() after delete error = %v, want ErrNotFound", err)
	}
}

func TestIntegration_AppendAssignsGapFreeIDs(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	users := NewUserStore(c.Pool())
	ledger := NewLedgerStore(c.Pool())
	portfolios := NewPortfolioStore(c.Pool())

	for _, name := range []string{"marcus254", "sheldon256"} {
		if err := users.Create(ctx, domain.User{ID: domain.NewUserID(), Username: name}); err != nil {
			t.Fatalf("Create(%s) error = %v", name, err)
		}
	}

	tx := domain.Transaction{
		ID:          "0b7f8f5e-4c1f-4a8e-9c55-0d6f1c8a2b11",
		Timestamp:   time.Now().UTC().Truncate(time.Microsecond),
		OrderType:   domain.OrderBuy,
		Currency:    "BTC",
		PaidWith:    "USD",
		OrderAmount: decimal.RequireFromString("200"),
		From:        domain.DiffObject{{Username: "marcus254", Amount: decimal.RequireFromString("200")}},
		To:          domain.DiffObject{{Username: "sheldon256", Amount: decimal.RequireFromString("200")}},
	}
	written, err := ledger.Append(ctx, tx, domain.Apportion(tx))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if written[0].ID != 1 || written[1].ID != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", written[0].ID, written[1].ID)
	}

	ghost := tx
	ghost.ID = "5f1e7e0a-8a7c-4f4b-bb7b-3c0c1d2e3f40"
	ghost.To = domain.DiffObject{{Username: "ghost", Amount: decimal.RequireFromString("1")}}
	_, err = ledger.Append(ctx, ghost, domain.Apportion(ghost))
	var unknown *domain.UnknownPartyError
	if !errors.As(err, &unknown) || len(unknown.Usernames) != 1 || unknown.Usernames[0] != "ghost" {
		t.Fatalf("Append(ghost) error = %v, want UnknownPartyError{ghost}", err)
	}
	if _, err := ledger.GetTransaction(ctx, ghost.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("failed append left a row: %v", err)
	}

	latest, err := portfolios.Latest(ctx, "sheldon256")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.ID != 2 || latest.TransactionID != tx.ID || !latest.Timestamp.Equal(tx.Timestamp) {
		t.Fatalf("Latest() = %+v", latest)
	}

	back, err := ledger.GetTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if !back.OrderAmount.Equal(tx.OrderAmount) || back.From[0].Username != "marcus254" {
		t.Fatalf("GetTransaction() = %+v", back)
	}
}
