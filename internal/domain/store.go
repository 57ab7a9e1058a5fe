package domain

import (
	"context"
	"time"
)

// SchemaRegistry owns the catalog of tables in the backing store. Its view
// is always read from the store.
type SchemaRegistry interface {
	Initialize(ctx context.Context) ([]string, error)
	CreateTable(ctx context.Context, name string, cols []ColumnSpec) (TableHandle, error)
	DropTable(ctx context.Context, name string) error
	DropAll(ctx context.Context) error
	ListTables(ctx context.Context) ([]string, error)
}

// GroupStore persists groups and their membership tables. Mutations that
// depend on the current membership run under a lock on the group row.
type GroupStore interface {
	// Create inserts the group row, creates its membership table and adds
	// leader, atomically. An id collision returns ErrIDCollision.
	Create(ctx context.Context, g Group, leader Member) error
	GetByID(ctx context.Context, id string) (Group, error)
	// FindIDByName resolves a name to the earliest created matching group.
	FindIDByName(ctx context.Context, name string) (string, error)
	List(ctx context.Context) ([]Group, error)
	AddMember(ctx context.Context, groupID string, m Member) error
	ListMembers(ctx context.Context, groupID string) ([]Member, error)
	RemoveMember(ctx context.Context, groupID, username string) error
	UpdateRole(ctx context.Context, groupID, username string, role Role) (RoleChange, error)
	RenameMember(ctx context.Context, groupID, oldUsername, newUsername string) error
	Delete(ctx context.Context, id string) error
}

// UserStore persists the user directory and its per-user views.
type UserStore interface {
	// Create inserts the user and provisions its views. A taken username
	// returns ErrConflict, an id collision ErrIDCollision.
	Create(ctx context.Context, u User) error
	GetByUsername(ctx context.Context, username string) (User, error)
	ListNotifications(ctx context.Context, u User, limit int) ([]Notification, error)
}

// LedgerStore is the only writer of the transaction and portfolio update
// logs.
type LedgerStore interface {
	// Append records t and its updates in one transaction, assigning
	// portfolio ids. Unregistered parties return an *UnknownPartyError and
	// nothing is written.
	Append(ctx context.Context, t Transaction, updates []PortfolioUpdate) ([]PortfolioUpdate, error)
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	// ListByUser returns the user's transactions newest first; limit <= 0
	// means no limit.
	ListByUser(ctx context.Context, username string, limit int) ([]Transaction, error)
	ListBefore(ctx context.Context, before time.Time) ([]Transaction, error)
}

// PortfolioStore reads the portfolio update log.
type PortfolioStore interface {
	// Latest returns ErrNotFound when the user has no updates.
	Latest(ctx context.Context, username string) (PortfolioUpdate, error)
	Get(ctx context.Context, username string, id int64) (PortfolioUpdate, error)
	// ListByUser returns updates newest first; limit <= 0 means no limit.
	ListByUser(ctx context.Context, username string, limit int) ([]PortfolioUpdate, error)
	// ListAfter returns updates with id > afterID in increasing id order,
	// optionally only those timestamped at or before until.
	ListAfter(ctx context.Context, username string, afterID int64, until *time.Time) ([]PortfolioUpdate, error)
	ListBefore(ctx context.Context, before time.Time) ([]PortfolioUpdate, error)
}
