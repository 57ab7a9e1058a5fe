package domain

import (
	"regexp"
	"time"
)

// TableKind classifies entries of the schema catalog.
type TableKind string

const (
	TableKindFixed TableKind = "fixed"
	TableKindGroup TableKind = "group"
	TableKindView  TableKind = "view"
)

// Fixed table names. They are the wire contract for tooling that inspects
// the store.
const (
	TableGroups             = "groups"
	TableGlobalTransactions = "global_transactions"
	TablePortfolioUpdates   = "portfolio_updates"
	TableUsers              = "users"
)

// FixedTables lists the fixed tables in declaration order.
var FixedTables = []string{TableGroups, TableGlobalTransactions, TablePortfolioUpdates, TableUsers}

// ColumnSpec describes one column of a dynamically created table.
type ColumnSpec struct {
	Name       string
	Type       string // SQL type, e.g. "VARCHAR(28)"
	PrimaryKey bool
	Indexed    bool
	NotNull    bool
}

// TableHandle identifies a catalogued table.
type TableHandle struct {
	Name      string
	Kind      TableKind
	Columns   []ColumnSpec
	CreatedAt time.Time
}

// MembershipColumns is the column layout of every group membership table.
var MembershipColumns = []ColumnSpec{
	{Name: "role", Type: "VARCHAR(6)", NotNull: true},
	{Name: "username", Type: "VARCHAR(28)", PrimaryKey: true},
	{Name: "joined_date", Type: "TIMESTAMPTZ", NotNull: true},
}

var (
	tableNamePattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
	columnTypePattern = regexp.MustCompile(`^[A-Z]+( [A-Z]+)?(\([0-9]+(,[0-9]+)?\))?$`)
)

// ValidateTableSpec checks that name and cols can be used verbatim in DDL.
func ValidateTableSpec(name string, cols []ColumnSpec) error {
	if !tableNamePattern.MatchString(name) {
		return Validationf("invalid table name %q", name)
	}
	if len(cols) == 0 {
		return Validationf("table %q has no columns", name)
	}
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if !tableNamePattern.MatchString(c.Name) {
			return Validationf("invalid column name %q", c.Name)
		}
		if !columnTypePattern.MatchString(c.Type) {
			return Validationf("invalid type %q for column %q", c.Type, c.Name)
		}
		if seen[c.Name] {
			return Validationf("column %q declared twice", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}
