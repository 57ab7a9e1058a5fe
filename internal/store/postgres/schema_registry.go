package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// fixedDDL creates the fixed tables, keyed by name.
var fixedDDL = map[string]string{
	domain.TableGroups: `
		CREATE TABLE IF NOT EXISTS groups (
			uuid          VARCHAR(38) PRIMARY KEY,
			group_name    VARCHAR(24) NOT NULL,
			group_leader  VARCHAR(28) NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_groups_group_name ON groups (group_name, created_at);`,

	domain.TableGlobalTransactions: `
		CREATE TABLE IF NOT EXISTS global_transactions (
			transaction_id  VARCHAR(36) PRIMARY KEY,
			timestamp       TIMESTAMPTZ NOT NULL,
			order_type      VARCHAR(4) NOT NULL,
			currency        VARCHAR(5) NOT NULL,
			paid_with       VARCHAR(5) NOT NULL,
			order_amount    NUMERIC(24,10) NOT NULL,
			"from"          VARCHAR(1028) NOT NULL,
			"to"            VARCHAR(1028) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_global_transactions_timestamp ON global_transactions (timestamp);`,

	domain.TablePortfolioUpdates: `
		CREATE TABLE IF NOT EXISTS portfolio_updates (
			portfolio_id    BIGINT PRIMARY KEY,
			portfolio       VARCHAR(2056) NOT NULL,
			date_of_update  TIMESTAMPTZ NOT NULL,
			username        VARCHAR(28) NOT NULL,
			transaction_id  VARCHAR(36) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_portfolio_updates_username ON portfolio_updates (username, portfolio_id);
		CREATE INDEX IF NOT EXISTS idx_portfolio_updates_transaction ON portfolio_updates (transaction_id);`,

	domain.TableUsers: `
		CREATE TABLE IF NOT EXISTS users (
			user_id   VARCHAR(36) PRIMARY KEY,
			username  VARCHAR(28) NOT NULL UNIQUE
		);`,
}

// SchemaRegistry implements domain.SchemaRegistry on top of the
// schema_catalog table.
type SchemaRegistry struct {
	pool *pgxpool.Pool
}

// NewSchemaRegistry creates a new SchemaRegistry backed by the given pool.
func NewSchemaRegistry(pool *pgxpool.Pool) *SchemaRegistry {
	return &SchemaRegistry{pool: pool}
}

// Initialize creates any missing fixed table, registers it and returns the
// catalogued tables.
func (r *SchemaRegistry) Initialize(ctx context.Context) ([]string, error) {
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, name := range domain.FixedTables {
			if _, err := tx.Exec(ctx, fixedDDL[name]); err != nil {
				return fmt.Errorf("postgres: create %s: %w", name, classify(err))
			}
			if err := registerTable(ctx, tx, name, domain.TableKindFixed, true); err != nil {
				return err
			}
		}
		const seed = `INSERT INTO ledger_counters (name, value) VALUES ('portfolio_id', 0)
			ON CONFLICT (name) DO NOTHING`
		if _, err := tx.Exec(ctx, seed); err != nil {
			return fmt.Errorf("postgres: seed counters: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: initialize: %w", err)
	}
	return r.ListTables(ctx)
}

// CreateTable creates a catalogued group table.
func (r *SchemaRegistry) CreateTable(ctx context.Context, name string, cols []domain.ColumnSpec) (domain.TableHandle, error) {
	var h domain.TableHandle
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		h, err = createTable(ctx, tx, name, cols)
		return err
	})
	if err != nil {
		return domain.TableHandle{}, err
	}
	return h, nil
}

// DropTable drops a catalogued relation and forgets it.
func (r *SchemaRegistry) DropTable(ctx context.Context, name string) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		return dropTable(ctx, tx, name)
	})
}

// DropAll drops every catalogued relation, empties the catalog and resets
// the portfolio id counter.
func (r *SchemaRegistry) DropAll(ctx context.Context) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		// Views depend on the fixed tables, so they go first.
		const list = `SELECT table_name, kind FROM schema_catalog
			ORDER BY CASE kind WHEN 'view' THEN 0 WHEN 'group' THEN 1 ELSE 2 END, seq DESC`
		rows, err := tx.Query(ctx, list)
		if err != nil {
			return fmt.Errorf("postgres: list catalog: %w", classify(err))
		}
		type entry struct {
			name string
			kind domain.TableKind
		}
		var entries []entry
		for rows.Next() {
			var e entry
			if err := rows.Scan(&e.name, &e.kind); err != nil {
				rows.Close()
				return fmt.Errorf("postgres: scan catalog: %w", err)
			}
			entries = append(entries, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("postgres: list catalog: %w", classify(err))
		}

		for _, e := range entries {
			if _, err := tx.Exec(ctx, dropStatement(e.name, e.kind)); err != nil {
				return fmt.Errorf("postgres: drop %s: %w", e.name, classify(err))
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM schema_catalog`); err != nil {
			return fmt.Errorf("postgres: clear catalog: %w", classify(err))
		}
		if _, err := tx.Exec(ctx, `UPDATE ledger_counters SET value = 0 WHERE name = 'portfolio_id'`); err != nil {
			return fmt.Errorf("postgres: reset counters: %w", classify(err))
		}
		return nil
	})
}

// ListTables returns the fixed tables in declaration order followed by the
// group tables in creation order.
func (r *SchemaRegistry) ListTables(ctx context.Context) ([]string, error) {
	const query = `
		SELECT table_name FROM schema_catalog
		WHERE kind IN ('fixed', 'group')
		ORDER BY CASE kind WHEN 'fixed' THEN 0 ELSE 1 END,
			array_position($1::text[], table_name), seq`
	rows, err := r.pool.Query(ctx, query, domain.FixedTables)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tables: %w", classify(err))
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("postgres: scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list tables: %w", classify(err))
	}
	return names, nil
}

// createTable issues the DDL for a group table and catalogues it within tx.
func createTable(ctx context.Context, tx pgx.Tx, name string, cols []domain.ColumnSpec) (domain.TableHandle, error) {
	if err := domain.ValidateTableSpec(name, cols); err != nil {
		return domain.TableHandle{}, err
	}

	ident := pgx.Identifier{name}.Sanitize()
	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		def := pgx.Identifier{c.Name}.Sanitize() + " " + c.Type
		if c.PrimaryKey {
			def += " PRIMARY KEY"
		} else if c.NotNull {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", ident, strings.Join(defs, ", "))
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return domain.TableHandle{}, fmt.Errorf("postgres: create table %s: %w", name, classify(err))
	}
	for _, c := range cols {
		if !c.Indexed || c.PrimaryKey {
			continue
		}
		idx := pgx.Identifier{"idx_" + name + "_" + c.Name}.Sanitize()
		stmt := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", idx, ident, pgx.Identifier{c.Name}.Sanitize())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return domain.TableHandle{}, fmt.Errorf("postgres: index %s.%s: %w", name, c.Name, classify(err))
		}
	}
	if err := registerTable(ctx, tx, name, domain.TableKindGroup, false); err != nil {
		return domain.TableHandle{}, err
	}
	return domain.TableHandle{
		Name:      name,
		Kind:      domain.TableKindGroup,
		Columns:   cols,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// dropTable removes a catalogued relation within tx.
func dropTable(ctx context.Context, tx pgx.Tx, name string) error {
	var kind domain.TableKind
	err := tx.QueryRow(ctx,
		`DELETE FROM schema_catalog WHERE table_name = $1 RETURNING kind`, name,
	).Scan(&kind)
	if err != nil {
		return fmt.Errorf("postgres: uncatalog %s: %w", name, classify(err))
	}
	if _, err := tx.Exec(ctx, dropStatement(name, kind)); err != nil {
		return fmt.Errorf("postgres: drop %s: %w", name, classify(err))
	}
	return nil
}

// registerTable adds a catalog row. With ifAbsent an existing row is kept,
// otherwise it is a conflict.
func registerTable(ctx context.Context, tx pgx.Tx, name string, kind domain.TableKind, ifAbsent bool) error {
	query := `INSERT INTO schema_catalog (table_name, kind) VALUES ($1, $2)`
	if ifAbsent {
		query += ` ON CONFLICT (table_name) DO NOTHING`
	}
	if _, err := tx.Exec(ctx, query, name, string(kind)); err != nil {
		return fmt.Errorf("postgres: catalog %s: %w", name, classify(err))
	}
	return nil
}

func dropStatement(name string, kind domain.TableKind) string {
	ident := pgx.Identifier{name}.Sanitize()
	if kind == domain.TableKindView {
		return "DROP VIEW IF EXISTS " + ident
	}
	return "DROP TABLE IF EXISTS " + ident + " CASCADE"
}

var (
	_ domain.SchemaRegistry = (*SchemaRegistry)(nil)
	_ domain.GroupStore     = (*GroupStore)(nil)
	_ domain.UserStore      = (*UserStore)(nil)
	_ domain.LedgerStore    = (*LedgerStore)(nil)
	_ domain.PortfolioStore = (*PortfolioStore)(nil)
)
