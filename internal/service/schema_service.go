package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// resetLockKey serialises schema resets across processes.
const resetLockKey = "schema:reset"

// SchemaService exposes the schema registry and guards destructive resets.
type SchemaService struct {
	registry domain.SchemaRegistry
	locks    domain.LockManager
	cache    domain.PortfolioCache
	opts     Options
	logger   *slog.Logger

	onReset []func()
}

// NewSchemaService creates a SchemaService. locks and cache may be nil.
func NewSchemaService(
	registry domain.SchemaRegistry,
	locks domain.LockManager,
	cache domain.PortfolioCache,
	opts Options,
	logger *slog.Logger,
) *SchemaService {
	return &SchemaService{
		registry: registry,
		locks:    locks,
		cache:    cache,
		opts:     opts.withDefaults(),
		logger:   logger.With(slog.String("component", "schema_service")),
	}
}

// OnReset registers fn to run after every successful reset, for in-process
// state keyed by identifiers that a reset recycles.
func (s *SchemaService) OnReset(fn func()) {
	s.onReset = append(s.onReset, fn)
}

// Initialize creates any missing fixed table and returns every catalogued
// table.
func (s *SchemaService) Initialize(ctx context.Context) ([]string, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	tables, err := s.registry.Initialize(ctx)
	if err != nil {
		return nil, wrap("schema_service: initialize", err)
	}
	s.logger.InfoContext(ctx, "schema initialized", slog.Int("tables", len(tables)))
	return tables, nil
}

// ListTables returns fixed tables then group tables in creation order.
func (s *SchemaService) ListTables(ctx context.Context) ([]string, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	tables, err := s.registry.ListTables(ctx)
	if err != nil {
		return nil, wrap("schema_service: list tables", err)
	}
	return tables, nil
}

// CreateTable creates and catalogues a table.
func (s *SchemaService) CreateTable(ctx context.Context, name string, cols []domain.ColumnSpec) (domain.TableHandle, error) {
	if err := domain.ValidateTableSpec(name, cols); err != nil {
		return domain.TableHandle{}, wrap("schema_service: create table", err)
	}
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	h, err := s.registry.CreateTable(ctx, name, cols)
	if err != nil {
		return domain.TableHandle{}, wrap("schema_service: create table "+name, err)
	}
	return h, nil
}

// DropTable drops a catalogued table.
func (s *SchemaService) DropTable(ctx context.Context, name string) error {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	if err := s.registry.DropTable(ctx, name); err != nil {
		return wrap("schema_service: drop table "+name, err)
	}
	return nil
}

// Reset drops every catalogued relation, clears cached portfolios and
// re-creates the fixed tables. Only one reset runs at a time.
func (s *SchemaService) Reset(ctx context.Context) ([]string, error) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, resetLockKey, 5*time.Minute)
		if err != nil {
			return nil, wrap("schema_service: reset", err)
		}
		defer unlock()
	}

	bounded, cancel := s.opts.bound(ctx)
	defer cancel()

	if err := s.registry.DropAll(bounded); err != nil {
		return nil, wrap("schema_service: drop all", err)
	}
	if s.cache != nil {
		if err := s.cache.Clear(bounded); err != nil {
			s.logger.WarnContext(ctx, "portfolio cache clear failed", slog.String("error", err.Error()))
		}
	}
	tables, err := s.registry.Initialize(bounded)
	if err != nil {
		return nil, wrap("schema_service: reinitialize", err)
	}
	for _, fn := range s.onReset {
		fn()
	}
	s.logger.WarnContext(ctx, "schema reset", slog.Int("tables", len(tables)))
	return tables, nil
}
