// Package memory implements the ledger's store interfaces in process. It
// follows the PostgreSQL stores' semantics closely enough to serve as the
// development backend and as the fake in tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

var (
	_ domain.SchemaRegistry = (*Registry)(nil)
	_ domain.GroupStore     = (*GroupStore)(nil)
	_ domain.UserStore      = (*UserStore)(nil)
	_ domain.LedgerStore    = (*LedgerStore)(nil)
	_ domain.PortfolioStore = (*PortfolioStore)(nil)
)

type catalogEntry struct {
	handle domain.TableHandle
	seq    int64
}

// Store holds every table behind one mutex, which stands in for the
// database's transactional isolation.
type Store struct {
	mu sync.Mutex

	catalog map[string]catalogEntry
	seq     int64

	groups  map[string]domain.Group
	members map[string]map[string]domain.Member

	users        map[string]domain.User
	transactions map[string]domain.Transaction
	updates      []domain.PortfolioUpdate
	nextID       int64

	initialized bool
}

// New returns an empty store. Initialize must be called before use, as with
// PostgreSQL.
func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.catalog = make(map[string]catalogEntry)
	s.seq = 0
	s.groups = make(map[string]domain.Group)
	s.members = make(map[string]map[string]domain.Member)
	s.users = make(map[string]domain.User)
	s.transactions = make(map[string]domain.Transaction)
	s.updates = nil
	s.nextID = 0
	s.initialized = false
}

// Registry returns the schema registry view of s.
func (s *Store) Registry() *Registry { return &Registry{s: s} }

// Groups returns the group store view of s.
func (s *Store) Groups() *GroupStore { return &GroupStore{s: s} }

// Users returns the user store view of s.
func (s *Store) Users() *UserStore { return &UserStore{s: s} }

// Ledger returns the ledger store view of s.
func (s *Store) Ledger() *LedgerStore { return &LedgerStore{s: s} }

// Portfolios returns the portfolio store view of s.
func (s *Store) Portfolios() *PortfolioStore { return &PortfolioStore{s: s} }

// Registry implements domain.SchemaRegistry.
type Registry struct{ s *Store }

// Initialize registers the fixed tables and returns the catalogued tables.
func (r *Registry) Initialize(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}
	r.s.mu.Lock()
	for _, name := range domain.FixedTables {
		if _, ok := r.s.catalog[name]; !ok {
			r.s.register(name, domain.TableKindFixed, nil)
		}
	}
	r.s.initialized = true
	r.s.mu.Unlock()
	return r.ListTables(ctx)
}

// CreateTable catalogues a group table.
func (r *Registry) CreateTable(ctx context.Context, name string, cols []domain.ColumnSpec) (domain.TableHandle, error) {
	if err := ctx.Err(); err != nil {
		return domain.TableHandle{}, ctxErr(err)
	}
	if err := domain.ValidateTableSpec(name, cols); err != nil {
		return domain.TableHandle{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.catalog[name]; ok {
		return domain.TableHandle{}, fmt.Errorf("%w: table %s exists", domain.ErrConflict, name)
	}
	return r.s.register(name, domain.TableKindGroup, cols), nil
}

// DropTable forgets a catalogued relation.
func (r *Registry) DropTable(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return ctxErr(err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.catalog[name]; !ok {
		return fmt.Errorf("%w: table %s", domain.ErrNotFound, name)
	}
	delete(r.s.catalog, name)
	delete(r.s.members, name)
	return nil
}

// DropAll discards every table and resets the id counter.
func (r *Registry) DropAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ctxErr(err)
	}
	r.s.mu.Lock()
	r.s.reset()
	r.s.mu.Unlock()
	return nil
}

// ListTables returns fixed tables in declaration order, then group tables in
// creation order.
func (r *Registry) ListTables(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var names []string
	for _, name := range domain.FixedTables {
		if _, ok := r.s.catalog[name]; ok {
			names = append(names, name)
		}
	}
	var dynamic []catalogEntry
	for _, e := range r.s.catalog {
		if e.handle.Kind == domain.TableKindGroup {
			dynamic = append(dynamic, e)
		}
	}
	sort.Slice(dynamic, func(i, j int) bool { return dynamic[i].seq < dynamic[j].seq })
	for _, e := range dynamic {
		names = append(names, e.handle.Name)
	}
	return names, nil
}

// register must be called with mu held.
func (s *Store) register(name string, kind domain.TableKind, cols []domain.ColumnSpec) domain.TableHandle {
	s.seq++
	h := domain.TableHandle{Name: name, Kind: kind, Columns: cols, CreatedAt: time.Now().UTC()}
	s.catalog[name] = catalogEntry{handle: h, seq: s.seq}
	if kind == domain.TableKindGroup {
		s.members[name] = make(map[string]domain.Member)
	}
	return h
}

// checkReady must be called with mu held.
func (s *Store) checkReady() error {
	if !s.initialized {
		return fmt.Errorf("%w: schema not initialized", domain.ErrNotFound)
	}
	return nil
}

func ctxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return err
}
