package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// UserStore implements domain.UserStore.
type UserStore struct{ s *Store }

// Create registers u and catalogues its views.
func (us *UserStore) Create(ctx context.Context, u domain.User) error {
	if err := ctx.Err(); err != nil {
		return ctxErr(err)
	}
	s := us.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return err
	}
	if _, ok := s.users[u.Username]; ok {
		return fmt.Errorf("%w: username %q is taken", domain.ErrConflict, u.Username)
	}
	if _, ok := s.catalog[domain.TransactionViewName(u.ID)]; ok {
		return fmt.Errorf("%w: user id %s exists", domain.ErrIDCollision, u.ID)
	}
	s.users[u.Username] = u
	s.register(domain.TransactionViewName(u.ID), domain.TableKindView, nil)
	s.register(domain.NotificationViewName(u.ID), domain.TableKindView, nil)
	return nil
}

// GetByUsername looks a user up.
func (us *UserStore) GetByUsername(ctx context.Context, username string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, ctxErr(err)
	}
	us.s.mu.Lock()
	defer us.s.mu.Unlock()
	u, ok := us.s.users[username]
	if !ok {
		return domain.User{}, fmt.Errorf("%w: user %q", domain.ErrNotFound, username)
	}
	return u, nil
}

// ListNotifications derives the notification view newest first.
func (us *UserStore) ListNotifications(ctx context.Context, u domain.User, limit int) ([]domain.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}
	s := us.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.catalog[domain.NotificationViewName(u.ID)]; !ok {
		return nil, fmt.Errorf("%w: notifications of %q", domain.ErrNotFound, u.Username)
	}
	var out []domain.Notification
	for i := len(s.updates) - 1; i >= 0; i-- {
		p := s.updates[i]
		if p.Username != u.Username {
			continue
		}
		t := s.transactions[p.TransactionID]
		out = append(out, domain.Notification{
			PortfolioID:   p.ID,
			TransactionID: p.TransactionID,
			Event:         domain.EventTransactionCommitted,
			OrderType:     t.OrderType,
			Currency:      t.Currency,
			PaidWith:      t.PaidWith,
			CreatedAt:     p.Timestamp,
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// LedgerStore implements domain.LedgerStore.
type LedgerStore struct{ s *Store }

// Append writes t and its updates atomically, assigning gap-free ids.
func (l *LedgerStore) Append(ctx context.Context, t domain.Transaction, updates []domain.PortfolioUpdate) ([]domain.PortfolioUpdate, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}
	if _, err := t.From.Encode(); err != nil {
		return nil, err
	}
	if _, err := t.To.Encode(); err != nil {
		return nil, err
	}
	for _, u := range updates {
		if _, err := u.Diff.Encode(); err != nil {
			return nil, err
		}
	}

	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	var missing []string
	for _, name := range t.Parties() {
		if _, ok := s.users[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.UnknownPartyError{Usernames: missing}
	}
	if _, ok := s.transactions[t.ID]; ok {
		return nil, fmt.Errorf("%w: transaction %s exists", domain.ErrIDCollision, t.ID)
	}

	out := make([]domain.PortfolioUpdate, len(updates))
	copy(out, updates)
	for i := range out {
		s.nextID++
		out[i].ID = s.nextID
		out[i].TransactionID = t.ID
	}
	s.transactions[t.ID] = t
	s.updates = append(s.updates, out...)
	return out, nil
}

// GetTransaction returns one transaction.
func (l *LedgerStore) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return domain.Transaction{}, ctxErr(err)
	}
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	t, ok := l.s.transactions[id]
	if !ok {
		return domain.Transaction{}, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, id)
	}
	return t, nil
}

// ListByUser returns the user's transactions newest first.
func (l *LedgerStore) ListByUser(ctx context.Context, username string, limit int) ([]domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for i := len(s.updates) - 1; i >= 0; i-- {
		if s.updates[i].Username != username {
			continue
		}
		out = append(out, s.transactions[s.updates[i].TransactionID])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListBefore returns transactions older than before, oldest first.
func (l *LedgerStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var out []domain.Transaction
	for _, t := range l.s.transactions {
		if t.Timestamp.Before(before) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// PortfolioStore implements domain.PortfolioStore.
type PortfolioStore struct{ s *Store }

// Latest returns the user's newest update.
func (p *PortfolioStore) Latest(ctx context.Context, username string) (domain.PortfolioUpdate, error) {
	got, err := p.ListByUser(ctx, username, 1)
	if err != nil {
		return domain.PortfolioUpdate{}, err
	}
	if len(got) == 0 {
		return domain.PortfolioUpdate{}, fmt.Errorf("%w: portfolio updates of %q", domain.ErrNotFound, username)
	}
	return got[0], nil
}

// Get returns one update owned by username.
func (p *PortfolioStore) Get(ctx context.Context, username string, id int64) (domain.PortfolioUpdate, error) {
	if err := ctx.Err(); err != nil {
		return domain.PortfolioUpdate{}, ctxErr(err)
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	// Ids are assigned densely from 1 in append order.
	if id >= 1 && id <= int64(len(p.s.updates)) {
		if u := p.s.updates[id-1]; u.ID == id && u.Username == username {
			return u, nil
		}
	}
	return domain.PortfolioUpdate{}, fmt.Errorf("%w: portfolio update %d of %q", domain.ErrNotFound, id, username)
}

// ListByUser returns the user's updates newest first.
func (p *PortfolioStore) ListByUser(ctx context.Context, username string, limit int) ([]domain.PortfolioUpdate, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	var out []domain.PortfolioUpdate
	for i := len(p.s.updates) - 1; i >= 0; i-- {
		if p.s.updates[i].Username != username {
			continue
		}
		out = append(out, p.s.updates[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListAfter returns the user's updates with id > afterID in id order.
func (p *PortfolioStore) ListAfter(ctx context.Context, username string, afterID int64, until *time.Time) ([]domain.PortfolioUpdate, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	var out []domain.PortfolioUpdate
	for _, u := range p.s.updates {
		if u.Username != username || u.ID <= afterID {
			continue
		}
		if until != nil && u.Timestamp.After(*until) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// ListBefore returns every update older than before in id order.
func (p *PortfolioStore) ListBefore(ctx context.Context, before time.Time) ([]domain.PortfolioUpdate, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	var out []domain.PortfolioUpdate
	for _, u := range p.s.updates {
		if u.Timestamp.Before(before) {
			out = append(out, u)
		}
	}
	return out, nil
}
