package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// GroupStore implements domain.GroupStore.
type GroupStore struct{ s *Store }

// Create inserts the group, its membership table and the leader.
func (g *GroupStore) Create(ctx context.Context, grp domain.Group, leader domain.Member) error {
	if err := ctx.Err(); err != nil {
		return ctxErr(err)
	}
	if err := domain.ValidateTableSpec(grp.ID, domain.MembershipColumns); err != nil {
		return err
	}
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return err
	}
	if _, ok := s.groups[grp.ID]; ok {
		return fmt.Errorf("%w: group %s exists", domain.ErrIDCollision, grp.ID)
	}
	if _, ok := s.catalog[grp.ID]; ok {
		return fmt.Errorf("%w: table %s exists", domain.ErrIDCollision, grp.ID)
	}
	s.groups[grp.ID] = grp
	s.register(grp.ID, domain.TableKindGroup, domain.MembershipColumns)
	if leader.JoinedDate.IsZero() {
		leader.JoinedDate = time.Now().UTC()
	}
	s.members[grp.ID][leader.Username] = leader
	return nil
}

// GetByID returns a single group.
func (g *GroupStore) GetByID(ctx context.Context, id string) (domain.Group, error) {
	if err := ctx.Err(); err != nil {
		return domain.Group{}, ctxErr(err)
	}
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	grp, ok := g.s.groups[id]
	if !ok {
		return domain.Group{}, fmt.Errorf("%w: group %s", domain.ErrNotFound, id)
	}
	return grp, nil
}

// FindIDByName resolves name to the earliest created group.
func (g *GroupStore) FindIDByName(ctx context.Context, name string) (string, error) {
	groups, err := g.List(ctx)
	if err != nil {
		return "", err
	}
	for _, grp := range groups {
		if grp.Name == name {
			return grp.ID, nil
		}
	}
	return "", fmt.Errorf("%w: group %q", domain.ErrNotFound, name)
}

// List returns every group by creation time then id.
func (g *GroupStore) List(ctx context.Context) ([]domain.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	out := make([]domain.Group, 0, len(g.s.groups))
	for _, grp := range g.s.groups {
		out = append(out, grp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AddMember admits m when its role allows it.
func (g *GroupStore) AddMember(ctx context.Context, groupID string, m domain.Member) error {
	if err := ctx.Err(); err != nil {
		return ctxErr(err)
	}
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	table, err := s.membership(groupID)
	if err != nil {
		return err
	}
	if _, ok := table[m.Username]; ok {
		return fmt.Errorf("%w: %q is already a member", domain.ErrConflict, m.Username)
	}
	if err := domain.CheckAdmission(domain.CountRoles(sortedMembers(table)), m.Role); err != nil {
		return err
	}
	if m.JoinedDate.IsZero() {
		m.JoinedDate = time.Now().UTC()
	}
	table[m.Username] = m
	if m.Role == domain.RoleLeader {
		grp := s.groups[groupID]
		grp.Leader = m.Username
		s.groups[groupID] = grp
	}
	return nil
}

// ListMembers returns members by joined_date then username.
func (g *GroupStore) ListMembers(ctx context.Context, groupID string) ([]domain.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	table, err := g.s.membership(groupID)
	if err != nil {
		return nil, err
	}
	return sortedMembers(table), nil
}

// RemoveMember deletes a non-leader member.
func (g *GroupStore) RemoveMember(ctx context.Context, groupID, username string) error {
	if err := ctx.Err(); err != nil {
		return ctxErr(err)
	}
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	table, err := s.membership(groupID)
	if err != nil {
		return err
	}
	if s.groups[groupID].Leader == username {
		return fmt.Errorf("%w: %q leads the group; transfer leadership first", domain.ErrRoleConflict, username)
	}
	if _, ok := table[username]; !ok {
		return fmt.Errorf("%w: member %q", domain.ErrNotFound, username)
	}
	delete(table, username)
	return nil
}

// UpdateRole changes a member's role, transferring leadership if needed.
func (g *GroupStore) UpdateRole(ctx context.Context, groupID, username string, role domain.Role) (domain.RoleChange, error) {
	if err := ctx.Err(); err != nil {
		return domain.RoleChange{}, ctxErr(err)
	}
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	table, err := s.membership(groupID)
	if err != nil {
		return domain.RoleChange{}, err
	}
	change, err := domain.PlanRoleChange(sortedMembers(table), username, role)
	if err != nil {
		return domain.RoleChange{}, err
	}
	if change.From == change.To {
		return change, nil
	}
	if change.Demoted != "" {
		old := table[change.Demoted]
		old.Role = domain.RolePlayer
		table[change.Demoted] = old
	}
	m := table[username]
	m.Role = change.To
	table[username] = m
	if change.To == domain.RoleLeader {
		grp := s.groups[groupID]
		grp.Leader = username
		s.groups[groupID] = grp
	}
	return change, nil
}

// RenameMember renames a member in place.
func (g *GroupStore) RenameMember(ctx context.Context, groupID, oldUsername, newUsername string) error {
	if err := ctx.Err(); err != nil {
		return ctxErr(err)
	}
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	table, err := s.membership(groupID)
	if err != nil {
		return err
	}
	m, ok := table[oldUsername]
	if !ok {
		return fmt.Errorf("%w: member %q", domain.ErrNotFound, oldUsername)
	}
	if oldUsername == newUsername {
		return nil
	}
	if _, taken := table[newUsername]; taken {
		return fmt.Errorf("%w: %q is already a member", domain.ErrConflict, newUsername)
	}
	delete(table, oldUsername)
	m.Username = newUsername
	table[newUsername] = m
	if grp := s.groups[groupID]; grp.Leader == oldUsername {
		grp.Leader = newUsername
		s.groups[groupID] = grp
	}
	return nil
}

// Delete removes the group and its membership table.
func (g *GroupStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return ctxErr(err)
	}
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return fmt.Errorf("%w: group %s", domain.ErrNotFound, id)
	}
	delete(s.groups, id)
	delete(s.members, id)
	delete(s.catalog, id)
	return nil
}

// membership must be called with mu held.
func (s *Store) membership(groupID string) (map[string]domain.Member, error) {
	if _, ok := s.groups[groupID]; !ok {
		return nil, fmt.Errorf("%w: group %s", domain.ErrNotFound, groupID)
	}
	table, ok := s.members[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: membership table %s", domain.ErrNotFound, groupID)
	}
	return table, nil
}

func sortedMembers(table map[string]domain.Member) []domain.Member {
	out := make([]domain.Member, 0, len(table))
	for _, m := range table {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedDate.Equal(out[j].JoinedDate) {
			return out[i].JoinedDate.Before(out[j].JoinedDate)
		}
		return out[i].Username < out[j].Username
	})
	return out
}
