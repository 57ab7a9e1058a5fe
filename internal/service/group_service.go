package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// GroupService manages groups and their membership tables.
type GroupService struct {
	groups   domain.GroupStore
	archiver domain.Archiver
	events   domain.EventPublisher
	opts     Options
	logger   *slog.Logger
}

// NewGroupService creates a GroupService. archiver and events may be nil.
func NewGroupService(
	groups domain.GroupStore,
	archiver domain.Archiver,
	events domain.EventPublisher,
	opts Options,
	logger *slog.Logger,
) *GroupService {
	return &GroupService{
		groups:   groups,
		archiver: archiver,
		events:   events,
		opts:     opts.withDefaults(),
		logger:   logger.With(slog.String("component", "group_service")),
	}
}

// CreateGroup creates a group led by leader and returns its id, which is
// also the name of its membership table.
func (s *GroupService) CreateGroup(ctx context.Context, name, leader string) (string, error) {
	if err := domain.ValidateNewGroup(name, leader); err != nil {
		return "", wrap("group_service: create group", err)
	}
	bounded, cancel := s.opts.bound(ctx)
	defer cancel()

	var g domain.Group
	err := retryConflict(bounded, func() error {
		now := s.opts.Now()
		g = domain.Group{ID: domain.NewGroupID(), Name: name, Leader: leader, CreatedAt: now}
		return s.groups.Create(bounded, g, domain.Member{
			Role:       domain.RoleLeader,
			Username:   leader,
			JoinedDate: now,
		})
	})
	if err != nil {
		return "", wrap(fmt.Sprintf("group_service: create group %q", name), err)
	}

	s.logger.InfoContext(ctx, "group created",
		slog.String("group_id", g.ID),
		slog.String("name", name),
		slog.String("leader", leader),
	)
	publish(ctx, s.events, s.logger, domain.Event{
		Type:       domain.EventGroupCreated,
		GroupID:    g.ID,
		Usernames:  []string{leader},
		OccurredAt: g.CreatedAt,
	})
	return g.ID, nil
}

// AddUserToGroup adds username with role to the group called groupName.
func (s *GroupService) AddUserToGroup(ctx context.Context, role domain.Role, username, groupName string) error {
	if !role.Valid() {
		return wrap("group_service: add member", domain.Validationf("unknown role %q", role))
	}
	if err := domain.ValidateUsername(username); err != nil {
		return wrap("group_service: add member", err)
	}
	bounded, cancel := s.opts.bound(ctx)
	defer cancel()

	id, err := s.groups.FindIDByName(bounded, groupName)
	if err != nil {
		return wrap(fmt.Sprintf("group_service: resolve group %q", groupName), err)
	}
	now := s.opts.Now()
	if err := s.groups.AddMember(bounded, id, domain.Member{Role: role, Username: username, JoinedDate: now}); err != nil {
		return wrap(fmt.Sprintf("group_service: add %q to %q", username, groupName), err)
	}

	s.logger.InfoContext(ctx, "member added",
		slog.String("group_id", id),
		slog.String("username", username),
		slog.String("role", string(role)),
	)
	publish(ctx, s.events, s.logger, domain.Event{
		Type:       domain.EventMemberAdded,
		GroupID:    id,
		Usernames:  []string{username},
		OccurredAt: now,
	})
	return nil
}

// GetUsersFromGroup returns the members of groupName ordered by joined date.
func (s *GroupService) GetUsersFromGroup(ctx context.Context, groupName string) ([]domain.Member, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	id, err := s.groups.FindIDByName(ctx, groupName)
	if err != nil {
		return nil, wrap(fmt.Sprintf("group_service: resolve group %q", groupName), err)
	}
	members, err := s.groups.ListMembers(ctx, id)
	if err != nil {
		return nil, wrap(fmt.Sprintf("group_service: list members of %q", groupName), err)
	}
	return members, nil
}

// GetGroupIDFromName resolves a group name to the earliest created match.
func (s *GroupService) GetGroupIDFromName(ctx context.Context, groupName string) (string, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	id, err := s.groups.FindIDByName(ctx, groupName)
	if err != nil {
		return "", wrap(fmt.Sprintf("group_service: resolve group %q", groupName), err)
	}
	return id, nil
}

// GetGroup returns one group by id.
func (s *GroupService) GetGroup(ctx context.Context, groupID string) (domain.Group, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return domain.Group{}, wrap("group_service: get group "+groupID, err)
	}
	return g, nil
}

// ListGroups returns every group in creation order.
func (s *GroupService) ListGroups(ctx context.Context) ([]domain.Group, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	groups, err := s.groups.List(ctx)
	if err != nil {
		return nil, wrap("group_service: list groups", err)
	}
	return groups, nil
}

// DeleteGroup removes a group and its membership table. Users are not
// touched. With an archiver configured the membership is archived first and
// an archive failure aborts the delete.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID string) error {
	bounded, cancel := s.opts.bound(ctx)
	defer cancel()

	g, err := s.groups.GetByID(bounded, groupID)
	if err != nil {
		return wrap("group_service: delete group "+groupID, err)
	}
	members, err := s.groups.ListMembers(bounded, groupID)
	if err != nil {
		return wrap("group_service: delete group "+groupID, err)
	}

	var archived string
	if s.archiver != nil {
		archived, err = s.archiver.ArchiveMembership(bounded, g, members)
		if err != nil {
			return wrap("group_service: archive group "+groupID, err)
		}
	}
	if err := s.groups.Delete(bounded, groupID); err != nil {
		return wrap("group_service: delete group "+groupID, err)
	}

	usernames := make([]string, len(members))
	for i, m := range members {
		usernames[i] = m.Username
	}
	s.logger.InfoContext(ctx, "group deleted",
		slog.String("group_id", groupID),
		slog.Int("members", len(members)),
		slog.String("archive", archived),
	)
	publish(ctx, s.events, s.logger, domain.Event{
		Type:       domain.EventGroupDeleted,
		GroupID:    groupID,
		Usernames:  usernames,
		OccurredAt: s.opts.Now(),
	})
	return nil
}

// DeleteUserFromGroup removes a non-leader member.
func (s *GroupService) DeleteUserFromGroup(ctx context.Context, username, groupID string) error {
	bounded, cancel := s.opts.bound(ctx)
	defer cancel()

	if err := s.groups.RemoveMember(bounded, groupID, username); err != nil {
		return wrap(fmt.Sprintf("group_service: remove %q from %s", username, groupID), err)
	}

	s.logger.InfoContext(ctx, "member removed",
		slog.String("group_id", groupID),
		slog.String("username", username),
	)
	publish(ctx, s.events, s.logger, domain.Event{
		Type:       domain.EventMemberRemoved,
		GroupID:    groupID,
		Usernames:  []string{username},
		OccurredAt: s.opts.Now(),
	})
	return nil
}

// UpdateUserRole sets the role of username in groupName. Promoting a player
// to leader demotes the current leader in the same write.
func (s *GroupService) UpdateUserRole(ctx context.Context, groupName, username string, role domain.Role) (domain.RoleChange, error) {
	if !role.Valid() {
		return domain.RoleChange{}, wrap("group_service: update role", domain.Validationf("unknown role %q", role))
	}
	bounded, cancel := s.opts.bound(ctx)
	defer cancel()

	id, err := s.groups.FindIDByName(bounded, groupName)
	if err != nil {
		return domain.RoleChange{}, wrap(fmt.Sprintf("group_service: resolve group %q", groupName), err)
	}
	change, err := s.groups.UpdateRole(bounded, id, username, role)
	if err != nil {
		return domain.RoleChange{}, wrap(fmt.Sprintf("group_service: update role of %q", username), err)
	}
	if change.From == change.To {
		return change, nil
	}

	usernames := []string{username}
	if change.Demoted != "" {
		usernames = append(usernames, change.Demoted)
	}
	s.logger.InfoContext(ctx, "member role changed",
		slog.String("group_id", id),
		slog.String("username", username),
		slog.String("role", string(change.To)),
		slog.String("demoted", change.Demoted),
	)
	publish(ctx, s.events, s.logger, domain.Event{
		Type:       domain.EventMemberRoleChanged,
		GroupID:    id,
		Usernames:  usernames,
		OccurredAt: s.opts.Now(),
	})
	return change, nil
}

// UpdateUsername renames a member of groupName in place.
func (s *GroupService) UpdateUsername(ctx context.Context, groupName, oldUsername, newUsername string) error {
	if err := domain.ValidateUsername(newUsername); err != nil {
		return wrap("group_service: rename member", err)
	}
	bounded, cancel := s.opts.bound(ctx)
	defer cancel()

	id, err := s.groups.FindIDByName(bounded, groupName)
	if err != nil {
		return wrap(fmt.Sprintf("group_service: resolve group %q", groupName), err)
	}
	if err := s.groups.RenameMember(bounded, id, oldUsername, newUsername); err != nil {
		return wrap(fmt.Sprintf("group_service: rename %q to %q", oldUsername, newUsername), err)
	}

	s.logger.InfoContext(ctx, "member renamed",
		slog.String("group_id", id),
		slog.String("old_username", oldUsername),
		slog.String("new_username", newUsername),
	)
	publish(ctx, s.events, s.logger, domain.Event{
		Type:       domain.EventMemberRenamed,
		GroupID:    id,
		Usernames:  []string{oldUsername, newUsername},
		OccurredAt: s.opts.Now(),
	})
	return nil
}
