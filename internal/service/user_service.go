package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// DefaultNotificationPage is the number of notifications returned when the
// caller does not ask for the entire history.
const DefaultNotificationPage = 20

// UserService manages the global user directory.
type UserService struct {
	users    domain.UserStore
	events   domain.EventPublisher
	opts     Options
	pageSize int
	logger   *slog.Logger
}

// NewUserService creates a UserService. pageSize <= 0 selects
// DefaultNotificationPage.
func NewUserService(users domain.UserStore, events domain.EventPublisher, pageSize int, opts Options, logger *slog.Logger) *UserService {
	if pageSize <= 0 {
		pageSize = DefaultNotificationPage
	}
	return &UserService{
		users:    users,
		events:   events,
		opts:     opts.withDefaults(),
		pageSize: pageSize,
		logger:   logger.With(slog.String("component", "user_service")),
	}
}

// SetupNewUser registers username and provisions its transaction and
// notification views.
func (s *UserService) SetupNewUser(ctx context.Context, username string) (domain.User, error) {
	if err := domain.ValidateUsername(username); err != nil {
		return domain.User{}, wrap("user_service: setup user", err)
	}
	bounded, cancel := s.opts.bound(ctx)
	defer cancel()

	if _, err := s.users.GetByUsername(bounded, username); err == nil {
		return domain.User{}, wrap("user_service: setup user",
			fmt.Errorf("%w: username %q is taken", domain.ErrConflict, username))
	}

	var u domain.User
	err := retryConflict(bounded, func() error {
		u = domain.User{ID: domain.NewUserID(), Username: username}
		return s.users.Create(bounded, u)
	})
	if err != nil {
		return domain.User{}, wrap(fmt.Sprintf("user_service: setup user %q", username), err)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", u.ID),
		slog.String("username", username),
	)
	publish(ctx, s.events, s.logger, domain.Event{
		Type:       domain.EventUserRegistered,
		Usernames:  []string{username},
		OccurredAt: s.opts.Now(),
	})
	return u, nil
}

// GetUser looks a user up by username.
func (s *UserService) GetUser(ctx context.Context, username string) (domain.User, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return domain.User{}, wrap(fmt.Sprintf("user_service: get user %q", username), err)
	}
	return u, nil
}

// GetNotifications returns the user's notifications newest first, limited
// to the configured page size unless entire is set.
func (s *UserService) GetNotifications(ctx context.Context, username string, entire bool) ([]domain.Notification, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, wrap(fmt.Sprintf("user_service: notifications of %q", username), err)
	}
	out, err := s.users.ListNotifications(ctx, u, pageLimit(entire, s.pageSize))
	if err != nil {
		return nil, wrap(fmt.Sprintf("user_service: notifications of %q", username), err)
	}
	return out, nil
}
