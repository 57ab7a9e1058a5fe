package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// scriptedUsers hides existing users from lookups and fails the first
// creates with the scripted errors.
type scriptedUsers struct {
	domain.UserStore
	errs  []error
	calls int
}

func (s *scriptedUsers) GetByUsername(_ context.Context, username string) (domain.User, error) {
	return domain.User{}, fmt.Errorf("%w: user %q", domain.ErrNotFound, username)
}

func (s *scriptedUsers) Create(ctx context.Context, u domain.User) error {
	s.calls++
	if s.calls <= len(s.errs) {
		return s.errs[s.calls-1]
	}
	return s.UserStore.Create(ctx, u)
}

func TestUserService_SetupRetriesOnlyIDCollisions(t *testing.T) {
	ctx := context.Background()
	taken := fmt.Errorf("%w: username %q is taken", domain.ErrConflict, "marcus254")
	collision := fmt.Errorf("%w: user id exists", domain.ErrIDCollision)

	tests := []struct {
		name      string
		errs      []error
		wantErr   error
		wantCalls int
	}{
		{"taken username is not retried", []error{taken}, domain.ErrConflict, 1},
		{"id collision is retried", []error{collision, collision}, nil, 3},
		{"collisions exhaust attempts", []error{collision, collision, collision}, domain.ErrIDCollision, idAttempts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			store := &scriptedUsers{UserStore: h.store.Users(), errs: tt.errs}
			svc := NewUserService(store, nil, 0, Options{}, discardLogger())

			_, err := svc.SetupNewUser(ctx, "marcus254")
			switch {
			case tt.wantErr == nil && err != nil:
				t.Fatalf("SetupNewUser() error = %v", err)
			case tt.wantErr != nil && !errors.Is(err, tt.wantErr):
				t.Fatalf("SetupNewUser() error = %v, want %v", err, tt.wantErr)
			}
			if store.calls != tt.wantCalls {
				t.Errorf("Create calls = %d, want %d", store.calls, tt.wantCalls)
			}
		})
	}
}

func TestUserService_DuplicateUsernameIsConflict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "marcus254")

	_, err := h.users.SetupNewUser(ctx, "marcus254")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("SetupNewUser() error = %v, want ErrConflict", err)
	}
	if errors.Is(err, domain.ErrIDCollision) {
		t.Errorf("taken username reported as id collision: %v", err)
	}
}
