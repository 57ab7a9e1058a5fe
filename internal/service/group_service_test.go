package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

func TestGroupService_JamminScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	id, err := h.groups.CreateGroup(ctx, "Jammin", "marcus254")
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	members, err := h.groups.GetUsersFromGroup(ctx, "Jammin")
	if err != nil {
		t.Fatalf("GetUsersFromGroup() error = %v", err)
	}
	if len(members) != 1 || members[0].Role != domain.RoleLeader || members[0].Username != "marcus254" {
		t.Fatalf("members after create = %+v", members)
	}

	if err := h.groups.AddUserToGroup(ctx, domain.RolePlayer, "sheldon256", "Jammin"); err != nil {
		t.Fatalf("AddUserToGroup() error = %v", err)
	}
	members, _ = h.groups.GetUsersFromGroup(ctx, "Jammin")
	if len(members) != 2 {
		t.Fatalf("len(members) = %d, want 2", len(members))
	}
	if members[1].Role != domain.RolePlayer || members[1].Username != "sheldon256" {
		t.Errorf("second member = %+v", members[1])
	}
	if !members[1].JoinedDate.After(members[0].JoinedDate) {
		t.Errorf("joined dates not ordered: %v then %v", members[0].JoinedDate, members[1].JoinedDate)
	}

	tables, err := h.schema.ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables() error = %v", err)
	}
	if tables[len(tables)-1] != id {
		t.Errorf("last table = %q, want group table %q", tables[len(tables)-1], id)
	}

	want := []domain.EventType{domain.EventGroupCreated, domain.EventMemberAdded}
	if got := h.events.types(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestGroupService_AdmissionRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if _, err := h.groups.CreateGroup(ctx, "Quartet", "lead"); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	err := h.groups.AddUserToGroup(ctx, domain.RoleLeader, "usurper", "Quartet")
	if !errors.Is(err, domain.ErrRoleConflict) {
		t.Errorf("second leader error = %v, want ErrRoleConflict", err)
	}

	for i := 0; i < domain.MaxPlayers; i++ {
		if err := h.groups.AddUserToGroup(ctx, domain.RolePlayer, fmt.Sprintf("p%d", i), "Quartet"); err != nil {
			t.Fatalf("AddUserToGroup(p%d) error = %v", i, err)
		}
	}
	err = h.groups.AddUserToGroup(ctx, domain.RolePlayer, "one_too_many", "Quartet")
	if !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Errorf("overflow error = %v, want ErrCapacityExceeded", err)
	}

	err = h.groups.AddUserToGroup(ctx, domain.RolePlayer, "p0", "Missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown group error = %v, want ErrNotFound", err)
	}
}

func TestGroupService_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	tests := []struct {
		name   string
		group  string
		leader string
	}{
		{name: "empty group name", group: "", leader: "lead"},
		{name: "empty leader", group: "Band", leader: ""},
		{name: "long group name", group: "abcdefghijklmnopqrstuvwxyz", leader: "lead"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.groups.CreateGroup(ctx, tt.group, tt.leader)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("CreateGroup(%q, %q) error = %v, want ErrValidation", tt.group, tt.leader, err)
			}
		})
	}
}

func TestGroupService_RolesAndRenames(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id, err := h.groups.CreateGroup(ctx, "Trio", "alice")
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	for _, name := range []string{"bob", "carol"} {
		if err := h.groups.AddUserToGroup(ctx, domain.RolePlayer, name, "Trio"); err != nil {
			t.Fatalf("AddUserToGroup(%q) error = %v", name, err)
		}
	}

	if err := h.groups.DeleteUserFromGroup(ctx, "alice", id); !errors.Is(err, domain.ErrRoleConflict) {
		t.Errorf("removing leader error = %v, want ErrRoleConflict", err)
	}
	if _, err := h.groups.UpdateUserRole(ctx, "Trio", "alice", domain.RolePlayer); !errors.Is(err, domain.ErrRoleConflict) {
		t.Errorf("demoting leader error = %v, want ErrRoleConflict", err)
	}

	change, err := h.groups.UpdateUserRole(ctx, "Trio", "bob", domain.RoleLeader)
	if err != nil {
		t.Fatalf("UpdateUserRole() error = %v", err)
	}
	if change.Demoted != "alice" {
		t.Errorf("Demoted = %q, want alice", change.Demoted)
	}
	g, _ := h.groups.GetGroup(ctx, id)
	if g.Leader != "bob" {
		t.Errorf("leader = %q, want bob", g.Leader)
	}

	if err := h.groups.UpdateUsername(ctx, "Trio", "bob", "robert"); err != nil {
		t.Fatalf("UpdateUsername() error = %v", err)
	}
	g, _ = h.groups.GetGroup(ctx, id)
	if g.Leader != "robert" {
		t.Errorf("leader after rename = %q, want robert", g.Leader)
	}
	if err := h.groups.UpdateUsername(ctx, "Trio", "carol", "alice"); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("rename onto member error = %v, want ErrConflict", err)
	}

	if err := h.groups.DeleteUserFromGroup(ctx, "alice", id); err != nil {
		t.Fatalf("DeleteUserFromGroup() error = %v", err)
	}
	members, _ := h.groups.GetUsersFromGroup(ctx, "Trio")
	var names []string
	for _, m := range members {
		names = append(names, m.Username)
	}
	if want := []string{"robert", "carol"}; !reflect.DeepEqual(names, want) {
		t.Errorf("members = %v, want %v", names, want)
	}
}

func TestGroupService_NameResolutionAndDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first, err := h.groups.CreateGroup(ctx, "Echo", "a")
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	second, err := h.groups.CreateGroup(ctx, "Echo", "b")
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	got, err := h.groups.GetGroupIDFromName(ctx, "Echo")
	if err != nil {
		t.Fatalf("GetGroupIDFromName() error = %v", err)
	}
	if got != first {
		t.Errorf("GetGroupIDFromName() = %q, want earliest %q", got, first)
	}

	if err := h.groups.DeleteGroup(ctx, first); err != nil {
		t.Fatalf("DeleteGroup() error = %v", err)
	}
	got, _ = h.groups.GetGroupIDFromName(ctx, "Echo")
	if got != second {
		t.Errorf("after delete GetGroupIDFromName() = %q, want %q", got, second)
	}
	if err := h.groups.DeleteGroup(ctx, first); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second DeleteGroup() error = %v, want ErrNotFound", err)
	}

	groups, _ := h.groups.ListGroups(ctx)
	if len(groups) != 1 || groups[0].ID != second {
		t.Errorf("ListGroups() = %+v", groups)
	}
}

type failingArchiver struct{ calls int }

func (a *failingArchiver) ArchiveMembership(context.Context, domain.Group, []domain.Member) (string, error) {
	a.calls++
	return "", errors.New("bucket unreachable")
}

func (a *failingArchiver) ExportLedger(context.Context, time.Time) (string, error) {
	return "", errors.New("not used")
}

func TestGroupService_DeleteAbortsWhenArchiveFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	arch := &failingArchiver{}
	groups := NewGroupService(h.store.Groups(), arch, nil, Options{}, discardLogger())

	id, err := groups.CreateGroup(ctx, "Keep", "lead")
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	if err := groups.DeleteGroup(ctx, id); err == nil {
		t.Fatal("DeleteGroup() error = nil, want archive failure")
	}
	if arch.calls != 1 {
		t.Errorf("archiver calls = %d, want 1", arch.calls)
	}
	if _, err := groups.GetGroup(ctx, id); err != nil {
		t.Errorf("group gone after failed archive: %v", err)
	}
}

func TestGroupService_CreateGroupAlwaysTableSafe(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	seen := make(map[string]bool)
	for i := 0; i < 300; i++ {
		id, err := h.groups.CreateGroup(ctx, "Jammin", "marcus254")
		if err != nil {
			t.Fatalf("CreateGroup() #%d error = %v", i, err)
		}
		if seen[id] {
			t.Fatalf("CreateGroup() #%d reused id %q", i, id)
		}
		seen[id] = true
	}
	groups, err := h.groups.ListGroups(ctx)
	if err != nil {
		t.Fatalf("ListGroups() error = %v", err)
	}
	if len(groups) != 300 {
		t.Errorf("len(groups) = %d, want 300", len(groups))
	}
}

// collidingGroups reports an id collision for the first n creates.
type collidingGroups struct {
	domain.GroupStore
	n   int
	ids []string
}

func (c *collidingGroups) Create(ctx context.Context, g domain.Group, leader domain.Member) error {
	c.ids = append(c.ids, g.ID)
	if len(c.ids) <= c.n {
		return fmt.Errorf("%w: group %s exists", domain.ErrIDCollision, g.ID)
	}
	return c.GroupStore.Create(ctx, g, leader)
}

func TestGroupService_RetriesIDCollision(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		collide   int
		wantErr   error
		wantCalls int
	}{
		{"one collision", 1, nil, 2},
		{"every attempt collides", idAttempts, domain.ErrConflict, idAttempts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			store := &collidingGroups{GroupStore: h.store.Groups(), n: tt.collide}
			svc := NewGroupService(store, nil, nil, Options{}, discardLogger())

			_, err := svc.CreateGroup(ctx, "Jammin", "marcus254")
			if tt.wantErr == nil && err != nil {
				t.Fatalf("CreateGroup() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateGroup() error = %v, want %v", err, tt.wantErr)
			}
			if len(store.ids) != tt.wantCalls {
				t.Fatalf("Create calls = %d, want %d", len(store.ids), tt.wantCalls)
			}
			if tt.wantCalls > 1 && store.ids[0] == store.ids[1] {
				t.Errorf("retry reused id %q", store.ids[0])
			}
		})
	}
}
