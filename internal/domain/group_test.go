package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckAdmission(t *testing.T) {
	tests := []struct {
		name   string
		counts RoleCounts
		role   Role
		want   error
	}{
		{"first player", RoleCounts{Leaders: 1}, RolePlayer, nil},
		{"ninth player", RoleCounts{Leaders: 1, Players: 8}, RolePlayer, nil},
		{"tenth player", RoleCounts{Leaders: 1, Players: 9}, RolePlayer, ErrCapacityExceeded},
		{"second leader", RoleCounts{Leaders: 1}, RoleLeader, ErrRoleConflict},
		{"leader of empty group", RoleCounts{}, RoleLeader, nil},
		{"unknown role", RoleCounts{}, Role("coach"), ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAdmission(tt.counts, tt.role)
			if tt.want == nil && err != nil {
				t.Fatalf("CheckAdmission() error = %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("CheckAdmission() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPlanRoleChange(t *testing.T) {
	members := []Member{
		{Role: RoleLeader, Username: "marcus254"},
		{Role: RolePlayer, Username: "sheldon256"},
	}

	change, err := PlanRoleChange(members, "sheldon256", RoleLeader)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if change.Demoted != "marcus254" || change.From != RolePlayer || change.To != RoleLeader {
		t.Errorf("promote change = %+v", change)
	}

	if _, err := PlanRoleChange(members, "marcus254", RolePlayer); !errors.Is(err, ErrRoleConflict) {
		t.Errorf("demote sole leader error = %v, want ErrRoleConflict", err)
	}
	if _, err := PlanRoleChange(members, "nobody", RolePlayer); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing member error = %v, want ErrNotFound", err)
	}
	change, err = PlanRoleChange(members, "sheldon256", RolePlayer)
	if err != nil || change.Demoted != "" {
		t.Errorf("no-op change = %+v, %v", change, err)
	}
}

func TestNewGroupID_IsTableSafe(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := NewGroupID()
		if !strings.HasPrefix(id, GroupIDPrefix) {
			t.Fatalf("id %q lacks prefix %q", id, GroupIDPrefix)
		}
		if len(id) != len(GroupIDPrefix)+36 {
			t.Fatalf("len(%q) = %d", id, len(id))
		}
		if strings.Contains(id, "-") {
			t.Fatalf("id %q contains a dash", id)
		}
		if err := ValidateTableSpec(id, MembershipColumns); err != nil {
			t.Fatalf("ValidateTableSpec(%q) error = %v", id, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestValidateTableSpec(t *testing.T) {
	// A bare uuid may start with a digit, which is not a valid identifier.
	if err := ValidateTableSpec("357dd290_25bb_4c32_82e1_b959c69837b6", MembershipColumns); !errors.Is(err, ErrValidation) {
		t.Errorf("digit-leading name error = %v, want ErrValidation", err)
	}
	if err := ValidateTableSpec(GroupIDPrefix+"357dd290_25bb_4c32_82e1_b959c69837b6", MembershipColumns); err != nil {
		t.Fatalf("membership table rejected: %v", err)
	}
	bad := []struct {
		name string
		cols []ColumnSpec
	}{
		{"drop table users;--", MembershipColumns},
		{"ok", nil},
		{"ok", []ColumnSpec{{Name: "a", Type: "TEXT); DROP TABLE users"}}},
		{"ok", []ColumnSpec{{Name: "a", Type: "TEXT"}, {Name: "a", Type: "TEXT"}}},
	}
	for _, b := range bad {
		if err := ValidateTableSpec(b.name, b.cols); !errors.Is(err, ErrValidation) {
			t.Errorf("ValidateTableSpec(%q) error = %v, want ErrValidation", b.name, err)
		}
	}
}
