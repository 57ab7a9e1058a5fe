package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is a member's role within a group.
type Role string

const (
	RoleLeader Role = "leader"
	RolePlayer Role = "player"
)

// MaxPlayers is the number of non-leader members a group may hold.
const MaxPlayers = 9

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleLeader || r == RolePlayer
}

// Group is a row of the groups table. Its ID doubles as the name of the
// group's membership table.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Leader    string    `json:"leader"`
	CreatedAt time.Time `json:"created_at"`
}

// Member is a row of a group's membership table.
type Member struct {
	Role       Role      `json:"role"`
	Username   string    `json:"username"`
	JoinedDate time.Time `json:"joined_date"`
}

// GroupIDPrefix starts every group id so the id is a valid table name even
// when the uuid begins with a digit.
const GroupIDPrefix = "g_"

// NewGroupID returns a fresh group identifier. Dashes are replaced so the id
// can be used verbatim as a table name.
func NewGroupID() string {
	return GroupIDPrefix + strings.ReplaceAll(uuid.New().String(), "-", "_")
}

// RoleCounts summarises a membership table for admission checks.
type RoleCounts struct {
	Leaders int
	Players int
}

// CountRoles tallies the roles of the given members.
func CountRoles(members []Member) RoleCounts {
	var c RoleCounts
	for _, m := range members {
		switch m.Role {
		case RoleLeader:
			c.Leaders++
		default:
			c.Players++
		}
	}
	return c
}

// CheckAdmission decides whether a member with the given role may join a
// group whose current membership is summarised by c.
func CheckAdmission(c RoleCounts, role Role) error {
	switch role {
	case RoleLeader:
		if c.Leaders > 0 {
			return fmt.Errorf("%w: group already has a leader", ErrRoleConflict)
		}
	case RolePlayer:
		if c.Players >= MaxPlayers {
			return fmt.Errorf("%w: group already has %d players", ErrCapacityExceeded, MaxPlayers)
		}
	default:
		return Validationf("unknown role %q", role)
	}
	return nil
}

// RoleChange describes the rows touched by a role update. When leadership is
// transferred, Demoted holds the previous leader.
type RoleChange struct {
	Username string
	From     Role
	To       Role
	Demoted  string
}

// PlanRoleChange validates moving username to role within members and
// returns the resulting change. Promoting a player while a leader exists
// transfers leadership; demoting the only leader is refused.
func PlanRoleChange(members []Member, username string, role Role) (RoleChange, error) {
	if !role.Valid() {
		return RoleChange{}, Validationf("unknown role %q", role)
	}
	var target *Member
	var leader string
	for i := range members {
		if members[i].Username == username {
			target = &members[i]
		}
		if members[i].Role == RoleLeader {
			leader = members[i].Username
		}
	}
	if target == nil {
		return RoleChange{}, fmt.Errorf("%w: member %q", ErrNotFound, username)
	}
	change := RoleChange{Username: username, From: target.Role, To: role}
	switch {
	case target.Role == role:
	case role == RolePlayer:
		return RoleChange{}, fmt.Errorf("%w: %q is the group leader; promote another member instead", ErrRoleConflict, username)
	case role == RoleLeader && leader != "":
		change.Demoted = leader
	}
	return change, nil
}
