package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// GroupStore implements domain.GroupStore using PostgreSQL. Each group owns
// a membership table named after its id.
type GroupStore struct {
	pool *pgxpool.Pool
}

// NewGroupStore creates a new GroupStore backed by the given connection pool.
func NewGroupStore(pool *pgxpool.Pool) *GroupStore {
	return &GroupStore{pool: pool}
}

const groupSelectCols = `uuid, group_name, group_leader, created_at`

func scanGroup(row pgx.Row) (domain.Group, error) {
	var g domain.Group
	if err := row.Scan(&g.ID, &g.Name, &g.Leader, &g.CreatedAt); err != nil {
		return domain.Group{}, err
	}
	return g, nil
}

// Create inserts the group row, creates its membership table and adds the
// leader in a single transaction.
func (s *GroupStore) Create(ctx context.Context, g domain.Group, leader domain.Member) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		const insert = `INSERT INTO groups (uuid, group_name, group_leader, created_at) VALUES ($1, $2, $3, $4)`
		if _, err := tx.Exec(ctx, insert, g.ID, g.Name, g.Leader, g.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("postgres: create group %s: %w: %w", g.ID, domain.ErrIDCollision, err)
			}
			return fmt.Errorf("postgres: create group %s: %w", g.ID, classify(err))
		}
		if _, err := createTable(ctx, tx, g.ID, domain.MembershipColumns); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return fmt.Errorf("%w: %w", domain.ErrIDCollision, err)
			}
			return err
		}
		return insertMember(ctx, tx, g.ID, leader)
	})
}

// GetByID returns a single group.
func (s *GroupStore) GetByID(ctx context.Context, id string) (domain.Group, error) {
	query := `SELECT ` + groupSelectCols + ` FROM groups WHERE uuid = $1`
	g, err := scanGroup(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Group{}, fmt.Errorf("postgres: get group %s: %w", id, classify(err))
	}
	return g, nil
}

// FindIDByName returns the id of the earliest created group called name.
func (s *GroupStore) FindIDByName(ctx context.Context, name string) (string, error) {
	const query = `SELECT uuid FROM groups WHERE group_name = $1 ORDER BY created_at, uuid LIMIT 1`
	var id string
	if err := s.pool.QueryRow(ctx, query, name).Scan(&id); err != nil {
		return "", fmt.Errorf("postgres: find group %q: %w", name, classify(err))
	}
	return id, nil
}

// List returns every group in creation order.
func (s *GroupStore) List(ctx context.Context) ([]domain.Group, error) {
	query := `SELECT ` + groupSelectCols + ` FROM groups ORDER BY created_at, uuid`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list groups: %w", classify(err))
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, classify(rows.Err())
}

// AddMember admits m to the group if its role allows it.
func (s *GroupStore) AddMember(ctx context.Context, groupID string, m domain.Member) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := lockGroup(ctx, tx, groupID); err != nil {
			return err
		}
		members, err := listMembers(ctx, tx, groupID)
		if err != nil {
			return err
		}
		for _, existing := range members {
			if existing.Username == m.Username {
				return fmt.Errorf("%w: %q is already a member", domain.ErrConflict, m.Username)
			}
		}
		if err := domain.CheckAdmission(domain.CountRoles(members), m.Role); err != nil {
			return err
		}
		if err := insertMember(ctx, tx, groupID, m); err != nil {
			return err
		}
		if m.Role == domain.RoleLeader {
			return setLeader(ctx, tx, groupID, m.Username)
		}
		return nil
	})
}

// ListMembers returns the membership ordered by joined_date then username.
func (s *GroupStore) ListMembers(ctx context.Context, groupID string) ([]domain.Member, error) {
	return listMembers(ctx, s.pool, groupID)
}

// RemoveMember deletes a non-leader member.
func (s *GroupStore) RemoveMember(ctx context.Context, groupID, username string) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		g, err := lockGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if g.Leader == username {
			return fmt.Errorf("%w: %q leads the group; transfer leadership first", domain.ErrRoleConflict, username)
		}
		stmt := fmt.Sprintf("DELETE FROM %s WHERE username = $1", pgx.Identifier{groupID}.Sanitize())
		tag, err := tx.Exec(ctx, stmt, username)
		if err != nil {
			return fmt.Errorf("postgres: remove member %s: %w", username, classify(err))
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: member %q", domain.ErrNotFound, username)
		}
		return nil
	})
}

// UpdateRole changes a member's role. Promoting a player while a leader
// exists demotes the previous leader in the same transaction.
func (s *GroupStore) UpdateRole(ctx context.Context, groupID, username string, role domain.Role) (domain.RoleChange, error) {
	var change domain.RoleChange
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := lockGroup(ctx, tx, groupID); err != nil {
			return err
		}
		members, err := listMembers(ctx, tx, groupID)
		if err != nil {
			return err
		}
		change, err = domain.PlanRoleChange(members, username, role)
		if err != nil {
			return err
		}
		if change.From == change.To {
			return nil
		}

		stmt := fmt.Sprintf("UPDATE %s SET role = $1 WHERE username = $2", pgx.Identifier{groupID}.Sanitize())
		if change.Demoted != "" {
			if _, err := tx.Exec(ctx, stmt, string(domain.RolePlayer), change.Demoted); err != nil {
				return fmt.Errorf("postgres: demote %s: %w", change.Demoted, classify(err))
			}
		}
		if _, err := tx.Exec(ctx, stmt, string(change.To), username); err != nil {
			return fmt.Errorf("postgres: update role %s: %w", username, classify(err))
		}
		if change.To == domain.RoleLeader {
			return setLeader(ctx, tx, groupID, username)
		}
		return nil
	})
	if err != nil {
		return domain.RoleChange{}, err
	}
	return change, nil
}

// RenameMember changes a member's username in place.
func (s *GroupStore) RenameMember(ctx context.Context, groupID, oldUsername, newUsername string) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		g, err := lockGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		stmt := fmt.Sprintf("UPDATE %s SET username = $1 WHERE username = $2", pgx.Identifier{groupID}.Sanitize())
		tag, err := tx.Exec(ctx, stmt, newUsername, oldUsername)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %q is already a member", domain.ErrConflict, newUsername)
			}
			return fmt.Errorf("postgres: rename member %s: %w", oldUsername, classify(err))
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: member %q", domain.ErrNotFound, oldUsername)
		}
		if g.Leader == oldUsername {
			return setLeader(ctx, tx, groupID, newUsername)
		}
		return nil
	})
}

// Delete removes the group row, its membership table and its catalog entry.
func (s *GroupStore) Delete(ctx context.Context, id string) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM groups WHERE uuid = $1`, id)
		if err != nil {
			return fmt.Errorf("postgres: delete group %s: %w", id, classify(err))
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: group %s", domain.ErrNotFound, id)
		}
		err = dropTable(ctx, tx, id)
		if errors.Is(err, domain.ErrNotFound) {
			// A group row without a catalogued table still gets its table dropped.
			_, err = tx.Exec(ctx, dropStatement(id, domain.TableKindGroup))
			err = classify(err)
		}
		return err
	})
}

// lockGroup reads the group row FOR UPDATE, serialising membership changes.
func lockGroup(ctx context.Context, tx pgx.Tx, id string) (domain.Group, error) {
	query := `SELECT ` + groupSelectCols + ` FROM groups WHERE uuid = $1 FOR UPDATE`
	g, err := scanGroup(tx.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Group{}, fmt.Errorf("postgres: lock group %s: %w", id, classify(err))
	}
	return g, nil
}

func setLeader(ctx context.Context, tx pgx.Tx, groupID, username string) error {
	if _, err := tx.Exec(ctx, `UPDATE groups SET group_leader = $1 WHERE uuid = $2`, username, groupID); err != nil {
		return fmt.Errorf("postgres: set leader of %s: %w", groupID, classify(err))
	}
	return nil
}

func insertMember(ctx context.Context, tx pgx.Tx, groupID string, m domain.Member) error {
	joined := m.JoinedDate
	if joined.IsZero() {
		joined = time.Now().UTC()
	}
	stmt := fmt.Sprintf("INSERT INTO %s (role, username, joined_date) VALUES ($1, $2, $3)", pgx.Identifier{groupID}.Sanitize())
	if _, err := tx.Exec(ctx, stmt, string(m.Role), m.Username, joined); err != nil {
		return fmt.Errorf("postgres: add member %s: %w", m.Username, classify(err))
	}
	return nil
}

func listMembers(ctx context.Context, q dbtx, groupID string) ([]domain.Member, error) {
	query := fmt.Sprintf("SELECT role, username, joined_date FROM %s ORDER BY joined_date, username",
		pgx.Identifier{groupID}.Sanitize())
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list members of %s: %w", groupID, classify(err))
	}
	defer rows.Close()

	var members []domain.Member
	for rows.Next() {
		var m domain.Member
		var role string
		if err := rows.Scan(&role, &m.Username, &m.JoinedDate); err != nil {
			return nil, fmt.Errorf("postgres: scan member: %w", err)
		}
		m.Role = domain.Role(role)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list members of %s: %w", groupID, classify(err))
	}
	return members, nil
}
