package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// GroupService defines the methods that the group handler requires from the
// service layer.
type GroupService interface {
	CreateGroup(ctx context.Context, name, leader string) (string, error)
	AddUserToGroup(ctx context.Context, role domain.Role, username, groupName string) error
	GetUsersFromGroup(ctx context.Context, groupName string) ([]domain.Member, error)
	GetGroupIDFromName(ctx context.Context, groupName string) (string, error)
	GetGroup(ctx context.Context, groupID string) (domain.Group, error)
	ListGroups(ctx context.Context) ([]domain.Group, error)
	DeleteGroup(ctx context.Context, groupID string) error
	DeleteUserFromGroup(ctx context.Context, username, groupID string) error
	UpdateUserRole(ctx context.Context, groupName, username string, role domain.Role) (domain.RoleChange, error)
	UpdateUsername(ctx context.Context, groupName, oldUsername, newUsername string) error
}

// GroupHandler serves group and membership endpoints.
type GroupHandler struct {
	groups GroupService
	logger *slog.Logger
}

// NewGroupHandler creates a GroupHandler with the given service and logger.
func NewGroupHandler(groups GroupService, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{groups: groups, logger: logHandler(logger, "group")}
}

type createGroupRequest struct {
	Name   string `json:"name"`
	Leader string `json:"leader"`
}

// CreateGroup creates a group with its leader.
// POST /api/groups
func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.groups.CreateGroup(r.Context(), req.Name, req.Leader)
	if err != nil {
		writeServiceError(w, r, h.logger, "create group", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"group_id": id})
}

// ListGroups returns every group in creation order.
// GET /api/groups
func (h *GroupHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.ListGroups(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list groups", err)
		return
	}
	if groups == nil {
		groups = []domain.Group{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// GetGroup returns one group.
// GET /api/groups/{id}
func (h *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.groups.GetGroup(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get group", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// LookupGroup resolves a group name to its id.
// GET /api/groups/lookup?name=Jammin
func (h *GroupHandler) LookupGroup(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name query parameter required")
		return
	}
	id, err := h.groups.GetGroupIDFromName(r.Context(), name)
	if err != nil {
		writeServiceError(w, r, h.logger, "lookup group", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"group_id": id, "name": name})
}

// DeleteGroup removes a group and its membership table.
// DELETE /api/groups/{id}
func (h *GroupHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.groups.DeleteGroup(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "delete group", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "group_id": id})
}

// ListMembers returns the members of a group ordered by joined date.
// GET /api/groups/by-name/{name}/members
func (h *GroupHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.groups.GetUsersFromGroup(r.Context(), pathParam(r, "name"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list members", err)
		return
	}
	if members == nil {
		members = []domain.Member{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

type addMemberRequest struct {
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
}

// AddMember adds a user to a group.
// POST /api/groups/by-name/{name}/members
func (h *GroupHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = domain.RolePlayer
	}
	if err := h.groups.AddUserToGroup(r.Context(), req.Role, req.Username, pathParam(r, "name")); err != nil {
		writeServiceError(w, r, h.logger, "add member", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "added", "username": req.Username})
}

// RemoveMember removes a non-leader member.
// DELETE /api/groups/{id}/members/{username}
func (h *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	username := pathParam(r, "username")
	if err := h.groups.DeleteUserFromGroup(r.Context(), username, pathParam(r, "id")); err != nil {
		writeServiceError(w, r, h.logger, "remove member", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "username": username})
}

type updateRoleRequest struct {
	Role domain.Role `json:"role"`
}

// UpdateRole changes a member's role.
// PUT /api/groups/by-name/{name}/members/{username}/role
func (h *GroupHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	change, err := h.groups.UpdateUserRole(r.Context(), pathParam(r, "name"), pathParam(r, "username"), req.Role)
	if err != nil {
		writeServiceError(w, r, h.logger, "update role", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username": change.Username,
		"from":     change.From,
		"to":       change.To,
		"demoted":  change.Demoted,
	})
}

type renameRequest struct {
	Username string `json:"username"`
}

// RenameMember changes a member's username within the group.
// PUT /api/groups/by-name/{name}/members/{username}/username
func (h *GroupHandler) RenameMember(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.groups.UpdateUsername(r.Context(), pathParam(r, "name"), pathParam(r, "username"), req.Username); err != nil {
		writeServiceError(w, r, h.logger, "rename member", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "renamed", "username": req.Username})
}
