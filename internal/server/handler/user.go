package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// UserService defines the methods that the user handler requires from the
// service layer.
type UserService interface {
	SetupNewUser(ctx context.Context, username string) (domain.User, error)
	GetUser(ctx context.Context, username string) (domain.User, error)
	GetNotifications(ctx context.Context, username string, entire bool) ([]domain.Notification, error)
}

// PortfolioService defines the read-side methods the user handler serves.
type PortfolioService interface {
	GetLatestPortfolioUpdate(ctx context.Context, username string) (domain.PortfolioUpdate, error)
	GetPortfolioUpdate(ctx context.Context, username string, portfolioID int64) (domain.PortfolioUpdate, error)
	GetUserTransactions(ctx context.Context, username string, entire bool) ([]domain.Transaction, error)
	GetUserPortfolioUpdates(ctx context.Context, username string, entire bool) ([]domain.PortfolioUpdate, error)
	GetTransaction(ctx context.Context, transactionID string) (domain.Transaction, error)
	ResolvePortfolio(ctx context.Context, username string) (domain.PortfolioSnapshot, error)
	ResolvePortfolioAt(ctx context.Context, username string, at time.Time) (domain.PortfolioSnapshot, error)
}

// UserHandler serves the user directory and per-user history endpoints.
type UserHandler struct {
	users      UserService
	portfolios PortfolioService
	logger     *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users UserService, portfolios PortfolioService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, portfolios: portfolios, logger: logHandler(logger, "user")}
}

type createUserRequest struct {
	Username string `json:"username"`
}

// CreateUser registers a user.
// POST /api/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := h.users.SetupNewUser(r.Context(), req.Username)
	if err != nil {
		writeServiceError(w, r, h.logger, "create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// GetUser returns one user.
// GET /api/users/{username}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetUser(r.Context(), pathParam(r, "username"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get user", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Notifications returns the user's notifications, newest first.
// GET /api/users/{username}/notifications?entire=true
func (h *UserHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	out, err := h.users.GetNotifications(r.Context(), pathParam(r, "username"), boolQuery(r, "entire"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list notifications", err)
		return
	}
	if out == nil {
		out = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

// Transactions returns the transactions naming the user, newest first.
// GET /api/users/{username}/transactions?entire=true
func (h *UserHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.portfolios.GetUserTransactions(r.Context(), pathParam(r, "username"), boolQuery(r, "entire"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list transactions", err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// PortfolioUpdates returns the user's portfolio updates, newest first.
// GET /api/users/{username}/portfolio-updates?entire=true
func (h *UserHandler) PortfolioUpdates(w http.ResponseWriter, r *http.Request) {
	updates, err := h.portfolios.GetUserPortfolioUpdates(r.Context(), pathParam(r, "username"), boolQuery(r, "entire"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list portfolio updates", err)
		return
	}
	if updates == nil {
		updates = []domain.PortfolioUpdate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"portfolio_updates": updates})
}

// LatestPortfolioUpdate returns the newest update or the empty sentinel.
// GET /api/users/{username}/portfolio-updates/latest
func (h *UserHandler) LatestPortfolioUpdate(w http.ResponseWriter, r *http.Request) {
	u, err := h.portfolios.GetLatestPortfolioUpdate(r.Context(), pathParam(r, "username"))
	if err != nil {
		writeServiceError(w, r, h.logger, "latest portfolio update", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// PortfolioUpdate returns one update owned by the user.
// GET /api/users/{username}/portfolio-updates/{id}
func (h *UserHandler) PortfolioUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "portfolio id must be a positive integer")
		return
	}
	u, err := h.portfolios.GetPortfolioUpdate(r.Context(), pathParam(r, "username"), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get portfolio update", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Portfolio returns the user's resolved balances, optionally as of a past
// instant.
// GET /api/users/{username}/portfolio?at=2026-01-05T09:00:00Z
func (h *UserHandler) Portfolio(w http.ResponseWriter, r *http.Request) {
	username := pathParam(r, "username")
	var (
		snap domain.PortfolioSnapshot
		err  error
	)
	if v := r.URL.Query().Get("at"); v != "" {
		at, perr := time.Parse(time.RFC3339Nano, v)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "at must be an RFC 3339 timestamp")
			return
		}
		snap, err = h.portfolios.ResolvePortfolioAt(r.Context(), username, at)
	} else {
		snap, err = h.portfolios.ResolvePortfolio(r.Context(), username)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve portfolio", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
