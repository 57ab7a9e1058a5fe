package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// SchemaService defines the schema operations exposed to operators.
type SchemaService interface {
	Initialize(ctx context.Context) ([]string, error)
	ListTables(ctx context.Context) ([]string, error)
	Reset(ctx context.Context) ([]string, error)
}

// AdminHandler serves schema administration and ledger exports.
type AdminHandler struct {
	schema   SchemaService
	archiver domain.Archiver
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler. archiver may be nil, in which
// case exports answer 503.
func NewAdminHandler(schema SchemaService, archiver domain.Archiver, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{schema: schema, archiver: archiver, logger: logHandler(logger, "admin")}
}

// ListTables returns every catalogued table.
// GET /api/admin/tables
func (h *AdminHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.schema.ListTables(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list tables", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": nonNil(tables)})
}

// Initialize creates any missing fixed table.
// POST /api/admin/initialize
func (h *AdminHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	tables, err := h.schema.Initialize(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "initialize", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": nonNil(tables)})
}

// Reset drops every table and re-creates the fixed ones. The request must
// carry confirm=yes.
// POST /api/admin/reset?confirm=yes
func (h *AdminHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "yes" {
		writeError(w, http.StatusBadRequest, "reset requires confirm=yes")
		return
	}
	tables, err := h.schema.Reset(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "reset", err)
		return
	}
	h.logger.WarnContext(r.Context(), "schema reset via api", slog.String("remote_addr", r.RemoteAddr))
	writeJSON(w, http.StatusOK, map[string]any{"tables": nonNil(tables)})
}

type exportRequest struct {
	Before time.Time `json:"before"`
}

// Export writes every transaction and portfolio update older than before
// to object storage.
// POST /api/admin/export
func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusServiceUnavailable, "object storage is not configured")
		return
	}
	var req exportRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Before.IsZero() {
		req.Before = time.Now().UTC()
	}
	prefix, err := h.archiver.ExportLedger(r.Context(), req.Before)
	if err != nil {
		writeServiceError(w, r, h.logger, "export ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prefix": prefix})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
