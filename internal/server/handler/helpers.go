package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// maxBodyBytes bounds request bodies; a transaction's legs are capped well
// below this.
const maxBodyBytes = 64 << 10

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch domain.Kind(err) {
	case "not_found":
		return http.StatusNotFound
	case "conflict", "role_conflict", "capacity_exceeded", "lock_held":
		return http.StatusConflict
	case "unknown_party":
		return http.StatusUnprocessableEntity
	case "validation":
		return http.StatusBadRequest
	case "timeout":
		return http.StatusGatewayTimeout
	case "storage_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps err to a status and writes it. Internal errors are
// logged and their detail is withheld from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Kind: domain.Kind(err)}
	var unknown *domain.UnknownPartyError
	if errors.As(err, &unknown) {
		body.Missing = unknown.Usernames
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("kind", body.Kind),
			slog.String("error", err.Error()),
		)
		if status == http.StatusInternalServerError {
			body.Error = op + " failed"
		}
	}
	writeJSON(w, status, body)
}

// decodeJSON decodes a size-limited request body into dst, rejecting
// unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// boolQuery reads a boolean query parameter, treating a bare "?name" as
// true.
func boolQuery(r *http.Request, name string) bool {
	q := r.URL.Query()
	if !q.Has(name) {
		return false
	}
	v := q.Get(name)
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
