package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/groupledger/internal/domain"
	"github.com/alanyoungcy/groupledger/internal/service"
)

// LedgerService defines the write path the ledger handler requires.
type LedgerService interface {
	AddNewTransaction(ctx context.Context, req domain.NewTransaction, idempotencyKey string) (service.Receipt, error)
}

// TransactionReader looks transactions up by id.
type TransactionReader interface {
	GetTransaction(ctx context.Context, transactionID string) (domain.Transaction, error)
}

// LedgerHandler serves the transaction endpoints.
type LedgerHandler struct {
	ledger LedgerService
	reader TransactionReader
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(ledger LedgerService, reader TransactionReader, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, reader: reader, logger: logHandler(logger, "ledger")}
}

// AddTransaction appends a transaction. An Idempotency-Key header makes
// retries return the first receipt.
// POST /api/transactions
func (h *LedgerHandler) AddTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.NewTransaction
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	receipt, err := h.ledger.AddNewTransaction(r.Context(), req, key)
	if err != nil {
		writeServiceError(w, r, h.logger, "add transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// GetTransaction returns one transaction.
// GET /api/transactions/{id}
func (h *LedgerHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.reader.GetTransaction(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
