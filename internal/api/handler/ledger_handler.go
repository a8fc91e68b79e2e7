package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/evetabi/resolution/internal/ledger"
	"github.com/evetabi/resolution/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// LedgerHandler serves balance, transaction history, and reconciliation
// endpoints. Account ids accept both internal uids and wallet addresses; the
// ledger maps addresses through wallet_uid_map before touching balances.
type LedgerHandler struct {
	ledger *ledger.Ledger
	store  *store.Store
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(ledger *ledger.Ledger, store *store.Store) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, store: store}
}

type reconcileRequest struct {
	Repair bool `json:"repair"`
}

// GetBalance godoc
// GET /api/accounts/:id/balance
func (h *LedgerHandler) GetBalance(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, balance)
}

// GetTransactions godoc
// GET /api/accounts/:id/transactions?page=1&limit=20
func (h *LedgerHandler) GetTransactions(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	txs, err := h.ledger.GetTransactions(c.Request.Context(), id, limit, offset)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, txs, len(txs), page, limit)
}

// Reconcile godoc
// POST /api/accounts/:id/reconcile
//
// Folds the account's full transaction history and compares it against the
// stored balance row. With {"repair": true} the stored row is rewritten to the
// folded values inside the same transaction.
func (h *LedgerHandler) Reconcile(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_BODY", err.Error())
		return
	}

	var report *ledger.ReconcileReport
	err := h.store.RunTx(c.Request.Context(), func(tx *sqlx.Tx) error {
		var txErr error
		report, txErr = h.ledger.Reconcile(c.Request.Context(), tx, id, req.Repair)
		return txErr
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, report)
}
