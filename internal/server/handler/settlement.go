package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fanpredict/marketd/internal/domain"
	"github.com/fanpredict/marketd/internal/service"
	"github.com/fanpredict/marketd/internal/settle"
)

// SettlementService defines the methods the settlement handler requires from
// the service layer.
type SettlementService interface {
	Resolve(ctx context.Context, market, caller common.Address, outcomeIsYes bool) (domain.Market, error)
	Reconcile(ctx context.Context, questionID string) (settle.Result, error)
	Claim(ctx context.Context, market, caller common.Address) (int64, error)
	Claimable(ctx context.Context, wallet string) (service.ClaimableSummary, error)
}

// SettlementHandler serves resolution, reconciliation, and claim endpoints.
// Resolutions are issued as the configured creator identity.
type SettlementHandler struct {
	settlement SettlementService
	creator    common.Address
	logger     *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlement SettlementService, creator common.Address, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlement: settlement,
		creator:    creator,
		logger:     logger,
	}
}

// resolveRequest is the body for resolving a market.
type resolveRequest struct {
	Outcome domain.Side `json:"outcome"`
}

// ResolveMarket sets the final outcome of a market. Admin-only; the resolve
// is issued as the configured creator, and the ledger rejects it if that
// identity did not create the market.
// POST /api/markets/{address}/resolve
func (h *SettlementHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	market, ok := parseAddress(pathParam(r, "address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market address")
		return
	}

	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	outcome, ok := parseSide(string(req.Outcome))
	if !ok {
		writeError(w, http.StatusBadRequest, "outcome must be yes or no")
		return
	}

	m, err := h.settlement.Resolve(r.Context(), market, h.creator, outcome == domain.SideYes)
	if err != nil {
		writeDomainError(w, r, h.logger, "resolve market", err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// ReconcileQuestion runs one mirror reconciliation pass. Admin-only; safe to
// call repeatedly, a pass over settled rows is a no-op.
// POST /api/settlements/{question_id}/reconcile
func (h *SettlementHandler) ReconcileQuestion(w http.ResponseWriter, r *http.Request) {
	questionID := pathParam(r, "question_id")
	if questionID == "" {
		writeError(w, http.StatusBadRequest, "missing question id")
		return
	}

	res, err := h.settlement.Reconcile(r.Context(), questionID)
	if err != nil {
		writeDomainError(w, r, h.logger, "reconcile", err)
		return
	}

	status := http.StatusOK
	if res.Failed() {
		// Partial success: some rows stayed pending for retry.
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, res)
}

// claimRequest is the body for withdrawing winnings.
type claimRequest struct {
	Wallet string `json:"wallet"`
}

// Claim withdraws the wallet's pro-rata winnings from a resolved market.
// POST /api/markets/{address}/claim
func (h *SettlementHandler) Claim(w http.ResponseWriter, r *http.Request) {
	market, ok := parseAddress(pathParam(r, "address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market address")
		return
	}

	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wallet, ok := parseAddress(req.Wallet)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	payout, err := h.settlement.Claim(r.Context(), market, wallet)
	if err != nil {
		writeDomainError(w, r, h.logger, "claim", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market": pathParam(r, "address"),
		"wallet": req.Wallet,
		"payout": payout,
	})
}

// Claimable reports what a wallet can still withdraw, from the mirror.
// GET /api/wallets/{address}/claimable
func (h *SettlementHandler) Claimable(w http.ResponseWriter, r *http.Request) {
	addr := pathParam(r, "address")
	if _, ok := parseAddress(addr); !ok {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	sum, err := h.settlement.Claimable(r.Context(), addr)
	if err != nil {
		writeDomainError(w, r, h.logger, "claimable", err)
		return
	}

	writeJSON(w, http.StatusOK, sum)
}
