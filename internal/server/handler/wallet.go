package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fanpredict/marketd/internal/service"
)

// WalletService defines the methods the wallet handler requires from the
// service layer.
type WalletService interface {
	Deposit(ctx context.Context, wallet common.Address, amount int64) (service.WalletBalance, error)
	Approve(ctx context.Context, owner, spender common.Address, amount int64) (int64, error)
	Balance(ctx context.Context, wallet common.Address) (service.WalletBalance, error)
	Allowance(ctx context.Context, owner, spender common.Address) (int64, error)
}

// WalletHandler serves token funding endpoints: deposits credit a wallet,
// approvals let a market escrow its stake.
type WalletHandler struct {
	wallets WalletService
	logger  *slog.Logger
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(wallets WalletService, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{
		wallets: wallets,
		logger:  logger,
	}
}

// depositRequest is the body for crediting a wallet.
type depositRequest struct {
	Amount int64 `json:"amount"`
}

// Deposit credits tokens to a wallet. Admin-only: it is the bridge from
// off-ledger payments into the token ledger.
// POST /api/wallets/{address}/deposit
func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	wallet, ok := parseAddress(pathParam(r, "address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bal, err := h.wallets.Deposit(r.Context(), wallet, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "deposit", err)
		return
	}

	writeJSON(w, http.StatusOK, bal)
}

// approveRequest is the body for granting a market an allowance.
type approveRequest struct {
	Market string `json:"market"`
	Amount int64  `json:"amount"`
}

// Approve grants a market permission to escrow up to amount of the wallet's
// tokens. Approving zero revokes.
// POST /api/wallets/{address}/approve
func (h *WalletHandler) Approve(w http.ResponseWriter, r *http.Request) {
	wallet, ok := parseAddress(pathParam(r, "address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	market, ok := parseAddress(req.Market)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market address")
		return
	}

	allowance, err := h.wallets.Approve(r.Context(), wallet, market, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "approve", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"wallet":    pathParam(r, "address"),
		"market":    req.Market,
		"allowance": allowance,
	})
}

// GetBalance returns the wallet's token balance, plus its remaining
// allowance for one market when ?market= is given.
// GET /api/wallets/{address}/balance
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	wallet, ok := parseAddress(pathParam(r, "address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	bal, err := h.wallets.Balance(r.Context(), wallet)
	if err != nil {
		writeDomainError(w, r, h.logger, "balance", err)
		return
	}

	if raw := r.URL.Query().Get("market"); raw != "" {
		market, ok := parseAddress(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid market address")
			return
		}
		allowance, err := h.wallets.Allowance(r.Context(), wallet, market)
		if err != nil {
			writeDomainError(w, r, h.logger, "allowance", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"wallet":    bal.Wallet,
			"symbol":    bal.Symbol,
			"balance":   bal.Balance,
			"allowance": allowance,
		})
		return
	}

	writeJSON(w, http.StatusOK, bal)
}
