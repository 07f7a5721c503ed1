package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fanpredict/marketd/internal/domain"
)

// BetService defines the methods the bet handler requires from the service
// layer.
type BetService interface {
	Place(ctx context.Context, market, wallet common.Address, side domain.Side, amount int64) (domain.BetRow, error)
	History(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.BetRow, error)
	ByQuestion(ctx context.Context, questionID string, opts domain.ListOpts) ([]domain.BetRow, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

// marketLookup resolves a market address to its snapshot, used to map an
// address to the question its bet rows are keyed under.
type marketLookup interface {
	GetWithBets(ctx context.Context, address, wallet string) (domain.MarketSnapshot, error)
}

// BetHandler serves bet placement and history endpoints.
type BetHandler struct {
	bets    BetService
	markets marketLookup
	logger  *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(bets BetService, markets marketLookup, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		bets:    bets,
		markets: markets,
		logger:  logger,
	}
}

// placeBetRequest is the body for staking on a market.
type placeBetRequest struct {
	Wallet string      `json:"wallet"`
	Side   domain.Side `json:"side"`
	Amount int64       `json:"amount"`
}

// PlaceBet stakes an amount on one side of an open market.
// POST /api/markets/{address}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	market, ok := parseAddress(pathParam(r, "address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market address")
		return
	}

	var req placeBetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wallet, ok := parseAddress(req.Wallet)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}
	side, ok := parseSide(string(req.Side))
	if !ok {
		writeError(w, http.StatusBadRequest, "side must be yes or no")
		return
	}

	row, err := h.bets.Place(r.Context(), market, wallet, side, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "place bet", err)
		return
	}

	writeJSON(w, http.StatusCreated, row)
}

// ListMarketBets returns mirror rows for one market's question.
// GET /api/markets/{address}/bets
func (h *BetHandler) ListMarketBets(w http.ResponseWriter, r *http.Request) {
	addr := pathParam(r, "address")
	if _, ok := parseAddress(addr); !ok {
		writeError(w, http.StatusBadRequest, "invalid market address")
		return
	}

	snap, err := h.markets.GetWithBets(r.Context(), addr, "")
	if err != nil {
		writeDomainError(w, r, h.logger, "get market", err)
		return
	}

	rows, err := h.bets.ByQuestion(r.Context(), snap.QuestionID, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list bets", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bets": rows})
}

// WalletHistory returns a wallet's bet rows, newest first.
// GET /api/wallets/{address}/bets
func (h *BetHandler) WalletHistory(w http.ResponseWriter, r *http.Request) {
	addr := pathParam(r, "address")
	if _, ok := parseAddress(addr); !ok {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	rows, err := h.bets.History(r.Context(), addr, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "wallet history", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bets": rows})
}

// Leaderboard returns wallet rankings aggregated from settled rows.
// GET /api/leaderboard?limit=20
func (h *BetHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := parseListOpts(r).Limit

	entries, err := h.bets.Leaderboard(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "leaderboard", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}
