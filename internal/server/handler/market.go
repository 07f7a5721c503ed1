package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fanpredict/marketd/internal/domain"
	"github.com/fanpredict/marketd/internal/service"
)

// MarketService defines the methods the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	Create(ctx context.Context, creator, token common.Address, question string, endTime time.Time) (domain.Market, error)
	GetWithBets(ctx context.Context, address, wallet string) (domain.MarketSnapshot, error)
	ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	ListResolved(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	Count(ctx context.Context) (int64, error)
	QuoteBet(ctx context.Context, address string, side domain.Side, amount int64) (service.Quote, error)
}

// MarketHandler serves market lifecycle endpoints. The configured creator and
// token addresses are used for markets opened through the API.
type MarketHandler struct {
	markets MarketService
	creator common.Address
	token   common.Address
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, creator, token common.Address, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		creator: creator,
		token:   token,
		logger:  logger,
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets with pagination, open by default.
// GET /api/markets?status=open|resolved&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		markets []domain.Market
		err     error
	)
	if r.URL.Query().Get("status") == "resolved" {
		markets, err = h.markets.ListResolved(r.Context(), opts)
	} else {
		markets, err = h.markets.ListOpen(r.Context(), opts)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "list markets", err)
		return
	}

	total, err := h.markets.Count(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "count markets", err)
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns one market; pass ?wallet= to include the caller's bets.
// GET /api/markets/{address}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	addr := pathParam(r, "address")
	if _, ok := parseAddress(addr); !ok {
		writeError(w, http.StatusBadRequest, "invalid market address")
		return
	}

	snap, err := h.markets.GetWithBets(r.Context(), addr, r.URL.Query().Get("wallet"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get market", err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// createMarketRequest is the body for opening a new market.
type createMarketRequest struct {
	Question string    `json:"question"`
	EndTime  time.Time `json:"end_time"`
	Token    string    `json:"token,omitempty"` // defaults to the configured staking token
}

// CreateMarket opens a new market as the configured creator.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question must not be empty")
		return
	}
	if !req.EndTime.After(time.Now()) {
		writeError(w, http.StatusBadRequest, "end_time must be in the future")
		return
	}

	token := h.token
	if req.Token != "" {
		t, ok := parseAddress(req.Token)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid token address")
			return
		}
		token = t
	}

	m, err := h.markets.Create(r.Context(), h.creator, token, req.Question, req.EndTime)
	if err != nil {
		writeDomainError(w, r, h.logger, "create market", err)
		return
	}

	writeJSON(w, http.StatusCreated, m)
}

// QuoteBet returns the current multiplier and potential payout for a
// hypothetical stake. The quote is display-only and never locked in.
// GET /api/markets/{address}/quote?side=yes&amount=100
func (h *MarketHandler) QuoteBet(w http.ResponseWriter, r *http.Request) {
	addr := pathParam(r, "address")
	if _, ok := parseAddress(addr); !ok {
		writeError(w, http.StatusBadRequest, "invalid market address")
		return
	}

	side, ok := parseSide(r.URL.Query().Get("side"))
	if !ok {
		writeError(w, http.StatusBadRequest, "side must be yes or no")
		return
	}

	amount, err := parseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer")
		return
	}

	q, err := h.markets.QuoteBet(r.Context(), addr, side, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "quote bet", err)
		return
	}

	writeJSON(w, http.StatusOK, q)
}
