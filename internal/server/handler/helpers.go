// Package handler implements the HTTP handlers for the settlement API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fanpredict/marketd/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a canned 500 body,
// written directly so the Content-Type stays application/json.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// rejection maps one domain sentinel to its HTTP status and client-facing
// reason string.
type rejection struct {
	err    error
	status int
	reason string
}

// rejections enumerates every named rejection the settlement API reports.
// Order matters only in that more specific sentinels come first.
var rejections = []rejection{
	{domain.ErrNotFound, http.StatusNotFound, "not found"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "amount must be greater than zero"},
	{domain.ErrMarketClosed, http.StatusConflict, "betting period has ended"},
	{domain.ErrAlreadyResolved, http.StatusConflict, "market already resolved"},
	{domain.ErrBettingOpen, http.StatusConflict, "betting period has not ended"},
	{domain.ErrNotResolved, http.StatusConflict, "market not resolved"},
	{domain.ErrNotCreator, http.StatusForbidden, "only the market creator may resolve"},
	{domain.ErrAlreadyClaimed, http.StatusConflict, "winnings already claimed"},
	{domain.ErrNothingToClaim, http.StatusConflict, "nothing to claim"},
	{domain.ErrInsufficientBalance, http.StatusPaymentRequired, "insufficient balance"},
	{domain.ErrInsufficientAllowance, http.StatusPaymentRequired, "insufficient allowance"},
	{domain.ErrAlreadyExists, http.StatusConflict, "already exists"},
	{domain.ErrLockHeld, http.StatusConflict, "reconciliation already in progress"},
}

// writeDomainError translates a domain sentinel into its HTTP rejection. For
// unrecognized errors it logs and returns a generic 500 so internals never
// leak to clients.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	for _, rej := range rejections {
		if errors.Is(err, rej.err) {
			writeError(w, rej.status, rej.reason)
			return
		}
	}
	logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// parseAddress validates and normalizes a hex address parameter.
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseAmount parses a strictly positive integer amount.
func parseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	return n, nil
}

// parseSide validates a side query or body value.
func parseSide(s string) (domain.Side, bool) {
	side := domain.Side(strings.ToLower(strings.TrimSpace(s)))
	return side, side.Valid()
}

// decodeBody decodes a JSON request body into dst, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
