package domain

import "errors"

// Every rejection the settlement engine can produce has its own sentinel so
// callers and the API layer can surface an accurate reason rather than a
// generic failure.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")

	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrMarketClosed    = errors.New("market closed for betting")
	ErrAlreadyResolved = errors.New("market already resolved")
	ErrBettingOpen     = errors.New("betting period still open")
	ErrNotResolved     = errors.New("market not resolved")
	ErrNotCreator      = errors.New("caller is not the market creator")

	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	ErrAlreadyClaimed = errors.New("already claimed")
	ErrNothingToClaim = errors.New("nothing to claim")
)
