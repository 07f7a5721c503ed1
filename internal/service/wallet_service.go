package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fanpredict/marketd/internal/domain"
	"github.com/fanpredict/marketd/internal/token"
)

// WalletService funds wallets on the token ledger. Deposits credit a wallet's
// balance from off-ledger payments; approvals grant a market permission to
// escrow the wallet's stake when a bet is placed. Without both, the engine
// rejects every bet.
type WalletService struct {
	tokens *token.Ledger
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewWalletService creates a WalletService.
func NewWalletService(tokens *token.Ledger, audit domain.AuditStore, logger *slog.Logger) *WalletService {
	return &WalletService{
		tokens: tokens,
		audit:  audit,
		logger: logger,
	}
}

// WalletBalance reports one wallet's token holdings.
type WalletBalance struct {
	Wallet  string `json:"wallet"`
	Symbol  string `json:"symbol"`
	Balance int64  `json:"balance"`
}

// Deposit mints amount to the wallet and returns the updated balance. The
// mint is the authoritative credit; the audit row is a projection and its
// failure is logged, not returned.
func (s *WalletService) Deposit(ctx context.Context, wallet common.Address, amount int64) (WalletBalance, error) {
	if amount <= 0 {
		return WalletBalance{}, fmt.Errorf("wallet_service: deposit: %w", domain.ErrInvalidAmount)
	}

	s.tokens.Mint(wallet, big.NewInt(amount))

	if err := s.audit.Log(ctx, "deposit", map[string]any{
		"wallet": strings.ToLower(wallet.Hex()),
		"amount": amount,
	}); err != nil {
		s.logger.WarnContext(ctx, "wallet_service: audit log failed",
			slog.String("error", err.Error()))
	}

	return s.Balance(ctx, wallet)
}

// Approve sets the spender's allowance over the wallet's funds and returns
// the new allowance. Approving zero revokes a prior approval.
func (s *WalletService) Approve(ctx context.Context, owner, spender common.Address, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("wallet_service: approve: %w", domain.ErrInvalidAmount)
	}

	if err := s.tokens.Approve(ctx, owner, spender, big.NewInt(amount)); err != nil {
		return 0, fmt.Errorf("wallet_service: approve: %w", err)
	}

	if err := s.audit.Log(ctx, "approve", map[string]any{
		"wallet":  strings.ToLower(owner.Hex()),
		"spender": strings.ToLower(spender.Hex()),
		"amount":  amount,
	}); err != nil {
		s.logger.WarnContext(ctx, "wallet_service: audit log failed",
			slog.String("error", err.Error()))
	}

	return amount, nil
}

// Balance returns the wallet's current token balance.
func (s *WalletService) Balance(ctx context.Context, wallet common.Address) (WalletBalance, error) {
	bal, err := s.tokens.BalanceOf(ctx, wallet)
	if err != nil {
		return WalletBalance{}, fmt.Errorf("wallet_service: balance: %w", err)
	}
	return WalletBalance{
		Wallet:  strings.ToLower(wallet.Hex()),
		Symbol:  s.tokens.Symbol(),
		Balance: bal.Int64(),
	}, nil
}

// Allowance returns how much the spender may still escrow from the wallet.
func (s *WalletService) Allowance(ctx context.Context, owner, spender common.Address) (int64, error) {
	a, err := s.tokens.Allowance(ctx, owner, spender)
	if err != nil {
		return 0, fmt.Errorf("wallet_service: allowance: %w", err)
	}
	return a.Int64(), nil
}
