package token

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fanpredict/marketd/internal/domain"
)

var (
	alice  = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob    = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	market = common.HexToAddress("0x3a11000000000000000000000000000000000003")
)

func TestTransferFromRequiresAllowance(t *testing.T) {
	ctx := context.Background()
	l := NewLedger("PSG")
	l.Mint(alice, big.NewInt(1000))

	err := l.TransferFrom(ctx, market, alice, market, big.NewInt(100))
	if !errors.Is(err, domain.ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}

	if err := l.Approve(ctx, alice, market, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	if err := l.TransferFrom(ctx, market, alice, market, big.NewInt(100)); err != nil {
		t.Fatalf("transferFrom after approve: %v", err)
	}

	// Allowance is consumed.
	err = l.TransferFrom(ctx, market, alice, market, big.NewInt(1))
	if !errors.Is(err, domain.ErrInsufficientAllowance) {
		t.Fatalf("expected allowance consumed, got %v", err)
	}

	bal, _ := l.BalanceOf(ctx, alice)
	if bal.Int64() != 900 {
		t.Errorf("alice balance = %d, want 900", bal.Int64())
	}
}

func TestTransferFromInsufficientBalanceLeavesState(t *testing.T) {
	ctx := context.Background()
	l := NewLedger("BAR")
	l.Mint(alice, big.NewInt(50))
	_ = l.Approve(ctx, alice, market, big.NewInt(500))

	err := l.TransferFrom(ctx, market, alice, market, big.NewInt(500))
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// Failed pull must not consume allowance or move funds.
	allowed, _ := l.Allowance(ctx, alice, market)
	if allowed.Int64() != 500 {
		t.Errorf("allowance = %d, want 500", allowed.Int64())
	}
	bal, _ := l.BalanceOf(ctx, alice)
	if bal.Int64() != 50 {
		t.Errorf("balance = %d, want 50", bal.Int64())
	}
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	l := NewLedger("PSG")
	l.Mint(market, big.NewInt(300))

	if err := l.Transfer(ctx, market, bob, big.NewInt(120)); err != nil {
		t.Fatal(err)
	}
	got, _ := l.BalanceOf(ctx, bob)
	if got.Int64() != 120 {
		t.Errorf("bob balance = %d, want 120", got.Int64())
	}

	if err := l.Transfer(ctx, market, bob, big.NewInt(0)); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero transfer: got %v, want ErrInvalidAmount", err)
	}
}
