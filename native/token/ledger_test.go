package token

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"coinfort/core/events"
	"coinfort/core/state"
	"coinfort/storage"
)

var (
	asset   = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	spender = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

func newState(t *testing.T) *state.Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return state.NewManager(db)
}

func mustBalance(t *testing.T, l *Ledger, kv state.KV, owner common.Address) int64 {
	t.Helper()
	bal, err := l.BalanceOf(kv, asset, owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func TestMintAndTransfer(t *testing.T) {
	mgr := newState(t)
	l := NewLedger()
	if err := l.Mint(mgr, asset, alice, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Transfer(mgr, asset, alice, bob, big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := mustBalance(t, l, mgr, alice); got != 600 {
		t.Fatalf("alice balance = %d", got)
	}
	if got := mustBalance(t, l, mgr, bob); got != 400 {
		t.Fatalf("bob balance = %d", got)
	}
	supply, err := l.TotalSupply(mgr, asset)
	if err != nil || supply.Int64() != 1000 {
		t.Fatalf("supply = %v err=%v", supply, err)
	}

	err = l.Transfer(mgr, asset, bob, alice, big.NewInt(401))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if err := l.Transfer(mgr, asset, alice, bob, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	mgr := newState(t)
	l := NewLedger()
	if err := l.Mint(mgr, asset, alice, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	err := l.TransferFrom(mgr, asset, spender, alice, spender, big.NewInt(100))
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}

	if err := l.Approve(mgr, asset, alice, spender, big.NewInt(300)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := l.TransferFrom(mgr, asset, spender, alice, spender, big.NewInt(100)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	remaining, err := l.Allowance(mgr, asset, alice, spender)
	if err != nil || remaining.Int64() != 200 {
		t.Fatalf("allowance = %v err=%v", remaining, err)
	}
	if got := mustBalance(t, l, mgr, spender); got != 100 {
		t.Fatalf("spender balance = %d", got)
	}

	// Allowance that exceeds the balance still fails on balance.
	if err := l.Approve(mgr, asset, bob, spender, big.NewInt(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := l.TransferFrom(mgr, asset, spender, bob, spender, big.NewInt(50)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if left, _ := l.Allowance(mgr, asset, bob, spender); left.Int64() != 50 {
		t.Fatalf("failed transferFrom consumed allowance: %s", left)
	}
}

func TestLedgerInsideDiscardedTx(t *testing.T) {
	mgr := newState(t)
	l := NewLedger()
	if err := l.Mint(mgr, asset, alice, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	tx := mgr.Begin()
	if err := l.Transfer(tx, asset, alice, bob, big.NewInt(10)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := mustBalance(t, l, tx, bob); got != 10 {
		t.Fatalf("tx view bob = %d", got)
	}
	tx.Discard()
	if got := mustBalance(t, l, mgr, alice); got != 10 {
		t.Fatalf("discarded transfer leaked, alice = %d", got)
	}
}

func TestAmountOverflow(t *testing.T) {
	mgr := newState(t)
	l := NewLedger()
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if err := l.Mint(mgr, asset, alice, huge); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	max := new(big.Int).Sub(huge, big.NewInt(1))
	if err := l.Mint(mgr, asset, alice, max); err != nil {
		t.Fatalf("mint max: %v", err)
	}
	if err := l.Mint(mgr, asset, bob, big.NewInt(1)); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected supply overflow, got %v", err)
	}
}

func TestServiceEmitsAfterCommit(t *testing.T) {
	mgr := newState(t)
	svc := NewService(mgr, nil)
	var rec events.Recorder
	svc.SetEmitter(&rec)

	if err := svc.Mint(asset, alice, big.NewInt(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := svc.Transfer(asset, alice, bob, big.NewInt(9)); err == nil {
		t.Fatalf("expected failing transfer")
	}
	if err := svc.Approve(asset, alice, spender, big.NewInt(5)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if types := rec.Types(); len(types) != 1 || types[0] != events.TypeTokenTransfer {
		t.Fatalf("unexpected events %v", types)
	}
	bal, err := svc.BalanceOf(asset, alice)
	if err != nil || bal.Int64() != 5 {
		t.Fatalf("balance = %v err=%v", bal, err)
	}
	allowance, err := svc.Allowance(asset, alice, spender)
	if err != nil || allowance.Int64() != 5 {
		t.Fatalf("allowance = %v err=%v", allowance, err)
	}
}
