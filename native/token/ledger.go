package token

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"coinfort/core/state"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrAmountOverflow        = errors.New("token: amount exceeds 256 bits")
	ErrZeroAddress           = errors.New("token: zero address")
)

func balanceKey(asset, owner common.Address) []byte {
	key := make([]byte, 0, len("token/balance/")+2*common.AddressLength)
	key = append(key, "token/balance/"...)
	key = append(key, asset.Bytes()...)
	return append(key, owner.Bytes()...)
}

func allowanceKey(asset, owner, spender common.Address) []byte {
	key := make([]byte, 0, len("token/allowance/")+3*common.AddressLength)
	key = append(key, "token/allowance/"...)
	key = append(key, asset.Bytes()...)
	key = append(key, owner.Bytes()...)
	return append(key, spender.Bytes()...)
}

func supplyKey(asset common.Address) []byte {
	return append([]byte("token/supply/"), asset.Bytes()...)
}

// Ledger is a multi-asset fungible balance book. It keeps no state of its own:
// every call reads and writes through the KV it is handed, so movements made
// inside a state.Tx commit or vanish together with the caller's other writes.
type Ledger struct{}

func NewLedger() *Ledger { return &Ledger{} }

func toUint(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return v, nil
}

func load(kv state.KV, key []byte) (*uint256.Int, error) {
	var stored big.Int
	ok, err := kv.KVGet(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	v, overflow := uint256.FromBig(&stored)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return v, nil
}

func store(kv state.KV, key []byte, v *uint256.Int) error {
	if v.IsZero() {
		return kv.KVDelete(key)
	}
	return kv.KVPut(key, v.ToBig())
}

// BalanceOf returns owner's balance of asset.
func (l *Ledger) BalanceOf(kv state.KV, asset, owner common.Address) (*big.Int, error) {
	v, err := load(kv, balanceKey(asset, owner))
	if err != nil {
		return nil, err
	}
	return v.ToBig(), nil
}

// TotalSupply returns the minted amount of asset.
func (l *Ledger) TotalSupply(kv state.KV, asset common.Address) (*big.Int, error) {
	v, err := load(kv, supplyKey(asset))
	if err != nil {
		return nil, err
	}
	return v.ToBig(), nil
}

func (l *Ledger) Allowance(kv state.KV, asset, owner, spender common.Address) (*big.Int, error) {
	v, err := load(kv, allowanceKey(asset, owner, spender))
	if err != nil {
		return nil, err
	}
	return v.ToBig(), nil
}

// Approve sets spender's allowance over owner's balance. A zero amount clears
// the allowance.
func (l *Ledger) Approve(kv state.KV, asset, owner, spender common.Address, amount *big.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return ErrAmountOverflow
	}
	return store(kv, allowanceKey(asset, owner, spender), v)
}

// Mint credits amount of asset to the recipient and grows the supply.
func (l *Ledger) Mint(kv state.KV, asset, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	v, err := toUint(amount)
	if err != nil {
		return err
	}
	supply, err := load(kv, supplyKey(asset))
	if err != nil {
		return err
	}
	if _, overflow := supply.AddOverflow(supply, v); overflow {
		return ErrAmountOverflow
	}
	bal, err := load(kv, balanceKey(asset, to))
	if err != nil {
		return err
	}
	bal.Add(bal, v)
	if err := store(kv, supplyKey(asset), supply); err != nil {
		return err
	}
	return store(kv, balanceKey(asset, to), bal)
}

// Transfer moves amount of asset from one holder to another.
func (l *Ledger) Transfer(kv state.KV, asset, from, to common.Address, amount *big.Int) error {
	v, err := toUint(amount)
	if err != nil {
		return err
	}
	return l.move(kv, asset, from, to, v)
}

// TransferFrom moves amount from owner to recipient on behalf of spender,
// consuming spender's allowance.
func (l *Ledger) TransferFrom(kv state.KV, asset, spender, from, to common.Address, amount *big.Int) error {
	v, err := toUint(amount)
	if err != nil {
		return err
	}
	akey := allowanceKey(asset, from, spender)
	allowance, err := load(kv, akey)
	if err != nil {
		return err
	}
	if allowance.Lt(v) {
		return ErrInsufficientAllowance
	}
	if err := l.move(kv, asset, from, to, v); err != nil {
		return err
	}
	return store(kv, akey, new(uint256.Int).Sub(allowance, v))
}

func (l *Ledger) move(kv state.KV, asset, from, to common.Address, v *uint256.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	fromKey := balanceKey(asset, from)
	fromBal, err := load(kv, fromKey)
	if err != nil {
		return err
	}
	if fromBal.Lt(v) {
		return ErrInsufficientBalance
	}
	if from == to {
		return nil
	}
	toKey := balanceKey(asset, to)
	toBal, err := load(kv, toKey)
	if err != nil {
		return err
	}
	if _, overflow := toBal.AddOverflow(toBal, v); overflow {
		return fmt.Errorf("%w: recipient balance", ErrAmountOverflow)
	}
	fromBal.Sub(fromBal, v)
	if err := store(kv, fromKey, fromBal); err != nil {
		return err
	}
	return store(kv, toKey, toBal)
}
