package coinfort

import (
	"github.com/ethereum/go-ethereum/common"

	"coinfort/core/state"
	"coinfort/native/access"
)

type accountRecord struct {
	Exists             bool
	UnderInvestigation bool
}

func accountKey(p common.Address) []byte {
	return append([]byte("coinfort/account/"), p.Bytes()...)
}

// AccountRegistry tracks self-registered accounts and investigation holds.
type AccountRegistry struct {
	roles *access.Registry
}

func NewAccountRegistry(roles *access.Registry) *AccountRegistry {
	return &AccountRegistry{roles: roles}
}

func (r *AccountRegistry) load(kv state.KV, p common.Address) (accountRecord, error) {
	var rec accountRecord
	if _, err := kv.KVGet(accountKey(p), &rec); err != nil {
		return accountRecord{}, err
	}
	return rec, nil
}

// Open registers caller. Each principal can open exactly one account. A hold
// placed before the account existed is kept.
func (r *AccountRegistry) Open(kv state.KV, caller common.Address) error {
	if caller == (common.Address{}) {
		return ErrPrincipalRequired
	}
	rec, err := r.load(kv, caller)
	if err != nil {
		return err
	}
	if rec.Exists {
		return ErrAccountExists
	}
	rec.Exists = true
	return kv.KVPut(accountKey(caller), &rec)
}

// SetInvestigationHold sets or clears the hold on target whether or not it has
// an account.
func (r *AccountRegistry) SetInvestigationHold(kv state.KV, caller, target common.Address, hold bool) error {
	if !r.roles.IsPrivileged(caller) {
		return ErrNotPrivileged
	}
	if target == (common.Address{}) {
		return ErrPrincipalRequired
	}
	rec, err := r.load(kv, target)
	if err != nil {
		return err
	}
	rec.UnderInvestigation = hold
	return kv.KVPut(accountKey(target), &rec)
}

func (r *AccountRegistry) Get(kv state.KV, p common.Address) (Account, error) {
	rec, err := r.load(kv, p)
	if err != nil {
		return Account{}, err
	}
	return Account{Principal: p, Exists: rec.Exists, UnderInvestigation: rec.UnderInvestigation}, nil
}

func (r *AccountRegistry) Exists(kv state.KV, p common.Address) (bool, error) {
	rec, err := r.load(kv, p)
	return rec.Exists, err
}

func (r *AccountRegistry) IsHeld(kv state.KV, p common.Address) (bool, error) {
	rec, err := r.load(kv, p)
	return rec.UnderInvestigation, err
}
