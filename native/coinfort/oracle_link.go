package coinfort

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"coinfort/core/state"
	"coinfort/native/access"
)

var oracleLinkKey = []byte("coinfort/oracle-link")

// ConditionOracle is the capability the engine needs from an oracle authority.
// The engine only ever reads from it.
type ConditionOracle interface {
	Address() common.Address
	IsSatisfied(id uint64) (bool, error)
}

// OracleLink holds the single oracle authority the engine currently trusts.
type OracleLink struct {
	mu        sync.RWMutex
	kv        state.KV
	roles     *access.Registry
	authority ConditionOracle
}

func NewOracleLink(kv state.KV, roles *access.Registry) *OracleLink {
	return &OracleLink{kv: kv, roles: roles}
}

// SetLink replaces the trusted authority. Only the engine owner may call it.
// Satisfactions recorded by the previous authority stay where they are and are
// simply no longer consulted.
func (l *OracleLink) SetLink(caller common.Address, authority ConditionOracle) error {
	if err := l.roles.RequireOwner(caller); err != nil {
		return ErrNotOwner
	}
	if authority == nil {
		return ErrOracleRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.kv.KVPut(oracleLinkKey, authority.Address()); err != nil {
		return fmt.Errorf("coinfort: persist oracle link: %w", err)
	}
	l.authority = authority
	return nil
}

// Linked returns the address of the trusted authority, if any.
func (l *OracleLink) Linked() (common.Address, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.authority == nil {
		return common.Address{}, false
	}
	return l.authority.Address(), true
}

// Restore re-attaches the authority persisted by a previous SetLink. resolve
// maps the stored address to a live authority. Nothing persisted is not an
// error; a persisted address that resolve cannot map is.
func (l *OracleLink) Restore(resolve func(common.Address) ConditionOracle) error {
	var addr common.Address
	ok, err := l.kv.KVGet(oracleLinkKey, &addr)
	if err != nil {
		return fmt.Errorf("coinfort: load oracle link: %w", err)
	}
	if !ok || resolve == nil {
		return nil
	}
	authority := resolve(addr)
	if authority == nil {
		return fmt.Errorf("coinfort: no oracle authority known for %s", addr.Hex())
	}
	l.mu.Lock()
	l.authority = authority
	l.mu.Unlock()
	return nil
}

// Satisfied asks the trusted authority about id. Without a link nothing is
// satisfied.
func (l *OracleLink) Satisfied(id uint64) (bool, error) {
	l.mu.RLock()
	authority := l.authority
	l.mu.RUnlock()
	if authority == nil {
		return false, nil
	}
	ok, err := authority.IsSatisfied(id)
	if err != nil {
		return false, externalTransfer(err)
	}
	return ok, nil
}
