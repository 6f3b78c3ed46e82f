package access

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"coinfort/core/state"
)

var (
	// ErrNotOwner is returned when an owner-only operation is attempted by any
	// other principal.
	ErrNotOwner = errors.New("access: caller is not the owner")
	// ErrNotPrivileged is returned when the caller is neither owner nor manager.
	ErrNotPrivileged = errors.New("access: caller is neither owner nor manager")
	// ErrZeroOwner is returned when a registry is created without an owner.
	ErrZeroOwner = errors.New("access: owner must not be the zero address")
)

type roleRecord struct {
	Owner   common.Address
	Manager common.Address
}

// Registry holds the owner/manager pair guarding a component. The owner is
// fixed for the lifetime of the registry; only the owner may replace the
// manager.
type Registry struct {
	mu      sync.RWMutex
	kv      state.KV
	key     []byte
	owner   common.Address
	manager common.Address
}

func rolesKey(namespace string) []byte {
	return []byte("access/" + strings.TrimSpace(namespace) + "/roles")
}

// NewRegistry loads the roles persisted under namespace. When nothing has been
// stored yet the supplied owner and manager are written; otherwise the stored
// pair wins and the arguments are ignored.
func NewRegistry(kv state.KV, namespace string, owner, manager common.Address) (*Registry, error) {
	if kv == nil {
		return nil, fmt.Errorf("access: state not configured")
	}
	if strings.TrimSpace(namespace) == "" {
		return nil, fmt.Errorf("access: namespace required")
	}
	r := &Registry{kv: kv, key: rolesKey(namespace)}
	var stored roleRecord
	ok, err := kv.KVGet(r.key, &stored)
	if err != nil {
		return nil, fmt.Errorf("access: load roles: %w", err)
	}
	if ok {
		r.owner, r.manager = stored.Owner, stored.Manager
		return r, nil
	}
	if owner == (common.Address{}) {
		return nil, ErrZeroOwner
	}
	if err := kv.KVPut(r.key, &roleRecord{Owner: owner, Manager: manager}); err != nil {
		return nil, fmt.Errorf("access: persist roles: %w", err)
	}
	r.owner, r.manager = owner, manager
	return r, nil
}

func (r *Registry) Owner() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

func (r *Registry) Manager() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.manager
}

// IsPrivileged reports whether p is the owner or the current manager.
func (r *Registry) IsPrivileged(p common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p == (common.Address{}) {
		return false
	}
	return p == r.owner || p == r.manager
}

func (r *Registry) RequireOwner(caller common.Address) error {
	if caller != r.Owner() {
		return ErrNotOwner
	}
	return nil
}

func (r *Registry) RequirePrivileged(caller common.Address) error {
	if !r.IsPrivileged(caller) {
		return ErrNotPrivileged
	}
	return nil
}

// SetManager replaces the manager. Only the owner may call it; the new manager
// is accepted unconditionally, including the zero address which leaves the
// owner as the sole privileged principal.
func (r *Registry) SetManager(caller, manager common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return ErrNotOwner
	}
	if err := r.kv.KVPut(r.key, &roleRecord{Owner: r.owner, Manager: manager}); err != nil {
		return fmt.Errorf("access: persist roles: %w", err)
	}
	r.manager = manager
	return nil
}
