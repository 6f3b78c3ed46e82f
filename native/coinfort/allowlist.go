package coinfort

import (
	"github.com/ethereum/go-ethereum/common"

	"coinfort/core/state"
	"coinfort/native/access"
)

var approvedAssetsKey = []byte("coinfort/assets")

func assetKey(asset common.Address) []byte {
	return append([]byte("coinfort/asset/"), asset.Bytes()...)
}

// Allowlist is the monotone set of assets that may be escrowed.
type Allowlist struct {
	roles *access.Registry
}

func NewAllowlist(roles *access.Registry) *Allowlist {
	return &Allowlist{roles: roles}
}

// Approve adds asset to the set. Approving twice is a no-op.
func (a *Allowlist) Approve(kv state.KV, caller, asset common.Address) error {
	if !a.roles.IsPrivileged(caller) {
		return ErrNotPrivileged
	}
	if asset == (common.Address{}) {
		return ErrAssetRequired
	}
	approved, err := a.IsApproved(kv, asset)
	if err != nil || approved {
		return err
	}
	if err := kv.KVPut(assetKey(asset), true); err != nil {
		return err
	}
	return state.KVAppend(kv, approvedAssetsKey, asset.Bytes())
}

func (a *Allowlist) IsApproved(kv state.KV, asset common.Address) (bool, error) {
	var approved bool
	ok, err := kv.KVGet(assetKey(asset), &approved)
	if err != nil {
		return false, err
	}
	return ok && approved, nil
}

// Approved lists every approved asset in approval order.
func (a *Allowlist) Approved(kv state.KV) ([]common.Address, error) {
	var raw [][]byte
	if err := state.KVGetList(kv, approvedAssetsKey, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(raw))
	for _, b := range raw {
		out = append(out, common.BytesToAddress(b))
	}
	return out, nil
}
