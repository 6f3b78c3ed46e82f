package coinfort

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine wraps exactly one of these so
// callers can classify failures with errors.Is.
var (
	ErrValidation       = errors.New("coinfort: validation failed")
	ErrUnauthorized     = errors.New("coinfort: unauthorized")
	ErrNotFound         = errors.New("coinfort: not found")
	ErrState            = errors.New("coinfort: invalid state")
	ErrExternalTransfer = errors.New("coinfort: external transfer failed")
)

var (
	ErrAmountNotPositive  = fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	ErrSelfTransfer       = fmt.Errorf("%w: cannot send to self", ErrValidation)
	ErrTimeoutTooShort    = fmt.Errorf("%w: minimum timeout is 15 minutes", ErrValidation)
	ErrPrincipalRequired  = fmt.Errorf("%w: principal required", ErrValidation)
	ErrAssetRequired      = fmt.Errorf("%w: asset id required", ErrValidation)
	ErrOracleRequired     = fmt.Errorf("%w: oracle authority required", ErrValidation)
	ErrNotOwner           = fmt.Errorf("%w: caller is not the owner", ErrUnauthorized)
	ErrNotPrivileged      = fmt.Errorf("%w: caller is neither owner nor manager", ErrUnauthorized)
	ErrAccountNotFound    = fmt.Errorf("%w: account not found", ErrNotFound)
	ErrTransactionMissing = fmt.Errorf("%w: transaction not found", ErrNotFound)
	ErrAccountExists      = fmt.Errorf("%w: account already exists", ErrState)
	ErrAssetNotApproved   = fmt.Errorf("%w: asset not approved", ErrState)
	ErrAccountHeld        = fmt.Errorf("%w: account under investigation", ErrState)
	ErrTransactionHeld    = fmt.Errorf("%w: transaction under investigation", ErrState)
	ErrAlreadyClosed      = fmt.Errorf("%w: transaction already closed", ErrState)
	ErrNoReleaseCondition = fmt.Errorf("%w: no release condition met", ErrState)
)

// Kind names the error class of err for transport layers. Errors that carry no
// engine kind report "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrState):
		return "state"
	case errors.Is(err, ErrExternalTransfer):
		return "external_transfer"
	default:
		return "internal"
	}
}

func externalTransfer(err error) error {
	return fmt.Errorf("%w: %w", ErrExternalTransfer, err)
}
