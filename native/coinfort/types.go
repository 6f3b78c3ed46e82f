package coinfort

import (
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MinTimeout is the shortest escrow window accepted at creation, in seconds.
const MinTimeout uint64 = 15 * 60

// Outcome records where escrowed funds went when a transaction closed.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeReleased
	OutcomeRefunded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReleased:
		return "released"
	case OutcomeRefunded:
		return "refunded"
	default:
		return "none"
	}
}

// Transaction is an escrow record. Everything except the hold flag and the
// close fields is fixed at creation.
type Transaction struct {
	ID                 uint64
	Sender             common.Address
	Receiver           common.Address
	Asset              common.Address
	Amount             *big.Int
	CreatedAt          uint64
	Timeout            uint64
	UnderInvestigation bool
	Closed             bool
	ClosedAt           uint64
	Outcome            Outcome
}

// UnlockAt returns the unix time at which the refund path opens. Saturates
// instead of wrapping for very long timeouts.
func (t *Transaction) UnlockAt() uint64 {
	if t.Timeout > math.MaxUint64-t.CreatedAt {
		return math.MaxUint64
	}
	return t.CreatedAt + t.Timeout
}

func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Amount != nil {
		clone.Amount = new(big.Int).Set(t.Amount)
	}
	return &clone
}

// Account is the registry view of a principal. A hold may exist for a
// principal that never opened an account.
type Account struct {
	Principal          common.Address
	Exists             bool
	UnderInvestigation bool
}

// ReleaseConditions describes which close paths are open for a transaction at
// a given instant.
type ReleaseConditions struct {
	TimedOut        bool
	OracleSatisfied bool
	UnlockAt        uint64
}
