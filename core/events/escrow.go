package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"coinfort/core/types"
	"coinfort/crypto"
)

const (
	// TypeAccountOpened is emitted when a principal self-registers.
	TypeAccountOpened = "coinfort.account.opened"
	// TypeTransactionInitialized is emitted once funds are escrowed.
	TypeTransactionInitialized = "coinfort.transaction.initialized"
	// TypeTransactionClosed is emitted for every successful close.
	TypeTransactionClosed = "coinfort.transaction.closed"
	// TypeTransactionReleased accompanies a close paid out to the receiver.
	TypeTransactionReleased = "coinfort.transaction.released"
	// TypeTransactionRefunded accompanies a close paid back to the sender.
	TypeTransactionRefunded = "coinfort.transaction.refunded"
	// TypeOracleSatisfied is emitted by the oracle authority.
	TypeOracleSatisfied = "coinfort.oracle.satisfied"
	// TypeTokenTransfer is emitted by the asset ledger for every movement.
	TypeTokenTransfer = "coinfort.token.transfer"
)

type AccountOpened struct {
	Principal common.Address
}

func (AccountOpened) EventType() string { return TypeAccountOpened }

func (e AccountOpened) Event() *types.Event {
	return &types.Event{Type: TypeAccountOpened, Attributes: map[string]string{
		"principal": crypto.FormatPrincipal(e.Principal),
	}}
}

type TransactionInitialized struct {
	ID       uint64
	Sender   common.Address
	Receiver common.Address
	Asset    common.Address
	Amount   *big.Int
	UnlockAt uint64
}

func (TransactionInitialized) EventType() string { return TypeTransactionInitialized }

func (e TransactionInitialized) Event() *types.Event {
	return &types.Event{Type: TypeTransactionInitialized, Attributes: map[string]string{
		"id":       strconv.FormatUint(e.ID, 10),
		"sender":   crypto.FormatPrincipal(e.Sender),
		"receiver": crypto.FormatPrincipal(e.Receiver),
		"asset":    crypto.FormatAsset(e.Asset),
		"amount":   formatAmount(e.Amount),
		"unlockAt": strconv.FormatUint(e.UnlockAt, 10),
	}}
}

type TransactionClosed struct {
	ID uint64
}

func (TransactionClosed) EventType() string { return TypeTransactionClosed }

func (e TransactionClosed) Event() *types.Event {
	return &types.Event{Type: TypeTransactionClosed, Attributes: map[string]string{
		"id": strconv.FormatUint(e.ID, 10),
	}}
}

// TransactionSettled carries the payout details of a close. Released selects
// between the released and refunded event types.
type TransactionSettled struct {
	ID        uint64
	Released  bool
	Recipient common.Address
	Asset     common.Address
	Amount    *big.Int
	Caller    common.Address
}

func (e TransactionSettled) EventType() string {
	if e.Released {
		return TypeTransactionReleased
	}
	return TypeTransactionRefunded
}

func (e TransactionSettled) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"id":        strconv.FormatUint(e.ID, 10),
		"recipient": crypto.FormatPrincipal(e.Recipient),
		"asset":     crypto.FormatAsset(e.Asset),
		"amount":    formatAmount(e.Amount),
		"caller":    crypto.FormatPrincipal(e.Caller),
	}}
}

type OracleSatisfied struct {
	ID     uint64
	Caller common.Address
}

func (OracleSatisfied) EventType() string { return TypeOracleSatisfied }

func (e OracleSatisfied) Event() *types.Event {
	return &types.Event{Type: TypeOracleSatisfied, Attributes: map[string]string{
		"id":     strconv.FormatUint(e.ID, 10),
		"caller": crypto.FormatPrincipal(e.Caller),
	}}
}

type TokenTransfer struct {
	Asset  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	attrs := map[string]string{
		"asset":  crypto.FormatAsset(e.Asset),
		"to":     crypto.FormatPrincipal(e.To),
		"amount": formatAmount(e.Amount),
	}
	// Mints have no source.
	if e.From != (common.Address{}) {
		attrs["from"] = crypto.FormatPrincipal(e.From)
	}
	return &types.Event{Type: TypeTokenTransfer, Attributes: attrs}
}
