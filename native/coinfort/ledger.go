package coinfort

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"coinfort/core/state"
)

var nextIDKey = []byte("coinfort/tx/next")

func txKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte("coinfort/tx/"), id)
}

func senderIndexKey(p common.Address) []byte {
	return append([]byte("coinfort/tx/by-sender/"), p.Bytes()...)
}

func receiverIndexKey(p common.Address) []byte {
	return append([]byte("coinfort/tx/by-receiver/"), p.Bytes()...)
}

// TransactionLedger stores escrow records and owns the id counter. It does no
// validation; the engine checks everything before calling Insert.
type TransactionLedger struct{}

func NewTransactionLedger() *TransactionLedger { return &TransactionLedger{} }

// Count returns the number of transactions ever created, which is also the
// next id to be assigned.
func (l *TransactionLedger) Count(kv state.KV) (uint64, error) {
	var next uint64
	if _, err := kv.KVGet(nextIDKey, &next); err != nil {
		return 0, err
	}
	return next, nil
}

// Insert assigns the next id to tx and stores it. The counter bump and the
// record land in the same write set.
func (l *TransactionLedger) Insert(kv state.KV, tx *Transaction) (uint64, error) {
	if tx == nil {
		return 0, fmt.Errorf("coinfort: nil transaction")
	}
	id, err := l.Count(kv)
	if err != nil {
		return 0, err
	}
	record := tx.Clone()
	record.ID = id
	if err := kv.KVPut(txKey(id), record); err != nil {
		return 0, err
	}
	if err := kv.KVPut(nextIDKey, id+1); err != nil {
		return 0, err
	}
	idBytes := binary.BigEndian.AppendUint64(nil, id)
	if err := state.KVAppend(kv, senderIndexKey(record.Sender), idBytes); err != nil {
		return 0, err
	}
	if err := state.KVAppend(kv, receiverIndexKey(record.Receiver), idBytes); err != nil {
		return 0, err
	}
	tx.ID = id
	return id, nil
}

func (l *TransactionLedger) Get(kv state.KV, id uint64) (*Transaction, error) {
	tx := new(Transaction)
	ok, err := kv.KVGet(txKey(id), tx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTransactionMissing
	}
	return tx, nil
}

func (l *TransactionLedger) SetHold(kv state.KV, id uint64, hold bool) error {
	tx, err := l.Get(kv, id)
	if err != nil {
		return err
	}
	tx.UnderInvestigation = hold
	return kv.KVPut(txKey(id), tx)
}

// MarkClosed flips the one-way closed flag and records the outcome.
func (l *TransactionLedger) MarkClosed(kv state.KV, id uint64, outcome Outcome, at uint64) error {
	tx, err := l.Get(kv, id)
	if err != nil {
		return err
	}
	if tx.Closed {
		return ErrAlreadyClosed
	}
	tx.Closed = true
	tx.ClosedAt = at
	tx.Outcome = outcome
	return kv.KVPut(txKey(id), tx)
}

func (l *TransactionLedger) BySender(kv state.KV, p common.Address) ([]uint64, error) {
	return l.index(kv, senderIndexKey(p))
}

func (l *TransactionLedger) ByReceiver(kv state.KV, p common.Address) ([]uint64, error) {
	return l.index(kv, receiverIndexKey(p))
}

func (l *TransactionLedger) index(kv state.KV, key []byte) ([]uint64, error) {
	var raw [][]byte
	if err := state.KVGetList(kv, key, &raw); err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(raw))
	for _, b := range raw {
		if len(b) != 8 {
			return nil, fmt.Errorf("coinfort: corrupt transaction index entry")
		}
		ids = append(ids, binary.BigEndian.Uint64(b))
	}
	return ids, nil
}
