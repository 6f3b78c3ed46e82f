package oracle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"coinfort/core/events"
	"coinfort/core/state"
	"coinfort/native/access"
)

// ErrUnauthorized is returned when a caller outside the oracle's own registry
// tries to record a satisfied condition.
var ErrUnauthorized = errors.New("oracle: caller is not the owner neither manager")

// Oracle is an authority attesting that the external condition attached to an
// escrow transaction has been met. Records are write-once: a satisfied
// transaction can never be reset.
type Oracle struct {
	mu      sync.Mutex
	kv      state.KV
	id      common.Address
	engine  common.Address
	roles   *access.Registry
	emitter events.Emitter
	logger  *slog.Logger
}

// New creates (or reloads) the oracle identified by id. Its roles live in a
// registry separate from the engine's, so the engine owner holds no authority
// here unless also named owner or manager.
func New(kv state.KV, id, owner, manager, engine common.Address) (*Oracle, error) {
	if id == (common.Address{}) {
		return nil, fmt.Errorf("oracle: id must not be the zero address")
	}
	roles, err := access.NewRegistry(kv, "oracle/"+id.Hex(), owner, manager)
	if err != nil {
		return nil, err
	}
	return &Oracle{
		kv:      kv,
		id:      id,
		engine:  engine,
		roles:   roles,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}, nil
}

// Address identifies this authority to the engine's oracle link.
func (o *Oracle) Address() common.Address { return o.id }

// Engine returns the escrow engine this oracle was deployed for.
func (o *Oracle) Engine() common.Address { return o.engine }

func (o *Oracle) Roles() *access.Registry { return o.roles }

func (o *Oracle) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		o.emitter = events.NoopEmitter{}
		return
	}
	o.emitter = emitter
}

func (o *Oracle) SetLogger(logger *slog.Logger) {
	if logger != nil {
		o.logger = logger
	}
}

func (o *Oracle) satisfiedKey(txID uint64) []byte {
	key := make([]byte, 0, 48)
	key = append(key, "oracle/"...)
	key = append(key, o.id.Bytes()...)
	key = append(key, "/satisfied/"...)
	return binary.BigEndian.AppendUint64(key, txID)
}

// SetManager replaces the oracle's manager. Owner only.
func (o *Oracle) SetManager(caller, manager common.Address) error {
	if err := o.roles.SetManager(caller, manager); err != nil {
		if errors.Is(err, access.ErrNotOwner) {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return err
	}
	return nil
}

// MarkSatisfied records that the condition for txID holds. Repeated calls are
// accepted and change nothing. The transaction id is not checked against the
// engine's ledger.
func (o *Oracle) MarkSatisfied(caller common.Address, txID uint64) error {
	if !o.roles.IsPrivileged(caller) {
		return ErrUnauthorized
	}
	recorded, err := o.record(txID)
	if err != nil || !recorded {
		return err
	}
	o.logger.Info("oracle condition satisfied", slog.Uint64("transaction", txID), slog.String("oracle", o.id.Hex()))
	o.emitter.Emit(events.OracleSatisfied{ID: txID, Caller: caller})
	return nil
}

// record persists the satisfied flag for txID and reports whether this call
// was the one that set it.
func (o *Oracle) record(txID uint64) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := o.satisfiedKey(txID)
	ok, err := o.kv.KVGet(key, nil)
	if err != nil {
		return false, fmt.Errorf("oracle: load record: %w", err)
	}
	if ok {
		return false, nil
	}
	if err := o.kv.KVPut(key, true); err != nil {
		return false, fmt.Errorf("oracle: persist record: %w", err)
	}
	return true, nil
}

// IsSatisfied reports whether the condition for txID has been recorded.
func (o *Oracle) IsSatisfied(txID uint64) (bool, error) {
	var satisfied bool
	ok, err := o.kv.KVGet(o.satisfiedKey(txID), &satisfied)
	if err != nil {
		return false, fmt.Errorf("oracle: load record: %w", err)
	}
	return ok && satisfied, nil
}
