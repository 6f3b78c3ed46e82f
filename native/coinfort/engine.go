package coinfort

import (
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"coinfort/core/events"
	"coinfort/core/state"
	"coinfort/native/access"
	"coinfort/observability"
)

// DefaultCustody is the principal that holds escrowed funds when no custody
// address is configured.
var DefaultCustody = common.BytesToAddress(ethcrypto.Keccak256([]byte("coinfort/custody"))[12:])

const rolesNamespace = "coinfort"

// AssetLedger is the fungible asset book the engine moves funds through. The
// engine hands it the state transaction of the operation in progress so that
// balances and escrow records commit together.
type AssetLedger interface {
	TransferFrom(kv state.KV, asset, spender, from, to common.Address, amount *big.Int) error
	Transfer(kv state.KV, asset, from, to common.Address, amount *big.Int) error
	BalanceOf(kv state.KV, asset, owner common.Address) (*big.Int, error)
}

// Config carries the construction-time parameters of an Engine.
type Config struct {
	Owner   common.Address
	Manager common.Address
	// Custody is the principal holding escrowed funds. Zero selects
	// DefaultCustody.
	Custody common.Address
}

// Engine orchestrates account registration, escrow creation and close. All
// mutations are serialized by a single mutex and each one commits as one state
// transaction. Events are emitted after the mutex is released, so a slow
// subscriber never blocks other mutations.
type Engine struct {
	mu       sync.Mutex
	state    *state.Manager
	tokens   AssetLedger
	custody  common.Address
	roles    *access.Registry
	assets   *Allowlist
	accounts *AccountRegistry
	ledger   *TransactionLedger
	oracle   *OracleLink
	emitter  events.Emitter
	logger   *slog.Logger
	nowFn    func() int64
}

// NewEngine wires an engine over mgr. Roles already persisted in mgr take
// precedence over cfg.Owner and cfg.Manager.
func NewEngine(mgr *state.Manager, tokens AssetLedger, cfg Config) (*Engine, error) {
	if mgr == nil {
		return nil, errors.New("coinfort: state not configured")
	}
	if tokens == nil {
		return nil, errors.New("coinfort: asset ledger not configured")
	}
	roles, err := access.NewRegistry(mgr, rolesNamespace, cfg.Owner, cfg.Manager)
	if err != nil {
		return nil, err
	}
	custody := cfg.Custody
	if custody == (common.Address{}) {
		custody = DefaultCustody
	}
	return &Engine{
		state:    mgr,
		tokens:   tokens,
		custody:  custody,
		roles:    roles,
		assets:   NewAllowlist(roles),
		accounts: NewAccountRegistry(roles),
		ledger:   NewTransactionLedger(),
		oracle:   NewOracleLink(mgr, roles),
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		nowFn:    func() int64 { return time.Now().Unix() },
	}, nil
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	e.mu.Lock()
	e.logger = logger.With(slog.String("component", "coinfort"))
	e.mu.Unlock()
}

func (e *Engine) now() uint64 {
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// CustodyAddress returns the principal holding escrowed funds.
func (e *Engine) CustodyAddress() common.Address { return e.custody }

func (e *Engine) Roles() *access.Registry { return e.roles }

func (e *Engine) observe(operation string, started time.Time, errp *error) {
	err := *errp
	outcome := Kind(err)
	if outcome == "" {
		outcome = "success"
	}
	observability.Escrow().Observe(operation, outcome, time.Since(started))
	if err != nil {
		e.logger.Debug("coinfort operation rejected",
			slog.String("operation", operation),
			slog.String("reason", outcome),
			slog.Any("error", err))
	}
}

// commit runs fn as one state transaction under the engine mutex. It returns
// the emitter configured at that moment for the caller to publish through once
// the mutex is released.
func (e *Engine) commit(fn func(kv state.KV) error) (events.Emitter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	emitter := e.emitter
	if err := e.state.Update(fn); err != nil {
		return nil, err
	}
	return emitter, nil
}

// OpenAccount registers caller.
func (e *Engine) OpenAccount(caller common.Address) (err error) {
	defer e.observe("open_account", time.Now(), &err)
	emitter, err := e.commit(func(kv state.KV) error {
		return e.accounts.Open(kv, caller)
	})
	if err != nil {
		return err
	}
	e.logger.Info("account opened", slog.String("principal", caller.Hex()))
	emitter.Emit(events.AccountOpened{Principal: caller})
	return nil
}

// SetManager replaces the engine manager. Owner only.
func (e *Engine) SetManager(caller, manager common.Address) (err error) {
	defer e.observe("set_manager", time.Now(), &err)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err = e.roles.SetManager(caller, manager); err != nil {
		if errors.Is(err, access.ErrNotOwner) {
			err = ErrNotOwner
		}
		return err
	}
	e.logger.Info("manager replaced", slog.String("manager", manager.Hex()))
	return nil
}

// ApproveAsset adds asset to the allowlist.
func (e *Engine) ApproveAsset(caller, asset common.Address) (err error) {
	defer e.observe("approve_asset", time.Now(), &err)
	e.mu.Lock()
	defer e.mu.Unlock()
	err = e.state.Update(func(kv state.KV) error {
		return e.assets.Approve(kv, caller, asset)
	})
	if err == nil {
		e.logger.Info("asset approved", slog.String("asset", asset.Hex()))
	}
	return err
}

// SetAccountHold places or lifts an investigation hold on target.
func (e *Engine) SetAccountHold(caller, target common.Address, hold bool) (err error) {
	defer e.observe("pause_account", time.Now(), &err)
	e.mu.Lock()
	defer e.mu.Unlock()
	err = e.state.Update(func(kv state.KV) error {
		return e.accounts.SetInvestigationHold(kv, caller, target, hold)
	})
	if err == nil {
		e.logger.Info("account hold updated", slog.String("principal", target.Hex()), slog.Bool("hold", hold))
	}
	return err
}

// SetTransactionHold places or lifts an investigation hold on transaction id.
func (e *Engine) SetTransactionHold(caller common.Address, id uint64, hold bool) (err error) {
	defer e.observe("pause_transaction", time.Now(), &err)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.roles.IsPrivileged(caller) {
		return ErrNotPrivileged
	}
	err = e.state.Update(func(kv state.KV) error {
		return e.ledger.SetHold(kv, id, hold)
	})
	if err == nil {
		e.logger.Info("transaction hold updated", slog.Uint64("transaction", id), slog.Bool("hold", hold))
	}
	return err
}

// SetOracleLink replaces the trusted oracle authority. Owner only.
func (e *Engine) SetOracleLink(caller common.Address, authority ConditionOracle) (err error) {
	defer e.observe("set_oracle_link", time.Now(), &err)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err = e.oracle.SetLink(caller, authority); err != nil {
		return err
	}
	e.logger.Info("oracle link updated", slog.String("oracle", authority.Address().Hex()))
	return nil
}

// RestoreOracleLink re-attaches a previously linked authority after restart.
func (e *Engine) RestoreOracleLink(resolve func(common.Address) ConditionOracle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.oracle.Restore(resolve)
}

// InitializeTransaction escrows amount of asset from sender for receiver. The
// funds are pulled with TransferFrom, so sender must have granted the custody
// principal a sufficient allowance beforehand.
func (e *Engine) InitializeTransaction(sender, receiver, asset common.Address, amount *big.Int, timeout uint64) (id uint64, err error) {
	defer e.observe("initialize_transaction", time.Now(), &err)
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrAmountNotPositive
	}
	if receiver == sender {
		return 0, ErrSelfTransfer
	}
	if timeout < MinTimeout {
		return 0, ErrTimeoutTooShort
	}
	if receiver == (common.Address{}) {
		return 0, ErrPrincipalRequired
	}

	var record *Transaction
	emitter, err := e.commit(func(kv state.KV) error {
		approved, err := e.assets.IsApproved(kv, asset)
		if err != nil {
			return err
		}
		if !approved {
			return ErrAssetNotApproved
		}
		account, err := e.accounts.Get(kv, sender)
		if err != nil {
			return err
		}
		if !account.Exists {
			return ErrAccountNotFound
		}
		if account.UnderInvestigation {
			return ErrAccountHeld
		}
		if err := e.tokens.TransferFrom(kv, asset, e.custody, sender, e.custody, amount); err != nil {
			return externalTransfer(err)
		}
		record = &Transaction{
			Sender:    sender,
			Receiver:  receiver,
			Asset:     asset,
			Amount:    new(big.Int).Set(amount),
			CreatedAt: e.now(),
			Timeout:   timeout,
		}
		id, err = e.ledger.Insert(kv, record)
		return err
	})
	if err != nil {
		return 0, err
	}
	e.logger.Info("transaction initialized",
		slog.Uint64("transaction", id),
		slog.String("sender", sender.Hex()),
		slog.String("receiver", receiver.Hex()),
		slog.String("asset", asset.Hex()),
		slog.String("amount", amount.String()))
	observability.Escrow().RecordCreated()
	emitter.Emit(events.TransactionInitialized{
		ID:       id,
		Sender:   sender,
		Receiver: receiver,
		Asset:    asset,
		Amount:   new(big.Int).Set(amount),
		UnlockAt: record.UnlockAt(),
	})
	return id, nil
}

// CloseTransaction settles transaction id. Any caller may close once a release
// condition holds. When both the oracle condition and the timeout hold, funds
// are released to the receiver.
func (e *Engine) CloseTransaction(caller common.Address, id uint64) (err error) {
	defer e.observe("close_transaction", time.Now(), &err)
	var (
		settled   *Transaction
		outcome   Outcome
		recipient common.Address
	)
	emitter, err := e.commit(func(kv state.KV) error {
		now := e.now()
		tx, err := e.ledger.Get(kv, id)
		if err != nil {
			return err
		}
		held, err := e.accounts.IsHeld(kv, tx.Sender)
		if err != nil {
			return err
		}
		if held {
			return ErrAccountHeld
		}
		if tx.UnderInvestigation {
			return ErrTransactionHeld
		}
		if tx.Closed {
			return ErrAlreadyClosed
		}
		timedOut := now >= tx.UnlockAt()
		satisfied, err := e.oracle.Satisfied(id)
		if err != nil {
			return err
		}
		switch {
		case satisfied:
			outcome, recipient = OutcomeReleased, tx.Receiver
		case timedOut:
			outcome, recipient = OutcomeRefunded, tx.Sender
		default:
			return ErrNoReleaseCondition
		}
		if err := e.tokens.Transfer(kv, tx.Asset, e.custody, recipient, tx.Amount); err != nil {
			return externalTransfer(err)
		}
		if err := e.ledger.MarkClosed(kv, id, outcome, now); err != nil {
			return err
		}
		settled = tx
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("transaction closed",
		slog.Uint64("transaction", id),
		slog.String("outcome", outcome.String()),
		slog.String("recipient", recipient.Hex()),
		slog.String("caller", caller.Hex()))
	observability.Escrow().RecordSettlement(outcome.String())
	emitter.Emit(events.TransactionClosed{ID: id})
	emitter.Emit(events.TransactionSettled{
		ID:        id,
		Released:  outcome == OutcomeReleased,
		Recipient: recipient,
		Asset:     settled.Asset,
		Amount:    new(big.Int).Set(settled.Amount),
		Caller:    caller,
	})
	return nil
}

// Transaction returns a snapshot of transaction id.
func (e *Engine) Transaction(id uint64) (*Transaction, error) {
	return e.ledger.Get(e.state, id)
}

// TransactionCount returns the number of transactions created so far.
func (e *Engine) TransactionCount() (uint64, error) {
	return e.ledger.Count(e.state)
}

// TransactionsBySender lists the ids of every transaction sent by p.
func (e *Engine) TransactionsBySender(p common.Address) ([]uint64, error) {
	return e.ledger.BySender(e.state, p)
}

// TransactionsByReceiver lists the ids of every transaction addressed to p.
func (e *Engine) TransactionsByReceiver(p common.Address) ([]uint64, error) {
	return e.ledger.ByReceiver(e.state, p)
}

func (e *Engine) Account(p common.Address) (Account, error) {
	return e.accounts.Get(e.state, p)
}

func (e *Engine) IsApproved(asset common.Address) (bool, error) {
	return e.assets.IsApproved(e.state, asset)
}

func (e *Engine) ApprovedAssets() ([]common.Address, error) {
	return e.assets.Approved(e.state)
}

// OracleLink returns the address of the trusted oracle, if one is linked.
func (e *Engine) OracleLink() (common.Address, bool) {
	return e.oracle.Linked()
}

// Custody returns the amount of asset currently held in escrow.
func (e *Engine) Custody(asset common.Address) (*big.Int, error) {
	return e.tokens.BalanceOf(e.state, asset, e.custody)
}

// ReleaseConditions reports which close paths are open for id right now. It
// does not check holds or whether the transaction is already closed.
func (e *Engine) ReleaseConditions(id uint64) (ReleaseConditions, error) {
	tx, err := e.ledger.Get(e.state, id)
	if err != nil {
		return ReleaseConditions{}, err
	}
	satisfied, err := e.oracle.Satisfied(id)
	if err != nil {
		return ReleaseConditions{}, err
	}
	e.mu.Lock()
	now := e.now()
	e.mu.Unlock()
	unlockAt := tx.UnlockAt()
	return ReleaseConditions{
		TimedOut:        now >= unlockAt,
		OracleSatisfied: satisfied,
		UnlockAt:        unlockAt,
	}, nil
}
