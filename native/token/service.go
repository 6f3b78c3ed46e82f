package token

import (
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"coinfort/core/events"
	"coinfort/core/state"
)

// Service exposes the ledger to callers that are not already inside a state
// transaction, such as the HTTP API and genesis seeding. Each call commits on
// its own and emits events only after the commit succeeded.
type Service struct {
	state   *state.Manager
	ledger  *Ledger
	emitter events.Emitter
	logger  *slog.Logger
}

func NewService(mgr *state.Manager, ledger *Ledger) *Service {
	if ledger == nil {
		ledger = NewLedger()
	}
	return &Service{state: mgr, ledger: ledger, emitter: events.NoopEmitter{}, logger: slog.Default()}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (s *Service) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		s.emitter = events.NoopEmitter{}
		return
	}
	s.emitter = emitter
}

func (s *Service) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Ledger returns the underlying balance book.
func (s *Service) Ledger() *Ledger { return s.ledger }

func (s *Service) Mint(asset, to common.Address, amount *big.Int) error {
	err := s.state.Update(func(kv state.KV) error {
		return s.ledger.Mint(kv, asset, to, amount)
	})
	if err != nil {
		return err
	}
	s.logger.Info("token minted", slog.String("asset", asset.Hex()), slog.String("to", to.Hex()), slog.String("amount", amount.String()))
	s.emitter.Emit(events.TokenTransfer{Asset: asset, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func (s *Service) Approve(asset, owner, spender common.Address, amount *big.Int) error {
	return s.state.Update(func(kv state.KV) error {
		return s.ledger.Approve(kv, asset, owner, spender, amount)
	})
}

func (s *Service) Transfer(asset, from, to common.Address, amount *big.Int) error {
	err := s.state.Update(func(kv state.KV) error {
		return s.ledger.Transfer(kv, asset, from, to, amount)
	})
	if err != nil {
		return err
	}
	s.logger.Info("token transferred", slog.String("asset", asset.Hex()), slog.String("from", from.Hex()), slog.String("to", to.Hex()), slog.String("amount", amount.String()))
	s.emitter.Emit(events.TokenTransfer{Asset: asset, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func (s *Service) BalanceOf(asset, owner common.Address) (*big.Int, error) {
	return s.ledger.BalanceOf(s.state, asset, owner)
}

func (s *Service) Allowance(asset, owner, spender common.Address) (*big.Int, error) {
	return s.ledger.Allowance(s.state, asset, owner, spender)
}

func (s *Service) TotalSupply(asset common.Address) (*big.Int, error) {
	return s.ledger.TotalSupply(s.state, asset)
}
