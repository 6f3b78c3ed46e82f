package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"coinfort/config"
	"coinfort/core/events"
	"coinfort/core/state"
	"coinfort/native/coinfort"
	"coinfort/native/oracle"
	"coinfort/native/token"
	"coinfort/rpc"
	"coinfort/storage"
	"coinfort/storage/journal"
)

// genesisMarkerKey records that the one-shot parts of genesis (token mints)
// have been applied to this state database.
var genesisMarkerKey = []byte("coinfortd/genesis-applied")

type node struct {
	db      storage.Database
	state   *state.Manager
	tokens  *token.Service
	engine  *coinfort.Engine
	oracle  *oracle.Oracle
	journal *journal.Journal
	hub     *rpc.Hub
	logger  *slog.Logger
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare data directory: %w", err)
		}
		return storage.NewBoltDB(cfg.StatePath())
	default:
		return storage.NewLevelDB(cfg.StatePath())
	}
}

// newNode opens storage and wires the engine, the token ledger and, when the
// genesis names one, the in-process oracle. gen may be nil once the state
// database has been seeded.
func newNode(cfg *config.Config, gen *config.Genesis, logger *slog.Logger) (_ *node, err error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	n := &node{db: db, state: state.NewManager(db), hub: rpc.NewHub(0), logger: logger}
	defer func() {
		if err != nil {
			n.close()
		}
	}()

	if cfg.StorageBackend == config.BackendMemory && cfg.JournalPath == "" {
		n.journal, err = journal.Open(":memory:")
	} else {
		if err = os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare data directory: %w", err)
		}
		n.journal, err = journal.Open(cfg.JournalFile())
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	n.journal.SetLogger(logger)
	emitter := events.Multi{n.journal, n.hub}

	ledger := token.NewLedger()
	n.tokens = token.NewService(n.state, ledger)
	n.tokens.SetEmitter(emitter)
	n.tokens.SetLogger(logger)

	engineCfg := coinfort.Config{}
	if gen != nil {
		engineCfg = coinfort.Config{Owner: gen.Owner, Manager: gen.Manager, Custody: gen.Custody}
	}
	n.engine, err = coinfort.NewEngine(n.state, ledger, engineCfg)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	n.engine.SetEmitter(emitter)
	n.engine.SetLogger(logger)

	if gen != nil && gen.Oracle != nil {
		n.oracle, err = oracle.New(n.state, gen.Oracle.ID, gen.Oracle.Owner, gen.Oracle.Manager, n.engine.CustodyAddress())
		if err != nil {
			return nil, fmt.Errorf("create oracle: %w", err)
		}
		n.oracle.SetEmitter(emitter)
		n.oracle.SetLogger(logger)
	}
	if err = n.engine.RestoreOracleLink(n.resolveOracle); err != nil {
		return nil, err
	}
	if gen != nil {
		if err = n.seed(gen); err != nil {
			return nil, fmt.Errorf("apply genesis: %w", err)
		}
	}
	return n, nil
}

func (n *node) resolveOracle(addr common.Address) coinfort.ConditionOracle {
	if n.oracle == nil || n.oracle.Address() != addr {
		return nil
	}
	return n.oracle
}

// seed applies gen. Asset approvals and the oracle link are idempotent and run
// on every start; mints run once, together with the marker write.
func (n *node) seed(gen *config.Genesis) error {
	for _, asset := range gen.Assets {
		if err := n.engine.ApproveAsset(gen.Owner, asset); err != nil {
			return fmt.Errorf("approve asset %s: %w", asset.Hex(), err)
		}
	}
	if gen.Oracle != nil && gen.Oracle.Link {
		if linked, ok := n.engine.OracleLink(); !ok || linked != gen.Oracle.ID {
			if err := n.engine.SetOracleLink(gen.Owner, n.oracle); err != nil {
				return fmt.Errorf("link oracle: %w", err)
			}
		}
	}
	applied, err := n.state.KVGet(genesisMarkerKey, nil)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	ledger := n.tokens.Ledger()
	err = n.state.Update(func(kv state.KV) error {
		for _, m := range gen.Mints {
			if err := ledger.Mint(kv, m.Asset, m.To, m.Amount); err != nil {
				return fmt.Errorf("mint %s to %s: %w", m.Amount, m.To.Hex(), err)
			}
		}
		return kv.KVPut(genesisMarkerKey, true)
	})
	if err != nil {
		return err
	}
	n.logger.Info("genesis applied",
		slog.Int("assets", len(gen.Assets)),
		slog.Int("mints", len(gen.Mints)))
	return nil
}

func (n *node) close() {
	if n.hub != nil {
		n.hub.Close()
	}
	if n.journal != nil {
		if err := n.journal.Close(); err != nil {
			n.logger.Warn("close journal", slog.Any("error", err))
		}
	}
	if n.db != nil {
		n.db.Close()
	}
}
