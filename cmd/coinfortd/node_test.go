package main

import (
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"coinfort/config"
)

var (
	genOwner    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	genManager  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	genHolder   = common.HexToAddress("0x0000000000000000000000000000000000000051")
	genAsset    = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	genOracleID = common.HexToAddress("0x00000000000000000000000000000000000000f0")
)

func testGenesis() *config.Genesis {
	return &config.Genesis{
		Owner:   genOwner,
		Manager: genManager,
		Assets:  []common.Address{genAsset},
		Oracle:  &config.Oracle{ID: genOracleID, Owner: genOwner, Link: true},
		Mints:   []config.Mint{{Asset: genAsset, To: genHolder, Amount: big.NewInt(1000)}},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewNodeAppliesGenesis(t *testing.T) {
	cfg := &config.Config{StorageBackend: config.BackendMemory, DataDir: t.TempDir()}
	n, err := newNode(cfg, testGenesis(), discardLogger())
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	defer n.close()

	approved, err := n.engine.IsApproved(genAsset)
	if err != nil || !approved {
		t.Fatalf("asset not approved: approved=%v err=%v", approved, err)
	}
	linked, ok := n.engine.OracleLink()
	if !ok || linked != genOracleID {
		t.Fatalf("oracle not linked: %s ok=%v", linked.Hex(), ok)
	}
	bal, err := n.tokens.BalanceOf(genAsset, genHolder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected minted balance 1000, got %s", bal)
	}
	if n.engine.Roles().Manager() != genManager {
		t.Fatalf("manager not seeded")
	}
}

func TestNodeRestartKeepsStateAndSkipsMints(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{StorageBackend: config.BackendLevelDB, DataDir: dir}

	first, err := newNode(cfg, testGenesis(), discardLogger())
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := first.engine.OpenAccount(genHolder); err != nil {
		t.Fatalf("open account: %v", err)
	}
	first.close()

	second, err := newNode(cfg, testGenesis(), discardLogger())
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	defer second.close()

	bal, err := second.tokens.BalanceOf(genAsset, genHolder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("mints must apply once, balance %s", bal)
	}
	acct, err := second.engine.Account(genHolder)
	if err != nil || !acct.Exists {
		t.Fatalf("account lost across restart: %+v err=%v", acct, err)
	}
	if linked, ok := second.engine.OracleLink(); !ok || linked != genOracleID {
		t.Fatalf("oracle link not restored")
	}
}

func TestNewNodeRequiresOwnerOnFreshState(t *testing.T) {
	cfg := &config.Config{StorageBackend: config.BackendMemory, DataDir: t.TempDir()}
	if _, err := newNode(cfg, nil, discardLogger()); err == nil {
		t.Fatalf("expected fresh state without genesis to be rejected")
	}
}
