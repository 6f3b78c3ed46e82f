package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"coinfort/crypto"
)

// GenesisFile is the on-disk YAML layout used to seed a fresh state database.
type GenesisFile struct {
	Owner   string         `yaml:"owner"`
	Manager string         `yaml:"manager"`
	Custody string         `yaml:"custody"`
	Assets  []string       `yaml:"assets"`
	Oracle  *GenesisOracle `yaml:"oracle"`
	Mints   []GenesisMint  `yaml:"mints"`
}

type GenesisOracle struct {
	ID      string `yaml:"id"`
	Owner   string `yaml:"owner"`
	Manager string `yaml:"manager"`
	// Link attaches the oracle to the engine at startup.
	Link bool `yaml:"link"`
}

type GenesisMint struct {
	Asset  string `yaml:"asset"`
	To     string `yaml:"to"`
	Amount string `yaml:"amount"`
}

// Genesis is the parsed, validated form of GenesisFile.
type Genesis struct {
	Owner   common.Address
	Manager common.Address
	Custody common.Address
	Assets  []common.Address
	Oracle  *Oracle
	Mints   []Mint
}

type Oracle struct {
	ID      common.Address
	Owner   common.Address
	Manager common.Address
	Link    bool
}

type Mint struct {
	Asset  common.Address
	To     common.Address
	Amount *big.Int
}

// LoadGenesis reads and parses the genesis file at path.
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return ParseGenesis(raw)
}

func ParseGenesis(raw []byte) (*Genesis, error) {
	var file GenesisFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	return file.Parse()
}

func optionalAddress(field, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("genesis %s: %w", field, err)
	}
	return addr, nil
}

func (f GenesisFile) Parse() (*Genesis, error) {
	owner, err := crypto.ParseAddress(f.Owner)
	if err != nil {
		return nil, fmt.Errorf("genesis owner: %w", err)
	}
	g := &Genesis{Owner: owner}
	if g.Manager, err = optionalAddress("manager", f.Manager); err != nil {
		return nil, err
	}
	if g.Custody, err = optionalAddress("custody", f.Custody); err != nil {
		return nil, err
	}
	for i, raw := range f.Assets {
		asset, err := crypto.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("genesis assets[%d]: %w", i, err)
		}
		g.Assets = append(g.Assets, asset)
	}
	if f.Oracle != nil {
		id, err := crypto.ParseAddress(f.Oracle.ID)
		if err != nil {
			return nil, fmt.Errorf("genesis oracle id: %w", err)
		}
		o := &Oracle{ID: id, Link: f.Oracle.Link, Owner: owner}
		if f.Oracle.Owner != "" {
			if o.Owner, err = crypto.ParseAddress(f.Oracle.Owner); err != nil {
				return nil, fmt.Errorf("genesis oracle owner: %w", err)
			}
		}
		if o.Manager, err = optionalAddress("oracle manager", f.Oracle.Manager); err != nil {
			return nil, err
		}
		g.Oracle = o
	}
	for i, m := range f.Mints {
		asset, err := crypto.ParseAddress(m.Asset)
		if err != nil {
			return nil, fmt.Errorf("genesis mints[%d] asset: %w", i, err)
		}
		to, err := crypto.ParseAddress(m.To)
		if err != nil {
			return nil, fmt.Errorf("genesis mints[%d] to: %w", i, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(m.Amount), 10)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("genesis mints[%d]: invalid amount %q", i, m.Amount)
		}
		g.Mints = append(g.Mints, Mint{Asset: asset, To: to, Amount: amount})
	}
	return g, nil
}
