package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"stakevault/core"
	"stakevault/crypto"
	"stakevault/native/staking"
)

// GenesisPool mirrors staking.GenesisPool with string-encoded amounts so YAML
// documents stay exact for balances beyond float precision.
type GenesisPool struct {
	MaxCap              string `yaml:"maxCap"`
	WalletCap           string `yaml:"walletCap"`
	LockedPeriod        uint64 `yaml:"lockedPeriod"`
	APYBps              uint64 `yaml:"apyBps"`
	RewardAllocationBps uint64 `yaml:"rewardAllocationBps"`
}

// GenesisAccount pre-funds an address with the staking asset at first boot.
type GenesisAccount struct {
	Address string `yaml:"address"`
	Balance string `yaml:"balance"`
}

// Genesis is the YAML launch document handed to the daemon on first boot.
// When the fee collector is omitted, fees accrue to the owner.
type Genesis struct {
	Owner          string           `yaml:"owner"`
	FeeCollector   string           `yaml:"feeCollector"`
	DepositFeeBps  uint64           `yaml:"depositFeeBps"`
	WithdrawFeeBps uint64           `yaml:"withdrawFeeBps"`
	PenaltyBps     uint64           `yaml:"penaltyBps"`
	Pools          []GenesisPool    `yaml:"pools"`
	Accounts       []GenesisAccount `yaml:"accounts"`
}

// LoadGenesis reads a genesis document and converts it into the ledger's
// launch inputs.
func LoadGenesis(path string) (*staking.Genesis, []core.GenesisAccount, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var doc Genesis
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("config: parse genesis %s: %w", path, err)
	}
	return doc.Build()
}

// Build converts the document into the staking genesis plus the pre-funded
// accounts. The pool list must cover every pool exactly once; amounts are
// base-10 strings.
func (g *Genesis) Build() (*staking.Genesis, []core.GenesisAccount, error) {
	owner, err := crypto.DecodeAddress(strings.TrimSpace(g.Owner))
	if err != nil {
		return nil, nil, fmt.Errorf("config: genesis owner: %w", err)
	}
	doc := &staking.Genesis{
		Owner:          owner,
		FeeCollector:   owner,
		DepositFeeBps:  g.DepositFeeBps,
		WithdrawFeeBps: g.WithdrawFeeBps,
		PenaltyBps:     g.PenaltyBps,
	}
	if strings.TrimSpace(g.FeeCollector) != "" {
		collector, err := crypto.DecodeAddress(strings.TrimSpace(g.FeeCollector))
		if err != nil {
			return nil, nil, fmt.Errorf("config: genesis fee collector: %w", err)
		}
		doc.FeeCollector = collector
	}
	if len(g.Pools) != staking.PoolCount {
		return nil, nil, fmt.Errorf("config: genesis must configure %d pools, got %d", staking.PoolCount, len(g.Pools))
	}
	for i, pool := range g.Pools {
		maxCap, err := parseGenesisAmount(pool.MaxCap)
		if err != nil {
			return nil, nil, fmt.Errorf("config: pool %d maxCap: %w", i, err)
		}
		walletCap, err := parseGenesisAmount(pool.WalletCap)
		if err != nil {
			return nil, nil, fmt.Errorf("config: pool %d walletCap: %w", i, err)
		}
		doc.Pools[i] = staking.GenesisPool{
			MaxCap:              maxCap,
			WalletCap:           walletCap,
			LockedPeriod:        pool.LockedPeriod,
			APYBps:              pool.APYBps,
			RewardAllocationBps: pool.RewardAllocationBps,
		}
	}
	accounts := make([]core.GenesisAccount, 0, len(g.Accounts))
	for i, account := range g.Accounts {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(account.Address))
		if err != nil {
			return nil, nil, fmt.Errorf("config: account %d: %w", i, err)
		}
		balance, err := parseGenesisAmount(account.Balance)
		if err != nil {
			return nil, nil, fmt.Errorf("config: account %d balance: %w", i, err)
		}
		accounts = append(accounts, core.GenesisAccount{Address: addr, Balance: balance})
	}
	return doc, accounts, nil
}

func parseGenesisAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q cannot be negative", value)
	}
	return amount, nil
}
