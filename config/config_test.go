package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stakevault/crypto"
	"stakevault/native/staking"
)

func writeConfigFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, "config.toml", `ListenAddress = ":9090"

[RPC]
RequestsPerMinute = 120.0
Burst = 20
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9090" {
		t.Fatalf("listen address = %q", cfg.ListenAddress)
	}
	if cfg.DataDir != "./stakevault-data" {
		t.Fatalf("data dir default = %q", cfg.DataDir)
	}
	if want := filepath.Join(cfg.DataDir, "journal.db"); cfg.JournalPath != want {
		t.Fatalf("journal path = %q, want %q", cfg.JournalPath, want)
	}
	if cfg.Environment != "development" {
		t.Fatalf("environment default = %q", cfg.Environment)
	}
	if cfg.RPC.AuthTokenEnv != DefaultAuthTokenEnv {
		t.Fatalf("auth token env = %q", cfg.RPC.AuthTokenEnv)
	}
	if cfg.RPC.AdminSecretEnv != DefaultAdminSecretEnv {
		t.Fatalf("admin secret env = %q", cfg.RPC.AdminSecretEnv)
	}
	if cfg.RPC.RequestsPerMinute != 120 || cfg.RPC.Burst != 20 {
		t.Fatalf("rate limit = %+v", cfg.RPC)
	}
	if cfg.RPC.IdempotencyTTLHours != 24 {
		t.Fatalf("idempotency ttl = %d", cfg.RPC.IdempotencyTTLHours)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8080" {
		t.Fatalf("listen address = %q", cfg.ListenAddress)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	if !strings.Contains(string(raw), "ListenAddress") {
		t.Fatalf("default file missing ListenAddress:\n%s", raw)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.RPC.AuthTokenEnv != DefaultAuthTokenEnv {
		t.Fatalf("reloaded auth token env = %q", reloaded.RPC.AuthTokenEnv)
	}
	if reloaded.JournalPath != filepath.Join(reloaded.DataDir, "journal.db") {
		t.Fatalf("reloaded journal path = %q", reloaded.JournalPath)
	}
}

func TestLoadToleratesUnknownKeys(t *testing.T) {
	path := writeConfigFile(t, "config.toml", `FutureKnob = true

[RPC]
RequestsPerMinute = 60.0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unknown keys should be tolerated: %v", err)
	}
	if cfg.RPC.RequestsPerMinute != 60 {
		t.Fatalf("rate = %v", cfg.RPC.RequestsPerMinute)
	}
}

func TestLoadRejectsEmbeddedSecrets(t *testing.T) {
	path := writeConfigFile(t, "config.toml", `[RPC]
AuthToken = "super-secret"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "RPC.AuthToken") {
		t.Fatalf("expected embedded secret rejection, got %v", err)
	}

	path = writeConfigFile(t, "config.toml", `[RPC]
AdminSecret = "hmac-secret"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "RPC.AdminSecret") {
		t.Fatalf("expected embedded secret rejection, got %v", err)
	}
}

func TestLoadRejectsNegativeRateLimit(t *testing.T) {
	path := writeConfigFile(t, "config.toml", `[RPC]
RequestsPerMinute = -5.0
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "RequestsPerMinute") {
		t.Fatalf("expected rate limit rejection, got %v", err)
	}
}

func genesisTestAddr(suffix byte) string {
	var raw [20]byte
	raw[len(raw)-1] = suffix
	return crypto.MustNewAddress(raw[:]).String()
}

const genesisPoolBlock = `  - maxCap: "1000000"
    walletCap: "100000"
    lockedPeriod: 604800
    apyBps: 50
    rewardAllocationBps: 2500
`

func TestLoadGenesisBuildsLedgerInputs(t *testing.T) {
	owner := genesisTestAddr(0x0A)
	collector := genesisTestAddr(0xFC)
	user := genesisTestAddr(0x01)
	doc := "owner: " + owner + "\n" +
		"feeCollector: " + collector + "\n" +
		"depositFeeBps: 100\n" +
		"withdrawFeeBps: 200\n" +
		"penaltyBps: 500\n" +
		"pools:\n" + strings.Repeat(genesisPoolBlock, staking.PoolCount) +
		"accounts:\n" +
		"  - address: " + user + "\n" +
		"    balance: \"1000000\"\n"
	path := writeConfigFile(t, "genesis.yaml", doc)

	genesis, accounts, err := LoadGenesis(path)
	if err != nil {
		t.Fatalf("load genesis: %v", err)
	}
	if genesis.Owner.String() != owner {
		t.Fatalf("owner = %s", genesis.Owner)
	}
	if genesis.FeeCollector.String() != collector {
		t.Fatalf("fee collector = %s", genesis.FeeCollector)
	}
	if genesis.DepositFeeBps != 100 || genesis.WithdrawFeeBps != 200 || genesis.PenaltyBps != 500 {
		t.Fatalf("fee policy = %d/%d/%d", genesis.DepositFeeBps, genesis.WithdrawFeeBps, genesis.PenaltyBps)
	}
	for i := range genesis.Pools {
		pool := genesis.Pools[i]
		if pool.MaxCap.String() != "1000000" || pool.WalletCap.String() != "100000" {
			t.Fatalf("pool %d caps = %s/%s", i, pool.MaxCap, pool.WalletCap)
		}
		if pool.LockedPeriod != 604800 || pool.APYBps != 50 || pool.RewardAllocationBps != 2500 {
			t.Fatalf("pool %d config = %+v", i, pool)
		}
	}
	if len(accounts) != 1 {
		t.Fatalf("accounts = %d", len(accounts))
	}
	if accounts[0].Address.String() != user || accounts[0].Balance.String() != "1000000" {
		t.Fatalf("account = %s/%s", accounts[0].Address, accounts[0].Balance)
	}
	if err := genesis.Validate(); err != nil {
		t.Fatalf("built genesis should validate: %v", err)
	}
}

func TestLoadGenesisDefaultsCollectorToOwner(t *testing.T) {
	owner := genesisTestAddr(0x0A)
	doc := "owner: " + owner + "\n" +
		"depositFeeBps: 100\n" +
		"pools:\n" + strings.Repeat(genesisPoolBlock, staking.PoolCount)
	path := writeConfigFile(t, "genesis.yaml", doc)

	genesis, _, err := LoadGenesis(path)
	if err != nil {
		t.Fatalf("load genesis: %v", err)
	}
	if !genesis.FeeCollector.Equal(genesis.Owner) {
		t.Fatalf("fee collector = %s, want owner %s", genesis.FeeCollector, genesis.Owner)
	}
}

func TestLoadGenesisRequiresEveryPool(t *testing.T) {
	owner := genesisTestAddr(0x0A)
	doc := "owner: " + owner + "\n" +
		"pools:\n" + strings.Repeat(genesisPoolBlock, staking.PoolCount-1)
	path := writeConfigFile(t, "genesis.yaml", doc)

	if _, _, err := LoadGenesis(path); err == nil || !strings.Contains(err.Error(), "pools") {
		t.Fatalf("expected pool count rejection, got %v", err)
	}
}

func TestLoadGenesisRejectsBadAmounts(t *testing.T) {
	owner := genesisTestAddr(0x0A)
	doc := "owner: " + owner + "\n" +
		"pools:\n" +
		`  - maxCap: "lots"
    walletCap: "100000"
    lockedPeriod: 604800
    apyBps: 50
    rewardAllocationBps: 2500
` + strings.Repeat(genesisPoolBlock, staking.PoolCount-1)
	path := writeConfigFile(t, "genesis.yaml", doc)

	if _, _, err := LoadGenesis(path); err == nil || !strings.Contains(err.Error(), "invalid amount") {
		t.Fatalf("expected amount rejection, got %v", err)
	}

	doc = "owner: nope1qqqqqq\n" +
		"pools:\n" + strings.Repeat(genesisPoolBlock, staking.PoolCount)
	path = writeConfigFile(t, "genesis.yaml", doc)
	if _, _, err := LoadGenesis(path); err == nil || !strings.Contains(err.Error(), "owner") {
		t.Fatalf("expected owner rejection, got %v", err)
	}
}
