package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"stakevault/core/state"
	"stakevault/native/staking"
)

func TestAdminRequiresJWT(t *testing.T) {
	env := newTestEnv(t)
	params := adminSetFeesParams{Caller: env.owner.String(), DepositFeeBps: 150, WithdrawFeeBps: 250}

	bare := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := env.invoke(bare, "admin_setFees", params)
	requireRPCError(t, rec, http.StatusUnauthorized, codeUnauthorized, "authorization header required")

	// The user bearer token is not a JWT and must not open the admin surface.
	rec = env.invoke(env.newRequest(), "admin_setFees", params)
	requireRPCError(t, rec, http.StatusUnauthorized, codeUnauthorized, "invalid admin token")

	claims := jwt.MapClaims{
		"iss":   testAdminIssuer,
		"aud":   testAdminAudience,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "staking.read",
	}
	rec = env.invoke(env.signedRequest(testAdminSecret, claims), "admin_setFees", params)
	requireRPCError(t, rec, http.StatusUnauthorized, codeUnauthorized, "insufficient scope")

	claims["scope"] = "staking.admin"
	rec = env.invoke(env.signedRequest("other-secret", claims), "admin_setFees", params)
	requireRPCError(t, rec, http.StatusUnauthorized, codeUnauthorized, "invalid admin token")

	claims["iss"] = "someone-else"
	rec = env.invoke(env.signedRequest(testAdminSecret, claims), "admin_setFees", params)
	requireRPCError(t, rec, http.StatusUnauthorized, codeUnauthorized, "invalid admin token")

	fees, err := env.ledger.GetParams()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if fees.DepositFeeBps != 100 || fees.WithdrawFeeBps != 200 {
		t.Fatalf("params mutated by rejected calls: %+v", fees)
	}
}

func TestAdminDisabledWithoutConfig(t *testing.T) {
	env := newTestEnv(t)
	server, err := NewServer(env.ledger, env.journal, ServerConfig{AuthToken: testAuthToken})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	rec := httptest.NewRecorder()
	server.dispatch(rec, env.adminRequest(), &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  "admin_pause",
		Params:  []json.RawMessage{marshalParam(t, adminCallerParams{Caller: env.owner.String()})},
		ID:      1,
	})
	requireRPCError(t, rec, http.StatusUnauthorized, codeUnauthorized, "admin authentication not configured")
}

func TestAdminSetFeesEnforcesOwnership(t *testing.T) {
	env := newTestEnv(t)

	rec := env.invoke(env.adminRequest(), "admin_setFees", adminSetFeesParams{
		Caller:         env.user.String(),
		DepositFeeBps:  150,
		WithdrawFeeBps: 250,
	})
	requireRPCError(t, rec, http.StatusForbidden, codeLedgerRejected, staking.ErrUnauthorized.Error())

	rec = env.invoke(env.adminRequest(), "admin_setFees", adminSetFeesParams{
		Caller:         env.owner.String(),
		DepositFeeBps:  150,
		WithdrawFeeBps: 250,
	})
	var params ParamsResult
	decodeResult(t, rec, &params)
	if params.DepositFeeBps != 150 || params.WithdrawFeeBps != 250 || params.PenaltyBps != 500 {
		t.Fatalf("params result: %+v", params)
	}
	if params.FeeCollector != env.collector.String() {
		t.Fatalf("collector: got %s want %s", params.FeeCollector, env.collector)
	}
}

func TestAdminPoolTuning(t *testing.T) {
	env := newTestEnv(t)

	rec := env.invoke(env.adminRequest(), "admin_setApy", adminSetApyParams{Caller: env.owner.String(), Pool: 2, APYBps: 100})
	var pool PoolResult
	decodeResult(t, rec, &pool)
	if pool.ID != 2 || pool.APYBps != 100 {
		t.Fatalf("apy result: %+v", pool)
	}

	rec = env.invoke(env.adminRequest(), "admin_setRewardAllocation", adminSetAllocationParams{Caller: env.owner.String(), Pool: 2, AllocationBps: 2_000})
	decodeResult(t, rec, &pool)
	if pool.RewardAllocationBps != 2_000 {
		t.Fatalf("allocation result: %+v", pool)
	}

	rec = env.invoke(env.adminRequest(), "admin_setMaxCap", adminSetMaxCapParams{Caller: env.owner.String(), Pool: 2, MaxCap: "2000000"})
	decodeResult(t, rec, &pool)
	if pool.MaxCap != "2000000" {
		t.Fatalf("max cap result: %+v", pool)
	}

	rec = env.invoke(env.adminRequest(), "admin_setWalletCap", adminSetWalletCapParams{Caller: env.owner.String(), Pool: 2, WalletCap: "50000"})
	decodeResult(t, rec, &pool)
	if pool.WalletCap != "50000" {
		t.Fatalf("wallet cap result: %+v", pool)
	}

	rec = env.invoke(env.adminRequest(), "admin_setApy", adminSetApyParams{Caller: env.owner.String(), Pool: 2, APYBps: 5_000})
	requireRPCError(t, rec, http.StatusBadRequest, codeLedgerRejected, staking.ErrApyRangeExceeds.Error())

	rec = env.invoke(env.adminRequest(), "admin_setRewardAllocation", adminSetAllocationParams{Caller: env.owner.String(), Pool: 2, AllocationBps: 400})
	requireRPCError(t, rec, http.StatusBadRequest, codeLedgerRejected, staking.ErrPercentShouldBeAtleastFive.Error())
}

func TestAdminInjectAndEjectRewards(t *testing.T) {
	env := newTestEnv(t)

	rec := env.invoke(env.adminRequest(), "admin_injectRewards", adminAmountParams{Caller: env.owner.String(), Amount: "50000"})
	var treasury TreasuryResult
	decodeResult(t, rec, &treasury)
	if treasury.TotalRewards != "50000" {
		t.Fatalf("total rewards: got %s want 50000", treasury.TotalRewards)
	}
	for i, bucket := range treasury.PoolRewards {
		if bucket != "12500" {
			t.Fatalf("pool %d bucket: got %s want 12500", i, bucket)
		}
	}
	if got := env.balanceOf(env.owner); got != "950000" {
		t.Fatalf("owner balance after inject: got %s want 950000", got)
	}

	rec = env.invoke(env.adminRequest(), "admin_ejectRewards", adminAmountParams{Caller: env.owner.String(), Amount: "10000"})
	decodeResult(t, rec, &treasury)
	if treasury.TotalRewards != "40000" {
		t.Fatalf("total rewards after eject: got %s want 40000", treasury.TotalRewards)
	}
	for i, bucket := range treasury.PoolRewards {
		if bucket != "10000" {
			t.Fatalf("pool %d bucket after eject: got %s want 10000", i, bucket)
		}
	}
	if got := env.balanceOf(env.owner); got != "960000" {
		t.Fatalf("owner balance after eject: got %s want 960000", got)
	}

	rec = env.invoke(env.adminRequest(), "admin_ejectRewards", adminAmountParams{Caller: env.owner.String(), Amount: "100000"})
	requireRPCError(t, rec, http.StatusBadRequest, codeLedgerRejected, staking.ErrEnterValidAmount.Error())
}

func TestAdminPauseResume(t *testing.T) {
	env := newTestEnv(t)

	rec := env.invoke(env.adminRequest(), "admin_pause", adminCallerParams{Caller: env.owner.String()})
	var paused adminPauseResult
	decodeResult(t, rec, &paused)
	if !paused.Paused {
		t.Fatalf("pause result: %+v", paused)
	}

	rec = env.invoke(env.newRequest(), "stake_params")
	var params ParamsResult
	decodeResult(t, rec, &params)
	if !params.Paused {
		t.Fatalf("params should report paused: %+v", params)
	}

	rec = env.invoke(env.adminRequest(), "admin_resume", adminCallerParams{Caller: env.owner.String()})
	decodeResult(t, rec, &paused)
	if paused.Paused {
		t.Fatalf("resume result: %+v", paused)
	}
}

func TestAdminMint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.invoke(env.adminRequest(), "admin_mint", adminMintParams{
		Caller: env.owner.String(),
		To:     env.user.String(),
		Amount: "5000",
	})
	var minted adminMintResult
	decodeResult(t, rec, &minted)
	if minted.To != env.user.String() || minted.Amount != "5000" || minted.Supply != "2005000" {
		t.Fatalf("mint result: %+v", minted)
	}
	if got := env.balanceOf(env.user); got != "1005000" {
		t.Fatalf("user balance: got %s want 1005000", got)
	}
}

func TestAdminOwnershipHandoff(t *testing.T) {
	env := newTestEnv(t)

	rec := env.invoke(env.adminRequest(), "admin_proposeOwner", adminProposeOwnerParams{
		Caller:   env.owner.String(),
		Proposed: env.user.String(),
	})
	var owner OwnerResult
	decodeResult(t, rec, &owner)
	if owner.Owner != env.owner.String() || owner.Pending != env.user.String() {
		t.Fatalf("proposal result: %+v", owner)
	}

	rec = env.invoke(env.adminRequest(), "admin_acceptOwnership", adminCallerParams{Caller: env.owner.String()})
	requireRPCError(t, rec, http.StatusForbidden, codeLedgerRejected, staking.ErrNotPendingOwner.Error())

	rec = env.invoke(env.adminRequest(), "admin_acceptOwnership", adminCallerParams{Caller: env.user.String()})
	decodeResult(t, rec, &owner)
	if owner.Owner != env.user.String() || owner.Pending != "" {
		t.Fatalf("handoff result: %+v", owner)
	}
}

func TestAdminRescueForeignAsset(t *testing.T) {
	env := newTestEnv(t)
	vault := env.ledger.VaultAddress()
	err := env.ledger.WithState(func(manager *state.Manager) error {
		return manager.Mint("USDX", vault, big.NewInt(500))
	})
	if err != nil {
		t.Fatalf("seed foreign asset: %v", err)
	}

	rec := env.invoke(env.adminRequest(), "admin_rescue", adminRescueParams{
		Caller: env.owner.String(),
		Asset:  "usdx",
		To:     env.owner.String(),
		Amount: "500",
	})
	var rescued adminRescueResult
	decodeResult(t, rec, &rescued)
	if rescued.Asset != "USDX" || rescued.Amount != "500" || rescued.To != env.owner.String() {
		t.Fatalf("rescue result: %+v", rescued)
	}
	balance, err := env.ledger.BalanceOf("USDX", env.owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Int64() != 500 {
		t.Fatalf("rescued balance: got %s want 500", balance)
	}

	rec = env.invoke(env.adminRequest(), "admin_rescue", adminRescueParams{
		Caller: env.owner.String(),
		Asset:  staking.StakingAsset,
		To:     env.owner.String(),
		Amount: "1",
	})
	requireRPCError(t, rec, http.StatusBadRequest, codeLedgerRejected, staking.ErrCanNotClaimMainToken.Error())
}

func TestAdminExportJournal(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(0, "1000")

	path := filepath.Join(t.TempDir(), "events.parquet")
	rec := env.invoke(env.adminRequest(), "admin_exportJournal", adminExportJournalParams{Path: path})
	var exported adminExportJournalResult
	decodeResult(t, rec, &exported)
	if exported.Path != path || exported.Entries != 1 {
		t.Fatalf("export result: %+v", exported)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("exported file: %v", err)
	}
}
