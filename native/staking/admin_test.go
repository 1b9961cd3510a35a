package staking

import (
	"errors"
	"math/big"
	"testing"

	"stakevault/crypto"
)

type allowlistAuthority struct {
	allowed crypto.Address
}

func (a allowlistAuthority) IsOwner(addr crypto.Address) (bool, error) {
	return addr.Equal(a.allowed), nil
}

func TestRequireOwnerFallsBackToState(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.SetPenalty(f.user, 100); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner: got %v want %v", err, ErrUnauthorized)
	}
	if _, err := f.engine.SetPenalty(f.owner, 100); err != nil {
		t.Fatalf("owner: %v", err)
	}
}

func TestAuthorityOverridesStateOwnership(t *testing.T) {
	f := newFixture(t)
	f.engine.SetAuthority(allowlistAuthority{allowed: f.user})

	if _, err := f.engine.SetPenalty(f.user, 100); err != nil {
		t.Fatalf("authority-granted caller: %v", err)
	}
	if _, err := f.engine.SetPenalty(f.owner, 100); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("state owner without capability: got %v want %v", err, ErrUnauthorized)
	}

	f.engine.SetAuthority(nil)
	if _, err := f.engine.SetPenalty(f.owner, 100); err != nil {
		t.Fatalf("state owner after reset: %v", err)
	}
}

func TestSetApyBounds(t *testing.T) {
	cases := []struct {
		name    string
		apy     uint64
		wantErr error
	}{
		{name: "below band", apy: 1, wantErr: ErrApyRangeExceeds},
		{name: "lower bound excluded", apy: apyLowerBoundBps, wantErr: ErrApyRangeExceeds},
		{name: "just inside lower", apy: apyLowerBoundBps + 1},
		{name: "just inside upper", apy: apyUpperBoundBps - 1},
		{name: "upper bound excluded", apy: apyUpperBoundBps, wantErr: ErrApyRangeExceeds},
		{name: "above band", apy: 9_000, wantErr: ErrApyRangeExceeds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			pool, err := f.engine.SetApy(f.owner, 0, tc.apy)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v want %v", err, tc.wantErr)
			}
			if tc.wantErr == nil && pool.APYBps != tc.apy {
				t.Fatalf("apy not applied: %d", pool.APYBps)
			}
		})
	}

	f := newFixture(t)
	if _, err := f.engine.SetApy(f.user, 0, 100); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner: got %v want %v", err, ErrUnauthorized)
	}
	if _, err := f.engine.SetApy(f.owner, PoolCount, 100); !errors.Is(err, ErrInvalidPool) {
		t.Fatalf("bad pool: got %v want %v", err, ErrInvalidPool)
	}
}

func TestSetRewardAllocationBounds(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.SetRewardAllocation(f.owner, 0, minAllocationBps-1); !errors.Is(err, ErrPercentShouldBeAtleastFive) {
		t.Fatalf("below floor: got %v want %v", err, ErrPercentShouldBeAtleastFive)
	}

	// The fixture allocates the full ten thousand across four pools, so any
	// raise on one pool overflows the budget.
	if _, err := f.engine.SetRewardAllocation(f.owner, 0, 2_501); !errors.Is(err, ErrAllocationCapExceeded) {
		t.Fatalf("overflow: got %v want %v", err, ErrAllocationCapExceeded)
	}

	pool, err := f.engine.SetRewardAllocation(f.owner, 0, minAllocationBps)
	if err != nil {
		t.Fatalf("lower allocation: %v", err)
	}
	if pool.RewardAllocationBps != minAllocationBps {
		t.Fatalf("allocation not applied: %d", pool.RewardAllocationBps)
	}

	// Freed budget can be reassigned.
	if _, err := f.engine.SetRewardAllocation(f.owner, 1, 4_500); err != nil {
		t.Fatalf("reassign: %v", err)
	}
}

func TestSetMaxCapGuards(t *testing.T) {
	f := newFixture(t)
	f.state.pools[0].TotalStaked = big.NewInt(1_000)

	if _, err := f.engine.SetMaxCap(f.owner, 0, nil); !errors.Is(err, ErrInvalidMaxPoolLimit) {
		t.Fatalf("nil cap: got %v want %v", err, ErrInvalidMaxPoolLimit)
	}
	if _, err := f.engine.SetMaxCap(f.owner, 0, big.NewInt(0)); !errors.Is(err, ErrInvalidMaxPoolLimit) {
		t.Fatalf("zero cap: got %v want %v", err, ErrInvalidMaxPoolLimit)
	}
	if _, err := f.engine.SetMaxCap(f.owner, 0, big.NewInt(999)); !errors.Is(err, ErrInvalidMaxPoolLimit) {
		t.Fatalf("cap below staked: got %v want %v", err, ErrInvalidMaxPoolLimit)
	}
	pool, err := f.engine.SetMaxCap(f.owner, 0, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("cap at staked level: %v", err)
	}
	requireAmount(t, pool.MaxCap, 1_000, "max cap")
}

func TestSetWalletCapGuards(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.SetWalletCap(f.owner, 0, big.NewInt(999)); !errors.Is(err, ErrInvalidMaxCapPerWallet) {
		t.Fatalf("below floor: got %v want %v", err, ErrInvalidMaxCapPerWallet)
	}
	if _, err := f.engine.SetWalletCap(f.owner, 0, nil); !errors.Is(err, ErrInvalidMaxCapPerWallet) {
		t.Fatalf("nil cap: got %v want %v", err, ErrInvalidMaxCapPerWallet)
	}
	pool, err := f.engine.SetWalletCap(f.owner, 0, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("floor value: %v", err)
	}
	requireAmount(t, pool.WalletCap, 1_000, "wallet cap")
}

func TestSetFeesCombinedCap(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.SetFees(f.owner, 1_000, 1_001); !errors.Is(err, ErrMaxFeeCap) {
		t.Fatalf("combined overflow: got %v want %v", err, ErrMaxFeeCap)
	}
	params, err := f.engine.SetFees(f.owner, 1_000, 1_000)
	if err != nil {
		t.Fatalf("at cap: %v", err)
	}
	if params.DepositFeeBps != 1_000 || params.WithdrawFeeBps != 1_000 {
		t.Fatalf("fees not applied: %d/%d", params.DepositFeeBps, params.WithdrawFeeBps)
	}
}

func TestSetPenaltyCap(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.SetPenalty(f.owner, maxPenaltyBps+1); !errors.Is(err, ErrMaxFeeCap) {
		t.Fatalf("above cap: got %v want %v", err, ErrMaxFeeCap)
	}
	params, err := f.engine.SetPenalty(f.owner, maxPenaltyBps)
	if err != nil {
		t.Fatalf("at cap: %v", err)
	}
	if params.PenaltyBps != maxPenaltyBps {
		t.Fatalf("penalty not applied: %d", params.PenaltyBps)
	}
}

func TestSetFeeCollector(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.SetFeeCollector(f.owner, crypto.ZeroAddress()); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("zero collector: got %v want %v", err, ErrZeroAddress)
	}
	next := testAddr(0xFD)
	params, err := f.engine.SetFeeCollector(f.owner, next)
	if err != nil {
		t.Fatalf("set collector: %v", err)
	}
	if !params.FeeCollector.Equal(next) {
		t.Fatalf("collector not applied")
	}

	// Fees route to the new collector from the next operation on.
	if _, err := f.engine.Deposit(f.user, 0, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	requireAmount(t, f.token.balance(StakingAsset, next), 10, "new collector balance")
	requireAmount(t, f.token.balance(StakingAsset, f.collector), 0, "old collector balance")
}

func TestPauseResumeIdempotent(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.Pause(f.owner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := f.engine.Pause(f.owner); err != nil {
		t.Fatalf("second pause: %v", err)
	}
	if !f.state.params.Paused {
		t.Fatalf("module not paused")
	}
	if err := f.engine.Resume(f.owner); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := f.engine.Resume(f.owner); err != nil {
		t.Fatalf("second resume: %v", err)
	}
	if f.state.params.Paused {
		t.Fatalf("module still paused")
	}

	evts := f.emitter.types()
	if len(evts) != 2 || evts[0] != TypePaused || evts[1] != TypeResumed {
		t.Fatalf("unexpected events: %v", evts)
	}
}

func TestRescueForeignAssetOnly(t *testing.T) {
	f := newFixture(t)
	recipient := testAddr(0x33)
	f.token.setBalance("USDC", f.engine.Vault(), 500)

	if err := f.engine.Rescue(f.owner, StakingAsset, recipient, big.NewInt(10)); !errors.Is(err, ErrCanNotClaimMainToken) {
		t.Fatalf("staking asset: got %v want %v", err, ErrCanNotClaimMainToken)
	}
	if err := f.engine.Rescue(f.owner, " svt ", recipient, big.NewInt(10)); !errors.Is(err, ErrCanNotClaimMainToken) {
		t.Fatalf("normalised staking asset: got %v want %v", err, ErrCanNotClaimMainToken)
	}
	if err := f.engine.Rescue(f.owner, "USDC", crypto.ZeroAddress(), big.NewInt(10)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("zero recipient: got %v want %v", err, ErrZeroAddress)
	}
	if err := f.engine.Rescue(f.owner, "USDC", recipient, big.NewInt(0)); !errors.Is(err, ErrAmountShouldBeGreaterThanZero) {
		t.Fatalf("zero amount: got %v want %v", err, ErrAmountShouldBeGreaterThanZero)
	}
	if err := f.engine.Rescue(f.user, "USDC", recipient, big.NewInt(10)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner: got %v want %v", err, ErrUnauthorized)
	}

	if err := f.engine.Rescue(f.owner, "usdc", recipient, big.NewInt(200)); err != nil {
		t.Fatalf("rescue: %v", err)
	}
	requireAmount(t, f.token.balance("USDC", recipient), 200, "recipient balance")
	requireAmount(t, f.token.balance("USDC", f.engine.Vault()), 300, "vault balance")
}

func TestOwnershipHandoff(t *testing.T) {
	f := newFixture(t)
	next := testAddr(0x44)

	if err := f.engine.ProposeOwner(f.owner, crypto.ZeroAddress()); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("zero proposal: got %v want %v", err, ErrZeroAddress)
	}
	if err := f.engine.ProposeOwner(f.user, next); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner proposal: got %v want %v", err, ErrUnauthorized)
	}
	if err := f.engine.ProposeOwner(f.owner, next); err != nil {
		t.Fatalf("propose: %v", err)
	}

	ownership, err := f.engine.GetOwnership()
	if err != nil {
		t.Fatalf("get ownership: %v", err)
	}
	if !ownership.Owner.Equal(f.owner) || !ownership.Pending.Equal(next) {
		t.Fatalf("unexpected ownership: owner %s pending %s", ownership.Owner, ownership.Pending)
	}

	// The proposal alone moves nothing: the incumbent stays in control.
	if _, err := f.engine.SetPenalty(next, 100); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("pending owner acting early: got %v want %v", err, ErrUnauthorized)
	}
	if err := f.engine.AcceptOwnership(f.user); !errors.Is(err, ErrNotPendingOwner) {
		t.Fatalf("wrong acceptor: got %v want %v", err, ErrNotPendingOwner)
	}
	if err := f.engine.AcceptOwnership(next); err != nil {
		t.Fatalf("accept: %v", err)
	}

	ownership, err = f.engine.GetOwnership()
	if err != nil {
		t.Fatalf("get ownership: %v", err)
	}
	if !ownership.Owner.Equal(next) || !ownership.Pending.IsZero() {
		t.Fatalf("handoff incomplete: owner %s pending %s", ownership.Owner, ownership.Pending)
	}
	if _, err := f.engine.SetPenalty(f.owner, 100); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("previous owner still in control")
	}
	if _, err := f.engine.SetPenalty(next, 100); err != nil {
		t.Fatalf("new owner: %v", err)
	}
}

func validGenesis() *Genesis {
	g := &Genesis{
		Owner:          testAddr(0x0A),
		FeeCollector:   testAddr(0xFC),
		DepositFeeBps:  100,
		WithdrawFeeBps: 200,
		PenaltyBps:     500,
	}
	for i := range g.Pools {
		g.Pools[i] = GenesisPool{
			MaxCap:              big.NewInt(1_000_000),
			WalletCap:           big.NewInt(100_000),
			LockedPeriod:        604_800,
			APYBps:              50,
			RewardAllocationBps: 2_500,
		}
	}
	return g
}

func TestGenesisValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Genesis)
		wantErr error
	}{
		{name: "valid", mutate: func(*Genesis) {}},
		{name: "zero owner", mutate: func(g *Genesis) { g.Owner = crypto.ZeroAddress() }, wantErr: ErrZeroAddress},
		{name: "zero collector", mutate: func(g *Genesis) { g.FeeCollector = crypto.ZeroAddress() }, wantErr: ErrZeroAddress},
		{name: "fees above cap", mutate: func(g *Genesis) { g.DepositFeeBps = 1_500; g.WithdrawFeeBps = 501 }, wantErr: ErrMaxFeeCap},
		{name: "penalty above cap", mutate: func(g *Genesis) { g.PenaltyBps = maxPenaltyBps + 1 }, wantErr: ErrMaxFeeCap},
		{name: "nil max cap", mutate: func(g *Genesis) { g.Pools[2].MaxCap = nil }, wantErr: ErrInvalidMaxPoolLimit},
		{name: "zero max cap", mutate: func(g *Genesis) { g.Pools[0].MaxCap = big.NewInt(0) }, wantErr: ErrInvalidMaxPoolLimit},
		{name: "wallet cap below floor", mutate: func(g *Genesis) { g.Pools[1].WalletCap = big.NewInt(999) }, wantErr: ErrInvalidMaxCapPerWallet},
		{name: "apy at lower bound", mutate: func(g *Genesis) { g.Pools[3].APYBps = apyLowerBoundBps }, wantErr: ErrApyRangeExceeds},
		{name: "apy at upper bound", mutate: func(g *Genesis) { g.Pools[0].APYBps = apyUpperBoundBps }, wantErr: ErrApyRangeExceeds},
		{name: "allocation below floor", mutate: func(g *Genesis) { g.Pools[0].RewardAllocationBps = 499 }, wantErr: ErrPercentShouldBeAtleastFive},
		{name: "allocations overflow", mutate: func(g *Genesis) { g.Pools[0].RewardAllocationBps = 2_501 }, wantErr: ErrAllocationCapExceeded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := validGenesis()
			tc.mutate(g)
			if err := g.Validate(); !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v want %v", err, tc.wantErr)
			}
		})
	}
}

func TestInitGenesisSeedsAndIsIdempotent(t *testing.T) {
	state := newMockState()
	engine := NewEngine()
	engine.SetState(state)

	g := validGenesis()
	if err := engine.InitGenesis(g); err != nil {
		t.Fatalf("init genesis: %v", err)
	}

	for id := uint8(0); id < PoolCount; id++ {
		pool, ok := state.pools[id]
		if !ok {
			t.Fatalf("pool %d not seeded", id)
		}
		requireAmount(t, pool.TotalStaked, 0, "seeded pool total")
		if pool.APYBps != 50 || pool.RewardAllocationBps != 2_500 {
			t.Fatalf("pool %d parameters not seeded: %+v", id, pool)
		}
	}
	requireAmount(t, state.treasury.TotalRewards, 0, "seeded treasury")
	if state.params == nil || state.params.DepositFeeBps != 100 {
		t.Fatalf("params not seeded: %+v", state.params)
	}
	if state.ownership == nil || !state.ownership.Owner.Equal(g.Owner) {
		t.Fatalf("ownership not seeded")
	}

	// A second run against live accounting must not reset anything.
	state.pools[0].TotalStaked = big.NewInt(12_345)
	if err := engine.InitGenesis(g); err != nil {
		t.Fatalf("repeat init genesis: %v", err)
	}
	requireAmount(t, state.pools[0].TotalStaked, 12_345, "pool total after repeat init")

	// An invalid document is rejected before anything is written.
	empty := newMockState()
	fresh := NewEngine()
	fresh.SetState(empty)
	bad := validGenesis()
	bad.PenaltyBps = maxPenaltyBps + 1
	if err := fresh.InitGenesis(bad); !errors.Is(err, ErrMaxFeeCap) {
		t.Fatalf("bad genesis: got %v want %v", err, ErrMaxFeeCap)
	}
	if len(empty.pools) != 0 {
		t.Fatalf("rejected genesis wrote pools")
	}
}
