package staking

import (
	"errors"
	"math/big"
	"testing"
)

func sumBuckets(tr *Treasury) *big.Int {
	sum := big.NewInt(0)
	for _, bucket := range tr.PoolRewards {
		sum.Add(sum, bucket)
	}
	return sum
}

func TestInjectRewardsRoutesAllocationShares(t *testing.T) {
	f := newFixture(t)
	f.state.pools[0].RewardAllocationBps = 500

	treasury, err := f.engine.InjectRewards(f.owner, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	requireAmount(t, treasury.TotalRewards, 10_000, "treasury total")
	requireAmount(t, treasury.PoolRewards[0], 500, "pool 0 bucket")
	for id := 1; id < PoolCount; id++ {
		requireAmount(t, treasury.PoolRewards[id], 2_500, "allocated bucket")
	}
	requireAmount(t, f.token.balance(StakingAsset, f.owner), 990_000, "owner balance")
	requireAmount(t, f.token.balance(StakingAsset, f.engine.Vault()), 1_010_000, "vault balance")

	evts := f.emitter.types()
	if len(evts) != 1 || evts[0] != TypeRewardsInjected {
		t.Fatalf("unexpected events: %v", evts)
	}
}

func TestInjectRewardsAccumulates(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.InjectRewards(f.owner, big.NewInt(4_000)); err != nil {
		t.Fatalf("first inject: %v", err)
	}
	treasury, err := f.engine.InjectRewards(f.owner, big.NewInt(4_000))
	if err != nil {
		t.Fatalf("second inject: %v", err)
	}
	requireAmount(t, treasury.TotalRewards, 8_000, "treasury total")
	requireAmount(t, treasury.PoolRewards[0], 2_000, "bucket accumulation")
}

func TestInjectRewardsValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.InjectRewards(f.user, big.NewInt(100)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner: got %v want %v", err, ErrUnauthorized)
	}
	if _, err := f.engine.InjectRewards(f.owner, nil); !errors.Is(err, ErrAmountShouldBeGreaterThanZero) {
		t.Fatalf("nil amount: got %v want %v", err, ErrAmountShouldBeGreaterThanZero)
	}
	if _, err := f.engine.InjectRewards(f.owner, big.NewInt(0)); !errors.Is(err, ErrAmountShouldBeGreaterThanZero) {
		t.Fatalf("zero amount: got %v want %v", err, ErrAmountShouldBeGreaterThanZero)
	}
	if _, err := f.engine.InjectRewards(f.owner, big.NewInt(-5)); !errors.Is(err, ErrAmountShouldBeGreaterThanZero) {
		t.Fatalf("negative amount: got %v want %v", err, ErrAmountShouldBeGreaterThanZero)
	}
	requireAmount(t, f.state.treasury.TotalRewards, 0, "treasury after rejections")
}

func TestInjectRewardsRoundingStaysUnallocated(t *testing.T) {
	f := newFixture(t)

	// 99 at four 25% shares allocates 24 per bucket; the remaining 3 stay
	// inside TotalRewards without a bucket.
	treasury, err := f.engine.InjectRewards(f.owner, big.NewInt(99))
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	requireAmount(t, treasury.TotalRewards, 99, "treasury total")
	for id := range treasury.PoolRewards {
		requireAmount(t, treasury.PoolRewards[id], 24, "rounded bucket")
	}
	requireAmount(t, sumBuckets(treasury), 96, "bucket sum")
}

func TestEjectRewardsRecomputesBuckets(t *testing.T) {
	f := newFixture(t)
	f.state.pools[0].RewardAllocationBps = 500
	if _, err := f.engine.InjectRewards(f.owner, big.NewInt(10_000)); err != nil {
		t.Fatalf("inject: %v", err)
	}

	treasury, err := f.engine.EjectRewards(f.owner, big.NewInt(4_000))
	if err != nil {
		t.Fatalf("eject: %v", err)
	}
	requireAmount(t, treasury.TotalRewards, 6_000, "treasury total")
	requireAmount(t, treasury.PoolRewards[0], 300, "recomputed pool 0 bucket")
	for id := 1; id < PoolCount; id++ {
		requireAmount(t, treasury.PoolRewards[id], 1_500, "recomputed bucket")
	}
	requireAmount(t, f.token.balance(StakingAsset, f.owner), 994_000, "owner balance")
	requireAmount(t, f.token.balance(StakingAsset, f.engine.Vault()), 1_006_000, "vault balance")
}

func TestEjectRewardsOverdrawRejected(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.InjectRewards(f.owner, big.NewInt(10_000)); err != nil {
		t.Fatalf("inject: %v", err)
	}
	ownerBefore := f.token.balance(StakingAsset, f.owner)

	if _, err := f.engine.EjectRewards(f.owner, big.NewInt(10_001)); !errors.Is(err, ErrEnterValidAmount) {
		t.Fatalf("got %v want %v", err, ErrEnterValidAmount)
	}
	requireAmount(t, f.state.treasury.TotalRewards, 10_000, "treasury total")
	requireAmount(t, f.state.treasury.PoolRewards[0], 2_500, "bucket untouched")
	if f.token.balance(StakingAsset, f.owner).Cmp(ownerBefore) != 0 {
		t.Fatalf("rejected eject moved funds")
	}
}

func TestEjectRewardsToZeroClearsBuckets(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.InjectRewards(f.owner, big.NewInt(10_000)); err != nil {
		t.Fatalf("inject: %v", err)
	}
	treasury, err := f.engine.EjectRewards(f.owner, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("eject: %v", err)
	}
	requireAmount(t, treasury.TotalRewards, 0, "treasury total")
	for id := range treasury.PoolRewards {
		requireAmount(t, treasury.PoolRewards[id], 0, "cleared bucket")
	}
}

func TestEjectRewardsZeroRebalances(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.InjectRewards(f.owner, big.NewInt(10_000)); err != nil {
		t.Fatalf("inject: %v", err)
	}
	// Claims drained one bucket below its allocation share.
	f.state.treasury.PoolRewards[0] = big.NewInt(100)
	ownerBefore := f.token.balance(StakingAsset, f.owner)

	treasury, err := f.engine.EjectRewards(f.owner, big.NewInt(0))
	if err != nil {
		t.Fatalf("zero eject: %v", err)
	}
	requireAmount(t, treasury.TotalRewards, 10_000, "treasury total")
	requireAmount(t, treasury.PoolRewards[0], 2_500, "rebalanced bucket")
	if f.token.balance(StakingAsset, f.owner).Cmp(ownerBefore) != 0 {
		t.Fatalf("zero eject moved funds")
	}
}

func TestEjectRewardsValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.EjectRewards(f.user, big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner: got %v want %v", err, ErrUnauthorized)
	}
	if _, err := f.engine.EjectRewards(f.owner, nil); !errors.Is(err, ErrEnterValidAmount) {
		t.Fatalf("nil amount: got %v want %v", err, ErrEnterValidAmount)
	}
	if _, err := f.engine.EjectRewards(f.owner, big.NewInt(-1)); !errors.Is(err, ErrEnterValidAmount) {
		t.Fatalf("negative amount: got %v want %v", err, ErrEnterValidAmount)
	}
	if _, err := f.engine.EjectRewards(f.owner, big.NewInt(1)); !errors.Is(err, ErrEnterValidAmount) {
		t.Fatalf("empty treasury: got %v want %v", err, ErrEnterValidAmount)
	}
}

func TestTreasuryInvariantAcrossOperations(t *testing.T) {
	f := newFixture(t)
	f.state.positions[positionKey(0, f.user)] = &Position{
		StakedAmount:    big.NewInt(100_000),
		LastDepositTime: testBaseTime,
		LastRewardClaim: testBaseTime,
		RewardClaimed:   big.NewInt(0),
	}
	f.state.pools[0].TotalStaked = big.NewInt(100_000)

	check := func(step string) {
		t.Helper()
		tr := f.state.treasury
		if sumBuckets(tr).Cmp(tr.TotalRewards) > 0 {
			t.Fatalf("%s: buckets %s exceed total %s", step, sumBuckets(tr), tr.TotalRewards)
		}
	}

	if _, err := f.engine.InjectRewards(f.owner, big.NewInt(777)); err != nil {
		t.Fatalf("inject: %v", err)
	}
	check("after inject")

	f.advance(secondsPerYear)
	if _, err := f.engine.ClaimReward(f.user, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	check("after claim")

	if _, err := f.engine.EjectRewards(f.owner, big.NewInt(100)); err != nil {
		t.Fatalf("eject: %v", err)
	}
	check("after eject")

	if _, err := f.engine.InjectRewards(f.owner, big.NewInt(33)); err != nil {
		t.Fatalf("second inject: %v", err)
	}
	check("after second inject")
}
