package staking

import (
	"math/big"

	"stakevault/crypto"
)

// GenesisPool describes one pool's launch parameters. TotalStaked always
// starts at zero; it is an accounting output, not an input.
type GenesisPool struct {
	MaxCap              *big.Int
	WalletCap           *big.Int
	LockedPeriod        uint64
	APYBps              uint64
	RewardAllocationBps uint64
}

// Genesis is the full launch state for the ledger: the owner, the fee
// policy, and the four pool definitions.
type Genesis struct {
	Owner          crypto.Address
	FeeCollector   crypto.Address
	DepositFeeBps  uint64
	WithdrawFeeBps uint64
	PenaltyBps     uint64
	Pools          [PoolCount]GenesisPool
}

// Validate checks the genesis document against the same policy bands the
// admin setters enforce, so a ledger can never launch into a state its own
// operations would refuse to produce.
func (g *Genesis) Validate() error {
	if g == nil {
		return ErrZeroAddress
	}
	if g.Owner.IsZero() || g.FeeCollector.IsZero() {
		return ErrZeroAddress
	}
	if g.DepositFeeBps+g.WithdrawFeeBps > maxCombinedFeeBps {
		return ErrMaxFeeCap
	}
	if g.PenaltyBps > maxPenaltyBps {
		return ErrMaxFeeCap
	}
	var allocation uint64
	for i := range g.Pools {
		pool := &g.Pools[i]
		if pool.MaxCap == nil || pool.MaxCap.Sign() <= 0 {
			return ErrInvalidMaxPoolLimit
		}
		if pool.WalletCap == nil || pool.WalletCap.Cmp(minWalletCap) < 0 {
			return ErrInvalidMaxCapPerWallet
		}
		if pool.APYBps <= apyLowerBoundBps || pool.APYBps >= apyUpperBoundBps {
			return ErrApyRangeExceeds
		}
		if pool.RewardAllocationBps < minAllocationBps {
			return ErrPercentShouldBeAtleastFive
		}
		allocation += pool.RewardAllocationBps
	}
	if allocation > basisPointsDenom {
		return ErrAllocationCapExceeded
	}
	return nil
}

// InitGenesis seeds pools, treasury, params and ownership. Seeding is
// idempotent: once an owner is recorded the call becomes a no-op, so a
// restarted node never resets live accounting.
func (e *Engine) InitGenesis(g *Genesis) error {
	if e.state == nil {
		return errNilState
	}
	existing, err := e.state.StakingOwnership()
	if err != nil {
		return err
	}
	if existing != nil && !existing.Owner.IsZero() {
		return nil
	}
	if err := g.Validate(); err != nil {
		return err
	}
	for i := range g.Pools {
		seed := &g.Pools[i]
		pool := &Pool{
			ID:                  uint8(i),
			MaxCap:              cloneBigInt(seed.MaxCap),
			WalletCap:           cloneBigInt(seed.WalletCap),
			LockedPeriod:        seed.LockedPeriod,
			APYBps:              seed.APYBps,
			RewardAllocationBps: seed.RewardAllocationBps,
			TotalStaked:         big.NewInt(0),
		}
		if err := e.state.PutStakingPool(pool); err != nil {
			return err
		}
	}
	if err := e.state.PutStakingTreasury(NewTreasury()); err != nil {
		return err
	}
	params := &Params{
		DepositFeeBps:  g.DepositFeeBps,
		WithdrawFeeBps: g.WithdrawFeeBps,
		PenaltyBps:     g.PenaltyBps,
		FeeCollector:   g.FeeCollector,
	}
	if err := e.state.PutStakingParams(params); err != nil {
		return err
	}
	return e.state.PutStakingOwnership(&Ownership{Owner: g.Owner})
}
