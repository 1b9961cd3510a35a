package staking

import (
	"math/big"

	"stakevault/crypto"
)

// allocationShare routes a basis-point slice of amount to one pool bucket.
func allocationShare(amount *big.Int, allocationBps uint64) *big.Int {
	return takeBps(amount, allocationBps)
}

// InjectRewards pulls amount of the staking asset from the owner into the
// vault, then routes each pool its allocation share and grows the global
// budget by the full amount. Per-pool rounding loss stays unallocated inside
// TotalRewards; it is accepted and never swept.
func (e *Engine) InjectRewards(caller crypto.Address, amount *big.Int) (*Treasury, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrAmountShouldBeGreaterThanZero
	}
	if err := e.token.Transfer(StakingAsset, caller, e.vault, amount); err != nil {
		return nil, err
	}
	treasury, err := e.loadTreasury()
	if err != nil {
		return nil, err
	}
	for id := uint8(0); id < PoolCount; id++ {
		pool, err := e.loadPool(id)
		if err != nil {
			return nil, err
		}
		share := allocationShare(amount, pool.RewardAllocationBps)
		treasury.PoolRewards[id] = new(big.Int).Add(treasury.PoolRewards[id], share)
	}
	treasury.TotalRewards = new(big.Int).Add(treasury.TotalRewards, amount)
	if err := e.state.PutStakingTreasury(treasury); err != nil {
		return nil, err
	}
	e.emit(RewardsInjected{Owner: caller, Amount: cloneBigInt(amount), Total: cloneBigInt(treasury.TotalRewards)})
	return treasury.Clone(), nil
}

// EjectRewards reclaims part of the budget for the owner. The buckets are not
// decremented proportionally: allocation is a live percentage of whatever
// budget remains, so every bucket is recomputed from scratch against the new
// total (or zeroed outright when the total hits zero). User principal is
// never touched. Mutations land before the vault pays the owner.
func (e *Engine) EjectRewards(caller crypto.Address, amount *big.Int) (*Treasury, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	treasury, err := e.loadTreasury()
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() < 0 || amount.Cmp(treasury.TotalRewards) > 0 {
		return nil, ErrEnterValidAmount
	}

	treasury.TotalRewards = new(big.Int).Sub(treasury.TotalRewards, amount)
	if treasury.TotalRewards.Sign() > 0 {
		for id := uint8(0); id < PoolCount; id++ {
			pool, err := e.loadPool(id)
			if err != nil {
				return nil, err
			}
			treasury.PoolRewards[id] = allocationShare(treasury.TotalRewards, pool.RewardAllocationBps)
		}
	} else {
		for id := range treasury.PoolRewards {
			treasury.PoolRewards[id] = big.NewInt(0)
		}
	}
	if err := e.state.PutStakingTreasury(treasury); err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		if err := e.token.Transfer(StakingAsset, e.vault, caller, amount); err != nil {
			return nil, err
		}
	}
	e.emit(RewardsEjected{Owner: caller, Amount: cloneBigInt(amount), Total: cloneBigInt(treasury.TotalRewards)})
	return treasury.Clone(), nil
}
