package staking

import (
	"math/big"
	"strconv"

	"stakevault/crypto"
)

func (e *Engine) requireOwner(caller crypto.Address) error {
	if e.authority != nil {
		ok, err := e.authority.IsOwner(caller)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnauthorized
		}
		return nil
	}
	ownership, err := e.state.StakingOwnership()
	if err != nil {
		return err
	}
	if ownership == nil || ownership.Owner.IsZero() || !ownership.Owner.Equal(caller) {
		return ErrUnauthorized
	}
	return nil
}

// GetOwnership returns a copy of the current owner and pending owner.
func (e *Engine) GetOwnership() (*Ownership, error) {
	if e.state == nil {
		return nil, errNilState
	}
	ownership, err := e.state.StakingOwnership()
	if err != nil {
		return nil, err
	}
	if ownership == nil {
		ownership = &Ownership{}
	}
	return ownership.Clone(), nil
}

// SetApy retunes a pool's reward rate. Accepted values lie strictly inside
// the policy band; the bounds themselves are rejected.
func (e *Engine) SetApy(caller crypto.Address, poolID uint8, apyBps uint64) (*Pool, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	if apyBps <= apyLowerBoundBps || apyBps >= apyUpperBoundBps {
		return nil, ErrApyRangeExceeds
	}
	pool.APYBps = apyBps
	if err := e.state.PutStakingPool(pool); err != nil {
		return nil, err
	}
	e.emit(PoolUpdated{Pool: poolID, Field: "apyBps", Value: strconv.FormatUint(apyBps, 10)})
	return pool.Clone(), nil
}

// SetRewardAllocation retunes a pool's share of injected budget. The share
// floors at five percent and the full allocation set must stay within one
// hundred percent, or the treasury invariant breaks on the next inject.
func (e *Engine) SetRewardAllocation(caller crypto.Address, poolID uint8, allocationBps uint64) (*Pool, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	if allocationBps < minAllocationBps {
		return nil, ErrPercentShouldBeAtleastFive
	}
	var sum uint64
	for id := uint8(0); id < PoolCount; id++ {
		if id == poolID {
			sum += allocationBps
			continue
		}
		other, err := e.loadPool(id)
		if err != nil {
			return nil, err
		}
		sum += other.RewardAllocationBps
	}
	if sum > basisPointsDenom {
		return nil, ErrAllocationCapExceeded
	}
	pool.RewardAllocationBps = allocationBps
	if err := e.state.PutStakingPool(pool); err != nil {
		return nil, err
	}
	e.emit(PoolUpdated{Pool: poolID, Field: "rewardAllocationBps", Value: strconv.FormatUint(allocationBps, 10)})
	return pool.Clone(), nil
}

// SetMaxCap raises or lowers a pool's aggregate ceiling. The new value may
// not undercut what is already staked, so existing positions can never be
// capped out retroactively.
func (e *Engine) SetMaxCap(caller crypto.Address, poolID uint8, maxCap *big.Int) (*Pool, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	if maxCap == nil || maxCap.Sign() <= 0 || maxCap.Cmp(pool.TotalStaked) < 0 {
		return nil, ErrInvalidMaxPoolLimit
	}
	pool.MaxCap = cloneBigInt(maxCap)
	if err := e.state.PutStakingPool(pool); err != nil {
		return nil, err
	}
	e.emit(PoolUpdated{Pool: poolID, Field: "maxCap", Value: pool.MaxCap.String()})
	return pool.Clone(), nil
}

// SetWalletCap retunes the per-user ceiling, floored against degenerate
// near-zero caps.
func (e *Engine) SetWalletCap(caller crypto.Address, poolID uint8, walletCap *big.Int) (*Pool, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	if walletCap == nil || walletCap.Cmp(minWalletCap) < 0 {
		return nil, ErrInvalidMaxCapPerWallet
	}
	pool.WalletCap = cloneBigInt(walletCap)
	if err := e.state.PutStakingPool(pool); err != nil {
		return nil, err
	}
	e.emit(PoolUpdated{Pool: poolID, Field: "walletCap", Value: pool.WalletCap.String()})
	return pool.Clone(), nil
}

// SetFees updates both fee rates together so the combined cap can be
// enforced atomically.
func (e *Engine) SetFees(caller crypto.Address, depositFeeBps, withdrawFeeBps uint64) (*Params, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	if depositFeeBps+withdrawFeeBps > maxCombinedFeeBps {
		return nil, ErrMaxFeeCap
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	params.DepositFeeBps = depositFeeBps
	params.WithdrawFeeBps = withdrawFeeBps
	if err := e.state.PutStakingParams(params); err != nil {
		return nil, err
	}
	e.emit(ParamsUpdated{Field: "fees", Value: strconv.FormatUint(depositFeeBps, 10) + "/" + strconv.FormatUint(withdrawFeeBps, 10)})
	return params.Clone(), nil
}

// SetPenalty updates the emergency-exit penalty rate.
func (e *Engine) SetPenalty(caller crypto.Address, penaltyBps uint64) (*Params, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	if penaltyBps > maxPenaltyBps {
		return nil, ErrMaxFeeCap
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	params.PenaltyBps = penaltyBps
	if err := e.state.PutStakingParams(params); err != nil {
		return nil, err
	}
	e.emit(ParamsUpdated{Field: "penaltyBps", Value: strconv.FormatUint(penaltyBps, 10)})
	return params.Clone(), nil
}

// SetFeeCollector points fee and penalty payouts at a new address.
func (e *Engine) SetFeeCollector(caller crypto.Address, collector crypto.Address) (*Params, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	if collector.IsZero() {
		return nil, ErrZeroAddress
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	params.FeeCollector = collector
	if err := e.state.PutStakingParams(params); err != nil {
		return nil, err
	}
	e.emit(ParamsUpdated{Field: "feeCollector", Value: collector.String()})
	return params.Clone(), nil
}

// Pause halts the four user-facing operations. Admin operations keep working
// so the owner can repair parameters and resume.
func (e *Engine) Pause(caller crypto.Address) error {
	if e.state == nil {
		return errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	params, err := e.loadParams()
	if err != nil {
		return err
	}
	if params.Paused {
		return nil
	}
	params.Paused = true
	if err := e.state.PutStakingParams(params); err != nil {
		return err
	}
	e.emit(Paused{Owner: caller})
	return nil
}

// Resume lifts the halt.
func (e *Engine) Resume(caller crypto.Address) error {
	if e.state == nil {
		return errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	params, err := e.loadParams()
	if err != nil {
		return err
	}
	if !params.Paused {
		return nil
	}
	params.Paused = false
	if err := e.state.PutStakingParams(params); err != nil {
		return err
	}
	e.emit(Resumed{Owner: caller})
	return nil
}

// Rescue recovers a foreign asset mistakenly sent to the vault. The staking
// asset itself can never leave this way; principal and the reward budget are
// only reachable through the accounting operations.
func (e *Engine) Rescue(caller crypto.Address, symbol string, to crypto.Address, amount *big.Int) error {
	if err := e.requireReady(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	normalized, err := NormalizeAsset(symbol)
	if err != nil {
		return err
	}
	if normalized == StakingAsset {
		return ErrCanNotClaimMainToken
	}
	if to.IsZero() {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountShouldBeGreaterThanZero
	}
	if err := e.token.Transfer(normalized, e.vault, to, amount); err != nil {
		return err
	}
	e.emit(Rescued{Asset: normalized, To: to, Amount: cloneBigInt(amount)})
	return nil
}

// ProposeOwner stages the first half of the handoff. Control does not move
// until the proposed address accepts, so ownership cannot be burned on an
// unreachable address by a typo.
func (e *Engine) ProposeOwner(caller crypto.Address, proposed crypto.Address) error {
	if e.state == nil {
		return errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if proposed.IsZero() {
		return ErrZeroAddress
	}
	ownership, err := e.state.StakingOwnership()
	if err != nil {
		return err
	}
	if ownership == nil {
		ownership = &Ownership{}
	}
	ownership.Pending = proposed
	if err := e.state.PutStakingOwnership(ownership); err != nil {
		return err
	}
	e.emit(OwnerProposed{Owner: caller, Proposed: proposed})
	return nil
}

// AcceptOwnership completes the handoff; only the proposed address may call.
func (e *Engine) AcceptOwnership(caller crypto.Address) error {
	if e.state == nil {
		return errNilState
	}
	ownership, err := e.state.StakingOwnership()
	if err != nil {
		return err
	}
	if ownership == nil || ownership.Pending.IsZero() || !ownership.Pending.Equal(caller) {
		return ErrNotPendingOwner
	}
	previous := ownership.Owner
	ownership.Owner = caller
	ownership.Pending = crypto.ZeroAddress()
	if err := e.state.PutStakingOwnership(ownership); err != nil {
		return err
	}
	e.emit(OwnerChanged{Previous: previous, Owner: caller})
	return nil
}
