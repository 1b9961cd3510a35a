package staking

import (
	"fmt"
	"math/big"
	"strings"

	"stakevault/crypto"
)

// PoolCount is the number of staking pools. The arena is fixed at genesis;
// pools are addressed by index and never created or destroyed afterwards.
const PoolCount = 4

// StakingAsset is the ticker of the asset users stake and rewards pay out in.
const StakingAsset = "SVT"

// Pool is one staking bucket: its policy parameters plus the aggregate
// principal currently staked in it.
type Pool struct {
	ID                  uint8
	MaxCap              *big.Int
	WalletCap           *big.Int
	LockedPeriod        uint64
	APYBps              uint64
	RewardAllocationBps uint64
	TotalStaked         *big.Int
}

// Clone returns a deep copy so callers cannot alias engine-held state.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	return &Pool{
		ID:                  p.ID,
		MaxCap:              cloneBigInt(p.MaxCap),
		WalletCap:           cloneBigInt(p.WalletCap),
		LockedPeriod:        p.LockedPeriod,
		APYBps:              p.APYBps,
		RewardAllocationBps: p.RewardAllocationBps,
		TotalStaked:         cloneBigInt(p.TotalStaked),
	}
}

// Position is one user's stake record within one pool. Records are created
// implicitly on first reference and persist after the principal returns to
// zero so RewardClaimed keeps its lifetime history.
type Position struct {
	StakedAmount    *big.Int
	LastDepositTime int64
	LastRewardClaim int64
	RewardClaimed   *big.Int
}

func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	return &Position{
		StakedAmount:    cloneBigInt(p.StakedAmount),
		LastDepositTime: p.LastDepositTime,
		LastRewardClaim: p.LastRewardClaim,
		RewardClaimed:   cloneBigInt(p.RewardClaimed),
	}
}

// Treasury is the owner-funded reward budget and its per-pool earmarks.
// Invariant: the earmarks never sum past TotalRewards.
type Treasury struct {
	TotalRewards *big.Int
	PoolRewards  [PoolCount]*big.Int
}

// NewTreasury returns an empty treasury with zeroed buckets.
func NewTreasury() *Treasury {
	t := &Treasury{TotalRewards: big.NewInt(0)}
	for i := range t.PoolRewards {
		t.PoolRewards[i] = big.NewInt(0)
	}
	return t
}

func (t *Treasury) Clone() *Treasury {
	if t == nil {
		return nil
	}
	cloned := &Treasury{TotalRewards: cloneBigInt(t.TotalRewards)}
	for i := range t.PoolRewards {
		cloned.PoolRewards[i] = cloneBigInt(t.PoolRewards[i])
	}
	return cloned
}

// normalize backfills nil amounts so arithmetic never trips on a zero value
// decoded from an older record.
func (t *Treasury) normalize() *Treasury {
	if t == nil {
		return NewTreasury()
	}
	if t.TotalRewards == nil {
		t.TotalRewards = big.NewInt(0)
	}
	for i := range t.PoolRewards {
		if t.PoolRewards[i] == nil {
			t.PoolRewards[i] = big.NewInt(0)
		}
	}
	return t
}

// Ownership tracks the current administrator and the address proposed to
// take over. Handoff is two-step: the proposed address must accept.
type Ownership struct {
	Owner   crypto.Address
	Pending crypto.Address
}

func (o *Ownership) Clone() *Ownership {
	if o == nil {
		return nil
	}
	cloned := *o
	return &cloned
}

// NormalizeAsset canonicalises an asset ticker for vault bookkeeping.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("staking: empty asset symbol")
	}
	return trimmed, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
