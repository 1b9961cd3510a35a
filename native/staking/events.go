package staking

import (
	"math/big"
	"strconv"

	"stakevault/core/types"
	"stakevault/crypto"
)

const (
	// TypeDeposited is emitted when principal is credited to a position.
	TypeDeposited = "staking.deposited"
	// TypeWithdrawn is emitted on an ordinary withdrawal.
	TypeWithdrawn = "staking.withdrawn"
	// TypeRewardsClaimed is emitted whenever a settlement pays (or forfeits
	// under shortfall) accrued rewards.
	TypeRewardsClaimed = "staking.rewards_claimed"
	// TypeEmergencyWithdrawn is emitted on a penalty-bearing early exit.
	TypeEmergencyWithdrawn = "staking.emergency_withdrawn"
	// TypeRewardsInjected and TypeRewardsEjected track treasury funding.
	TypeRewardsInjected = "staking.rewards_injected"
	TypeRewardsEjected  = "staking.rewards_ejected"
	// TypePoolUpdated is emitted when an admin retunes a pool parameter.
	TypePoolUpdated = "staking.pool_updated"
	// TypeParamsUpdated is emitted when fees, penalty, or collector change.
	TypeParamsUpdated = "staking.params_updated"
	// TypeOwnerProposed and TypeOwnerChanged track the two-step handoff.
	TypeOwnerProposed = "staking.owner_proposed"
	TypeOwnerChanged  = "staking.owner_changed"
	// TypePaused and TypeResumed track the module halt switch.
	TypePaused  = "staking.paused"
	TypeResumed = "staking.resumed"
	// TypeRescued is emitted when a foreign asset is recovered from the vault.
	TypeRescued = "staking.rescued"
	// TypeMinted is emitted when the owner issues new supply.
	TypeMinted = "staking.minted"
)

// Deposited carries the net credit applied to a position, plus the pool's
// resulting aggregate so consumers can track staked totals without a query.
type Deposited struct {
	User        crypto.Address
	Pool        uint8
	Amount      *big.Int
	Fee         *big.Int
	Gross       *big.Int
	TotalStaked *big.Int
}

func (Deposited) EventType() string { return TypeDeposited }

func (e Deposited) Event() *types.Event {
	return &types.Event{
		Type: TypeDeposited,
		Attributes: map[string]string{
			"user":        e.User.String(),
			"pool":        formatPool(e.Pool),
			"amount":      formatAmount(e.Amount),
			"fee":         formatAmount(e.Fee),
			"gross":       formatAmount(e.Gross),
			"totalStaked": formatAmount(e.TotalStaked),
		},
	}
}

// Withdrawn carries the requested amount alongside the fee carved from it.
type Withdrawn struct {
	User        crypto.Address
	Pool        uint8
	Amount      *big.Int
	Fee         *big.Int
	Payout      *big.Int
	TotalStaked *big.Int
}

func (Withdrawn) EventType() string { return TypeWithdrawn }

func (e Withdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeWithdrawn,
		Attributes: map[string]string{
			"user":        e.User.String(),
			"pool":        formatPool(e.Pool),
			"amount":      formatAmount(e.Amount),
			"fee":         formatAmount(e.Fee),
			"payout":      formatAmount(e.Payout),
			"totalStaked": formatAmount(e.TotalStaked),
		},
	}
}

// RewardsClaimed reports a settlement. Paid may fall short of Owed when the
// pool bucket could not cover the accrual; the difference is forfeited.
type RewardsClaimed struct {
	User crypto.Address
	Pool uint8
	Paid *big.Int
	Owed *big.Int
}

func (RewardsClaimed) EventType() string { return TypeRewardsClaimed }

func (e RewardsClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardsClaimed,
		Attributes: map[string]string{
			"user":   e.User.String(),
			"pool":   formatPool(e.Pool),
			"amount": formatAmount(e.Paid),
			"owed":   formatAmount(e.Owed),
		},
	}
}

// EmergencyWithdrawn reports a lock-bypassing exit and its penalty.
type EmergencyWithdrawn struct {
	User        crypto.Address
	Pool        uint8
	Returned    *big.Int
	Penalty     *big.Int
	TotalStaked *big.Int
}

func (EmergencyWithdrawn) EventType() string { return TypeEmergencyWithdrawn }

func (e EmergencyWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeEmergencyWithdrawn,
		Attributes: map[string]string{
			"user":        e.User.String(),
			"pool":        formatPool(e.Pool),
			"amount":      formatAmount(e.Returned),
			"penalty":     formatAmount(e.Penalty),
			"totalStaked": formatAmount(e.TotalStaked),
		},
	}
}

// RewardsInjected reports owner funding landing in the treasury.
type RewardsInjected struct {
	Owner  crypto.Address
	Amount *big.Int
	Total  *big.Int
}

func (RewardsInjected) EventType() string { return TypeRewardsInjected }

func (e RewardsInjected) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardsInjected,
		Attributes: map[string]string{
			"owner":  e.Owner.String(),
			"amount": formatAmount(e.Amount),
			"total":  formatAmount(e.Total),
		},
	}
}

// RewardsEjected reports budget reclaimed by the owner.
type RewardsEjected struct {
	Owner  crypto.Address
	Amount *big.Int
	Total  *big.Int
}

func (RewardsEjected) EventType() string { return TypeRewardsEjected }

func (e RewardsEjected) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardsEjected,
		Attributes: map[string]string{
			"owner":  e.Owner.String(),
			"amount": formatAmount(e.Amount),
			"total":  formatAmount(e.Total),
		},
	}
}

// PoolUpdated reports a single retuned pool field.
type PoolUpdated struct {
	Pool  uint8
	Field string
	Value string
}

func (PoolUpdated) EventType() string { return TypePoolUpdated }

func (e PoolUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePoolUpdated,
		Attributes: map[string]string{
			"pool":  formatPool(e.Pool),
			"field": e.Field,
			"value": e.Value,
		},
	}
}

// ParamsUpdated reports a fee, penalty, or collector change.
type ParamsUpdated struct {
	Field string
	Value string
}

func (ParamsUpdated) EventType() string { return TypeParamsUpdated }

func (e ParamsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeParamsUpdated,
		Attributes: map[string]string{
			"field": e.Field,
			"value": e.Value,
		},
	}
}

// OwnerProposed reports the first half of the handoff.
type OwnerProposed struct {
	Owner    crypto.Address
	Proposed crypto.Address
}

func (OwnerProposed) EventType() string { return TypeOwnerProposed }

func (e OwnerProposed) Event() *types.Event {
	return &types.Event{
		Type: TypeOwnerProposed,
		Attributes: map[string]string{
			"owner":    e.Owner.String(),
			"proposed": e.Proposed.String(),
		},
	}
}

// OwnerChanged reports an accepted handoff.
type OwnerChanged struct {
	Previous crypto.Address
	Owner    crypto.Address
}

func (OwnerChanged) EventType() string { return TypeOwnerChanged }

func (e OwnerChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeOwnerChanged,
		Attributes: map[string]string{
			"previous": e.Previous.String(),
			"owner":    e.Owner.String(),
		},
	}
}

// Paused and Resumed report the module halt switch.
type Paused struct {
	Owner crypto.Address
}

func (Paused) EventType() string { return TypePaused }

func (e Paused) Event() *types.Event {
	return &types.Event{
		Type:       TypePaused,
		Attributes: map[string]string{"owner": e.Owner.String()},
	}
}

type Resumed struct {
	Owner crypto.Address
}

func (Resumed) EventType() string { return TypeResumed }

func (e Resumed) Event() *types.Event {
	return &types.Event{
		Type:       TypeResumed,
		Attributes: map[string]string{"owner": e.Owner.String()},
	}
}

// Rescued reports a foreign asset recovered from the vault.
type Rescued struct {
	Asset  string
	To     crypto.Address
	Amount *big.Int
}

func (Rescued) EventType() string { return TypeRescued }

func (e Rescued) Event() *types.Event {
	return &types.Event{
		Type: TypeRescued,
		Attributes: map[string]string{
			"asset":  e.Asset,
			"to":     e.To.String(),
			"amount": formatAmount(e.Amount),
		},
	}
}

// Minted reports new supply issued by the owner.
type Minted struct {
	To     crypto.Address
	Amount *big.Int
	Supply *big.Int
}

func (Minted) EventType() string { return TypeMinted }

func (e Minted) Event() *types.Event {
	return &types.Event{
		Type: TypeMinted,
		Attributes: map[string]string{
			"to":     e.To.String(),
			"amount": formatAmount(e.Amount),
			"supply": formatAmount(e.Supply),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatPool(id uint8) string {
	return strconv.FormatUint(uint64(id), 10)
}
