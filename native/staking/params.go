package staking

import (
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"stakevault/crypto"
)

// Every percentage-valued parameter in the ledger (fees, penalty, APY,
// reward allocation) is expressed in basis points against this single
// divisor. The whole-percent convention (divisor 100) is deliberately not
// supported; mixing divisors corrupts every fee and reward calculation.
const basisPointsDenom = 10_000

// secondsPerYear fixes the accrual year at 365 days.
const secondsPerYear = 31_536_000

// Policy bounds enforced by the admin setters and genesis validation.
const (
	// maxCombinedFeeBps caps depositFee + withdrawFee.
	maxCombinedFeeBps = 2_000
	// maxPenaltyBps caps the emergency-exit penalty.
	maxPenaltyBps = 2_500
	// minAllocationBps is the smallest reward share a pool may be assigned,
	// keeping every pool's bucket clear of rounding starvation.
	minAllocationBps = 500
	// apyLowerBoundBps and apyUpperBoundBps bound SetApy exclusively:
	// accepted values satisfy lower < apy < upper.
	apyLowerBoundBps = 2
	apyUpperBoundBps = 5_000
)

var (
	basisPoints       = big.NewInt(basisPointsDenom)
	secondsPerYearInt = big.NewInt(secondsPerYear)
	// minWalletCap floors SetWalletCap so a pool cannot be degraded to a
	// near-zero per-user ceiling.
	minWalletCap = big.NewInt(1_000)
)

// Params are the runtime-mutable knobs guarded by the administrator.
type Params struct {
	DepositFeeBps  uint64
	WithdrawFeeBps uint64
	PenaltyBps     uint64
	FeeCollector   crypto.Address
	Paused         bool
}

func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	cloned := *p
	return &cloned
}

// Validate checks the same bounds the admin setters enforce, so a genesis
// document cannot smuggle in parameters an admin could not set.
func (p *Params) Validate() error {
	if p.DepositFeeBps+p.WithdrawFeeBps > maxCombinedFeeBps {
		return ErrMaxFeeCap
	}
	if p.PenaltyBps > maxPenaltyBps {
		return ErrMaxFeeCap
	}
	if p.FeeCollector.IsZero() {
		return ErrZeroAddress
	}
	return nil
}

// ModuleAddress is the vault account custodying staked principal, the reward
// budget, and any rescueable foreign assets. Derived from a fixed tag so it
// cannot collide with a key-derived user address.
func ModuleAddress() crypto.Address {
	hash := ethcrypto.Keccak256([]byte("staking/vault"))
	return crypto.MustNewAddress(hash[len(hash)-20:])
}
