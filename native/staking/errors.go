package staking

import "errors"

// The ledger's closed error set. Operations fail with exactly one of these
// values and callers receive them verbatim; nothing here is ever wrapped.
var (
	ErrInvalidPool                   = errors.New("staking: invalid pool")
	ErrAmountShouldBeGreaterThanZero = errors.New("staking: amount should be greater than zero")
	ErrEnterValidAmount              = errors.New("staking: enter valid amount")
	ErrExceedPoolCap                 = errors.New("staking: pool cap exceeded")
	ErrWalletCapExceeds              = errors.New("staking: wallet cap exceeded")
	ErrLockupPeriodNotPassed         = errors.New("staking: lockup period not passed")
	ErrAmountExceedStakedAmount      = errors.New("staking: amount exceeds staked amount")
	ErrNothingStaked                 = errors.New("staking: nothing staked")
	ErrApyRangeExceeds               = errors.New("staking: apy out of range")
	ErrPercentShouldBeAtleastFive    = errors.New("staking: allocation must be at least five percent")
	ErrAllocationCapExceeded         = errors.New("staking: allocations exceed one hundred percent")
	ErrMaxFeeCap                     = errors.New("staking: max fee cap exceeded")
	ErrInvalidMaxCapPerWallet        = errors.New("staking: invalid max cap per wallet")
	ErrInvalidMaxPoolLimit           = errors.New("staking: invalid max pool limit")
	ErrZeroAddress                   = errors.New("staking: zero address")
	ErrCanNotClaimMainToken          = errors.New("staking: cannot claim the staking asset")
	ErrUnauthorized                  = errors.New("staking: unauthorized")
	ErrNotPendingOwner               = errors.New("staking: caller is not the pending owner")
)
