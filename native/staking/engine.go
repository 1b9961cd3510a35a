package staking

import (
	"errors"
	"math/big"
	"time"

	"stakevault/core/events"
	"stakevault/crypto"
	"stakevault/native/common"
)

var (
	errNilState       = errors.New("staking engine: state not configured")
	errNilToken       = errors.New("staking engine: token vault not configured")
	errNilParams      = errors.New("staking engine: params not initialised")
	errPoolAccounting = errors.New("staking engine: pool total below position principal")
)

// engineState is the narrow persistence surface the engine depends on.
// core/state implements it over the ledger's key-value store; tests provide
// in-memory mocks.
type engineState interface {
	StakingPool(id uint8) (*Pool, bool, error)
	PutStakingPool(pool *Pool) error
	StakingPosition(id uint8, addr crypto.Address) (*Position, error)
	PutStakingPosition(id uint8, addr crypto.Address, pos *Position) error
	StakingTreasury() (*Treasury, error)
	PutStakingTreasury(t *Treasury) error
	StakingParams() (*Params, error)
	PutStakingParams(p *Params) error
	StakingOwnership() (*Ownership, error)
	PutStakingOwnership(o *Ownership) error
}

// Token is the asset-transfer collaborator. The engine treats any error from
// a transfer as a hard failure of the enclosing operation; the hosting ledger
// rolls the whole operation back.
type Token interface {
	BalanceOf(symbol string, addr crypto.Address) (*big.Int, error)
	Transfer(symbol string, from, to crypto.Address, amount *big.Int) error
}

// Authority decides whether an address holds the administrator capability.
// When unset, the engine falls back to the ownership record in state.
type Authority interface {
	IsOwner(addr crypto.Address) (bool, error)
}

// Engine executes the staking ledger's state transitions: deposits,
// withdrawals, reward settlement, emergency exits, treasury funding, and the
// administrator surface. All mutations go through the injected state; all
// asset movement goes through the injected token vault.
type Engine struct {
	state     engineState
	token     Token
	authority Authority
	section   common.CriticalSection
	emitter   events.Emitter
	nowFn     func() int64
	vault     crypto.Address
}

func NewEngine() *Engine {
	return &Engine{
		section: common.NewSection(),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		vault:   ModuleAddress(),
	}
}

// SetState wires the persistence backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetToken wires the asset-transfer collaborator.
func (e *Engine) SetToken(token Token) { e.token = token }

// SetAuthority overrides the administrator check. Passing nil restores the
// default, which reads the ownership record from state.
func (e *Engine) SetAuthority(authority Authority) { e.authority = authority }

// SetCriticalSection shares a single-flight guard with the engine. The
// hosting ledger passes one section to every engine it builds so the four
// guarded operations exclude each other across the whole process. Passing
// nil restores an engine-local section.
func (e *Engine) SetCriticalSection(section common.CriticalSection) {
	if section == nil {
		section = common.NewSection()
	}
	e.section = section
}

// SetEmitter configures the sink receiving ledger events. Passing nil resets
// the engine to a no-op emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetNowFunc overrides the engine clock. Passing nil restores the wall clock.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	e.nowFn = now
}

// Vault returns the module's custody address.
func (e *Engine) Vault() crypto.Address { return e.vault }

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(event events.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) requireReady() error {
	if e.state == nil {
		return errNilState
	}
	if e.token == nil {
		return errNilToken
	}
	return nil
}

func (e *Engine) loadParams() (*Params, error) {
	params, err := e.state.StakingParams()
	if err != nil {
		return nil, err
	}
	if params == nil {
		return nil, errNilParams
	}
	return params, nil
}

func (e *Engine) loadPool(id uint8) (*Pool, error) {
	if id >= PoolCount {
		return nil, ErrInvalidPool
	}
	pool, ok, err := e.state.StakingPool(id)
	if err != nil {
		return nil, err
	}
	if !ok || pool == nil {
		return nil, ErrInvalidPool
	}
	return normalizePool(pool), nil
}

func (e *Engine) loadPosition(id uint8, addr crypto.Address) (*Position, error) {
	pos, err := e.state.StakingPosition(id, addr)
	if err != nil {
		return nil, err
	}
	return normalizePosition(pos), nil
}

func (e *Engine) loadTreasury() (*Treasury, error) {
	treasury, err := e.state.StakingTreasury()
	if err != nil {
		return nil, err
	}
	return treasury.normalize(), nil
}

func normalizePool(p *Pool) *Pool {
	if p.MaxCap == nil {
		p.MaxCap = big.NewInt(0)
	}
	if p.WalletCap == nil {
		p.WalletCap = big.NewInt(0)
	}
	if p.TotalStaked == nil {
		p.TotalStaked = big.NewInt(0)
	}
	return p
}

func normalizePosition(p *Position) *Position {
	if p == nil {
		p = &Position{}
	}
	if p.StakedAmount == nil {
		p.StakedAmount = big.NewInt(0)
	}
	if p.RewardClaimed == nil {
		p.RewardClaimed = big.NewInt(0)
	}
	return p
}

// Deposit settles the caller's pending reward against the pre-deposit
// principal, pulls the deposit (fee to the collector, remainder into the
// vault), then credits the net amount and restamps both clocks. Settling
// before the credit keeps the new principal from retroactively earning
// reward for time it was not staked.
func (e *Engine) Deposit(caller crypto.Address, poolID uint8, amount *big.Int) (*Position, error) {
	if err := e.section.Enter(); err != nil {
		return nil, err
	}
	defer e.section.Exit()
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	if params.Paused {
		return nil, common.ErrModulePaused
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrAmountShouldBeGreaterThanZero
	}
	if new(big.Int).Add(pool.TotalStaked, amount).Cmp(pool.MaxCap) > 0 {
		return nil, ErrExceedPoolCap
	}
	pos, err := e.loadPosition(poolID, caller)
	if err != nil {
		return nil, err
	}
	if new(big.Int).Add(pos.StakedAmount, amount).Cmp(pool.WalletCap) > 0 {
		return nil, ErrWalletCapExceeds
	}

	now := e.now()
	if _, err := e.settle(poolID, caller, pool, pos, cloneBigInt(pos.StakedAmount), now); err != nil {
		return nil, err
	}

	fee := takeBps(amount, params.DepositFeeBps)
	if fee.Sign() > 0 {
		if err := e.token.Transfer(StakingAsset, caller, params.FeeCollector, fee); err != nil {
			return nil, err
		}
	}
	net := new(big.Int).Sub(amount, fee)
	if net.Sign() > 0 {
		if err := e.token.Transfer(StakingAsset, caller, e.vault, net); err != nil {
			return nil, err
		}
	}

	pool.TotalStaked = new(big.Int).Add(pool.TotalStaked, net)
	pos.StakedAmount = new(big.Int).Add(pos.StakedAmount, net)
	pos.LastDepositTime = now
	pos.LastRewardClaim = now
	if err := e.state.PutStakingPool(pool); err != nil {
		return nil, err
	}
	if err := e.state.PutStakingPosition(poolID, caller, pos); err != nil {
		return nil, err
	}

	e.emit(Deposited{User: caller, Pool: poolID, Amount: net, Fee: fee, Gross: cloneBigInt(amount), TotalStaked: cloneBigInt(pool.TotalStaked)})
	return pos.Clone(), nil
}

// Withdraw decrements principal by the full requested amount, carves the fee
// out of the payout, settles the pending reward against the pre-decrement
// principal, and pays the remainder. Counter mutations land before any
// outbound transfer.
func (e *Engine) Withdraw(caller crypto.Address, poolID uint8, amount *big.Int) (*big.Int, *big.Int, error) {
	if err := e.section.Enter(); err != nil {
		return nil, nil, err
	}
	defer e.section.Exit()
	if err := e.requireReady(); err != nil {
		return nil, nil, err
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, nil, err
	}
	if params.Paused {
		return nil, nil, common.ErrModulePaused
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, nil, err
	}
	pos, err := e.loadPosition(poolID, caller)
	if err != nil {
		return nil, nil, err
	}
	if pos.StakedAmount.Sign() == 0 {
		return nil, nil, ErrNothingStaked
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrAmountShouldBeGreaterThanZero
	}
	if amount.Cmp(pos.StakedAmount) > 0 {
		return nil, nil, ErrAmountExceedStakedAmount
	}
	now := e.now()
	if now < pos.LastDepositTime+int64(pool.LockedPeriod) {
		return nil, nil, ErrLockupPeriodNotPassed
	}
	if pool.TotalStaked.Cmp(amount) < 0 {
		return nil, nil, errPoolAccounting
	}

	principalBefore := cloneBigInt(pos.StakedAmount)
	pool.TotalStaked = new(big.Int).Sub(pool.TotalStaked, amount)
	pos.StakedAmount = new(big.Int).Sub(pos.StakedAmount, amount)
	if err := e.state.PutStakingPool(pool); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutStakingPosition(poolID, caller, pos); err != nil {
		return nil, nil, err
	}

	fee := takeBps(amount, params.WithdrawFeeBps)
	if fee.Sign() > 0 {
		if err := e.token.Transfer(StakingAsset, e.vault, params.FeeCollector, fee); err != nil {
			return nil, nil, err
		}
	}
	if _, err := e.settle(poolID, caller, pool, pos, principalBefore, now); err != nil {
		return nil, nil, err
	}
	payout := new(big.Int).Sub(amount, fee)
	if payout.Sign() > 0 {
		if err := e.token.Transfer(StakingAsset, e.vault, caller, payout); err != nil {
			return nil, nil, err
		}
	}

	e.emit(Withdrawn{User: caller, Pool: poolID, Amount: cloneBigInt(amount), Fee: fee, Payout: payout, TotalStaked: cloneBigInt(pool.TotalStaked)})
	return payout, fee, nil
}

// ClaimReward is a pure settlement: no principal moves.
func (e *Engine) ClaimReward(caller crypto.Address, poolID uint8) (*big.Int, error) {
	if err := e.section.Enter(); err != nil {
		return nil, err
	}
	defer e.section.Exit()
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	if params.Paused {
		return nil, common.ErrModulePaused
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(poolID, caller)
	if err != nil {
		return nil, err
	}
	return e.settle(poolID, caller, pool, pos, cloneBigInt(pos.StakedAmount), e.now())
}

// EmergencyWithdraw bypasses the lock: the position is zeroed, the penalty
// goes to the collector, the remainder returns to the caller, and any
// accrued-but-unclaimed reward is forfeited by restamping the claim clock
// without settling.
func (e *Engine) EmergencyWithdraw(caller crypto.Address, poolID uint8) (*big.Int, *big.Int, error) {
	if err := e.section.Enter(); err != nil {
		return nil, nil, err
	}
	defer e.section.Exit()
	if err := e.requireReady(); err != nil {
		return nil, nil, err
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, nil, err
	}
	if params.Paused {
		return nil, nil, common.ErrModulePaused
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, nil, err
	}
	pos, err := e.loadPosition(poolID, caller)
	if err != nil {
		return nil, nil, err
	}
	staked := cloneBigInt(pos.StakedAmount)
	if staked.Sign() == 0 {
		return nil, nil, ErrNothingStaked
	}
	if pool.TotalStaked.Cmp(staked) < 0 {
		return nil, nil, errPoolAccounting
	}

	now := e.now()
	penalty := takeBps(staked, params.PenaltyBps)
	pos.StakedAmount = big.NewInt(0)
	pos.LastRewardClaim = now
	pool.TotalStaked = new(big.Int).Sub(pool.TotalStaked, staked)
	if err := e.state.PutStakingPool(pool); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutStakingPosition(poolID, caller, pos); err != nil {
		return nil, nil, err
	}

	if penalty.Sign() > 0 {
		if err := e.token.Transfer(StakingAsset, e.vault, params.FeeCollector, penalty); err != nil {
			return nil, nil, err
		}
	}
	returned := new(big.Int).Sub(staked, penalty)
	if returned.Sign() > 0 {
		if err := e.token.Transfer(StakingAsset, e.vault, caller, returned); err != nil {
			return nil, nil, err
		}
	}

	e.emit(EmergencyWithdrawn{User: caller, Pool: poolID, Returned: returned, Penalty: penalty, TotalStaked: cloneBigInt(pool.TotalStaked)})
	return returned, penalty, nil
}

// settle computes the reward owed on principal since the position's last
// claim and pays out what the pool's bucket can cover. When the bucket falls
// short, the shortfall is forfeited: the claim clock still advances and the
// remainder is not carried as a debt, so the treasury never goes negative
// and never borrows across pools. A zero accrual leaves the clock untouched.
func (e *Engine) settle(poolID uint8, addr crypto.Address, pool *Pool, pos *Position, principal *big.Int, now int64) (*big.Int, error) {
	owed := accruedReward(principal, pool.APYBps, pos.LastRewardClaim, now)
	if owed.Sign() == 0 {
		return big.NewInt(0), nil
	}
	treasury, err := e.loadTreasury()
	if err != nil {
		return nil, err
	}
	available := treasury.PoolRewards[poolID]
	paid := owed
	if available.Cmp(owed) < 0 {
		paid = cloneBigInt(available)
	}

	treasury.PoolRewards[poolID] = new(big.Int).Sub(available, paid)
	treasury.TotalRewards = new(big.Int).Sub(treasury.TotalRewards, paid)
	pos.LastRewardClaim = now
	pos.RewardClaimed = new(big.Int).Add(pos.RewardClaimed, paid)
	if err := e.state.PutStakingTreasury(treasury); err != nil {
		return nil, err
	}
	if err := e.state.PutStakingPosition(poolID, addr, pos); err != nil {
		return nil, err
	}

	if paid.Sign() > 0 {
		if err := e.token.Transfer(StakingAsset, e.vault, addr, paid); err != nil {
			return nil, err
		}
	}
	e.emit(RewardsClaimed{User: addr, Pool: poolID, Paid: cloneBigInt(paid), Owed: owed})
	return paid, nil
}

// accruedReward is the pure accrual formula: linear, non-compounding, basis
// points against the fixed divisor, integer division truncating toward zero.
func accruedReward(principal *big.Int, apyBps uint64, lastClaim, now int64) *big.Int {
	if principal == nil || principal.Sign() <= 0 {
		return big.NewInt(0)
	}
	elapsed := now - lastClaim
	if elapsed <= 0 {
		return big.NewInt(0)
	}
	reward := new(big.Int).Mul(principal, new(big.Int).SetUint64(apyBps))
	reward.Mul(reward, big.NewInt(elapsed))
	return reward.Quo(reward, new(big.Int).Mul(basisPoints, secondsPerYearInt))
}

// takeBps carves a basis-point share out of amount, truncating toward zero.
func takeBps(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, basisPoints)
}

// --- read-only queries ---

// GetPool returns a copy of the pool configuration and aggregates.
func (e *Engine) GetPool(poolID uint8) (*Pool, error) {
	if e.state == nil {
		return nil, errNilState
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// ListPools returns copies of every pool in index order.
func (e *Engine) ListPools() ([]*Pool, error) {
	if e.state == nil {
		return nil, errNilState
	}
	pools := make([]*Pool, 0, PoolCount)
	for id := uint8(0); id < PoolCount; id++ {
		pool, err := e.loadPool(id)
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool.Clone())
	}
	return pools, nil
}

// GetPosition returns a copy of the (pool, user) record, zero-valued when the
// user has never touched the pool.
func (e *Engine) GetPosition(poolID uint8, addr crypto.Address) (*Position, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if poolID >= PoolCount {
		return nil, ErrInvalidPool
	}
	pos, err := e.loadPosition(poolID, addr)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// GetTreasury returns a copy of the reward budget and its buckets.
func (e *Engine) GetTreasury() (*Treasury, error) {
	if e.state == nil {
		return nil, errNilState
	}
	treasury, err := e.loadTreasury()
	if err != nil {
		return nil, err
	}
	return treasury.Clone(), nil
}

// GetParams returns a copy of the runtime parameters.
func (e *Engine) GetParams() (*Params, error) {
	if e.state == nil {
		return nil, errNilState
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	return params.Clone(), nil
}

// PendingRewards evaluates the accrual formula without mutating anything:
// two consecutive calls return the same value and the claim clock stays put.
func (e *Engine) PendingRewards(poolID uint8, addr crypto.Address) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(poolID, addr)
	if err != nil {
		return nil, err
	}
	return accruedReward(pos.StakedAmount, pool.APYBps, pos.LastRewardClaim, e.now()), nil
}
