package core

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"stakevault/core/events"
	"stakevault/core/state"
	"stakevault/core/types"
	"stakevault/crypto"
	"stakevault/native/common"
	"stakevault/native/staking"
	"stakevault/storage"
)

// GenesisAccount pre-funds an address with the staking asset the first time
// the ledger is initialised.
type GenesisAccount struct {
	Address crypto.Address
	Balance *big.Int
}

type eventWithPayload interface {
	Event() *types.Event
}

// Ledger hosts the staking engine over a persistent key-value store. Every
// mutating operation stages its writes in a storage overlay and buffers its
// events; both are applied only when the operation succeeds, so a failed call
// leaves the database and all subscribers untouched.
type Ledger struct {
	db storage.Database

	stateMu sync.Mutex
	section common.CriticalSection

	authority staking.Authority
	emitter   events.Emitter
	journal   *storage.Journal
	nowFn     func() int64

	streamMu      sync.Mutex
	streamSeq     uint64
	streamNextID  uint64
	streamSubs    map[uint64]chan EventUpdate
	streamHistory []EventUpdate
}

// NewLedger wires a ledger over the supplied database. The caller retains
// ownership of the database handle and closes it after the ledger is done.
func NewLedger(db storage.Database) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("core: ledger requires a database")
	}
	return &Ledger{
		db:      db,
		section: common.NewSection(),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}, nil
}

// SetEmitter forwards committed events to an additional sink such as the
// journal or a metrics recorder. Failed operations never reach the sink.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

// SetAuthority overrides owner checks with an external control list. When nil
// the on-ledger ownership record decides.
func (l *Ledger) SetAuthority(authority staking.Authority) {
	l.authority = authority
}

// SetJournal persists committed events to an append-only journal. The stream
// cursor is fast-forwarded to the journal's last sequence so journal readers
// and stream subscribers share one numbering across restarts.
func (l *Ledger) SetJournal(journal *storage.Journal) {
	l.journal = journal
	if journal == nil {
		return
	}
	l.streamMu.Lock()
	if last := journal.LastSequence(); last > l.streamSeq {
		l.streamSeq = last
	}
	l.streamMu.Unlock()
}

// SetNowFunc overrides the clock used for accrual and lockup checks.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	l.nowFn = now
}

// eventBuffer queues engine events during an operation so they reach
// subscribers only after the overlay commits.
type eventBuffer struct {
	batch []events.Event
}

func (b *eventBuffer) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	b.batch = append(b.batch, evt)
}

func (l *Ledger) newStakingEngine(manager *state.Manager, buffer *eventBuffer) *staking.Engine {
	engine := staking.NewEngine()
	engine.SetState(manager)
	engine.SetToken(manager)
	engine.SetAuthority(l.authority)
	engine.SetCriticalSection(l.section)
	engine.SetEmitter(buffer)
	engine.SetNowFunc(l.nowFn)
	return engine
}

// execute runs fn against a fresh engine wired to an overlay of the backing
// database. The overlay commits only when fn succeeds; buffered events are
// published after the commit.
func (l *Ledger) execute(fn func(*staking.Engine) error) error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	overlay := storage.NewOverlay(l.db)
	buffer := &eventBuffer{}
	engine := l.newStakingEngine(state.NewManager(overlay), buffer)
	if err := fn(engine); err != nil {
		overlay.Discard()
		return err
	}
	if err := overlay.Commit(); err != nil {
		return err
	}
	l.publish(buffer.batch)
	return nil
}

func (l *Ledger) publish(batch []events.Event) {
	for _, evt := range batch {
		if evt == nil {
			continue
		}
		l.appendJournal(evt)
		l.publishUpdate(evt)
		l.emitter.Emit(evt)
	}
}

// appendJournal records a committed event in the journal. The operation has
// already committed, so append failures are logged rather than surfaced.
func (l *Ledger) appendJournal(evt events.Event) {
	if l.journal == nil {
		return
	}
	eventType := evt.EventType()
	var attributes map[string]string
	if payload, ok := evt.(eventWithPayload); ok {
		if event := payload.Event(); event != nil {
			eventType = event.Type
			attributes = event.Attributes
		}
	}
	if _, err := l.journal.Append(context.Background(), eventType, attributes, l.nowFn()); err != nil {
		slog.Warn("journal append failed", "type", eventType, "error", err.Error())
	}
}

func (l *Ledger) requireAdmin(manager *state.Manager, caller crypto.Address) error {
	if l.authority != nil {
		ok, err := l.authority.IsOwner(caller)
		if err != nil {
			return err
		}
		if !ok {
			return staking.ErrUnauthorized
		}
		return nil
	}
	ownership, err := manager.StakingOwnership()
	if err != nil {
		return err
	}
	if ownership == nil || ownership.Owner.IsZero() || !ownership.Owner.Equal(caller) {
		return staking.ErrUnauthorized
	}
	return nil
}

// InitGenesis seeds the staking module and pre-funds the genesis accounts.
// Re-running against an initialised ledger is a no-op: the module state is
// preserved and no balances are minted twice.
func (l *Ledger) InitGenesis(doc *staking.Genesis, accounts []GenesisAccount) error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	overlay := storage.NewOverlay(l.db)
	manager := state.NewManager(overlay)
	ownership, err := manager.StakingOwnership()
	if err != nil {
		overlay.Discard()
		return err
	}
	seeded := ownership != nil && !ownership.Owner.IsZero()

	buffer := &eventBuffer{}
	engine := l.newStakingEngine(manager, buffer)
	if err := engine.InitGenesis(doc); err != nil {
		overlay.Discard()
		return err
	}
	if !seeded {
		for _, account := range accounts {
			if account.Balance == nil || account.Balance.Sign() <= 0 {
				continue
			}
			if err := manager.Mint(staking.StakingAsset, account.Address, account.Balance); err != nil {
				overlay.Discard()
				return err
			}
		}
	}
	if err := overlay.Commit(); err != nil {
		return err
	}
	l.publish(buffer.batch)
	return nil
}

// Mint issues new units of the staking asset to an address. Only the module
// owner (or the configured authority) may mint. Returns the supply after the
// mint.
func (l *Ledger) Mint(caller, to crypto.Address, amount *big.Int) (*big.Int, error) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	overlay := storage.NewOverlay(l.db)
	manager := state.NewManager(overlay)
	if err := l.requireAdmin(manager, caller); err != nil {
		overlay.Discard()
		return nil, err
	}
	if err := manager.Mint(staking.StakingAsset, to, amount); err != nil {
		overlay.Discard()
		return nil, err
	}
	supply, err := manager.TokenSupply(staking.StakingAsset)
	if err != nil {
		overlay.Discard()
		return nil, err
	}
	if err := overlay.Commit(); err != nil {
		return nil, err
	}
	l.publish([]events.Event{staking.Minted{
		To:     to,
		Amount: new(big.Int).Set(amount),
		Supply: new(big.Int).Set(supply),
	}})
	return supply, nil
}

// Deposit stakes amount into a pool on behalf of caller.
func (l *Ledger) Deposit(caller crypto.Address, poolID uint8, amount *big.Int) (*staking.Position, error) {
	var position *staking.Position
	err := l.execute(func(engine *staking.Engine) error {
		var opErr error
		position, opErr = engine.Deposit(caller, poolID, amount)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return position, nil
}

// Withdraw unstakes amount after the lockup has elapsed. Returns the payout
// net of the withdrawal fee and the fee itself.
func (l *Ledger) Withdraw(caller crypto.Address, poolID uint8, amount *big.Int) (*big.Int, *big.Int, error) {
	var payout, fee *big.Int
	err := l.execute(func(engine *staking.Engine) error {
		var opErr error
		payout, fee, opErr = engine.Withdraw(caller, poolID, amount)
		return opErr
	})
	if err != nil {
		return nil, nil, err
	}
	return payout, fee, nil
}

// ClaimReward settles the caller's accrued rewards for a pool.
func (l *Ledger) ClaimReward(caller crypto.Address, poolID uint8) (*big.Int, error) {
	var paid *big.Int
	err := l.execute(func(engine *staking.Engine) error {
		var opErr error
		paid, opErr = engine.ClaimReward(caller, poolID)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// EmergencyWithdraw exits a position before the lockup elapses, paying the
// penalty and forfeiting unclaimed rewards.
func (l *Ledger) EmergencyWithdraw(caller crypto.Address, poolID uint8) (*big.Int, *big.Int, error) {
	var returned, penalty *big.Int
	err := l.execute(func(engine *staking.Engine) error {
		var opErr error
		returned, penalty, opErr = engine.EmergencyWithdraw(caller, poolID)
		return opErr
	})
	if err != nil {
		return nil, nil, err
	}
	return returned, penalty, nil
}

// InjectRewards funds the reward treasury from the caller's balance.
func (l *Ledger) InjectRewards(caller crypto.Address, amount *big.Int) (*staking.Treasury, error) {
	var treasury *staking.Treasury
	err := l.execute(func(engine *staking.Engine) error {
		var opErr error
		treasury, opErr = engine.InjectRewards(caller, amount)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return treasury, nil
}

// EjectRewards drains part of the reward treasury back to the owner.
func (l *Ledger) EjectRewards(caller crypto.Address, amount *big.Int) (*staking.Treasury, error) {
	var treasury *staking.Treasury
	err := l.execute(func(engine *staking.Engine) error {
		var opErr error
		treasury, opErr = engine.EjectRewards(caller, amount)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return treasury, nil
}

// SetApy retunes a pool's reward rate.
func (l *Ledger) SetApy(caller crypto.Address, poolID uint8, apyBps uint64) (*staking.Pool, error) {
	var pool *staking.Pool
	err := l.execute(func(engine *staking.Engine) error {
		var opErr error
		pool, opErr = engine.SetApy(caller, poolID, apyBps)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// SetRewardAllocation reassigns a pool's share of injected rewards.
func (l *Ledger) SetRewardAllocation(caller crypto.Address, poolID uint8, allocationBps uint64) (*staking.Pool, error) {
	var pool *staking.Pool
	err := l.execute(func(engine *staking.Engine) error {
		var opErr error
		pool, opErr = engine.SetRewardAllocation(caller, poolID, allocationBps)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// SetMaxCap adjusts a pool's aggregate stake ceiling.
func (l *Ledger) SetMaxCap(caller crypto.Address, poolID uint8, maxCap *big.Int) (*staking.Pool, error) {
	var pool *staking.Pool
	err := l.execute(func(engine *staking.Engine) error {
		var opErr error
		pool, opErr = engine.SetMaxCap(caller, poolID, maxCap)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// SetWalletCap adjusts a pool's per-wallet stake ceiling.
func (l *Ledger) SetWalletCap(caller crypto.Address, poolID uint8, walletCap *big.Int) (*staking.Pool, error) {
	var pool *staking.Pool
	err := l.execute(func(engine *staking.Engine) error {
		var opErr error
		pool, opErr = engine.SetWalletCap(caller, poolID, walletCap)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// SetFees adjusts the deposit and withdrawal fee rates.
func (l *Ledger) SetFees(caller crypto.Address, depositFeeBps, withdrawFeeBps uint64) (*staking.Params, error) {
	var params *staking.Params
	err := l.execute(func(engine *staking.Engine) error {
		var opErr error
		params, opErr = engine.SetFees(caller, depositFeeBps, withdrawFeeBps)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return params, nil
}

// SetPenalty adjusts the emergency withdrawal penalty rate.
func (l *Ledger) SetPenalty(caller crypto.Address, penaltyBps uint64) (*staking.Params, error) {
	var params *staking.Params
	err := l.execute(func(engine *staking.Engine) error {
		var opErr error
		params, opErr = engine.SetPenalty(caller, penaltyBps)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return params, nil
}

// SetFeeCollector redirects future fees and penalties to a new address.
func (l *Ledger) SetFeeCollector(caller crypto.Address, collector crypto.Address) (*staking.Params, error) {
	var params *staking.Params
	err := l.execute(func(engine *staking.Engine) error {
		var opErr error
		params, opErr = engine.SetFeeCollector(caller, collector)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return params, nil
}

// Pause halts user-facing staking operations.
func (l *Ledger) Pause(caller crypto.Address) error {
	return l.execute(func(engine *staking.Engine) error {
		return engine.Pause(caller)
	})
}

// Resume lifts a pause.
func (l *Ledger) Resume(caller crypto.Address) error {
	return l.execute(func(engine *staking.Engine) error {
		return engine.Resume(caller)
	})
}

// Rescue sweeps a foreign asset out of the module vault.
func (l *Ledger) Rescue(caller crypto.Address, symbol string, to crypto.Address, amount *big.Int) error {
	return l.execute(func(engine *staking.Engine) error {
		return engine.Rescue(caller, symbol, to, amount)
	})
}

// ProposeOwner nominates a successor for the module owner.
func (l *Ledger) ProposeOwner(caller crypto.Address, proposed crypto.Address) error {
	return l.execute(func(engine *staking.Engine) error {
		return engine.ProposeOwner(caller, proposed)
	})
}

// AcceptOwnership completes a pending ownership handoff.
func (l *Ledger) AcceptOwnership(caller crypto.Address) error {
	return l.execute(func(engine *staking.Engine) error {
		return engine.AcceptOwnership(caller)
	})
}

// GetPool returns the pool configuration and aggregates.
func (l *Ledger) GetPool(poolID uint8) (*staking.Pool, error) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	engine := l.newStakingEngine(state.NewManager(l.db), &eventBuffer{})
	return engine.GetPool(poolID)
}

// ListPools returns every pool in index order.
func (l *Ledger) ListPools() ([]*staking.Pool, error) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	engine := l.newStakingEngine(state.NewManager(l.db), &eventBuffer{})
	return engine.ListPools()
}

// GetPosition returns the caller's stake in a pool, zero-valued when the
// address never deposited.
func (l *Ledger) GetPosition(poolID uint8, addr crypto.Address) (*staking.Position, error) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	engine := l.newStakingEngine(state.NewManager(l.db), &eventBuffer{})
	return engine.GetPosition(poolID, addr)
}

// PendingRewards evaluates the accrual formula without mutating state.
func (l *Ledger) PendingRewards(poolID uint8, addr crypto.Address) (*big.Int, error) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	engine := l.newStakingEngine(state.NewManager(l.db), &eventBuffer{})
	return engine.PendingRewards(poolID, addr)
}

// GetTreasury returns the reward budget and its per-pool buckets.
func (l *Ledger) GetTreasury() (*staking.Treasury, error) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	engine := l.newStakingEngine(state.NewManager(l.db), &eventBuffer{})
	return engine.GetTreasury()
}

// GetParams returns the module's runtime parameters.
func (l *Ledger) GetParams() (*staking.Params, error) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	engine := l.newStakingEngine(state.NewManager(l.db), &eventBuffer{})
	return engine.GetParams()
}

// Owner reports the current and pending module owner.
func (l *Ledger) Owner() (*staking.Ownership, error) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	engine := l.newStakingEngine(state.NewManager(l.db), &eventBuffer{})
	return engine.GetOwnership()
}

// BalanceOf reports an address's balance in the given asset.
func (l *Ledger) BalanceOf(symbol string, addr crypto.Address) (*big.Int, error) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	return state.NewManager(l.db).BalanceOf(symbol, addr)
}

// TokenSupply reports the total minted supply of an asset.
func (l *Ledger) TokenSupply(symbol string) (*big.Int, error) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	return state.NewManager(l.db).TokenSupply(symbol)
}

// VaultAddress returns the module account custodying staked principal.
func (l *Ledger) VaultAddress() crypto.Address {
	return staking.ModuleAddress()
}

// WithState runs fn against a view of the current state. Writes made through
// the manager land directly in the backing database, so callers performing
// mutations are expected to be test fixtures or migrations.
func (l *Ledger) WithState(fn func(*state.Manager) error) error {
	if fn == nil {
		return nil
	}
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	return fn(state.NewManager(l.db))
}
