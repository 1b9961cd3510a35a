package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"stakevault/crypto"
	"stakevault/native/staking"
	"stakevault/storage"
)

// ErrInsufficientBalance is returned when a transfer would overdraw the
// sender's balance.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

var (
	errInvalidAmount  = errors.New("state: amount must be positive")
	errAmountOverflow = errors.New("state: amount exceeds 256 bits")
)

// Manager reads and writes the ledger's persistent records over a raw
// key-value store. Every logical key is hashed with keccak256 before it
// touches the store so record namespaces cannot collide.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided store.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	poolPrefix     = []byte("staking/pool/")
	positionPrefix = []byte("staking/position/")
	balancePrefix  = []byte("balance:")
	supplyPrefix   = []byte("supply:")

	treasuryStorageKey  = ethcrypto.Keccak256([]byte("staking/treasury"))
	paramsStorageKey    = ethcrypto.Keccak256([]byte("staking/params"))
	ownershipStorageKey = ethcrypto.Keccak256([]byte("staking/ownership"))
)

func poolStorageKey(id uint8) []byte {
	buf := make([]byte, len(poolPrefix)+1)
	copy(buf, poolPrefix)
	buf[len(poolPrefix)] = id
	return ethcrypto.Keccak256(buf)
}

func positionStorageKey(id uint8, addr crypto.Address) []byte {
	raw := addr.Bytes()
	buf := make([]byte, len(positionPrefix)+1+len(raw))
	copy(buf, positionPrefix)
	buf[len(positionPrefix)] = id
	copy(buf[len(positionPrefix)+1:], raw)
	return ethcrypto.Keccak256(buf)
}

func balanceStorageKey(symbol string, addr crypto.Address) []byte {
	raw := addr.Bytes()
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(raw))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], raw)
	return ethcrypto.Keccak256(buf)
}

func supplyStorageKey(symbol string) []byte {
	buf := make([]byte, len(supplyPrefix)+len(symbol))
	copy(buf, supplyPrefix)
	copy(buf[len(supplyPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) readRecord(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) writeRecord(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

func addressBytes(addr crypto.Address) [20]byte {
	var out [20]byte
	copy(out[:], addr.Bytes())
	return out
}

func bytesAddress(raw [20]byte) crypto.Address {
	return crypto.MustNewAddress(raw[:])
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// --- pools ---

type storedPool struct {
	ID                  uint8
	MaxCap              *big.Int
	WalletCap           *big.Int
	LockedPeriod        uint64
	APYBps              uint64
	RewardAllocationBps uint64
	TotalStaked         *big.Int
}

func newStoredPool(p *staking.Pool) *storedPool {
	return &storedPool{
		ID:                  p.ID,
		MaxCap:              copyBigInt(p.MaxCap),
		WalletCap:           copyBigInt(p.WalletCap),
		LockedPeriod:        p.LockedPeriod,
		APYBps:              p.APYBps,
		RewardAllocationBps: p.RewardAllocationBps,
		TotalStaked:         copyBigInt(p.TotalStaked),
	}
}

func (s *storedPool) toPool() *staking.Pool {
	return &staking.Pool{
		ID:                  s.ID,
		MaxCap:              copyBigInt(s.MaxCap),
		WalletCap:           copyBigInt(s.WalletCap),
		LockedPeriod:        s.LockedPeriod,
		APYBps:              s.APYBps,
		RewardAllocationBps: s.RewardAllocationBps,
		TotalStaked:         copyBigInt(s.TotalStaked),
	}
}

// StakingPool loads one pool record. The boolean reports whether the pool has
// been configured.
func (m *Manager) StakingPool(id uint8) (*staking.Pool, bool, error) {
	stored := new(storedPool)
	ok, err := m.readRecord(poolStorageKey(id), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toPool(), true, nil
}

// PutStakingPool persists one pool record keyed by its index.
func (m *Manager) PutStakingPool(pool *staking.Pool) error {
	if pool == nil {
		return fmt.Errorf("state: nil pool")
	}
	return m.writeRecord(poolStorageKey(pool.ID), newStoredPool(pool))
}

// --- positions ---

type storedPosition struct {
	StakedAmount    *big.Int
	LastDepositTime *big.Int
	LastRewardClaim *big.Int
	RewardClaimed   *big.Int
}

func newStoredPosition(p *staking.Position) *storedPosition {
	return &storedPosition{
		StakedAmount:    copyBigInt(p.StakedAmount),
		LastDepositTime: big.NewInt(p.LastDepositTime),
		LastRewardClaim: big.NewInt(p.LastRewardClaim),
		RewardClaimed:   copyBigInt(p.RewardClaimed),
	}
}

func (s *storedPosition) toPosition() *staking.Position {
	out := &staking.Position{
		StakedAmount:  copyBigInt(s.StakedAmount),
		RewardClaimed: copyBigInt(s.RewardClaimed),
	}
	if s.LastDepositTime != nil {
		out.LastDepositTime = s.LastDepositTime.Int64()
	}
	if s.LastRewardClaim != nil {
		out.LastRewardClaim = s.LastRewardClaim.Int64()
	}
	return out
}

// StakingPosition loads the (pool, user) record, or nil when the user has
// never touched the pool.
func (m *Manager) StakingPosition(id uint8, addr crypto.Address) (*staking.Position, error) {
	stored := new(storedPosition)
	ok, err := m.readRecord(positionStorageKey(id, addr), stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.toPosition(), nil
}

// PutStakingPosition persists the (pool, user) record. Records are never
// deleted; a closed position keeps its claim history at zero principal.
func (m *Manager) PutStakingPosition(id uint8, addr crypto.Address, pos *staking.Position) error {
	if pos == nil {
		return fmt.Errorf("state: nil position")
	}
	return m.writeRecord(positionStorageKey(id, addr), newStoredPosition(pos))
}

// --- treasury ---

type storedTreasury struct {
	TotalRewards *big.Int
	PoolRewards  []*big.Int
}

// StakingTreasury loads the reward budget, defaulting to an empty treasury
// before the first injection.
func (m *Manager) StakingTreasury() (*staking.Treasury, error) {
	stored := new(storedTreasury)
	ok, err := m.readRecord(treasuryStorageKey, stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return staking.NewTreasury(), nil
	}
	out := staking.NewTreasury()
	out.TotalRewards = copyBigInt(stored.TotalRewards)
	for i := 0; i < staking.PoolCount && i < len(stored.PoolRewards); i++ {
		out.PoolRewards[i] = copyBigInt(stored.PoolRewards[i])
	}
	return out, nil
}

// PutStakingTreasury persists the reward budget.
func (m *Manager) PutStakingTreasury(t *staking.Treasury) error {
	if t == nil {
		return fmt.Errorf("state: nil treasury")
	}
	stored := &storedTreasury{
		TotalRewards: copyBigInt(t.TotalRewards),
		PoolRewards:  make([]*big.Int, staking.PoolCount),
	}
	for i := range t.PoolRewards {
		stored.PoolRewards[i] = copyBigInt(t.PoolRewards[i])
	}
	return m.writeRecord(treasuryStorageKey, stored)
}

// --- params ---

type storedParams struct {
	DepositFeeBps  uint64
	WithdrawFeeBps uint64
	PenaltyBps     uint64
	FeeCollector   [20]byte
	Paused         bool
}

// StakingParams loads the runtime parameter record, or nil before genesis.
func (m *Manager) StakingParams() (*staking.Params, error) {
	stored := new(storedParams)
	ok, err := m.readRecord(paramsStorageKey, stored)
	if err != nil || !ok {
		return nil, err
	}
	return &staking.Params{
		DepositFeeBps:  stored.DepositFeeBps,
		WithdrawFeeBps: stored.WithdrawFeeBps,
		PenaltyBps:     stored.PenaltyBps,
		FeeCollector:   bytesAddress(stored.FeeCollector),
		Paused:         stored.Paused,
	}, nil
}

// PutStakingParams persists the runtime parameter record.
func (m *Manager) PutStakingParams(p *staking.Params) error {
	if p == nil {
		return fmt.Errorf("state: nil params")
	}
	return m.writeRecord(paramsStorageKey, &storedParams{
		DepositFeeBps:  p.DepositFeeBps,
		WithdrawFeeBps: p.WithdrawFeeBps,
		PenaltyBps:     p.PenaltyBps,
		FeeCollector:   addressBytes(p.FeeCollector),
		Paused:         p.Paused,
	})
}

// --- ownership ---

type storedOwnership struct {
	Owner   [20]byte
	Pending [20]byte
}

// StakingOwnership loads the administrator record, or nil before genesis.
func (m *Manager) StakingOwnership() (*staking.Ownership, error) {
	stored := new(storedOwnership)
	ok, err := m.readRecord(ownershipStorageKey, stored)
	if err != nil || !ok {
		return nil, err
	}
	return &staking.Ownership{
		Owner:   bytesAddress(stored.Owner),
		Pending: bytesAddress(stored.Pending),
	}, nil
}

// PutStakingOwnership persists the administrator record.
func (m *Manager) PutStakingOwnership(o *staking.Ownership) error {
	if o == nil {
		return fmt.Errorf("state: nil ownership")
	}
	return m.writeRecord(ownershipStorageKey, &storedOwnership{
		Owner:   addressBytes(o.Owner),
		Pending: addressBytes(o.Pending),
	})
}

// --- balances ---

// storedBalance keeps account balances as 256-bit unsigned words so a
// negative value cannot be represented at rest.
type storedBalance struct {
	Amount *uint256.Int
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, errAmountOverflow
	}
	return value, nil
}

func (m *Manager) loadBalance(symbol string, addr crypto.Address) (*uint256.Int, error) {
	stored := new(storedBalance)
	ok, err := m.readRecord(balanceStorageKey(symbol, addr), stored)
	if err != nil {
		return nil, err
	}
	if !ok || stored.Amount == nil {
		return uint256.NewInt(0), nil
	}
	return stored.Amount.Clone(), nil
}

func (m *Manager) writeBalance(symbol string, addr crypto.Address, amount *uint256.Int) error {
	return m.writeRecord(balanceStorageKey(symbol, addr), &storedBalance{Amount: amount})
}

// BalanceOf returns the asset balance for the account, zero when the account
// has never held the asset.
func (m *Manager) BalanceOf(symbol string, addr crypto.Address) (*big.Int, error) {
	normalized, err := staking.NormalizeAsset(symbol)
	if err != nil {
		return nil, err
	}
	balance, err := m.loadBalance(normalized, addr)
	if err != nil {
		return nil, err
	}
	return balance.ToBig(), nil
}

// Transfer moves amount between two accounts. The sender must cover the full
// amount; on failure after the debit landed the sender is restored.
func (m *Manager) Transfer(symbol string, from, to crypto.Address, amount *big.Int) error {
	normalized, err := staking.NormalizeAsset(symbol)
	if err != nil {
		return err
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	fromBalance, err := m.loadBalance(normalized, from)
	if err != nil {
		return err
	}
	if fromBalance.Lt(value) {
		return ErrInsufficientBalance
	}
	if from.Equal(to) {
		return nil
	}
	toBalance, err := m.loadBalance(normalized, to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBalance, value)
	if overflow {
		return errAmountOverflow
	}
	if err := m.writeBalance(normalized, from, new(uint256.Int).Sub(fromBalance, value)); err != nil {
		return err
	}
	if err := m.writeBalance(normalized, to, credited); err != nil {
		if restoreErr := m.writeBalance(normalized, from, fromBalance); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("state: rollback sender balance: %w", restoreErr))
		}
		return err
	}
	return nil
}

// Mint credits freshly issued units to the account and grows the recorded
// total supply by the same amount.
func (m *Manager) Mint(symbol string, addr crypto.Address, amount *big.Int) error {
	normalized, err := staking.NormalizeAsset(symbol)
	if err != nil {
		return err
	}
	if addr.IsZero() {
		return fmt.Errorf("state: mint to zero address")
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	balance, err := m.loadBalance(normalized, addr)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(balance, value)
	if overflow {
		return errAmountOverflow
	}
	supply, err := m.loadSupply(normalized)
	if err != nil {
		return err
	}
	grown, overflow := new(uint256.Int).AddOverflow(supply, value)
	if overflow {
		return errAmountOverflow
	}
	if err := m.writeBalance(normalized, addr, credited); err != nil {
		return err
	}
	if err := m.writeRecord(supplyStorageKey(normalized), &storedBalance{Amount: grown}); err != nil {
		if restoreErr := m.writeBalance(normalized, addr, balance); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("state: rollback minted balance: %w", restoreErr))
		}
		return err
	}
	return nil
}

func (m *Manager) loadSupply(symbol string) (*uint256.Int, error) {
	stored := new(storedBalance)
	ok, err := m.readRecord(supplyStorageKey(symbol), stored)
	if err != nil {
		return nil, err
	}
	if !ok || stored.Amount == nil {
		return uint256.NewInt(0), nil
	}
	return stored.Amount.Clone(), nil
}

// TokenSupply returns the recorded total supply for the asset. Missing
// entries default to zero.
func (m *Manager) TokenSupply(symbol string) (*big.Int, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	normalized, err := staking.NormalizeAsset(symbol)
	if err != nil {
		return nil, err
	}
	supply, err := m.loadSupply(normalized)
	if err != nil {
		return nil, err
	}
	return supply.ToBig(), nil
}
