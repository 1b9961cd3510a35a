package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"stakevault/native/staking"
)

// PoolResult is the wire form of one staking pool. Amounts are base-10
// strings so arbitrary-precision values survive JSON round trips.
type PoolResult struct {
	ID                  uint8  `json:"id"`
	MaxCap              string `json:"maxCap"`
	WalletCap           string `json:"walletCap"`
	LockedPeriod        uint64 `json:"lockedPeriod"`
	APYBps              uint64 `json:"apyBps"`
	RewardAllocationBps uint64 `json:"rewardAllocationBps"`
	TotalStaked         string `json:"totalStaked"`
}

// PositionResult reflects one wallet's stake inside one pool.
type PositionResult struct {
	Pool            uint8  `json:"pool"`
	Address         string `json:"address"`
	StakedAmount    string `json:"stakedAmount"`
	LastDepositTime int64  `json:"lastDepositTime"`
	LastRewardClaim int64  `json:"lastRewardClaim"`
	RewardClaimed   string `json:"rewardClaimed"`
}

// TreasuryResult reports the reward budget and its per-pool earmarks.
type TreasuryResult struct {
	TotalRewards string   `json:"totalRewards"`
	PoolRewards  []string `json:"poolRewards"`
}

// ParamsResult mirrors the module-wide fee and pause configuration.
type ParamsResult struct {
	DepositFeeBps  uint64 `json:"depositFeeBps"`
	WithdrawFeeBps uint64 `json:"withdrawFeeBps"`
	PenaltyBps     uint64 `json:"penaltyBps"`
	FeeCollector   string `json:"feeCollector"`
	Paused         bool   `json:"paused"`
}

// OwnerResult reports the admin address and any pending handoff.
type OwnerResult struct {
	Owner   string `json:"owner"`
	Pending string `json:"pending,omitempty"`
}

// BalanceResult is the response to a balance query.
type BalanceResult struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

func poolResultFrom(pool *staking.Pool) PoolResult {
	return PoolResult{
		ID:                  pool.ID,
		MaxCap:              bigString(pool.MaxCap),
		WalletCap:           bigString(pool.WalletCap),
		LockedPeriod:        pool.LockedPeriod,
		APYBps:              pool.APYBps,
		RewardAllocationBps: pool.RewardAllocationBps,
		TotalStaked:         bigString(pool.TotalStaked),
	}
}

func positionResultFrom(poolID uint8, addr string, position *staking.Position) PositionResult {
	return PositionResult{
		Pool:            poolID,
		Address:         addr,
		StakedAmount:    bigString(position.StakedAmount),
		LastDepositTime: position.LastDepositTime,
		LastRewardClaim: position.LastRewardClaim,
		RewardClaimed:   bigString(position.RewardClaimed),
	}
}

func treasuryResultFrom(treasury *staking.Treasury) TreasuryResult {
	result := TreasuryResult{
		TotalRewards: bigString(treasury.TotalRewards),
		PoolRewards:  make([]string, len(treasury.PoolRewards)),
	}
	for i := range treasury.PoolRewards {
		result.PoolRewards[i] = bigString(treasury.PoolRewards[i])
	}
	return result
}

func paramsResultFrom(params *staking.Params) ParamsResult {
	collector := ""
	if !params.FeeCollector.IsZero() {
		collector = params.FeeCollector.String()
	}
	return ParamsResult{
		DepositFeeBps:  params.DepositFeeBps,
		WithdrawFeeBps: params.WithdrawFeeBps,
		PenaltyBps:     params.PenaltyBps,
		FeeCollector:   collector,
		Paused:         params.Paused,
	}
}

func ownerResultFrom(ownership *staking.Ownership) OwnerResult {
	result := OwnerResult{}
	if ownership == nil {
		return result
	}
	if !ownership.Owner.IsZero() {
		result.Owner = ownership.Owner.String()
	}
	if !ownership.Pending.IsZero() {
		result.Pending = ownership.Pending.String()
	}
	return result
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseAmount parses a base-10 token amount. Sign and zero checks are left to
// the ledger so its exact rejection messages reach the caller.
func parseAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	return value, nil
}

// decodeSingleParam enforces the one-parameter-object convention shared by
// every method that takes arguments.
func decodeSingleParam(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}
