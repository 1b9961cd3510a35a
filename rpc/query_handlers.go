package rpc

import (
	"net/http"
	"strings"

	"stakevault/crypto"
	"stakevault/native/staking"
	"stakevault/storage"
)

type positionQueryParams struct {
	Address string `json:"address"`
	Pool    uint8  `json:"pool"`
}

type balanceQueryParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset,omitempty"`
}

type eventsQueryParams struct {
	After uint64 `json:"after,omitempty"`
	Limit int    `json:"limit,omitempty"`
	Type  string `json:"type,omitempty"`
}

type pendingRewardsResult struct {
	Pool    uint8  `json:"pool"`
	Address string `json:"address"`
	Pending string `json:"pending"`
}

type eventsResult struct {
	Entries        []storage.JournalEntry `json:"entries"`
	NewestSequence uint64                 `json:"newestSequence"`
	Counts         map[string]uint64      `json:"counts"`
}

func (s *Server) handleGetPool(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var poolID uint8
	if !decodeSingleParam(w, req, &poolID) {
		return
	}
	pool, err := s.ledger.GetPool(poolID)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolResultFrom(pool))
}

func (s *Server) handleListPools(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	pools, err := s.ledger.ListPools()
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	results := make([]PoolResult, len(pools))
	for i, pool := range pools {
		results[i] = poolResultFrom(pool)
	}
	writeResult(w, req.ID, results)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params positionQueryParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := crypto.DecodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	position, err := s.ledger.GetPosition(params.Pool, addr)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, positionResultFrom(params.Pool, params.Address, position))
}

func (s *Server) handlePendingRewards(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params positionQueryParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := crypto.DecodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	pending, err := s.ledger.PendingRewards(params.Pool, addr)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, pendingRewardsResult{
		Pool:    params.Pool,
		Address: params.Address,
		Pending: bigString(pending),
	})
}

func (s *Server) handleTreasury(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	treasury, err := s.ledger.GetTreasury()
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, treasuryResultFrom(treasury))
}

func (s *Server) handleParams(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	params, err := s.ledger.GetParams()
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paramsResultFrom(params))
}

func (s *Server) handleOwner(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	ownership, err := s.ledger.Owner()
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ownerResultFrom(ownership))
}

func (s *Server) handleBalanceOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params balanceQueryParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := crypto.DecodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	asset := strings.TrimSpace(params.Asset)
	if asset == "" {
		asset = staking.StakingAsset
	}
	amount, err := s.ledger.BalanceOf(asset, addr)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceResult{
		Address: params.Address,
		Asset:   strings.ToUpper(asset),
		Amount:  bigString(amount),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "event journal disabled", nil)
		return
	}
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "too many parameters", nil)
		return
	}
	var params eventsQueryParams
	if len(req.Params) == 1 {
		if !decodeSingleParam(w, req, &params) {
			return
		}
	}

	ctx := r.Context()
	var entries []storage.JournalEntry
	var err error
	if eventType := strings.TrimSpace(params.Type); eventType != "" {
		entries, err = s.journal.EntriesByType(ctx, eventType, params.After, params.Limit)
	} else {
		entries, err = s.journal.Entries(ctx, params.After, params.Limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to query events", err.Error())
		return
	}
	counts, err := s.journal.CountByType(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to count events", err.Error())
		return
	}
	if entries == nil {
		entries = []storage.JournalEntry{}
	}
	writeResult(w, req.ID, eventsResult{
		Entries:        entries,
		NewestSequence: s.journal.LastSequence(),
		Counts:         counts,
	})
}
