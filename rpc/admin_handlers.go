package rpc

import (
	"net/http"
	"strings"

	"stakevault/crypto"
)

type adminCallerParams struct {
	Caller string `json:"caller"`
}

type adminAmountParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type adminMintParams struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type adminSetApyParams struct {
	Caller string `json:"caller"`
	Pool   uint8  `json:"pool"`
	APYBps uint64 `json:"apyBps"`
}

type adminSetAllocationParams struct {
	Caller        string `json:"caller"`
	Pool          uint8  `json:"pool"`
	AllocationBps uint64 `json:"allocationBps"`
}

type adminSetMaxCapParams struct {
	Caller string `json:"caller"`
	Pool   uint8  `json:"pool"`
	MaxCap string `json:"maxCap"`
}

type adminSetWalletCapParams struct {
	Caller    string `json:"caller"`
	Pool      uint8  `json:"pool"`
	WalletCap string `json:"walletCap"`
}

type adminSetFeesParams struct {
	Caller         string `json:"caller"`
	DepositFeeBps  uint64 `json:"depositFeeBps"`
	WithdrawFeeBps uint64 `json:"withdrawFeeBps"`
}

type adminSetPenaltyParams struct {
	Caller     string `json:"caller"`
	PenaltyBps uint64 `json:"penaltyBps"`
}

type adminSetFeeCollectorParams struct {
	Caller    string `json:"caller"`
	Collector string `json:"collector"`
}

type adminRescueParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type adminProposeOwnerParams struct {
	Caller   string `json:"caller"`
	Proposed string `json:"proposed"`
}

type adminExportJournalParams struct {
	Path string `json:"path"`
}

type adminMintResult struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
	Supply string `json:"supply"`
}

type adminPauseResult struct {
	Paused bool `json:"paused"`
}

type adminRescueResult struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type adminExportJournalResult struct {
	Path    string `json:"path"`
	Entries uint64 `json:"entries"`
}

// adminGate rejects the request unless it carries a valid admin JWT. The
// ledger still checks the caller address against the recorded owner, so a
// stolen token alone cannot act for the owner.
func (s *Server) adminGate(w http.ResponseWriter, r *http.Request, req *RPCRequest) bool {
	if authErr := s.requireAdmin(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return false
	}
	return true
}

func (s *Server) handleAdminMint(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.adminGate(w, r, req) {
		return
	}
	var params adminMintParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	to, err := crypto.DecodeAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid recipient address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	supply, err := s.ledger.Mint(caller, to, amount)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, adminMintResult{
		To:     params.To,
		Amount: amount.String(),
		Supply: bigString(supply),
	})
}

func (s *Server) handleAdminInjectRewards(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.adminGate(w, r, req) {
		return
	}
	var params adminAmountParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	treasury, err := s.ledger.InjectRewards(caller, amount)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, treasuryResultFrom(treasury))
}

func (s *Server) handleAdminEjectRewards(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.adminGate(w, r, req) {
		return
	}
	var params adminAmountParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	treasury, err := s.ledger.EjectRewards(caller, amount)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, treasuryResultFrom(treasury))
}

func (s *Server) handleAdminSetApy(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.adminGate(w, r, req) {
		return
	}
	var params adminSetApyParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	pool, err := s.ledger.SetApy(caller, params.Pool, params.APYBps)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolResultFrom(pool))
}

func (s *Server) handleAdminSetRewardAllocation(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.adminGate(w, r, req) {
		return
	}
	var params adminSetAllocationParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	pool, err := s.ledger.SetRewardAllocation(caller, params.Pool, params.AllocationBps)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolResultFrom(pool))
}

func (s *Server) handleAdminSetMaxCap(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.adminGate(w, r, req) {
		return
	}
	var params adminSetMaxCapParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	maxCap, err := parseAmount(params.MaxCap)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	pool, err := s.ledger.SetMaxCap(caller, params.Pool, maxCap)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolResultFrom(pool))
}

func (s *Server) handleAdminSetWalletCap(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.adminGate(w, r, req) {
		return
	}
	var params adminSetWalletCapParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	walletCap, err := parseAmount(params.WalletCap)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	pool, err := s.ledger.SetWalletCap(caller, params.Pool, walletCap)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolResultFrom(pool))
}

func (s *Server) handleAdminSetFees(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.adminGate(w, r, req) {
		return
	}
	var params adminSetFeesParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	updated, err := s.ledger.SetFees(caller, params.DepositFeeBps, params.WithdrawFeeBps)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paramsResultFrom(updated))
}

func (s *Server) handleAdminSetPenalty(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.adminGate(w, r, req) {
		return
	}
	var params adminSetPenaltyParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	updated, err := s.ledger.SetPenalty(caller, params.PenaltyBps)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paramsResultFrom(updated))
}

func (s *Server) handleAdminSetFeeCollector(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.adminGate(w, r, req) {
		return
	}
	var params adminSetFeeCollectorParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	collector, err := crypto.DecodeAddress(params.Collector)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid collector address", err.Error())
		return
	}
	updated, err := s.ledger.SetFeeCollector(caller, collector)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paramsResultFrom(updated))
}

func (s *Server) handleAdminPause(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.adminGate(w, r, req) {
		return
	}
	var params adminCallerParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.ledger.Pause(caller); err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, adminPauseResult{Paused: true})
}

func (s *Server) handleAdminResume(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.adminGate(w, r, req) {
		return
	}
	var params adminCallerParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.ledger.Resume(caller); err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, adminPauseResult{Paused: false})
}

func (s *Server) handleAdminRescue(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.adminGate(w, r, req) {
		return
	}
	var params adminRescueParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	to, err := crypto.DecodeAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid recipient address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.ledger.Rescue(caller, params.Asset, to, amount); err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, adminRescueResult{
		Asset:  strings.ToUpper(strings.TrimSpace(params.Asset)),
		To:     params.To,
		Amount: amount.String(),
	})
}

func (s *Server) handleAdminProposeOwner(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.adminGate(w, r, req) {
		return
	}
	var params adminProposeOwnerParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	proposed, err := crypto.DecodeAddress(params.Proposed)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid proposed address", err.Error())
		return
	}
	if err := s.ledger.ProposeOwner(caller, proposed); err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	ownership, err := s.ledger.Owner()
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ownerResultFrom(ownership))
}

func (s *Server) handleAdminAcceptOwnership(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.adminGate(w, r, req) {
		return
	}
	var params adminCallerParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := crypto.DecodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.ledger.AcceptOwnership(caller); err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	ownership, err := s.ledger.Owner()
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ownerResultFrom(ownership))
}

func (s *Server) handleAdminExportJournal(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.adminGate(w, r, req) {
		return
	}
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "event journal disabled", nil)
		return
	}
	var params adminExportJournalParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	path := strings.TrimSpace(params.Path)
	if path == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "path is required", nil)
		return
	}
	if err := s.journal.ExportParquet(r.Context(), path); err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "journal export failed", err.Error())
		return
	}
	writeResult(w, req.ID, adminExportJournalResult{
		Path:    path,
		Entries: s.journal.LastSequence(),
	})
}
