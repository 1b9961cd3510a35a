package rpc

import (
	"net/http"

	"stakevault/crypto"
)

type stakeAmountParams struct {
	Caller string `json:"caller"`
	Pool   uint8  `json:"pool"`
	Amount string `json:"amount"`
}

type stakePoolParams struct {
	Caller string `json:"caller"`
	Pool   uint8  `json:"pool"`
}

type stakeWithdrawResult struct {
	Pool   uint8  `json:"pool"`
	Amount string `json:"amount"`
	Fee    string `json:"fee"`
	Payout string `json:"payout"`
}

type stakeClaimResult struct {
	Pool   uint8  `json:"pool"`
	Reward string `json:"reward"`
}

type stakeEmergencyResult struct {
	Pool     uint8  `json:"pool"`
	Returned string `json:"returned"`
	Penalty  string `json:"penalty"`
}

func (s *Server) handleStakeDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	if !s.guardStaking(w, r, req) {
		return
	}
	s.withIdempotency(w, r, req, func(w http.ResponseWriter) {
		var params stakeAmountParams
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
		position, err := s.ledger.Deposit(caller, params.Pool, amount)
		if err != nil {
			s.writeLedgerError(w, req.ID, err)
			return
		}
		writeResult(w, req.ID, positionResultFrom(params.Pool, params.Caller, position))
	})
}

func (s *Server) handleStakeWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	if !s.guardStaking(w, r, req) {
		return
	}
	s.withIdempotency(w, r, req, func(w http.ResponseWriter) {
		var params stakeAmountParams
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
		payout, fee, err := s.ledger.Withdraw(caller, params.Pool, amount)
		if err != nil {
			s.writeLedgerError(w, req.ID, err)
			return
		}
		writeResult(w, req.ID, stakeWithdrawResult{
			Pool:   params.Pool,
			Amount: amount.String(),
			Fee:    bigString(fee),
			Payout: bigString(payout),
		})
	})
}

func (s *Server) handleStakeClaimReward(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	if !s.guardStaking(w, r, req) {
		return
	}
	s.withIdempotency(w, r, req, func(w http.ResponseWriter) {
		var params stakePoolParams
		if !decodeSingleParam(w, req, &params) {
			return
		}
		caller, err := crypto.DecodeAddress(params.Caller)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
			return
		}
		reward, err := s.ledger.ClaimReward(caller, params.Pool)
		if err != nil {
			s.writeLedgerError(w, req.ID, err)
			return
		}
		writeResult(w, req.ID, stakeClaimResult{Pool: params.Pool, Reward: bigString(reward)})
	})
}

func (s *Server) handleStakeEmergencyWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	if !s.guardStaking(w, r, req) {
		return
	}
	s.withIdempotency(w, r, req, func(w http.ResponseWriter) {
		var params stakePoolParams
		if !decodeSingleParam(w, req, &params) {
			return
		}
		caller, err := crypto.DecodeAddress(params.Caller)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
			return
		}
		returned, penalty, err := s.ledger.EmergencyWithdraw(caller, params.Pool)
		if err != nil {
			s.writeLedgerError(w, req.ID, err)
			return
		}
		writeResult(w, req.ID, stakeEmergencyResult{
			Pool:     params.Pool,
			Returned: bigString(returned),
			Penalty:  bigString(penalty),
		})
	})
}
