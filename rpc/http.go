package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stakevault/core"
	"stakevault/core/state"
	"stakevault/native/common"
	"stakevault/native/staking"
	"stakevault/observability"
	"stakevault/storage"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
	codeLedgerRejected = -32050
)

// envAuthToken names the environment variable consulted for the bearer token
// when ServerConfig leaves AuthToken empty.
const envAuthToken = "STAKEVAULT_RPC_TOKEN"

// ServerConfig carries the transport policy for a Server. Zero values fall
// back to environment lookups (auth token) or disable the feature (rate
// limiting, idempotency, admin JWT).
type ServerConfig struct {
	AuthToken   string
	Admin       JWTConfig
	RateLimit   RateLimit
	Idempotency *IdempotencyStore
	Logger      *slog.Logger
}

// Server exposes the staking ledger over JSON-RPC 2.0. User operations are
// guarded by a shared bearer token, admin operations by an HS256 JWT scope,
// and queries are open.
type Server struct {
	ledger  *core.Ledger
	journal *storage.Journal

	authToken   string
	admin       *adminVerifier
	limiter     *sourceLimiter
	idempotency *IdempotencyStore
	logger      *slog.Logger
}

// NewServer wires a Server over the ledger. The journal may be nil, in which
// case event queries report the journal as disabled.
func NewServer(ledger *core.Ledger, journal *storage.Journal, cfg ServerConfig) (*Server, error) {
	if ledger == nil {
		return nil, errors.New("rpc: server requires a ledger")
	}
	token := strings.TrimSpace(cfg.AuthToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(envAuthToken))
	}
	admin, err := newAdminVerifier(cfg.Admin)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ledger:      ledger,
		journal:     journal,
		authToken:   token,
		admin:       admin,
		limiter:     newSourceLimiter(cfg.RateLimit),
		idempotency: cfg.Idempotency,
		logger:      logger,
	}, nil
}

// Router mounts the JSON-RPC endpoint alongside the event stream, health, and
// metrics handlers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Post("/", s.handle)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/ws/events", s.handleEventsWS)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	correlationID := uuid.NewString()
	w.Header().Set("X-Correlation-ID", correlationID)

	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request body exceeds limit", nil)
			return
		}
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "failed to read request body", nil)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported JSON-RPC version", req.JSONRPC)
		return
	}
	if strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method is required", nil)
		return
	}

	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.dispatch(recorder, r, &req)
	elapsed := time.Since(start)

	code := 0
	if recorder.status >= http.StatusBadRequest {
		code = recorder.status
	}
	observability.RPCMetrics().Observe(req.Method, code, elapsed)
	s.logger.Info("rpc request",
		"method", req.Method,
		"status", recorder.status,
		"correlation_id", correlationID,
		"elapsed_ms", elapsed.Milliseconds())
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "stake_deposit":
		s.handleStakeDeposit(w, r, req)
	case "stake_withdraw":
		s.handleStakeWithdraw(w, r, req)
	case "stake_claimReward":
		s.handleStakeClaimReward(w, r, req)
	case "stake_emergencyWithdraw":
		s.handleStakeEmergencyWithdraw(w, r, req)

	case "stake_getPool":
		s.handleGetPool(w, r, req)
	case "stake_listPools":
		s.handleListPools(w, r, req)
	case "stake_getPosition":
		s.handleGetPosition(w, r, req)
	case "stake_pendingRewards":
		s.handlePendingRewards(w, r, req)
	case "stake_treasury":
		s.handleTreasury(w, r, req)
	case "stake_params":
		s.handleParams(w, r, req)
	case "stake_owner":
		s.handleOwner(w, r, req)
	case "stake_balanceOf":
		s.handleBalanceOf(w, r, req)
	case "stake_events":
		s.handleEvents(w, r, req)

	case "admin_mint":
		s.handleAdminMint(w, r, req)
	case "admin_injectRewards":
		s.handleAdminInjectRewards(w, r, req)
	case "admin_ejectRewards":
		s.handleAdminEjectRewards(w, r, req)
	case "admin_setApy":
		s.handleAdminSetApy(w, r, req)
	case "admin_setRewardAllocation":
		s.handleAdminSetRewardAllocation(w, r, req)
	case "admin_setMaxCap":
		s.handleAdminSetMaxCap(w, r, req)
	case "admin_setWalletCap":
		s.handleAdminSetWalletCap(w, r, req)
	case "admin_setFees":
		s.handleAdminSetFees(w, r, req)
	case "admin_setPenalty":
		s.handleAdminSetPenalty(w, r, req)
	case "admin_setFeeCollector":
		s.handleAdminSetFeeCollector(w, r, req)
	case "admin_pause":
		s.handleAdminPause(w, r, req)
	case "admin_resume":
		s.handleAdminResume(w, r, req)
	case "admin_rescue":
		s.handleAdminRescue(w, r, req)
	case "admin_proposeOwner":
		s.handleAdminProposeOwner(w, r, req)
	case "admin_acceptOwnership":
		s.handleAdminAcceptOwnership(w, r, req)
	case "admin_exportJournal":
		s.handleAdminExportJournal(w, r, req)

	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "unknown method "+req.Method, nil)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

// guardStaking applies the per-source rate limit shared by the mutating
// staking operations.
func (s *Server) guardStaking(w http.ResponseWriter, r *http.Request, req *RPCRequest) bool {
	source := clientSource(r)
	if !s.limiter.allow(source) {
		observability.RPCMetrics().RecordThrottle(req.Method)
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "staking rate limit exceeded", source)
		return false
	}
	return true
}

// writeLedgerError maps a failed ledger operation onto the wire. Closed
// ledger errors pass through verbatim as ledger rejections; anything else is
// reported as an internal failure.
func (s *Server) writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	if status, ok := ledgerRejectionStatus(err); ok {
		writeError(w, status, id, codeLedgerRejected, err.Error(), nil)
		return
	}
	s.logger.Error("ledger operation failed", "error", err.Error())
	writeError(w, http.StatusInternalServerError, id, codeServerError, "operation failed", err.Error())
}

var ledgerBadRequestErrors = []error{
	staking.ErrInvalidPool,
	staking.ErrAmountShouldBeGreaterThanZero,
	staking.ErrEnterValidAmount,
	staking.ErrExceedPoolCap,
	staking.ErrWalletCapExceeds,
	staking.ErrLockupPeriodNotPassed,
	staking.ErrAmountExceedStakedAmount,
	staking.ErrNothingStaked,
	staking.ErrApyRangeExceeds,
	staking.ErrPercentShouldBeAtleastFive,
	staking.ErrAllocationCapExceeded,
	staking.ErrMaxFeeCap,
	staking.ErrInvalidMaxCapPerWallet,
	staking.ErrInvalidMaxPoolLimit,
	staking.ErrZeroAddress,
	staking.ErrCanNotClaimMainToken,
	state.ErrInsufficientBalance,
}

func ledgerRejectionStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable, true
	case errors.Is(err, common.ErrReentrantCall):
		return http.StatusConflict, true
	case errors.Is(err, staking.ErrUnauthorized), errors.Is(err, staking.ErrNotPendingOwner):
		return http.StatusForbidden, true
	}
	for _, known := range ledgerBadRequestErrors {
		if errors.Is(err, known) {
			return http.StatusBadRequest, true
		}
	}
	return 0, false
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
