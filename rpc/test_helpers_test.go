package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"stakevault/core"
	"stakevault/crypto"
	"stakevault/native/staking"
	"stakevault/storage"
)

const (
	testAuthToken     = "test-token"
	testAdminSecret   = "admin-secret"
	testAdminIssuer   = "stakevault-tests"
	testAdminAudience = "stakevault-rpc"
)

type testEnv struct {
	t         *testing.T
	server    *Server
	ledger    *core.Ledger
	journal   *storage.Journal
	owner     crypto.Address
	user      crypto.Address
	collector crypto.Address
	now       int64
}

func testAddr(suffix byte) crypto.Address {
	var raw [20]byte
	raw[19] = suffix
	return crypto.MustNewAddress(raw[:])
}

func testGenesis(owner, collector crypto.Address) *staking.Genesis {
	doc := &staking.Genesis{
		Owner:          owner,
		FeeCollector:   collector,
		DepositFeeBps:  100,
		WithdrawFeeBps: 200,
		PenaltyBps:     500,
	}
	for i := range doc.Pools {
		doc.Pools[i] = staking.GenesisPool{
			MaxCap:              big.NewInt(1_000_000),
			WalletCap:           big.NewInt(100_000),
			LockedPeriod:        604_800,
			APYBps:              50,
			RewardAllocationBps: 2_500,
		}
	}
	return doc
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, ServerConfig{})
}

func newTestEnvWithConfig(t *testing.T, cfg ServerConfig) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	ledger, err := core.NewLedger(db)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	env := &testEnv{
		t:         t,
		ledger:    ledger,
		owner:     testAddr(0x0A),
		user:      testAddr(0x01),
		collector: testAddr(0xFC),
		now:       1_700_000_000,
	}
	ledger.SetNowFunc(func() int64 { return env.now })

	journal, err := storage.NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })
	ledger.SetJournal(journal)
	env.journal = journal

	accounts := []core.GenesisAccount{
		{Address: env.user, Balance: big.NewInt(1_000_000)},
		{Address: env.owner, Balance: big.NewInt(1_000_000)},
	}
	if err := ledger.InitGenesis(testGenesis(env.owner, env.collector), accounts); err != nil {
		t.Fatalf("init genesis: %v", err)
	}

	if cfg.AuthToken == "" {
		cfg.AuthToken = testAuthToken
	}
	if !cfg.Admin.Enable {
		cfg.Admin = JWTConfig{
			Enable:   true,
			Secret:   testAdminSecret,
			Issuer:   testAdminIssuer,
			Audience: testAdminAudience,
		}
	}
	server, err := NewServer(ledger, journal, cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	env.server = server
	return env
}

func (env *testEnv) advance(seconds int64) {
	env.now += seconds
}

// newRequest builds a request carrying the shared bearer token used by the
// mutating staking methods.
func (env *testEnv) newRequest() *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+testAuthToken)
	return req
}

func (env *testEnv) adminRequest() *http.Request {
	claims := jwt.MapClaims{
		"iss":   testAdminIssuer,
		"aud":   testAdminAudience,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "staking.admin",
	}
	return env.signedRequest(testAdminSecret, claims)
}

func (env *testEnv) signedRequest(secret string, claims jwt.MapClaims) *http.Request {
	env.t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		env.t.Fatalf("sign token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// invoke dispatches an RPC request straight to the method handlers, bypassing
// the HTTP body plumbing exercised separately.
func (env *testEnv) invoke(r *http.Request, method string, params ...interface{}) *httptest.ResponseRecorder {
	env.t.Helper()
	raw := make([]json.RawMessage, 0, len(params))
	for _, param := range params {
		raw = append(raw, marshalParam(env.t, param))
	}
	rec := httptest.NewRecorder()
	env.server.dispatch(rec, r, &RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: raw, ID: 1})
	return rec
}

// deposit stakes amount for the default user and fails the test on rejection.
func (env *testEnv) deposit(pool uint8, amount string) {
	env.t.Helper()
	rec := env.invoke(env.newRequest(), "stake_deposit", stakeAmountParams{
		Caller: env.user.String(),
		Pool:   pool,
		Amount: amount,
	})
	if _, rpcErr := decodeRPCResponse(env.t, rec); rpcErr != nil {
		env.t.Fatalf("deposit: %+v", rpcErr)
	}
}

func marshalParam(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal param: %v", err)
	}
	return raw
}

func decodeRPCResponse(t *testing.T, rec *httptest.ResponseRecorder) (json.RawMessage, *RPCError) {
	t.Helper()
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode rpc response: %v (body %q)", err, rec.Body.String())
	}
	return resp.Result, resp.Error
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	result, rpcErr := decodeRPCResponse(t, rec)
	if rpcErr != nil {
		t.Fatalf("unexpected rpc error: %+v", rpcErr)
	}
	if err := json.Unmarshal(result, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func requireRPCError(t *testing.T, rec *httptest.ResponseRecorder, status, code int, message string) *RPCError {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("http status: got %d want %d (body %q)", rec.Code, status, rec.Body.String())
	}
	_, rpcErr := decodeRPCResponse(t, rec)
	if rpcErr == nil {
		t.Fatalf("expected rpc error, got result (body %q)", rec.Body.String())
	}
	if rpcErr.Code != code {
		t.Fatalf("rpc code: got %d want %d", rpcErr.Code, code)
	}
	if message != "" && rpcErr.Message != message {
		t.Fatalf("rpc message: got %q want %q", rpcErr.Message, message)
	}
	return rpcErr
}
