package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"tradedesk/internal/events"
	"tradedesk/internal/ledger"
	"tradedesk/internal/ws"
	"tradedesk/pkg/db"
)

type testEnv struct {
	http       *httptest.Server
	database   *db.Database
	engine     *ledger.Engine
	dispatcher *ledger.Dispatcher
	hub        *ws.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	hub := ws.NewHub()
	publisher := events.NewPublisher()
	publisher.Attach(hub)

	engine := ledger.NewEngine(database)
	dispatcher := ledger.NewDispatcher(database, publisher, time.Second, 100)

	gate := &ws.Gatekeeper{
		Verifier: ws.JWTVerifier{Secret: "test-secret"},
		Users:    database,
	}
	wsHandler := &ws.Handler{Hub: hub, Gate: gate}

	server := NewServer(database, engine, publisher, ws.NewPresence(hub), wsHandler, Options{
		JWTSecret:       "test-secret",
		TokenTTL:        time.Hour,
		DefaultCurrency: "USD",
		Meta:            SystemMeta{Version: "test", InstanceID: "test-instance"},
	})

	httpServer := httptest.NewServer(server.Router)
	t.Cleanup(func() {
		httpServer.Close()
		_ = database.Close()
	})
	return &testEnv{
		http:       httpServer,
		database:   database,
		engine:     engine,
		dispatcher: dispatcher,
		hub:        hub,
	}
}

func doJSONRequest(t *testing.T, method, url, token string, payload any, out any) int {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func registerAndLogin(t *testing.T, env *testEnv, email string) (userID, token string) {
	t.Helper()

	var reg struct {
		UserID string `json:"user_id"`
	}
	status := doJSONRequest(t, http.MethodPost, env.http.URL+"/api/auth/register", "", map[string]string{
		"email":    email,
		"password": "secret123",
		"name":     strings.Split(email, "@")[0],
	}, &reg)
	if status != http.StatusCreated {
		t.Fatalf("register status = %d", status)
	}

	var login struct {
		Token string `json:"token"`
	}
	status = doJSONRequest(t, http.MethodPost, env.http.URL+"/api/auth/login", "", map[string]string{
		"email":    email,
		"password": "secret123",
	}, &login)
	if status != http.StatusOK {
		t.Fatalf("login status = %d", status)
	}
	return reg.UserID, login.Token
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.http.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestWalletRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	status := doJSONRequest(t, http.MethodGet, env.http.URL+"/api/wallet", "", nil, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
}

func TestWalletLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	_, token := registerAndLogin(t, env, "alice@example.com")

	// Lazy creation on first reference.
	var wallet ledger.WalletView
	if status := doJSONRequest(t, http.MethodGet, env.http.URL+"/api/wallet", token, nil, &wallet); status != http.StatusOK {
		t.Fatalf("get wallet status = %d", status)
	}
	if wallet.Balance != "0.00" || wallet.Status != ledger.StatusActive {
		t.Fatalf("new wallet = %+v", wallet)
	}

	// Credit 1500.00.
	var mutation struct {
		Wallet      ledger.WalletView `json:"wallet"`
		Transaction ledger.EntryView  `json:"transaction"`
	}
	status := doJSONRequest(t, http.MethodPost, env.http.URL+"/api/wallet/credit", token, map[string]string{
		"amount":      "1500.00",
		"description": "deposit",
		"reference":   "dep-1",
	}, &mutation)
	if status != http.StatusOK {
		t.Fatalf("credit status = %d", status)
	}
	if mutation.Wallet.Balance != "1500.00" || mutation.Transaction.ResultingBalance != "1500.00" {
		t.Fatalf("credit result = %+v", mutation)
	}

	// Overdraw is rejected with a precise reason and no state change.
	var failure struct {
		Code string `json:"code"`
	}
	status = doJSONRequest(t, http.MethodPost, env.http.URL+"/api/wallet/debit", token, map[string]string{
		"amount": "2000.00",
	}, &failure)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("overdraw status = %d, want 422", status)
	}
	if failure.Code != "INSUFFICIENT_BALANCE" {
		t.Fatalf("overdraw code = %s", failure.Code)
	}

	// Ledger shows exactly the successful mutation.
	var history struct {
		Entries []ledger.EntryView `json:"entries"`
	}
	if status := doJSONRequest(t, http.MethodGet, env.http.URL+"/api/wallet/ledger", token, nil, &history); status != http.StatusOK {
		t.Fatalf("ledger status = %d", status)
	}
	if len(history.Entries) != 1 || history.Entries[0].Direction != ledger.DirectionCredit {
		t.Fatalf("history = %+v", history.Entries)
	}
}

func TestInvalidAmountRejected(t *testing.T) {
	env := newTestEnv(t)
	_, token := registerAndLogin(t, env, "bob@example.com")

	for _, amount := range []string{"abc", "-10.00", "1.005"} {
		var failure struct {
			Code string `json:"code"`
		}
		status := doJSONRequest(t, http.MethodPost, env.http.URL+"/api/wallet/credit", token, map[string]string{
			"amount": amount,
		}, &failure)
		if status != http.StatusBadRequest {
			t.Fatalf("amount %q status = %d, want 400", amount, status)
		}
		if failure.Code != "INVALID_AMOUNT" {
			t.Fatalf("amount %q code = %s", amount, failure.Code)
		}
	}
}

func TestAdminEndpointsRequirePrivilege(t *testing.T) {
	env := newTestEnv(t)
	_, token := registerAndLogin(t, env, "carol@example.com")

	status := doJSONRequest(t, http.MethodGet, env.http.URL+"/api/system/status", token, nil, nil)
	if status != http.StatusForbidden {
		t.Fatalf("system status as user = %d, want 403", status)
	}
}

func TestAdminCanFreezeWallet(t *testing.T) {
	env := newTestEnv(t)
	userID, token := registerAndLogin(t, env, "dave@example.com")
	registerAndLogin(t, env, "root@example.com")

	// Promote the second account directly; role management is out of scope here.
	if _, err := env.database.DB.Exec(`UPDATE users SET role = 'admin' WHERE email = 'root@example.com'`); err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	// The role claim is minted at login, so log in after the promotion.
	var login struct {
		Token string `json:"token"`
	}
	if status := doJSONRequest(t, http.MethodPost, env.http.URL+"/api/auth/login", "", map[string]string{
		"email":    "root@example.com",
		"password": "secret123",
	}, &login); status != http.StatusOK {
		t.Fatalf("admin relogin status = %d", status)
	}
	adminToken := login.Token

	wallet, err := env.engine.GetOrCreateWallet(context.Background(), userID, "USD")
	if err != nil {
		t.Fatalf("GetOrCreateWallet: %v", err)
	}

	status := doJSONRequest(t, http.MethodPost, env.http.URL+"/api/wallets/"+wallet.ID+"/freeze", adminToken, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("freeze status = %d", status)
	}

	// Frozen wallet rejects mutation for its owner.
	var failure struct {
		Code string `json:"code"`
	}
	status = doJSONRequest(t, http.MethodPost, env.http.URL+"/api/wallet/credit", token, map[string]string{
		"amount": "10.00",
	}, &failure)
	if status != http.StatusConflict || failure.Code != "WALLET_NOT_ACTIVE" {
		t.Fatalf("credit on frozen: status=%d code=%s", status, failure.Code)
	}
}

func TestPresenceEndpoint(t *testing.T) {
	env := newTestEnv(t)
	userID, token := registerAndLogin(t, env, "eve@example.com")

	var presence struct {
		Online bool `json:"online"`
	}
	status := doJSONRequest(t, http.MethodGet, env.http.URL+"/api/presence/"+userID, token, nil, &presence)
	if status != http.StatusOK {
		t.Fatalf("presence status = %d", status)
	}
	if presence.Online {
		t.Fatal("user with no connection reported online")
	}
}
