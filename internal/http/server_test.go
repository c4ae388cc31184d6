package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fintrack/internal/auth"
	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/dashboard"
	"fintrack/internal/ledger/memory"
	applog "fintrack/internal/log"
	mwauth "fintrack/internal/middleware/auth"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/services"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type testServer struct {
	srv   *Server
	store *memory.Store
}

func newTestServer(t *testing.T, pinger fakePinger) *testServer {
	t.Helper()
	store := memory.New()
	logger := applog.New(applog.Config{Output: &bytes.Buffer{}})
	srv := NewServer(":0", Deps{
		Ledger: services.NewLedgerService(services.LedgerDeps{
			Store:  store,
			Clock:  dashboard.FixedClock(core.NewDate(2024, 3, 15)),
			Views:  cache.NewLRUCache[dashboard.View](16, time.Minute),
			Logger: logger,
		}),
		Accounts:  services.NewAccountService(store),
		Sessions:  auth.NewSessions("test-secret-0123456789", time.Hour),
		Pinger:    pinger,
		Logger:    logger,
		Metrics:   http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		RateLimit: ratelimit.Config{RequestsPerMinute: 1000},
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testServer{srv: srv, store: store}
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	} else if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.srv.Handler.ServeHTTP(rr, req)
	return rr
}

// login registers username and returns a session token.
func (ts *testServer) login(t *testing.T, username string) string {
	t.Helper()
	creds := `{"username":"` + username + `","password":"correct-horse"}`
	if rr := ts.do(t, http.MethodPost, "/register", "", creds); rr.Code != http.StatusCreated {
		t.Fatalf("register status=%d body=%s", rr.Code, rr.Body)
	}
	rr := ts.do(t, http.MethodPost, "/login", "", creds)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status=%d body=%s", rr.Code, rr.Body)
	}
	var body loginBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	return body.Token
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, fakePinger{})
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := ts.do(t, http.MethodGet, path, "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	down := newTestServer(t, fakePinger{err: errors.New("connection refused")})
	if rr := down.do(t, http.MethodGet, "/readyz", "", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing store = %d, want 503", rr.Code)
	}
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	ts := newTestServer(t, fakePinger{})
	rr := ts.do(t, http.MethodGet, "/healthz", "", "")
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
	if !strings.HasPrefix(rr.Header().Get("X-Request-ID"), "req_") {
		t.Errorf("X-Request-ID = %q", rr.Header().Get("X-Request-ID"))
	}
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t, fakePinger{})

	rr := ts.do(t, http.MethodPost, "/register", "", "username=al&password=correct-horse")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("short username status=%d", rr.Code)
	}
	var errBody ErrorBody
	decode(t, rr, &errBody)
	if errBody.Field != "username" {
		t.Errorf("field = %q, want username", errBody.Field)
	}

	rr = ts.do(t, http.MethodPost, "/register", "", "username=alice&password=correct-horse")
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status=%d body=%s", rr.Code, rr.Body)
	}
	if rr = ts.do(t, http.MethodPost, "/register", "", "username=alice&password=correct-horse"); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("duplicate register status=%d", rr.Code)
	}

	if rr = ts.do(t, http.MethodPost, "/login", "", `{"username":"alice","password":"wrong-password"}`); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status=%d", rr.Code)
	}
	if rr = ts.do(t, http.MethodPost, "/login", "", `{"username":`); rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status=%d", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/login", "", `{"username":"alice","password":"correct-horse"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status=%d", rr.Code)
	}
	var body loginBody
	decode(t, rr, &body)
	if body.Token == "" || body.TokenType != "Bearer" || body.ExpiresIn != 3600 || body.Account.Username != "alice" {
		t.Fatalf("unexpected login body %+v", body)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != mwauth.CookieName || !cookies[0].HttpOnly {
		t.Fatalf("session cookie = %+v", cookies)
	}

	// The cookie alone authenticates.
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.AddCookie(cookies[0])
	rec := httptest.NewRecorder()
	ts.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status via cookie = %d", rec.Code)
	}

	rr = ts.do(t, http.MethodPost, "/logout", "", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("logout status=%d", rr.Code)
	}
	if c := rr.Result().Cookies(); len(c) != 1 || c[0].MaxAge >= 0 {
		t.Fatalf("logout should expire the cookie, got %+v", c)
	}
}

func TestAPIRequiresSession(t *testing.T) {
	ts := newTestServer(t, fakePinger{})
	for _, path := range []string{"/api/status", "/api/dashboard", "/api/transactions"} {
		rr := ts.do(t, http.MethodGet, path, "", "")
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s status=%d, want 401", path, rr.Code)
		}
	}
	if rr := ts.do(t, http.MethodGet, "/api/status", "not-a-token", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("bad token status=%d", rr.Code)
	}
}

func TestUninitializedAccountRedirects(t *testing.T) {
	ts := newTestServer(t, fakePinger{})
	token := ts.login(t, "alice")

	rr := ts.do(t, http.MethodGet, "/api/status", token, "")
	var status services.Status
	decode(t, rr, &status)
	if status.Initialized {
		t.Fatal("fresh account should be uninitialized")
	}

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/dashboard", ""},
		{http.MethodGet, "/api/transactions", ""},
		{http.MethodPost, "/api/transactions", `{"date":"2024-03-10","type":"Expense","payment_mode":"Cash","category":"Food","amount":"5"}`},
	} {
		rr := ts.do(t, tc.method, tc.path, token, tc.body)
		if rr.Code != http.StatusConflict {
			t.Fatalf("%s %s status=%d, want 409", tc.method, tc.path, rr.Code)
		}
		if rr.Header().Get("Location") != InitialBalancePath {
			t.Errorf("Location = %q", rr.Header().Get("Location"))
		}
		var body ErrorBody
		decode(t, rr, &body)
		if body.Redirect != InitialBalancePath {
			t.Errorf("redirect = %q", body.Redirect)
		}
	}
	if ts.store.Len() != 0 {
		t.Fatal("guarded requests must not write")
	}
}

func TestLedgerFlow(t *testing.T) {
	ts := newTestServer(t, fakePinger{})
	token := ts.login(t, "alice")

	rr := ts.do(t, http.MethodPost, "/api/initial-balance", token, "cash=100&bank=")
	if rr.Code != http.StatusCreated {
		t.Fatalf("initial balance status=%d body=%s", rr.Code, rr.Body)
	}
	var opening initialBalanceBody
	decode(t, rr, &opening)
	if len(opening.Transactions) != 1 || opening.Transactions[0].PaymentMode != core.Cash ||
		opening.Transactions[0].Category != core.InitialBalanceCategory {
		t.Fatalf("opening = %+v", opening.Transactions)
	}
	if rr = ts.do(t, http.MethodPost, "/api/initial-balance", token, "cash=5"); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("second bootstrap status=%d", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/transactions", token,
		`{"date":"2024-03-14","type":"Expense","payment_mode":"Cash","category":"Food","description":"lunch","amount":12.5}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add status=%d body=%s", rr.Code, rr.Body)
	}
	var added map[string]any
	decode(t, rr, &added)
	if added["amount"] != "12.50" || added["type"] != "Expense" {
		t.Fatalf("added = %v", added)
	}
	id := int64(added["id"].(float64))
	location := rr.Header().Get("Location")
	if location == "" {
		t.Fatal("missing Location header")
	}

	rr = ts.do(t, http.MethodPost, "/api/transactions", token,
		"date=2024-03-14&type=Expense&payment_mode=Cash&category=Food&amount=-3")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("negative amount status=%d", rr.Code)
	}

	rr = ts.do(t, http.MethodPatch, location, token, `{"amount":"20"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("edit status=%d body=%s", rr.Code, rr.Body)
	}
	var edited core.Transaction
	decode(t, rr, &edited)
	if edited.ID != id || edited.Amount.Cents != 2000 || edited.Description != "lunch" {
		t.Fatalf("edited = %+v", edited)
	}
	if rr = ts.do(t, http.MethodPatch, location, token, `{}`); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty patch status=%d", rr.Code)
	}

	rr = ts.do(t, http.MethodGet, "/api/dashboard?filter=7days", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("dashboard status=%d", rr.Code)
	}
	var view map[string]any
	decode(t, rr, &view)
	balances := view["balances"].(map[string]any)
	if balances["cash"] != "80.00" || balances["total"] != "80.00" {
		t.Fatalf("balances = %v", balances)
	}
	if view["filter"] != "7days" || view["filtered_count"] != float64(2) {
		t.Fatalf("view = %v", view)
	}

	rr = ts.do(t, http.MethodGet, "/api/transactions?limit=1", token, "")
	var listing transactionsBody
	decode(t, rr, &listing)
	if listing.Count != 1 || listing.Filter != dashboard.FilterAll {
		t.Fatalf("listing = %+v", listing)
	}
	if rr = ts.do(t, http.MethodGet, "/api/transactions?limit=zero", token, ""); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad limit status=%d", rr.Code)
	}

	if rr = ts.do(t, http.MethodPost, location+"/delete", token, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d body=%s", rr.Code, rr.Body)
	}
	if rr = ts.do(t, http.MethodDelete, location, token, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", rr.Code)
	}
	if rr = ts.do(t, http.MethodDelete, "/api/transactions/abc", token, ""); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad id status=%d", rr.Code)
	}
}

func TestOtherUsersTransactionsAreForbidden(t *testing.T) {
	ts := newTestServer(t, fakePinger{})
	alice := ts.login(t, "alice")
	bob := ts.login(t, "bobby")
	for _, token := range []string{alice, bob} {
		if rr := ts.do(t, http.MethodPost, "/api/initial-balance", token, "cash=10&bank=10"); rr.Code != http.StatusCreated {
			t.Fatalf("bootstrap status=%d", rr.Code)
		}
	}

	rr := ts.do(t, http.MethodPost, "/api/transactions", alice,
		"date=2024-03-14&type=Income&payment_mode=Bank&category=Salary&amount=100")
	if rr.Code != http.StatusCreated {
		t.Fatalf("add status=%d", rr.Code)
	}
	location := rr.Header().Get("Location")

	if rr = ts.do(t, http.MethodPost, location, bob, "amount=1"); rr.Code != http.StatusForbidden {
		t.Fatalf("foreign edit status=%d", rr.Code)
	}
	if rr = ts.do(t, http.MethodDelete, location, bob, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("foreign delete status=%d", rr.Code)
	}
}

func TestWritesAreRateLimited(t *testing.T) {
	store := memory.New()
	srv := NewServer(":0", Deps{
		Ledger:    services.NewLedgerService(services.LedgerDeps{Store: store}),
		Accounts:  services.NewAccountService(store),
		Sessions:  auth.NewSessions("test-secret-0123456789", time.Hour),
		Logger:    applog.New(applog.Config{Output: &bytes.Buffer{}}),
		RateLimit: ratelimit.Config{RequestsPerMinute: 2},
	})
	defer srv.Shutdown(context.Background())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/logout", nil))
		codes = append(codes, rr.Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, want third request limited", codes)
	}

	// Reads are never limited.
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("read %d limited: %d", i, rr.Code)
		}
	}
}
