package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/accounthub/internal/accounts"
	"github.com/geocoder89/accounthub/internal/config"
	apphttp "github.com/geocoder89/accounthub/internal/http"
	"github.com/geocoder89/accounthub/internal/http/handlers"
	"github.com/geocoder89/accounthub/internal/http/middlewares"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/geocoder89/accounthub/internal/repo/memory"
	"github.com/geocoder89/accounthub/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"
)

func testConfig() config.Config {
	return config.Config{
		Env:          "test",
		StoreDriver:  config.StoreDriverMemory,
		StoreTimeout: time.Second,
		MaxBodyBytes: 1 << 20,
	}
}

func setupTestRouter(t *testing.T, limiter middlewares.Limiter) http.Handler {
	t.Helper()
	return setupTestRouterWithConfig(t, testConfig(), limiter)
}

func setupTestRouterWithConfig(t *testing.T, cfg config.Config, limiter middlewares.Limiter) http.Handler {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))

	hasher, err := security.NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to build hasher: %v", err)
	}

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)
	store := memory.NewUsersRepo()

	svc := accounts.NewService(store, hasher,
		accounts.WithLogger(logger),
		accounts.WithProm(prom),
	)

	return apphttp.NewRouter(logger, cfg, apphttp.Deps{
		Accounts:     svc,
		Prom:         prom,
		Gatherer:     reg,
		LoginLimiter: limiter,
		Checks:       []handlers.Check{{Name: "store", Ping: store.Ping}},
	})
}

func doRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))

	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w
}

func mustReadJSON[T any](t *testing.T, w *httptest.ResponseRecorder, out *T) {
	t.Helper()
	err := json.Unmarshal(w.Body.Bytes(), out)
	if err != nil {
		t.Fatalf("failed to unmarshal json: %v, body=%s", err, w.Body.String())
	}
}

type publicUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func TestAccountsFlow_Register_List_Login_Delete(t *testing.T) {
	router := setupTestRouter(t, nil)

	for _, body := range []string{
		`{"email":"a@example.com","password":"pw-a","role":"User"}`,
		`{"email":"b@example.com","password":"pw-b","role":"Admin"}`,
		`{"email":"c@example.com","password":"pw-c","role":"User"}`,
	} {
		w := doRequest(router, http.MethodPost, "/users", body)
		if w.Code != http.StatusCreated {
			t.Fatalf("register: expected 201, got %d body=%s", w.Code, w.Body.String())
		}
	}

	// duplicate
	w := doRequest(router, http.MethodPost, "/users", `{"email":"a@example.com","password":"other","role":"Admin"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", w.Code)
	}

	// role listing
	w = doRequest(router, http.MethodGet, "/users/role/User", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "passwordHash") || strings.Contains(w.Body.String(), "$2a$") {
		t.Fatalf("list leaked hash: %s", w.Body.String())
	}

	var users []publicUser
	mustReadJSON(t, w, &users)
	if len(users) != 2 || users[0].Email != "a@example.com" || users[1].Email != "c@example.com" {
		t.Fatalf("unexpected role listing: %+v", users)
	}

	// single lookup, the role segment must not shadow it
	w = doRequest(router, http.MethodGet, "/users/b@example.com", "")
	if w.Code != http.StatusOK {
		t.Fatalf("find: expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var found publicUser
	mustReadJSON(t, w, &found)
	if found.Email != "b@example.com" || found.Role != "Admin" {
		t.Fatalf("unexpected user: %+v", found)
	}

	w = doRequest(router, http.MethodGet, "/users/ghost@example.com", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("find missing: expected 404, got %d", w.Code)
	}

	// login
	w = doRequest(router, http.MethodPost, "/login", `{"email":"b@example.com","password":"pw-b"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d body=%s", w.Code, w.Body.String())
	}

	w = doRequest(router, http.MethodPost, "/login", `{"email":"b@example.com","password":"pw-a"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", w.Code)
	}

	w = doRequest(router, http.MethodPost, "/login", `{"email":"ghost@example.com","password":"pw-a"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown email: expected 401, got %d", w.Code)
	}

	// delete
	w = doRequest(router, http.MethodDelete, "/users/a@example.com", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}

	w = doRequest(router, http.MethodDelete, "/users/a@example.com", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("delete again: expected 404, got %d", w.Code)
	}

	w = doRequest(router, http.MethodPost, "/login", `{"email":"a@example.com","password":"pw-a"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("login after delete: expected 401, got %d", w.Code)
	}

	w = doRequest(router, http.MethodGet, "/users", "")
	mustReadJSON(t, w, &users)
	if len(users) != 2 {
		t.Fatalf("expected 2 remaining users, got %d", len(users))
	}
}

func TestAccountsFlow_ConcurrentRegisterOneWinner(t *testing.T) {
	router := setupTestRouter(t, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	codes := map[int]int{}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := doRequest(router, http.MethodPost, "/users", `{"email":"race@example.com","password":"pw","role":"User"}`)
			mu.Lock()
			codes[w.Code]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if codes[http.StatusCreated] != 1 || codes[http.StatusConflict] != 49 {
		t.Fatalf("expected one 201 and 49 409s, got %v", codes)
	}
}

func TestRouter_LoginRateLimited(t *testing.T) {
	router := setupTestRouter(t, middlewares.NewRateLimiter(2, time.Minute))

	for i := 0; i < 2; i++ {
		w := doRequest(router, http.MethodPost, "/login", `{"email":"ghost@example.com","password":"x"}`)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, w.Code)
		}
	}

	w := doRequest(router, http.MethodPost, "/login", `{"email":"ghost@example.com","password":"x"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func loginFrom(router http.Handler, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString(`{"email":"ghost@example.com","password":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w.Code
}

func TestRouter_LoginRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	router := setupTestRouter(t, middlewares.NewRateLimiter(2, time.Minute))

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		codes = append(codes, loginFrom(router, fmt.Sprintf("10.0.0.%d", i)))
	}

	want := []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("rotating X-Forwarded-For: got %v, want %v", codes, want)
		}
	}
}

func TestRouter_LoginRateLimitTrustsConfiguredProxy(t *testing.T) {
	cfg := testConfig()
	// httptest requests come from 192.0.2.1
	cfg.TrustedProxies = []string{"192.0.2.1"}
	router := setupTestRouterWithConfig(t, cfg, middlewares.NewRateLimiter(2, time.Minute))

	// distinct clients behind the proxy get their own windows
	for i := 0; i < 3; i++ {
		if code := loginFrom(router, fmt.Sprintf("203.0.113.%d", i)); code != http.StatusUnauthorized {
			t.Fatalf("client %d: expected 401, got %d", i, code)
		}
	}

	loginFrom(router, "203.0.113.0")
	if code := loginFrom(router, "203.0.113.0"); code != http.StatusTooManyRequests {
		t.Fatalf("repeat client: expected 429, got %d", code)
	}
}

func TestRouter_InvalidTrustedProxiesTrustsNone(t *testing.T) {
	cfg := testConfig()
	cfg.TrustedProxies = []string{"not-an-ip"}
	router := setupTestRouterWithConfig(t, cfg, middlewares.NewRateLimiter(1, time.Minute))

	loginFrom(router, "10.0.0.1")
	if code := loginFrom(router, "10.0.0.2"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestRouter_OpsEndpoints(t *testing.T) {
	router := setupTestRouter(t, nil)

	_ = doRequest(router, http.MethodPost, "/login", `{"email":"ghost@example.com","password":"x"}`)

	for path, want := range map[string]int{
		"/healthz":           http.StatusOK,
		"/readyz":            http.StatusOK,
		"/docs/openapi.yaml": http.StatusOK,
		"/swagger":           http.StatusOK,
	} {
		w := doRequest(router, http.MethodGet, path, "")
		if w.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, w.Code)
		}
	}

	w := doRequest(router, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `accounthub_accounts_logins_total{result="invalid"} 1`) {
		t.Fatalf("login counter missing from metrics output")
	}
}

func TestRouter_RejectsNonJSONBody(t *testing.T) {
	router := setupTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewBufferString(`email=a@example.com`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}
}
