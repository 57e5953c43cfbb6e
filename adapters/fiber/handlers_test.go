package fiber

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/ApexAZ/zentropy-sub008/core"
	"github.com/ApexAZ/zentropy-sub008/pkg/cache"
	"github.com/ApexAZ/zentropy-sub008/pkg/crypto"
	"github.com/ApexAZ/zentropy-sub008/services"
)

const (
	testPassword = "Str0ng!Pass"
	basePath     = "/api/auth"
)

// mockAuthProvider is a test fake implementing core.AuthProvider. Unset
// results fall back to zero values.
type mockAuthProvider struct {
	checkErr      error
	loginResult   *core.LoginResult
	loginErr      error
	loginInput    core.LoginInput
	authData      *core.SessionData
	authErr       error
	authToken     string
	logoutCalled  bool
	logoutToken   string
	changeErr     error
	changeInput   core.ChangePasswordInput
	changeSession *core.SessionData
}

func (m *mockAuthProvider) CheckRequest(context.Context, core.ClientInfo) error { return m.checkErr }

func (m *mockAuthProvider) Register(context.Context, core.RegisterInput, core.ClientInfo) (*core.LoginResult, error) {
	return m.loginResult, m.loginErr
}

func (m *mockAuthProvider) Login(_ context.Context, input core.LoginInput, _ core.ClientInfo) (*core.LoginResult, error) {
	m.loginInput = input
	return m.loginResult, m.loginErr
}

func (m *mockAuthProvider) Authenticate(_ context.Context, token string) (*core.SessionData, error) {
	m.authToken = token
	if token == "" {
		return nil, core.ErrAuthenticationRequired
	}
	return m.authData, m.authErr
}

func (m *mockAuthProvider) Logout(_ context.Context, token string) {
	m.logoutCalled = true
	m.logoutToken = token
}

func (m *mockAuthProvider) Refresh(context.Context, string) (*core.Session, error) {
	return m.authData.Session, nil
}

func (m *mockAuthProvider) ChangePassword(_ context.Context, current *core.SessionData, _ string, input core.ChangePasswordInput, _ core.ClientInfo) error {
	m.changeSession = current
	m.changeInput = input
	return m.changeErr
}

func (m *mockAuthProvider) ListDevices(context.Context, *core.SessionData) ([]*core.Session, error) {
	return []*core.Session{m.authData.Session}, nil
}

func (m *mockAuthProvider) SignOutEverywhere(context.Context, *core.SessionData) (int, error) {
	return 1, nil
}

func (m *mockAuthProvider) DeleteAccount(context.Context, *core.SessionData, core.DeleteAccountInput) error {
	return nil
}

func (m *mockAuthProvider) SessionTTL() time.Duration { return 24 * time.Hour }

func newMockApp(t *testing.T, auth core.AuthProvider) *fiber.App {
	t.Helper()
	app := fiber.New()
	adapter := New(app, core.CookieConfig{Secure: true})
	if err := adapter.RegisterRoutes(auth, services.NewEndpointRegistry().Endpoints(), basePath); err != nil {
		t.Fatalf("RegisterRoutes() error = %v", err)
	}
	return app
}

func sessionData() *core.SessionData {
	now := time.Now()
	return &core.SessionData{
		Principal: &core.Principal{ID: "cred-1", Email: "alice@example.com", Role: core.RoleMember, Active: true},
		Session:   &core.Session{ID: "sess-1", CredentialID: "cred-1", Active: true, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
	}
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string, mutate ...func(*http.Request)) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mutate {
		m(req)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var decoded map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func withCookie(token string) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: core.DefaultCookieName, Value: token}) }
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func findCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == core.DefaultCookieName {
			return c
		}
	}
	return nil
}

// Requirement: gateway errors map to the documented statuses with safe messages.
func TestMapErrorToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "invalid credentials", err: core.ErrInvalidCredentials, want: http.StatusUnauthorized},
		{name: "wrong current password", err: core.ErrInvalidCurrentPassword, want: http.StatusUnauthorized},
		{name: "authentication required", err: core.ErrAuthenticationRequired, want: http.StatusUnauthorized},
		{name: "invalid session", err: core.ErrInvalidSession, want: http.StatusUnauthorized},
		{name: "rate limited", err: &core.RateLimitError{Action: core.ActionLogin, RetryAfter: time.Second}, want: http.StatusTooManyRequests},
		{name: "policy violation", err: &core.PolicyViolationError{Reason: core.ReasonTooShort, MinLength: 8}, want: http.StatusBadRequest},
		{name: "invalid email", err: core.ErrInvalidEmail, want: http.StatusBadRequest},
		{name: "conflict", err: core.ErrConflict, want: http.StatusConflict},
		{name: "not found", err: core.ErrNotFound, want: http.StatusNotFound},
		{name: "unavailable", err: core.ErrUnavailable, want: http.StatusServiceUnavailable},
		{name: "internal", err: core.ErrInternal, want: http.StatusInternalServerError},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			if got := mapErrorToStatus(test.err); got != test.want {
				t.Errorf("mapErrorToStatus() = %d, want %d", got, test.want)
			}
		})
	}
}

// Requirement: login sets a hardened session cookie and never echoes the token.
func TestLogin_SetsSessionCookie(t *testing.T) {
	// Arrange
	data := sessionData()
	mock := &mockAuthProvider{loginResult: &core.LoginResult{Principal: data.Principal, Session: data.Session, Token: "raw-token"}}
	app := newMockApp(t, mock)

	// Act
	resp, body := doRequest(t, app, http.MethodPost, basePath+"/login", `{"email":"alice@example.com","password":"x"}`)

	// Assert
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if mock.loginInput.Email != "alice@example.com" {
		t.Errorf("login input email = %q", mock.loginInput.Email)
	}
	cookie := findCookie(resp)
	if cookie == nil {
		t.Fatal("session cookie not set")
	}
	if cookie.Value != "raw-token" {
		t.Errorf("cookie value = %q", cookie.Value)
	}
	if !cookie.HttpOnly || !cookie.Secure || cookie.SameSite != http.SameSiteStrictMode || cookie.Path != "/" {
		t.Errorf("cookie attributes = %+v", cookie)
	}
	if cookie.MaxAge != int((24 * time.Hour).Seconds()) {
		t.Errorf("cookie MaxAge = %d", cookie.MaxAge)
	}
	if _, ok := body["token"]; ok {
		t.Error("token must not appear in the body")
	}
	user, _ := body["user"].(map[string]any)
	if user["email"] != "alice@example.com" {
		t.Errorf("body user = %v", body["user"])
	}
}

// Requirement: login failures are uniform 401s; throttling is 429 with Retry-After.
func TestLogin_Errors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		body        string
		wantStatus  int
		wantMessage string
		wantRetry   string
	}{
		{
			name:        "invalid credentials",
			err:         core.ErrInvalidCredentials,
			body:        `{"email":"a@example.com","password":"x"}`,
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "invalid credentials",
		},
		{
			name:       "rate limited",
			err:        &core.RateLimitError{Action: core.ActionLogin, RetryAfter: 899500 * time.Millisecond},
			body:       `{"email":"a@example.com","password":"x"}`,
			wantStatus: http.StatusTooManyRequests,
			wantRetry:  "900",
		},
		{
			name:        "internal details are hidden",
			err:         errors.New("pq: connection refused to 10.0.0.3"),
			body:        `{"email":"a@example.com","password":"x"}`,
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "internal error",
		},
		{
			name:        "malformed body",
			body:        `{not json`,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "invalid request body",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			app := newMockApp(t, &mockAuthProvider{loginErr: test.err})

			// Act
			resp, body := doRequest(t, app, http.MethodPost, basePath+"/login", test.body)

			// Assert
			if resp.StatusCode != test.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, test.wantStatus)
			}
			if test.wantMessage != "" && body["error"] != test.wantMessage {
				t.Errorf("error = %v, want %q", body["error"], test.wantMessage)
			}
			if got := resp.Header.Get("Retry-After"); got != test.wantRetry {
				t.Errorf("Retry-After = %q, want %q", got, test.wantRetry)
			}
			if findCookie(resp) != nil {
				t.Error("failed login must not set a cookie")
			}
		})
	}
}

// Requirement: protected routes distinguish a missing token from a rejected one.
func TestProtectedRoutes_Unauthenticated(t *testing.T) {
	tests := []struct {
		name        string
		mutate      []func(*http.Request)
		wantMessage string
	}{
		{name: "no token", wantMessage: "authentication required"},
		{name: "rejected cookie", mutate: []func(*http.Request){withCookie("stale")}, wantMessage: "invalid or expired session"},
		{name: "rejected bearer", mutate: []func(*http.Request){withBearer("stale")}, wantMessage: "invalid or expired session"},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			app := newMockApp(t, &mockAuthProvider{authErr: core.ErrInvalidSession})

			resp, body := doRequest(t, app, http.MethodGet, basePath+"/session", "", test.mutate...)

			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", resp.StatusCode)
			}
			if body["error"] != test.wantMessage {
				t.Errorf("error = %v, want %q", body["error"], test.wantMessage)
			}
		})
	}
}

// Requirement: the cookie wins over a bearer header.
func TestExtractToken_CookieFirst(t *testing.T) {
	mock := &mockAuthProvider{authData: sessionData()}
	app := newMockApp(t, mock)

	resp, _ := doRequest(t, app, http.MethodGet, basePath+"/session", "", withCookie("from-cookie"), withBearer("from-header"))

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if mock.authToken != "from-cookie" {
		t.Errorf("token = %q, want from-cookie", mock.authToken)
	}
}

// Requirement: logout always answers 200 and expires the cookie.
func TestLogout_ClearsCookie(t *testing.T) {
	tests := []struct {
		name      string
		mutate    []func(*http.Request)
		wantToken string
	}{
		{name: "with session", mutate: []func(*http.Request){withCookie("tok")}, wantToken: "tok"},
		{name: "without session", wantToken: ""},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			mock := &mockAuthProvider{}
			app := newMockApp(t, mock)

			resp, _ := doRequest(t, app, http.MethodPost, basePath+"/logout", "", test.mutate...)

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}
			if !mock.logoutCalled || mock.logoutToken != test.wantToken {
				t.Errorf("Logout called = %v with %q", mock.logoutCalled, mock.logoutToken)
			}
			cookie := findCookie(resp)
			if cookie == nil {
				t.Fatal("logout should write the cookie")
			}
			if cookie.Value != "" || cookie.MaxAge >= 0 {
				t.Errorf("cookie not expired: value %q max-age %d", cookie.Value, cookie.MaxAge)
			}
			if !strings.Contains(strings.ToLower(resp.Header.Get("Set-Cookie")), "max-age=0") {
				t.Errorf("Set-Cookie = %q, want max-age=0", resp.Header.Get("Set-Cookie"))
			}
		})
	}
}

// Requirement: logout is never throttled; a limiter refusal or failure must
// not keep the session alive.
func TestLogout_BypassesGeneralLimiter(t *testing.T) {
	tests := []struct {
		name     string
		checkErr error
	}{
		{name: "limit exceeded", checkErr: &core.RateLimitError{Action: core.ActionGeneralAPI, RetryAfter: 30 * time.Second}},
		{name: "limiter failing", checkErr: core.ErrUnavailable},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			mock := &mockAuthProvider{checkErr: test.checkErr}
			app := newMockApp(t, mock)

			// Act
			resp, _ := doRequest(t, app, http.MethodPost, basePath+"/logout", "", withCookie("tok"))

			// Assert
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}
			if !mock.logoutCalled || mock.logoutToken != "tok" {
				t.Errorf("Logout called = %v with %q, want tok", mock.logoutCalled, mock.logoutToken)
			}
			if cookie := findCookie(resp); cookie == nil || cookie.MaxAge >= 0 {
				t.Errorf("session cookie not cleared: %+v", cookie)
			}
		})
	}
}

// Requirement: policy violations are 400 with the specific message and reason.
func TestChangePassword_PolicyViolation(t *testing.T) {
	mock := &mockAuthProvider{
		authData:  sessionData(),
		changeErr: &core.PolicyViolationError{Reason: core.ReasonMissingDigit},
	}
	app := newMockApp(t, mock)

	resp, body := doRequest(t, app, http.MethodPost, basePath+"/password",
		`{"currentPassword":"old","newPassword":"NoDigits!","signOutOthers":true}`, withCookie("tok"))

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["error"] != "password must contain a digit" || body["reason"] != core.ReasonMissingDigit {
		t.Errorf("body = %v", body)
	}
	if mock.changeSession == nil || mock.changeSession.Principal.ID != "cred-1" {
		t.Error("handler should pass the authenticated session")
	}
	if !mock.changeInput.SignOutOthers {
		t.Error("signOutOthers should be bound from the body")
	}
}

// Requirement: the general limiter runs ahead of throttled routes.
func TestGeneralLimiter(t *testing.T) {
	app := newMockApp(t, &mockAuthProvider{checkErr: &core.RateLimitError{Action: core.ActionGeneralAPI, RetryAfter: 30 * time.Second}})

	resp, _ := doRequest(t, app, http.MethodPost, basePath+"/login", `{"email":"a@example.com","password":"x"}`)

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "30" {
		t.Errorf("Retry-After = %q", resp.Header.Get("Retry-After"))
	}
}

// Requirement: endpoints without a handler or a known operation are rejected.
func TestRegisterRoutes_UnknownOperation(t *testing.T) {
	adapter := New(fiber.New(), core.CookieConfig{})

	err := adapter.RegisterRoutes(&mockAuthProvider{}, []*core.Endpoint{
		{Path: "/teams", Method: "GET", Metadata: core.EndpointMetadata{OperationID: "listTeams"}},
	}, basePath)

	if err == nil {
		t.Fatal("RegisterRoutes() should fail for an unbound operation")
	}
}

// Requirement: plugin endpoints with their own handler are mounted, protected ones behind admission.
func TestRegisterRoutes_PluginHandler(t *testing.T) {
	mock := &mockAuthProvider{authData: sessionData()}
	app := fiber.New()
	adapter := New(app, core.CookieConfig{})
	endpoints := append(services.NewEndpointRegistry().Endpoints(), &core.Endpoint{
		Path:   "/whoami",
		Method: "GET",
		Handler: func(ctx *core.RequestContext) error {
			return ctx.Request.(fiber.Ctx).JSON(fiber.Map{"email": ctx.Session.Principal.Email})
		},
		Metadata: core.EndpointMetadata{OperationID: "whoami", Protected: true},
	})
	if err := adapter.RegisterRoutes(mock, endpoints, basePath); err != nil {
		t.Fatalf("RegisterRoutes() error = %v", err)
	}

	resp, _ := doRequest(t, app, http.MethodGet, basePath+"/whoami", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", resp.StatusCode)
	}

	resp, body := doRequest(t, app, http.MethodGet, basePath+"/whoami", "", withCookie("tok"))
	if resp.StatusCode != http.StatusOK || body["email"] != "alice@example.com" {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
}

// Requirement: host applications can guard their own routes with Protected.
func TestProtectedMiddleware(t *testing.T) {
	mock := &mockAuthProvider{authData: sessionData()}
	app := fiber.New()
	adapter := New(app, core.CookieConfig{})
	app.Get("/capacity", adapter.Protected(mock), func(c fiber.Ctx) error {
		principal, _ := c.Locals(LocalsPrincipal).(*core.Principal)
		return c.JSON(fiber.Map{"role": principal.Role})
	})

	resp, _ := doRequest(t, app, http.MethodGet, "/capacity", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", resp.StatusCode)
	}

	resp, body := doRequest(t, app, http.MethodGet, "/capacity", "", withBearer("tok"))
	if resp.StatusCode != http.StatusOK || body["role"] != string(core.RoleMember) {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
}

func newRealApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	storage := services.NewFakeStorageProvider()
	sessions := services.NewSessionManager(core.DefaultSessionConfig(), storage)
	hasher := &crypto.Argon2{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	policy := services.NewPasswordPolicy(core.DefaultPasswordConfig(), hasher, storage)
	limiter, err := services.NewRateLimiter(core.DefaultRateLimitConfig(), cache.NewMemoryCounterStore(cache.MemoryCounterConfig{}), nil, logger)
	if err != nil {
		t.Fatalf("NewRateLimiter() error = %v", err)
	}
	auth, err := services.NewAuthService(storage, sessions, policy, limiter, services.AuthOptions{Logger: logger})
	if err != nil {
		t.Fatalf("NewAuthService() error = %v", err)
	}
	return newMockApp(t, auth)
}

// Requirement: register, login, use, logout and reuse behave end to end.
func TestEndToEnd(t *testing.T) {
	app := newRealApp(t)

	resp, _ := doRequest(t, app, http.MethodPost, basePath+"/register", `{"email":"alice@example.com","password":"`+testPassword+`"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, app, http.MethodPost, basePath+"/register", `{"email":"alice@example.com","password":"`+testPassword+`"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register status = %d, want 409", resp.StatusCode)
	}

	resp, _ = doRequest(t, app, http.MethodPost, basePath+"/login", `{"email":"alice@example.com","password":"`+testPassword+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	cookie := findCookie(resp)
	if cookie == nil {
		t.Fatal("login did not set a cookie")
	}
	token := cookie.Value

	resp, body := doRequest(t, app, http.MethodGet, basePath+"/session", "", withCookie(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session status = %d", resp.StatusCode)
	}
	user, _ := body["user"].(map[string]any)
	if user["email"] != "alice@example.com" {
		t.Errorf("session user = %v", body["user"])
	}
	if _, leaked := user["passwordHash"]; leaked {
		t.Error("password hash leaked")
	}

	resp, body = doRequest(t, app, http.MethodGet, basePath+"/sessions", "", withCookie(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sessions status = %d", resp.StatusCode)
	}
	if list, _ := body["sessions"].([]any); len(list) != 2 {
		t.Errorf("sessions = %v, want register and login sessions", body["sessions"])
	}

	resp, body = doRequest(t, app, http.MethodPost, basePath+"/password", `{"currentPassword":"`+testPassword+`","newPassword":"short"}`, withCookie(token))
	if resp.StatusCode != http.StatusBadRequest || body["reason"] != core.ReasonTooShort {
		t.Fatalf("weak password status = %d body = %v", resp.StatusCode, body)
	}

	resp, _ = doRequest(t, app, http.MethodPost, basePath+"/logout", "", withCookie(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}

	resp, body = doRequest(t, app, http.MethodGet, basePath+"/session", "", withCookie(token))
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "invalid or expired session" {
		t.Fatalf("reuse after logout status = %d body = %v", resp.StatusCode, body)
	}
}
