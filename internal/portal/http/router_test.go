package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/youmatter/portal/internal/portal/domain"
	"github.com/youmatter/portal/internal/portal/service"
	"github.com/youmatter/portal/internal/portal/store"
	"github.com/youmatter/portal/internal/portal/store/drivers/sqlite"
	"github.com/youmatter/portal/pkg/cryptox"
	"github.com/youmatter/portal/pkg/idx"
	"github.com/youmatter/portal/pkg/mailx"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "pepper")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

// capturedMail records outgoing email so tests can fish out codes and
// temporary passwords.
type capturedMail struct {
	mu   sync.Mutex
	sent []mailx.Message
}

func (n *capturedMail) Send(_ context.Context, msg mailx.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *capturedMail) last(t *testing.T) mailx.Message {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent)
	return n.sent[len(n.sent)-1]
}

var verificationCodePattern = regexp.MustCompile(`Verification Code: (\d{6})`)

type testEnv struct {
	router   *Router
	store    store.Store
	notifier *capturedMail
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.DiscardHandler)
	notifier := &capturedMail{}

	sessions := &service.SessionService{Store: st}
	twoFactor := &service.TwoFactorService{Challenges: st.Challenges()}
	resets := service.NewPasswordResetService(0)
	limiter := service.NewLoginLimiter(0, 0, 0)
	guard := service.NewComplaintGuard()

	rt := NewRouter("test", st, logger)
	rt.AvatarDir = t.TempDir()
	rt.Sessions = sessions
	rt.Auth = &service.AuthService{
		Store:     st,
		Sessions:  sessions,
		TwoFactor: twoFactor,
		Resets:    resets,
		Limiter:   limiter,
		Notifier:  notifier,
		Log:       logger,
	}
	rt.Complaints = &service.ComplaintService{Store: st, Guard: guard, Log: logger}
	rt.Users = &service.UserService{Store: st, Sessions: sessions, AvatarDir: rt.AvatarDir, Log: logger}
	rt.Directory = &service.DirectoryService{Store: st, Sessions: sessions, Notifier: notifier, Log: logger}
	rt.ApplyRoutes()

	return &testEnv{router: rt, store: st, notifier: notifier}
}

func (env *testEnv) seedUser(t *testing.T, username, password string, mutate func(*domain.User)) domain.User {
	t.Helper()

	hash, err := cryptox.HashPassword(password)
	require.NoError(t, err)

	now := time.Now().UTC()
	u := domain.User{
		ID:           idx.New().String(),
		Username:     username,
		Email:        username + "@example.edu",
		FullName:     "Test " + username,
		Role:         domain.RoleStudent,
		Status:       domain.StatusPending,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if mutate != nil {
		mutate(&u)
	}
	require.NoError(t, env.store.Users().CreateUser(context.Background(), u))
	return u
}

// do sends a JSON request through the router and decodes the JSON response.
func (env *testEnv) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, buf)
	req.RemoteAddr = "203.0.113.7:50000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec.Code, decoded
}

// doList is do for endpoints that answer with a JSON array.
func (env *testEnv) doList(t *testing.T, method, path, token string) (int, []map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "203.0.113.7:50000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	var decoded []map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec.Code, decoded
}

// status issues a bodyless request and returns only the response code.
func (env *testEnv) status(t *testing.T, method, path, token string) int {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "203.0.113.7:50000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec.Code
}

// login signs a seeded account in, completing the emailed step-up when the
// account requires one. The account must have logged in before; the forced
// first-login reset is exercised separately.
func (env *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()

	code, body := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, code)

	if body["requires_two_factor"] != true {
		token, _ := body["token"].(string)
		require.NotEmpty(t, token)
		return token
	}

	challengeID, _ := body["challenge_id"].(string)
	emailed := verificationCodePattern.FindStringSubmatch(env.notifier.last(t).TextBody)
	require.Len(t, emailed, 2)

	code, body = env.do(t, http.MethodPost, "/api/auth/verify-2fa", "", map[string]any{
		"challenge_id": challengeID,
		"code":         emailed[1],
	})
	require.Equal(t, http.StatusOK, code)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestFirstLoginFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "freshman", "T9u!rGw2pk", nil)

	// Pending accounts step up through the emailed code.
	code, body := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
		"username": "freshman",
		"password": "T9u!rGw2pk",
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["requires_two_factor"])
	require.Equal(t, true, body["requires_password_reset"])
	challengeID, _ := body["challenge_id"].(string)
	require.NotEmpty(t, challengeID)

	emailed := verificationCodePattern.FindStringSubmatch(env.notifier.last(t).TextBody)
	require.Len(t, emailed, 2)

	// A correct code on a never-logged-in account stages the forced reset.
	code, body = env.do(t, http.MethodPost, "/api/auth/verify-2fa", "", map[string]any{
		"challenge_id": challengeID,
		"code":         emailed[1],
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["requires_password_reset"])
	resetToken, _ := body["reset_token"].(string)
	require.NotEmpty(t, resetToken)

	// Mismatched confirmation never reaches the service.
	code, body = env.do(t, http.MethodPost, "/api/auth/verify-2fa", "", map[string]any{
		"reset_token":      resetToken,
		"new_password":     "Zq8$fmWn3v",
		"confirm_password": "different",
	})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "invalid_request", body["error"])

	// Completing the reset grants the session.
	code, body = env.do(t, http.MethodPost, "/api/auth/verify-2fa", "", map[string]any{
		"reset_token":      resetToken,
		"new_password":     "Zq8$fmWn3v",
		"confirm_password": "Zq8$fmWn3v",
	})
	require.Equal(t, http.StatusOK, code)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	user, _ := body["user"].(map[string]any)
	require.Equal(t, "ACTIVE", user["status"])

	// The session works and logout kills it.
	require.Equal(t, http.StatusOK, env.status(t, http.MethodGet, "/api/complaints", token))

	code, _ = env.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, code)

	require.Equal(t, http.StatusUnauthorized, env.status(t, http.MethodGet, "/api/complaints", token))
}

func TestComplaintEndpoints(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now().UTC()
	env.seedUser(t, "reporter", "T9u!rGw2pk", func(u *domain.User) {
		u.Status = domain.StatusActive
		u.LastLoginAt = &now
		u.LastTwoFactorAt = &now
	})
	env.seedUser(t, "triage", "T9u!rGw2pk", func(u *domain.User) {
		u.Role = domain.RoleAdmin
		u.Status = domain.StatusActive
		u.LastLoginAt = &now
		u.LastTwoFactorAt = &now
	})

	studentToken := env.login(t, "reporter", "T9u!rGw2pk")

	// Anonymous submission, no session at all.
	code, body := env.do(t, http.MethodPost, "/api/complaints", "", map[string]any{
		"anonymous":     true,
		"incident_type": "verbal",
		"description":   "Name calling near the gym.",
	})
	require.Equal(t, http.StatusCreated, code)
	anon, _ := body["complaint"].(map[string]any)
	require.Equal(t, "A0001", anon["reference_code"])
	require.Empty(t, anon["user_id"])

	// Linked submission from the signed-in student.
	code, body = env.do(t, http.MethodPost, "/api/complaints", studentToken, map[string]any{
		"incident_type": "physical",
		"description":   "Shoved on the stairs between classes.",
		"room_number":   "B12",
	})
	require.Equal(t, http.StatusCreated, code)
	linked, _ := body["complaint"].(map[string]any)
	require.Equal(t, "A0002", linked["reference_code"])
	linkedID, _ := linked["id"].(string)

	// Script tags never make it in.
	code, body = env.do(t, http.MethodPost, "/api/complaints", "", map[string]any{
		"incident_type": "cyber",
		"description":   "<script>alert(1)</script>",
	})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "invalid_content", body["error"])

	// Students see only their own complaint.
	code, list := env.doList(t, http.MethodGet, "/api/complaints", studentToken)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, list, 1)
	require.Equal(t, "A0002", list[0]["reference_code"])

	// The anonymous report is invisible to the student even by reference.
	code, _ = env.do(t, http.MethodGet, "/api/complaints/A0001", studentToken, nil)
	require.Equal(t, http.StatusNotFound, code)

	// Admins always step up through the emailed code.
	adminToken := env.login(t, "triage", "T9u!rGw2pk")

	// Admin sees everything and can move status.
	code, list = env.doList(t, http.MethodGet, "/api/complaints", adminToken)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, list, 2)

	code, body = env.do(t, http.MethodPatch, "/api/complaints/"+linkedID+"/status", adminToken, map[string]any{
		"status": "in_progress",
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "in_progress", body["status"])

	// The transition left a system comment, and the admin can add their own.
	code, comments := env.doList(t, http.MethodGet, "/api/complaints/"+linkedID+"/comments", adminToken)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, comments, 1)
	require.Equal(t, "Status changed to in_progress.", comments[0]["message"])

	code, body = env.do(t, http.MethodPost, "/api/complaints/"+linkedID+"/comments", adminToken, map[string]any{
		"message": "Spoke with the homeroom teacher.",
	})
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "triage", body["author_name"])

	// Students cannot touch triage endpoints.
	code, _ = env.do(t, http.MethodPatch, "/api/complaints/"+linkedID+"/status", studentToken, map[string]any{
		"status": "resolved",
	})
	require.Equal(t, http.StatusForbidden, code)
}

func TestDirectoryEndpoints(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now().UTC()
	env.seedUser(t, "root", "T9u!rGw2pk", func(u *domain.User) {
		u.Role = domain.RoleSuperAdmin
		u.Status = domain.StatusActive
		u.LastLoginAt = &now
		u.LastTwoFactorAt = &now
	})

	token := env.login(t, "root", "T9u!rGw2pk")

	code, body := env.do(t, http.MethodPost, "/api/admin/students", token, map[string]any{
		"full_name": "Peter Parker",
		"email":     "peter.parker@example.edu",
	})
	require.Equal(t, http.StatusCreated, code)
	invited, _ := body["user"].(map[string]any)
	require.Equal(t, "peterparker", invited["username"])
	require.Equal(t, "PENDING", invited["status"])
	require.NotEmpty(t, body["temporary_password"])

	code, list := env.doList(t, http.MethodGet, "/api/admin/students", token)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, list, 1)

	// Only super admins mint admins; this one can.
	code, body = env.do(t, http.MethodPost, "/api/admin/admins", token, map[string]any{
		"full_name": "May Parker",
		"email":     "may.parker@example.edu",
	})
	require.Equal(t, http.StatusCreated, code)
	admin, _ := body["user"].(map[string]any)
	require.Equal(t, "ADMIN", admin["role"])

	// A plain admin is turned away from the admin-minting endpoint.
	env.seedUser(t, "deputy", "T9u!rGw2pk", func(u *domain.User) {
		u.Role = domain.RoleAdmin
		u.Status = domain.StatusActive
		u.LastLoginAt = &now
		u.LastTwoFactorAt = &now
	})
	deputyToken := env.login(t, "deputy", "T9u!rGw2pk")

	code, _ = env.do(t, http.MethodPost, "/api/admin/admins", deputyToken, map[string]any{
		"full_name": "Eddie Brock",
		"email":     "eddie.brock@example.edu",
	})
	require.Equal(t, http.StatusForbidden, code)
}

func TestLoginLockoutResponse(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now().UTC()
	env.seedUser(t, "target", "T9u!rGw2pk", func(u *domain.User) {
		u.Status = domain.StatusActive
		u.LastLoginAt = &now
		u.LastTwoFactorAt = &now
	})

	for i := 0; i < service.DefaultLoginMaxFailures; i++ {
		code, _ := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
			"username": "target",
			"password": "Wrong1!pass",
		})
		require.Equal(t, http.StatusUnauthorized, code)
	}

	raw, err := json.Marshal(map[string]any{"username": "target", "password": "T9u!rGw2pk"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(raw))
	req.RemoteAddr = "203.0.113.7:50000"
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "account_locked", body["error"])
}

func TestAPIKeyGate(t *testing.T) {
	env := newTestEnv(t)
	env.router.APIKey = "portal-secret"

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.RemoteAddr = "203.0.113.7:50000"
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.RemoteAddr = "203.0.113.7:50000"
	req.Header.Set("X-API-Key", "portal-secret")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/livez", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "test", body["version"])

	code, body = env.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
}
