package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/youmatter/portal/internal/portal/domain"
	"github.com/youmatter/portal/internal/portal/service"
	"github.com/youmatter/portal/internal/portal/store"
	"github.com/youmatter/portal/pkg/httpx"
	"github.com/youmatter/portal/pkg/slogx"
)

// adminRoles is the role set allowed on triage and directory endpoints.
var adminRoles = []domain.Role{domain.RoleAdmin, domain.RoleSuperAdmin}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	// APIKey, when set, gates every request behind the X-API-Key header.
	APIKey string

	// AvatarDir backs the static avatar endpoint. Empty disables it.
	AvatarDir string

	store      store.Store
	Auth       *service.AuthService
	Sessions   *service.SessionService
	Complaints *service.ComplaintService
	Users      *service.UserService
	Directory  *service.DirectoryService
}

func NewRouter(buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (rt *Router) ApplyRoutes() {
	rt.registerAuth()
	rt.registerComplaints()
	rt.registerUsers()
	rt.registerDirectory()
	rt.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (rt *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	middlewares := rt.middlewares
	if rt.APIKey != "" {
		middlewares = append([]httpx.Middleware{requireAPIKey(rt.APIKey)}, middlewares...)
	}
	httpx.Chain(rt.Mux, middlewares...).ServeHTTP(w, req)
}

func (rt *Router) registerAuth() {
	loginHandler := &LoginHandler{Auth: rt.Auth}
	googleHandler := &GoogleSignInHandler{Auth: rt.Auth}
	verifyHandler := &VerifyTwoFactorHandler{Auth: rt.Auth}
	forgotHandler := &ForgotPasswordHandler{Auth: rt.Auth}
	logoutHandler := &LogoutHandler{Auth: rt.Auth}

	// Credential endpoints get the strict limit; the login lockout and the
	// challenge attempt counter sit underneath as the precise controls.
	rt.Mux.Handle("POST /api/auth/login",
		httpx.Chain(loginHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	rt.Mux.Handle("POST /api/auth/google",
		httpx.Chain(googleHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	rt.Mux.Handle("POST /api/auth/verify-2fa",
		httpx.Chain(verifyHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	rt.Mux.Handle("POST /api/auth/forgot-password",
		httpx.Chain(forgotHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	rt.Mux.Handle("POST /api/auth/logout",
		httpx.Chain(rt.withSession(logoutHandler),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)
}

func (rt *Router) registerComplaints() {
	h := &ComplaintsHandler{Complaints: rt.Complaints}

	// Intake accepts anonymous reports; an attached session links the report
	// to the account. The service-level guard enforces the precise throttle.
	rt.Mux.Handle("POST /api/complaints",
		httpx.Chain(rt.withOptionalSession(http.HandlerFunc(h.HandleCreate)),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	rt.Mux.Handle("GET /api/complaints",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleList)),
			httpx.RateLimitByUser(httpx.LenientLimit),
		),
	)

	rt.Mux.Handle("GET /api/complaints/{identifier}",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleGet)),
			httpx.RateLimitByUser(httpx.LenientLimit),
		),
	)

	rt.Mux.Handle("PATCH /api/complaints/{identifier}/status",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleUpdateStatus), adminRoles...),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	rt.Mux.Handle("GET /api/complaints/{identifier}/comments",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleListComments)),
			httpx.RateLimitByUser(httpx.LenientLimit),
		),
	)

	rt.Mux.Handle("POST /api/complaints/{identifier}/comments",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleAddComment), adminRoles...),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)
}

func (rt *Router) registerUsers() {
	h := &UsersHandler{Users: rt.Users, Sessions: rt.Sessions}

	rt.Mux.Handle("GET /api/users",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleList), adminRoles...),
			httpx.RateLimitByUser(httpx.LenientLimit),
		),
	)

	rt.Mux.Handle("POST /api/users",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleCreate), adminRoles...),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	rt.Mux.Handle("GET /api/users/{id}",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleGet)),
			httpx.RateLimitByUser(httpx.LenientLimit),
		),
	)

	rt.Mux.Handle("PUT /api/users/{id}",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleUpdate)),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	rt.Mux.Handle("DELETE /api/users/{id}",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleDelete), adminRoles...),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	rt.Mux.Handle("POST /api/users/{id}/password",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleChangePassword)),
			httpx.RateLimitByUser(httpx.StrictLimit),
		),
	)

	rt.Mux.Handle("POST /api/users/{id}/avatar",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleUploadAvatar)),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	rt.Mux.Handle("DELETE /api/users/{id}/avatar",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleRemoveAvatar)),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)
}

func (rt *Router) registerDirectory() {
	h := &DirectoryHandler{Directory: rt.Directory}

	rt.Mux.Handle("GET /api/admin/students",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleListStudents), adminRoles...),
			httpx.RateLimitByUser(httpx.LenientLimit),
		),
	)

	rt.Mux.Handle("POST /api/admin/students",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleInviteStudent), adminRoles...),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	rt.Mux.Handle("PATCH /api/admin/students/{id}",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleUpdateStudent), adminRoles...),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	rt.Mux.Handle("DELETE /api/admin/students/{id}",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleRemoveStudent), adminRoles...),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	rt.Mux.Handle("POST /api/admin/students/{id}/reset_password",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleResetStudentPassword), adminRoles...),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	// Only super admins can mint other administrators.
	rt.Mux.Handle("POST /api/admin/admins",
		httpx.Chain(rt.withSession(http.HandlerFunc(h.HandleInviteAdmin), domain.RoleSuperAdmin),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)
}

func (rt *Router) registerSystem() {
	rt.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(rt.startTime, rt.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	rt.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(rt.startTime, rt.buildVersion, rt.store),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	if rt.AvatarDir != "" {
		rt.Mux.Handle("GET /api/static/avatars/{filename}",
			httpx.Chain(AvatarFileHandler(rt.AvatarDir),
				httpx.RateLimitByIP(httpx.LenientLimit),
			),
		)
	}
}
