package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/youmatter/portal/internal/portal/domain"
	"github.com/youmatter/portal/internal/portal/service"
	"github.com/youmatter/portal/pkg/httpx"
)

// bearerToken extracts the session token from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// withSession resolves the bearer session, loads the account and stores both
// on the request context. Requests without a valid session are rejected.
// When roles are given, the account must hold one of them.
func (rt *Router) withSession(next http.Handler, roles ...domain.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sess, rotate, err := rt.Sessions.Resolve(ctx, bearerToken(r))
		if err != nil {
			writeServiceError(w, rt.logger, err)
			return
		}

		user, err := rt.store.Users().GetUserByID(ctx, sess.UserID)
		if err != nil {
			// Session outlived its account.
			_ = rt.Sessions.RevokeUser(ctx, sess.UserID)
			writeServiceError(w, rt.logger, service.ErrAuthenticationRequired)
			return
		}

		if len(roles) > 0 && !hasRole(user.Role, roles) {
			writeServiceError(w, rt.logger, service.ErrForbidden)
			return
		}

		if rotate {
			// Advisory only; the client exchanges the token via re-login or
			// keeps using it until expiry.
			w.Header().Set("X-Session-Rotate", "1")
		}

		ctx = context.WithValue(ctx, httpx.CtxKeyUserID, user.ID)
		ctx = context.WithValue(ctx, httpx.CtxKeyUserRole, string(user.Role))
		ctx = context.WithValue(ctx, httpx.CtxKeySessionID, sess.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withOptionalSession attaches session identity when a valid bearer token is
// present, and passes the request through anonymously otherwise. Used on the
// complaint intake so anonymous reporting keeps working.
func (rt *Router) withOptionalSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		sess, _, err := rt.Sessions.Resolve(ctx, token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		user, err := rt.store.Users().GetUserByID(ctx, sess.UserID)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx = context.WithValue(ctx, httpx.CtxKeyUserID, user.ID)
		ctx = context.WithValue(ctx, httpx.CtxKeyUserRole, string(user.Role))
		ctx = context.WithValue(ctx, httpx.CtxKeySessionID, sess.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func hasRole(have domain.Role, wanted []domain.Role) bool {
	for _, role := range wanted {
		if have == role {
			return true
		}
	}
	return false
}

// requireAPIKey gates the whole API behind a shared secret header when one
// is configured. Comparison is constant-time.
func requireAPIKey(key string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				httpx.WriteError(w, http.StatusUnauthorized, "invalid_api_key", "A valid API key is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isAdminRequest reports whether the request context carries an admin role.
func isAdminRequest(ctx context.Context) bool {
	return domain.Role(httpx.UserRoleFromContext(ctx)).IsAdmin()
}

// canActOn allows account owners and admins through.
func canActOn(ctx context.Context, userID string) bool {
	return httpx.UserIDFromContext(ctx) == userID || isAdminRequest(ctx)
}
