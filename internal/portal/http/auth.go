package http

import (
	"errors"
	"net/http"

	"github.com/youmatter/portal/internal/portal/service"
	"github.com/youmatter/portal/internal/portal/store"
	"github.com/youmatter/portal/pkg/httpx"
	"github.com/youmatter/portal/pkg/slogx"
)

// pendingTwoFactorResponse tells the client a verification code is on its way
// and carries everything needed to finish the step-up.
type pendingTwoFactorResponse struct {
	RequiresTwoFactor     bool   `json:"requires_two_factor"`
	ChallengeID           string `json:"challenge_id"`
	Email                 string `json:"email"`
	ExpiresIn             int    `json:"expires_in"`
	RequiresPasswordReset bool   `json:"requires_password_reset"`
	Message               string `json:"message"`
}

// pendingResetResponse is returned when the code checked out but the account
// still runs on a temporary password.
type pendingResetResponse struct {
	RequiresPasswordReset bool   `json:"requires_password_reset"`
	ResetToken            string `json:"reset_token"`
	Email                 string `json:"email"`
	ExpiresIn             int    `json:"expires_in"`
	Message               string `json:"message"`
}

type LoginHandler struct {
	Auth *service.AuthService
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req struct {
		Identifier string `json:"identifier"`
		Username   string `json:"username"`
		Email      string `json:"email"`
		Password   string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	identifier := req.Identifier
	if identifier == "" {
		identifier = req.Username
	}
	if identifier == "" {
		identifier = req.Email
	}

	client := service.Client{IP: httpx.ClientIP(r), UserAgent: r.UserAgent()}
	result, err := h.Auth.Login(ctx, client, identifier, req.Password)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	if result.RequiresTwoFactor {
		httpx.WriteJSON(w, http.StatusOK, pendingTwoFactorResponse{
			RequiresTwoFactor:     true,
			ChallengeID:           result.ChallengeID,
			Email:                 result.MaskedEmail,
			ExpiresIn:             result.ExpiresIn,
			RequiresPasswordReset: result.RequiresPasswordReset,
			Message:               "A verification code has been sent to your email address.",
		})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, sessionResponse{
		Token: result.Token,
		User:  toUserResponse(result.User),
	})
}

type GoogleSignInHandler struct {
	Auth *service.AuthService
}

func (h *GoogleSignInHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req struct {
		IDToken    string `json:"id_token"`
		Credential string `json:"credential"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	idToken := req.IDToken
	if idToken == "" {
		idToken = req.Credential
	}

	client := service.Client{IP: httpx.ClientIP(r), UserAgent: r.UserAgent()}
	result, err := h.Auth.GoogleSignIn(ctx, client, idToken)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, sessionResponse{
		Token: result.Token,
		User:  toUserResponse(result.User),
	})
}

type VerifyTwoFactorHandler struct {
	Auth *service.AuthService
}

// ServeHTTP finishes a step-up login. With a reset_token it consumes the
// staged password reset; with a challenge_id it checks the emailed code,
// optionally applying a replacement password in the same request.
func (h *VerifyTwoFactorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req struct {
		ChallengeID     string `json:"challenge_id"`
		Code            string `json:"code"`
		ResetToken      string `json:"reset_token"`
		NewPassword     string `json:"new_password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if req.NewPassword != "" && req.ConfirmPassword != "" && req.NewPassword != req.ConfirmPassword {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request",
			"New password and confirmation do not match.")
		return
	}

	client := service.Client{IP: httpx.ClientIP(r), UserAgent: r.UserAgent()}

	var (
		result service.TwoFactorResult
		err    error
	)
	if req.ResetToken != "" {
		result, err = h.Auth.CompleteReset(ctx, client, req.ResetToken, req.NewPassword)
	} else {
		result, err = h.Auth.VerifyTwoFactor(ctx, client, req.ChallengeID, req.Code, req.NewPassword)
	}
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	if result.RequiresPasswordReset {
		httpx.WriteJSON(w, http.StatusOK, pendingResetResponse{
			RequiresPasswordReset: true,
			ResetToken:            result.ResetToken,
			Email:                 result.MaskedEmail,
			ExpiresIn:             result.ExpiresIn,
			Message:               "Verification successful. Please set a new password to finish signing in.",
		})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, sessionResponse{
		Token: result.Token,
		User:  toUserResponse(result.User),
	})
}

type ForgotPasswordHandler struct {
	Auth *service.AuthService
}

// ServeHTTP issues a temporary password by email. Unknown addresses get the
// same response as known ones so the endpoint cannot be used to probe for
// accounts.
func (h *ForgotPasswordHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	err := h.Auth.ForgotPassword(ctx, req.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeServiceError(w, log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "If that email address is registered, a temporary password has been sent.",
	})
}

type LogoutHandler struct {
	Auth *service.AuthService
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if err := h.Auth.Logout(ctx, bearerToken(r)); err != nil {
		writeServiceError(w, log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out."})
}
