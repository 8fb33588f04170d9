package http

import (
	"net/http"

	"github.com/youmatter/portal/internal/portal/service"
	"github.com/youmatter/portal/pkg/httpx"
	"github.com/youmatter/portal/pkg/slogx"
)

type UsersHandler struct {
	Users    *service.UserService
	Sessions *service.SessionService
}

func (h *UsersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	users, err := h.Users.List(ctx)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserResponses(users))
}

func (h *UsersHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req struct {
		Username  string `json:"username"`
		Email     string `json:"email"`
		Password  string `json:"password"`
		Role      string `json:"role"`
		FullName  string `json:"full_name"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	user, err := h.Users.Create(ctx, service.CreateInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		Role:      req.Role,
		FullName:  req.FullName,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toUserResponse(user))
}

// HandleGet returns one account. Non-admins can only fetch themselves.
func (h *UsersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := r.PathValue("id")
	if !canActOn(ctx, userID) {
		writeServiceError(w, log, service.ErrForbidden)
		return
	}

	user, err := h.Users.Get(ctx, userID)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

// HandleUpdate applies partial changes. Role changes are an admin privilege;
// everything else is open to the account owner too.
func (h *UsersHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := r.PathValue("id")
	if !canActOn(ctx, userID) {
		writeServiceError(w, log, service.ErrForbidden)
		return
	}

	var req struct {
		Username  *string `json:"username"`
		Email     *string `json:"email"`
		Role      *string `json:"role"`
		Password  *string `json:"password"`
		FullName  *string `json:"full_name"`
		AvatarURL *string `json:"avatar_url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if !isAdminRequest(ctx) {
		if req.Role != nil {
			writeServiceError(w, log, service.ErrForbidden)
			return
		}
		// Owners change their password via the dedicated endpoint, which
		// demands the current one.
		req.Password = nil
	}

	user, err := h.Users.Update(ctx, userID, service.UpdateInput{
		Username:  req.Username,
		Email:     req.Email,
		Role:      req.Role,
		Password:  req.Password,
		FullName:  req.FullName,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *UsersHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if err := h.Users.Delete(ctx, r.PathValue("id")); err != nil {
		writeServiceError(w, log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "User deleted."})
}

// HandleChangePassword swaps the account password after checking the old one.
// All other sessions die; the caller gets a fresh token so their client stays
// signed in.
func (h *UsersHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := r.PathValue("id")
	if !canActOn(ctx, userID) {
		writeServiceError(w, log, service.ErrForbidden)
		return
	}

	var req struct {
		OldPassword     string `json:"old_password"`
		NewPassword     string `json:"new_password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if req.ConfirmPassword != "" && req.NewPassword != req.ConfirmPassword {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request",
			"New password and confirmation do not match.")
		return
	}

	if err := h.Users.ChangePassword(ctx, userID, req.OldPassword, req.NewPassword); err != nil {
		writeServiceError(w, log, err)
		return
	}

	// Re-issue a session for the caller when they changed their own password.
	if httpx.UserIDFromContext(ctx) == userID {
		client := service.Client{IP: httpx.ClientIP(r), UserAgent: r.UserAgent()}
		token, _, err := h.Sessions.Issue(ctx, userID, client)
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{
			"message": "Password changed successfully.",
			"token":   token,
		})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Password changed successfully.",
	})
}

func (h *UsersHandler) HandleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := r.PathValue("id")
	if !canActOn(ctx, userID) {
		writeServiceError(w, log, service.ErrForbidden)
		return
	}

	var req struct {
		Image string `json:"image"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	user, err := h.Users.UploadAvatar(ctx, userID, req.Image)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *UsersHandler) HandleRemoveAvatar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := r.PathValue("id")
	if !canActOn(ctx, userID) {
		writeServiceError(w, log, service.ErrForbidden)
		return
	}

	user, err := h.Users.RemoveAvatar(ctx, userID)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserResponse(user))
}
