package http

import (
	"net/http"

	"github.com/youmatter/portal/internal/portal/service"
	"github.com/youmatter/portal/pkg/httpx"
	"github.com/youmatter/portal/pkg/slogx"
)

type DirectoryHandler struct {
	Directory *service.DirectoryService
}

// inviteResponse echoes the created or refreshed account together with the
// temporary password, so an admin can hand credentials over in person when
// the email bounces.
type inviteResponse struct {
	User              userResponse `json:"user"`
	TemporaryPassword string       `json:"temporary_password"`
	Message           string       `json:"message"`
}

func (h *DirectoryHandler) HandleListStudents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	students, err := h.Directory.ListStudents(ctx)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserResponses(students))
}

func (h *DirectoryHandler) HandleInviteStudent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req struct {
		FullName string `json:"full_name"`
		Name     string `json:"name"`
		Email    string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	name := req.FullName
	if name == "" {
		name = req.Name
	}

	result, err := h.Directory.InviteStudent(ctx, name, req.Email)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, inviteResponse{
		User:              toUserResponse(result.User),
		TemporaryPassword: result.TemporaryPassword,
		Message:           "Invitation sent to " + result.User.Email + ".",
	})
}

func (h *DirectoryHandler) HandleUpdateStudent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req struct {
		FullName string `json:"full_name"`
		Name     string `json:"name"`
		Email    string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	name := req.FullName
	if name == "" {
		name = req.Name
	}

	student, err := h.Directory.UpdateStudent(ctx, r.PathValue("id"), name, req.Email)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserResponse(student))
}

func (h *DirectoryHandler) HandleResetStudentPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	result, err := h.Directory.ResetStudentPassword(ctx, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, inviteResponse{
		User:              toUserResponse(result.User),
		TemporaryPassword: result.TemporaryPassword,
		Message:           "New credentials sent to " + result.User.Email + ".",
	})
}

func (h *DirectoryHandler) HandleRemoveStudent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if err := h.Directory.RemoveStudent(ctx, r.PathValue("id")); err != nil {
		writeServiceError(w, log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "Student removed."})
}

func (h *DirectoryHandler) HandleInviteAdmin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req struct {
		FullName string `json:"full_name"`
		Name     string `json:"name"`
		Email    string `json:"email"`
		Role     string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	name := req.FullName
	if name == "" {
		name = req.Name
	}

	result, err := h.Directory.InviteAdmin(ctx, name, req.Email, req.Role)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, inviteResponse{
		User:              toUserResponse(result.User),
		TemporaryPassword: result.TemporaryPassword,
		Message:           "Administrator invitation sent to " + result.User.Email + ".",
	})
}
