package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/youmatter/portal/internal/portal/domain"
	"github.com/youmatter/portal/internal/portal/service"
	"github.com/youmatter/portal/internal/portal/store"
	"github.com/youmatter/portal/pkg/httpx"
)

// userResponse is the public account shape. The password hash never leaves
// the service layer.
type userResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name,omitempty"`
	Role        string     `json:"role"`
	Status      string     `json:"status"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	InvitedAt   *time.Time `json:"invited_at,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toUserResponse(u domain.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		FullName:    u.FullName,
		Role:        string(u.Role),
		Status:      string(u.Status),
		AvatarURL:   u.AvatarURL,
		InvitedAt:   u.InvitedAt,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

type complaintResponse struct {
	ID            string              `json:"id"`
	ReferenceCode string              `json:"reference_code"`
	UserID        string              `json:"user_id,omitempty"`
	StudentName   string              `json:"student_name"`
	Anonymous     bool                `json:"anonymous"`
	IncidentType  string              `json:"incident_type"`
	Description   string              `json:"description"`
	RoomNumber    string              `json:"room_number,omitempty"`
	IncidentDate  string              `json:"incident_date,omitempty"`
	Witnesses     string              `json:"witnesses,omitempty"`
	Attachments   []domain.Attachment `json:"attachments"`
	Status        string              `json:"status"`
	SubmittedAt   time.Time           `json:"submitted_at"`
	UpdatedAt     time.Time           `json:"updated_at"`

	Comments []commentResponse `json:"comments,omitempty"`
}

func toComplaintResponse(c domain.Complaint) complaintResponse {
	attachments := c.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	return complaintResponse{
		ID:            c.ID,
		ReferenceCode: c.ReferenceCode,
		UserID:        c.UserID,
		StudentName:   c.StudentName,
		Anonymous:     c.Anonymous,
		IncidentType:  c.IncidentType,
		Description:   c.Description,
		RoomNumber:    c.RoomNumber,
		IncidentDate:  c.IncidentDate,
		Witnesses:     c.Witnesses,
		Attachments:   attachments,
		Status:        string(c.Status),
		SubmittedAt:   c.SubmittedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

type commentResponse struct {
	ID          string    `json:"id"`
	ComplaintID string    `json:"complaint_id"`
	AuthorID    string    `json:"author_id,omitempty"`
	AuthorName  string    `json:"author_name"`
	AuthorRole  string    `json:"author_role"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

func toCommentResponse(cm domain.ComplaintComment) commentResponse {
	return commentResponse{
		ID:          cm.ID,
		ComplaintID: cm.ComplaintID,
		AuthorID:    cm.AuthorID,
		AuthorName:  cm.AuthorName,
		AuthorRole:  cm.AuthorRole,
		Message:     cm.Message,
		CreatedAt:   cm.CreatedAt,
	}
}

func toCommentResponses(comments []domain.ComplaintComment) []commentResponse {
	out := make([]commentResponse, 0, len(comments))
	for _, cm := range comments {
		out = append(out, toCommentResponse(cm))
	}
	return out
}

func toUserResponses(users []domain.User) []userResponse {
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	return out
}

// sessionResponse is the success shape of every login-completing endpoint.
type sessionResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

// decodeJSON reads a JSON body into dst, treating an empty body like an
// empty object. Bodies are capped at 1 MiB.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// writeServiceError maps service and store errors onto the API's error
// vocabulary and status codes.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, err error) {
	var (
		verr    *service.ValidationError
		limited *service.RateLimitedError
		locked  *service.LockedError
		suspect *service.SuspiciousContentError
	)

	switch {
	case errors.As(err, &verr):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", verr.Message)

	case errors.As(err, &locked):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(locked.RetryAfter)))
		httpx.WriteJSON(w, http.StatusTooManyRequests, httpx.ErrorBody{
			Error:   "account_locked",
			Message: "Too many failed attempts. Please try again later.",
		})

	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limited.RetryAfter)))
		httpx.WriteJSON(w, http.StatusTooManyRequests, httpx.ErrorBody{
			Error:   "rate_limited",
			Message: "Too many requests. Please slow down.",
		})

	case errors.As(err, &suspect):
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorBody{
			Error:   "invalid_content",
			Message: "Complaint submission rejected due to suspicious content.",
			Fields:  suspect.Fields,
		})

	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")

	case errors.Is(err, service.ErrAuthenticationRequired):
		httpx.WriteError(w, http.StatusUnauthorized, "authentication_required", "Authentication required")

	case errors.Is(err, service.ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "You do not have access to this resource")

	case errors.Is(err, service.ErrTwoFactorExpired):
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorBody{
			Error:   "verification_failed",
			Message: "Verification code expired. Please sign in again.",
			Reason:  "expired",
		})

	case errors.Is(err, service.ErrTwoFactorExhausted):
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorBody{
			Error:   "verification_failed",
			Message: "Too many incorrect attempts. Please sign in again.",
			Reason:  "locked",
		})

	case errors.Is(err, service.ErrTwoFactorInvalid):
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorBody{
			Error:   "verification_failed",
			Message: "Invalid verification code.",
			Reason:  "invalid",
		})

	case errors.Is(err, service.ErrResetTokenInvalid), errors.Is(err, service.ErrResetTokenExpired):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_reset_token",
			"Password reset session not found or expired. Please sign in again.")

	case errors.Is(err, service.ErrDuplicateSubmission):
		httpx.WriteError(w, http.StatusConflict, "duplicate_submission",
			"An identical complaint was recently submitted. Please wait or include additional details before submitting again.")

	case errors.Is(err, service.ErrNotificationFailed):
		httpx.WriteError(w, http.StatusServiceUnavailable, "notification_failed",
			"Unable to send email. Please try again later.")

	case errors.Is(err, service.ErrGoogleUnavailable):
		httpx.WriteError(w, http.StatusServiceUnavailable, "google_unavailable",
			"Google Sign-In is not available.")

	case errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "Resource not found")

	default:
		log.Error("request failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Something went wrong")
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(d.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
