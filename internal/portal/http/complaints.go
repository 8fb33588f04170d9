package http

import (
	"net/http"

	"github.com/youmatter/portal/internal/portal/domain"
	"github.com/youmatter/portal/internal/portal/service"
	"github.com/youmatter/portal/internal/portal/store"
	"github.com/youmatter/portal/pkg/httpx"
	"github.com/youmatter/portal/pkg/slogx"
)

type ComplaintsHandler struct {
	Complaints *service.ComplaintService
}

// HandleCreate accepts a new report. The endpoint works without a session;
// when one is attached the report is linked to the account.
func (h *ComplaintsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req struct {
		StudentName  string              `json:"student_name"`
		Anonymous    bool                `json:"anonymous"`
		IncidentType string              `json:"incident_type"`
		Description  string              `json:"description"`
		RoomNumber   string              `json:"room_number"`
		IncidentDate string              `json:"incident_date"`
		Witnesses    string              `json:"witnesses"`
		Notes        string              `json:"notes"`
		Attachments  []domain.Attachment `json:"attachments"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	complaint, err := h.Complaints.Create(ctx, httpx.ClientIP(r), service.ComplaintInput{
		UserID:       httpx.UserIDFromContext(ctx),
		StudentName:  req.StudentName,
		Anonymous:    req.Anonymous,
		IncidentType: req.IncidentType,
		Description:  req.Description,
		RoomNumber:   req.RoomNumber,
		IncidentDate: req.IncidentDate,
		Witnesses:    req.Witnesses,
		Notes:        req.Notes,
		Attachments:  req.Attachments,
	})
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, struct {
		Message   string            `json:"message"`
		Complaint complaintResponse `json:"complaint"`
	}{
		Message:   "Complaint submitted successfully. Your reference code is " + complaint.ReferenceCode + ".",
		Complaint: toComplaintResponse(complaint),
	})
}

// HandleList returns complaints for triage. Admins see everything, optionally
// narrowed with ?user_id=; students only ever see their own reports.
func (h *ComplaintsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var (
		complaints []domain.Complaint
		err        error
	)
	if isAdminRequest(ctx) {
		if filter := r.URL.Query().Get("user_id"); filter != "" {
			complaints, err = h.Complaints.ListForUser(ctx, filter)
		} else {
			complaints, err = h.Complaints.List(ctx)
		}
	} else {
		complaints, err = h.Complaints.ListForUser(ctx, httpx.UserIDFromContext(ctx))
	}
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	out := make([]complaintResponse, 0, len(complaints))
	for _, c := range complaints {
		out = append(out, toComplaintResponse(c))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleGet returns one complaint by id or reference code, with its comments.
func (h *ComplaintsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	complaint, err := h.loadVisible(r)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	comments, err := h.Complaints.Comments(ctx, complaint.ID)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	resp := toComplaintResponse(complaint)
	resp.Comments = toCommentResponses(comments)
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleUpdateStatus moves a complaint through triage.
func (h *ComplaintsHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	complaint, err := h.Complaints.UpdateStatus(ctx,
		r.PathValue("identifier"), req.Status, httpx.UserIDFromContext(ctx))
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toComplaintResponse(complaint))
}

// HandleListComments returns a complaint's comment thread, oldest first.
func (h *ComplaintsHandler) HandleListComments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	complaint, err := h.loadVisible(r)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	comments, err := h.Complaints.Comments(ctx, complaint.ID)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toCommentResponses(comments))
}

// HandleAddComment attaches a triage comment authored by the caller.
func (h *ComplaintsHandler) HandleAddComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	complaint, err := h.Complaints.Get(ctx, r.PathValue("identifier"))
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	comment, err := h.Complaints.AddComment(ctx, complaint.ID, httpx.UserIDFromContext(ctx), req.Message)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toCommentResponse(comment))
}

// loadVisible resolves the complaint in the path and enforces visibility:
// admins see everything, students only their own reports. Hidden complaints
// surface as not found rather than forbidden.
func (h *ComplaintsHandler) loadVisible(r *http.Request) (domain.Complaint, error) {
	ctx := r.Context()

	complaint, err := h.Complaints.Get(ctx, r.PathValue("identifier"))
	if err != nil {
		return domain.Complaint{}, err
	}
	if !isAdminRequest(ctx) && complaint.UserID != httpx.UserIDFromContext(ctx) {
		return domain.Complaint{}, store.ErrNotFound
	}
	return complaint, nil
}
