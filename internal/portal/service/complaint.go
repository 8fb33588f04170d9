package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/youmatter/portal/internal/portal/domain"
	"github.com/youmatter/portal/internal/portal/store"
	"github.com/youmatter/portal/pkg/idx"
)

// ComplaintService handles report intake and triage. Every submission passes
// the guard chain first: suspicious-content scan, throttle, duplicate check.
type ComplaintService struct {
	Store store.Store
	Guard *ComplaintGuard

	Log *slog.Logger
	Now func() time.Time
}

func (s *ComplaintService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *ComplaintService) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Create runs the guard chain and persists the complaint, assigning the next
// reference code inside a transaction so concurrent submissions never share
// one. The fingerprint is registered only after the row commits.
func (s *ComplaintService) Create(ctx context.Context, ip string, in ComplaintInput) (domain.Complaint, error) {
	if flagged := ScanSuspicious(in); len(flagged) > 0 {
		s.log().WarnContext(ctx, "complaint rejected: suspicious content", "ip", ip, "fields", flagged)
		return domain.Complaint{}, &SuspiciousContentError{Fields: flagged}
	}

	if err := s.Guard.Allow(ip, in.UserID); err != nil {
		return domain.Complaint{}, err
	}

	fingerprint := Fingerprint(in)
	if s.Guard.CheckDuplicate(fingerprint) {
		s.log().InfoContext(ctx, "complaint rejected: duplicate submission", "ip", ip)
		return domain.Complaint{}, ErrDuplicateSubmission
	}

	studentName := strings.TrimSpace(in.StudentName)
	userID := ""
	if in.UserID != "" {
		user, err := s.Store.Users().GetUserByID(ctx, in.UserID)
		switch {
		case err == nil:
			userID = user.ID
			if studentName == "" {
				studentName = user.Username
			}
		case errors.Is(err, store.ErrNotFound):
			// Stale session or deleted account; keep the report, drop the link.
		default:
			return domain.Complaint{}, fmt.Errorf("failed to load reporter: %w", err)
		}
	}
	if studentName == "" {
		studentName = "Unknown Student"
	}

	incidentType := strings.TrimSpace(in.IncidentType)
	if incidentType == "" {
		incidentType = "unspecified"
	}

	now := s.now()
	complaint := domain.Complaint{
		ID:           idx.New().String(),
		UserID:       userID,
		StudentName:  studentName,
		Anonymous:    in.Anonymous,
		IncidentType: incidentType,
		Description:  in.Description,
		RoomNumber:   strings.TrimSpace(in.RoomNumber),
		IncidentDate: normalizeIncidentDate(in.IncidentDate),
		Witnesses:    strings.TrimSpace(in.Witnesses),
		Attachments:  in.Attachments,
		Status:       domain.ComplaintNew,
		SubmittedAt:  now,
		UpdatedAt:    now,
	}

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		last, err := tx.Complaints().LastReferenceCode(ctx)
		if err != nil {
			return fmt.Errorf("failed to read last reference code: %w", err)
		}
		complaint.ReferenceCode = domain.NextReferenceCode(last)
		return tx.Complaints().CreateComplaint(ctx, complaint)
	})
	if err != nil {
		return domain.Complaint{}, err
	}

	s.Guard.RegisterFingerprint(fingerprint)
	s.log().InfoContext(ctx, "complaint created", "reference", complaint.ReferenceCode, "anonymous", complaint.Anonymous)
	return complaint, nil
}

// Get resolves a complaint by id or human-friendly reference code.
func (s *ComplaintService) Get(ctx context.Context, idOrRef string) (domain.Complaint, error) {
	c, err := s.Store.Complaints().GetComplaintByID(ctx, idOrRef)
	if errors.Is(err, store.ErrNotFound) {
		return s.Store.Complaints().GetComplaintByReference(ctx, idOrRef)
	}
	return c, err
}

// List returns every complaint, newest first.
func (s *ComplaintService) List(ctx context.Context) ([]domain.Complaint, error) {
	return s.Store.Complaints().ListComplaints(ctx)
}

// ListForUser returns the complaints filed by one user, newest first.
func (s *ComplaintService) ListForUser(ctx context.Context, userID string) ([]domain.Complaint, error) {
	return s.Store.Complaints().ListComplaintsByUser(ctx, userID)
}

// UpdateStatus moves a complaint through triage and drops a system comment
// recording the transition.
func (s *ComplaintService) UpdateStatus(ctx context.Context, idOrRef, statusValue, actorID string) (domain.Complaint, error) {
	status, ok := domain.ParseComplaintStatus(statusValue)
	if !ok {
		return domain.Complaint{}, Validationf("invalid status %q", statusValue)
	}

	complaint, err := s.Get(ctx, idOrRef)
	if err != nil {
		return domain.Complaint{}, err
	}
	if complaint.Status == status {
		return complaint, nil
	}

	now := s.now()
	if err := s.Store.Complaints().UpdateComplaintStatus(ctx, complaint.ID, status, now); err != nil {
		return domain.Complaint{}, err
	}
	complaint.Status = status
	complaint.UpdatedAt = now

	if _, err := s.AddComment(ctx, complaint.ID, actorID, fmt.Sprintf("Status changed to %s.", status)); err != nil {
		s.log().WarnContext(ctx, "failed to record status comment", "complaint_id", complaint.ID, "error", err)
	}

	s.log().InfoContext(ctx, "complaint status updated", "reference", complaint.ReferenceCode, "status", string(status))
	return complaint, nil
}

// AddComment attaches a comment, resolving the author's display details at
// write time. An empty author id produces a system comment.
func (s *ComplaintService) AddComment(ctx context.Context, complaintID, authorID, message string) (domain.ComplaintComment, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return domain.ComplaintComment{}, Validationf("comment message is required")
	}

	if _, err := s.Store.Complaints().GetComplaintByID(ctx, complaintID); err != nil {
		return domain.ComplaintComment{}, err
	}

	authorName := "System"
	authorRole := "SYSTEM"
	if authorID != "" {
		author, err := s.Store.Users().GetUserByID(ctx, authorID)
		switch {
		case err == nil:
			authorName = author.Username
			authorRole = string(author.Role)
		case errors.Is(err, store.ErrNotFound):
			authorID = ""
		default:
			return domain.ComplaintComment{}, fmt.Errorf("failed to load author: %w", err)
		}
	}

	comment := domain.ComplaintComment{
		ID:          idx.New().String(),
		ComplaintID: complaintID,
		AuthorID:    authorID,
		AuthorName:  authorName,
		AuthorRole:  authorRole,
		Message:     message,
		CreatedAt:   s.now(),
	}
	if err := s.Store.Complaints().AddComment(ctx, comment); err != nil {
		return domain.ComplaintComment{}, err
	}
	return comment, nil
}

// Comments returns a complaint's comments, oldest first.
func (s *ComplaintService) Comments(ctx context.Context, complaintID string) ([]domain.ComplaintComment, error) {
	return s.Store.Complaints().ListComments(ctx, complaintID)
}

// normalizeIncidentDate keeps only well-formed YYYY-MM-DD values; anything
// else is treated as not provided.
func normalizeIncidentDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if _, err := time.Parse("2006-01-02", value); err != nil {
		return ""
	}
	return value
}
