package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/youmatter/portal/internal/portal/domain"
)

type complaintsRepo struct {
	db dbtx
}

const complaintColumns = `id, reference_code, user_id, student_name, anonymous,
	incident_type, description, room_number, incident_date, witnesses,
	attachments, status, submitted_at, updated_at`

func scanComplaint(row interface{ Scan(...any) error }) (domain.Complaint, error) {
	var (
		c                                   domain.Complaint
		userID, room, incidentDate, witness sql.NullString
		attachmentsJSON, status             string
	)

	err := row.Scan(
		&c.ID, &c.ReferenceCode, &userID, &c.StudentName, &c.Anonymous,
		&c.IncidentType, &c.Description, &room, &incidentDate, &witness,
		&attachmentsJSON, &status, &c.SubmittedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.Complaint{}, mapNotFound(err)
	}

	c.UserID = mapNullString(userID)
	c.RoomNumber = mapNullString(room)
	c.IncidentDate = mapNullString(incidentDate)
	c.Witnesses = mapNullString(witness)
	c.Status = domain.ComplaintStatus(status)
	if err := json.Unmarshal([]byte(attachmentsJSON), &c.Attachments); err != nil {
		return domain.Complaint{}, err
	}
	return c, nil
}

func (r *complaintsRepo) CreateComplaint(ctx context.Context, c domain.Complaint) error {
	attachments, err := json.Marshal(c.Attachments)
	if err != nil {
		return err
	}
	if c.Attachments == nil {
		attachments = []byte("[]")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO complaints (`+complaintColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ReferenceCode, mapStringNull(c.UserID), c.StudentName,
		c.Anonymous, c.IncidentType, c.Description, mapStringNull(c.RoomNumber),
		mapStringNull(c.IncidentDate), mapStringNull(c.Witnesses),
		string(attachments), string(c.Status), c.SubmittedAt, c.UpdatedAt,
	)
	return err
}

func (r *complaintsRepo) LastReferenceCode(ctx context.Context) (string, error) {
	var ref string
	err := r.db.QueryRowContext(ctx,
		`SELECT reference_code FROM complaints ORDER BY id DESC LIMIT 1`,
	).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return ref, err
}

func (r *complaintsRepo) GetComplaintByID(ctx context.Context, id string) (domain.Complaint, error) {
	return scanComplaint(r.db.QueryRowContext(ctx,
		`SELECT `+complaintColumns+` FROM complaints WHERE id = ?`, id))
}

func (r *complaintsRepo) GetComplaintByReference(ctx context.Context, ref string) (domain.Complaint, error) {
	return scanComplaint(r.db.QueryRowContext(ctx,
		`SELECT `+complaintColumns+` FROM complaints WHERE reference_code = ?`, ref))
}

func (r *complaintsRepo) listComplaints(ctx context.Context, query string, args ...any) ([]domain.Complaint, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var complaints []domain.Complaint
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, err
		}
		complaints = append(complaints, c)
	}
	return complaints, rows.Err()
}

func (r *complaintsRepo) ListComplaints(ctx context.Context) ([]domain.Complaint, error) {
	return r.listComplaints(ctx,
		`SELECT `+complaintColumns+` FROM complaints ORDER BY submitted_at DESC`)
}

func (r *complaintsRepo) ListComplaintsByUser(ctx context.Context, userID string) ([]domain.Complaint, error) {
	return r.listComplaints(ctx,
		`SELECT `+complaintColumns+` FROM complaints WHERE user_id = ? ORDER BY submitted_at DESC`,
		userID)
}

func (r *complaintsRepo) UpdateComplaintStatus(ctx context.Context, id string, status domain.ComplaintStatus, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE complaints SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), at, id)
	return requireRow(res, err)
}

func (r *complaintsRepo) AddComment(ctx context.Context, cm domain.ComplaintComment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO complaint_comments (id, complaint_id, author_id, author_name, author_role, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cm.ID, cm.ComplaintID, mapStringNull(cm.AuthorID), cm.AuthorName,
		cm.AuthorRole, cm.Message, cm.CreatedAt,
	)
	return err
}

func (r *complaintsRepo) ListComments(ctx context.Context, complaintID string) ([]domain.ComplaintComment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, complaint_id, author_id, author_name, author_role, message, created_at
		FROM complaint_comments WHERE complaint_id = ? ORDER BY created_at ASC`,
		complaintID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []domain.ComplaintComment
	for rows.Next() {
		var (
			cm       domain.ComplaintComment
			authorID sql.NullString
		)
		if err := rows.Scan(&cm.ID, &cm.ComplaintID, &authorID, &cm.AuthorName,
			&cm.AuthorRole, &cm.Message, &cm.CreatedAt); err != nil {
			return nil, err
		}
		cm.AuthorID = mapNullString(authorID)
		comments = append(comments, cm)
	}
	return comments, rows.Err()
}
