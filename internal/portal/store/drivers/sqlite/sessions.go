package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/youmatter/portal/internal/portal/domain"
)

type sessionsRepo struct {
	db dbtx
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, ip, user_agent, issued_at, last_seen, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.TokenHash, s.IP, s.UserAgent, s.IssuedAt, s.LastSeen, s.ExpiresAt,
	)
	return err
}

func (r *sessionsRepo) GetSessionByTokenHash(ctx context.Context, hash string) (domain.Session, error) {
	var (
		s         domain.Session
		revokedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, ip, user_agent, issued_at, last_seen, expires_at, revoked_at
		FROM sessions WHERE token_hash = ?`, hash,
	).Scan(&s.ID, &s.UserID, &s.TokenHash, &s.IP, &s.UserAgent,
		&s.IssuedAt, &s.LastSeen, &s.ExpiresAt, &revokedAt)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.RevokedAt = mapNullTimePtr(revokedAt)
	return s, nil
}

func (r *sessionsRepo) TouchSession(ctx context.Context, id string, lastSeen time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_seen = ? WHERE id = ?`, lastSeen, id)
	return requireRow(res, err)
}

func (r *sessionsRepo) RevokeSessionByTokenHash(ctx context.Context, hash string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE token_hash = ? AND revoked_at IS NULL`, at, hash)
	return requireRow(res, err)
}

func (r *sessionsRepo) RevokeUserSessions(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`, at, userID)
	return err
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`, now)
	return err
}
