package sqlite

import (
	"context"
	"time"

	"github.com/youmatter/portal/internal/portal/domain"
)

type challengesRepo struct {
	db dbtx
}

func (r *challengesRepo) UpsertChallenge(ctx context.Context, c domain.TwoFactorChallenge) error {
	// user_id is UNIQUE, so issuing a fresh code supersedes any live
	// challenge for the same account.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO two_factor_challenges (id, user_id, code_hash, attempts, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			id = excluded.id,
			code_hash = excluded.code_hash,
			attempts = excluded.attempts,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		c.ID, c.UserID, c.CodeHash, c.Attempts, c.CreatedAt, c.ExpiresAt,
	)
	return err
}

func (r *challengesRepo) GetChallenge(ctx context.Context, id string) (domain.TwoFactorChallenge, error) {
	var c domain.TwoFactorChallenge
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, code_hash, attempts, created_at, expires_at
		FROM two_factor_challenges WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &c.CodeHash, &c.Attempts, &c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		return domain.TwoFactorChallenge{}, mapNotFound(err)
	}
	return c, nil
}

func (r *challengesRepo) IncrementChallengeAttempts(ctx context.Context, id string) (domain.TwoFactorChallenge, error) {
	var c domain.TwoFactorChallenge
	err := r.db.QueryRowContext(ctx, `
		UPDATE two_factor_challenges SET attempts = attempts + 1
		WHERE id = ?
		RETURNING id, user_id, code_hash, attempts, created_at, expires_at`, id,
	).Scan(&c.ID, &c.UserID, &c.CodeHash, &c.Attempts, &c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		return domain.TwoFactorChallenge{}, mapNotFound(err)
	}
	return c, nil
}

// DeleteChallenge consumes a challenge. The requireRow check is what makes
// verification single-use: a concurrent second delete sees zero rows and
// gets store.ErrNotFound.
func (r *challengesRepo) DeleteChallenge(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM two_factor_challenges WHERE id = ?`, id)
	return requireRow(res, err)
}

func (r *challengesRepo) DeleteUserChallenges(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM two_factor_challenges WHERE user_id = ?`, userID)
	return err
}

func (r *challengesRepo) DeleteExpiredChallenges(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM two_factor_challenges WHERE expires_at <= ?`, now)
	return err
}
