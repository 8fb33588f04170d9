package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/youmatter/portal/internal/portal/domain"
	"github.com/youmatter/portal/internal/portal/store"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `id, username, email, full_name, role, status, password_hash,
	avatar_url, invited_at, last_login_at, last_two_factor_at,
	password_changed_at, created_at, updated_at`

func (r *usersRepo) scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var (
		u                                                  domain.User
		role, status                                       string
		avatarURL                                          sql.NullString
		invitedAt, lastLogin, lastTwoFactor, passwdChanged sql.NullTime
	)

	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.FullName, &role, &status,
		&u.PasswordHash, &avatarURL, &invitedAt, &lastLogin,
		&lastTwoFactor, &passwdChanged, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}

	u.Role = domain.Role(role)
	u.Status = domain.Status(status)
	u.AvatarURL = mapNullString(avatarURL)
	u.InvitedAt = mapNullTimePtr(invitedAt)
	u.LastLoginAt = mapNullTimePtr(lastLogin)
	u.LastTwoFactorAt = mapNullTimePtr(lastTwoFactor)
	u.PasswordChangedAt = mapNullTimePtr(passwdChanged)
	return u, nil
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.FullName, string(u.Role), string(u.Status),
		u.PasswordHash, mapStringNull(u.AvatarURL), mapOptionalTime(u.InvitedAt),
		mapOptionalTime(u.LastLoginAt), mapOptionalTime(u.LastTwoFactorAt),
		mapOptionalTime(u.PasswordChangedAt), u.CreatedAt, u.UpdatedAt,
	)
	return err
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? COLLATE NOCASE`, email))
}

func (r *usersRepo) GetUserByIdentifier(ctx context.Context, identifier string) (domain.User, error) {
	u, err := r.GetUserByUsername(ctx, identifier)
	if err == nil {
		return u, nil
	}
	if err != store.ErrNotFound {
		return domain.User{}, err
	}
	return r.GetUserByEmail(ctx, identifier)
}

func (r *usersRepo) listUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *usersRepo) ListUsers(ctx context.Context) ([]domain.User, error) {
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
}

func (r *usersRepo) ListUsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	return r.listUsers(ctx,
		`SELECT `+userColumns+` FROM users WHERE role = ? ORDER BY created_at DESC`,
		string(role))
}

func (r *usersRepo) UpdateUserProfile(ctx context.Context, u domain.User) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET username = ?, email = ?, full_name = ?, role = ?, status = ?,
		    avatar_url = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		u.Username, u.Email, u.FullName, string(u.Role), string(u.Status),
		mapStringNull(u.AvatarURL), u.ID,
	)
	return requireRow(res, err)
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, newHash string, changedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = ?, password_changed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		newHash, changedAt, userID,
	)
	return requireRow(res, err)
}

func (r *usersRepo) ClearLastLogin(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET last_login_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, userID)
	return requireRow(res, err)
}

func (r *usersRepo) FinalizeLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET status = ?, last_login_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		string(domain.StatusActive), at, userID)
	return requireRow(res, err)
}

func (r *usersRepo) MarkTwoFactorVerified(ctx context.Context, userID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET last_two_factor_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, at, userID)
	return requireRow(res, err)
}

func (r *usersRepo) UpdateAvatar(ctx context.Context, userID, avatarURL string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET avatar_url = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, mapStringNull(avatarURL), userID)
	return requireRow(res, err)
}

func (r *usersRepo) DeleteUser(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	return requireRow(res, err)
}

func (r *usersRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

// requireRow converts a zero-row write into store.ErrNotFound.
func requireRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
