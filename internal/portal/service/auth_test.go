package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/youmatter/portal/internal/portal/domain"
	"github.com/youmatter/portal/internal/portal/store"
)

var testClient = Client{IP: "10.0.0.1", UserAgent: "integration-suite/1.0"}

type authFixture struct {
	svc      *AuthService
	store    store.Store
	clock    *fakeClock
	notifier *recordingNotifier
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	st := newTestStore(t)
	clock := newFakeClock()
	notifier := &recordingNotifier{}

	resets := NewPasswordResetService(0)
	resets.Now = clock.Now
	limiter := NewLoginLimiter(0, 0, 0)
	limiter.Now = clock.Now

	svc := &AuthService{
		Store:     st,
		Sessions:  &SessionService{Store: st, Now: clock.Now},
		TwoFactor: &TwoFactorService{Challenges: st.Challenges(), Now: clock.Now},
		Resets:    resets,
		Limiter:   limiter,
		Notifier:  notifier,
		Log:       slog.New(slog.DiscardHandler),
		Now:       clock.Now,
	}
	return &authFixture{svc: svc, store: st, clock: clock, notifier: notifier}
}

// seedActiveUser creates an account that already completed first login and
// verification, so password login goes straight to a session.
func (f *authFixture) seedActiveUser(t *testing.T, username, password string) domain.User {
	t.Helper()

	now := f.clock.Now()
	verified := now.Add(-time.Hour)
	return seedUser(t, f.store, username, password, func(u *domain.User) {
		u.Status = domain.StatusActive
		u.LastLoginAt = &verified
		u.LastTwoFactorAt = &now
		changed := now.Add(-2 * time.Hour)
		u.PasswordChangedAt = &changed
	})
}

func TestLoginDirectSession(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	f.seedActiveUser(t, "jdoe", "T9u!rGw2pk")

	res, err := f.svc.Login(ctx, testClient, "jdoe", "T9u!rGw2pk")
	require.NoError(t, err)
	require.False(t, res.RequiresTwoFactor)
	require.NotEmpty(t, res.Token)
	require.Equal(t, "jdoe", res.User.Username)
	require.Equal(t, 0, f.notifier.count())

	sess, _, err := f.svc.Sessions.Resolve(ctx, res.Token)
	require.NoError(t, err)
	require.Equal(t, res.User.ID, sess.UserID)
}

func TestLoginByEmail(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	u := f.seedActiveUser(t, "mailer", "T9u!rGw2pk")

	res, err := f.svc.Login(ctx, testClient, u.Email, "T9u!rGw2pk")
	require.NoError(t, err)
	require.Equal(t, u.ID, res.User.ID)
}

func TestLoginInvalidCredentials(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	f.seedActiveUser(t, "victim", "T9u!rGw2pk")

	t.Run("unknown identifier", func(t *testing.T) {
		_, err := f.svc.Login(ctx, testClient, "nobody", "whatever1!A")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := f.svc.Login(ctx, testClient, "victim", "Wrong1!pass")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("missing credentials", func(t *testing.T) {
		var verr *ValidationError
		_, err := f.svc.Login(ctx, testClient, "", "x")
		require.ErrorAs(t, err, &verr)
		_, err = f.svc.Login(ctx, testClient, "victim", "")
		require.ErrorAs(t, err, &verr)
	})
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	f.seedActiveUser(t, "locked", "T9u!rGw2pk")

	for i := 0; i < DefaultLoginMaxFailures; i++ {
		_, err := f.svc.Login(ctx, testClient, "locked", "Wrong1!pass")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Even the right password bounces while locked.
	var locked *LockedError
	_, err := f.svc.Login(ctx, testClient, "locked", "T9u!rGw2pk")
	require.ErrorAs(t, err, &locked)
	require.Greater(t, locked.RetryAfter, time.Duration(0))

	// The lock lifts once the lockout duration elapses.
	f.clock.Advance(DefaultLoginLockoutDuration + time.Second)
	res, err := f.svc.Login(ctx, testClient, "locked", "T9u!rGw2pk")
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)
}

func TestLoginSuccessResetsFailures(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	f.seedActiveUser(t, "resilient", "T9u!rGw2pk")

	for i := 0; i < DefaultLoginMaxFailures-1; i++ {
		_, err := f.svc.Login(ctx, testClient, "resilient", "Wrong1!pass")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := f.svc.Login(ctx, testClient, "resilient", "T9u!rGw2pk")
	require.NoError(t, err)

	// The slate is clean: more failures are needed before a lock.
	_, err = f.svc.Login(ctx, testClient, "resilient", "Wrong1!pass")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestFirstLoginRequiresTwoFactorAndReset(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	user := seedUser(t, f.store, "fresh", "T9u!rGw2pk", nil)

	res, err := f.svc.Login(ctx, testClient, "fresh", "T9u!rGw2pk")
	require.NoError(t, err)
	require.True(t, res.RequiresTwoFactor)
	require.True(t, res.RequiresPasswordReset)
	require.Empty(t, res.Token)
	require.NotEmpty(t, res.ChallengeID)
	require.Equal(t, "f***h@example.edu", res.MaskedEmail)
	require.Equal(t, f.svc.TwoFactor.TTLSeconds(), res.ExpiresIn)

	code := extractCode(t, f.notifier.last(t))

	t.Run("verification stages a reset instead of a session", func(t *testing.T) {
		v, err := f.svc.VerifyTwoFactor(ctx, testClient, res.ChallengeID, code, "")
		require.NoError(t, err)
		require.True(t, v.RequiresPasswordReset)
		require.NotEmpty(t, v.ResetToken)
		require.Empty(t, v.Token)

		t.Run("completing the reset issues the session", func(t *testing.T) {
			done, err := f.svc.CompleteReset(ctx, testClient, v.ResetToken, "Zq8$fmWn3v")
			require.NoError(t, err)
			require.NotEmpty(t, done.Token)
			require.Equal(t, domain.StatusActive, done.User.Status)
			require.NotNil(t, done.User.LastLoginAt)

			// Next login uses the new password and needs no step-up: the
			// account has verified since its password changed.
			_, err = f.svc.Login(ctx, testClient, "fresh", "T9u!rGw2pk")
			require.ErrorIs(t, err, ErrInvalidCredentials)

			again, err := f.svc.Login(ctx, testClient, "fresh", "Zq8$fmWn3v")
			require.NoError(t, err)
			require.False(t, again.RequiresTwoFactor)
		})
	})

	_ = user
}

func TestVerifyTwoFactorWithInlinePassword(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	seedUser(t, f.store, "inline", "T9u!rGw2pk", nil)

	res, err := f.svc.Login(ctx, testClient, "inline", "T9u!rGw2pk")
	require.NoError(t, err)
	code := extractCode(t, f.notifier.last(t))

	v, err := f.svc.VerifyTwoFactor(ctx, testClient, res.ChallengeID, code, "Zq8$fmWn3v")
	require.NoError(t, err)
	require.False(t, v.RequiresPasswordReset)
	require.NotEmpty(t, v.Token)
}

func TestVerifyTwoFactorRejectsTemporaryPasswordReuse(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	seedUser(t, f.store, "reuser", "T9u!rGw2pk", nil)

	res, err := f.svc.Login(ctx, testClient, "reuser", "T9u!rGw2pk")
	require.NoError(t, err)
	code := extractCode(t, f.notifier.last(t))

	var verr *ValidationError
	_, err = f.svc.VerifyTwoFactor(ctx, testClient, res.ChallengeID, code, "T9u!rGw2pk")
	require.ErrorAs(t, err, &verr)
}

func TestVerifyTwoFactorWrongCode(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	seedUser(t, f.store, "wrongcode", "T9u!rGw2pk", nil)

	res, err := f.svc.Login(ctx, testClient, "wrongcode", "T9u!rGw2pk")
	require.NoError(t, err)
	code := extractCode(t, f.notifier.last(t))

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	_, err = f.svc.VerifyTwoFactor(ctx, testClient, res.ChallengeID, wrong, "")
	require.ErrorIs(t, err, ErrTwoFactorInvalid)

	// The right code still works afterwards.
	v, err := f.svc.VerifyTwoFactor(ctx, testClient, res.ChallengeID, code, "")
	require.NoError(t, err)
	require.True(t, v.RequiresPasswordReset)
}

func TestLoginNotificationFailureInvalidatesChallenge(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	seedUser(t, f.store, "nomail", "T9u!rGw2pk", nil)

	f.notifier.fail = errors.New("smtp down")
	_, err := f.svc.Login(ctx, testClient, "nomail", "T9u!rGw2pk")
	require.ErrorIs(t, err, ErrNotificationFailed)

	// No live challenge remains for the user.
	f.notifier.fail = nil
	res, err := f.svc.Login(ctx, testClient, "nomail", "T9u!rGw2pk")
	require.NoError(t, err)
	require.True(t, res.RequiresTwoFactor)
}

func TestAdminAlwaysStepsUp(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	now := f.clock.Now()
	seedUser(t, f.store, "boss", "T9u!rGw2pk", func(u *domain.User) {
		u.Role = domain.RoleAdmin
		u.Status = domain.StatusActive
		u.LastLoginAt = &now
		u.LastTwoFactorAt = &now
	})

	res, err := f.svc.Login(ctx, testClient, "boss", "T9u!rGw2pk")
	require.NoError(t, err)
	require.True(t, res.RequiresTwoFactor)
	require.False(t, res.RequiresPasswordReset)

	code := extractCode(t, f.notifier.last(t))
	v, err := f.svc.VerifyTwoFactor(ctx, testClient, res.ChallengeID, code, "")
	require.NoError(t, err)
	require.NotEmpty(t, v.Token)
}

func TestPasswordChangeForcesReverification(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	u := f.seedActiveUser(t, "rotated", "T9u!rGw2pk")

	// An administrative password rotation leaves last_two_factor_at behind
	// password_changed_at, so the next login steps up.
	require.NoError(t, f.store.Users().UpdatePasswordHash(ctx, u.ID, u.PasswordHash, f.clock.Now().Add(time.Minute)))

	res, err := f.svc.Login(ctx, testClient, "rotated", "T9u!rGw2pk")
	require.NoError(t, err)
	require.True(t, res.RequiresTwoFactor)
	require.False(t, res.RequiresPasswordReset)
}

func TestForgotPassword(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	u := f.seedActiveUser(t, "forgetful", "T9u!rGw2pk")

	require.NoError(t, f.svc.ForgotPassword(ctx, u.Email))

	msg := f.notifier.last(t)
	require.Equal(t, "YouMatter Temporary Password", msg.Subject)
	temporary := extractTemporaryPassword(t, msg)

	t.Run("old password is dead", func(t *testing.T) {
		_, err := f.svc.Login(ctx, testClient, "forgetful", "T9u!rGw2pk")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("temporary password rejoins via the step-up flow", func(t *testing.T) {
		res, err := f.svc.Login(ctx, testClient, "forgetful", temporary)
		require.NoError(t, err)
		require.True(t, res.RequiresTwoFactor)
		require.True(t, res.RequiresPasswordReset)
	})

	t.Run("unknown email reported", func(t *testing.T) {
		err := f.svc.ForgotPassword(ctx, "ghost@example.edu")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestForgotPasswordRollsBackOnMailFailure(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	u := f.seedActiveUser(t, "stable", "T9u!rGw2pk")

	f.notifier.fail = errors.New("smtp down")
	err := f.svc.ForgotPassword(ctx, u.Email)
	require.ErrorIs(t, err, ErrNotificationFailed)

	// The password rotation rolled back with the failed delivery.
	res, err := f.svc.Login(ctx, testClient, "stable", "T9u!rGw2pk")
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	f.seedActiveUser(t, "leaver", "T9u!rGw2pk")

	res, err := f.svc.Login(ctx, testClient, "leaver", "T9u!rGw2pk")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, res.Token))
	_, _, err = f.svc.Sessions.Resolve(ctx, res.Token)
	require.ErrorIs(t, err, ErrAuthenticationRequired)

	// Logging out twice is fine.
	require.NoError(t, f.svc.Logout(ctx, res.Token))
}
