package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHousekeepingSweep(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	clock := newFakeClock()
	user := seedUser(t, st, "sweeper", "T9u!rGw2pk", nil)

	sessions := &SessionService{Store: st, Now: clock.Now}
	twoFactor := &TwoFactorService{Challenges: st.Challenges(), Now: clock.Now}
	resets := NewPasswordResetService(0)
	resets.Now = clock.Now
	limiter := NewLoginLimiter(0, 0, 0)
	limiter.Now = clock.Now
	guard := NewComplaintGuard()
	guard.Now = clock.Now

	hk := NewHousekeepingService(st, slog.New(slog.DiscardHandler), time.Hour)
	hk.Resets = resets
	hk.Limiter = limiter
	hk.Guard = guard
	hk.Now = clock.Now

	token, _, err := sessions.Issue(ctx, user.ID, testClient)
	require.NoError(t, err)
	challengeID, code, err := twoFactor.Issue(ctx, user.ID)
	require.NoError(t, err)
	resetToken, err := resets.Stage(user.ID)
	require.NoError(t, err)
	limiter.RegisterFailure("10.0.0.1", "sweeper")

	// Everything survives a sweep while still fresh.
	hk.Sweep()
	_, _, err = sessions.Resolve(ctx, token)
	require.NoError(t, err)

	// A day later everything is expired and swept away.
	clock.Advance(24 * time.Hour)
	hk.Sweep()

	_, _, err = sessions.Resolve(ctx, token)
	require.ErrorIs(t, err, ErrAuthenticationRequired)
	_, err = twoFactor.Verify(ctx, challengeID, code)
	require.ErrorIs(t, err, ErrTwoFactorInvalid)
	_, err = resets.Consume(resetToken)
	require.ErrorIs(t, err, ErrResetTokenInvalid)
	require.NoError(t, limiter.Check("10.0.0.1", "sweeper"))
}

func TestHousekeepingStartStop(t *testing.T) {
	st := newTestStore(t)

	hk := NewHousekeepingService(st, slog.New(slog.DiscardHandler), time.Hour)
	hk.Start()
	hk.Stop()
}
