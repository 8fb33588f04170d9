package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTwoFactor(clock *fakeClock) *TwoFactorService {
	return &TwoFactorService{Challenges: NewMemoryChallenges(), Now: clock.Now}
}

func TestTwoFactorVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("correct code succeeds once", func(t *testing.T) {
		clock := newFakeClock()
		svc := newTwoFactor(clock)

		id, code, err := svc.Issue(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, code, 6)

		userID, err := svc.Verify(ctx, id, code)
		require.NoError(t, err)
		require.Equal(t, "user-1", userID)

		// Consumed: the same code no longer works.
		_, err = svc.Verify(ctx, id, code)
		require.ErrorIs(t, err, ErrTwoFactorInvalid)
	})

	t.Run("wrong code counts attempts", func(t *testing.T) {
		clock := newFakeClock()
		svc := newTwoFactor(clock)

		id, code, err := svc.Issue(ctx, "user-2")
		require.NoError(t, err)

		wrong := "000000"
		if wrong == code {
			wrong = "000001"
		}

		for i := 0; i < MaxChallengeAttempts-1; i++ {
			_, err = svc.Verify(ctx, id, wrong)
			require.ErrorIs(t, err, ErrTwoFactorInvalid)
		}

		// The attempt that reaches the cap reports exhaustion and consumes
		// the challenge.
		_, err = svc.Verify(ctx, id, wrong)
		require.ErrorIs(t, err, ErrTwoFactorExhausted)

		_, err = svc.Verify(ctx, id, code)
		require.ErrorIs(t, err, ErrTwoFactorInvalid)
	})

	t.Run("expired challenge", func(t *testing.T) {
		clock := newFakeClock()
		svc := newTwoFactor(clock)

		id, code, err := svc.Issue(ctx, "user-3")
		require.NoError(t, err)

		clock.Advance(DefaultChallengeTTL + time.Second)
		_, err = svc.Verify(ctx, id, code)
		require.ErrorIs(t, err, ErrTwoFactorExpired)

		// Deleted on sight; a retry is plain invalid.
		_, err = svc.Verify(ctx, id, code)
		require.ErrorIs(t, err, ErrTwoFactorInvalid)
	})

	t.Run("new challenge supersedes the old one", func(t *testing.T) {
		clock := newFakeClock()
		svc := newTwoFactor(clock)

		oldID, oldCode, err := svc.Issue(ctx, "user-4")
		require.NoError(t, err)
		newID, newCode, err := svc.Issue(ctx, "user-4")
		require.NoError(t, err)

		_, err = svc.Verify(ctx, oldID, oldCode)
		require.ErrorIs(t, err, ErrTwoFactorInvalid)

		userID, err := svc.Verify(ctx, newID, newCode)
		require.NoError(t, err)
		require.Equal(t, "user-4", userID)
	})

	t.Run("blank inputs rejected", func(t *testing.T) {
		clock := newFakeClock()
		svc := newTwoFactor(clock)

		_, err := svc.Verify(ctx, "", "123456")
		require.ErrorIs(t, err, ErrTwoFactorInvalid)
		_, err = svc.Verify(ctx, "some-id", "   ")
		require.ErrorIs(t, err, ErrTwoFactorInvalid)
	})

	t.Run("code is trimmed before comparison", func(t *testing.T) {
		clock := newFakeClock()
		svc := newTwoFactor(clock)

		id, code, err := svc.Issue(ctx, "user-5")
		require.NoError(t, err)

		userID, err := svc.Verify(ctx, id, "  "+code+" ")
		require.NoError(t, err)
		require.Equal(t, "user-5", userID)
	})
}

func TestTwoFactorSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	clock := newFakeClock()
	user := seedUser(t, st, "challenged", "T9u!rGw2pk", nil)

	svc := &TwoFactorService{Challenges: st.Challenges(), Now: clock.Now}

	id, code, err := svc.Issue(ctx, user.ID)
	require.NoError(t, err)

	userID, err := svc.Verify(ctx, id, code)
	require.NoError(t, err)
	require.Equal(t, user.ID, userID)

	_, err = svc.Verify(ctx, id, code)
	require.ErrorIs(t, err, ErrTwoFactorInvalid)
}
