package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPasswordResetStageConsume(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc := NewPasswordResetService(0)
	svc.Now = clock.Now

	t.Run("consume returns the staged user exactly once", func(t *testing.T) {
		token, err := svc.Stage("user-1")
		require.NoError(t, err)
		require.NotEmpty(t, token)

		userID, err := svc.Consume(token)
		require.NoError(t, err)
		require.Equal(t, "user-1", userID)

		_, err = svc.Consume(token)
		require.ErrorIs(t, err, ErrResetTokenInvalid)
	})

	t.Run("staging again invalidates the previous token", func(t *testing.T) {
		first, err := svc.Stage("user-2")
		require.NoError(t, err)
		second, err := svc.Stage("user-2")
		require.NoError(t, err)

		_, err = svc.Consume(first)
		require.ErrorIs(t, err, ErrResetTokenInvalid)

		userID, err := svc.Consume(second)
		require.NoError(t, err)
		require.Equal(t, "user-2", userID)
	})

	t.Run("expired token rejected and burned", func(t *testing.T) {
		token, err := svc.Stage("user-3")
		require.NoError(t, err)

		clock.Advance(DefaultResetStageTTL + time.Second)
		_, err = svc.Consume(token)
		require.ErrorIs(t, err, ErrResetTokenExpired)

		// Burned on first use; a retry no longer finds it at all.
		_, err = svc.Consume(token)
		require.ErrorIs(t, err, ErrResetTokenInvalid)
	})

	t.Run("unknown and empty tokens rejected", func(t *testing.T) {
		_, err := svc.Consume("bogus")
		require.ErrorIs(t, err, ErrResetTokenInvalid)
		_, err = svc.Consume("")
		require.ErrorIs(t, err, ErrResetTokenInvalid)
	})

	t.Run("invalidate user drops the staged token", func(t *testing.T) {
		token, err := svc.Stage("user-4")
		require.NoError(t, err)

		svc.InvalidateUser("user-4")
		_, err = svc.Consume(token)
		require.ErrorIs(t, err, ErrResetTokenInvalid)
	})
}

func TestPasswordResetSweep(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc := NewPasswordResetService(time.Minute)
	svc.Now = clock.Now

	expired, err := svc.Stage("user-a")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	live, err := svc.Stage("user-b")
	require.NoError(t, err)

	svc.Sweep()

	_, err = svc.Consume(expired)
	require.ErrorIs(t, err, ErrResetTokenInvalid)

	userID, err := svc.Consume(live)
	require.NoError(t, err)
	require.Equal(t, "user-b", userID)
}
