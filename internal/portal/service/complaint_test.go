package service

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/youmatter/portal/internal/portal/domain"
	"github.com/youmatter/portal/internal/portal/store"
)

func newComplaintService(t *testing.T) (*ComplaintService, store.Store, *fakeClock) {
	t.Helper()

	st := newTestStore(t)
	clock := newFakeClock()
	guard := NewComplaintGuard()
	guard.Now = clock.Now

	svc := &ComplaintService{
		Store: st,
		Guard: guard,
		Log:   slog.New(slog.DiscardHandler),
		Now:   clock.Now,
	}
	return svc, st, clock
}

func validInput(description string) ComplaintInput {
	return ComplaintInput{
		StudentName:  "Jane Doe",
		IncidentType: "verbal",
		Description:  description,
		RoomNumber:   "B-204",
		IncidentDate: "2025-03-01",
		Witnesses:    "Alex",
	}
}

func TestComplaintCreate(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newComplaintService(t)

	c, err := svc.Create(ctx, "10.0.0.1", validInput("Name calling in the hallway"))
	require.NoError(t, err)
	require.Equal(t, "A0001", c.ReferenceCode)
	require.Equal(t, domain.ComplaintNew, c.Status)
	require.Equal(t, "Jane Doe", c.StudentName)

	c2, err := svc.Create(ctx, "10.0.0.1", validInput("Shoving near the lockers"))
	require.NoError(t, err)
	require.Equal(t, "A0002", c2.ReferenceCode)

	t.Run("lookup by id and by reference", func(t *testing.T) {
		byID, err := svc.Get(ctx, c.ID)
		require.NoError(t, err)
		require.Equal(t, c.ReferenceCode, byID.ReferenceCode)

		byRef, err := svc.Get(ctx, "A0002")
		require.NoError(t, err)
		require.Equal(t, c2.ID, byRef.ID)

		_, err = svc.Get(ctx, "Z9999")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("persisted", func(t *testing.T) {
		listed, err := svc.List(ctx)
		require.NoError(t, err)
		require.Len(t, listed, 2)
	})

	_ = st
}

func TestComplaintCreateReporterDefaults(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newComplaintService(t)
	user := seedUser(t, st, "reporter", "T9u!rGw2pk", nil)

	t.Run("blank name falls back to the reporter's username", func(t *testing.T) {
		in := validInput("Tripping on the stairs")
		in.UserID = user.ID
		in.StudentName = ""

		c, err := svc.Create(ctx, "10.0.0.1", in)
		require.NoError(t, err)
		require.Equal(t, "reporter", c.StudentName)
		require.Equal(t, user.ID, c.UserID)

		mine, err := svc.ListForUser(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, mine, 1)
	})

	t.Run("anonymous report without a name", func(t *testing.T) {
		in := validInput("Mocking during lunch")
		in.Anonymous = true
		in.StudentName = ""

		c, err := svc.Create(ctx, "10.0.0.2", in)
		require.NoError(t, err)
		require.Equal(t, "Unknown Student", c.StudentName)
		require.Empty(t, c.UserID)
	})

	t.Run("malformed incident date dropped", func(t *testing.T) {
		in := validInput("Spitballs in class")
		in.IncidentDate = "01/03/2025"

		c, err := svc.Create(ctx, "10.0.0.3", in)
		require.NoError(t, err)
		require.Empty(t, c.IncidentDate)
	})
}

func TestComplaintCreateGuards(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newComplaintService(t)

	t.Run("suspicious content rejected before anything else", func(t *testing.T) {
		in := validInput("<script>alert(1)</script>")
		var scErr *SuspiciousContentError
		_, err := svc.Create(ctx, "10.0.0.1", in)
		require.ErrorAs(t, err, &scErr)
		require.Equal(t, []string{"description"}, scErr.Fields)
	})

	t.Run("identical resubmission rejected", func(t *testing.T) {
		in := validInput("Repeated taunting after class")
		_, err := svc.Create(ctx, "10.0.0.1", in)
		require.NoError(t, err)

		resub := in
		resub.Description = "  repeated   TAUNTING after class "
		_, err = svc.Create(ctx, "10.0.0.1", resub)
		require.ErrorIs(t, err, ErrDuplicateSubmission)

		t.Run("allowed again after the duplicate window", func(t *testing.T) {
			clock.Advance(DefaultDuplicateWindow + DefaultComplaintWindow)
			_, err := svc.Create(ctx, "10.0.0.1", in)
			require.NoError(t, err)
		})
	})

	t.Run("throttle kicks in per address", func(t *testing.T) {
		var limited *RateLimitedError
		for i := 0; ; i++ {
			in := validInput("Unique incident number " + string(rune('a'+i)))
			_, err := svc.Create(ctx, "10.0.0.50", in)
			if err != nil {
				require.ErrorAs(t, err, &limited)
				break
			}
			require.Less(t, i, DefaultComplaintMaxRequests, "throttle never engaged")
		}
	})
}

func TestComplaintStatusAndComments(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newComplaintService(t)
	admin := seedUser(t, st, "triage", "T9u!rGw2pk", func(u *domain.User) { u.Role = domain.RoleAdmin })

	c, err := svc.Create(ctx, "10.0.0.1", validInput("Pushed into lockers"))
	require.NoError(t, err)

	t.Run("status transition records a system comment", func(t *testing.T) {
		updated, err := svc.UpdateStatus(ctx, c.ReferenceCode, "in_progress", admin.ID)
		require.NoError(t, err)
		require.Equal(t, domain.ComplaintInProgress, updated.Status)

		comments, err := svc.Comments(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, comments, 1)
		require.Equal(t, "triage", comments[0].AuthorName)
		require.Equal(t, "Status changed to in_progress.", comments[0].Message)
	})

	t.Run("legacy pending maps to new", func(t *testing.T) {
		updated, err := svc.UpdateStatus(ctx, c.ID, "pending", admin.ID)
		require.NoError(t, err)
		require.Equal(t, domain.ComplaintNew, updated.Status)
	})

	t.Run("invalid status rejected", func(t *testing.T) {
		var verr *ValidationError
		_, err := svc.UpdateStatus(ctx, c.ID, "escalated", admin.ID)
		require.ErrorAs(t, err, &verr)
	})

	t.Run("system comment when author unknown", func(t *testing.T) {
		cm, err := svc.AddComment(ctx, c.ID, "", "Automated triage note")
		require.NoError(t, err)
		require.Equal(t, "System", cm.AuthorName)
		require.Equal(t, "SYSTEM", cm.AuthorRole)
	})

	t.Run("blank comment rejected", func(t *testing.T) {
		var verr *ValidationError
		_, err := svc.AddComment(ctx, c.ID, admin.ID, "   ")
		require.ErrorAs(t, err, &verr)
	})

	t.Run("comment on missing complaint", func(t *testing.T) {
		_, err := svc.AddComment(ctx, "nope", admin.ID, "hello")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}
