package service

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/youmatter/portal/internal/portal/domain"
	"github.com/youmatter/portal/internal/portal/store"
	"github.com/youmatter/portal/internal/portal/store/drivers/sqlite"
	"github.com/youmatter/portal/pkg/cryptox"
	"github.com/youmatter/portal/pkg/idx"
	"github.com/youmatter/portal/pkg/mailx"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "pepper")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s store.Store, username, password string, mutate func(*domain.User)) domain.User {
	t.Helper()

	hash, err := cryptox.HashPassword(password)
	require.NoError(t, err)

	now := time.Now().UTC()
	u := domain.User{
		ID:           idx.New().String(),
		Username:     username,
		Email:        username + "@example.edu",
		FullName:     "Test " + username,
		Role:         domain.RoleStudent,
		Status:       domain.StatusPending,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if mutate != nil {
		mutate(&u)
	}
	require.NoError(t, s.Users().CreateUser(context.Background(), u))
	return u
}

// fakeClock is an adjustable time source shared by services under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingNotifier captures outgoing mail instead of sending it.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []mailx.Message
	fail error
}

func (n *recordingNotifier) Send(_ context.Context, msg mailx.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) last(t *testing.T) mailx.Message {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent)
	return n.sent[len(n.sent)-1]
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

var codeLinePattern = regexp.MustCompile(`Verification Code: (\d{6})`)

func extractCode(t *testing.T, msg mailx.Message) string {
	t.Helper()
	m := codeLinePattern.FindStringSubmatch(msg.TextBody)
	require.Len(t, m, 2, "verification code not found in email body")
	return m[1]
}

var temporaryPasswordPattern = regexp.MustCompile(`Temporary Password: (\S+)`)

func extractTemporaryPassword(t *testing.T, msg mailx.Message) string {
	t.Helper()
	m := temporaryPasswordPattern.FindStringSubmatch(msg.TextBody)
	require.Len(t, m, 2, "temporary password not found in email body")
	return m[1]
}
