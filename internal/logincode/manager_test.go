package logincode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authcenter.org/internal/authority"
	"authcenter.org/internal/ratelimit"
)

type fakeBot struct {
	mu       sync.Mutex
	chats    map[string]int64
	sent     []string
	sendErr  error
	resolved int
}

func newFakeBot() *fakeBot {
	return &fakeBot{chats: map[string]int64{"alice": 111}}
}

func (b *fakeBot) ResolveChat(_ context.Context, username string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolved++
	id, ok := b.chats[username]
	if !ok {
		return 0, errors.New("chat not found")
	}
	return id, nil
}

func (b *fakeBot) SendCode(_ context.Context, _ int64, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, code)
	return nil
}

func (b *fakeBot) lastCode(t *testing.T) string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.sent, "no code was sent")
	return b.sent[len(b.sent)-1]
}

func newTestManager(t *testing.T, bot *fakeBot) (*Manager, *authority.Memory) {
	t.Helper()
	store := authority.NewMemory()
	m, err := NewManager(store, ratelimit.New(), bot, bot)
	require.NoError(t, err)
	return m, store
}

func TestRequestAndVerify(t *testing.T) {
	bot := newFakeBot()
	m, store := newTestManager(t, bot)
	ctx := context.Background()

	require.NoError(t, m.Request(ctx, "@Alice", "10.0.0.1"))

	code := bot.lastCode(t)
	require.Len(t, code, 6)

	rec, err := store.LoginCodes(ctx).FindLive(ctx, "alice", time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, code, rec.CodeHash, "plaintext code must not be stored")

	chatID, err := m.Verify(ctx, "alice", code)
	require.NoError(t, err)
	assert.Equal(t, int64(111), chatID)

	// Single use.
	_, err = m.Verify(ctx, "alice", code)
	require.ErrorIs(t, err, ErrNoCode)
}

func TestRequestReplacesPriorCode(t *testing.T) {
	bot := newFakeBot()
	m, _ := newTestManager(t, bot)
	ctx := context.Background()

	require.NoError(t, m.Request(ctx, "alice", "10.0.0.1"))
	first := bot.lastCode(t)
	require.NoError(t, m.Request(ctx, "alice", "10.0.0.1"))
	second := bot.lastCode(t)

	if first != second {
		_, err := m.Verify(ctx, "alice", first)
		var invalid *InvalidCodeError
		require.ErrorAs(t, err, &invalid)
	}
	_, err := m.Verify(ctx, "alice", second)
	require.NoError(t, err)
}

func TestRequestUnknownHandleIsGeneric(t *testing.T) {
	bot := newFakeBot()
	m, _ := newTestManager(t, bot)

	err := m.Request(context.Background(), "nobody", "10.0.0.1")
	require.ErrorIs(t, err, ErrDelivery)
}

func TestRequestSendFailureDeletesCode(t *testing.T) {
	bot := newFakeBot()
	bot.sendErr = errors.New("blocked by user")
	m, store := newTestManager(t, bot)
	ctx := context.Background()

	err := m.Request(ctx, "alice", "10.0.0.1")
	require.ErrorIs(t, err, ErrDelivery)

	_, err = store.LoginCodes(ctx).FindLive(ctx, "alice", time.Now())
	require.ErrorIs(t, err, authority.ErrNotFound)
}

func TestRequestRateLimits(t *testing.T) {
	bot := newFakeBot()
	m, _ := newTestManager(t, bot)
	ctx := context.Background()

	t.Run("per handle", func(t *testing.T) {
		for i := 0; i < userRateLimit; i++ {
			require.NoError(t, m.Request(ctx, "alice", "10.0.0.1"))
		}
		err := m.Request(ctx, "alice", "10.0.0.1")
		var limited *RateLimitedError
		require.ErrorAs(t, err, &limited)
		assert.True(t, limited.RetryAt.After(time.Now()))
	})

	t.Run("per ip across handles", func(t *testing.T) {
		bot := newFakeBot()
		for _, h := range []string{"u1", "u2", "u3", "u4", "u5"} {
			bot.chats[h] = 500
		}
		m, _ := newTestManager(t, bot)
		for _, h := range []string{"u1", "u2", "u3", "u4", "u5"} {
			require.NoError(t, m.Request(ctx, h, "10.9.9.9"))
		}
		bot.chats["u6"] = 500
		err := m.Request(ctx, "u6", "10.9.9.9")
		var limited *RateLimitedError
		require.ErrorAs(t, err, &limited)
	})
}

func TestVerifyWrongCodeCountsAttempts(t *testing.T) {
	bot := newFakeBot()
	m, _ := newTestManager(t, bot)
	ctx := context.Background()

	require.NoError(t, m.Request(ctx, "alice", "10.0.0.1"))

	for want := defaultMaxAttempts - 1; want >= 1; want-- {
		_, err := m.Verify(ctx, "alice", "000000")
		var invalid *InvalidCodeError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, want, invalid.Remaining)
	}

	// The final wrong attempt locks out and deletes the code.
	_, err := m.Verify(ctx, "alice", "000000")
	require.ErrorIs(t, err, ErrLocked)

	// Even the correct code is gone now.
	_, err = m.Verify(ctx, "alice", bot.lastCode(t))
	require.ErrorIs(t, err, ErrNoCode)
}

func TestVerifyExpiredCode(t *testing.T) {
	bot := newFakeBot()
	store := authority.NewMemory()
	now := time.Now()
	clock := func() time.Time { return now }
	m, err := NewManager(store, ratelimit.New(), bot, bot, WithClock(func() time.Time { return clock() }))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Request(ctx, "alice", "10.0.0.1"))

	later := now.Add(codeTTL + time.Second)
	clock = func() time.Time { return later }

	_, err = m.Verify(ctx, "alice", bot.lastCode(t))
	require.ErrorIs(t, err, ErrNoCode)
}

func TestRequestRemembersChatID(t *testing.T) {
	bot := newFakeBot()
	m, store := newTestManager(t, bot)
	ctx := context.Background()

	// Seed a user without a stored chat id.
	store.SeedUser(&authority.User{
		TelegramID: 111, Username: "alice", FirstName: "Alice",
		Status: authority.StatusActive,
	})

	require.NoError(t, m.Request(ctx, "alice", "10.0.0.1"))
	assert.Equal(t, 1, bot.resolved)

	u, err := store.Users(ctx).FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(111), u.TelegramChatID)

	// Second request reuses the stored chat id without a lookup.
	require.NoError(t, m.Request(ctx, "alice", "10.0.0.1"))
	assert.Equal(t, 1, bot.resolved)
}
