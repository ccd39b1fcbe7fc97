// Package logincode implements the out-of-band one-time-code login flow:
// codes are generated from a cryptographically strong source, delivered
// through a chat bot, stored only as hashes, and verified with bounded
// attempts.
package logincode

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"authcenter.org/internal/authority"
	"authcenter.org/internal/ratelimit"
)

const (
	codeTTL            = 5 * time.Minute
	defaultMaxAttempts = 5

	// 6-digit codes.
	codeMin  = 100000
	codeSpan = 900000

	userRateLimit  = 3
	ipRateLimit    = 5
	rateWindow     = 15 * time.Minute
	resolveTimeout = 10 * time.Second
)

var (
	// ErrDelivery is the generic request-code failure. It deliberately
	// does not reveal whether the handle exists or what went wrong.
	ErrDelivery = errors.New("logincode: could not send code")

	// ErrNoCode means no live code exists for the handle. An expired but
	// otherwise correct code reports this same error.
	ErrNoCode = errors.New("logincode: no code found, request a new one")

	// ErrLocked means the attempt budget is exhausted and the code was
	// deleted.
	ErrLocked = errors.New("logincode: too many attempts, request a new code")
)

// RateLimitedError reports a denied request-code call.
type RateLimitedError struct {
	RetryAt time.Time
}

func (e *RateLimitedError) Error() string {
	return "logincode: too many code requests"
}

// InvalidCodeError reports a wrong code with attempts still remaining.
type InvalidCodeError struct {
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("logincode: invalid code, %d attempts remaining", e.Remaining)
}

// ChatResolver resolves a delivery channel for a handle.
type ChatResolver interface {
	ResolveChat(ctx context.Context, username string) (int64, error)
}

// CodeSender delivers a code to a chat.
type CodeSender interface {
	SendCode(ctx context.Context, chatID int64, code string) error
}

// Manager drives the one-time-code state machine. Per-handle mutexes
// serialize verification so concurrent submissions cannot share an
// attempt slot.
type Manager struct {
	store    authority.Store
	limiter  *ratelimit.Limiter
	resolver ChatResolver
	sender   CodeSender
	now      func() time.Time

	mu      sync.Mutex
	handles map[string]*sync.Mutex
}

// Option configures Manager behavior.
type Option func(*Manager)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager.
func NewManager(store authority.Store, limiter *ratelimit.Limiter, resolver ChatResolver, sender CodeSender, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("logincode: store is required")
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}
	if resolver == nil || sender == nil {
		return nil, errors.New("logincode: resolver and sender are required")
	}
	m := &Manager{
		store:    store,
		limiter:  limiter,
		resolver: resolver,
		sender:   sender,
		now:      time.Now,
		handles:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) handleLock(username string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.handles[username]
	if !ok {
		lock = &sync.Mutex{}
		m.handles[username] = lock
	}
	return lock
}

// Request generates and delivers a one-time code for the handle. Any
// prior live code for the handle is invalidated; only a hash of the new
// code is stored. Failures that depend on handle existence all collapse
// into ErrDelivery.
func (m *Manager) Request(ctx context.Context, username, remoteAddr string) error {
	username = authority.NormalizeUsername(username)
	if username == "" {
		return fmt.Errorf("%w: username is required", authority.ErrInvalidInput)
	}

	if res := m.limiter.Allow("req-code:user:"+username, userRateLimit, rateWindow); !res.Allowed {
		return &RateLimitedError{RetryAt: res.ResetAt}
	}
	if res := m.limiter.Allow("req-code:ip:"+remoteAddr, ipRateLimit, rateWindow); !res.Allowed {
		return &RateLimitedError{RetryAt: res.ResetAt}
	}

	chatID, err := m.resolveChat(ctx, username)
	if err != nil {
		return err
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("logincode: generate code: %w", err)
	}

	record := &authority.LoginCode{
		Username:    username,
		CodeHash:    hashCode(code),
		ChatID:      chatID,
		ExpiresAt:   m.now().Add(codeTTL),
		Attempts:    0,
		MaxAttempts: defaultMaxAttempts,
	}
	if err := m.store.LoginCodes(ctx).Replace(ctx, record); err != nil {
		return err
	}

	if err := m.sender.SendCode(ctx, chatID, code); err != nil {
		// An undeliverable code must not stay live.
		_ = m.store.LoginCodes(ctx).DeleteForUsername(ctx, username)
		return ErrDelivery
	}
	return nil
}

// resolveChat prefers the chat id remembered on the user record, falling
// back to the external lookup. The external call is timeout-bounded so a
// hung Bot API cannot pin the rate-limit slot.
func (m *Manager) resolveChat(ctx context.Context, username string) (int64, error) {
	if u, err := m.store.Users(ctx).FindByUsername(ctx, username); err == nil && u.TelegramChatID != 0 {
		return u.TelegramChatID, nil
	}

	resolveCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	chatID, err := m.resolver.ResolveChat(resolveCtx, username)
	if err != nil {
		return 0, ErrDelivery
	}
	// Remember the chat id for next time; missing user is fine.
	if err := m.store.Users(ctx).SetChatID(ctx, username, chatID); err != nil && !errors.Is(err, authority.ErrNotFound) {
		return 0, err
	}
	return chatID, nil
}

// Verify checks a submitted code. On success the code is deleted and the
// chat id bound at request time is returned; it becomes the durable
// identity key. Deletion is always the final step after a determinate
// match/mismatch decision.
func (m *Manager) Verify(ctx context.Context, username, submitted string) (int64, error) {
	username = authority.NormalizeUsername(username)
	if username == "" || submitted == "" {
		return 0, fmt.Errorf("%w: username and code are required", authority.ErrInvalidInput)
	}

	lock := m.handleLock(username)
	lock.Lock()
	defer lock.Unlock()

	codes := m.store.LoginCodes(ctx)
	record, err := codes.FindLive(ctx, username, m.now())
	if err != nil {
		if errors.Is(err, authority.ErrNotFound) {
			return 0, ErrNoCode
		}
		return 0, err
	}

	if record.Attempts >= record.MaxAttempts {
		_ = codes.Delete(ctx, record.ID)
		return 0, ErrLocked
	}

	if !hashEqual(record.CodeHash, hashCode(submitted)) {
		attempts, err := codes.IncrementAttempts(ctx, record.ID)
		if err != nil {
			if errors.Is(err, authority.ErrNotFound) {
				return 0, ErrNoCode
			}
			return 0, err
		}
		if attempts >= record.MaxAttempts {
			_ = codes.Delete(ctx, record.ID)
			return 0, ErrLocked
		}
		return 0, &InvalidCodeError{Remaining: record.MaxAttempts - attempts}
	}

	// Single use: a correct code is gone after the first success.
	if err := codes.Delete(ctx, record.ID); err != nil && !errors.Is(err, authority.ErrNotFound) {
		return 0, err
	}
	return record.ChatID, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// hashEqual compares two hex digests in constant time. A length mismatch
// is a guaranteed mismatch without branching on content.
func hashEqual(stored, submitted string) bool {
	if len(stored) != len(submitted) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}
