// Package telegram verifies Telegram Login Widget payloads and delivers
// one-time login codes through the Bot API.
package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// maxAuthAge bounds the replay window for widget payloads.
const maxAuthAge = time.Hour

var (
	// ErrNotConfigured indicates the bot token is missing. This is a
	// deployment fault, not a verification verdict, and is surfaced
	// separately from ErrBadSignature.
	ErrNotConfigured = errors.New("telegram: bot token is not configured")

	// ErrExpiredAuth indicates the payload is older than the replay window.
	ErrExpiredAuth = errors.New("telegram: auth data expired")

	// ErrBadSignature indicates the payload signature did not verify.
	ErrBadSignature = errors.New("telegram: invalid auth signature")
)

// LoginData is the signed payload posted by the Telegram Login Widget.
// https://core.telegram.org/widgets/login#checking-authorization
type LoginData struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
	AuthDate  int64  `json:"auth_date"`
	Hash      string `json:"hash"`
}

// Verifier checks widget payload signatures against the shared bot token.
type Verifier struct {
	token string
	now   func() time.Time
}

// NewVerifier constructs a Verifier. An empty token is allowed at
// construction time; Verify then fails with ErrNotConfigured.
func NewVerifier(token string, opts ...VerifierOption) *Verifier {
	v := &Verifier{token: strings.TrimSpace(token), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifierOption configures Verifier behavior.
type VerifierOption func(*Verifier)

// WithVerifierClock overrides the time source (useful for tests).
func WithVerifierClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// Verify authenticates a widget payload. The check-string is every set
// field except the hash, sorted by field name and newline-joined; the key
// is SHA256(bot token); the digest is HMAC-SHA256 compared in constant
// time against the supplied hash.
func (v *Verifier) Verify(d LoginData) error {
	if v.token == "" {
		return ErrNotConfigured
	}
	now := v.now().UTC().Unix()
	if now-d.AuthDate > int64(maxAuthAge.Seconds()) {
		return ErrExpiredAuth
	}

	fields := []string{
		fmt.Sprintf("auth_date=%d", d.AuthDate),
		fmt.Sprintf("first_name=%s", d.FirstName),
		fmt.Sprintf("id=%d", d.ID),
	}
	if d.LastName != "" {
		fields = append(fields, "last_name="+d.LastName)
	}
	if d.PhotoURL != "" {
		fields = append(fields, "photo_url="+d.PhotoURL)
	}
	if d.Username != "" {
		fields = append(fields, "username="+d.Username)
	}
	sort.Strings(fields)
	checkString := strings.Join(fields, "\n")

	secret := sha256.Sum256([]byte(v.token))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(checkString))
	computed := mac.Sum(nil)

	supplied, err := hex.DecodeString(strings.TrimSpace(d.Hash))
	if err != nil || !hmac.Equal(computed, supplied) {
		return ErrBadSignature
	}
	return nil
}
