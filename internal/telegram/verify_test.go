package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testBotToken = "110201543:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"

// signLoginData produces the widget signature the same way Telegram does.
func signLoginData(d LoginData) string {
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
	secret := sha256.Sum256([]byte(testBotToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(strings.Join(fields, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}

func testLoginData(now time.Time) LoginData {
	d := LoginData{
		ID:        987654321,
		FirstName: "Alice",
		LastName:  "Liddell",
		Username:  "alice",
		PhotoURL:  "https://t.me/i/userpic/alice.jpg",
		AuthDate:  now.Unix(),
	}
	d.Hash = signLoginData(d)
	return d
}

func TestVerifyAcceptsSignedPayload(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	v := NewVerifier(testBotToken, WithVerifierClock(func() time.Time { return now }))
	require.NoError(t, v.Verify(testLoginData(now)))
}

func TestVerifyAcceptsPayloadWithoutOptionalFields(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	v := NewVerifier(testBotToken, WithVerifierClock(func() time.Time { return now }))

	d := LoginData{ID: 42, FirstName: "Bob", AuthDate: now.Unix()}
	d.Hash = signLoginData(d)
	require.NoError(t, v.Verify(d))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	v := NewVerifier(testBotToken, WithVerifierClock(func() time.Time { return now }))

	d := testLoginData(now)
	d.Username = "mallory"
	require.ErrorIs(t, v.Verify(d), ErrBadSignature)
}

func TestVerifyRejectsBadHash(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	v := NewVerifier(testBotToken, WithVerifierClock(func() time.Time { return now }))

	d := testLoginData(now)
	d.Hash = "not-hex"
	require.ErrorIs(t, v.Verify(d), ErrBadSignature)

	d.Hash = hex.EncodeToString([]byte("short"))
	require.ErrorIs(t, v.Verify(d), ErrBadSignature)
}

func TestVerifyRejectsStalePayload(t *testing.T) {
	authTime := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := authTime.Add(61 * time.Minute)
	v := NewVerifier(testBotToken, WithVerifierClock(func() time.Time { return now }))
	require.ErrorIs(t, v.Verify(testLoginData(authTime)), ErrExpiredAuth)
}

func TestVerifyMissingTokenIsConfigError(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	v := NewVerifier("", WithVerifierClock(func() time.Time { return now }))
	require.ErrorIs(t, v.Verify(testLoginData(now)), ErrNotConfigured)
}
