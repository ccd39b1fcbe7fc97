package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type discriminators carried in the "type" claim.
const (
	TypeSession = "session"
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

const (
	defaultIssuer     = "auth-center"
	defaultSessionTTL = 7 * 24 * time.Hour
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// ErrInvalidToken indicates the token failed verification. Callers may
// surface the wrapped reason but must treat the token as rejected.
var ErrInvalidToken = errors.New("token: invalid token")

// UserSnapshot is the identity slice frozen into a project token.
type UserSnapshot struct {
	ID         string `json:"id"`
	TelegramID string `json:"telegramId"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"firstName"`
	PhotoURL   string `json:"photoUrl,omitempty"`
	Role       string `json:"role"`
}

// Claims is the closed claim set of a project access or refresh token.
type Claims struct {
	TelegramID  string   `json:"telegramId"`
	Username    string   `json:"username,omitempty"`
	FirstName   string   `json:"firstName"`
	PhotoURL    string   `json:"photoUrl,omitempty"`
	Role        string   `json:"role"`
	Project     string   `json:"project"`
	Permissions []string `json:"permissions"`
	Type        string   `json:"type"`
	jwt.RegisteredClaims
}

// User reconstructs the identity snapshot embedded in the claims.
func (c *Claims) User() UserSnapshot {
	return UserSnapshot{
		ID:         c.Subject,
		TelegramID: c.TelegramID,
		Username:   c.Username,
		FirstName:  c.FirstName,
		PhotoURL:   c.PhotoURL,
		Role:       c.Role,
	}
}

type sessionClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// Pair is an access/refresh token pair. ExpiresAt is the access token
// expiry as Unix seconds.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// Codec signs and verifies session and project tokens with a shared
// HS256 secret. Stateless; safe for concurrent use.
type Codec struct {
	secret     []byte
	issuer     string
	now        func() time.Time
	sessionTTL time.Duration
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Option configures Codec behavior.
type Option func(*Codec)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) Option {
	return func(c *Codec) {
		if strings.TrimSpace(issuer) != "" {
			c.issuer = strings.TrimSpace(issuer)
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.refreshTTL = ttl
		}
	}
}

// WithSessionTTL configures session token lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.sessionTTL = ttl
		}
	}
}

// NewCodec constructs a Codec from the shared signing secret.
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("token: signing secret is required")
	}
	c := &Codec{
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		now:        time.Now,
		sessionTTL: defaultSessionTTL,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SessionTTL returns the configured session token lifetime.
func (c *Codec) SessionTTL() time.Duration { return c.sessionTTL }

// AccessTTL returns the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// IssueSession signs a long-lived session token for the given user id.
func (c *Codec) IssueSession(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("token: userID is required")
	}
	now := c.now().UTC()
	claims := sessionClaims{
		Type: TypeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.sessionTTL)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign session token: %w", err)
	}
	return signed, nil
}

// VerifySession verifies a session token and returns the subject user id.
func (c *Codec) VerifySession(raw string) (string, error) {
	var claims sessionClaims
	if err := c.parse(raw, &claims); err != nil {
		return "", err
	}
	if claims.Type != TypeSession {
		return "", fmt.Errorf("%w: not a session token", ErrInvalidToken)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// IssuePair signs a project access/refresh token pair. Both tokens carry
// identical identity, project and permission claims; only the type
// discriminator and lifetime differ. A single "now" sample drives every
// timestamp in the pair.
func (c *Codec) IssuePair(user UserSnapshot, project string, permissions []string) (Pair, error) {
	if strings.TrimSpace(user.ID) == "" {
		return Pair{}, errors.New("token: user id is required")
	}
	if strings.TrimSpace(project) == "" {
		return Pair{}, errors.New("token: project is required")
	}
	if permissions == nil {
		permissions = []string{}
	}

	now := c.now().UTC()
	accessExp := now.Add(c.accessTTL)

	access, err := c.signProject(user, project, permissions, TypeAccess, now, accessExp)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := c.signProject(user, project, permissions, TypeRefresh, now, now.Add(c.refreshTTL))
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExp.Unix(),
	}, nil
}

func (c *Codec) signProject(user UserSnapshot, project string, permissions []string, tokenType string, now, expiresAt time.Time) (string, error) {
	claims := Claims{
		TelegramID:  user.TelegramID,
		Username:    user.Username,
		FirstName:   user.FirstName,
		PhotoURL:    user.PhotoURL,
		Role:        user.Role,
		Project:     project,
		Permissions: permissions,
		Type:        tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// VerifyAccess verifies a project access token and returns its claims. A
// refresh token presented here is rejected even though it carries the
// same signature scheme.
func (c *Codec) VerifyAccess(raw string) (*Claims, error) {
	var claims Claims
	if err := c.parse(raw, &claims); err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess {
		return nil, fmt.Errorf("%w: not an access token", ErrInvalidToken)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	return &claims, nil
}

// Refresh verifies a refresh token and reissues a fresh pair carrying the
// same subject, project and permission claims. Permissions are not
// re-derived from storage here; a revoked permission stays live until the
// access token expires.
func (c *Codec) Refresh(raw string) (Pair, error) {
	var claims Claims
	if err := c.parse(raw, &claims); err != nil {
		return Pair{}, err
	}
	if claims.Type != TypeRefresh {
		return Pair{}, fmt.Errorf("%w: not a refresh token", ErrInvalidToken)
	}
	return c.IssuePair(claims.User(), claims.Project, claims.Permissions)
}

func (c *Codec) parse(raw string, claims jwt.Claims) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	},
		jwt.WithIssuer(c.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return c.now().UTC() }),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}
