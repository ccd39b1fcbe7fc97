package authority

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"authcenter.org/internal/ids"
	"authcenter.org/internal/permission"
	"authcenter.org/internal/token"
)

// defaultRoleName is reported for users who hold no role in a scope.
const defaultRoleName = "viewer"

// Profile carries the identity fields observed during a login attempt.
type Profile struct {
	TelegramID int64
	ChatID     int64
	Username   string
	FirstName  string
	LastName   string
	PhotoURL   string
}

// Service resolves verified login attempts into durable identities,
// aggregates permissions across scopes, and issues tokens.
type Service struct {
	store  Store
	tokens *token.Codec
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, tokens *token.Codec, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("authority: store is required")
	}
	if tokens == nil {
		return nil, errors.New("authority: token codec is required")
	}
	s := &Service{store: store, tokens: tokens, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureBuiltins creates the immutable Super Admin role (wildcard
// permission, global scope) if it does not exist yet.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	roles := s.store.Roles(ctx)
	if _, err := roles.FindByName(ctx, RoleSuperAdmin); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	role := &Role{
		Name:        RoleSuperAdmin,
		Description: "Full access to all projects and settings. Cannot be modified or deleted.",
		IsSystem:    true,
	}
	if err := roles.Create(ctx, role); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil
		}
		return err
	}
	return roles.SetPermissions(ctx, role.ID, []string{permission.Wildcard})
}

// Admit resolves a verified login into a durable identity. Existing
// active users get a profile refresh; a disabled user is rejected; a
// first-seen identity is admitted through the one-time bootstrap or a
// pending invitation matching its handle.
func (s *Service) Admit(ctx context.Context, p Profile) (*User, error) {
	if p.TelegramID == 0 {
		return nil, fmt.Errorf("%w: telegram id is required", ErrInvalidInput)
	}
	p.Username = NormalizeUsername(p.Username)

	users := s.store.Users(ctx)
	existing, err := users.FindByTelegramID(ctx, p.TelegramID)
	switch {
	case err == nil:
		if existing.Status == StatusDisabled {
			return nil, ErrDisabled
		}
		s.refreshProfile(existing, p)
		if err := users.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	u := s.newUserFromProfile(p)

	bootstrapped, err := users.BootstrapFirstUser(ctx, u, RoleSuperAdmin)
	if err != nil {
		return nil, err
	}
	if bootstrapped {
		return u, nil
	}

	// Not the first identity: an invitation is required. The error is the
	// same whether the handle is unknown or simply uninvited.
	if p.Username == "" {
		return nil, fmt.Errorf("%w: an invitation is required", ErrAccessDenied)
	}
	now := s.now()
	inv, err := s.store.Invitations(ctx).FindPending(ctx, p.Username, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: an invitation is required", ErrAccessDenied)
		}
		return nil, err
	}
	if err := s.store.Invitations(ctx).Redeem(ctx, inv.ID, u, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: an invitation is required", ErrAccessDenied)
		}
		return nil, err
	}
	return u, nil
}

func (s *Service) newUserFromProfile(p Profile) *User {
	firstName := p.FirstName
	if firstName == "" {
		firstName = p.Username
	}
	return &User{
		ID:             ids.New(),
		TelegramID:     p.TelegramID,
		TelegramChatID: p.ChatID,
		Username:       p.Username,
		FirstName:      firstName,
		LastName:       p.LastName,
		PhotoURL:       p.PhotoURL,
		Status:         StatusActive,
	}
}

func (s *Service) refreshProfile(u *User, p Profile) {
	if p.FirstName != "" {
		u.FirstName = p.FirstName
	}
	if p.LastName != "" {
		u.LastName = p.LastName
	}
	if p.Username != "" {
		u.Username = p.Username
	}
	if p.PhotoURL != "" {
		u.PhotoURL = p.PhotoURL
	}
	if p.ChatID != 0 {
		u.TelegramChatID = p.ChatID
	}
}

// IssueSession signs a session token for the user.
func (s *Service) IssueSession(u *User) (string, error) {
	return s.tokens.IssueSession(u.ID)
}

// ResolveSession verifies a session token and loads the user fresh from
// storage, so status and role changes take effect immediately for
// sessions (unlike project tokens, which stay valid until expiry).
func (s *Service) ResolveSession(ctx context.Context, raw string) (*User, error) {
	userID, err := s.tokens.VerifySession(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid session", ErrAccessDenied)
	}
	u, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid session", ErrAccessDenied)
		}
		return nil, err
	}
	if u.Status == StatusDisabled {
		return nil, ErrDisabled
	}
	return u, nil
}

// Permissions unions the permission keys of every role the user holds
// where the assignment scope equals project or is global. An empty
// project unions every assignment. The result is deduplicated and
// sorted.
func (s *Service) Permissions(ctx context.Context, userID, project string) ([]string, error) {
	assignments, err := s.store.Roles(ctx).AssignmentsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, a := range assignments {
		if project != "" && a.Project != project && a.Project != GlobalProject {
			continue
		}
		keys, err := s.store.Roles(ctx).Permissions(ctx, a.RoleID)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// RoleNames maps each project the user is assigned in to its role name.
func (s *Service) RoleNames(ctx context.Context, userID string) (map[string]string, error) {
	assignments, err := s.store.Roles(ctx).AssignmentsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(assignments))
	for _, a := range assignments {
		role, err := s.store.Roles(ctx).Find(ctx, a.RoleID)
		if err != nil {
			return nil, err
		}
		out[a.Project] = role.Name
	}
	return out, nil
}

// RoleForProject returns the name of the role effective for the user in
// the project, preferring a project-scoped assignment over a global one
// and falling back to "viewer" when neither exists.
func (s *Service) RoleForProject(ctx context.Context, userID, project string) (string, error) {
	names, err := s.RoleNames(ctx, userID)
	if err != nil {
		return "", err
	}
	if name, ok := names[project]; ok {
		return name, nil
	}
	if name, ok := names[GlobalProject]; ok {
		return name, nil
	}
	return defaultRoleName, nil
}

// IssueProjectToken aggregates the user's permissions for the project and
// mints an access/refresh pair carrying the frozen snapshot.
func (s *Service) IssueProjectToken(ctx context.Context, u *User, project string) (token.Pair, error) {
	if u.Status == StatusDisabled {
		return token.Pair{}, ErrDisabled
	}
	perms, err := s.Permissions(ctx, u.ID, project)
	if err != nil {
		return token.Pair{}, err
	}
	role, err := s.RoleForProject(ctx, u.ID, project)
	if err != nil {
		return token.Pair{}, err
	}
	return s.tokens.IssuePair(Snapshot(u, role), project, perms)
}

// Snapshot freezes the token-relevant identity fields.
func Snapshot(u *User, role string) token.UserSnapshot {
	return token.UserSnapshot{
		ID:         u.ID,
		TelegramID: strconv.FormatInt(u.TelegramID, 10),
		Username:   u.Username,
		FirstName:  u.FirstName,
		PhotoURL:   u.PhotoURL,
		Role:       role,
	}
}

// NormalizeUsername lower-cases a handle and strips a leading @.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}
