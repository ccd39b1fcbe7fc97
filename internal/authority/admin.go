package authority

import (
	"context"
	"fmt"
	"strings"
	"time"

	"authcenter.org/internal/ids"
	"authcenter.org/internal/permission"
)

// defaultInvitationTTL bounds how long an unredeemed invitation stays
// redeemable.
const defaultInvitationTTL = 7 * 24 * time.Hour

// ListUsers returns every durable identity.
func (s *Service) ListUsers(ctx context.Context) ([]*User, error) {
	return s.store.Users(ctx).List(ctx)
}

// SetUserStatus updates a user's lifecycle state. Takes effect
// immediately for sessions; already-issued project tokens run out their
// remaining lifetime.
func (s *Service) SetUserStatus(ctx context.Context, userID string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.store.Users(ctx).SetStatus(ctx, userID, status)
}

// CreateRole creates a non-system role with a validated permission set.
func (s *Service) CreateRole(ctx context.Context, name, description string, keys []string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if err := validatePermissionKeys(keys); err != nil {
		return nil, err
	}
	role := &Role{Name: name, Description: strings.TrimSpace(description)}
	if err := s.store.Roles(ctx).Create(ctx, role); err != nil {
		return nil, err
	}
	if len(keys) > 0 {
		if err := s.store.Roles(ctx).SetPermissions(ctx, role.ID, permission.Dedupe(keys)); err != nil {
			return nil, err
		}
	}
	return role, nil
}

// ListRoles returns every role with its permission set.
func (s *Service) ListRoles(ctx context.Context) ([]*Role, map[string][]string, error) {
	roles, err := s.store.Roles(ctx).List(ctx)
	if err != nil {
		return nil, nil, err
	}
	perms := make(map[string][]string, len(roles))
	for _, role := range roles {
		keys, err := s.store.Roles(ctx).Permissions(ctx, role.ID)
		if err != nil {
			return nil, nil, err
		}
		perms[role.ID] = keys
	}
	return roles, perms, nil
}

// SetRolePermissions replaces a role's permission set. System roles are
// immutable.
func (s *Service) SetRolePermissions(ctx context.Context, roleID string, keys []string) error {
	role, err := s.store.Roles(ctx).Find(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: %s", ErrSystemRole, role.Name)
	}
	if err := validatePermissionKeys(keys); err != nil {
		return err
	}
	return s.store.Roles(ctx).SetPermissions(ctx, roleID, permission.Dedupe(keys))
}

// AssignRole binds a user to a role within a project scope, replacing any
// existing assignment in that scope.
func (s *Service) AssignRole(ctx context.Context, userID, project, roleID string) error {
	if userID == "" || project == "" || roleID == "" {
		return fmt.Errorf("%w: user_id, project and role_id are required", ErrInvalidInput)
	}
	return s.store.Roles(ctx).Assign(ctx, ProjectRole{
		UserID:  userID,
		Project: project,
		RoleID:  roleID,
	})
}

// RemoveAssignment unbinds a user's role in a project scope.
func (s *Service) RemoveAssignment(ctx context.Context, userID, project string) error {
	return s.store.Roles(ctx).RemoveAssignment(ctx, userID, project)
}

// CreateInvitation pre-authorizes a handle for a role within a project.
func (s *Service) CreateInvitation(ctx context.Context, username, project, roleID string, expiresAt time.Time) (*Invitation, error) {
	username = NormalizeUsername(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if project == "" || roleID == "" {
		return nil, fmt.Errorf("%w: project and role_id are required", ErrInvalidInput)
	}
	if _, err := s.store.Roles(ctx).Find(ctx, roleID); err != nil {
		return nil, err
	}
	if expiresAt.IsZero() {
		expiresAt = s.now().Add(defaultInvitationTTL)
	}
	inv := &Invitation{
		ID:        ids.New(),
		Username:  username,
		Project:   project,
		RoleID:    roleID,
		Status:    InvitationPending,
		ExpiresAt: expiresAt,
	}
	if err := s.store.Invitations(ctx).Create(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvitations returns every invitation, newest first.
func (s *Service) ListInvitations(ctx context.Context) ([]*Invitation, error) {
	return s.store.Invitations(ctx).List(ctx)
}

func validatePermissionKeys(keys []string) error {
	for _, key := range keys {
		if !permission.ValidKey(key) {
			return fmt.Errorf("%w: malformed permission %q", ErrInvalidInput, key)
		}
	}
	return nil
}
