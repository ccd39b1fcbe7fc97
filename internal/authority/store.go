package authority

import (
	"context"
	"time"
)

// Store describes the persistence operations the authority service needs.
// Implementations: NewMemory (tests, single-node dev) and NewPostgres.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Invitations(ctx context.Context) InvitationStore
	LoginCodes(ctx context.Context) LoginCodeStore
}

// UserStore manages durable identities.
type UserStore interface {
	Find(ctx context.Context, id string) (*User, error)
	FindByTelegramID(ctx context.Context, telegramID int64) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	Update(ctx context.Context, u *User) error
	SetStatus(ctx context.Context, id string, status Status) error
	SetChatID(ctx context.Context, username string, chatID int64) error

	// BootstrapFirstUser atomically creates u plus a global-scope
	// assignment to the named system role, but only when no user exists
	// yet. Returns false when the system is already bootstrapped. Two
	// concurrent first logins must not both succeed.
	BootstrapFirstUser(ctx context.Context, u *User, roleName string) (bool, error)
}

// RoleStore manages roles, role permissions and project assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	SetPermissions(ctx context.Context, roleID string, keys []string) error
	Permissions(ctx context.Context, roleID string) ([]string, error)

	// Assign upserts the single role a user holds within a project scope.
	Assign(ctx context.Context, assignment ProjectRole) error
	AssignmentsForUser(ctx context.Context, userID string) ([]ProjectRole, error)
	RemoveAssignment(ctx context.Context, userID, project string) error
}

// InvitationStore manages invitations and their one-shot redemption.
type InvitationStore interface {
	Create(ctx context.Context, inv *Invitation) error
	List(ctx context.Context) ([]*Invitation, error)
	FindPending(ctx context.Context, username string, now time.Time) (*Invitation, error)

	// Redeem atomically flips the invitation PENDING->ACCEPTED, creates
	// the user and binds the invitation's role at its project scope. A
	// concurrently consumed or expired invitation yields ErrNotFound and
	// creates nothing.
	Redeem(ctx context.Context, invitationID string, u *User, now time.Time) error
}

// LoginCodeStore manages live one-time codes.
type LoginCodeStore interface {
	// Replace removes any live code for the username and stores code, so
	// at most one code is ever live per handle.
	Replace(ctx context.Context, code *LoginCode) error
	FindLive(ctx context.Context, username string, now time.Time) (*LoginCode, error)
	// IncrementAttempts bumps the attempt counter and returns the new
	// value.
	IncrementAttempts(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) error
	DeleteForUsername(ctx context.Context, username string) error
}
