package authority

import "time"

// Status is a user lifecycle state.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusDisabled Status = "DISABLED"
	StatusPending  Status = "PENDING"
)

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusDisabled, StatusPending:
		return true
	}
	return false
}

// GlobalProject is the scope whose role assignments apply everywhere.
const GlobalProject = "global"

// RoleSuperAdmin is the immutable system role bound to the first identity.
const RoleSuperAdmin = "Super Admin"

// User is a durable identity keyed by its Telegram id. Created on first
// successful login; profile fields refresh on every later login.
type User struct {
	ID             string    `json:"id"`
	TelegramID     int64     `json:"telegram_id,string"`
	TelegramChatID int64     `json:"-"`
	Username       string    `json:"username,omitempty"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name,omitempty"`
	PhotoURL       string    `json:"photo_url,omitempty"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Role is a named bundle of permission keys. System roles are immutable.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProjectRole binds a user to exactly one role within a project scope.
type ProjectRole struct {
	UserID    string    `json:"user_id"`
	Project   string    `json:"project"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// InvitationStatus tracks invitation consumption.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
)

// Invitation pre-authorizes a handle for a role within a project scope.
// Consumed exactly once, atomically, on the handle's first login.
type Invitation struct {
	ID        string           `json:"id"`
	Username  string           `json:"username"`
	Project   string           `json:"project"`
	RoleID    string           `json:"role_id"`
	Status    InvitationStatus `json:"status"`
	ExpiresAt time.Time        `json:"expires_at"`
	CreatedAt time.Time        `json:"created_at"`
}

// LoginCode is a live one-time login code. Only the SHA-256 hash of the
// code is stored; at most one live code exists per username.
type LoginCode struct {
	ID          string
	Username    string
	CodeHash    string
	ChatID      int64
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
}
