package authority

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"authcenter.org/internal/ids"
)

// Memory is an in-process Store used by tests and single-node
// development. All state lives behind one mutex; the atomic operations
// (bootstrap, invitation redemption) hold it across their whole
// read-modify-write.
type Memory struct {
	mu          sync.Mutex
	now         func() time.Time
	users       map[string]*User
	roles       map[string]*Role
	rolePerms   map[string][]string
	assignments map[string]ProjectRole // keyed userID + "\x00" + project
	invitations map[string]*Invitation
	codes       map[string]*LoginCode
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		now:         time.Now,
		users:       make(map[string]*User),
		roles:       make(map[string]*Role),
		rolePerms:   make(map[string][]string),
		assignments: make(map[string]ProjectRole),
		invitations: make(map[string]*Invitation),
		codes:       make(map[string]*LoginCode),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Users(context.Context) UserStore             { return (*memUsers)(m) }
func (m *Memory) Roles(context.Context) RoleStore             { return (*memRoles)(m) }
func (m *Memory) Invitations(context.Context) InvitationStore { return (*memInvitations)(m) }
func (m *Memory) LoginCodes(context.Context) LoginCodeStore   { return (*memCodes)(m) }

func assignmentKey(userID, project string) string { return userID + "\x00" + project }

// SeedUser inserts a user directly, bypassing admission. Tests use it to
// set up state that normally only bootstrap or redemption can create.
func (m *Memory) SeedUser(u *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	cp := *u
	if cp.ID == "" {
		cp.ID = ids.New()
	}
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.users[cp.ID] = &cp
	u.ID = cp.ID
}

func cloneUser(u *User) *User {
	cp := *u
	return &cp
}

// Users ---------------------------------------------------------------

type memUsers Memory

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *memUsers) FindByTelegramID(_ context.Context, telegramID int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.TelegramID == telegramID {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) FindByUsername(_ context.Context, username string) (*User, error) {
	username = strings.ToLower(username)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.ToLower(u.Username) == username && username != "" {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) List(context.Context) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memUsers) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *u
	cp.CreatedAt = cur.CreatedAt
	cp.UpdatedAt = m.now()
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) SetStatus(_ context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = m.now()
	return nil
}

func (m *memUsers) SetChatID(_ context.Context, username string, chatID int64) error {
	username = strings.ToLower(username)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.ToLower(u.Username) == username && username != "" {
			u.TelegramChatID = chatID
			u.UpdatedAt = m.now()
			return nil
		}
	}
	return ErrNotFound
}

func (m *memUsers) BootstrapFirstUser(_ context.Context, u *User, roleName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.users) > 0 {
		return false, nil
	}
	var role *Role
	for _, r := range m.roles {
		if r.Name == roleName {
			role = r
			break
		}
	}
	if role == nil {
		return false, ErrNotFound
	}
	now := m.now()
	cp := *u
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.users[cp.ID] = &cp
	m.assignments[assignmentKey(cp.ID, GlobalProject)] = ProjectRole{
		UserID:    cp.ID,
		Project:   GlobalProject,
		RoleID:    role.ID,
		CreatedAt: now,
	}
	return true, nil
}

// Roles ---------------------------------------------------------------

type memRoles Memory

func (m *memRoles) Create(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == role.Name {
			return ErrAlreadyExists
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	now := m.now()
	cp := *role
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.roles[cp.ID] = &cp
	return nil
}

func (m *memRoles) Find(_ context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRoles) FindByName(_ context.Context, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRoles) List(context.Context) ([]*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Role, 0, len(m.roles))
	for _, r := range m.roles {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRoles) SetPermissions(_ context.Context, roleID string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	m.rolePerms[roleID] = append([]string(nil), keys...)
	return nil
}

func (m *memRoles) Permissions(_ context.Context, roleID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), m.rolePerms[roleID]...), nil
}

func (m *memRoles) Assign(_ context.Context, assignment ProjectRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[assignment.UserID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.roles[assignment.RoleID]; !ok {
		return ErrNotFound
	}
	assignment.CreatedAt = m.now()
	m.assignments[assignmentKey(assignment.UserID, assignment.Project)] = assignment
	return nil
}

func (m *memRoles) AssignmentsForUser(_ context.Context, userID string) ([]ProjectRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ProjectRole
	for _, a := range m.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Project < out[j].Project })
	return out, nil
}

func (m *memRoles) RemoveAssignment(_ context.Context, userID, project string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assignmentKey(userID, project)
	if _, ok := m.assignments[key]; !ok {
		return ErrNotFound
	}
	delete(m.assignments, key)
	return nil
}

// Invitations ---------------------------------------------------------

type memInvitations Memory

func (m *memInvitations) Create(_ context.Context, inv *Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[inv.RoleID]; !ok {
		return ErrNotFound
	}
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	if inv.Status == "" {
		inv.Status = InvitationPending
	}
	cp := *inv
	cp.CreatedAt = m.now()
	m.invitations[cp.ID] = &cp
	return nil
}

func (m *memInvitations) List(context.Context) ([]*Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Invitation, 0, len(m.invitations))
	for _, inv := range m.invitations {
		cp := *inv
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memInvitations) FindPending(_ context.Context, username string, now time.Time) (*Invitation, error) {
	username = strings.ToLower(username)
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *Invitation
	for _, inv := range m.invitations {
		if strings.ToLower(inv.Username) != username {
			continue
		}
		if inv.Status != InvitationPending || !inv.ExpiresAt.After(now) {
			continue
		}
		if newest == nil || inv.CreatedAt.After(newest.CreatedAt) {
			newest = inv
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

func (m *memInvitations) Redeem(_ context.Context, invitationID string, u *User, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invitations[invitationID]
	if !ok || inv.Status != InvitationPending || !inv.ExpiresAt.After(now) {
		return ErrNotFound
	}
	cp := *u
	cp.CreatedAt, cp.UpdatedAt = m.now(), m.now()
	m.users[cp.ID] = &cp
	m.assignments[assignmentKey(cp.ID, inv.Project)] = ProjectRole{
		UserID:    cp.ID,
		Project:   inv.Project,
		RoleID:    inv.RoleID,
		CreatedAt: m.now(),
	}
	inv.Status = InvitationAccepted
	return nil
}

// Login codes ---------------------------------------------------------

type memCodes Memory

func (m *memCodes) Replace(_ context.Context, code *LoginCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.codes {
		if c.Username == code.Username {
			delete(m.codes, id)
		}
	}
	if code.ID == "" {
		code.ID = ids.New()
	}
	cp := *code
	cp.CreatedAt = m.now()
	m.codes[cp.ID] = &cp
	return nil
}

func (m *memCodes) FindLive(_ context.Context, username string, now time.Time) (*LoginCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Expired codes are purged on touch.
	for id, c := range m.codes {
		if c.Username == username && !c.ExpiresAt.After(now) {
			delete(m.codes, id)
		}
	}
	for _, c := range m.codes {
		if c.Username == username && c.ExpiresAt.After(now) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memCodes) IncrementAttempts(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[id]
	if !ok {
		return 0, ErrNotFound
	}
	c.Attempts++
	return c.Attempts, nil
}

func (m *memCodes) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[id]; !ok {
		return ErrNotFound
	}
	delete(m.codes, id)
	return nil
}

func (m *memCodes) DeleteForUsername(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.codes {
		if c.Username == username {
			delete(m.codes, id)
		}
	}
	return nil
}
