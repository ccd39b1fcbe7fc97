package authority

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"authcenter.org/internal/ids"
)

// bootstrapLockID serializes first-user bootstrap across instances.
const bootstrapLockID = 5117

var _ Store = (*Postgres)(nil)

// Postgres implements Store on PostgreSQL via the pgx stdlib driver.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres opens a pooled connection for the DSN.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewPostgres(db), nil
}

// DB exposes the underlying handle for readiness probes.
func (p *Postgres) DB() *sql.DB { return p.db }

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Users(context.Context) UserStore             { return &pgUsers{db: p.db} }
func (p *Postgres) Roles(context.Context) RoleStore             { return &pgRoles{db: p.db} }
func (p *Postgres) Invitations(context.Context) InvitationStore { return &pgInvitations{db: p.db} }
func (p *Postgres) LoginCodes(context.Context) LoginCodeStore   { return &pgCodes{db: p.db} }

// Users ---------------------------------------------------------------

type pgUsers struct{ db *sql.DB }

const userColumns = `id, telegram_id, telegram_chat_id, username, first_name, last_name, photo_url, status, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u        User
		chatID   sql.NullInt64
		username sql.NullString
		lastName sql.NullString
		photoURL sql.NullString
	)
	if err := row.Scan(&u.ID, &u.TelegramID, &chatID, &username, &u.FirstName,
		&lastName, &photoURL, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.TelegramChatID = chatID.Int64
	u.Username = username.String
	u.LastName = lastName.String
	u.PhotoURL = photoURL.String
	return &u, nil
}

func (s *pgUsers) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *pgUsers) FindByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where telegram_id=$1`, telegramID))
}

func (s *pgUsers) FindByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(username)=lower($1)`, username))
}

func (s *pgUsers) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *pgUsers) Update(ctx context.Context, u *User) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set username=nullif($2,''), first_name=$3, last_name=nullif($4,''),
		    photo_url=nullif($5,''), telegram_chat_id=nullif($6,0),
		    status=$7, updated_at=now()
		where id=$1`,
		u.ID, u.Username, u.FirstName, u.LastName, u.PhotoURL, u.TelegramChatID, u.Status)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *pgUsers) SetStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx,
		`update users set status=$2, updated_at=now() where id=$1`, id, status)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *pgUsers) SetChatID(ctx context.Context, username string, chatID int64) error {
	res, err := s.db.ExecContext(ctx,
		`update users set telegram_chat_id=$2, updated_at=now() where lower(username)=lower($1)`,
		username, chatID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *pgUsers) BootstrapFirstUser(ctx context.Context, u *User, roleName string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	// Advisory lock so two concurrent first logins cannot both observe an
	// empty users table.
	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, bootstrapLockID); err != nil {
		return false, err
	}

	var count int
	if err := tx.QueryRowContext(ctx, `select count(*) from users`).Scan(&count); err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	var roleID string
	if err := tx.QueryRowContext(ctx,
		`select id from roles where name=$1`, roleName).Scan(&roleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: role %q", ErrNotFound, roleName)
		}
		return false, err
	}

	if err := insertUser(ctx, tx, u); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into user_project_roles(user_id, project, role_id) values($1,$2,$3)`,
		u.ID, GlobalProject, roleID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertUser(ctx context.Context, db execer, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := db.ExecContext(ctx, `
		insert into users(id, telegram_id, telegram_chat_id, username, first_name, last_name, photo_url, status)
		values($1,$2,nullif($3,0),nullif($4,''),$5,nullif($6,''),nullif($7,''),$8)`,
		u.ID, u.TelegramID, u.TelegramChatID, u.Username, u.FirstName, u.LastName, u.PhotoURL, u.Status)
	return err
}

// Roles ---------------------------------------------------------------

type pgRoles struct{ db *sql.DB }

const roleColumns = `id, name, coalesce(description,''), is_system, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (*Role, error) {
	var r Role
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *pgRoles) Create(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	res, err := s.db.ExecContext(ctx, `
		insert into roles(id, name, description, is_system)
		values($1,$2,nullif($3,''),$4)
		on conflict (name) do nothing`,
		role.ID, role.Name, role.Description, role.IsSystem)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *pgRoles) Find(ctx context.Context, id string) (*Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where id=$1`, id))
}

func (s *pgRoles) FindByName(ctx context.Context, name string) (*Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where name=$1`, name))
}

func (s *pgRoles) List(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+roleColumns+` from roles order by name asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgRoles) SetPermissions(ctx context.Context, roleID string, keys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`delete from role_permissions where role_id=$1`, roleID); err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx,
			`insert into role_permissions(role_id, permission_key) values($1,$2) on conflict do nothing`,
			roleID, key); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *pgRoles) Permissions(ctx context.Context, roleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select permission_key from role_permissions where role_id=$1 order by permission_key`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (s *pgRoles) Assign(ctx context.Context, assignment ProjectRole) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_project_roles(user_id, project, role_id)
		values($1,$2,$3)
		on conflict (user_id, project) do update set role_id=excluded.role_id`,
		assignment.UserID, assignment.Project, assignment.RoleID)
	return err
}

func (s *pgRoles) AssignmentsForUser(ctx context.Context, userID string) ([]ProjectRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, project, role_id, created_at
		from user_project_roles where user_id=$1 order by project`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProjectRole
	for rows.Next() {
		var a ProjectRole
		if err := rows.Scan(&a.UserID, &a.Project, &a.RoleID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *pgRoles) RemoveAssignment(ctx context.Context, userID, project string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from user_project_roles where user_id=$1 and project=$2`, userID, project)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// Invitations ---------------------------------------------------------

type pgInvitations struct{ db *sql.DB }

func (s *pgInvitations) Create(ctx context.Context, inv *Invitation) error {
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	if inv.Status == "" {
		inv.Status = InvitationPending
	}
	_, err := s.db.ExecContext(ctx, `
		insert into invitations(id, username, project, role_id, status, expires_at)
		values($1,lower($2),$3,$4,$5,$6)`,
		inv.ID, inv.Username, inv.Project, inv.RoleID, inv.Status, inv.ExpiresAt)
	return err
}

func (s *pgInvitations) List(ctx context.Context) ([]*Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, username, project, role_id, status, expires_at, created_at
		from invitations order by created_at desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Invitation
	for rows.Next() {
		var inv Invitation
		if err := rows.Scan(&inv.ID, &inv.Username, &inv.Project, &inv.RoleID,
			&inv.Status, &inv.ExpiresAt, &inv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &inv)
	}
	return out, rows.Err()
}

func (s *pgInvitations) FindPending(ctx context.Context, username string, now time.Time) (*Invitation, error) {
	var inv Invitation
	err := s.db.QueryRowContext(ctx, `
		select id, username, project, role_id, status, expires_at, created_at
		from invitations
		where lower(username)=lower($1) and status=$2 and expires_at > $3
		order by created_at desc limit 1`,
		username, InvitationPending, now).
		Scan(&inv.ID, &inv.Username, &inv.Project, &inv.RoleID, &inv.Status, &inv.ExpiresAt, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (s *pgInvitations) Redeem(ctx context.Context, invitationID string, u *User, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Accept-once: the conditional update is the gate; zero rows means a
	// concurrent redemption or expiry won.
	var project, roleID string
	err = tx.QueryRowContext(ctx, `
		update invitations set status=$2
		where id=$1 and status=$3 and expires_at > $4
		returning project, role_id`,
		invitationID, InvitationAccepted, InvitationPending, now).Scan(&project, &roleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	if err := insertUser(ctx, tx, u); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into user_project_roles(user_id, project, role_id) values($1,$2,$3)`,
		u.ID, project, roleID); err != nil {
		return err
	}
	return tx.Commit()
}

// Login codes ---------------------------------------------------------

type pgCodes struct{ db *sql.DB }

func (s *pgCodes) Replace(ctx context.Context, code *LoginCode) error {
	if code.ID == "" {
		code.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`delete from login_codes where username=$1`, code.Username); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into login_codes(id, username, code_hash, chat_id, expires_at, attempts, max_attempts)
		values($1,$2,$3,$4,$5,$6,$7)`,
		code.ID, code.Username, code.CodeHash, code.ChatID, code.ExpiresAt, code.Attempts, code.MaxAttempts); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgCodes) FindLive(ctx context.Context, username string, now time.Time) (*LoginCode, error) {
	// Expired codes are purged on touch.
	if _, err := s.db.ExecContext(ctx,
		`delete from login_codes where username=$1 and expires_at <= $2`,
		username, now); err != nil {
		return nil, err
	}
	var c LoginCode
	err := s.db.QueryRowContext(ctx, `
		select id, username, code_hash, chat_id, expires_at, attempts, max_attempts, created_at
		from login_codes
		where username=$1 and expires_at > $2
		order by created_at desc limit 1`,
		username, now).
		Scan(&c.ID, &c.Username, &c.CodeHash, &c.ChatID, &c.ExpiresAt, &c.Attempts, &c.MaxAttempts, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *pgCodes) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`update login_codes set attempts = attempts + 1 where id=$1 returning attempts`, id).
		Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return attempts, nil
}

func (s *pgCodes) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from login_codes where id=$1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *pgCodes) DeleteForUsername(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx, `delete from login_codes where username=$1`, username)
	return err
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
