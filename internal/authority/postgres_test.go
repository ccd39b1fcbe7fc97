package authority

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func userRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "telegram_id", "telegram_chat_id", "username", "first_name",
		"last_name", "photo_url", "status", "created_at", "updated_at",
	}).AddRow("u1", int64(111), int64(111), "alice", "Alice", nil, nil, "ACTIVE", now, now)
}

func TestPGUsersFindByTelegramID(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("select (.+) from users where telegram_id=\\$1").
		WithArgs(int64(111)).
		WillReturnRows(userRows())

	u, err := store.Users(ctx).FindByTelegramID(ctx, 111)
	if err != nil {
		t.Fatalf("FindByTelegramID: %v", err)
	}
	if u.ID != "u1" || u.Username != "alice" || u.Status != StatusActive {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGUsersFindNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("select (.+) from users where id=\\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Users(ctx).Find(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGBootstrapFirstUser(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("select pg_advisory_xact_lock").
		WithArgs(int64(bootstrapLockID)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select count\\(\\*\\) from users").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("select id from roles where name=\\$1").
		WithArgs(RoleSuperAdmin).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r-super"))
	mock.ExpectExec("insert into users").
		WithArgs(sqlmock.AnyArg(), int64(111), int64(111), "alice", "Alice", "", "", "ACTIVE").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into user_project_roles").
		WithArgs(sqlmock.AnyArg(), GlobalProject, "r-super").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	u := &User{TelegramID: 111, TelegramChatID: 111, Username: "alice", FirstName: "Alice", Status: StatusActive}
	ok, err := store.Users(ctx).BootstrapFirstUser(ctx, u, RoleSuperAdmin)
	if err != nil {
		t.Fatalf("BootstrapFirstUser: %v", err)
	}
	if !ok {
		t.Fatal("expected bootstrap to run")
	}
	if u.ID == "" {
		t.Fatal("expected user id to be assigned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGBootstrapSkipsWhenUsersExist(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("select pg_advisory_xact_lock").
		WithArgs(int64(bootstrapLockID)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select count\\(\\*\\) from users").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	ok, err := store.Users(ctx).BootstrapFirstUser(ctx, &User{TelegramID: 1, FirstName: "X", Status: StatusActive}, RoleSuperAdmin)
	if err != nil {
		t.Fatalf("BootstrapFirstUser: %v", err)
	}
	if ok {
		t.Fatal("expected bootstrap to be skipped")
	}
}

func TestPGRedeemInvitation(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("update invitations set status=\\$2").
		WithArgs("inv-1", string(InvitationAccepted), string(InvitationPending), now).
		WillReturnRows(sqlmock.NewRows([]string{"project", "role_id"}).AddRow("traffic_center", "r-viewer"))
	mock.ExpectExec("insert into users").
		WithArgs(sqlmock.AnyArg(), int64(222), int64(0), "bob", "Bob", "", "", "ACTIVE").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into user_project_roles").
		WithArgs(sqlmock.AnyArg(), "traffic_center", "r-viewer").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	u := &User{TelegramID: 222, Username: "bob", FirstName: "Bob", Status: StatusActive}
	if err := store.Invitations(ctx).Redeem(ctx, "inv-1", u, now); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRedeemConsumedInvitation(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("update invitations set status=\\$2").
		WithArgs("inv-1", string(InvitationAccepted), string(InvitationPending), now).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.Invitations(ctx).Redeem(ctx, "inv-1", &User{TelegramID: 3, FirstName: "X", Status: StatusActive}, now)
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGIncrementAttempts(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("update login_codes set attempts = attempts \\+ 1").
		WithArgs("code-1").
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(3))

	n, err := store.LoginCodes(ctx).IncrementAttempts(ctx, "code-1")
	if err != nil {
		t.Fatalf("IncrementAttempts: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected attempts=3, got %d", n)
	}
}

func TestPGFindLivePurgesExpired(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec("delete from login_codes where username=\\$1 and expires_at <= \\$2").
		WithArgs("alice", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select (.+) from login_codes").
		WithArgs("alice", now).
		WillReturnError(sql.ErrNoRows)

	if _, err := store.LoginCodes(ctx).FindLive(ctx, "alice", now); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
