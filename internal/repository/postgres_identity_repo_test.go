package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	selectLinkedUserSQL = regexp.QuoteMeta(`SELECT u.id, u.created_at
		 FROM identities i
		 JOIN users u ON u.id = i.user_id
		 WHERE i.provider = $1 AND i.subject = $2`)
	insertUserSQL     = regexp.QuoteMeta(`INSERT INTO users DEFAULT VALUES RETURNING id, created_at`)
	insertIdentitySQL = regexp.QuoteMeta(`INSERT INTO identities (user_id, provider, subject)`)
)

func TestPostgresIdentityRepo_FindOrCreateUser_ExistingLink(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()

	createdAt := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(selectLinkedUserSQL).
		WithArgs("google", "abc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(3), createdAt))
	mock.ExpectCommit()

	user, err := NewPostgresIdentityRepo(db).FindOrCreateUser(context.Background(), "google", "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(3), user.ID)
}

func TestPostgresIdentityRepo_FindOrCreateUser_CreatesUserAndIdentity(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()

	createdAt := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(selectLinkedUserSQL).
		WithArgs("google", "abc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
	mock.ExpectQuery(insertUserSQL).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), createdAt))
	mock.ExpectQuery(insertIdentitySQL).
		WithArgs(int64(11), "google", "abc").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(int64(11)))
	mock.ExpectCommit()

	user, err := NewPostgresIdentityRepo(db).FindOrCreateUser(context.Background(), "google", "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(11), user.ID)
	assert.Equal(t, createdAt, user.CreatedAt)
}

func TestPostgresIdentityRepo_FindOrCreateUser_ConcurrentInsert_ReturnsWinnerAndRollsBack(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(selectLinkedUserSQL).
		WithArgs("google", "abc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
	mock.ExpectQuery(insertUserSQL).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(12), now))
	// 先行トランザクションが同じsubjectを挿入済みのため、RETURNINGは0行
	mock.ExpectQuery(insertIdentitySQL).
		WithArgs(int64(12), "google", "abc").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	mock.ExpectQuery(selectLinkedUserSQL).
		WithArgs("google", "abc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(10), now))
	mock.ExpectRollback()

	user, err := NewPostgresIdentityRepo(db).FindOrCreateUser(context.Background(), "google", "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(10), user.ID)
}

func TestPostgresIdentityRepo_FindOrCreateUser_InsertUserFails_RollsBack(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(selectLinkedUserSQL).
		WithArgs("google", "abc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
	mock.ExpectQuery(insertUserSQL).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	user, err := NewPostgresIdentityRepo(db).FindOrCreateUser(context.Background(), "google", "abc")
	assert.Error(t, err)
	assert.Nil(t, user)
	assert.Contains(t, err.Error(), "failed to insert user")
}

func TestPostgresIdentityRepo_FindOrCreateUser_BeginFails(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err := NewPostgresIdentityRepo(db).FindOrCreateUser(context.Background(), "google", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to begin transaction")
}

func TestPostgresIdentityRepo_FindOrCreateUser_CommitFails(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(selectLinkedUserSQL).
		WithArgs("google", "abc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
	mock.ExpectQuery(insertUserSQL).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(5), time.Now()))
	mock.ExpectQuery(insertIdentitySQL).
		WithArgs(int64(5), "google", "abc").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(int64(5)))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	_, err := NewPostgresIdentityRepo(db).FindOrCreateUser(context.Background(), "google", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to commit transaction")
}
