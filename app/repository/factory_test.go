package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

func newMockFactory(t *testing.T) (*Factory, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return NewFactory(db), mock
}

func TestCountActive(t *testing.T) {
	f, mock := newMockFactory(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `server_allocations`")).
		WithArgs("sub_1", true).
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(2))

	n, err := f.Repositories().Allocation.CountActive(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindMissingAllocationIsNotFound(t *testing.T) {
	f, mock := newMockFactory(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `server_allocations`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "subscription_id", "guild_id", "is_active"}))

	_, err := f.Repositories().Allocation.Find(context.Background(), "sub_1", "G1")
	assert.True(t, errs.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRollsBackOnDeadlock(t *testing.T) {
	f, mock := newMockFactory(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `server_allocations`")).
		WillReturnError(&mysqldriver.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"})
	mock.ExpectRollback()

	err := f.Transaction(context.Background(), func(tx *Repositories) error {
		_, err := tx.Allocation.CountActive(context.Background(), "sub_1")
		return err
	})
	assert.True(t, errs.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionCommits(t *testing.T) {
	f, mock := newMockFactory(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `server_allocations`")).
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(0))
	mock.ExpectCommit()

	err := f.Transaction(context.Background(), func(tx *Repositories) error {
		_, err := tx.Allocation.CountActive(context.Background(), "sub_1")
		return err
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
