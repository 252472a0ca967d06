package allocation

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/app/repository"
	"github.com/sutto4/ccc-sub004/internal/pkg/entitlements"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

func newSQLManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	store := repository.NewFactory(db)
	return NewManager(store, entitlements.NewResolver(store), WithTxTimeout(time.Second)), mock
}

// A new guild is not seeded before the subscription lock and the capacity count.
func TestAllocateLocksBeforeCounting(t *testing.T) {
	m, mock := newSQLManager(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT .*INTO `guilds`").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery("SELECT \\* FROM `guilds` WHERE guild_id = \\?.*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "guild_id", "premium"}).AddRow(7, "G2", false))
	mock.ExpectQuery("SELECT \\* FROM `subscriptions` WHERE subscription_id = \\?.*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "subscription_id", "max_servers", "used_servers", "status"}).
			AddRow(1, "sub_S", 1, 1, models.SubscriptionStatusActive))
	mock.ExpectQuery("SELECT \\* FROM `server_allocations` WHERE guild_id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "subscription_id", "guild_id", "is_active"}))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `server_allocations`").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(1))
	mock.ExpectRollback()

	_, err := m.Allocate(context.Background(), "sub_S", "G2")

	var capErr *errs.CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 1, capErr.Used)
	assert.NoError(t, mock.ExpectationsWereMet())
}
