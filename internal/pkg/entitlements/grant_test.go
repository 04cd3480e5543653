package entitlements

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ManuelReschke/OrderHook/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var walletColumns = []string{"id", "org_id", "order_no", "kind", "amount_cents", "currency"}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestGrant_EntitlementsAndWalletCredit(t *testing.T) {
	db, mock := newMockDB(t)
	order := &models.Order{
		OrderNo:           "ORD-1",
		OrgID:             3,
		SKU:               "assessment-pro",
		ReportID:          "rep_9",
		WalletCreditCents: 500,
		Currency:          "USD",
	}

	mock.ExpectExec("INSERT INTO `entitlements`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `entitlements`").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("INSERT INTO `wallet_transactions`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, Grant(db, order, time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrant_WalletOnly(t *testing.T) {
	db, mock := newMockDB(t)
	order := &models.Order{OrderNo: "ORD-2", OrgID: 3, WalletCreditCents: 1000, Currency: "EUR"}

	mock.ExpectExec("INSERT INTO `wallet_transactions`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, Grant(db, order, time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrant_InsertErrorIsWrapped(t *testing.T) {
	db, mock := newMockDB(t)
	order := &models.Order{OrderNo: "ORD-3", OrgID: 3, WalletCreditCents: 100}

	boom := errors.New("deadlock found")
	mock.ExpectExec("INSERT INTO `wallet_transactions`").WillReturnError(boom)

	err := Grant(db, order, time.Now())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "credit wallet for ORD-3")
}

func TestRevoke_WithPriorCreditWritesDebit(t *testing.T) {
	db, mock := newMockDB(t)
	order := &models.Order{OrderNo: "ORD-1", OrgID: 3}

	mock.ExpectExec("UPDATE `entitlements` SET `revoked_at`=\\?.* WHERE order_no = \\? AND revoked_at IS NULL").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("SELECT \\* FROM `wallet_transactions` WHERE order_no = \\? AND kind = \\?").
		WillReturnRows(sqlmock.NewRows(walletColumns).
			AddRow(7, 3, "ORD-1", models.WalletKindCredit, 500, "USD"))
	mock.ExpectExec("INSERT INTO `wallet_transactions`").
		WillReturnResult(sqlmock.NewResult(8, 1))

	require.NoError(t, Revoke(db, order, time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevoke_WithoutCreditSkipsDebit(t *testing.T) {
	db, mock := newMockDB(t)
	order := &models.Order{OrderNo: "ORD-2", OrgID: 3}

	mock.ExpectExec("UPDATE `entitlements` SET `revoked_at`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM `wallet_transactions`").
		WillReturnRows(sqlmock.NewRows(walletColumns))

	require.NoError(t, Revoke(db, order, time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevoke_LookupError(t *testing.T) {
	db, mock := newMockDB(t)
	order := &models.Order{OrderNo: "ORD-4", OrgID: 3}

	mock.ExpectExec("UPDATE `entitlements` SET `revoked_at`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT \\* FROM `wallet_transactions`").
		WillReturnError(errors.New("connection reset"))

	err := Revoke(db, order, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load wallet credit for ORD-4")
	assert.NoError(t, mock.ExpectationsWereMet())
}
