package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/smallbiznis/staybook/internal/booking/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const transitionSQL = `UPDATE bookings\s+SET status = \$1, pay_url = COALESCE\(\$2, pay_url\), version = version \+ 1, updated_at = \$3\s+WHERE id = \$4 AND status = \$5 AND version = \$6`

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return db, mock
}

func TestApplyTransitionGuardsStatusAndVersion(t *testing.T) {
	db, mock := newMockDB(t)
	repo := Provide()

	mock.ExpectExec(transitionSQL).
		WithArgs("CONFIRMED", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(42), "PAYMENT_URL", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := repo.ApplyTransition(context.Background(), db, domain.Transition{
		ID:          42,
		FromStatus:  domain.StatusPaymentURL,
		FromVersion: 2,
		ToStatus:    domain.StatusConfirmed,
		UpdatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransitionReportsLostRace(t *testing.T) {
	db, mock := newMockDB(t)
	repo := Provide()

	mock.ExpectExec(transitionSQL).
		WithArgs("FAILED", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(42), "PENDING", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := repo.ApplyTransition(context.Background(), db, domain.Transition{
		ID:          42,
		FromStatus:  domain.StatusPending,
		FromVersion: 1,
		ToStatus:    domain.StatusFailed,
		UpdatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}
