package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academia-crm/tuition-api/internal/models"
)

func newReportMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestReportRepositoryGeneralRoster(t *testing.T) {
	db, mock, cleanup := newReportMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	rng := models.DateRange{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	rows := sqlmock.NewRows([]string{"course_interest", "schedule_category", "matricula", "guardian_id", "student_name", "details", "latest_state"}).
		AddRow("Guitarra", "Sabado", "A-001", "guardian-1", "Ana", nil, "validado").
		AddRow("Piano", "Entre semana", nil, "guardian-2", "Luis", nil, "")
	mock.ExpectQuery("LEFT JOIN LATERAL").
		WithArgs(rng.From, rng.To).
		WillReturnRows(rows)

	result, err := repo.GeneralRoster(context.Background(), rng)
	require.NoError(t, err)
	require.Len(t, result, 2)
	// Legacy approved tag normalises at scan time; no receipt scans as "".
	assert.Equal(t, models.ReceiptStateApproved, result[0].LatestState)
	assert.Equal(t, models.ReceiptState(""), result[1].LatestState)
	assert.Nil(t, result[1].Matricula)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryApprovedAccounts(t *testing.T) {
	db, mock, cleanup := newReportMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	paid := time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"matricula", "student_name", "date"}).
		AddRow("A-001", "Ana", paid)
	mock.ExpectQuery("MAX\\(r.uploaded_at\\)(?s).*matricula IS NOT NULL").WillReturnRows(rows)

	result, err := repo.ApprovedAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "Ana", result[0].StudentName)
	assert.Equal(t, paid, result[0].Date)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryRejectedAccountsSkipsUnassigned(t *testing.T) {
	db, mock, cleanup := newReportMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	rejected := time.Date(2024, 1, 22, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"matricula", "student_name", "date"}).
		AddRow("A-002", "Luis", rejected)
	mock.ExpectQuery("'rejected', 'rechazado'(?s).*matricula IS NOT NULL").WillReturnRows(rows)

	result, err := repo.RejectedAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "Luis", result[0].StudentName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
