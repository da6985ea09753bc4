package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-mailer/internal/models"
)

func newMockStore(t *testing.T) (*RegistrationStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRegistrationStore(db), mock
}

func TestGetParticipant(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"unique_id", "full_name", "email", "category", "qrcode_path"}).
		AddRow("TS-0042", "Alice Mwangi", "alice@example.com", "attendee", "storage/badges/qrcode-TS-0042.png")
	mock.ExpectQuery("SELECT unique_id, full_name, email, category, qrcode_path").
		WithArgs("TS-0042").
		WillReturnRows(rows)

	p, err := s.GetParticipant(context.Background(), "TS-0042")
	require.NoError(t, err)
	assert.Equal(t, "Alice Mwangi", p.FullName)
	assert.Equal(t, models.CategoryAttendee, p.Category)
	assert.Equal(t, "storage/badges/qrcode-TS-0042.png", p.QRCodePath)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetParticipantNullQRPath(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"unique_id", "full_name", "email", "category", "qrcode_path"}).
		AddRow("TS-0042", "Alice Mwangi", "alice@example.com", "media", nil)
	mock.ExpectQuery("SELECT unique_id, full_name, email, category, qrcode_path").
		WithArgs("TS-0042").
		WillReturnRows(rows)

	p, err := s.GetParticipant(context.Background(), "TS-0042")
	require.NoError(t, err)
	assert.Empty(t, p.QRCodePath)
}

func TestGetParticipantNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT unique_id, full_name, email, category, qrcode_path").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetParticipant(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSetQRCodePath(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE registrations").
		WithArgs("storage/badges/qrcode-TS-0042.png", "TS-0042").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SetQRCodePath(context.Background(), "TS-0042", "storage/badges/qrcode-TS-0042.png")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetQRCodePathUnknownID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE registrations").
		WithArgs("path.png", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetQRCodePath(context.Background(), "missing", "path.png")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListByCategory(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"unique_id", "full_name", "email", "category", "qrcode_path"}).
		AddRow("TS-0001", "Alice Mwangi", "alice@example.com", "exhibitor", "a.png").
		AddRow("TS-0002", "Bilal Osman", "bilal@example.com", "exhibitor", nil)
	mock.ExpectQuery("SELECT unique_id, full_name, email, category, qrcode_path").
		WithArgs("exhibitor").
		WillReturnRows(rows)

	got, err := s.ListByCategory(context.Background(), models.CategoryExhibitor)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "TS-0001", got[0].UniqueID)
	assert.Empty(t, got[1].QRCodePath)
}
