// Package store reads registration records out of the event database. The
// mail engine only needs the slice of a registration that feeds badge
// delivery, so this stays read-only.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"event-mailer/internal/models"
)

// RegistrationStore looks participants up by their public unique id.
type RegistrationStore struct {
	db *sql.DB
}

func NewRegistrationStore(db *sql.DB) *RegistrationStore {
	return &RegistrationStore{db: db}
}

// GetParticipant fetches one registration. A missing row comes back as
// sql.ErrNoRows wrapped with the id for log context.
func (s *RegistrationStore) GetParticipant(ctx context.Context, uniqueID string) (*models.Participant, error) {
	var p models.Participant
	var qrPath sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT unique_id, full_name, email, category, qrcode_path
		FROM registrations
		WHERE unique_id = $1`, uniqueID).Scan(
		&p.UniqueID, &p.FullName, &p.Email, &p.Category, &qrPath,
	)
	if err != nil {
		return nil, fmt.Errorf("lookup registration %s: %w", uniqueID, err)
	}

	p.QRCodePath = qrPath.String
	return &p, nil
}

// SetQRCodePath records the path of a freshly generated badge so later sends
// reuse it.
func (s *RegistrationStore) SetQRCodePath(ctx context.Context, uniqueID, path string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE registrations
		SET qrcode_path = $1
		WHERE unique_id = $2`, path, uniqueID)
	if err != nil {
		return fmt.Errorf("update qrcode path for %s: %w", uniqueID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update qrcode path for %s: %w", uniqueID, sql.ErrNoRows)
	}
	return nil
}

// ListByCategory returns all registrations in one category, for bulk badge
// sends.
func (s *RegistrationStore) ListByCategory(ctx context.Context, category models.RegistrationCategory) ([]*models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT unique_id, full_name, email, category, qrcode_path
		FROM registrations
		WHERE category = $1
		ORDER BY unique_id`, string(category))
	if err != nil {
		return nil, fmt.Errorf("list registrations for %s: %w", category, err)
	}
	defer rows.Close()

	var out []*models.Participant
	for rows.Next() {
		var p models.Participant
		var qrPath sql.NullString
		if err := rows.Scan(&p.UniqueID, &p.FullName, &p.Email, &p.Category, &qrPath); err != nil {
			return nil, err
		}
		p.QRCodePath = qrPath.String
		out = append(out, &p)
	}
	return out, rows.Err()
}
