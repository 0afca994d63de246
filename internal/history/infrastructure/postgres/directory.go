package postgres

import (
	"context"
	"database/sql"
	"errors"
)

// Directory reads user profiles and device ownership.
type Directory struct {
	db *sql.DB
}

// NewDirectory constructs a directory.
func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// PreferredTimezone returns the user's stored timezone, or "" when the user has none.
func (d *Directory) PreferredTimezone(ctx context.Context, userID string) (string, error) {
	if d == nil || d.db == nil {
		return "", errors.New("directory: nil db")
	}
	var tz sql.NullString
	err := d.db.QueryRowContext(ctx, `
SELECT preferred_timezone
FROM user_profiles
WHERE user_id = $1
LIMIT 1`, userID).Scan(&tz)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return tz.String, nil
}

// OwnerOf returns the user a sensor serial number is assigned to.
func (d *Directory) OwnerOf(ctx context.Context, serialNumber string) (string, bool, error) {
	if d == nil || d.db == nil {
		return "", false, errors.New("directory: nil db")
	}
	var userID string
	err := d.db.QueryRowContext(ctx, `
SELECT user_id
FROM user_devices
WHERE serial_number = $1
LIMIT 1`, serialNumber).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return userID, true, nil
}

// UserIDs lists every user with a profile, for scheduled jobs.
func (d *Directory) UserIDs(ctx context.Context) ([]string, error) {
	if d == nil || d.db == nil {
		return nil, errors.New("directory: nil db")
	}
	rows, err := d.db.QueryContext(ctx, `
SELECT user_id
FROM user_profiles
ORDER BY user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
