package memory

import (
	"context"
	"sync"
)

// Directory holds user profiles and device ownership in memory.
type Directory struct {
	mu        sync.RWMutex
	timezones map[string]string
	owners    map[string]string
}

// NewDirectory constructs an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		timezones: make(map[string]string),
		owners:    make(map[string]string),
	}
}

// SetTimezone stores a user's preferred timezone.
func (d *Directory) SetTimezone(userID, tz string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timezones[userID] = tz
}

// Assign maps a sensor serial number to its owning user.
func (d *Directory) Assign(serialNumber, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.owners[serialNumber] = userID
}

// PreferredTimezone returns the stored timezone, or "" when the user has none.
func (d *Directory) PreferredTimezone(ctx context.Context, userID string) (string, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.timezones[userID], nil
}

// OwnerOf returns the user owning serialNumber.
func (d *Directory) OwnerOf(ctx context.Context, serialNumber string) (string, bool, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	userID, ok := d.owners[serialNumber]
	return userID, ok, nil
}
