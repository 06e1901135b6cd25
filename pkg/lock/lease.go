// Package lock provides a lease-based mutual-exclusion primitive backed
// by a row in the shared relational database. It guarantees that for any
// lock key at most one holder's body runs at a time across the whole
// fleet, provided the TTL exceeds the body's worst-case runtime.
//
// This is a scheduling lock, not a fencing lock: it relies on
// per-process random holder IDs and wall-clock TTLs, which is sufficient
// for "run this periodic task on one instance" and must not be used to
// guard financial or otherwise irreversible operations.
package lock

import "time"

// Lease is one row in the lock table. A row is logically dead once
// now > ExpiresAt, whether or not it has been physically deleted; the
// next acquirer reaps it.
type Lease struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	LockKey    string    `gorm:"uniqueIndex;size:255;not null" json:"lock_key"`
	HolderID   string    `gorm:"size:64;not null" json:"holder_id"`
	AcquiredAt time.Time `gorm:"not null" json:"acquired_at"`
	ExpiresAt  time.Time `gorm:"not null;index" json:"expires_at"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (Lease) TableName() string {
	return "leases"
}

// Expired reports whether the lease is logically dead at now.
func (l Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
