package lock

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ice-blockpad/buzznob-sub000/pkg/database"
)

// Store persists leases. It is deliberately dumb: the acquire/release
// policy lives in Service, the SQL lives here.
type Store struct {
	db *gorm.DB
}

// NewStore creates a lease store on an open gorm handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ReapExpired deletes any lease for key whose expiry has passed. Expiry
// is discovered opportunistically by the next acquirer; there is no
// background reaper.
func (s *Store) ReapExpired(ctx context.Context, key string, now time.Time) error {
	return s.db.WithContext(ctx).
		Where("lock_key = ? AND expires_at < ?", key, now).
		Delete(&Lease{}).Error
}

// Insert attempts to create the lease, ignoring a duplicate on the
// lock_key unique index. Returns whether the row was actually written.
// Contention is a normal outcome here, never an error.
func (s *Store) Insert(ctx context.Context, lease *Lease) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "lock_key"}},
			DoNothing: true,
		}).
		Create(lease)
	if result.Error != nil {
		if database.IsDuplicateKey(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DeleteHeld removes the lease for key only when holderID still owns
// it. A holder that lost the lease to expiry and reassignment must not
// delete the new holder's row.
func (s *Store) DeleteHeld(ctx context.Context, key, holderID string) error {
	return s.db.WithContext(ctx).
		Where("lock_key = ? AND holder_id = ?", key, holderID).
		Delete(&Lease{}).Error
}

// Get returns the current lease for key, if any.
func (s *Store) Get(ctx context.Context, key string) (*Lease, error) {
	var lease Lease
	err := s.db.WithContext(ctx).Where("lock_key = ?", key).First(&lease).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &lease, nil
}

// List returns all lease rows, newest first. Feeds the admin surface.
func (s *Store) List(ctx context.Context) ([]Lease, error) {
	var leases []Lease
	err := s.db.WithContext(ctx).Order("acquired_at DESC").Find(&leases).Error
	return leases, err
}
