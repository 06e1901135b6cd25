package database

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Postgres error code for unique_violation.
const pqUniqueViolation = "23505"

// IsDuplicateKey reports whether err is a unique-constraint violation.
// The lock layer treats a duplicate key on insert as lease contention,
// so this must cover every driver the lock table runs on: Postgres in
// production, SQLite in tests.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
