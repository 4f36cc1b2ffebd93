package repo

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a wallet or tenant row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a concurrent write was detected: a stale
	// version, a unique-key race, a serialization failure or a deadlock.
	// The whole unit of work is safe to retry.
	ErrConflict = errors.New("storage conflict")
)

// Postgres SQLSTATEs that mean "retry the transaction".
var retryableStates = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
	"23505": {}, // unique_violation
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := retryableStates[pgErr.Code]; ok {
			return ErrConflict
		}
	}
	return err
}
