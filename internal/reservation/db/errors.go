package db

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

var (
	ErrNotFound = errors.New("reservation not found")
	// ErrStaleState means the row exists but its status was not one of the expected ones.
	ErrStaleState = errors.New("reservation status changed concurrently")
	// ErrConflict means a storage uniqueness constraint rejected the write.
	ErrConflict = errors.New("reservation conflicts with an existing one")
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	// sqlite reports constraint failures only through the message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
