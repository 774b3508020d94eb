package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Busy retry bounds. busy_timeout already waits inside SQLite; this covers
// the SQLITE_BUSY that still escapes when a WAL checkpoint holds the lock.
const (
	busyAttempts     = 3
	busyInitialDelay = 20 * time.Millisecond
	busyMaxDelay     = 80 * time.Millisecond
)

func busyBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = busyInitialDelay
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxInterval = busyMaxDelay
	return b
}

// WithBusyRetry runs fn up to three times while it fails with SQLITE_BUSY,
// with a jittered exponential delay between attempts. Other errors return
// immediately and unwrapped.
func WithBusyRetry(ctx context.Context, fn func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err != nil && !IsBusyError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(busyBackOff()), backoff.WithMaxTries(busyAttempts))

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}

// IsBusyError reports whether err is SQLite's "database is locked" / SQLITE_BUSY.
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// IsUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ToNullString maps "" to NULL.
func ToNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// FromNullString maps NULL to "".
func FromNullString(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

// EncodeJSON stores v as a JSON column. Empty slices and maps become NULL.
func EncodeJSON[T any](v T) (sql.NullString, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	switch string(data) {
	case "null", "[]", "{}":
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// DecodeJSON reads a JSON column written by EncodeJSON. NULL leaves dst untouched.
func DecodeJSON(ns sql.NullString, dst any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), dst)
}
