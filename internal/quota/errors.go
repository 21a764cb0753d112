package quota

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the identity has no backing usage record.
	ErrNotFound = errors.New("usage record not found")

	// ErrQuotaExceeded means the metered action must not proceed.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrForbidden means an administrative operation targeted a non-test account.
	ErrForbidden = errors.New("operation restricted to test accounts")

	// ErrStoreUnavailable wraps any I/O failure from a backing store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConflict is returned by conditional updates when the stored version
	// no longer matches.
	ErrConflict = errors.New("version conflict")
)

// LimitError describes a rejected metered request. It matches
// ErrQuotaExceeded under errors.Is.
type LimitError struct {
	Subject  string
	Kind     SubjectKind
	Used     int
	Limit    int
	ResetsOn string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("quota exceeded for %s %s: %d/%d this week, resets %s", e.Kind, e.Subject, e.Used, e.Limit, e.ResetsOn)
}

func (e *LimitError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

func storeError(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
