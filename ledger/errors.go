package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNoIdentifier means the message carried no entity identifier. It is a skip signal.
	ErrNoIdentifier = errors.New("no entity identifier in message")
	// ErrStoreUnavailable wraps every backend I/O or connectivity fault.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrMalformedState is returned when persisted data fails to parse or validate.
	ErrMalformedState = errors.New("malformed persisted state")
	// ErrInvalidCandidate rejects candidates that could break store invariants.
	ErrInvalidCandidate = errors.New("invalid candidate")

	errVersionConflict = errors.New("version conflict")
)

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrMalformedState) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedState, fmt.Sprintf(format, args...))
}
