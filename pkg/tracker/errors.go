package tracker

import (
	"errors"
	"fmt"
)

// Standard tracker errors. Implementations wrap them with context:
//
//	return fmt.Errorf("domain=%s,key=%s: %w", domain, key, tracker.ErrKeyNotFound)
var (
	// ErrKeyNotFound indicates the key is unknown in the domain.
	ErrKeyNotFound = errors.New("unknown key")

	// ErrKeyExists indicates the target key of a rename is already taken.
	// Returned errors are *KeyExistsError values carrying the domain and key.
	ErrKeyExists = errors.New("key exists already")

	// ErrNoDestinations indicates the tracker could not offer any location
	// to write to (no writable devices, or none matching the storage class).
	ErrNoDestinations = errors.New("no destinations available")

	// ErrUnknownFID indicates Finalize was called for a file id that has no
	// pending open for the given key.
	ErrUnknownFID = errors.New("unknown fid")

	// ErrInvalidKey indicates a malformed domain or key.
	ErrInvalidKey = errors.New("invalid key")

	// ErrClosed indicates the tracker has been closed.
	ErrClosed = errors.New("tracker closed")
)

// KeyExistsError is returned when an operation would assign a key that is
// already in use.
type KeyExistsError struct {
	Domain string
	Key    string
}

func (e *KeyExistsError) Error() string {
	return fmt.Sprintf("%s: domain=%s,key=%s", ErrKeyExists, e.Domain, e.Key)
}

// Is makes errors.Is(err, ErrKeyExists) match.
func (e *KeyExistsError) Is(target error) bool {
	return target == ErrKeyExists
}
