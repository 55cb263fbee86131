package moji

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument indicates a call that can never succeed with the
	// given arguments or handle state. It is returned before any lock is
	// taken or any tracker call is made, and is never wrapped in an OpError.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoStorageClass is returned by ModifyStorageClass on a file created
	// without a storage class.
	ErrNoStorageClass = fmt.Errorf("%w: file has no storage class", ErrInvalidArgument)

	// ErrLengthMismatch indicates a sized write stream received a different
	// number of bytes than announced. The upload is discarded.
	ErrLengthMismatch = errors.New("written length does not match expected length")

	// ErrStreamClosed is returned by Read or Write on a closed stream.
	ErrStreamClosed = errors.New("stream closed")

	// ErrListUnsupported is returned by Client.List when the tracker cannot enumerate keys.
	ErrListUnsupported = errors.New("tracker does not support listing keys")
)

// OpError is returned by every File operation that failed after reaching the
// tracker or a storage node. It records the operation and the file identity
// at the time of the call, and unwraps to the underlying cause:
//
//	var exists *tracker.KeyExistsError
//	if errors.As(err, &exists) { ... }
//	if errors.Is(err, tracker.ErrKeyNotFound) { ... }
type OpError struct {
	Op     string
	Domain string
	Key    string
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("moji %s domain=%s,key=%s: %v", e.Op, e.Domain, e.Key, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
