package transport

import "errors"

// Standard transport errors. Implementations wrap them with the destination:
//
//	return fmt.Errorf("GET %s: %w", dest.URL, transport.ErrNotFound)
//
// All of them are per-destination failures: the write retry strategy moves on
// to the next destination when it sees one.
var (
	// ErrNotFound indicates the destination holds no content.
	ErrNotFound = errors.New("content not found on node")

	// ErrRejected indicates the node refused the transfer (non-success status).
	ErrRejected = errors.New("transfer rejected by node")

	// ErrUnavailable indicates the node could not be reached.
	ErrUnavailable = errors.New("storage node unavailable")

	// ErrUnsupportedScheme indicates no factory handles the destination URL scheme.
	ErrUnsupportedScheme = errors.New("unsupported destination scheme")

	// ErrInvalidDestination indicates a malformed destination URL.
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrShortWrite indicates fewer bytes were transferred than announced.
	ErrShortWrite = errors.New("transferred length does not match expected length")
)
