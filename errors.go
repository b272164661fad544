package popgate

import "errors"

var (
	// Correlation errors.
	ErrUnknownIdentifier   = errors.New("popgate: connection not initialized")
	ErrMalformedIdentifier = errors.New("popgate: malformed identifier")
	ErrResponseConflict    = errors.New("popgate: response already attached")
	ErrNoResponse          = errors.New("popgate: no response attached")

	// Fault errors.
	ErrProducerFault = errors.New("popgate: producer fault")
	ErrIOFault       = errors.New("popgate: io fault")

	// Admission errors.
	ErrRegistryFull = errors.New("popgate: too many pending jobs")
	ErrRateLimited  = errors.New("popgate: rate limited")
	ErrPoolClosed   = errors.New("popgate: run pool closed")
)
