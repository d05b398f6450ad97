package scanner

import "errors"

var (
	// ErrScanFailed wraps every storage failure surfaced by a scanner. The
	// underlying cause stays reachable through errors.Is / errors.As.
	ErrScanFailed = errors.New("bucket scan failed")

	// ErrInvalidOptions is returned by New for unusable options
	ErrInvalidOptions = errors.New("invalid scanner options")
)
