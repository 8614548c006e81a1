package domain

import "errors"

var (
	// ErrInvalidArgument marks malformed input: a missing sender or body, or a bad chunk size.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorageUnavailable means the log database could not be opened.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrStorageWrite means an append to the log failed.
	ErrStorageWrite = errors.New("storage write failed")

	// ErrGeneration means the text-generation call failed, timed out or returned nothing.
	ErrGeneration = errors.New("generation failed")

	// ErrDelivery means a single outbound send failed.
	ErrDelivery = errors.New("delivery failed")
)
