package types

import "errors"

// Wire-level validation errors shared across components.
var (
	ErrMalformedMessage = errors.New("malformed message payload")
	ErrInvalidRole      = errors.New("invalid role: must be 'teacher' or 'student'")
	ErrInvalidClientID  = errors.New("invalid client id format")
)
