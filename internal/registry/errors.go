package registry

import "errors"

var (
	ErrNilHandle   = errors.New("handle cannot be nil")
	ErrUnknownRole = errors.New("unknown role")
)
