package domain

import "errors"

var (
	// ErrConfig is returned when the guard is constructed with an unusable
	// configuration, e.g. a strength below the minimum.
	ErrConfig = errors.New("csrf: invalid configuration")
	// ErrStorage is returned when no usable token storage backend can be
	// determined at construction time.
	ErrStorage = errors.New("csrf: invalid storage")
)
