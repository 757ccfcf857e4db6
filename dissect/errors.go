package dissect

import "errors"

// Registration errors are configuration faults and only occur at startup.
var (
	ErrDuplicateField = errors.New("dissect: duplicate field")
	ErrUnknownField   = errors.New("dissect: unknown field")
	ErrRegistrySealed = errors.New("dissect: registry sealed")
	ErrInvalidField   = errors.New("dissect: invalid field descriptor")
)

// ErrOutOfBounds is returned by every Buffer accessor asked to read outside its view.
var ErrOutOfBounds = errors.New("dissect: out of bounds")
