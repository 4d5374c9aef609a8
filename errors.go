package inherit

import (
	"errors"
)

var (
	// ErrConfiguration conflicting structural declarations across an embedding
	// chain, e.g. two incompatible primary keys or an incompatible shared
	// table identity
	ErrConfiguration = errors.New("conflicting model configuration")
	// ErrAttributeConflict incompatible redeclaration of an inherited field
	ErrAttributeConflict = errors.New("incompatible attribute redeclaration")
	// ErrResolution relationship target not found in the registry
	ErrResolution = errors.New("relationship target not resolvable")
	// ErrRegistered model registered
	ErrRegistered = errors.New("model already registered")
	// ErrNotRegistered model not registered
	ErrNotRegistered = errors.New("model not registered")
	// ErrInvalidField invalid field
	ErrInvalidField = errors.New("invalid field")
	// ErrInvalidData unsupported data
	ErrInvalidData = errors.New("unsupported data")
	// ErrModelValueRequired model value required
	ErrModelValueRequired = errors.New("model value required")
	// ErrPrimaryKeyRequired primary keys required
	ErrPrimaryKeyRequired = errors.New("primary key required")
)
