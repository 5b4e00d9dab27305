package fw24

import "errors"

var (
	// ErrItemNotFound is returned when an item is not found in the store.
	ErrItemNotFound = errors.New("item not found")

	// ErrItemExists is returned when creating a record whose key is taken.
	ErrItemExists = errors.New("item already exists")

	// ErrInvalidArgument is returned for malformed or missing input, such as a
	// nil identifier payload or an unknown access pattern.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConfiguration is returned when the entity wiring is incomplete, for
	// example when a relation targets an entity with no registered service.
	ErrConfiguration = errors.New("configuration error")

	// ErrValidation is returned by ValidationRules when a record breaks the
	// rules derived from its schema.
	ErrValidation = errors.New("validation failed")
)
