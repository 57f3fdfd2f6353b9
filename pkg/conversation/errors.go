package conversation

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Error taxonomy for tree operations. Callers match with errors.Is or the
// predicates below; operations always leave the tree in its last valid
// state when they fail.
var (
	// ErrNotFound signals a missing node or conversation id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidOperation signals a structurally impossible request, such
	// as retrying the root node or navigating past the last sibling.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrPersistence signals a storage read or write failure. It is
	// surfaced to the caller and never retried by the core.
	ErrPersistence = errors.New("persistence failure")
)

func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound)
}

func IsInvalidOperation(err error) bool {
	return stderrors.Is(err, ErrInvalidOperation)
}

func IsPersistence(err error) bool {
	return stderrors.Is(err, ErrPersistence)
}
