package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a unique key already exists.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrValidation indicates malformed input detected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidResult indicates an adjustment would leave stock negative.
	ErrInvalidResult = errors.New("resulting stock cannot be negative")
	// ErrInsufficientStock indicates a consumption larger than the stock on hand.
	ErrInsufficientStock = errors.New("insufficient material on stock")
	// ErrConflict indicates the request conflicts with current state.
	ErrConflict = errors.New("conflict")
	// ErrStorageFailure indicates the storage layer failed and the unit was rolled back.
	ErrStorageFailure = errors.New("storage failure")
)

// StorageFailure wraps err as ErrStorageFailure while keeping the driver error reachable.
func StorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageFailure) {
		return err
	}
	return &storageError{op: op, err: err}
}

type storageError struct {
	op  string
	err error
}

func (e *storageError) Error() string {
	return "storage failure: " + e.op + ": " + e.err.Error()
}

func (e *storageError) Unwrap() []error {
	return []error{ErrStorageFailure, e.err}
}
