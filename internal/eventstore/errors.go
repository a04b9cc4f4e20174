package eventstore

import (
	"errors"
	"fmt"
)

// ErrLockHeld is returned by AcquireLock when another instance holds a
// live lock on the storage directory.
var ErrLockHeld = errors.New("storage lock held by another instance")

// StorageError wraps a filesystem failure with the operation and path
// it occurred on.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op, path string, err error) error {
	return &StorageError{Op: op, Path: path, Err: err}
}
