package identity

import (
	"errors"
	"fmt"
)

// Fehlerarten des Identity-Stores. Aufrufer prüfen mit errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidEmbedding = errors.New("invalid embedding")
	ErrInvalidName      = errors.New("invalid name")
	ErrInvalidThreshold = errors.New("invalid threshold")
	ErrStorage          = errors.New("storage failure")
)

// StorageError kapselt einen Datenbank- oder Dateisystemfehler
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage.Error(), e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lässt errors.Is(err, ErrStorage) zutreffen
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
