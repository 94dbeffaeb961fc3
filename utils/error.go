package utils

import (
	"errors"
	"fmt"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrInvalidStateTransition is returned when a collection transition is
// attempted from a terminal status. The row is left unchanged.
var ErrInvalidStateTransition = errors.New("invalid state transition")

// ValidationError is a row-scoped input error. It never aborts a batch;
// callers report it on the offending row's result and keep going.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsDuplicateKeyError reports whether err is a MySQL unique-key violation
// (error 1062). Callers use it to turn insert races on unique keys into
// read-the-existing-row behavior.
func IsDuplicateKeyError(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
