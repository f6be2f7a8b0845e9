package query

import "fmt"

// ValidationError reports a request shape the builder refuses to turn
// into SQL: unknown columns, oversized IN lists, empty write sets. The
// dispatch layer maps it to a 400 without retrying.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

// Validationf builds a ValidationError with fmt-style formatting.
func Validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}
