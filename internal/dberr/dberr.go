// Package dberr defines the gateway's taxonomic error kinds and the
// classification of native database errors into them.
package dberr

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind identifies one class of failure. Each kind carries a fixed
// protocol status; transports never invent their own mapping.
type Kind string

const (
	KindUnauthenticated     Kind = "unauthenticated"
	KindPermissionDenied    Kind = "permission_denied"
	KindNotFound            Kind = "not_found"
	KindValidationFailed    Kind = "validation_failed"
	KindUniqueViolation     Kind = "unique_violation"
	KindForeignKeyViolation Kind = "foreign_key_violation"
	KindNullViolation       Kind = "null_violation"
	KindInvalidValue        Kind = "invalid_value"
	KindUnavailable         Kind = "unavailable"
	KindInternal            Kind = "internal"
)

// Error is the domain error that crosses module boundaries. Detail and
// Constraint are only populated from native errors, and only surface in
// responses when the deployment opts in.
type Error struct {
	Kind       Kind
	Message    string
	Detail     string
	Constraint string
	cause      error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// HTTPStatus returns the protocol status fixed for the error's kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidationFailed, KindForeignKeyViolation, KindNullViolation, KindInvalidValue:
		return http.StatusBadRequest
	case KindUniqueViolation:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// SQLSTATE class and code constants used by the classifier.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNotNullViolation    = "23502"
	classDataException      = "22"
)

// Classify maps a native database error to its taxonomic kind. Errors
// that are not *pgconn.PgError values fall through to KindInternal.
func Classify(err error) *Error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return &Error{Kind: KindInternal, Message: "unexpected database error", cause: err}
	}

	out := &Error{
		Detail:     pgErr.Detail,
		Constraint: pgErr.ConstraintName,
		cause:      err,
	}

	switch {
	case pgErr.Code == codeUniqueViolation:
		out.Kind = KindUniqueViolation
		out.Message = "duplicate value violates a unique constraint"
	case pgErr.Code == codeForeignKeyViolation:
		out.Kind = KindForeignKeyViolation
		out.Message = "value violates a foreign key constraint"
	case pgErr.Code == codeNotNullViolation:
		out.Kind = KindNullViolation
		out.Message = "null value in a non-nullable column"
	case len(pgErr.Code) >= 2 && pgErr.Code[:2] == classDataException:
		out.Kind = KindInvalidValue
		out.Message = "value is invalid for the column type"
	default:
		out.Kind = KindInternal
		out.Message = "database error"
	}
	return out
}
