package graph

import (
	"errors"

	"github.com/ayush/library-catalog/backend/internal/models"
	"github.com/ayush/library-catalog/backend/internal/store"
)

// Error codes reported in a GraphQL error's extensions.
const (
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeBadUserInput    = "BAD_USER_INPUT"
	CodeInvalidToken    = "INVALID_TOKEN"
	CodeInternal        = "INTERNAL_SERVER_ERROR"
)

// Error is a resolver failure with a machine-readable code. graphql-go copies
// Extensions into the response because Error satisfies
// gqlerrors.ExtendedError.
type Error struct {
	Code        string
	Message     string
	InvalidArgs map[string]any
	cause       error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Extensions() map[string]interface{} {
	ext := map[string]interface{}{"code": e.Code}
	if e.InvalidArgs != nil {
		ext["invalidArgs"] = e.InvalidArgs
	}
	return ext
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code string) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Code == code
}

func errUnauthenticated() *Error {
	return &Error{Code: CodeUnauthenticated, Message: "not authenticated"}
}

func errWrongCredentials() *Error {
	return &Error{Code: CodeBadUserInput, Message: "wrong credentials"}
}

func errInternal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", cause: cause}
}

// inputError classifies a store or validation failure. Rejected input
// becomes BAD_USER_INPUT carrying the caller's arguments; anything else is an
// opaque internal error.
func inputError(err error, args map[string]any) *Error {
	if errors.Is(err, models.ErrValidation) || errors.Is(err, store.ErrDuplicate) {
		return &Error{Code: CodeBadUserInput, Message: err.Error(), InvalidArgs: args, cause: err}
	}
	return errInternal(err)
}
