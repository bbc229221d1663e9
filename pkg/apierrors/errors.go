// Package apierrors defines the failure kinds returned by the push and delete
// operations together with the HTTP status each kind is surfaced with.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine readable name of a failure. The string value is what
// clients receive in the "error" field of a failure response.
type Kind string

const (
	InvalidVersionFormat        Kind = "OMPSInvalidVersionFormat"
	DuplicateVersion            Kind = "OMPSDuplicateVersion"
	ExpectedFileMissing         Kind = "OMPSExpectedFileError"
	UploadedFileInvalid         Kind = "OMPSUploadedFileError"
	AuthorizationHeaderRequired Kind = "OMPSAuthorizationHeaderRequired"
	PackageValidation           Kind = "PackageValidationError"

	BuildNotFound           Kind = "KojiNVRBuildNotFound"
	NotAnOperatorImage      Kind = "KojiNotAnOperatorImage"
	ManifestArchiveNotFound Kind = "KojiManifestsArchiveNotFound"
	BuildSystemError        Kind = "KojiError"

	PolicyGateRejected Kind = "GreenwaveUnsatisfiedError"
	PolicyGateError    Kind = "GreenwaveError"

	RegistryPushError Kind = "QuayCourierError"
	PackageNotFound   Kind = "QuayPackageNotFound"
	// RegistryDeleteError covers failed registry package operations: listing,
	// deleting and changing the visibility of a repository.
	RegistryDeleteError Kind = "QuayPackageError"

	RequestEntityTooLarge Kind = "RequestEntityTooLarge"
	BadRequest            Kind = "BadRequest"
	NotFound              Kind = "NotFound"
	MethodNotAllowed      Kind = "MethodNotAllowed"
	InternalServerError   Kind = "InternalServerError"
)

var statuses = map[Kind]int{
	InvalidVersionFormat:        http.StatusBadRequest,
	DuplicateVersion:            http.StatusConflict,
	ExpectedFileMissing:         http.StatusBadRequest,
	UploadedFileInvalid:         http.StatusBadRequest,
	AuthorizationHeaderRequired: http.StatusForbidden,
	PackageValidation:           http.StatusBadRequest,
	BuildNotFound:               http.StatusNotFound,
	NotAnOperatorImage:          http.StatusBadRequest,
	ManifestArchiveNotFound:     http.StatusInternalServerError,
	BuildSystemError:            http.StatusInternalServerError,
	PolicyGateRejected:          http.StatusForbidden,
	PolicyGateError:             http.StatusInternalServerError,
	RegistryPushError:           http.StatusInternalServerError,
	PackageNotFound:             http.StatusNotFound,
	RegistryDeleteError:         http.StatusInternalServerError,
	RequestEntityTooLarge:       http.StatusRequestEntityTooLarge,
	BadRequest:                  http.StatusBadRequest,
	NotFound:                    http.StatusNotFound,
	MethodNotAllowed:            http.StatusMethodNotAllowed,
	InternalServerError:         http.StatusInternalServerError,
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	if s, ok := statuses[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a typed failure. Every failing push or delete ends in exactly one
// of these.
type Error struct {
	Kind    Kind
	Message string

	// Deleted lists the versions removed before a delete-all loop failed.
	Deleted []string

	cause error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Status returns the HTTP status code the error is reported with.
func (e *Error) Status() int {
	return e.Kind.Status()
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind whose message ends with the
// message of err.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf("%s: %v", fmt.Sprintf(format, args...), err),
		cause:   err,
	}
}

// From returns err as an *Error, classifying anything untyped as an internal
// server error.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: InternalServerError, Message: err.Error(), cause: err}
}

// IsKind reports whether err, or any error it wraps, is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
