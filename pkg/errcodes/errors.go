package errcodes

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

const (
	CodeStorageError  = "storage_error"
	CodeNetworkError  = "network_error"
	CodeProtocolError = "protocol_error"
)

type Error struct {
	HTTPCode int
	Message  string
	Code     string
	// Details are extra top-level fields written next to "error" in the
	// response payload.
	Details map[string]interface{}
}

func (err *Error) Error() string {
	return err.Message
}

func (err *Error) As(target interface{}) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	te.HTTPCode = err.HTTPCode
	te.Message = err.Message
	te.Code = err.Code
	te.Details = err.Details
	return true
}

func (err *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.HTTPCode == err.HTTPCode &&
		te.Message == err.Message &&
		te.Code == err.Code
}

// NotFound returns a 404 error with a message indicating the given resource.
func NotFound(resource string) error {
	return &Error{
		HTTPCode: http.StatusNotFound,
		Message:  resource + " not found.",
		Code:     "not_found",
	}
}

func UnsupportedMediaType() error {
	return &Error{
		HTTPCode: http.StatusUnsupportedMediaType,
		Message:  "Unsupported Media Type",
		Code:     "unsupported_media_type",
	}
}

func UnknownParameter(param string) error {
	return &Error{
		HTTPCode: http.StatusUnprocessableEntity,
		Message:  fmt.Sprintf("Unknown Parameter %q", param),
		Code:     "unknown_parameter",
	}
}

func ValidationTypeError(msg string) error {
	return &Error{
		HTTPCode: http.StatusUnprocessableEntity,
		Message:  msg,
		Code:     "validation_type_error",
	}
}

func ValidationError(msg string) error {
	return &Error{
		HTTPCode: http.StatusUnprocessableEntity,
		Message:  msg,
		Code:     "validation_error",
	}
}

func MalformedPayload() error {
	return &Error{
		HTTPCode: http.StatusBadRequest,
		Message:  "Malformed Payload",
		Code:     "malformed_payload",
	}
}

func EmptyRequestBody() error {
	return &Error{
		HTTPCode: http.StatusBadRequest,
		Message:  "Request body can't be empty.",
		Code:     "empty_request_body",
	}
}

// StorageError reports a local persistence failure.
func StorageError(err error) error {
	return errors.WithStack(&Error{
		HTTPCode: http.StatusInternalServerError,
		Message:  "Storage failure: " + errors.Cause(err).Error(),
		Code:     CodeStorageError,
	})
}

// NetworkError is a transport-level failure while talking to a remote
// service.
func NetworkError(msg string) error {
	return &Error{
		HTTPCode: http.StatusBadGateway,
		Message:  msg,
		Code:     CodeNetworkError,
	}
}

// ProtocolError is a malformed or error-status response from a remote service.
func ProtocolError(msg string) error {
	return &Error{
		HTTPCode: http.StatusBadGateway,
		Message:  msg,
		Code:     CodeProtocolError,
	}
}

// HasCode reports whether err wraps an *Error with the given code.
func HasCode(err error, code string) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
