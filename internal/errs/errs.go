// Package errs defines the coded error taxonomy shared by every stage of a
// collection run.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies an error category. Codes are stable strings and appear
// verbatim in console output and exported reports.
type Code string

const (
	ParsingError          Code = "PARSING_ERROR"
	PreRequestScriptError Code = "PRE_REQUEST_SCRIPT_ERROR"
	TestScriptError       Code = "TEST_SCRIPT_ERROR"
	RequestError          Code = "REQUEST_ERROR"

	FileNotFound        Code = "FILE_NOT_FOUND"
	FileNotJSON         Code = "FILE_NOT_JSON"
	MalformedCollection Code = "MALFORMED_COLLECTION"
	MalformedEnvFile    Code = "MALFORMED_ENV_FILE"
	MalformedDataFile   Code = "MALFORMED_DATA_FILE"
	InvalidArgument     Code = "INVALID_ARGUMENT"

	ReportExportFailed Code = "REPORT_EXPORT_FAILED"

	NoOAuthConfig                 Code = "NO_OAUTH_CONFIG"
	RedirectGrantTypeNotSupported Code = "REDIRECT_GRANT_TYPE_NOT_SUPPORTED"
	ValidationFailed              Code = "VALIDATION_FAILED"
	TokenGenerationFailed         Code = "TOKEN_GENERATION_FAILED"
	UnsupportedGrantType          Code = "UNSUPPORTED_GRANT_TYPE"
)

// Error is a coded error. Message is human readable; Err, when set, is the
// underlying cause.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// New returns an Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf formats the message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to err. The message defaults to err's text.
func Wrap(code Code, err error, msg string) *Error {
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return &Error{Code: code, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil && e.Message != e.Err.Error() {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries code anywhere in its chain.
func HasCode(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}
