// Package errs defines the machine-readable error codes used across the
// pipeline and helpers to classify them.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error. The last dot
// segment is the reason and drives classification.
type Code string

const (
	CodeSourceRead         Code = "source.read.failure"
	CodeEncode             Code = "oracle.encode.failure"
	CodeDecode             Code = "image.decode.invalid_format"
	CodeParse              Code = "ledger.parse.invalid_format"
	CodeLedgerIO           Code = "ledger.io.failure"
	CodeNothingToReconcile Code = "ledger.open.not_found"
	CodeStore              Code = "store.database.failure"
	CodeStoreNotFound      Code = "store.record.not_found"
	CodeConfig             Code = "config.validate.invalid_value"
	CodeInvalidInput       Code = "request.invalid_input"
	CodeInternal           Code = "server.internal.failure"
)

// Attr is a structured key/value attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates an Attr.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

// FieldIdentifier tags an error with the record identifier it concerns.
func FieldIdentifier(id string) Attr {
	return Field("identifier", id)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// CodeOf returns the innermost code attached to err, or "" if none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch c := oopsErr.Code().(type) {
	case Code:
		return c
	case string:
		return Code(c)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", c))
	}
}

// CodeString is CodeOf with a fallback for untagged errors.
func CodeString(err error) string {
	if c := CodeOf(err); c != "" {
		return string(c)
	}
	return string(CodeInternal)
}

func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid_input" || r == "invalid_format" || r == "invalid_value"
}

// IsItemLevel reports whether err concerns a single item and should be
// recorded and skipped rather than abort a pass.
func IsItemLevel(err error) bool {
	switch CodeOf(err) {
	case CodeSourceRead, CodeEncode, CodeDecode, CodeParse:
		return true
	}
	return false
}

// HTTPStatus maps an error to the status the HTTP shim answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case HasCode(err, CodeEncode):
		return http.StatusBadGateway
	case HasCode(err, CodeStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Join combines errors under the internal failure code.
func Join(errList ...error) error {
	joined := errors.Join(errList...)
	if joined == nil {
		return nil
	}
	return oops.Code(CodeInternal).Wrap(joined)
}

func reason(code Code) string {
	s := string(code)
	if i := strings.LastIndex(s, "."); i >= 0 {
		return s[i+1:]
	}
	return s
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		pairs = append(pairs, f.Key, f.Value)
	}
	return pairs
}
