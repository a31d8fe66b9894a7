// Package apperrors carries the error taxonomy used across the service:
// every error is (http-like code, message, optional detail). Codes < 500 are
// caller mistakes and are returned verbatim, never logged as failures.
package apperrors

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	CodeBadRequest     = 400
	CodeUnauthorized   = 401
	CodeNotFound       = 404
	CodeInternal       = 500
	CodeNotImplemented = 501
	CodeUpstream       = 502
	CodeConfiguration  = 503
)

type Error struct {
	Code    int
	Message string
	Detail  string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d: %s: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// WithDetail возвращает копию с диагностическим суффиксом — базовые ошибки
// реестра неизменяемы и могут разделяться между вызовами.
func (e *Error) WithDetail(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Detail: fmt.Sprintf(format, args...)}
}

func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Реестр сообщений. Неизменяемые значения, see WithDetail.
var (
	ErrMissingTrackingID  = New(CodeBadRequest, "tracking id is missing")
	ErrMalformedID        = New(CodeBadRequest, "tracking id is malformed, want <operator>-<trackingNum>")
	ErrUnknownOperator    = New(CodeBadRequest, "unknown operator")
	ErrBadTrackingNum     = New(CodeBadRequest, "tracking number format is invalid")
	ErrParamRequired      = New(CodeBadRequest, "required query parameter is missing")
	ErrParamMismatch      = New(CodeBadRequest, "parameter does not match the stored entity")
	ErrUnsupportedParam   = New(CodeBadRequest, "unsupported query parameter")
	ErrBatchTooLarge      = New(CodeBadRequest, "batch exceeds the operator batch size")
	ErrRouteNotFound      = New(CodeNotFound, "carrier returned no route data")
	ErrEntityNotFound     = New(CodeNotFound, "tracking entity not found")
	ErrPushNotSupported   = New(CodeNotImplemented, "operator does not accept pushed data")
	ErrPullNotSupported   = New(CodeNotImplemented, "operator does not support pulling")
	ErrCarrierCredentials = New(CodeConfiguration, "carrier rejected credentials")
	ErrCarrierUnavailable = New(CodeUpstream, "carrier is unreachable or returned an unexpected response")
)

// Code достаёт таксономический код из цепочки обёрток; не-таксономические
// ошибки считаем внутренними (500).
func Code(err error) int {
	if err == nil {
		return 0
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// IsClientError: 4xx-класс, ожидаемые ошибки вызывающей стороны.
func IsClientError(err error) bool {
	c := Code(err)
	return c >= 400 && c < 500
}

func IsNotFound(err error) bool {
	return Code(err) == CodeNotFound
}
