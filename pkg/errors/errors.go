package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeInvalidAmount         Code = "INVALID_AMOUNT"
	CodeListingUnavailable    Code = "LISTING_UNAVAILABLE"
	CodeOrderAlreadyProcessed Code = "ORDER_ALREADY_PROCESSED"
	CodeSignatureInvalid      Code = "SIGNATURE_VERIFICATION_FAILED"
	CodeProvider              Code = "PROVIDER_ERROR"
	CodeNoChargeToRefund      Code = "NO_CHARGE_TO_REFUND"
)

// Metadata is how a Code surfaces over HTTP. Messages of codes with
// ExposeMessage are shown to callers; the rest use PublicMessage.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	ExposeMessage  bool
}

const (
	retryable = 1 << iota
	details
	expose
)

func meta(status int, public string, flags int) Metadata {
	return Metadata{
		HTTPStatus:     status,
		PublicMessage:  public,
		Retryable:      flags&retryable != 0,
		DetailsAllowed: flags&details != 0,
		ExposeMessage:  flags&expose != 0,
	}
}

var catalog = map[Code]Metadata{
	CodeValidation:    meta(http.StatusBadRequest, "validation failed", details|expose),
	CodeUnauthorized:  meta(http.StatusUnauthorized, "authentication required", expose),
	CodeForbidden:     meta(http.StatusForbidden, "access denied", expose),
	CodeNotFound:      meta(http.StatusNotFound, "resource not found", expose),
	CodeConflict:      meta(http.StatusConflict, "conflict detected", expose),
	CodeStateConflict: meta(http.StatusUnprocessableEntity, "state transition disallowed", details|expose),
	CodeIdempotency:   meta(http.StatusConflict, "idempotency key reused", details|expose),
	CodeRateLimit:     meta(http.StatusTooManyRequests, "rate limit exceeded", expose),
	CodeInternal:      meta(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:    meta(http.StatusServiceUnavailable, "dependency unavailable", retryable|details),

	CodeInvalidAmount:         meta(http.StatusBadRequest, "invalid amount", details|expose),
	CodeListingUnavailable:    meta(http.StatusBadRequest, "listing is not available", details|expose),
	CodeOrderAlreadyProcessed: meta(http.StatusConflict, "order already processed", details|expose),
	CodeSignatureInvalid:      meta(http.StatusBadRequest, "signature verification failed", expose),
	CodeProvider:              meta(http.StatusBadGateway, "payment provider unavailable", retryable),
	CodeNoChargeToRefund:      meta(http.StatusConflict, "no charge to refund", details|expose),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if m, ok := catalog[code]; ok {
		return m
	}
	return catalog[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// IsCode reports whether err carries the provided code anywhere in its chain.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
