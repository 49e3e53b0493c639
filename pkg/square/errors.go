package square

import (
	"encoding/json"
	"errors"
	"net/http"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"

	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
)

var statusCodes = map[int]pkgerrors.Code{
	http.StatusBadRequest:          pkgerrors.CodeValidation,
	http.StatusUnauthorized:        pkgerrors.CodeUnauthorized,
	http.StatusForbidden:           pkgerrors.CodeForbidden,
	http.StatusNotFound:            pkgerrors.CodeNotFound,
	http.StatusConflict:            pkgerrors.CodeConflict,
	http.StatusUnprocessableEntity: pkgerrors.CodeStateConflict,
	http.StatusTooManyRequests:     pkgerrors.CodeRateLimit,
}

func codeForStatus(status int) pkgerrors.Code {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	if status >= 400 && status < 500 {
		return pkgerrors.CodeValidation
	}
	return pkgerrors.CodeDependency
}

// mapError converts an SDK failure into a domain error. Square-reported
// error codes take precedence over the HTTP status.
func mapError(op string, err error) error {
	msg := "square " + op + " failed"
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
	}
	code := codeForStatus(apiErr.StatusCode)
	for _, detail := range apiErrors(apiErr) {
		switch {
		case detail.Code == sq.ErrorCodeIdempotencyKeyReused:
			return pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, msg)
		case detail.Category == sq.ErrorCategoryAuthenticationError:
			return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, msg)
		}
	}
	return pkgerrors.Wrap(code, err, msg)
}

// apiErrors decodes the {"errors":[...]} body the SDK keeps as the wrapped error.
func apiErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var body struct {
		Errors []*sq.Error `json:"errors"`
	}
	if json.Unmarshal([]byte(inner.Error()), &body) != nil {
		return nil
	}
	out := body.Errors[:0]
	for _, e := range body.Errors {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
