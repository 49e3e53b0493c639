package middleware

import (
	"context"

	"github.com/angelmondragon/marketplace-payments/pkg/auth"
)

type contextKey string

const ctxOperator contextKey = "operator"

// WithOperator stores the authenticated caller on the context.
func WithOperator(ctx context.Context, op auth.Operator) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxOperator, op)
}

// OperatorFromContext returns the caller placed by Auth. The zero Operator is
// returned for anonymous requests and fails every permission check.
func OperatorFromContext(ctx context.Context) auth.Operator {
	if ctx == nil {
		return auth.Operator{}
	}
	if op, ok := ctx.Value(ctxOperator).(auth.Operator); ok {
		return op
	}
	return auth.Operator{}
}
