package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// LogFields flattens err into structured log fields: its code, the unwrap
// chain and, when a Postgres error is in the chain, the server diagnostics.
// Either driver's error type is recognized.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}

	fields := map[string]any{"error": err.Error()}
	if typed := As(err); typed != nil {
		fields["error_code"] = typed.Code()
		fields["retryable"] = MetadataFor(typed.Code()).Retryable
	}

	var chain []string
	for e := errors.Unwrap(err); e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %v", e, e))
	}
	if len(chain) > 0 {
		fields["error_chain"] = chain
	}

	pg := map[string]string{}
	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		pg["code"], pg["constraint"], pg["table"] = pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName
		pg["column"], pg["detail"], pg["message"] = pgxErr.ColumnName, pgxErr.Detail, pgxErr.Message
	case errors.As(err, &pqErr):
		pg["code"], pg["constraint"], pg["table"] = string(pqErr.Code), pqErr.Constraint, pqErr.Table
		pg["column"], pg["detail"], pg["message"] = pqErr.Column, pqErr.Detail, pqErr.Message
	}
	for k, v := range pg {
		if v != "" {
			fields["pg_"+k] = v
		}
	}
	return fields
}
