// Package enums holds the string enums shared by models, services and the
// Postgres enum types created in migrations.
package enums

import (
	"fmt"
	"slices"
)

func parse[T ~string](raw string, known []T, kind string) (T, error) {
	if v := T(raw); slices.Contains(known, v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}
