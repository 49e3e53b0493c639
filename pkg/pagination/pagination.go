// Package pagination implements keyset cursors for newest-first listings.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// Params is what list endpoints accept from callers.
type Params struct {
	Limit  int
	Cursor string
}

// Keyset is the (timestamp, id) position of the last row on a page.
type Keyset struct {
	At time.Time `json:"t"`
	ID uuid.UUID `json:"id"`
}

// Encode renders the keyset as an opaque URL-safe token.
func (k Keyset) Encode() string {
	raw, _ := json.Marshal(Keyset{At: k.At.UTC(), ID: k.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses a token produced by Encode. An empty token means the first
// page and yields nil.
func Decode(token string) (*Keyset, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	var k Keyset
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("parse cursor: %w", err)
	}
	if k.ID == uuid.Nil || k.At.IsZero() {
		return nil, fmt.Errorf("cursor is incomplete")
	}
	return &k, nil
}

// Limit clamps n into [1, MaxLimit], using DefaultLimit for n <= 0.
func Limit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}

// Trim cuts rows fetched with limit+1 down to one page. The returned token
// points past the last kept row, or is empty when there is no next page.
func Trim[T any](rows []T, limit int, key func(T) Keyset) ([]T, string) {
	if len(rows) <= limit {
		return rows, ""
	}
	page := rows[:limit]
	return page, key(page[limit-1]).Encode()
}
