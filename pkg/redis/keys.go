package redis

import "strings"

const namespace = "marketpay"

// Key joins parts under the service namespace, skipping blanks:
// Key("lock", "cron") is "marketpay:lock:cron".
func Key(parts ...string) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}

func (c *Client) IdempotencyKey(scope, id string) string {
	return Key("idempotency", scope, id)
}

func (c *Client) LockKey(name string) string {
	return Key("lock", name)
}
