package instance

import "os"

// ID names the running process in logs: MARKETPAY_INSTANCE_ID, then the
// platform dyno name, then the hostname.
func ID() string {
	for _, key := range []string{"MARKETPAY_INSTANCE_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
