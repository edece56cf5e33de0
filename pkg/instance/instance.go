package instance

import "os"

// GetID returns the process instance identifier: FANVAULT_INSTANCE_ID, then
// the hostname, then a default value.
func GetID() string {
	if id := os.Getenv("FANVAULT_INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
