package commsutil

import (
	"fmt"
	"strings"
)

// QueueGroup is the queue group every dispatcher joins, so that all workers of a subject
// share its load.
const QueueGroup = "worker"

// BuildServersURL builds a COMMS URL from a host and port. A host that already carries a
// scheme is used as-is.
func BuildServersURL(host string, port int) string {
	host = strings.TrimSpace(host)
	if host == "" {
		host = "127.0.0.1"
	}
	if strings.Contains(host, "://") {
		return fmt.Sprintf("%s:%d", host, port)
	}
	return fmt.Sprintf("nats://%s:%d", host, port)
}

// ValidateSubject checks that s can be used as a literal subject to publish and subscribe on.
func ValidateSubject(s string) error {
	if s == "" {
		return fmt.Errorf("subject is empty")
	}
	if strings.ContainsAny(s, " \t\r\n*>") {
		return fmt.Errorf("subject %q contains whitespace or wildcards", s)
	}
	for _, tok := range strings.Split(s, ".") {
		if tok == "" {
			return fmt.Errorf("subject %q has an empty token", s)
		}
	}
	return nil
}
