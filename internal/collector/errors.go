package collector

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ConnectionError reports that the collection endpoint or the target could
// not be reached at all
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// APIError is a non-2xx reply from the collection backend
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("collection backend returned status %d", e.StatusCode)
	}
	return e.Message
}

// AuthError is a rejected credential on a direct connection
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Backend texts that describe a transport failure behind the API
var connectionPhrases = []string{
	"connection refused",
	"connection reset",
	"timed out",
	"timeout",
	"no route to host",
	"network is unreachable",
	"host is unreachable",
	"unable to connect",
}

// IsConnectionError reports whether err means the target port could not be
// reached, as opposed to a reachable target rejecting the request
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range connectionPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
