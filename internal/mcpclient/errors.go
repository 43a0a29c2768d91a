package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ConnectionError indicates the transport could not be established or the
// MCP handshake failed after all connect attempts.
type ConnectionError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError indicates the server is reachable but violates expectations:
// it lacks the tools capability or tool discovery failed.
type ProtocolError struct {
	Endpoint string
	Reason   string
	Err      error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol error from %s: %s", e.Endpoint, e.Reason)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportFault indicates the underlying transport broke mid-session. The
// session is unusable afterwards and must be terminated.
type TransportFault struct {
	Endpoint string
	Err      error
}

func (e *TransportFault) Error() string {
	return fmt.Sprintf("transport fault on %s: %v", e.Endpoint, e.Err)
}

func (e *TransportFault) Unwrap() error { return e.Err }

// isDeadlineError reports whether an invocation error is a context deadline
// expiry, wrapped or surfaced as a message by the transport.
func isDeadlineError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "context deadline exceeded")
}

// isTransportError reports whether an invocation error means the transport
// itself broke, as opposed to the tool rejecting or failing the call.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "connection reset by peer") ||
		strings.Contains(errMsg, "transport is closing") ||
		strings.Contains(errMsg, "broken pipe") ||
		strings.Contains(errMsg, "unexpected eof") ||
		strings.Contains(errMsg, "use of closed network connection") ||
		strings.Contains(errMsg, "file already closed") ||
		strings.Contains(errMsg, "io: read/write on closed pipe")
}

// validation failure markers in JSON-RPC and tool error messages.
var validationMarkers = []string{
	"invalid_params",
	"invalid params",
	"invalid argument",
	"invalid parameter",
	"validation",
	"missing required",
	"required property",
	"required argument",
	"required parameter",
	"unknown argument",
	"unexpected argument",
	"does not match",
	"schema",
	"must be of type",
	"expected type",
}

// isValidationMessage reports whether an error message describes an argument
// validation failure rather than a tool execution failure.
func isValidationMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range validationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
