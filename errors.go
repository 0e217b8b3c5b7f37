package kahea

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotConnected is returned by Disconnect when no engine exists.
	ErrNotConnected = errors.New("not connected")

	// ErrNotRegistered is returned by Invite before registration has
	// completed. An in-flight registration does not count; await Connect.
	ErrNotRegistered = errors.New("not registered")

	// ErrConnection is returned by Connect once the transport retry budget
	// is exhausted.
	ErrConnection = errors.New("transport connection failed")

	errClientClosed = errors.New("client disconnected") // session teardown reason
)

// ConfigurationError reports a bad or missing configuration field. Fatal;
// never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// RegistrationError means the call server rejected the registration request.
// Distinct from transport loss: not retried automatically.
type RegistrationError struct {
	Reason error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registration rejected: %v", e.Reason)
}

func (e *RegistrationError) Unwrap() error { return e.Reason }
