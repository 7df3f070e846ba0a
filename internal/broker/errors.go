package broker

import (
	"errors"
	"fmt"
)

// InvalidArgumentError reports a malformed request field. No connection is
// attempted when validation fails.
type InvalidArgumentError struct {
	// Field is the request field that failed validation.
	Field string

	// Reason describes why the value was rejected.
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("broker: invalid %s: %s", e.Field, e.Reason)
}

// ConnectivityError reports that the target broker could not be reached or
// the session failed at the transport level. It is never retried internally.
type ConnectivityError struct {
	// Target is the "host:port" the operation was directed at.
	Target string

	// Err is the underlying transport error.
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("broker: cannot reach %s: %v", e.Target, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// AuthorizationError reports that the broker refused the session or the
// operation for credential or ACL reasons.
type AuthorizationError struct {
	// Target is the "host:port" the operation was directed at.
	Target string

	// Err is the broker's refusal.
	Err error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("broker: %s refused the operation: %v", e.Target, e.Err)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// IsInvalidArgument reports whether err is an [InvalidArgumentError].
func IsInvalidArgument(err error) bool {
	var target *InvalidArgumentError
	return errors.As(err, &target)
}

// IsConnectivity reports whether err is a [ConnectivityError].
func IsConnectivity(err error) bool {
	var target *ConnectivityError
	return errors.As(err, &target)
}

// IsAuthorization reports whether err is an [AuthorizationError].
func IsAuthorization(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}
