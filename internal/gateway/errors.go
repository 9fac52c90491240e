package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks connection-level failures that exhausted the
	// retry budget.
	ErrTransport = errors.New("gateway transport failed")
	// ErrProtocol marks replies that parsed as XML but are missing the
	// elements the exchange requires.
	ErrProtocol = errors.New("gateway protocol violation")
)

// TransportError records how many attempts were made before giving up.
type TransportError struct {
	Attempts int
	Cause    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway unreachable after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *TransportError) Unwrap() error { return ErrTransport }

func protocolErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}
