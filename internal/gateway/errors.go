package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors returned synchronously by gateway calls.
var (
	// ErrNotReady is returned when a request is issued outside the Ready state.
	ErrNotReady = errors.New("gateway session not ready")
	// ErrValidation wraps structural problems detected before any native call.
	ErrValidation = errors.New("validation failed")
	// ErrUnknownOrder is returned for cancels referencing an unknown local id.
	ErrUnknownOrder = errors.New("unknown local order id")
)

// Reject reasons carried on terminal OrderUpdate events. These are values,
// not errors: rejection is delivered asynchronously through the event stream.
const (
	ReasonTimeout        = "timeout"
	ReasonConnectionLost = "connection-lost"
)

// VendorError is an explicit broker rejection, with the vendor code preserved
// alongside the normalized message.
type VendorError struct {
	Code    string
	Message string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("vendor rejection %s: %s", e.Code, e.Message)
}

// Validationf wraps ErrValidation with detail so callers can errors.Is it.
func Validationf(format string, v ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, v...)...)
}
