// Package native will hold the cgo bridge to the vendor's T2 connection
// library. The library is proprietary and licensed per deployment, so it is
// not part of this repository; builds without it can only run in dry-run
// mode against the simulated counter.
package native

import (
	"errors"

	"ufxgate/internal/gateway/ufx"
)

// ErrUnavailable is returned when the process was built without the vendor
// library linked in.
var ErrUnavailable = errors.New("native UFX library not linked into this build")

// Dialer satisfies ufx.Dialer. Deployments with the vendor SDK replace this
// with the cgo-backed implementation.
type Dialer struct{}

func (Dialer) Dial(ufx.DialConfig, ufx.Callback) (ufx.Conn, error) {
	return nil, ErrUnavailable
}
