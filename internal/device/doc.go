// Package device defines the radio-facing contract for LED panels.
//
// A DeviceSession is the opaque capability used by the fleet orchestrator to
// connect to one panel, push one rendered payload and disconnect again. The
// go-ble subpackage provides the production implementation; tests supply
// scriptable doubles.
//
// The package also owns the shared error vocabulary (ConnectionError states,
// ErrTimeout) and the canonical address form used as the key everywhere a
// panel is tracked.
package device
