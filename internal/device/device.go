package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PanelNamePrefix is the advertised local-name prefix of supported LED panels.
const PanelNamePrefix = "LED_BLE_"

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
	BluetoothOff     ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// NormalizeAddress returns the canonical form of a panel hardware address:
// surrounding whitespace removed, upper case.
func NormalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// DeviceSession is one radio session to one physical panel.
//
// Implementations are not safe for concurrent use, with one exception:
// Disconnect may be called while Connect or SendPayload is blocked, and must
// make them return. Every method honours ctx cancellation where the
// transport allows it.
type DeviceSession interface {
	// Connect dials address and prepares the session for payload writes.
	// The whole dial is bounded by timeout.
	Connect(ctx context.Context, address string, timeout time.Duration) error

	// SendPayload transmits an opaque, already framed payload, pausing
	// writeDelay between consecutive radio writes.
	SendPayload(ctx context.Context, payload []byte, writeDelay time.Duration) error

	// Disconnect releases the radio link. Calling it on a session that never
	// connected, or twice, is not an error.
	Disconnect() error
}

// SessionFactory creates a fresh, unconnected DeviceSession.
type SessionFactory func() DeviceSession

// Advertisement is one received advertising packet, reduced to what panel
// discovery needs.
type Advertisement struct {
	Name        string
	Address     string
	RSSI        int
	Connectable bool
}

// Scanner streams advertisements to handler until ctx ends.
type Scanner interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}
