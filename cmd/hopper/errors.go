package main

import (
	"errors"
	"fmt"

	"github.com/srg/hopper/internal/device"
	"github.com/srg/hopper/pkg/config"
)

// Command-level errors
var (
	// ErrSendFailed marks a send where at least one panel was not updated.
	// The per-panel results have already been printed.
	ErrSendFailed = errors.New("send failed")
)

// FormatUserError turns radio and registry errors into actionable messages.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSendFailed):
		return err.Error()
	case device.IsConnectionState(err, device.BluetoothOff):
		return "Bluetooth is unavailable: turn it on, or check the adapter and permissions"
	case errors.Is(err, device.ErrUnsupported):
		return "Bluetooth LE is not supported on this platform"
	case device.IsConnectionState(err, device.NotConnected):
		return fmt.Sprintf("panel is not connected (is it powered and in range?): %v", err)
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("operation timed out: the panel may be out of range or busy: %v", err)
	case errors.Is(err, config.ErrPanelNotFound):
		return fmt.Sprintf("%v (see 'hopper panels')", err)
	default:
		return err.Error()
	}
}
