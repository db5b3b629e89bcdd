package goble

import (
	"sync"

	"github.com/go-ble/ble"
)

// DeviceFactory creates the host ble.Device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

var (
	hostMu  sync.Mutex
	hostDev ble.Device
)

// hostDevice returns the process-wide ble.Device, creating it on first use.
// Every session and scan shares one adapter handle; opening the HCI socket
// per connection fails with "device busy" on Linux.
func hostDevice() (ble.Device, error) {
	hostMu.Lock()
	defer hostMu.Unlock()

	if hostDev != nil {
		return hostDev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	hostDev = dev
	return dev, nil
}

// ReleaseDevice stops and forgets the shared host device. The next session
// or scan creates a new one.
func ReleaseDevice() error {
	hostMu.Lock()
	defer hostMu.Unlock()

	if hostDev == nil {
		return nil
	}
	err := hostDev.Stop()
	hostDev = nil
	return NormalizeError(err)
}
