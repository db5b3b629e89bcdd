package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/srg/hopper/internal/device"
)

// bleScanner wraps ble.Device to implement the device.Scanner interface
type bleScanner struct {
	dev ble.Device
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to device.Advertisement
func (s *bleScanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	err := s.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(ConvertAdvertisement(adv))
	})
	if err != nil {
		return NormalizeError(err)
	}
	return nil
}

// ConvertAdvertisement reduces a go-ble advertisement to device.Advertisement.
func ConvertAdvertisement(adv ble.Advertisement) device.Advertisement {
	return device.Advertisement{
		Name:        adv.LocalName(),
		Address:     device.NormalizeAddress(adv.Addr().String()),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
	}
}

// NewScanner creates a device.Scanner over the shared host device.
func NewScanner() (device.Scanner, error) {
	dev, err := hostDevice()
	if err != nil {
		return nil, err
	}
	return &bleScanner{dev: dev}, nil
}
