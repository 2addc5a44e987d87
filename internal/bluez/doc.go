// Package bluez is the BlueZ implementation of headset.Transport.
//
// Devices and their properties come from the system D-Bus. Service records
// are read with an SDP client over an L2CAP socket, and control channels are
// plain RFCOMM sockets. A Profile1 object registered for the serial port
// UUID receives channels that BlueZ or the headset open on their own.
package bluez

import (
	"errors"
	"log/slog"
)

// ErrNotSupported is returned on platforms without BlueZ.
var ErrNotSupported = errors.New("bluez: not supported on this platform")

// Options configures a Transport.
type Options struct {
	// Adapter is the local adapter name, e.g. "hci0".
	Adapter string

	// PowerOn turns the adapter on when it is found powered off.
	PowerOn bool

	Logger *slog.Logger
}

// DeviceChange reports a device's connection state flipping.
type DeviceChange struct {
	Address   string
	Connected bool
}
