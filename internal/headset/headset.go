// Package headset is the Bluetooth session layer for the headset's control
// service: it enumerates paired devices, locates the "SPP Dev" service on a
// device, keeps a single RFCOMM channel open and writes command frames to it.
//
// The package talks to the platform only through Transport. Callers that
// need to react to channel activity subscribe to the EventBus.
package headset

import (
	"context"
	"io"
	"strconv"
)

// ChannelID is an RFCOMM channel number as advertised by the remote device.
// Treat it as opaque; zero means "no channel".
type ChannelID uint8

func (c ChannelID) String() string { return strconv.Itoa(int(c)) }

// ServiceRecord is one service advertised by a device.
type ServiceRecord struct {
	Name    string    `json:"name"`
	Channel ChannelID `json:"channel,omitempty"`
}

// PairedDevice is a device paired with the local adapter.
//
// Services is always empty on devices held by the Registry; the Resolver
// fills it on the copies it returns.
type PairedDevice struct {
	Address  string          `json:"address"`
	Name     string          `json:"name"`
	Services []ServiceRecord `json:"services,omitempty"`
}

// DisplayName returns the name, or the address for unnamed devices.
func (d PairedDevice) DisplayName() string {
	if d.Name == "" {
		return d.Address
	}
	return d.Name
}

// Enumerator lists the devices paired with the local adapter.
type Enumerator interface {
	PairedDevices(ctx context.Context) ([]PairedDevice, error)
}

// ServiceQuerier runs service discovery against a single device.
type ServiceQuerier interface {
	QueryServices(ctx context.Context, address string) ([]ServiceRecord, error)
}

// ChannelDialer opens RFCOMM channels.
type ChannelDialer interface {
	// OpenChannel blocks until the channel is open or the open failed.
	OpenChannel(ctx context.Context, address string, channel ChannelID) (io.ReadWriteCloser, error)

	// WatchChannel calls fn for every channel to address that is opened
	// without an OpenChannel call, for example by the remote side. The
	// returned func stops the watch.
	WatchChannel(address string, channel ChannelID, fn func(io.ReadWriteCloser)) (stop func())
}

// Transport is everything the package needs from the platform Bluetooth stack.
type Transport interface {
	Enumerator
	ServiceQuerier
	ChannelDialer
}
