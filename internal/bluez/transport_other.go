//go:build !linux

package bluez

import (
	"context"
	"io"

	"github.com/mil-ad/bosectl/internal/headset"
)

// Transport is unavailable outside Linux.
type Transport struct{}

func New(Options) (*Transport, error) { return nil, ErrNotSupported }

func (*Transport) PairedDevices(context.Context) ([]headset.PairedDevice, error) {
	return nil, ErrNotSupported
}

func (*Transport) QueryServices(context.Context, string) ([]headset.ServiceRecord, error) {
	return nil, ErrNotSupported
}

func (*Transport) OpenChannel(context.Context, string, headset.ChannelID) (io.ReadWriteCloser, error) {
	return nil, ErrNotSupported
}

func (*Transport) WatchChannel(string, headset.ChannelID, func(io.ReadWriteCloser)) func() {
	return func() {}
}

func (*Transport) DeviceChanges() <-chan DeviceChange { return nil }

func (*Transport) Close() error { return nil }
