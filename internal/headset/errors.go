package headset

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrServiceNotFound   = errors.New("control service not found")
	ErrServiceDiscovery  = errors.New("service discovery failed")
	ErrChannelOpenFailed = errors.New("channel open failed")
	ErrChannelNotOpen    = errors.New("channel not open")
	ErrEnumerationFailed = errors.New("paired device enumeration failed")
	ErrSendQueueFull     = errors.New("send queue full")
	ErrSessionBusy       = errors.New("session already opening or open")
	ErrClosed            = errors.New("coordinator closed")
)

// DiscoveryError reports a failed service discovery query.
type DiscoveryError struct {
	Address string
	Err     error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("%v on %s: %v", ErrServiceDiscovery, e.Address, e.Err)
}

func (e *DiscoveryError) Unwrap() []error {
	return []error{ErrServiceDiscovery, e.Err}
}

// OpenError reports an RFCOMM channel the transport could not open.
type OpenError struct {
	Address string
	Channel ChannelID
	Err     error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%v: %s channel %d: %v", ErrChannelOpenFailed, e.Address, e.Channel, e.Err)
}

func (e *OpenError) Unwrap() []error {
	return []error{ErrChannelOpenFailed, e.Err}
}
