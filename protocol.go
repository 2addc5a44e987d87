package main

import "github.com/mil-ad/bosectl/internal/headset"

// IPC commands understood by the daemon.
const (
	cmdDevices    = "devices"
	cmdServices   = "services"
	cmdConnect    = "connect"
	cmdSend       = "send"
	cmdStatus     = "status"
	cmdDisconnect = "disconnect"
)

// IPCRequest is sent from the CLI client to the daemon.
type IPCRequest struct {
	Command string   `json:"command"`
	Device  string   `json:"device,omitempty"` // device name, defaults to the configured one
	Refresh bool     `json:"refresh,omitempty"`
	Op      string   `json:"op,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// IPCResponse is sent from the daemon back to the CLI client.
type IPCResponse struct {
	State   string                 `json:"state,omitempty"` // "closed", "opening", "open"
	Device  string                 `json:"device,omitempty"`
	Address string                 `json:"address,omitempty"`
	Channel headset.ChannelID      `json:"channel,omitempty"`
	Devices []headset.PairedDevice `json:"devices,omitempty"`
	Frame   string                 `json:"frame,omitempty"` // hex of the frame written
	Error   string                 `json:"error,omitempty"`
}
