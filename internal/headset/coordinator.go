package headset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mil-ad/bosectl/internal/command"
)

// Options configures a Coordinator. The zero value is usable.
type Options struct {
	// ServiceName is the control service to look for. Defaults to
	// DefaultControlService.
	ServiceName string

	// SendQueue bounds the frames waiting to be written per session.
	SendQueue int

	// EventBuffer is the per-subscriber event buffer.
	EventBuffer int

	Logger *slog.Logger
}

// Status describes the active session.
type Status struct {
	Device  PairedDevice
	Channel ChannelID
	State   State
}

// Coordinator connects to a headset by name and owns the single active
// session. Its methods are safe for concurrent use; Connect and SendCommand
// are serialized.
type Coordinator struct {
	registry  *Registry
	resolver  *Resolver
	dialer    ChannelDialer
	events    *EventBus
	log       *slog.Logger
	sendQueue int

	mu     sync.Mutex
	active *Session
	device PairedDevice
	closed bool
}

func NewCoordinator(t Transport, opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	return &Coordinator{
		registry:  NewRegistry(t, log),
		resolver:  NewResolver(t, opts.ServiceName, log),
		dialer:    t,
		events:    NewEventBus(opts.EventBuffer),
		log:       log,
		sendQueue: opts.SendQueue,
	}
}

func (c *Coordinator) Registry() *Registry { return c.registry }
func (c *Coordinator) Resolver() *Resolver { return c.resolver }
func (c *Coordinator) Events() *EventBus   { return c.events }

// ListPairedDevices is Registry.ListPairedDevices.
func (c *Coordinator) ListPairedDevices(ctx context.Context, refresh bool) ([]PairedDevice, error) {
	return c.registry.ListPairedDevices(ctx, refresh)
}

// Connect opens the control channel of the paired device called name and
// makes it the active session. Any previous session is closed first. On
// failure no session is active.
func (c *Coordinator) Connect(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	dev, ok := c.registry.FindByName(name)
	if !ok && c.registry.empty() {
		if _, err := c.registry.ListPairedDevices(ctx, false); err != nil {
			return err
		}
		dev, ok = c.registry.FindByName(name)
	}
	if !ok {
		c.log.Warn("could not find the selected device", "name", name)
		return fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
	}

	ch, err := c.resolver.ResolveControlChannel(ctx, dev)
	if err != nil {
		c.log.Warn("control channel not resolved", "device", dev.DisplayName(), "err", err)
		return err
	}

	c.closeActiveLocked()

	s := NewSession(c.dialer, c.events, c.log, dev.Address, ch, c.sendQueue)
	if err := s.Open(ctx); err != nil {
		c.log.Warn("channel open failed", "device", dev.DisplayName(), "err", err)
		return err
	}
	c.active, c.device = s, dev
	c.log.Info("connected", "device", dev.DisplayName(), "channel", ch)
	return nil
}

// SendCommand writes cmd's frame to the active session.
func (c *Coordinator) SendCommand(cmd command.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return ErrChannelNotOpen
	}
	if err := c.active.Send(cmd.Frame()); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	c.log.Debug("command queued", "command", cmd.String(), "frame", cmd.Frame().String())
	return nil
}

// Status reports the active session. The zero Status means nothing was
// ever connected.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return Status{}
	}
	return Status{Device: c.device, Channel: c.active.Channel(), State: c.active.State()}
}

// ActiveAddress returns the address of the active session's device.
func (c *Coordinator) ActiveAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return ""
	}
	return c.active.Address()
}

// Disconnect closes the active session, if any.
func (c *Coordinator) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeActiveLocked()
}

// Close disconnects and shuts the event bus down. Connect fails with
// ErrClosed afterwards.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	err := c.closeActiveLocked()
	c.events.Close()
	return err
}

func (c *Coordinator) closeActiveLocked() error {
	if c.active == nil {
		return nil
	}
	prev := c.active
	c.active, c.device = nil, PairedDevice{}
	c.log.Info("closing previous session", "address", prev.Address())
	return prev.Close()
}
