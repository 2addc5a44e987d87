package headset

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultControlService is the name the headset advertises its control
// service under.
const DefaultControlService = "SPP Dev"

// Resolver finds the control service on a device.
type Resolver struct {
	q       ServiceQuerier
	service string
	log     *slog.Logger
}

func NewResolver(q ServiceQuerier, service string, log *slog.Logger) *Resolver {
	if service == "" {
		service = DefaultControlService
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{q: q, service: service, log: log}
}

// Inspect returns a copy of dev with Services set to the records the device
// advertises.
func (r *Resolver) Inspect(ctx context.Context, dev PairedDevice) (PairedDevice, error) {
	records, err := r.q.QueryServices(ctx, dev.Address)
	if err != nil {
		return dev, &DiscoveryError{Address: dev.Address, Err: err}
	}
	dev.Services = records
	return dev, nil
}

// ResolveControlChannel returns the RFCOMM channel of the device's control
// service.
func (r *Resolver) ResolveControlChannel(ctx context.Context, dev PairedDevice) (ChannelID, error) {
	dev, err := r.Inspect(ctx, dev)
	if err != nil {
		return 0, err
	}

	// The first record with the service name decides, even when a later
	// one carries a channel.
	for _, rec := range dev.Services {
		if rec.Name != r.service {
			continue
		}
		if rec.Channel == 0 {
			return 0, fmt.Errorf("%w: %q on %s has no RFCOMM channel", ErrServiceNotFound, r.service, dev.DisplayName())
		}
		r.log.Debug("control service found", "device", dev.DisplayName(), "channel", rec.Channel)
		return rec.Channel, nil
	}
	return 0, fmt.Errorf("%w: %q on %s", ErrServiceNotFound, r.service, dev.DisplayName())
}
