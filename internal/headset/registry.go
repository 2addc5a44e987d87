package headset

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

const enumerateTimeout = 30 * time.Second

// Registry caches the list of paired devices.
type Registry struct {
	enum  Enumerator
	log   *slog.Logger
	cache atomic.Pointer[[]PairedDevice]
	group singleflight.Group
}

func NewRegistry(enum Enumerator, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{enum: enum, log: log}
}

// ListPairedDevices returns the paired devices. The cached list is returned
// as is unless refresh is set or the cache is empty, in which case the
// platform is queried and the cache replaced.
//
// An empty result with a nil error means no devices are paired. A failed
// query returns an error wrapping ErrEnumerationFailed and keeps the
// previous cache.
func (r *Registry) ListPairedDevices(ctx context.Context, refresh bool) ([]PairedDevice, error) {
	if !refresh {
		if devices := r.snapshot(); len(devices) > 0 {
			return devices, nil
		}
	}

	// The shared query must outlive a caller that gives up, so it runs on
	// its own deadline and each caller waits on its own ctx.
	ch := r.group.DoChan("enumerate", func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enumerateTimeout)
		defer cancel()

		devices, err := r.enum.PairedDevices(qctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
		}

		fresh := make([]PairedDevice, 0, len(devices))
		for _, d := range devices {
			d.Services = nil
			fresh = append(fresh, d)
		}
		r.cache.Store(&fresh)
		return fresh, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrEnumerationFailed, ctx.Err())
	}
	v, err := res.Val, res.Err
	if err != nil {
		r.log.Warn("paired device enumeration failed", "err", err)
		return nil, err
	}

	r.log.Debug("paired devices enumerated", "count", len(v.([]PairedDevice)))
	return slices.Clone(v.([]PairedDevice)), nil
}

// FindByName looks the name up in the cached list. The match is exact and
// case-sensitive; the first match wins.
func (r *Registry) FindByName(name string) (PairedDevice, bool) {
	devices := r.cache.Load()
	if devices == nil {
		return PairedDevice{}, false
	}
	for _, d := range *devices {
		if d.Name == name {
			return d, true
		}
	}
	return PairedDevice{}, false
}

func (r *Registry) empty() bool {
	devices := r.cache.Load()
	return devices == nil || len(*devices) == 0
}

func (r *Registry) snapshot() []PairedDevice {
	devices := r.cache.Load()
	if devices == nil {
		return nil
	}
	return slices.Clone(*devices)
}
