//go:build linux

package bluez

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"

	"github.com/mil-ad/bosectl/internal/headset"
	"github.com/mil-ad/bosectl/internal/sdp"
)

var errAdapterOff = errors.New("adapter is powered off")

// Transport talks to BlueZ over the system bus and to devices over
// Bluetooth sockets.
type Transport struct {
	bz      *bluez
	profile *profile
	log     *slog.Logger
	powerOn bool

	changes   <-chan DeviceChange
	closeOnce sync.Once
}

var _ headset.Transport = (*Transport)(nil)

// New connects to BlueZ. Failing to register the serial port profile is
// logged and otherwise ignored; only channels opened by OpenChannel are
// affected.
func New(opts Options) (*Transport, error) {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("adapter", opts.Adapter)

	bz, err := newBluez(opts.Adapter)
	if err != nil {
		return nil, wrap(context.Background(), err, "transport-new", "", "Cannot connect to BlueZ")
	}

	t := &Transport{
		bz:      bz,
		profile: newProfile(log),
		log:     log,
		powerOn: opts.PowerOn,
	}
	if err := bz.registerProfile(t.profile); err != nil {
		log.Warn("serial port profile not registered", "err", err)
		t.profile = nil
	}
	t.changes = deviceChanges(bz.subscribePropertyChanges())
	return t, nil
}

// PairedDevices lists the devices paired with the adapter, sorted by address.
func (t *Transport) PairedDevices(ctx context.Context) ([]headset.PairedDevice, error) {
	if err := t.checkPowered(ctx); err != nil {
		return nil, err
	}

	props, err := t.bz.devices(ctx)
	if err != nil {
		return nil, wrap(ctx, err, "paired-devices", "", "Cannot list devices")
	}

	out := make([]headset.PairedDevice, 0, len(props))
	for _, d := range props {
		if !d.Paired {
			continue
		}
		name := d.Name
		if name == "" {
			name = d.Alias
		}
		out = append(out, headset.PairedDevice{Address: d.Address, Name: name})
	}
	return out, nil
}

// QueryServices reads every browsable service record from the device.
func (t *Transport) QueryServices(ctx context.Context, address string) ([]headset.ServiceRecord, error) {
	conn, err := dialL2CAP(ctx, address, sdp.PSM)
	if err != nil {
		return nil, wrap(ctx, err, "sdp-connect", address, "Cannot reach the service discovery server")
	}
	defer conn.Close()

	records, err := sdp.NewClient(conn).ServiceSearchAttributes(ctx)
	if err != nil {
		return nil, wrap(ctx, err, "sdp-search", address, "Service discovery failed")
	}

	out := make([]headset.ServiceRecord, 0, len(records))
	for _, r := range records {
		rec := headset.ServiceRecord{Name: r.ServiceName()}
		if ch, ok := r.RFCOMMChannel(); ok {
			rec.Channel = headset.ChannelID(ch)
		}
		out = append(out, rec)
	}
	t.log.Debug("service discovery done", "device", address, "records", len(out))
	return out, nil
}

// OpenChannel connects the device if needed and opens an RFCOMM channel.
func (t *Transport) OpenChannel(ctx context.Context, address string, channel headset.ChannelID) (io.ReadWriteCloser, error) {
	if err := t.bz.ensureConnected(address); err != nil {
		// The RFCOMM connect pages the device itself.
		t.log.Debug("baseband connect failed", "device", address, "err", err)
	}

	f, err := dialRFCOMM(ctx, address, uint8(channel))
	if err != nil {
		return nil, wrap(ctx, err, "rfcomm-connect", address, "Cannot open the control channel")
	}
	return f, nil
}

// WatchChannel delivers serial port channels that BlueZ accepts or opens for
// address. Without a registered profile nothing is ever delivered.
func (t *Transport) WatchChannel(address string, channel headset.ChannelID, fn func(io.ReadWriteCloser)) func() {
	if t.profile == nil {
		return func() {}
	}
	return t.profile.watch(address, channel, fn)
}

// DeviceChanges reports connection state changes of devices. The channel
// closes when the transport does.
func (t *Transport) DeviceChanges() <-chan DeviceChange {
	return t.changes
}

// Close unregisters the profile and drops the bus connection.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		if t.profile != nil {
			t.bz.unregisterProfile(t.profile)
		}
		t.bz.close()
	})
	return nil
}

func (t *Transport) checkPowered(ctx context.Context) error {
	powered, err := t.bz.adapterPowered()
	if err != nil {
		return wrap(ctx, err, "adapter-powered", "", "Cannot read the adapter state")
	}
	if powered {
		return nil
	}
	if !t.powerOn {
		return wrap(ctx, errAdapterOff, "adapter-powered", "", "The adapter is powered off")
	}
	t.log.Info("powering on adapter")
	if err := t.bz.setAdapterPowered(true); err != nil {
		return wrap(ctx, err, "adapter-power-on", "", "Cannot power on the adapter")
	}
	return nil
}

func wrap(ctx context.Context, err error, at, address, msg string) error {
	kv := []string{"error_at", at}
	if address != "" {
		kv = append(kv, "address", address)
	}
	return fault.Wrap(err,
		fctx.With(ctx, kv...),
		ftag.With(ftag.Internal),
		fmsg.With(msg),
	)
}
