//go:build linux

package bluez

import (
	"io"
	"log/slog"
	"os"

	"github.com/godbus/dbus/v5"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/xid"
	"golang.org/x/sys/unix"

	"github.com/mil-ad/bosectl/internal/headset"
	"github.com/mil-ad/bosectl/internal/sdp"
)

const errRejected = "org.bluez.Error.Rejected"

type watcher struct {
	channel headset.ChannelID
	fn      func(io.ReadWriteCloser)
}

// profile implements org.bluez.Profile1. BlueZ hands it the socket of every
// serial port connection it sets up for us, including ones the headset opens.
type profile struct {
	path     dbus.ObjectPath
	log      *slog.Logger
	watchers *xsync.MapOf[string, *watcher]
}

func newProfile(log *slog.Logger) *profile {
	return &profile{
		path:     dbus.ObjectPath("/org/bosectl/profile/spp" + xid.New().String()),
		log:      log,
		watchers: xsync.NewMapOf[string, *watcher](),
	}
}

func (p *profile) Release() *dbus.Error { return nil }

func (p *profile) RequestDisconnection(dev dbus.ObjectPath) *dbus.Error {
	p.log.Debug("profile disconnection requested", "device", macFromPath(dev))
	return nil
}

func (p *profile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	addr := macFromPath(dev)
	w, ok := p.watchers.Load(addr)
	if !ok {
		unix.Close(int(fd))
		p.log.Debug("rejected unwatched connection", "device", addr)
		return &dbus.Error{Name: errRejected, Body: []any{"no session for device"}}
	}
	if err := unix.SetNonblock(int(fd), true); err != nil {
		unix.Close(int(fd))
		return dbus.MakeFailedError(err)
	}

	p.log.Debug("incoming channel", "device", addr, "channel", w.channel)
	go w.fn(os.NewFile(uintptr(fd), "rfcomm:"+addr))
	return nil
}

// watch registers fn for connections to addr, replacing any earlier watcher.
func (p *profile) watch(addr string, ch headset.ChannelID, fn func(io.ReadWriteCloser)) func() {
	w := &watcher{channel: ch, fn: fn}
	p.watchers.Store(addr, w)
	return func() {
		p.watchers.Compute(addr, func(old *watcher, loaded bool) (*watcher, bool) {
			// Deleting an absent key is a no-op.
			return old, !loaded || old == w
		})
	}
}

func (b *bluez) registerProfile(p *profile) error {
	if err := b.conn.Export(p, p.path, profileIface); err != nil {
		return err
	}
	opts := map[string]dbus.Variant{
		"Name":        dbus.MakeVariant("bosectl"),
		"Role":        dbus.MakeVariant("client"),
		"AutoConnect": dbus.MakeVariant(true),
	}
	pm := b.conn.Object(busName, profileManagerPath)
	if err := pm.Call(profileMgrIface+".RegisterProfile", 0, p.path, sdp.SerialPort.String(), opts).Err; err != nil {
		b.conn.Export(nil, p.path, profileIface)
		return err
	}
	return nil
}

func (b *bluez) unregisterProfile(p *profile) {
	b.conn.Object(busName, profileManagerPath).Call(profileMgrIface+".UnregisterProfile", 0, p.path)
	b.conn.Export(nil, p.path, profileIface)
}
