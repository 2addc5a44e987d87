//go:build linux

package bluez

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName         = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	profileIface    = "org.bluez.Profile1"
	profileMgrIface = "org.bluez.ProfileManager1"
	propsIface      = "org.freedesktop.DBus.Properties"
	propsSignal     = "org.freedesktop.DBus.Properties.PropertiesChanged"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"

	profileManagerPath = dbus.ObjectPath("/org/bluez")
)

func adapterObjectPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// deviceObjectPath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapter, addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(addr), ":", "_")
	return dbus.ObjectPath(string(adapterObjectPath(adapter)) + "/dev_" + escaped)
}

// macFromPath extracts a MAC address from a BlueZ device object path.
func macFromPath(path dbus.ObjectPath) string {
	s := string(path)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+len("/dev_"):], "_", ":")
}

// bluez wraps a system D-Bus connection for BlueZ operations on one adapter.
type bluez struct {
	conn    *dbus.Conn
	adapter string
}

func newBluez(adapter string) (*bluez, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	// Quick check that BlueZ is on the bus.
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	if !slices.Contains(names, busName) {
		conn.Close()
		return nil, fmt.Errorf("org.bluez not found on system bus, is bluetooth.service running?")
	}
	return &bluez{conn: conn, adapter: adapter}, nil
}

func (b *bluez) close() {
	b.conn.Close()
}

// --- property helpers ---

func (b *bluez) getProp(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	obj := b.conn.Object(busName, path)
	var v dbus.Variant
	err := obj.Call(propsIface+".Get", 0, iface, prop).Store(&v)
	return v, err
}

func (b *bluez) setProp(path dbus.ObjectPath, iface, prop string, val interface{}) error {
	obj := b.conn.Object(busName, path)
	return obj.Call(propsIface+".Set", 0, iface, prop, dbus.MakeVariant(val)).Err
}

func (b *bluez) getBool(path dbus.ObjectPath, iface, prop string) (bool, error) {
	v, err := b.getProp(path, iface, prop)
	if err != nil {
		return false, err
	}
	val, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s is not bool", prop)
	}
	return val, nil
}

// --- adapter ---

func (b *bluez) adapterPowered() (bool, error) {
	return b.getBool(adapterObjectPath(b.adapter), adapterIface, "Powered")
}

func (b *bluez) setAdapterPowered(on bool) error {
	return b.setProp(adapterObjectPath(b.adapter), adapterIface, "Powered", on)
}

// --- device ---

func (b *bluez) deviceConnected(addr string) (bool, error) {
	return b.getBool(deviceObjectPath(b.adapter, addr), deviceIface, "Connected")
}

func (b *bluez) deviceBlocked(addr string) (bool, error) {
	return b.getBool(deviceObjectPath(b.adapter, addr), deviceIface, "Blocked")
}

func (b *bluez) setBlocked(addr string, blocked bool) error {
	return b.setProp(deviceObjectPath(b.adapter, addr), deviceIface, "Blocked", blocked)
}

func (b *bluez) connect(addr string) error {
	obj := b.conn.Object(busName, deviceObjectPath(b.adapter, addr))
	return obj.Call(deviceIface+".Connect", 0).Err
}

// ensureConnected unblocks and connects the device unless it already is.
func (b *bluez) ensureConnected(addr string) error {
	if connected, err := b.deviceConnected(addr); err == nil && connected {
		return nil
	}
	if blocked, _ := b.deviceBlocked(addr); blocked {
		if err := b.setBlocked(addr, false); err != nil {
			return fmt.Errorf("unblock: %w", err)
		}
	}
	if err := b.connect(addr); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// --- enumeration ---

// deviceProps is the subset of Device1 properties we read.
type deviceProps struct {
	Address   string   `codec:"Address"`
	Name      string   `codec:"Name"`
	Alias     string   `codec:"Alias"`
	Paired    bool     `codec:"Paired"`
	Connected bool     `codec:"Connected"`
	UUIDs     []string `codec:"UUIDs"`
}

var devicePropNames = []string{"Address", "Name", "Alias", "Paired", "Connected", "UUIDs"}

// devices returns the Device1 objects under the adapter, sorted by address.
func (b *bluez) devices(ctx context.Context) ([]deviceProps, error) {
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := b.conn.Object(busName, "/")
	if err := obj.CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0).Store(&objs); err != nil {
		return nil, fmt.Errorf("get managed objects: %w", err)
	}

	prefix := string(adapterObjectPath(b.adapter)) + "/dev_"
	var out []deviceProps
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}

		var d deviceProps
		if err := decodeVariantMap(props, &d, devicePropNames...); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if d.Address == "" {
			d.Address = macFromPath(path)
		}
		out = append(out, d)
	}

	slices.SortFunc(out, func(a, b deviceProps) int { return strings.Compare(a.Address, b.Address) })
	return out, nil
}

// --- signal subscription ---

func (b *bluez) subscribePropertyChanges() chan *dbus.Signal {
	b.conn.BusObject().Call(
		"org.freedesktop.DBus.AddMatch", 0,
		"type='signal',interface='"+propsIface+"',member='PropertiesChanged',path_namespace='/org/bluez'",
	)
	ch := make(chan *dbus.Signal, 16)
	b.conn.Signal(ch)
	return ch
}

// deviceChanges turns PropertiesChanged signals for Device1.Connected into
// DeviceChange values. The returned channel closes with the bus connection.
func deviceChanges(sigCh <-chan *dbus.Signal) <-chan DeviceChange {
	out := make(chan DeviceChange, 16)
	go func() {
		defer close(out)
		for sig := range sigCh {
			if sig.Name != propsSignal {
				continue
			}
			// Body: [interface_name string, changed_props map[string]Variant, invalidated []string]
			if len(sig.Body) < 2 {
				continue
			}
			iface, ok := sig.Body[0].(string)
			if !ok || iface != deviceIface {
				continue
			}
			changed, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				continue
			}
			connVar, ok := changed["Connected"]
			if !ok {
				continue
			}
			connected, ok := connVar.Value().(bool)
			if !ok {
				continue
			}
			mac := macFromPath(sig.Path)
			if mac == "" {
				continue
			}
			select {
			case out <- DeviceChange{Address: mac, Connected: connected}:
			default:
			}
		}
	}()
	return out
}
