//go:build linux

package bluez

import (
	"io"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectPaths(t *testing.T) {
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci1/dev_04_52_C7_00_00_01"), deviceObjectPath("hci1", "04:52:c7:00:00:01"))
	assert.Equal(t, "04:52:C7:00:00:01", macFromPath("/org/bluez/hci0/dev_04_52_C7_00_00_01"))
	assert.Empty(t, macFromPath("/org/bluez/hci0"))
}

func TestParseAddr(t *testing.T) {
	b, err := parseAddr("04:52:C7:00:00:01")
	require.NoError(t, err)
	assert.Equal(t, [6]uint8{0x01, 0x00, 0x00, 0xc7, 0x52, 0x04}, b)

	_, err = parseAddr("not-an-address")
	assert.Error(t, err)
	_, err = parseAddr("00:00:00:00:fe:80:00:00")
	assert.Error(t, err)
}

func TestDecodeVariantMap(t *testing.T) {
	props := map[string]dbus.Variant{
		"Address":   dbus.MakeVariant("04:52:C7:00:00:01"),
		"Alias":     dbus.MakeVariant("Bose QC35"),
		"Paired":    dbus.MakeVariant(true),
		"Connected": dbus.MakeVariant(false),
		"UUIDs":     dbus.MakeVariant([]string{"00001101-0000-1000-8000-00805f9b34fb"}),
		"RSSI":      dbus.MakeVariant(int16(-60)),
	}

	var d deviceProps
	require.NoError(t, decodeVariantMap(props, &d, devicePropNames...))
	assert.Equal(t, deviceProps{
		Address: "04:52:C7:00:00:01",
		Alias:   "Bose QC35",
		Paired:  true,
		UUIDs:   []string{"00001101-0000-1000-8000-00805f9b34fb"},
	}, d)
}

func TestDeviceChanges(t *testing.T) {
	sigs := make(chan *dbus.Signal, 4)
	out := deviceChanges(sigs)

	sigs <- &dbus.Signal{
		Name: propsSignal,
		Path: "/org/bluez/hci0/dev_04_52_C7_00_00_01",
		Body: []any{adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(false)}, []string{}},
	}
	sigs <- &dbus.Signal{
		Name: propsSignal,
		Path: "/org/bluez/hci0/dev_04_52_C7_00_00_01",
		Body: []any{deviceIface, map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)}, []string{}},
	}
	close(sigs)

	var got []DeviceChange
	for c := range out {
		got = append(got, c)
	}
	assert.Equal(t, []DeviceChange{{Address: "04:52:C7:00:00:01", Connected: false}}, got)
}

func TestProfileWatch(t *testing.T) {
	p := newProfile(nil)
	calls := 0
	stop := p.watch("04:52:C7:00:00:01", 8, func(io.ReadWriteCloser) { calls++ })

	w, ok := p.watchers.Load("04:52:C7:00:00:01")
	require.True(t, ok)
	assert.EqualValues(t, 8, w.channel)

	// A newer watch for the same device survives the old stop func.
	stop2 := p.watch("04:52:C7:00:00:01", 9, func(io.ReadWriteCloser) {})
	stop()
	_, ok = p.watchers.Load("04:52:C7:00:00:01")
	assert.True(t, ok)

	stop2()
	_, ok = p.watchers.Load("04:52:C7:00:00:01")
	assert.False(t, ok)
	assert.Zero(t, calls)
}
