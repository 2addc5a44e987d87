//go:build linux

package bluez

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/ugorji/go/codec"
)

// variantExt lets go-codec see through dbus.Variant values.
type variantExt struct{}

func (variantExt) ConvertExt(v any) any {
	switch v := v.(type) {
	case *dbus.Variant:
		return v.Value()
	case dbus.Variant:
		return v.Value()
	}
	return v
}

func (variantExt) UpdateExt(dst, src any) {
	if p, ok := dst.(*dbus.Variant); ok {
		*p = dbus.MakeVariant(src)
	}
}

var variantCodec struct {
	sync.Mutex
	once   sync.Once
	handle codec.JsonHandle
	data   []byte
}

// decodeVariantMap decodes the named properties of variants into data, a
// pointer to a struct with codec tags. Properties not in names are ignored.
func decodeVariantMap(variants map[string]dbus.Variant, data any, names ...string) error {
	variantCodec.Lock()
	defer variantCodec.Unlock()

	variantCodec.once.Do(func() {
		h := &variantCodec.handle
		h.TypeInfos = codec.NewTypeInfos([]string{"codec"})
		h.SetInterfaceExt(reflect.TypeOf(dbus.Variant{}), 1, variantExt{})
		h.SetInterfaceExt(reflect.TypeOf((*dbus.Variant)(nil)), 1, variantExt{})
	})

	subset := make(map[string]dbus.Variant, len(names))
	for _, name := range names {
		v, ok := variants[name]
		if !ok {
			continue
		}
		if v.Signature().Empty() {
			return fmt.Errorf("property %q has no signature", name)
		}
		subset[name] = v
	}

	variantCodec.data = variantCodec.data[:0]
	if err := codec.NewEncoderBytes(&variantCodec.data, &variantCodec.handle).Encode(subset); err != nil {
		return err
	}
	return codec.NewDecoderBytes(variantCodec.data, &variantCodec.handle).Decode(data)
}
