// Package sdp is a minimal Bluetooth Service Discovery Protocol client.
//
// It knows enough of the protocol to fetch every attribute of every record a
// device advertises (ServiceSearchAttributeRequest) and to pick the service
// name and RFCOMM channel out of a record.
package sdp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ElementType is the type descriptor of a data element.
type ElementType uint8

const (
	TypeNil ElementType = iota
	TypeUint
	TypeInt
	TypeUUID
	TypeText
	TypeBool
	TypeSequence
	TypeAlternative
	TypeURL
)

func (t ElementType) String() string {
	switch t {
	case TypeNil:
		return "nil"
	case TypeUint:
		return "uint"
	case TypeInt:
		return "int"
	case TypeUUID:
		return "uuid"
	case TypeText:
		return "text"
	case TypeBool:
		return "bool"
	case TypeSequence:
		return "sequence"
	case TypeAlternative:
		return "alternative"
	case TypeURL:
		return "url"
	}
	return fmt.Sprintf("ElementType(%d)", uint8(t))
}

// ErrMalformed is returned for data elements that cannot be decoded.
var ErrMalformed = errors.New("sdp: malformed data element")

// BaseUUID is the Bluetooth base UUID that 16 and 32 bit UUIDs expand into.
var BaseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// Element is a decoded SDP data element.
type Element struct {
	Type ElementType

	// Value holds the big-endian value bytes of scalar elements.
	Value []byte

	// Items holds the members of sequences and alternatives.
	Items []Element
}

// Uint returns the value of an unsigned integer element of up to 64 bits.
func (e Element) Uint() (uint64, bool) {
	if e.Type != TypeUint {
		return 0, false
	}
	return beUint(e.Value)
}

// Int returns the value of a signed integer element of up to 64 bits.
func (e Element) Int() (int64, bool) {
	if e.Type != TypeInt {
		return 0, false
	}
	v, ok := beUint(e.Value)
	if !ok {
		return 0, false
	}
	shift := 64 - 8*len(e.Value)
	return int64(v<<shift) >> shift, true
}

// UUID returns the full 128-bit form of a UUID element.
func (e Element) UUID() (uuid.UUID, bool) {
	if e.Type != TypeUUID {
		return uuid.Nil, false
	}
	switch len(e.Value) {
	case 2, 4:
		v, _ := beUint(e.Value)
		return FromShort(uint32(v)), true
	case 16:
		var u uuid.UUID
		copy(u[:], e.Value)
		return u, true
	}
	return uuid.Nil, false
}

// Text returns the contents of a text or URL element.
func (e Element) Text() (string, bool) {
	if e.Type != TypeText && e.Type != TypeURL {
		return "", false
	}
	// Some stacks include the C string terminator.
	b := e.Value
	if n := len(b); n > 0 && b[n-1] == 0 {
		b = b[:n-1]
	}
	return string(b), true
}

func (e Element) Bool() (bool, bool) {
	if e.Type != TypeBool || len(e.Value) != 1 {
		return false, false
	}
	return e.Value[0] != 0, true
}

// FromShort expands a 16 or 32 bit UUID alias.
func FromShort(v uint32) uuid.UUID {
	u := BaseUUID
	binary.BigEndian.PutUint32(u[:4], v)
	return u
}

// Short returns the 16 or 32 bit alias of u, if it has one.
func Short(u uuid.UUID) (uint32, bool) {
	if [12]byte(u[4:]) != [12]byte(BaseUUID[4:]) {
		return 0, false
	}
	return binary.BigEndian.Uint32(u[:4]), true
}

// Uint16 returns an unsigned 16-bit integer element.
func Uint16(v uint16) Element {
	return Element{Type: TypeUint, Value: binary.BigEndian.AppendUint16(nil, v)}
}

// Uint32 returns an unsigned 32-bit integer element.
func Uint32(v uint32) Element {
	return Element{Type: TypeUint, Value: binary.BigEndian.AppendUint32(nil, v)}
}

// UUIDElement returns the shortest UUID element for u.
func UUIDElement(u uuid.UUID) Element {
	if v, ok := Short(u); ok {
		if v <= 0xffff {
			return Element{Type: TypeUUID, Value: binary.BigEndian.AppendUint16(nil, uint16(v))}
		}
		return Element{Type: TypeUUID, Value: binary.BigEndian.AppendUint32(nil, v)}
	}
	return Element{Type: TypeUUID, Value: append([]byte(nil), u[:]...)}
}

// Text returns a text string element.
func Text(s string) Element {
	return Element{Type: TypeText, Value: []byte(s)}
}

// Sequence returns a data element sequence.
func Sequence(items ...Element) Element {
	return Element{Type: TypeSequence, Items: items}
}

// Append appends the encoded element to b.
func (e Element) Append(b []byte) []byte {
	var body []byte
	switch e.Type {
	case TypeNil:
		return append(b, 0)
	case TypeSequence, TypeAlternative:
		for _, it := range e.Items {
			body = it.Append(body)
		}
	default:
		body = e.Value
	}

	hdr := byte(e.Type) << 3
	fixed := e.Type == TypeUint || e.Type == TypeInt || e.Type == TypeUUID || e.Type == TypeBool
	switch {
	case fixed && len(body) == 1:
		b = append(b, hdr|0)
	case fixed && len(body) == 2:
		b = append(b, hdr|1)
	case fixed && len(body) == 4:
		b = append(b, hdr|2)
	case fixed && len(body) == 8:
		b = append(b, hdr|3)
	case fixed && len(body) == 16:
		b = append(b, hdr|4)
	case len(body) <= 0xff:
		b = append(b, hdr|5, byte(len(body)))
	case len(body) <= 0xffff:
		b = append(b, hdr|6)
		b = binary.BigEndian.AppendUint16(b, uint16(len(body)))
	default:
		b = append(b, hdr|7)
		b = binary.BigEndian.AppendUint32(b, uint32(len(body)))
	}
	return append(b, body...)
}

// Decode decodes the data element at the start of b and returns it with the
// number of bytes it occupied.
func Decode(b []byte) (Element, int, error) {
	if len(b) == 0 {
		return Element{}, 0, fmt.Errorf("%w: empty input", ErrMalformed)
	}

	typ := ElementType(b[0] >> 3)
	idx := b[0] & 0x07
	off := 1

	var size int
	switch idx {
	case 0, 1, 2, 3, 4:
		size = 1 << idx
		if typ == TypeNil {
			if idx != 0 {
				return Element{}, 0, fmt.Errorf("%w: nil with size index %d", ErrMalformed, idx)
			}
			return Element{Type: TypeNil}, 1, nil
		}
	case 5:
		if len(b) < 2 {
			return Element{}, 0, fmt.Errorf("%w: truncated length", ErrMalformed)
		}
		size, off = int(b[1]), 2
	case 6:
		if len(b) < 3 {
			return Element{}, 0, fmt.Errorf("%w: truncated length", ErrMalformed)
		}
		size, off = int(binary.BigEndian.Uint16(b[1:3])), 3
	case 7:
		if len(b) < 5 {
			return Element{}, 0, fmt.Errorf("%w: truncated length", ErrMalformed)
		}
		size, off = int(binary.BigEndian.Uint32(b[1:5])), 5
	}

	if size < 0 || len(b)-off < size {
		return Element{}, 0, fmt.Errorf("%w: %s of %d bytes exceeds input", ErrMalformed, typ, size)
	}
	body := b[off : off+size]

	switch typ {
	case TypeSequence, TypeAlternative:
		e := Element{Type: typ}
		for len(body) > 0 {
			it, n, err := Decode(body)
			if err != nil {
				return Element{}, 0, err
			}
			e.Items = append(e.Items, it)
			body = body[n:]
		}
		return e, off + size, nil
	case TypeUint, TypeInt, TypeUUID, TypeText, TypeBool, TypeURL:
		return Element{Type: typ, Value: append([]byte(nil), body...)}, off + size, nil
	}
	return Element{}, 0, fmt.Errorf("%w: unknown type %d", ErrMalformed, uint8(typ))
}

func beUint(b []byte) (uint64, bool) {
	switch len(b) {
	case 1:
		return uint64(b[0]), true
	case 2:
		return uint64(binary.BigEndian.Uint16(b)), true
	case 4:
		return uint64(binary.BigEndian.Uint32(b)), true
	case 8:
		return binary.BigEndian.Uint64(b), true
	}
	return 0, false
}
