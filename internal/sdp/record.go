package sdp

import (
	"fmt"

	"github.com/google/uuid"
)

// Universal attribute IDs.
const (
	AttrServiceRecordHandle      uint16 = 0x0000
	AttrServiceClassIDList       uint16 = 0x0001
	AttrProtocolDescriptorList   uint16 = 0x0004
	AttrBrowseGroupList          uint16 = 0x0005
	AttrBluetoothProfileDescList uint16 = 0x0009

	// AttrServiceName is the service name in the primary language.
	AttrServiceName uint16 = 0x0100
)

// Protocol and group UUIDs.
var (
	L2CAP            = FromShort(0x0100)
	RFCOMM           = FromShort(0x0003)
	PublicBrowseRoot = FromShort(0x1002)
	SerialPort       = FromShort(0x1101)
)

// Record is a service record: attribute ID to value.
type Record map[uint16]Element

// ServiceName returns the primary language service name.
func (r Record) ServiceName() string {
	s, _ := r[AttrServiceName].Text()
	return s
}

// RFCOMMChannel returns the server channel from the protocol descriptor list.
func (r Record) RFCOMMChannel() (uint8, bool) {
	pdl, ok := r[AttrProtocolDescriptorList]
	if !ok {
		return 0, false
	}
	for _, desc := range protocolDescriptors(pdl) {
		if len(desc.Items) < 2 {
			continue
		}
		if u, ok := desc.Items[0].UUID(); !ok || u != RFCOMM {
			continue
		}
		if ch, ok := desc.Items[1].Uint(); ok && ch > 0 && ch <= 0xff {
			return uint8(ch), true
		}
	}
	return 0, false
}

// ServiceClasses returns the UUIDs of the record's service class ID list.
func (r Record) ServiceClasses() []uuid.UUID {
	var out []uuid.UUID
	for _, it := range r[AttrServiceClassIDList].Items {
		if u, ok := it.UUID(); ok {
			out = append(out, u)
		}
	}
	return out
}

// protocolDescriptors flattens a protocol descriptor list, which is either a
// sequence of descriptors or an alternative of such sequences.
func protocolDescriptors(e Element) []Element {
	if e.Type == TypeAlternative {
		var out []Element
		for _, it := range e.Items {
			out = append(out, protocolDescriptors(it)...)
		}
		return out
	}
	if e.Type != TypeSequence {
		return nil
	}
	var out []Element
	for _, it := range e.Items {
		if it.Type == TypeSequence {
			out = append(out, it)
		}
	}
	return out
}

// ParseRecords decodes an attribute list sequence as returned in a
// ServiceSearchAttributeResponse: a sequence of records, each a sequence of
// alternating attribute IDs and values.
func ParseRecords(lists Element) ([]Record, error) {
	if lists.Type != TypeSequence {
		return nil, fmt.Errorf("%w: attribute lists are a %s", ErrMalformed, lists.Type)
	}

	records := make([]Record, 0, len(lists.Items))
	for _, attrs := range lists.Items {
		if attrs.Type != TypeSequence || len(attrs.Items)%2 != 0 {
			return nil, fmt.Errorf("%w: bad attribute list", ErrMalformed)
		}
		rec := make(Record, len(attrs.Items)/2)
		for i := 0; i < len(attrs.Items); i += 2 {
			id, ok := attrs.Items[i].Uint()
			if !ok || id > 0xffff {
				return nil, fmt.Errorf("%w: bad attribute id", ErrMalformed)
			}
			rec[uint16(id)] = attrs.Items[i+1]
		}
		records = append(records, rec)
	}
	return records, nil
}
