package sdp

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers each request with the next scripted PDU body.
type fakeServer struct {
	requests  [][]byte
	responses [][]byte
	pdu       byte
}

func (s *fakeServer) Write(p []byte) (int, error) {
	s.requests = append(s.requests, append([]byte(nil), p...))
	return len(p), nil
}

func (s *fakeServer) Read(p []byte) (int, error) {
	if len(s.responses) == 0 {
		return 0, errors.New("no response scripted")
	}
	body := s.responses[0]
	s.responses = s.responses[1:]

	last := s.requests[len(s.requests)-1]
	pdu := s.pdu
	if pdu == 0 {
		pdu = pduServiceSearchAttrResponse
	}
	resp := []byte{pdu, last[1], last[2]}
	resp = binary.BigEndian.AppendUint16(resp, uint16(len(body)))
	resp = append(resp, body...)
	return copy(p, resp), nil
}

func attrResponse(lists, cont []byte) []byte {
	b := binary.BigEndian.AppendUint16(nil, uint16(len(lists)))
	b = append(b, lists...)
	b = append(b, byte(len(cont)))
	return append(b, cont...)
}

func sppRecord(name string, channel uint8) Element {
	return Sequence(
		Uint16(AttrServiceRecordHandle), Uint32(0x00010003),
		Uint16(AttrServiceClassIDList), Sequence(UUIDElement(SerialPort)),
		Uint16(AttrProtocolDescriptorList), Sequence(
			Sequence(UUIDElement(L2CAP)),
			Sequence(UUIDElement(RFCOMM), Element{Type: TypeUint, Value: []byte{channel}}),
		),
		Uint16(AttrServiceName), Text(name),
	)
}

func TestDecodeWireBytes(t *testing.T) {
	// sequence { uuid16 0x1101 }
	el, n, err := Decode([]byte{0x35, 0x03, 0x19, 0x11, 0x01})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.Len(t, el.Items, 1)
	u, ok := el.Items[0].UUID()
	require.True(t, ok)
	assert.Equal(t, SerialPort, u)

	el, _, err = Decode([]byte{0x25, 0x08, 'S', 'P', 'P', ' ', 'D', 'e', 'v', 0x00})
	require.NoError(t, err)
	s, ok := el.Text()
	require.True(t, ok)
	assert.Equal(t, "SPP Dev", s)

	el, _, err = Decode([]byte{0x10, 0xff})
	require.NoError(t, err)
	i, ok := el.Int()
	require.True(t, ok)
	assert.EqualValues(t, -1, i)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	for _, b := range [][]byte{
		{},
		{0x35},
		{0x35, 0x05, 0x19, 0x11},
		{0x0a, 0x00, 0x01},
		{0x01},
	} {
		_, _, err := Decode(b)
		assert.ErrorIs(t, err, ErrMalformed, "% x", b)
	}
}

func TestAppendMatchesWireFormat(t *testing.T) {
	assert.Equal(t, []byte{0x35, 0x03, 0x19, 0x10, 0x02}, Sequence(UUIDElement(PublicBrowseRoot)).Append(nil))
	assert.Equal(t, []byte{0x0a, 0x00, 0x00, 0xff, 0xff}, Uint32(0xffff).Append(nil))
	assert.Equal(t, []byte{0x00}, Element{Type: TypeNil}.Append(nil))

	custom := uuid.MustParse("f8d1fbe4-7966-4334-8024-ff96c9330e15")
	b := UUIDElement(custom).Append(nil)
	assert.Equal(t, byte(0x1c), b[0])
	assert.Equal(t, custom[:], b[1:])
}

func TestShortUUID(t *testing.T) {
	v, ok := Short(RFCOMM)
	require.True(t, ok)
	assert.EqualValues(t, 0x0003, v)

	_, ok = Short(uuid.MustParse("f8d1fbe4-7966-4334-8024-ff96c9330e15"))
	assert.False(t, ok)
}

func TestRecordHelpers(t *testing.T) {
	records, err := ParseRecords(Sequence(sppRecord("SPP Dev", 8)))
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "SPP Dev", r.ServiceName())
	ch, ok := r.RFCOMMChannel()
	require.True(t, ok)
	assert.EqualValues(t, 8, ch)
	assert.Equal(t, []uuid.UUID{SerialPort}, r.ServiceClasses())
}

func TestRecordWithoutRFCOMM(t *testing.T) {
	rec := Record{
		AttrProtocolDescriptorList: Sequence(Sequence(UUIDElement(L2CAP), Uint16(0x0019))),
	}
	_, ok := rec.RFCOMMChannel()
	assert.False(t, ok)
	assert.Empty(t, rec.ServiceName())
}

func TestServiceSearchAttributes(t *testing.T) {
	lists := Sequence(sppRecord("Headset Gateway", 2), sppRecord("SPP Dev", 8)).Append(nil)
	srv := &fakeServer{responses: [][]byte{attrResponse(lists, nil)}}

	records, err := NewClient(srv).ServiceSearchAttributes(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "SPP Dev", records[1].ServiceName())

	require.Len(t, srv.requests, 1)
	assert.Equal(t, []byte{
		0x06, 0x00, 0x01, 0x00, 0x0f,
		0x35, 0x03, 0x19, 0x10, 0x02,
		0xff, 0xff,
		0x35, 0x05, 0x0a, 0x00, 0x00, 0xff, 0xff,
		0x00,
	}, srv.requests[0])
}

func TestServiceSearchAttributesContinuation(t *testing.T) {
	lists := Sequence(sppRecord("SPP Dev", 9)).Append(nil)
	half := len(lists) / 2
	srv := &fakeServer{responses: [][]byte{
		attrResponse(lists[:half], []byte{0xca, 0xfe}),
		attrResponse(lists[half:], nil),
	}}

	records, err := NewClient(srv).ServiceSearchAttributes(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	ch, _ := records[0].RFCOMMChannel()
	assert.EqualValues(t, 9, ch)

	require.Len(t, srv.requests, 2)
	second := srv.requests[1]
	assert.True(t, bytes.HasSuffix(second, []byte{0x02, 0xca, 0xfe}), "continuation state is echoed")
	assert.Equal(t, []byte{0x00, 0x02}, second[1:3], "transaction id advances")
}

func TestServiceSearchAttributesErrorResponse(t *testing.T) {
	srv := &fakeServer{pdu: pduErrorResponse, responses: [][]byte{{0x00, 0x03}}}

	_, err := NewClient(srv).ServiceSearchAttributes(context.Background())
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.EqualValues(t, 3, pe.Code)
	assert.Contains(t, pe.Error(), "invalid request syntax")
}

func TestServiceSearchAttributesCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srv := &fakeServer{}
	_, err := NewClient(srv).ServiceSearchAttributes(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, srv.requests)
}
