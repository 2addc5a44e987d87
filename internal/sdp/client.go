package sdp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// PSM is the L2CAP protocol/service multiplexer SDP servers listen on.
const PSM = 0x0001

const (
	pduErrorResponse                 = 0x01
	pduServiceSearchAttributeRequest = 0x06
	pduServiceSearchAttrResponse     = 0x07

	headerLen        = 5
	maxContinuations = 64
	maxContState     = 16
	readBufferSize   = 4096
)

var ErrUnexpectedResponse = errors.New("sdp: unexpected response")

// ProtocolError is an ErrorResponse sent by the server.
type ProtocolError struct {
	Code uint16
}

func (e *ProtocolError) Error() string {
	var reason string
	switch e.Code {
	case 0x0001:
		reason = "invalid SDP version"
	case 0x0002:
		reason = "invalid service record handle"
	case 0x0003:
		reason = "invalid request syntax"
	case 0x0004:
		reason = "invalid PDU size"
	case 0x0005:
		reason = "invalid continuation state"
	case 0x0006:
		reason = "insufficient resources"
	default:
		reason = "unknown error"
	}
	return fmt.Sprintf("sdp: %s (0x%04x)", reason, e.Code)
}

// Client sends requests over an established L2CAP connection to PSM 1.
// Each Read on the connection must return exactly one PDU.
type Client struct {
	conn io.ReadWriter
	tid  uint16
}

func NewClient(conn io.ReadWriter) *Client {
	return &Client{conn: conn}
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// ServiceSearchAttributes returns every attribute of every record matching
// all of the pattern UUIDs. Without a pattern the public browse group is
// searched, which covers every browsable service.
func (c *Client) ServiceSearchAttributes(ctx context.Context, pattern ...uuid.UUID) ([]Record, error) {
	if len(pattern) == 0 {
		pattern = []uuid.UUID{PublicBrowseRoot}
	}
	if d, ok := c.conn.(deadliner); ok {
		if dl, ok := ctx.Deadline(); ok {
			if err := d.SetDeadline(dl); err != nil {
				return nil, err
			}
			defer d.SetDeadline(time.Time{})
		}
	}

	search := make([]Element, len(pattern))
	for i, u := range pattern {
		search[i] = UUIDElement(u)
	}
	params := Sequence(search...).Append(nil)
	params = binary.BigEndian.AppendUint16(params, 0xffff)
	params = Sequence(Uint32(0x0000ffff)).Append(params)

	var (
		lists []byte
		cont  []byte
		buf   = make([]byte, readBufferSize)
	)
	for i := 0; ; i++ {
		if i == maxContinuations {
			return nil, fmt.Errorf("%w: too many continuations", ErrUnexpectedResponse)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req := append([]byte(nil), params...)
		req = append(req, byte(len(cont)))
		req = append(req, cont...)

		body, err := c.roundTrip(pduServiceSearchAttributeRequest, req, buf)
		if err != nil {
			return nil, err
		}

		part, next, err := parseAttributeResponse(body)
		if err != nil {
			return nil, err
		}
		lists = append(lists, part...)
		if len(next) == 0 {
			break
		}
		cont = next
	}

	el, n, err := Decode(lists)
	if err != nil {
		return nil, err
	}
	if n != len(lists) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(lists)-n)
	}
	return ParseRecords(el)
}

// roundTrip writes one request PDU and reads its response. The response
// must be a ServiceSearchAttributeResponse with the request's transaction ID.
func (c *Client) roundTrip(pdu byte, params, buf []byte) ([]byte, error) {
	c.tid++
	tid := c.tid

	req := make([]byte, 0, headerLen+len(params))
	req = append(req, pdu)
	req = binary.BigEndian.AppendUint16(req, tid)
	req = binary.BigEndian.AppendUint16(req, uint16(len(params)))
	req = append(req, params...)
	if _, err := c.conn.Write(req); err != nil {
		return nil, fmt.Errorf("sdp: write request: %w", err)
	}

	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("sdp: read response: %w", err)
	}
	resp := buf[:n]
	if len(resp) < headerLen {
		return nil, fmt.Errorf("%w: short PDU", ErrUnexpectedResponse)
	}

	id := resp[0]
	rtid := binary.BigEndian.Uint16(resp[1:3])
	plen := int(binary.BigEndian.Uint16(resp[3:5]))
	if rtid != tid {
		return nil, fmt.Errorf("%w: transaction %d, want %d", ErrUnexpectedResponse, rtid, tid)
	}
	if len(resp)-headerLen < plen {
		return nil, fmt.Errorf("%w: truncated PDU", ErrUnexpectedResponse)
	}
	body := resp[headerLen : headerLen+plen]

	switch id {
	case pduErrorResponse:
		if len(body) < 2 {
			return nil, fmt.Errorf("%w: short error response", ErrUnexpectedResponse)
		}
		return nil, &ProtocolError{Code: binary.BigEndian.Uint16(body)}
	case pduServiceSearchAttrResponse:
		return body, nil
	}
	return nil, fmt.Errorf("%w: PDU 0x%02x", ErrUnexpectedResponse, id)
}

// parseAttributeResponse splits a response body into its attribute list
// bytes and continuation state.
func parseAttributeResponse(body []byte) ([]byte, []byte, error) {
	if len(body) < 3 {
		return nil, nil, fmt.Errorf("%w: short attribute response", ErrUnexpectedResponse)
	}
	count := int(binary.BigEndian.Uint16(body[:2]))
	if len(body) < 2+count+1 {
		return nil, nil, fmt.Errorf("%w: attribute byte count %d exceeds PDU", ErrUnexpectedResponse, count)
	}
	part := body[2 : 2+count]

	rest := body[2+count:]
	clen := int(rest[0])
	if clen > maxContState || len(rest) < 1+clen {
		return nil, nil, fmt.Errorf("%w: bad continuation state", ErrUnexpectedResponse)
	}
	return part, append([]byte(nil), rest[1:1+clen]...), nil
}
