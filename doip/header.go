package doip

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/eshenhu/doipdump/dissect"
)

const (
	// MaxPayloadLength is the largest payload length the header can declare.
	MaxPayloadLength = ^uint32(0)
	// DefaultMaxPayloadLength bounds what a connection reads into memory
	// when no other limit is configured.
	DefaultMaxPayloadLength uint32 = 64 << 10
)

var (
	errMsgTooShort = errors.New("Message too short")
)

// HeaderError is a generic header fault, carrying the Table 14 NACK code.
type HeaderError byte

func (e HeaderError) Error() string {
	switch byte(e) {
	case DoIPHdrErrIncorrectFormat:
		return fmt.Sprintf("#%02d <DoIP: Header incorrect pattern format>", byte(e))
	case DoIPHdrErrUnknownPayloadType:
		return fmt.Sprintf("#%02d <DoIP: Unknown payload type>", byte(e))
	case DoIPHdrErrMsgTooLarge:
		return fmt.Sprintf("#%02d <DoIP: Message too large>", byte(e))
	case DoIPHdrErrOutOfMemory:
		return fmt.Sprintf("#%02d <DoIP: Out of memory>", byte(e))
	case DoIPHdrErrInvalidLen:
		return fmt.Sprintf("#%02d <DoIP: Invalid payload length>", byte(e))
	default:
		return fmt.Sprintf("#%02d <DoIP: Unknown header error>", byte(e))
	}
}

// Code returns the NACK code to answer the fault with.
func (e HeaderError) Code() byte { return byte(e) }

// IsHeaderError reports whether err is, or wraps, a HeaderError.
func IsHeaderError(err error) (HeaderError, bool) {
	var he HeaderError
	ok := errors.As(err, &he)
	return he, ok
}

// IsTooShort reports whether err means the bytes ended inside a generic header.
func IsTooShort(err error) bool {
	return errors.Cause(err) == errMsgTooShort
}

// Header is the generic DoIP header (ISO 13400-2:2012 table 11).
//  0        1        2        3        4        5        6        7
// +--------+--------+--------+--------+--------+--------+--------+--------+
// |version | ~vers. |   payload type  |          payload length           |
// +--------+--------+--------+--------+--------+--------+--------+--------+
type Header struct {
	Version        uint8
	InverseVersion uint8
	PayloadType    MsgTid
	PayloadLength  uint32
}

// ParseHeader reads a generic header at off in buf.
// It does not validate the header; see Validate.
func ParseHeader(buf *dissect.Buffer, off int) (Header, error) {
	if err := buf.Check(off, HeaderLength); err != nil {
		return Header{}, errors.Wrapf(errMsgTooShort, "%d bytes left", buf.Len()-off)
	}
	var h Header
	h.Version, _ = buf.Uint8(off)
	h.InverseVersion, _ = buf.Uint8(off + 1)
	t, _ := buf.Uint16(off + 2)
	h.PayloadType = MsgTid(t)
	h.PayloadLength, _ = buf.Uint32(off + 4)
	return h, nil
}

// Validate checks the version pattern and the declared length against
// maxPayload, as a DoIP entity does before accepting a message.
func (h Header) Validate(maxPayload uint32) error {
	if h.InverseVersion != ^h.Version {
		return HeaderError(DoIPHdrErrIncorrectFormat)
	}
	switch h.Version {
	case 0x01, ProtocolVersion, 0x03, DefaultVersion:
	default:
		return HeaderError(DoIPHdrErrIncorrectFormat)
	}
	if h.PayloadLength > maxPayload {
		return HeaderError(DoIPHdrErrMsgTooLarge)
	}
	return nil
}

// Pack encodes h into its 8 byte wire form.
func (h Header) Pack() []byte {
	b := make([]byte, HeaderLength)
	b[0] = h.Version
	b[1] = h.InverseVersion
	binary.BigEndian.PutUint16(b[2:4], uint16(h.PayloadType))
	binary.BigEndian.PutUint32(b[4:8], h.PayloadLength)
	return b
}

// Message is one DoIP message found in a transport segment.
type Message struct {
	Header Header
	// Offset of the generic header inside the segment.
	Offset int
	// Payload is bounded to the declared payload length. It holds fewer
	// bytes when the segment ends early.
	Payload *dissect.Buffer
}

// Truncated reports whether the segment ended before the declared payload.
func (m *Message) Truncated() bool {
	return m.Payload.Len() < int(m.Header.PayloadLength)
}

// Split walks the DoIP messages of one transport segment. Messages split
// across segments are not reassembled: the last message may be truncated.
// The returned error, if any, describes why the walk stopped early; the
// messages found before that point are returned with it.
func Split(data []byte, maxPayload uint32) ([]*Message, error) {
	buf := dissect.NewBuffer(data)

	var msgs []*Message
	for off := 0; off < buf.Len(); {
		h, err := ParseHeader(buf, off)
		if err != nil {
			return msgs, errors.Wrapf(err, "offset %d", off)
		}
		if err := h.Validate(maxPayload); err != nil {
			return msgs, errors.Wrapf(err, "offset %d", off)
		}

		length := int(h.PayloadLength)
		if uint64(h.PayloadLength) > uint64(buf.Len()) {
			length = buf.Len()
		}
		payload, err := buf.Tail(off+HeaderLength, length)
		if err != nil {
			return msgs, errors.Wrapf(err, "offset %d", off)
		}

		msgs = append(msgs, &Message{Header: h, Offset: off, Payload: payload})
		off += HeaderLength + payload.Len()
	}
	return msgs, nil
}
