// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nfq

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/netlink"
)

// Message is one parsed packet-enqueued event. It is constructed by the
// receive loop, never by callers, and is only valid for the duration of the
// handler invocation it is passed to: the payload slice aliases the handle's
// current receive buffer and is overwritten by the next receive. Handlers
// that need packet bytes beyond their own return must copy them.
type Message struct {
	queue   uint16
	header  EventHeader
	payload []byte

	mark    uint32
	inDev   uint32
	outDev  uint32
	hwAddr  net.HardwareAddr
	ts      time.Time
	capLen  uint32
	hasMark bool
}

// Queue is the number of the queue that delivered this event.
func (m *Message) Queue() uint16 { return m.queue }

// Header returns the event header. The returned pointer shares the
// Message's lifetime.
func (m *Message) Header() *EventHeader { return &m.header }

// Payload returns the raw packet bytes the kernel copied, sized according
// to the queue's copy mode. Nil when the copy mode is none or metadata.
func (m *Message) Payload() []byte { return m.payload }

// Mark returns the packet mark and whether the kernel sent one.
func (m *Message) Mark() (uint32, bool) { return m.mark, m.hasMark }

// InDev returns the ifindex of the input device, 0 if unknown.
func (m *Message) InDev() uint32 { return m.inDev }

// OutDev returns the ifindex of the output device, 0 if unknown.
func (m *Message) OutDev() uint32 { return m.outDev }

// HWAddr returns the source hardware address, nil if the kernel did not
// include one.
func (m *Message) HWAddr() net.HardwareAddr { return m.hwAddr }

// Timestamp returns the kernel's enqueue timestamp; the zero time if the
// event carried none.
func (m *Message) Timestamp() time.Time { return m.ts }

// CapLen returns the original packet length when the payload was truncated
// by the copy range, 0 otherwise.
func (m *Message) CapLen() uint32 { return m.capLen }

// DecodePayload decodes the payload into p. It fails with *PayloadSizeError
// unless the payload length equals p.WireSize() exactly — the caller must
// only request a type matching the copy mode negotiated on the owning queue
// (see CopyModeSized).
func (m *Message) DecodePayload(p WirePayload) error {
	if len(m.payload) != p.WireSize() {
		return &PayloadSizeError{Want: p.WireSize(), Got: len(m.payload)}
	}
	return p.DecodeWire(m.payload)
}

// IPHeader decodes the payload as a bare IPv4 header.
func (m *Message) IPHeader() (*IPHeader, error) {
	var h IPHeader
	if err := m.DecodePayload(&h); err != nil {
		return nil, err
	}
	return &h, nil
}

// IPPortHeader decodes the payload as an IPv4 header plus ports.
func (m *Message) IPPortHeader() (*IPPortHeader, error) {
	var h IPPortHeader
	if err := m.DecodePayload(&h); err != nil {
		return nil, err
	}
	return &h, nil
}

// parseMessage decodes the body of one NFQNL_MSG_PACKET: the nfgenmsg
// envelope followed by netlink attributes. All scalar attributes are
// big-endian on the wire.
func parseMessage(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("event envelope is %d bytes, want at least 4: %w", len(data), ErrTruncated)
	}
	m := Message{
		queue: binary.BigEndian.Uint16(data[2:4]),
	}

	ad, err := netlink.NewAttributeDecoder(data[4:])
	if err != nil {
		return nil, fmt.Errorf("decode packet attributes: %w", err)
	}
	ad.ByteOrder = binary.BigEndian

	var sawHeader bool
	for ad.Next() {
		switch ad.Type() {
		case nfqaPacketHdr:
			m.header, err = decodeEventHeader(ad.Bytes())
			if err != nil {
				return nil, err
			}
			sawHeader = true
		case nfqaMark:
			m.mark = ad.Uint32()
			m.hasMark = true
		case nfqaIfindexIndev:
			m.inDev = ad.Uint32()
		case nfqaIfindexOutdev:
			m.outDev = ad.Uint32()
		case nfqaTimestamp:
			b := ad.Bytes()
			if len(b) == 16 {
				sec := binary.BigEndian.Uint64(b[0:8])
				usec := binary.BigEndian.Uint64(b[8:16])
				m.ts = time.Unix(int64(sec), int64(usec)*int64(time.Microsecond))
			}
		case nfqaHwAddr:
			b := ad.Bytes()
			if len(b) >= 4 {
				n := int(binary.BigEndian.Uint16(b[0:2]))
				if n <= len(b)-4 {
					m.hwAddr = append(net.HardwareAddr(nil), b[4:4+n]...)
				}
			}
		case nfqaPayload:
			m.payload = ad.Bytes()
		case nfqaCapLen:
			m.capLen = ad.Uint32()
		}
	}
	if err := ad.Err(); err != nil {
		return nil, fmt.Errorf("decode packet attributes: %w", err)
	}
	if !sawHeader {
		return nil, fmt.Errorf("packet event without a packet header attribute: %w", ErrTruncated)
	}
	return &m, nil
}
