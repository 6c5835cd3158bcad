// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nfq

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"grimm.is/nfq/logging"
)

// Protocol is the IPv4 protocol field as a closed set: the well-known values
// get names, everything else renders as its number.
type Protocol uint8

const (
	ProtocolICMP Protocol = 1
	ProtocolTCP  Protocol = 6
	ProtocolUDP  Protocol = 17
)

func (p Protocol) String() string {
	switch p {
	case ProtocolICMP:
		return "icmp"
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	default:
		return fmt.Sprintf("proto(%d)", uint8(p))
	}
}

// WirePayload is a fixed-layout structure that can be decoded from the raw
// payload of a packet event. WireSize is the exact number of bytes the
// structure occupies on the wire; a queue whose copy mode was negotiated
// with CopyModeSized(p) delivers payloads of exactly that length.
type WirePayload interface {
	WireSize() int
	DecodeWire(b []byte) error
}

// Wire sizes of the payload types in this package.
const (
	IPHeaderLen     = 20
	IPPortHeaderLen = 24
)

// IPHeader is a decoded IPv4 header without options. Multi-byte fields are
// converted to host order on decode.
type IPHeader struct {
	VersionIHL  uint8 // version in the high nibble, header length in 32-bit words in the low
	DSCP        uint8
	TotalLength uint16
	ID          uint16
	FlagsOffset uint16 // flags in the top 3 bits, fragment offset below
	TTL         uint8
	Proto       uint8
	Checksum    uint16
	Saddr       [4]byte
	Daddr       [4]byte
}

func (h *IPHeader) WireSize() int { return IPHeaderLen }

func (h *IPHeader) DecodeWire(b []byte) error {
	if len(b) != IPHeaderLen {
		return fmt.Errorf("ipv4 header is %d bytes, want %d: %w", len(b), IPHeaderLen, ErrTruncated)
	}
	h.VersionIHL = b[0]
	h.DSCP = b[1]
	h.TotalLength = binary.BigEndian.Uint16(b[2:4])
	h.ID = binary.BigEndian.Uint16(b[4:6])
	h.FlagsOffset = binary.BigEndian.Uint16(b[6:8])
	h.TTL = b[8]
	h.Proto = b[9]
	h.Checksum = binary.BigEndian.Uint16(b[10:12])
	copy(h.Saddr[:], b[12:16])
	copy(h.Daddr[:], b[16:20])
	return nil
}

// MarshalBinary encodes the header back to its 20-byte wire form.
func (h *IPHeader) MarshalBinary() ([]byte, error) {
	b := make([]byte, IPHeaderLen)
	b[0] = h.VersionIHL
	b[1] = h.DSCP
	binary.BigEndian.PutUint16(b[2:4], h.TotalLength)
	binary.BigEndian.PutUint16(b[4:6], h.ID)
	binary.BigEndian.PutUint16(b[6:8], h.FlagsOffset)
	b[8] = h.TTL
	b[9] = h.Proto
	binary.BigEndian.PutUint16(b[10:12], h.Checksum)
	copy(b[12:16], h.Saddr[:])
	copy(b[16:20], h.Daddr[:])
	return b, nil
}

func (h *IPHeader) Version() uint8 { return h.VersionIHL >> 4 }

// HeaderLength is the on-wire header length in bytes, including options.
func (h *IPHeader) HeaderLength() int { return int(h.VersionIHL&0x0f) * 4 }

func (h *IPHeader) Protocol() Protocol { return Protocol(h.Proto) }

func (h *IPHeader) SourceIP() netip.Addr { return netip.AddrFrom4(h.Saddr) }

func (h *IPHeader) DestIP() netip.Addr { return netip.AddrFrom4(h.Daddr) }

// DecodeIPHeader decodes b as an IPv4 header. The input must be exactly
// IPHeaderLen bytes.
func DecodeIPHeader(b []byte) (*IPHeader, error) {
	var h IPHeader
	if err := h.DecodeWire(b); err != nil {
		return nil, err
	}
	return &h, nil
}

// IPPortHeader is an IPv4 header followed by the 16-bit source and
// destination ports that lead TCP and UDP headers. It is only meaningful
// for unfragmented TCP/UDP packets with an optionless IP header.
type IPPortHeader struct {
	IPHeader
	SrcPort uint16
	DstPort uint16
}

func (h *IPPortHeader) WireSize() int { return IPPortHeaderLen }

func (h *IPPortHeader) DecodeWire(b []byte) error {
	if len(b) != IPPortHeaderLen {
		return fmt.Errorf("ipv4+ports header is %d bytes, want %d: %w", len(b), IPPortHeaderLen, ErrTruncated)
	}
	if err := h.IPHeader.DecodeWire(b[:IPHeaderLen]); err != nil {
		return err
	}
	h.SrcPort = binary.BigEndian.Uint16(b[20:22])
	h.DstPort = binary.BigEndian.Uint16(b[22:24])
	return nil
}

// MarshalBinary encodes the header back to its 24-byte wire form.
func (h *IPPortHeader) MarshalBinary() ([]byte, error) {
	b := make([]byte, IPPortHeaderLen)
	ip, err := h.IPHeader.MarshalBinary()
	if err != nil {
		return nil, err
	}
	copy(b, ip)
	binary.BigEndian.PutUint16(b[20:22], h.SrcPort)
	binary.BigEndian.PutUint16(b[22:24], h.DstPort)
	return b, nil
}

// SourceSocket composes the source address and port.
func (h *IPPortHeader) SourceSocket() netip.AddrPort {
	return netip.AddrPortFrom(h.SourceIP(), h.SrcPort)
}

// DestSocket composes the destination address and port.
func (h *IPPortHeader) DestSocket() netip.AddrPort {
	return netip.AddrPortFrom(h.DestIP(), h.DstPort)
}

// DecodeIPPortHeader decodes b as an IPv4 header plus ports. The input must
// be exactly IPPortHeaderLen bytes.
func DecodeIPPortHeader(b []byte) (*IPPortHeader, error) {
	var h IPPortHeader
	if err := h.DecodeWire(b); err != nil {
		return nil, err
	}
	return &h, nil
}

// ListenIP binds queueNum for the given family, negotiates copying exactly
// one IPv4 header per packet, and calls fn for each. It blocks until fn
// returns Stop. fn must issue its own verdicts through the QueueHandle.
// Packets whose payload does not decode are logged and skipped.
func ListenIP(family ProtocolFamily, queueNum uint16, fn func(QueueHandle, *EventHeader, *IPHeader) Brake) error {
	return listenSized(family, queueNum, &IPHeader{}, func(qh QueueHandle, m *Message) Brake {
		var h IPHeader
		if err := m.DecodePayload(&h); err != nil {
			logging.Warn("failed to parse IP header", "queue", queueNum, "error", err)
			return Continue
		}
		return fn(qh, m.Header(), &h)
	})
}

// ListenIPPorts is ListenIP with the source and destination ports copied as
// well.
func ListenIPPorts(family ProtocolFamily, queueNum uint16, fn func(QueueHandle, *EventHeader, *IPPortHeader) Brake) error {
	return listenSized(family, queueNum, &IPPortHeader{}, func(qh QueueHandle, m *Message) Brake {
		var h IPPortHeader
		if err := m.DecodePayload(&h); err != nil {
			logging.Warn("failed to parse IP header and ports", "queue", queueNum, "error", err)
			return Continue
		}
		return fn(qh, m.Header(), &h)
	})
}

func listenSized(family ProtocolFamily, queueNum uint16, p WirePayload, fn func(QueueHandle, *Message) Brake) error {
	h, err := Open(nil)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.Bind(family); err != nil {
		return err
	}
	q, err := h.CreateQueue(queueNum, HandlerFunc(func(qh QueueHandle, m *Message, err error) Brake {
		if err != nil {
			logging.Warn("received corrupted packet event", "queue", queueNum, "error", err)
			return Continue
		}
		return fn(qh, m)
	}))
	if err != nil {
		return err
	}
	if err := q.SetCopyMode(CopyModeSized(p)); err != nil {
		return err
	}
	logging.Info("listening for packets", "queue", queueNum, "family", family.String())
	return h.Start()
}
