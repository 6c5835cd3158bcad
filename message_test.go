// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nfq

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/mdlayher/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventBody builds the wire body of a packet event with arbitrary extra
// attributes.
func eventBody(t *testing.T, queue uint16, id uint32, extra ...netlink.Attribute) []byte {
	t.Helper()
	hdr := make([]byte, eventHeaderLen)
	binary.BigEndian.PutUint32(hdr[0:4], id)
	binary.BigEndian.PutUint16(hdr[4:6], 0x0800)
	hdr[6] = 2 // NF_INET_FORWARD

	attrs := append([]netlink.Attribute{{Type: nfqaPacketHdr, Data: hdr}}, extra...)
	b, err := netlink.MarshalAttributes(attrs)
	require.NoError(t, err)
	return append(nfgenmsg(uint8(FamilyIPv4), queue), b...)
}

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func TestParseMessageFullAttributes(t *testing.T) {
	ts := make([]byte, 16)
	binary.BigEndian.PutUint64(ts[0:8], 1700000000)
	binary.BigEndian.PutUint64(ts[8:16], 250000)

	hw := make([]byte, 12)
	binary.BigEndian.PutUint16(hw[0:2], 6)
	copy(hw[4:10], []byte{0x02, 0x42, 0xac, 0x11, 0x00, 0x02})

	payload := []byte{0xde, 0xad, 0xbe, 0xef}

	m, err := parseMessage(eventBody(t, 42, 77,
		netlink.Attribute{Type: nfqaMark, Data: be32(0x1234)},
		netlink.Attribute{Type: nfqaIfindexIndev, Data: be32(2)},
		netlink.Attribute{Type: nfqaIfindexOutdev, Data: be32(3)},
		netlink.Attribute{Type: nfqaTimestamp, Data: ts},
		netlink.Attribute{Type: nfqaHwAddr, Data: hw},
		netlink.Attribute{Type: nfqaCapLen, Data: be32(1500)},
		netlink.Attribute{Type: nfqaPayload, Data: payload},
	))
	require.NoError(t, err)

	assert.Equal(t, uint16(42), m.Queue())
	assert.Equal(t, uint32(77), m.Header().PacketID)
	assert.Equal(t, uint16(0x0800), m.Header().HWProtocol)
	assert.Equal(t, uint8(2), m.Header().Hook)

	mark, ok := m.Mark()
	assert.True(t, ok)
	assert.Equal(t, uint32(0x1234), mark)

	assert.Equal(t, uint32(2), m.InDev())
	assert.Equal(t, uint32(3), m.OutDev())
	assert.Equal(t, net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x02}, m.HWAddr())
	assert.Equal(t, time.Unix(1700000000, 250000*int64(time.Microsecond)), m.Timestamp())
	assert.Equal(t, uint32(1500), m.CapLen())
	assert.Equal(t, payload, m.Payload())
}

func TestParseMessageMinimal(t *testing.T) {
	m, err := parseMessage(eventBody(t, 0, 1))
	require.NoError(t, err)

	_, ok := m.Mark()
	assert.False(t, ok)
	assert.Nil(t, m.Payload())
	assert.Nil(t, m.HWAddr())
	assert.True(t, m.Timestamp().IsZero())
	assert.Zero(t, m.CapLen())
}

func TestParseMessageTruncatedEnvelope(t *testing.T) {
	_, err := parseMessage([]byte{0x02})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestParseMessageMissingPacketHeader(t *testing.T) {
	attrs, err := netlink.MarshalAttributes([]netlink.Attribute{
		{Type: nfqaMark, Data: be32(1)},
	})
	require.NoError(t, err)

	_, err = parseMessage(append(nfgenmsg(uint8(FamilyIPv4), 0), attrs...))
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestParseMessageBadPacketHeaderLength(t *testing.T) {
	attrs, err := netlink.MarshalAttributes([]netlink.Attribute{
		{Type: nfqaPacketHdr, Data: []byte{1, 2, 3}},
	})
	require.NoError(t, err)

	_, err = parseMessage(append(nfgenmsg(uint8(FamilyIPv4), 0), attrs...))
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodePayloadSizeContract(t *testing.T) {
	pkt := ipv4Packet(t, ProtocolTCP, [4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2})
	m, err := parseMessage(eventBody(t, 0, 1, netlink.Attribute{Type: nfqaPayload, Data: pkt}))
	require.NoError(t, err)

	hdr, err := m.IPHeader()
	require.NoError(t, err)
	assert.Equal(t, "1.1.1.1", hdr.SourceIP().String())
	assert.Equal(t, "2.2.2.2", hdr.DestIP().String())

	_, err = m.IPPortHeader()
	var sizeErr *PayloadSizeError
	require.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, IPPortHeaderLen, sizeErr.Want)
	assert.Equal(t, IPHeaderLen, sizeErr.Got)
}
