// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nfq

import (
	"encoding/binary"
	"io"
	"sync"
	"testing"

	"github.com/mdlayher/netlink"
	"github.com/stretchr/testify/require"

	"grimm.is/nfq/logging"
)

// simConn is an in-memory transport: Execute and Send record outbound
// frames, Receive blocks on scripted inbound frames until the conn closes.
type simConn struct {
	mu       sync.Mutex
	executed []netlink.Message // config round-trips
	sent     []netlink.Message // fire-and-forget frames (verdicts, unbinds)
	execErr  error             // returned by the next Execute, then cleared

	incoming  chan []netlink.Message
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newSimConn() *simConn {
	return &simConn{
		incoming: make(chan []netlink.Message, 16),
		closed:   make(chan struct{}),
	}
}

func (c *simConn) Execute(m netlink.Message) ([]netlink.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.execErr; err != nil {
		c.execErr = nil
		return nil, err
	}
	c.executed = append(c.executed, m)
	return nil, nil
}

func (c *simConn) Send(m netlink.Message) (netlink.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
	return m, nil
}

func (c *simConn) Receive() ([]netlink.Message, error) {
	select {
	case msgs := <-c.incoming:
		return msgs, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *simConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.closeErr
}

// deliver queues one batch of inbound frames for Receive.
func (c *simConn) deliver(msgs ...netlink.Message) {
	c.incoming <- msgs
}

func (c *simConn) failNextExecute(err error) {
	c.mu.Lock()
	c.execErr = err
	c.mu.Unlock()
}

func (c *simConn) sentFrames() []netlink.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]netlink.Message(nil), c.sent...)
}

func (c *simConn) executedFrames() []netlink.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]netlink.Message(nil), c.executed...)
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError, Output: io.Discard})
}

// simHandle builds a handle over a simConn, already bound to IPv4.
func simHandle(t *testing.T) (*Handle, *simConn) {
	t.Helper()
	conn := newSimConn()
	h := newHandle(conn, testLogger())
	require.NoError(t, h.Bind(FamilyIPv4))
	return h, conn
}

// packetEvent builds the netlink message the kernel sends for one enqueued
// packet.
func packetEvent(t *testing.T, queue uint16, id uint32, payload []byte) netlink.Message {
	t.Helper()
	hdr := make([]byte, eventHeaderLen)
	binary.BigEndian.PutUint32(hdr[0:4], id)
	binary.BigEndian.PutUint16(hdr[4:6], 0x0800)
	hdr[6] = 1 // NF_INET_LOCAL_IN

	attrs := []netlink.Attribute{{Type: nfqaPacketHdr, Data: hdr}}
	if payload != nil {
		attrs = append(attrs, netlink.Attribute{Type: nfqaPayload, Data: payload})
	}
	b, err := netlink.MarshalAttributes(attrs)
	require.NoError(t, err)

	return netlink.Message{
		Header: netlink.Header{Type: msgType(nfqnlMsgPacket)},
		Data:   append(nfgenmsg(uint8(FamilyIPv4), queue), b...),
	}
}

// ipv4Packet builds a valid 20-byte IPv4 header for test payloads.
func ipv4Packet(t *testing.T, proto Protocol, src, dst [4]byte) []byte {
	t.Helper()
	h := IPHeader{
		VersionIHL:  0x45,
		TotalLength: 40,
		ID:          0x1234,
		TTL:         64,
		Proto:       uint8(proto),
		Saddr:       src,
		Daddr:       dst,
	}
	b, err := h.MarshalBinary()
	require.NoError(t, err)
	return b
}

// decodeVerdictFrame pulls the verdict code and packet id out of an
// outbound verdict message.
func decodeVerdictFrame(t *testing.T, msg netlink.Message) (queue uint16, code, id uint32, attrs []netlink.Attribute) {
	t.Helper()
	require.Equal(t, msgType(nfqnlMsgVerdict), msg.Header.Type)
	require.GreaterOrEqual(t, len(msg.Data), 4)
	queue = binary.BigEndian.Uint16(msg.Data[2:4])

	all, err := netlink.UnmarshalAttributes(msg.Data[4:])
	require.NoError(t, err)
	for _, a := range all {
		if a.Type == nfqaVerdictHdr {
			require.Len(t, a.Data, 8)
			code = binary.BigEndian.Uint32(a.Data[0:4])
			id = binary.BigEndian.Uint32(a.Data[4:8])
		} else {
			attrs = append(attrs, a)
		}
	}
	return queue, code, id, attrs
}
