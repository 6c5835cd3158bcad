// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nfq

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mdlayher/netlink"

	"grimm.is/nfq/logging"
)

// Config carries optional handle settings. The zero value (or nil) is
// usable.
type Config struct {
	// Logger receives loop diagnostics. Nil uses the package default.
	Logger *logging.Logger

	// ReadBuffer sets the netlink socket receive buffer in bytes. Size it
	// to at least copy-range times max-length when packets may burst. Zero
	// keeps the kernel default.
	ReadBuffer int
}

// Stats is a snapshot of a handle's counters.
type Stats struct {
	PacketsReceived uint64
	PacketsAccepted uint64
	PacketsDropped  uint64
	PacketsRequeued uint64
	OtherVerdicts   uint64
	ParseErrors     uint64
	VerdictErrors   uint64
}

type handleStats struct {
	packets       atomic.Uint64
	accepted      atomic.Uint64
	dropped       atomic.Uint64
	requeued      atomic.Uint64
	otherVerdicts atomic.Uint64
	parseErrors   atomic.Uint64
	verdictErrors atomic.Uint64
}

// Handle owns the netlink channel, the set of live queues, and the receive
// loop that demultiplexes packet events to their queues' handlers.
type Handle struct {
	conn transport
	log  *logging.Logger

	// mu serializes queue (de)registration and lifecycle state. The
	// kernel's queue-number namespace is per socket, so create/destroy must
	// not race on one handle; unrelated handles are unaffected.
	mu     sync.Mutex
	queues map[uint16]*Queue
	family ProtocolFamily
	bound  bool
	closed bool

	// sendMu guards the outbound write path only, so verdict issuance from
	// handler goroutines neither blocks nor is blocked by the receive loop.
	sendMu sync.Mutex

	stats handleStats
}

// Open allocates a handle with an unbound netfilter channel. cfg may be
// nil.
func Open(cfg *Config) (*Handle, error) {
	log := logging.Default()
	if cfg != nil && cfg.Logger != nil {
		log = cfg.Logger
	}
	conn, err := dialNetfilter(cfg, log)
	if err != nil {
		return nil, err
	}
	return newHandle(conn, log), nil
}

func newHandle(conn transport, log *logging.Logger) *Handle {
	return &Handle{
		conn:   conn,
		log:    log,
		queues: make(map[uint16]*Queue),
	}
}

// Bind attaches the handle to a protocol family. Queues can only be created
// on a bound handle. Kernels since 3.8 scope queues by socket rather than
// family and treat the PF commands as no-ops, but the unbind/bind pair is
// still issued for older kernels.
func (h *Handle) Bind(family ProtocolFamily) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrConnClosed
	}

	for _, cmd := range []uint8{nfqnlCfgCmdPfUnbind, nfqnlCfgCmdPfBind} {
		attrs, err := netlink.MarshalAttributes([]netlink.Attribute{
			{Type: nfqaCfgCmd, Data: cfgCmd(cmd, family)},
		})
		if err != nil {
			return err
		}
		if err := h.configExecute(family, 0, attrs); err != nil {
			return fmt.Errorf("bind protocol family %s: %w", family, err)
		}
	}
	h.family = family
	h.bound = true
	return nil
}

// CreateQueue registers queue number num with the kernel and installs
// handler for its packets. The queue is configured with the kernel's
// defaults until SetCopyMode/SetMaxLen/SetFlags are called; without a
// packet copy mode most handlers will only ever see empty payloads.
func (h *Handle) CreateQueue(num uint16, handler PacketHandler) (*Queue, error) {
	if handler == nil {
		return nil, fmt.Errorf("nfq: queue %d: nil handler", num)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrConnClosed
	}
	if !h.bound {
		return nil, ErrNotBound
	}
	if _, dup := h.queues[num]; dup {
		return nil, fmt.Errorf("nfq: queue %d already bound on this handle", num)
	}

	attrs, err := netlink.MarshalAttributes([]netlink.Attribute{
		{Type: nfqaCfgCmd, Data: cfgCmd(nfqnlCfgCmdBind, h.family)},
	})
	if err != nil {
		return nil, err
	}
	if err := h.configExecute(h.family, num, attrs); err != nil {
		return nil, fmt.Errorf("create queue %d: %w", num, err)
	}

	q := &Queue{h: h, num: num, handler: handler}
	h.queues[num] = q
	return q, nil
}

// configRequest sends one NFQNL_MSG_CONFIG for a queue and waits for the
// kernel's acknowledgement.
func (h *Handle) configRequest(queue uint16, attrs []byte) error {
	h.mu.Lock()
	family := h.family
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrConnClosed
	}
	return h.configExecute(family, queue, attrs)
}

// configExecute sends a config frame and blocks for its acknowledgement. It
// must not run concurrently with the receive loop, which is why queue
// configuration belongs before Start.
func (h *Handle) configExecute(family ProtocolFamily, queue uint16, attrs []byte) error {
	msg := netlink.Message{
		Header: netlink.Header{
			Type:  msgType(nfqnlMsgConfig),
			Flags: netlink.Request | netlink.Acknowledge,
		},
		Data: append(nfgenmsg(uint8(family), queue), attrs...),
	}
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	if _, err := h.conn.Execute(msg); err != nil {
		return err
	}
	return nil
}

// sendVerdict writes one verdict frame. No acknowledgement is requested:
// the verdict path must never read from the socket while the receive loop
// owns it.
func (h *Handle) sendVerdict(queue uint16, packetID uint32, v Verdict) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		h.stats.verdictErrors.Add(1)
		return ErrConnClosed
	}

	data, err := encodeVerdict(queue, packetID, v)
	if err != nil {
		h.stats.verdictErrors.Add(1)
		return err
	}
	msg := netlink.Message{
		Header: netlink.Header{
			Type:  msgType(nfqnlMsgVerdict),
			Flags: netlink.Request,
		},
		Data: data,
	}

	h.sendMu.Lock()
	_, err = h.conn.Send(msg)
	h.sendMu.Unlock()
	if err != nil {
		h.stats.verdictErrors.Add(1)
		return err
	}

	switch v.code & 0xffff {
	case nfAccept:
		h.stats.accepted.Add(1)
	case nfDrop:
		h.stats.dropped.Add(1)
	case nfQueue:
		h.stats.requeued.Add(1)
	default:
		h.stats.otherVerdicts.Add(1)
	}
	return nil
}

// unbindQueue fires an unbind config frame without requesting an ack.
func (h *Handle) unbindQueue(num uint16) error {
	attrs, err := netlink.MarshalAttributes([]netlink.Attribute{
		{Type: nfqaCfgCmd, Data: cfgCmd(nfqnlCfgCmdUnbind, h.family)},
	})
	if err != nil {
		return err
	}
	msg := netlink.Message{
		Header: netlink.Header{
			Type:  msgType(nfqnlMsgConfig),
			Flags: netlink.Request,
		},
		Data: append(nfgenmsg(uint8(h.family), num), attrs...),
	}
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	_, err = h.conn.Send(msg)
	return err
}

// Start runs the receive loop on the calling goroutine: it blocks reading
// packet events, resolves each to its queue, and invokes the handler. It
// returns nil when a handler returns Stop or the handle is closed, and the
// receive error otherwise. Malformed events and events for unknown queues
// are logged and skipped; they never abort the loop.
func (h *Handle) Start() error {
	for {
		msgs, err := h.conn.Receive()
		if err != nil {
			h.mu.Lock()
			closed := h.closed
			h.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("receive packet events: %w", err)
		}
		for _, msg := range msgs {
			if h.dispatch(msg) == Stop {
				return nil
			}
		}
	}
}

// dispatch routes one netlink message to its queue's handler.
func (h *Handle) dispatch(msg netlink.Message) Brake {
	if msg.Header.Type != msgType(nfqnlMsgPacket) {
		h.log.Debug("ignoring non-packet message", "type", uint16(msg.Header.Type))
		return Continue
	}
	if len(msg.Data) < 4 {
		h.stats.parseErrors.Add(1)
		h.log.Warn("packet event with truncated envelope", "len", len(msg.Data))
		return Continue
	}
	num := binary.BigEndian.Uint16(msg.Data[2:4])

	h.mu.Lock()
	q := h.queues[num]
	h.mu.Unlock()
	if q == nil {
		h.log.Warn("packet event for unknown queue", "queue", num)
		return Continue
	}

	qh := QueueHandle{h: h, queue: num}
	m, err := parseMessage(msg.Data)
	if err != nil {
		h.stats.parseErrors.Add(1)
		h.log.Warn("malformed packet event", "queue", num, "error", err)
		return q.handler.Handle(qh, nil, err)
	}
	h.stats.packets.Add(1)
	return q.handler.Handle(qh, m, nil)
}

// Stats returns a snapshot of the handle's counters.
func (h *Handle) Stats() Stats {
	return Stats{
		PacketsReceived: h.stats.packets.Load(),
		PacketsAccepted: h.stats.accepted.Load(),
		PacketsDropped:  h.stats.dropped.Load(),
		PacketsRequeued: h.stats.requeued.Load(),
		OtherVerdicts:   h.stats.otherVerdicts.Load(),
		ParseErrors:     h.stats.parseErrors.Load(),
		VerdictErrors:   h.stats.verdictErrors.Load(),
	}
}

// Close destroys all live queues and releases the netlink channel,
// invalidating every Queue and QueueHandle derived from this handle. It
// returns ErrConnClosed if already closed. A close failure is surfaced
// rather than swallowed: it means the kernel-side registration state is no
// longer known to be consistent.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrConnClosed
	}
	qs := make([]*Queue, 0, len(h.queues))
	for _, q := range h.queues {
		qs = append(qs, q)
	}
	h.mu.Unlock()

	// Unbind without waiting for acks: the receive loop may still own the
	// read side of the socket, and the socket close below releases any
	// registration the kernel did not act on.
	var teardownErr error
	for _, q := range qs {
		if err := h.unbindQueue(q.num); err != nil && teardownErr == nil {
			teardownErr = &TeardownError{Queue: q.num, Err: err}
		}
		h.mu.Lock()
		delete(h.queues, q.num)
		h.mu.Unlock()
	}

	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	if err := h.conn.Close(); err != nil {
		return fmt.Errorf("close netfilter socket: %w", err)
	}
	return teardownErr
}
