// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nfq

import (
	"encoding/binary"
	"fmt"

	"github.com/mdlayher/netlink"
)

// CopyMode is the negotiated amount of each queued packet the kernel copies
// to user space.
type CopyMode struct {
	mode      uint8
	copyRange uint32
}

var (
	// CopyModeNone delivers events with no packet data at all.
	CopyModeNone = CopyMode{mode: nfqnlCopyNone}
	// CopyModeMeta delivers packet metadata only.
	CopyModeMeta = CopyMode{mode: nfqnlCopyMeta}
)

// CopyModePacket copies up to n bytes of packet data per event.
func CopyModePacket(n uint32) CopyMode {
	return CopyMode{mode: nfqnlCopyPacket, copyRange: n}
}

// CopyModeSized copies exactly as many bytes as p's wire size, so that
// Message.DecodePayload(p) succeeds for every full-length packet. This is
// how the copy-mode/payload-type match is made structural instead of
// trusted.
func CopyModeSized(p WirePayload) CopyMode {
	return CopyModePacket(uint32(p.WireSize()))
}

func (m CopyMode) String() string {
	switch m.mode {
	case nfqnlCopyNone:
		return "none"
	case nfqnlCopyMeta:
		return "meta"
	default:
		return fmt.Sprintf("packet(%d)", m.copyRange)
	}
}

// Brake is a handler's continue/stop signal for the receive loop.
type Brake int

const (
	// Continue keeps the receive loop running.
	Continue Brake = iota
	// Stop makes Start return after the current packet.
	Stop
)

// PacketHandler receives packet events for one queue. On parse failure the
// handler is still invoked, with a nil Message and the error, so it can log
// — but it has no packet id to verdict. The Message is only valid until the
// handler returns.
type PacketHandler interface {
	Handle(qh QueueHandle, m *Message, err error) Brake
}

// HandlerFunc adapts a function to PacketHandler.
type HandlerFunc func(qh QueueHandle, m *Message, err error) Brake

func (f HandlerFunc) Handle(qh QueueHandle, m *Message, err error) Brake {
	return f(qh, m, err)
}

// VerdictFunc adapts a decide-only function to PacketHandler: the returned
// verdict is issued automatically and the loop always continues. Corrupted
// events are skipped.
type VerdictFunc func(m *Message) Verdict

func (f VerdictFunc) Handle(qh QueueHandle, m *Message, err error) Brake {
	if err != nil {
		return Continue
	}
	if verr := qh.Verdict(m.Header().PacketID, f(m)); verr != nil {
		qh.h.log.Warn("verdict failed", "queue", qh.queue, "packet", m.Header().PacketID, "error", verr)
	}
	return Continue
}

// Queue is one live registration with the kernel for one queue number. It
// owns the handler and configuration and is not meant to be shared across
// goroutines; use a QueueHandle for concurrent verdict issuance.
type Queue struct {
	h       *Handle
	num     uint16
	handler PacketHandler
}

// Num returns the kernel queue number.
func (q *Queue) Num() uint16 { return q.num }

// Handle returns a lightweight, goroutine-shareable verdict handle for this
// queue.
func (q *Queue) Handle() QueueHandle {
	return QueueHandle{h: q.h, queue: q.num}
}

// SetCopyMode negotiates how much of each packet the kernel forwards for
// this queue. Must be called before the handle's receive loop starts.
func (q *Queue) SetCopyMode(mode CopyMode) error {
	attrs, err := netlink.MarshalAttributes([]netlink.Attribute{
		{Type: nfqaCfgParams, Data: cfgParams(mode.copyRange, mode.mode)},
	})
	if err != nil {
		return err
	}
	if err := q.h.configRequest(q.num, attrs); err != nil {
		return fmt.Errorf("set copy mode %s on queue %d: %w", mode, q.num, err)
	}
	return nil
}

// SetMaxLen sets the number of packets the kernel will hold for this queue
// before dropping (or, with FlagFailOpen, accepting) new arrivals.
func (q *Queue) SetMaxLen(n uint32) error {
	maxlen := make([]byte, 4)
	binary.BigEndian.PutUint32(maxlen, n)
	attrs, err := netlink.MarshalAttributes([]netlink.Attribute{
		{Type: nfqaCfgQueueMaxLen, Data: maxlen},
	})
	if err != nil {
		return err
	}
	if err := q.h.configRequest(q.num, attrs); err != nil {
		return fmt.Errorf("set max length %d on queue %d: %w", n, q.num, err)
	}
	return nil
}

// SetFlags enables the given queue flags. The kernel rejects flags it does
// not know, so callers should only set what they need.
func (q *Queue) SetFlags(flags QueueFlag) error {
	mask := make([]byte, 4)
	val := make([]byte, 4)
	binary.BigEndian.PutUint32(mask, uint32(flags))
	binary.BigEndian.PutUint32(val, uint32(flags))
	attrs, err := netlink.MarshalAttributes([]netlink.Attribute{
		{Type: nfqaCfgMask, Data: mask},
		{Type: nfqaCfgFlags, Data: val},
	})
	if err != nil {
		return err
	}
	if err := q.h.configRequest(q.num, attrs); err != nil {
		return fmt.Errorf("set flags %#x on queue %d: %w", uint32(flags), q.num, err)
	}
	return nil
}

// Destroy releases the kernel-side registration for this queue and waits
// for the kernel's acknowledgement, so it must not run concurrently with
// the handle's receive loop (Close handles teardown of queues that are
// still live when the loop stops). A failed unbind leaks the queue number
// until the socket closes; it is reported as a *TeardownError rather than
// treated as fatal, so one leaked registration cannot take down unrelated
// queues.
func (q *Queue) Destroy() error {
	h := q.h
	h.mu.Lock()
	if _, live := h.queues[q.num]; !live {
		h.mu.Unlock()
		return nil
	}
	delete(h.queues, q.num)
	family := h.family
	h.mu.Unlock()

	attrs, err := netlink.MarshalAttributes([]netlink.Attribute{
		{Type: nfqaCfgCmd, Data: cfgCmd(nfqnlCfgCmdUnbind, family)},
	})
	if err != nil {
		return &TeardownError{Queue: q.num, Err: err}
	}
	if err := h.configRequest(q.num, attrs); err != nil {
		return &TeardownError{Queue: q.num, Err: err}
	}
	return nil
}
