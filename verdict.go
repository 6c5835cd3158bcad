// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nfq

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mdlayher/netlink"
)

// Verdict is the disposition for one intercepted packet. Construct one with
// Accept, Drop, Repeat or Requeue, then optionally attach a mark or a
// replacement payload. Verdicts are transient: built and sent in one
// operation, never stored.
type Verdict struct {
	code    uint32
	mark    uint32
	hasMark bool
	payload []byte
}

// Accept lets the packet continue through the netfilter hooks.
func Accept() Verdict { return Verdict{code: nfAccept} }

// Drop discards the packet silently.
func Drop() Verdict { return Verdict{code: nfDrop} }

// Repeat re-injects the packet at the start of the current hook.
func Repeat() Verdict { return Verdict{code: nfRepeat} }

// Requeue redirects the packet to another queue number.
func Requeue(target uint16) Verdict {
	return Verdict{code: nfQueue | uint32(target)<<16}
}

// WithMark sets the packet mark alongside the verdict.
func (v Verdict) WithMark(mark uint32) Verdict {
	v.mark = mark
	v.hasMark = true
	return v
}

// WithPayload replaces the packet bytes alongside the verdict. Only
// meaningful for accept-like verdicts.
func (v Verdict) WithPayload(b []byte) Verdict {
	v.payload = b
	return v
}

func (v Verdict) String() string {
	switch v.code & 0xffff {
	case nfAccept:
		return "accept"
	case nfDrop:
		return "drop"
	case nfRepeat:
		return "repeat"
	case nfQueue:
		return fmt.Sprintf("requeue(%d)", v.code>>16)
	default:
		return fmt.Sprintf("verdict(%d)", v.code)
	}
}

// QueueHandle is a lightweight reference sufficient only to issue verdicts
// against one queue. Unlike *Queue it carries no handler or configuration
// state, is safe to share across goroutines, and remains usable while the
// receive loop runs: the outbound write path takes its own narrow lock and
// neither blocks nor is blocked by packet reception.
type QueueHandle struct {
	h     *Handle
	queue uint16
}

// Queue returns the queue number this handle issues verdicts against.
func (qh QueueHandle) Queue() uint16 { return qh.queue }

// Verdict resolves the packet with the given id. Failure is reported to the
// caller and never stops the receive loop.
func (qh QueueHandle) Verdict(packetID uint32, v Verdict) error {
	if qh.h == nil {
		return errors.New("nfq: verdict on a zero QueueHandle")
	}
	if err := qh.h.sendVerdict(qh.queue, packetID, v); err != nil {
		return fmt.Errorf("verdict %s for packet %d on queue %d: %w", v, packetID, qh.queue, err)
	}
	return nil
}

// Accept is shorthand for Verdict(packetID, Accept()).
func (qh QueueHandle) Accept(packetID uint32) error {
	return qh.Verdict(packetID, Accept())
}

// Drop is shorthand for Verdict(packetID, Drop()).
func (qh QueueHandle) Drop(packetID uint32) error {
	return qh.Verdict(packetID, Drop())
}

// encodeVerdict builds the body of one NFQNL_MSG_VERDICT: nfgenmsg
// addressing the queue, the verdict header, and the optional mark and
// payload attributes.
func encodeVerdict(queue uint16, packetID uint32, v Verdict) ([]byte, error) {
	hdr := make([]byte, 8)
	binary.BigEndian.PutUint32(hdr[0:4], v.code)
	binary.BigEndian.PutUint32(hdr[4:8], packetID)

	attrs := []netlink.Attribute{{Type: nfqaVerdictHdr, Data: hdr}}
	if v.hasMark {
		mark := make([]byte, 4)
		binary.BigEndian.PutUint32(mark, v.mark)
		attrs = append(attrs, netlink.Attribute{Type: nfqaMark, Data: mark})
	}
	if v.payload != nil {
		attrs = append(attrs, netlink.Attribute{Type: nfqaPayload, Data: v.payload})
	}
	b, err := netlink.MarshalAttributes(attrs)
	if err != nil {
		return nil, err
	}
	return append(nfgenmsg(uint8(FamilyUnspec), queue), b...), nil
}
