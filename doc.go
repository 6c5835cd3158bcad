// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package nfq is a pure-Go client for the Linux NFQUEUE netfilter subsystem.
//
// A firewall rule such as
//
//	nft add rule inet filter input queue num 0
//
// diverts matching packets into a numbered kernel queue, where they block
// until a user-space process returns a verdict. This package speaks the
// nfnetlink_queue protocol directly over a NETLINK_NETFILTER socket: it binds
// queues, negotiates how much of each packet is copied to user space, decodes
// packet-enqueued events, hands them to a caller-supplied handler, and writes
// accept/drop/requeue verdicts back.
//
// Typical use:
//
//	h, err := nfq.Open(nil)
//	...
//	if err := h.Bind(nfq.FamilyIPv4); err != nil { ... }
//	q, err := h.CreateQueue(0, nfq.VerdictFunc(func(m *nfq.Message) nfq.Verdict {
//		return nfq.Accept()
//	}))
//	...
//	if err := q.SetCopyMode(nfq.CopyModePacket(0xffff)); err != nil { ... }
//	err = h.Start() // blocks until a handler returns Stop or the handle is closed
//
// Queue configuration must happen before Start; verdicts may be issued from
// any goroutine while Start runs. Packets left without a verdict stay pending
// in the kernel until the queue's max-length policy drops new arrivals.
package nfq
