// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nfq

import (
	"encoding/binary"
	"fmt"
)

// eventHeaderLen is the packed size of nfqnl_msg_packet_hdr.
const eventHeaderLen = 7

// EventHeader is the fixed header of one packet-enqueued event. The packet
// id is the value a verdict must reference; it is only meaningful to the
// queue that delivered the event.
type EventHeader struct {
	PacketID   uint32
	HWProtocol uint16 // EtherType, e.g. 0x0800 for IPv4
	Hook       uint8  // netfilter hook the packet was queued from
}

func decodeEventHeader(b []byte) (EventHeader, error) {
	if len(b) != eventHeaderLen {
		return EventHeader{}, fmt.Errorf("packet header is %d bytes, want %d: %w", len(b), eventHeaderLen, ErrTruncated)
	}
	return EventHeader{
		PacketID:   binary.BigEndian.Uint32(b[0:4]),
		HWProtocol: binary.BigEndian.Uint16(b[4:6]),
		Hook:       b[6],
	}, nil
}
