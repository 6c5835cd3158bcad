// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nfq

import (
	"encoding/binary"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// Wire constants from linux/netfilter/nfnetlink.h and nfnetlink_queue.h.
// These are kernel ABI; the byte offsets and endianness are fixed.
const (
	nfnlSubsysQueue = 3
	nfnetlinkV0     = 0

	nfqnlMsgPacket       = 0 // kernel -> user: packet enqueued
	nfqnlMsgVerdict      = 1 // user -> kernel: verdict for one packet
	nfqnlMsgConfig       = 2 // user -> kernel: queue configuration
	nfqnlMsgVerdictBatch = 3 // user -> kernel: verdict for a range of packets
)

// NFQA_CFG_* attributes of a config message.
const (
	nfqaCfgCmd         = 1 // nfqnl_msg_config_cmd
	nfqaCfgParams      = 2 // nfqnl_msg_config_params
	nfqaCfgQueueMaxLen = 3 // u32, big-endian
	nfqaCfgMask        = 4 // u32, which flag bits to change
	nfqaCfgFlags       = 5 // u32, new flag values
)

// nfqnl_msg_config_cmd commands.
const (
	nfqnlCfgCmdBind     = 1
	nfqnlCfgCmdUnbind   = 2
	nfqnlCfgCmdPfBind   = 3
	nfqnlCfgCmdPfUnbind = 4
)

// NFQA_* attributes of a packet or verdict message.
const (
	nfqaPacketHdr         = 1 // nfqnl_msg_packet_hdr
	nfqaVerdictHdr        = 2 // nfqnl_msg_verdict_hdr
	nfqaMark              = 3
	nfqaTimestamp         = 4
	nfqaIfindexIndev      = 5
	nfqaIfindexOutdev     = 6
	nfqaIfindexPhysIndev  = 7
	nfqaIfindexPhysOutdev = 8
	nfqaHwAddr            = 9
	nfqaPayload           = 10
	nfqaCapLen            = 13
)

// Copy modes for NFQA_CFG_PARAMS.
const (
	nfqnlCopyNone   = 0
	nfqnlCopyMeta   = 1
	nfqnlCopyPacket = 2
)

// Verdict codes from linux/netfilter.h. A requeue target rides in the upper
// 16 bits of NF_QUEUE.
const (
	nfDrop   = 0
	nfAccept = 1
	nfStolen = 2
	nfQueue  = 3
	nfRepeat = 4
	nfStop   = 5
)

// QueueFlag is a queue behavior flag negotiated through NFQA_CFG_FLAGS.
type QueueFlag uint32

const (
	// FlagFailOpen makes the kernel accept packets instead of dropping them
	// once the queue is full.
	FlagFailOpen QueueFlag = 1 << iota
	// FlagConntrack attaches conntrack state to packet events.
	FlagConntrack
	// FlagGSO delivers GSO packets without segmenting them first.
	FlagGSO
	// FlagUIDGID attaches the originating socket's UID/GID to packet events.
	FlagUIDGID
	// FlagSecCtx attaches the security context to packet events.
	FlagSecCtx
)

// ProtocolFamily selects which address family's packets a handle receives.
type ProtocolFamily uint16

const (
	FamilyUnspec ProtocolFamily = unix.AF_UNSPEC
	FamilyIPv4   ProtocolFamily = unix.AF_INET
	FamilyIPv6   ProtocolFamily = unix.AF_INET6
	FamilyBridge ProtocolFamily = unix.AF_BRIDGE
)

func (f ProtocolFamily) String() string {
	switch f {
	case FamilyUnspec:
		return "unspec"
	case FamilyIPv4:
		return "inet"
	case FamilyIPv6:
		return "inet6"
	case FamilyBridge:
		return "bridge"
	default:
		return "unknown"
	}
}

func msgType(t uint16) netlink.HeaderType {
	return netlink.HeaderType(nfnlSubsysQueue<<8 | t)
}

// nfgenmsg builds the 4-byte nfnetlink envelope: family, version and the
// queue number (res_id) in network byte order.
func nfgenmsg(family uint8, resID uint16) []byte {
	b := make([]byte, 4, 64)
	b[0] = family
	b[1] = nfnetlinkV0
	binary.BigEndian.PutUint16(b[2:4], resID)
	return b
}

// cfgCmd packs an nfqnl_msg_config_cmd: command, pad, protocol family in
// network byte order.
func cfgCmd(command uint8, family ProtocolFamily) []byte {
	b := make([]byte, 4)
	b[0] = command
	binary.BigEndian.PutUint16(b[2:4], uint16(family))
	return b
}

// cfgParams packs an nfqnl_msg_config_params: copy range (big-endian u32)
// followed by the copy mode byte. The struct is packed on the wire, 5 bytes.
func cfgParams(copyRange uint32, copyMode uint8) []byte {
	b := make([]byte, 5)
	binary.BigEndian.PutUint32(b[0:4], copyRange)
	b[4] = copyMode
	return b
}
