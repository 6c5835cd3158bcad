// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nfq

import (
	"encoding/binary"
	"testing"

	"github.com/mdlayher/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeVerdictEnvelope(t *testing.T) {
	data, err := encodeVerdict(513, 0xdeadbeef, Accept())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 4)

	// Verdicts address the queue by res_id; the family is unspecified.
	assert.Equal(t, uint8(FamilyUnspec), data[0])
	assert.Equal(t, uint8(nfnetlinkV0), data[1])
	assert.Equal(t, uint16(513), binary.BigEndian.Uint16(data[2:4]))

	attrs, err := netlink.UnmarshalAttributes(data[4:])
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	require.Equal(t, uint16(nfqaVerdictHdr), attrs[0].Type)
	require.Len(t, attrs[0].Data, 8)
	assert.Equal(t, uint32(nfAccept), binary.BigEndian.Uint32(attrs[0].Data[0:4]))
	assert.Equal(t, uint32(0xdeadbeef), binary.BigEndian.Uint32(attrs[0].Data[4:8]))
}

func TestEncodeVerdictRequeueTarget(t *testing.T) {
	data, err := encodeVerdict(0, 1, Requeue(7))
	require.NoError(t, err)

	attrs, err := netlink.UnmarshalAttributes(data[4:])
	require.NoError(t, err)
	require.Len(t, attrs, 1)

	code := binary.BigEndian.Uint32(attrs[0].Data[0:4])
	assert.Equal(t, uint32(nfQueue), code&0xffff)
	assert.Equal(t, uint32(7), code>>16)
}

func TestEncodeVerdictWithMark(t *testing.T) {
	data, err := encodeVerdict(0, 1, Drop().WithMark(0x00c0ffee))
	require.NoError(t, err)

	attrs, err := netlink.UnmarshalAttributes(data[4:])
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, uint16(nfqaMark), attrs[1].Type)
	assert.Equal(t, uint32(0x00c0ffee), binary.BigEndian.Uint32(attrs[1].Data))

	// No mark attribute unless one was attached.
	data, err = encodeVerdict(0, 1, Drop())
	require.NoError(t, err)
	attrs, err = netlink.UnmarshalAttributes(data[4:])
	require.NoError(t, err)
	assert.Len(t, attrs, 1)
}

func TestEncodeVerdictWithPayload(t *testing.T) {
	mangled := []byte{0xca, 0xfe, 0xba, 0xbe}
	data, err := encodeVerdict(0, 1, Accept().WithPayload(mangled))
	require.NoError(t, err)

	attrs, err := netlink.UnmarshalAttributes(data[4:])
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, uint16(nfqaPayload), attrs[1].Type)
	assert.Equal(t, mangled, attrs[1].Data)
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "accept", Accept().String())
	assert.Equal(t, "drop", Drop().String())
	assert.Equal(t, "repeat", Repeat().String())
	assert.Equal(t, "requeue(3)", Requeue(3).String())
	assert.Equal(t, "accept", Accept().WithMark(9).String())
}

func TestZeroQueueHandleRejectsVerdicts(t *testing.T) {
	var qh QueueHandle
	assert.Error(t, qh.Accept(1))
}

func TestVerdictStatsByKind(t *testing.T) {
	h, _ := simHandle(t)
	q, err := h.CreateQueue(1, VerdictFunc(func(*Message) Verdict { return Accept() }))
	require.NoError(t, err)
	qh := q.Handle()

	require.NoError(t, qh.Accept(1))
	require.NoError(t, qh.Drop(2))
	require.NoError(t, qh.Verdict(3, Requeue(5)))
	require.NoError(t, qh.Verdict(4, Repeat()))

	s := h.Stats()
	assert.Equal(t, uint64(1), s.PacketsAccepted)
	assert.Equal(t, uint64(1), s.PacketsDropped)
	assert.Equal(t, uint64(1), s.PacketsRequeued)
	assert.Equal(t, uint64(1), s.OtherVerdicts)
	assert.Equal(t, uint64(0), s.VerdictErrors)
}
