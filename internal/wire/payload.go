package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
)

// Extended header sizes, primary header included.
const (
	SpanPayloadSize = 432
	ConnPayloadSize = 452

	labelSize = 128
)

// Peer types announced in LNK_CONN and LNK_SPAN.
const (
	PeerNone    uint8 = 0
	PeerCluster uint8 = 1
	PeerBlock   uint8 = 2
	PeerFS      uint8 = 3
)

// SpanProtoVersion is the LNK_SPAN payload revision.
const SpanProtoVersion uint16 = 1

// SpanPayload is the body of a LNK_SPAN transaction: a claim that a node
// of a cluster is reachable at some distance.
type SpanPayload struct {
	ClusterID    uuid.UUID
	NodeID       uuid.UUID
	NodeType     uint8
	PeerType     uint8
	ProtoVersion uint16
	Status       uint32
	Dist         int32
	ClusterLabel string
	NodeLabel    string
}

// Span extension offsets, relative to the end of the primary header.
const (
	spanOffCluster  = 0
	spanOffNode     = 16
	spanOffNodeType = 32
	spanOffPeerType = 33
	spanOffProto    = 34
	spanOffStatus   = 36
	spanOffDist     = 48
	spanOffClLabel  = 112
	spanOffNdLabel  = 240
)

// MarshalExt encodes the payload as a header extension for LnkSpan.
func (p *SpanPayload) MarshalExt() []byte {
	ext := make([]byte, LnkSpan.HeaderBytes()-HeaderSize)
	le := binary.LittleEndian
	copy(ext[spanOffCluster:], p.ClusterID[:])
	copy(ext[spanOffNode:], p.NodeID[:])
	ext[spanOffNodeType] = p.NodeType
	ext[spanOffPeerType] = p.PeerType
	le.PutUint16(ext[spanOffProto:], p.ProtoVersion)
	le.PutUint32(ext[spanOffStatus:], p.Status)
	le.PutUint32(ext[spanOffDist:], uint32(p.Dist))
	putLabel(ext[spanOffClLabel:], p.ClusterLabel)
	putLabel(ext[spanOffNdLabel:], p.NodeLabel)
	return ext
}

// UnmarshalSpan decodes a LNK_SPAN header extension.
func UnmarshalSpan(ext []byte) (SpanPayload, error) {
	if len(ext) < SpanPayloadSize-HeaderSize {
		return SpanPayload{}, domain.ErrShortBuffer.WithDetails("span payload")
	}
	le := binary.LittleEndian
	var p SpanPayload
	copy(p.ClusterID[:], ext[spanOffCluster:])
	copy(p.NodeID[:], ext[spanOffNode:])
	p.NodeType = ext[spanOffNodeType]
	p.PeerType = ext[spanOffPeerType]
	p.ProtoVersion = le.Uint16(ext[spanOffProto:])
	p.Status = le.Uint32(ext[spanOffStatus:])
	p.Dist = int32(le.Uint32(ext[spanOffDist:]))
	p.ClusterLabel = getLabel(ext[spanOffClLabel:])
	p.NodeLabel = getLabel(ext[spanOffNdLabel:])
	return p, nil
}

// ConnPayload is the body of a LNK_CONN transaction. It tells the peer
// which spans this end wants relayed to it.
type ConnPayload struct {
	MediaID      uuid.UUID
	ClusterID    uuid.UUID // uuid.Nil accepts every cluster
	NodeID       uuid.UUID
	PeerMask     uint64 // bit per peer type; 0 accepts every type
	PeerType     uint8
	NodeType     uint8
	ProtoVersion uint16
	Status       uint32
	Dist         int32
	ClusterLabel string // empty accepts every label
	NodeLabel    string
}

const (
	connOffMedia    = 0
	connOffCluster  = 16
	connOffNode     = 32
	connOffPeerMask = 48
	connOffPeerType = 56
	connOffNodeType = 57
	connOffProto    = 58
	connOffStatus   = 60
	connOffDist     = 72
	connOffClLabel  = 132
	connOffNdLabel  = 260
)

// MarshalExt encodes the payload as a header extension for LnkConn.
func (p *ConnPayload) MarshalExt() []byte {
	ext := make([]byte, LnkConn.HeaderBytes()-HeaderSize)
	le := binary.LittleEndian
	copy(ext[connOffMedia:], p.MediaID[:])
	copy(ext[connOffCluster:], p.ClusterID[:])
	copy(ext[connOffNode:], p.NodeID[:])
	le.PutUint64(ext[connOffPeerMask:], p.PeerMask)
	ext[connOffPeerType] = p.PeerType
	ext[connOffNodeType] = p.NodeType
	le.PutUint16(ext[connOffProto:], p.ProtoVersion)
	le.PutUint32(ext[connOffStatus:], p.Status)
	le.PutUint32(ext[connOffDist:], uint32(p.Dist))
	putLabel(ext[connOffClLabel:], p.ClusterLabel)
	putLabel(ext[connOffNdLabel:], p.NodeLabel)
	return ext
}

// UnmarshalConn decodes a LNK_CONN header extension.
func UnmarshalConn(ext []byte) (ConnPayload, error) {
	if len(ext) < ConnPayloadSize-HeaderSize {
		return ConnPayload{}, domain.ErrShortBuffer.WithDetails("conn payload")
	}
	le := binary.LittleEndian
	var p ConnPayload
	copy(p.MediaID[:], ext[connOffMedia:])
	copy(p.ClusterID[:], ext[connOffCluster:])
	copy(p.NodeID[:], ext[connOffNode:])
	p.PeerMask = le.Uint64(ext[connOffPeerMask:])
	p.PeerType = ext[connOffPeerType]
	p.NodeType = ext[connOffNodeType]
	p.ProtoVersion = le.Uint16(ext[connOffProto:])
	p.Status = le.Uint32(ext[connOffStatus:])
	p.Dist = int32(le.Uint32(ext[connOffDist:]))
	p.ClusterLabel = getLabel(ext[connOffClLabel:])
	p.NodeLabel = getLabel(ext[connOffNdLabel:])
	return p, nil
}

// putLabel writes a NUL-terminated label, truncating it to fit.
func putLabel(dst []byte, s string) {
	n := min(len(s), labelSize-1)
	copy(dst[:n], s[:n])
	dst[n] = 0
}

func getLabel(src []byte) string {
	src = src[:labelSize]
	if i := bytes.IndexByte(src, 0); i >= 0 {
		src = src[:i]
	}
	return string(src)
}
