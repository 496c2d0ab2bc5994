package wire

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
)

func TestSpanPayloadRoundTrip(t *testing.T) {
	in := SpanPayload{
		ClusterID:    uuid.New(),
		NodeID:       uuid.New(),
		NodeType:     4,
		PeerType:     PeerCluster,
		ProtoVersion: SpanProtoVersion,
		Status:       0x10,
		Dist:         15,
		ClusterLabel: "prod",
		NodeLabel:    "db-01",
	}
	ext := in.MarshalExt()
	if len(ext) != LnkSpan.HeaderBytes()-HeaderSize {
		t.Fatalf("ext len = %d, want %d", len(ext), LnkSpan.HeaderBytes()-HeaderSize)
	}
	out, err := UnmarshalSpan(ext)
	if err != nil {
		t.Fatalf("UnmarshalSpan() error = %v", err)
	}
	if out != in {
		t.Errorf("UnmarshalSpan() = %+v, want %+v", out, in)
	}
}

func TestConnPayloadRoundTrip(t *testing.T) {
	in := ConnPayload{
		MediaID:      uuid.New(),
		ClusterID:    uuid.New(),
		NodeID:       uuid.New(),
		PeerMask:     1<<PeerCluster | 1<<PeerFS,
		PeerType:     PeerCluster,
		ProtoVersion: 1,
		Dist:         -1,
		ClusterLabel: "prod",
		NodeLabel:    "edge",
	}
	out, err := UnmarshalConn(in.MarshalExt())
	if err != nil {
		t.Fatalf("UnmarshalConn() error = %v", err)
	}
	if out != in {
		t.Errorf("UnmarshalConn() = %+v, want %+v", out, in)
	}
}

func TestLabelTruncation(t *testing.T) {
	p := SpanPayload{NodeLabel: strings.Repeat("x", 300)}
	out, err := UnmarshalSpan(p.MarshalExt())
	if err != nil {
		t.Fatalf("UnmarshalSpan() error = %v", err)
	}
	if len(out.NodeLabel) != labelSize-1 {
		t.Errorf("label len = %d, want %d", len(out.NodeLabel), labelSize-1)
	}
}

func TestUnmarshalShort(t *testing.T) {
	if _, err := UnmarshalSpan(make([]byte, 10)); !errors.Is(err, domain.ErrShortBuffer) {
		t.Errorf("UnmarshalSpan() error = %v, want ErrShortBuffer", err)
	}
	if _, err := UnmarshalConn(make([]byte, 10)); !errors.Is(err, domain.ErrShortBuffer) {
		t.Errorf("UnmarshalConn() error = %v, want ErrShortBuffer", err)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		cmd           Cmd
		transactional bool
		phase         Phase
		reply, abort  bool
	}{
		{LnkSpan | FlagCreate, true, PhaseOpen, false, false},
		{LnkSpan, true, PhaseStream, false, false},
		{LnkSpan | FlagDelete | FlagReply, true, PhaseClose, true, false},
		{LnkPing | FlagCreate | FlagDelete, true, PhaseSingle, false, false},
		{LnkError | FlagAbort | FlagDelete, true, PhaseClose, false, true},
		{LnkError, false, PhaseOneWay, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			k := KindOf(tt.cmd, tt.transactional)
			if k.Phase != tt.phase || k.Reply != tt.reply || k.Abort != tt.abort {
				t.Errorf("KindOf() = %+v", k)
			}
			if k.Command != tt.cmd.Base() || k.Proto != ProtoLNK {
				t.Errorf("KindOf() command = %v", k.Command)
			}
			if got := k.Command | k.Flags(); got != tt.cmd {
				t.Errorf("rebuilt cmd = %v, want %v", got, tt.cmd)
			}
		})
	}
}

func TestCmdFields(t *testing.T) {
	if LnkSpan.HeaderBytes() != 448 {
		t.Errorf("LnkSpan header = %d, want 448", LnkSpan.HeaderBytes())
	}
	if LnkConn.HeaderBytes() != 512 {
		t.Errorf("LnkConn header = %d, want 512", LnkConn.HeaderBytes())
	}
	if LnkError.Number() != 0xFFF {
		t.Errorf("LnkError number = %#x", LnkError.Number())
	}
	c := MakeCmd(ProtoDBG, 0x001, 100) | FlagCreate
	if c.Proto() != ProtoDBG || c.HeaderBytes() != 128 || !c.Has(FlagCreate) {
		t.Errorf("MakeCmd() = %v", c)
	}
	if got := (LnkSpan | FlagCreate | FlagReply).String(); got != "LNK_SPAN|C|R" {
		t.Errorf("String() = %q", got)
	}
}
