// Package wire implements the spanmesh frame codec.
//
// A frame is a 64-byte primary header, an optional command-specific
// extension that pads the header to a multiple of Align bytes, and an
// optional auxiliary payload. The packed command word carries the
// protocol, the command, the header size and the transaction flags.
package wire

import "fmt"

// Cmd is the packed 32-bit command word of a frame header.
type Cmd uint32

// Transaction flags.
const (
	FlagCreate Cmd = 0x80000000
	FlagDelete Cmd = 0x40000000
	FlagReply  Cmd = 0x20000000
	FlagAbort  Cmd = 0x10000000

	FlagsMask Cmd = 0xFF000000
	ProtoMask Cmd = 0x00F00000
	CmdsMask  Cmd = 0x000FFF00
	SizeMask  Cmd = 0x000000FF

	// BaseMask selects protocol, command and size, ignoring flags.
	BaseMask = CmdsMask | SizeMask | ProtoMask
)

// Proto identifies the protocol family carried in the command word.
type Proto uint32

const (
	ProtoLNK Proto = 0x00000000
	ProtoDBG Proto = 0x00100000
	ProtoDOM Proto = 0x00200000
	ProtoCAC Proto = 0x00300000
	ProtoQRM Proto = 0x00400000
	ProtoBLK Proto = 0x00500000
	ProtoVOP Proto = 0x00600000
)

func (p Proto) String() string {
	switch p {
	case ProtoLNK:
		return "LNK"
	case ProtoDBG:
		return "DBG"
	case ProtoDOM:
		return "DOM"
	case ProtoCAC:
		return "CAC"
	case ProtoQRM:
		return "QRM"
	case ProtoBLK:
		return "BLK"
	case ProtoVOP:
		return "VOP"
	default:
		return fmt.Sprintf("PROTO(%#x)", uint32(p))
	}
}

// MakeCmd builds a command word from a protocol, a command number and
// the unpadded byte size of the extended header.
func MakeCmd(proto Proto, cmd uint32, headerBytes int) Cmd {
	units := (headerBytes + Align - 1) / Align
	return Cmd(uint32(proto)) | Cmd(cmd<<8)&CmdsMask | Cmd(units)&SizeMask
}

// Link protocol commands.
var (
	LnkPad   = MakeCmd(ProtoLNK, 0x000, HeaderSize)
	LnkPing  = MakeCmd(ProtoLNK, 0x001, HeaderSize)
	LnkAuth  = MakeCmd(ProtoLNK, 0x010, HeaderSize)
	LnkConn  = MakeCmd(ProtoLNK, 0x011, ConnPayloadSize)
	LnkSpan  = MakeCmd(ProtoLNK, 0x012, SpanPayloadSize)
	LnkError = MakeCmd(ProtoLNK, 0xFFF, HeaderSize)
)

// Proto returns the protocol family.
func (c Cmd) Proto() Proto { return Proto(c & ProtoMask) }

// Number returns the command number within its protocol.
func (c Cmd) Number() uint32 { return uint32(c&CmdsMask) >> 8 }

// HeaderBytes returns the extended header size encoded in the command.
func (c Cmd) HeaderBytes() int { return int(c&SizeMask) * Align }

// Base strips the transaction flags.
func (c Cmd) Base() Cmd { return c & BaseMask }

// Has reports whether all flags in f are set.
func (c Cmd) Has(f Cmd) bool { return c&f == f }

// Matches reports whether c and o name the same protocol command,
// ignoring flags and header size.
func (c Cmd) Matches(o Cmd) bool {
	return c&(ProtoMask|CmdsMask) == o&(ProtoMask|CmdsMask)
}

func (c Cmd) String() string {
	name := ""
	switch c.Base() {
	case LnkPad:
		name = "LNK_PAD"
	case LnkPing:
		name = "LNK_PING"
	case LnkAuth:
		name = "LNK_AUTH"
	case LnkConn:
		name = "LNK_CONN"
	case LnkSpan:
		name = "LNK_SPAN"
	case LnkError:
		name = "LNK_ERROR"
	default:
		name = fmt.Sprintf("%s(%#03x)", c.Proto(), c.Number())
	}
	for _, f := range []struct {
		flag Cmd
		tag  string
	}{{FlagCreate, "C"}, {FlagDelete, "D"}, {FlagReply, "R"}, {FlagAbort, "A"}} {
		if c&f.flag != 0 {
			name += "|" + f.tag
		}
	}
	return name
}

// Phase is the position of a message within its transaction.
type Phase uint8

const (
	// PhaseOneWay is a message outside any transaction.
	PhaseOneWay Phase = iota
	// PhaseOpen carries CREATE and leaves the transaction open.
	PhaseOpen
	// PhaseStream is an intermediate message of an open transaction.
	PhaseStream
	// PhaseClose carries DELETE on an already open transaction.
	PhaseClose
	// PhaseSingle carries both CREATE and DELETE.
	PhaseSingle
)

func (p Phase) String() string {
	switch p {
	case PhaseOneWay:
		return "oneway"
	case PhaseOpen:
		return "open"
	case PhaseStream:
		return "stream"
	case PhaseClose:
		return "close"
	case PhaseSingle:
		return "single"
	default:
		return "unknown"
	}
}

// Kind is the command word decoded once at the framing boundary.
type Kind struct {
	Proto   Proto
	Command Cmd // base command, flags stripped
	Phase   Phase
	Reply   bool
	Abort   bool
}

// KindOf decodes a command word. transactional is false for messages that
// are not part of any transaction (span 0, msgid 0 without CREATE).
func KindOf(c Cmd, transactional bool) Kind {
	k := Kind{
		Proto:   c.Proto(),
		Command: c.Base(),
		Reply:   c&FlagReply != 0,
		Abort:   c&FlagAbort != 0,
	}
	create, del := c&FlagCreate != 0, c&FlagDelete != 0
	switch {
	case create && del:
		k.Phase = PhaseSingle
	case create:
		k.Phase = PhaseOpen
	case del:
		k.Phase = PhaseClose
	case transactional:
		k.Phase = PhaseStream
	default:
		k.Phase = PhaseOneWay
	}
	return k
}

// Flags rebuilds the transaction flag bits represented by k.
func (k Kind) Flags() Cmd {
	var f Cmd
	switch k.Phase {
	case PhaseOpen:
		f = FlagCreate
	case PhaseClose:
		f = FlagDelete
	case PhaseSingle:
		f = FlagCreate | FlagDelete
	}
	if k.Reply {
		f |= FlagReply
	}
	if k.Abort {
		f |= FlagAbort
	}
	return f
}

// Link error codes carried in the header error field.
const (
	ErrCodeNone     uint32 = 0
	ErrCodeSync     uint32 = 1
	ErrCodeEOF      uint32 = 2
	ErrCodeSock     uint32 = 3
	ErrCodeField    uint32 = 4
	ErrCodeHCRC     uint32 = 5
	ErrCodeXCRC     uint32 = 6
	ErrCodeACRC     uint32 = 7
	ErrCodeTrans    uint32 = 8
	ErrCodeEAlready uint32 = 9
	ErrCodeMsgSeq   uint32 = 10
	ErrCodeNoSupp   uint32 = 0x20
)
