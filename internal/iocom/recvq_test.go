package iocom

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"testing"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
	"github.com/yndnr/spanmesh-go/internal/wire"
)

// ============================================================
// Helpers
// ============================================================

// xorFilter frames each plaintext as a length-prefixed record with every
// byte xored by key.
type xorFilter struct{ key byte }

func (f xorFilter) Encrypt(dst, plaintext []byte) ([]byte, error) {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(plaintext)))
	for _, b := range plaintext {
		dst = append(dst, b^f.key)
	}
	return dst, nil
}

func (f xorFilter) Decrypt(buf []byte) (n, consumed int, err error) {
	for len(buf)-consumed >= 4 {
		l := int(binary.LittleEndian.Uint32(buf[consumed:]))
		if len(buf)-consumed-4 < l {
			break
		}
		for i := 0; i < l; i++ {
			buf[n+i] = buf[consumed+4+i] ^ f.key
		}
		n += l
		consumed += 4 + l
	}
	return n, consumed, nil
}

func testFrames() []wire.Frame {
	span := wire.SpanPayload{Dist: 3, NodeLabel: "node-a"}
	return []wire.Frame{
		{Header: wire.Header{Cmd: wire.LnkPing}},
		{Header: wire.Header{Cmd: wire.LnkPing, MsgID: 7}, Aux: bytes.Repeat([]byte{0xAB}, 100)},
		{Header: wire.Header{Cmd: wire.LnkSpan | wire.FlagCreate, MsgID: 9}, Ext: span.MarshalExt()},
		{Header: wire.Header{Cmd: wire.LnkPad}, Aux: []byte("x")},
	}
}

// encodeStream encodes frames with consecutive sequence numbers.
func encodeStream(t *testing.T, frames []wire.Frame, order binary.ByteOrder) []byte {
	t.Helper()
	var out []byte
	for i := range frames {
		f := frames[i]
		f.Header.Salt = 0x1200 | uint32(i)
		var err error
		out, err = wire.AppendFrame(out, &f, order)
		if err != nil {
			t.Fatalf("AppendFrame() error = %v", err)
		}
	}
	return out
}

// drain feeds stream in chunks of size n and collects every message.
func drain(t *testing.T, q *RecvQueue, stream []byte, n int) []*Message {
	t.Helper()
	var got []*Message
	for len(stream) > 0 {
		k := min(n, len(stream))
		q.Feed(stream[:k])
		stream = stream[k:]
		for {
			m, err := q.Next()
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if m == nil {
				break
			}
			got = append(got, m)
		}
	}
	return got
}

func checkMessages(t *testing.T, got []*Message, want []wire.Frame) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i, m := range got {
		w := want[i]
		if m.Header.Cmd != w.Header.Cmd || m.Header.MsgID != w.Header.MsgID {
			t.Errorf("message %d: cmd=%v msgid=%d, want cmd=%v msgid=%d",
				i, m.Header.Cmd, m.Header.MsgID, w.Header.Cmd, w.Header.MsgID)
		}
		if !bytes.Equal(m.Aux, w.Aux) {
			t.Errorf("message %d: aux mismatch (%d bytes, want %d)", i, len(m.Aux), len(w.Aux))
		}
		if len(w.Ext) > 0 && !bytes.Equal(m.Ext[:len(w.Ext)], w.Ext) {
			t.Errorf("message %d: extension mismatch", i)
		}
		if m.Header.Seq() != uint8(i) {
			t.Errorf("message %d: seq = %d", i, m.Header.Seq())
		}
	}
}

// ============================================================
// RecvQueue
// ============================================================

func TestRecvQueueChunking(t *testing.T) {
	frames := testFrames()
	stream := encodeStream(t, frames, nil)

	for _, chunk := range []int{1, 7, 64, 65, len(stream)} {
		q := NewRecvQueue(nil, nil)
		got := drain(t, q, stream, chunk)
		checkMessages(t, got, frames)
		if q.State() != RecvHeader1 {
			t.Errorf("chunk %d: State() = %v, want HEADER1", chunk, q.State())
		}
		if q.Buffered() != 0 {
			t.Errorf("chunk %d: Buffered() = %d, want 0", chunk, q.Buffered())
		}
	}
}

func TestRecvQueueBigEndianPeer(t *testing.T) {
	frames := testFrames()
	stream := encodeStream(t, frames, binary.BigEndian)

	got := drain(t, NewRecvQueue(nil, nil), stream, 13)
	checkMessages(t, got, frames)
}

func TestRecvQueueSequenceViolation(t *testing.T) {
	frames := testFrames()[:2]
	stream := encodeStream(t, frames[:1], nil)
	stream = append(stream, encodeStream(t, frames[1:], nil)...) // seq 0 twice

	q := NewRecvQueue(nil, nil)
	q.Feed(stream)
	if m, err := q.Next(); err != nil || m == nil {
		t.Fatalf("Next() = %v, %v; want first message", m, err)
	}
	_, err := q.Next()
	if !errors.Is(err, domain.ErrSequenceViolation) {
		t.Fatalf("Next() error = %v, want ErrSequenceViolation", err)
	}
	if q.State() != RecvError {
		t.Errorf("State() = %v, want ERROR", q.State())
	}
}

func TestRecvQueueStickyError(t *testing.T) {
	frames := testFrames()[1:2]
	stream := encodeStream(t, frames, nil)
	stream[len(stream)-1] ^= 0x01 // corrupt aux padding

	q := NewRecvQueue(nil, nil)
	q.Feed(stream)
	_, err := q.Next()
	if !errors.Is(err, domain.ErrAuxCRC) {
		t.Fatalf("Next() error = %v, want ErrAuxCRC", err)
	}

	q.Feed(encodeStream(t, testFrames()[:1], nil))
	for i := 0; i < 3; i++ {
		if _, err := q.Next(); !errors.Is(err, domain.ErrAuxCRC) {
			t.Fatalf("Next() #%d error = %v, want sticky ErrAuxCRC", i, err)
		}
	}
}

func TestRecvQueueHeaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(b []byte)
		want    error
	}{
		{
			name:    "bad magic",
			corrupt: func(b []byte) { b[0], b[1] = 0, 0 },
			want:    domain.ErrBadMagic,
		},
		{
			name:    "header crc",
			corrupt: func(b []byte) { b[10] ^= 0xFF },
			want:    domain.ErrExtHeaderCRC,
		},
		{
			name:    "extension crc",
			corrupt: func(b []byte) { b[wire.HeaderSize+40] ^= 0x10 },
			want:    domain.ErrExtHeaderCRC,
		},
		{
			name: "oversized aux",
			corrupt: func(b []byte) {
				binary.LittleEndian.PutUint32(b[40:], wire.MaxAuxSize+1)
			},
			want: domain.ErrFieldOverflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := encodeStream(t, testFrames()[2:3], nil)
			tt.corrupt(stream)
			q := NewRecvQueue(nil, nil)
			q.Feed(stream)
			if _, err := q.Next(); !errors.Is(err, tt.want) {
				t.Fatalf("Next() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRecvQueueWithFilter(t *testing.T) {
	frames := testFrames()
	filter := xorFilter{key: 0x5A}

	sq := NewSendQueue(filter)
	for i := range frames {
		m := &Message{Frame: frames[i]}
		sq.Push(m)
	}
	var wirebuf bytes.Buffer
	done, err := sq.Flush(&wirebuf)
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(done) != len(frames) {
		t.Fatalf("Flush() completed %d messages, want %d", len(done), len(frames))
	}

	for _, chunk := range []int{1, 5, wirebuf.Len()} {
		q := NewRecvQueue(nil, filter)
		got := drain(t, q, wirebuf.Bytes(), chunk)
		checkMessages(t, got, frames)
	}
}

// ============================================================
// SendQueue
// ============================================================

// stallWriter accepts at most limit bytes per call and reports a deadline
// error when it truncates.
type stallWriter struct {
	bytes.Buffer
	limit int
	calls int
}

func (w *stallWriter) Write(p []byte) (int, error) {
	w.calls++
	if len(p) <= w.limit {
		return w.Buffer.Write(p)
	}
	n, _ := w.Buffer.Write(p[:w.limit])
	return n, os.ErrDeadlineExceeded
}

func TestSendQueuePartialWrites(t *testing.T) {
	frames := testFrames()
	sq := NewSendQueue(nil)
	for i := range frames {
		sq.Push(&Message{Frame: frames[i]})
	}

	w := &stallWriter{limit: 50}
	var completed int
	for i := 0; sq.Len() > 0; i++ {
		if i > 1000 {
			t.Fatal("Flush() made no progress")
		}
		done, err := sq.Flush(w)
		if err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
		completed += len(done)
	}
	if w.calls <= len(frames) {
		t.Errorf("writer saw %d calls, want partial writes", w.calls)
	}
	if completed != len(frames) {
		t.Fatalf("completed %d messages, want %d", completed, len(frames))
	}

	got := drain(t, NewRecvQueue(nil, nil), w.Bytes(), len(w.Bytes()))
	checkMessages(t, got, frames)
}

func TestSendQueueDrop(t *testing.T) {
	frames := testFrames()
	sq := NewSendQueue(nil)
	for i := range frames {
		sq.Push(&Message{Frame: frames[i]})
	}

	w := &stallWriter{limit: 70}
	if _, err := sq.Flush(w); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	dropped := sq.Drop()
	if len(dropped)+1 != len(frames) {
		t.Fatalf("Drop() returned %d messages, want %d", len(dropped), len(frames)-1)
	}
	if sq.Len() != 0 {
		t.Errorf("Len() = %d after Drop, want 0", sq.Len())
	}
}

func TestSendQueueRejectedFrameKeepsSequence(t *testing.T) {
	sq := NewSendQueue(nil)
	// A command without a size field encodes no header and is rejected.
	sq.Push(&Message{Frame: wire.Frame{Header: wire.Header{Cmd: wire.LnkPing &^ wire.SizeMask}}})

	var w bytes.Buffer
	if _, err := sq.Flush(&w); !errors.Is(err, domain.ErrFieldOverflow) {
		t.Fatalf("Flush() error = %v, want ErrFieldOverflow", err)
	}

	frames := testFrames()[:2]
	for i := range frames {
		sq.Push(&Message{Frame: frames[i]})
	}
	if _, err := sq.Flush(&w); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	// The receiver expects sequence numbers from zero.
	got := drain(t, NewRecvQueue(nil, nil), w.Bytes(), len(w.Bytes()))
	checkMessages(t, got, frames)
}
