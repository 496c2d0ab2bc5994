package iocom

import (
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"os"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
	"github.com/yndnr/spanmesh-go/internal/wire"
)

// SendQueue serializes messages onto the socket. A short write leaves the
// unsent tail in place and the next Flush resumes it.
type SendQueue struct {
	pending []*Message
	cur     *Message
	plain   []byte // encoded frame of cur
	enc     []byte // encrypted frame of cur
	out     []byte // bytes of cur as written to the socket
	sent    int    // bytes of out already written
	filter  Filter
	seq     uint8
}

// NewSendQueue creates a transmit queue. filter may be nil.
func NewSendQueue(filter Filter) *SendQueue {
	return &SendQueue{filter: filter}
}

// Push appends a fully populated message.
func (q *SendQueue) Push(m *Message) {
	q.pending = append(q.pending, m)
}

// Len returns the number of messages not yet completely written.
func (q *SendQueue) Len() int {
	n := len(q.pending)
	if q.cur != nil {
		n++
	}
	return n
}

// HeaderBytesSent reports how much of the current message's header has
// reached the socket.
func (q *SendQueue) HeaderBytesSent() int {
	if q.cur == nil {
		return 0
	}
	return min(q.plainSent(), q.cur.Header.Cmd.HeaderBytes())
}

// AuxBytesSent reports how much of the current message's payload has
// reached the socket.
func (q *SendQueue) AuxBytesSent() int {
	if q.cur == nil {
		return 0
	}
	return max(0, q.plainSent()-q.cur.Header.Cmd.HeaderBytes())
}

func (q *SendQueue) plainSent() int {
	if q.filter == nil || q.sent == len(q.out) {
		return min(q.sent, len(q.plain))
	}
	return 0
}

// Flush writes as much as the writer accepts. Messages written completely
// are returned in order for sender-side bookkeeping. A write timeout is a
// would-block condition, not an error.
func (q *SendQueue) Flush(w io.Writer) (done []*Message, err error) {
	for {
		if q.cur == nil {
			if len(q.pending) == 0 {
				return done, nil
			}
			if err := q.load(); err != nil {
				return done, err
			}
		}

		n, werr := w.Write(q.out[q.sent:])
		q.sent += n
		if q.sent == len(q.out) {
			done = append(done, q.cur)
			q.cur = nil
			q.sent = 0
			continue
		}
		if werr == nil || isTimeout(werr) {
			return done, nil
		}
		return done, domain.ErrSocket.WithCause(werr)
	}
}

// Drop removes every unsent message, the partially written one included,
// and returns them in order.
func (q *SendQueue) Drop() []*Message {
	var out []*Message
	if q.cur != nil {
		out = append(out, q.cur)
		q.cur = nil
	}
	out = append(out, q.pending...)
	q.pending = nil
	q.sent = 0
	return out
}

func (q *SendQueue) load() error {
	m := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]

	m.Header.Salt = rand.Uint32()<<8 | uint32(q.seq)

	plain, err := wire.AppendFrame(q.plain[:0], &m.Frame, nil)
	if err != nil {
		m.Release()
		return err
	}
	q.plain = plain
	q.out = plain
	if q.filter != nil {
		if q.enc, err = q.filter.Encrypt(q.enc[:0], plain); err != nil {
			m.Release()
			return domain.ErrSocket.WithCause(err)
		}
		q.out = q.enc
	}
	q.seq++
	q.cur = m
	q.sent = 0
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
