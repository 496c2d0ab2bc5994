package iocom

import (
	"github.com/yndnr/spanmesh-go/internal/core/domain"
	"github.com/yndnr/spanmesh-go/internal/wire"
)

// RecvState is the state of the receive assembler.
type RecvState uint8

const (
	RecvHeader1 RecvState = iota // waiting for the primary header
	RecvHeader2                  // waiting for the extended header
	RecvAux1                     // copying already buffered payload
	RecvAux2                     // waiting for the rest of the payload
	RecvError                    // stopped on a sticky error
)

func (s RecvState) String() string {
	switch s {
	case RecvHeader1:
		return "HEADER1"
	case RecvHeader2:
		return "HEADER2"
	case RecvAux1:
		return "AUXDATA1"
	case RecvAux2:
		return "AUXDATA2"
	case RecvError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// RecvQueue assembles messages from an arbitrarily chunked byte stream.
//
// The FIFO holds buf[beg:cdx] decrypted bytes and buf[cdx:end] bytes still
// waiting for the filter. Without a filter cdx tracks end.
type RecvQueue struct {
	state  RecvState
	buf    []byte
	beg    int
	cdx    int
	end    int
	filter Filter
	pool   *MessagePool

	msg    *Message
	hbytes int // extended header size of msg
	asize  int // unpadded aux size of msg
	abytes int // padded aux size of msg
	got    int // aux bytes copied so far

	seq uint8
	err error
}

// NewRecvQueue creates a receive queue. filter may be nil.
func NewRecvQueue(pool *MessagePool, filter Filter) *RecvQueue {
	if pool == nil {
		pool = NewMessagePool(0)
	}
	return &RecvQueue{
		buf:    make([]byte, 0, wire.MaxHeaderSize*4),
		filter: filter,
		pool:   pool,
	}
}

// State returns the current assembler state.
func (q *RecvQueue) State() RecvState { return q.state }

// Err returns the sticky error, if any.
func (q *RecvQueue) Err() error { return q.err }

// Buffered returns the number of bytes held in the FIFO.
func (q *RecvQueue) Buffered() int { return q.end - q.beg }

// Feed appends raw bytes read from the socket.
func (q *RecvQueue) Feed(p []byte) {
	if q.state == RecvError || len(p) == 0 {
		return
	}
	q.compact()
	q.buf = append(q.buf[:q.end], p...)
	q.end = len(q.buf)
	if q.filter == nil {
		q.cdx = q.end
	}
}

// Fail records err as the sticky error unless one is already set.
func (q *RecvQueue) Fail(err error) {
	if q.err != nil {
		return
	}
	q.err = err
	q.state = RecvError
	if q.msg != nil {
		q.msg.Release()
		q.msg = nil
	}
}

// Next assembles the next message. It returns (nil, nil) when more bytes
// are needed. Once an error is returned every later call returns it too.
func (q *RecvQueue) Next() (*Message, error) {
	if q.err != nil {
		return nil, q.err
	}
	if err := q.decrypt(); err != nil {
		q.Fail(err)
		return nil, err
	}
	m, err := q.step()
	if err != nil {
		q.Fail(err)
		return nil, err
	}
	return m, nil
}

func (q *RecvQueue) step() (*Message, error) {
	switch q.state {
	case RecvHeader1:
		if q.cdx-q.beg < wire.HeaderSize {
			return nil, nil
		}
		hbytes, asize, err := wire.DecodeHeader(q.buf[q.beg:q.cdx])
		if err != nil {
			return nil, err
		}
		q.hbytes, q.asize, q.abytes, q.got = hbytes, asize, wire.AlignUp(asize), 0
		q.msg = q.pool.Get(hbytes-wire.HeaderSize, asize)
		q.state = RecvHeader2
		fallthrough

	case RecvHeader2:
		if q.cdx-q.beg < q.hbytes {
			return nil, nil
		}
		hdr := q.buf[q.beg : q.beg+q.hbytes]
		wire.SwapEndianIfNeeded(hdr)
		if !wire.VerifyHeaderCRC(hdr) {
			return nil, domain.ErrExtHeaderCRC
		}
		h, err := wire.ParseHeader(hdr)
		if err != nil {
			return nil, err
		}
		q.msg.Header = h
		copy(q.msg.Ext, hdr[wire.HeaderSize:])
		q.beg += q.hbytes
		if q.abytes == 0 {
			return q.complete()
		}
		q.state = RecvAux1
		fallthrough

	case RecvAux1:
		q.copyAux()
		q.state = RecvAux2
		fallthrough

	case RecvAux2:
		q.copyAux()
		if q.got < q.abytes {
			return nil, nil
		}
		if !wire.VerifyAuxCRC(q.msg.auxBuf[:q.abytes], q.msg.Header.AuxCRC) {
			return nil, domain.ErrAuxCRC
		}
		return q.complete()

	default:
		return nil, q.err
	}
}

func (q *RecvQueue) copyAux() {
	n := copy(q.msg.auxBuf[q.got:q.abytes], q.buf[q.beg:q.cdx])
	q.got += n
	q.beg += n
}

func (q *RecvQueue) complete() (*Message, error) {
	m := q.msg
	if m.Header.Seq() != q.seq {
		return nil, domain.ErrSequenceViolation.WithDetails("unexpected sequence number")
	}
	q.seq++
	q.msg = nil
	q.state = RecvHeader1
	return m, nil
}

func (q *RecvQueue) decrypt() error {
	if q.filter == nil || q.cdx == q.end {
		return nil
	}
	n, used, err := q.filter.Decrypt(q.buf[q.cdx:q.end])
	if err != nil {
		return domain.ErrDecrypt.WithCause(err)
	}
	if used == 0 {
		return nil
	}
	// Close the gap between the plaintext and the remaining ciphertext.
	copy(q.buf[q.cdx+n:], q.buf[q.cdx+used:q.end])
	q.end -= used - n
	q.buf = q.buf[:q.end]
	q.cdx += n
	return nil
}

func (q *RecvQueue) compact() {
	if q.beg == 0 {
		return
	}
	if q.beg == q.end {
		q.beg, q.cdx, q.end = 0, 0, 0
		q.buf = q.buf[:0]
		return
	}
	if q.beg < cap(q.buf)/2 {
		return
	}
	n := copy(q.buf[:cap(q.buf)], q.buf[q.beg:q.end])
	q.cdx -= q.beg
	q.end = n
	q.beg = 0
	q.buf = q.buf[:n]
}
