package iocom

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
	"github.com/yndnr/spanmesh-go/internal/telemetry/metric"
	"github.com/yndnr/spanmesh-go/internal/wire"
)

// Handler is invoked on the link goroutine once per received message, after
// transaction classification. The last message a handler sees for a link
// is the terminal one (Message.Terminal).
type Handler func(c *Conn, m *Message)

// Config holds link parameters.
type Config struct {
	// Label names the link in logs, typically the peer address.
	Label string

	// Filter encrypts the stream. Nil sends frames in the clear.
	Filter Filter

	// Handler receives every classified message. Nil uses DefaultHandler.
	Handler Handler

	// MaxQueue bounds the number of submitted but unsent messages.
	MaxQueue int

	// ReadBuffer is the socket read chunk size.
	ReadBuffer int

	// WriteTimeout bounds a single socket write. A write that times out
	// is resumed later.
	WriteTimeout time.Duration

	// RetryInterval is the delay before resuming a blocked write.
	RetryInterval time.Duration

	// PoolLimit bounds each free list of the message pool.
	PoolLimit int

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// DefaultConfig returns the default link configuration.
func DefaultConfig() Config {
	return Config{
		MaxQueue:      4096,
		ReadBuffer:    32 * 1024,
		WriteTimeout:  20 * time.Millisecond,
		RetryInterval: 5 * time.Millisecond,
		PoolLimit:     256,
	}
}

func (cfg *Config) withDefaults() {
	def := DefaultConfig()
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = def.MaxQueue
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = def.ReadBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.PoolLimit <= 0 {
		cfg.PoolLimit = def.PoolLimit
	}
	if cfg.Handler == nil {
		cfg.Handler = DefaultHandler
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// DefaultHandler answers every transaction the peer opens with
// ErrCodeNoSupp and ignores everything else.
func DefaultHandler(_ *Conn, m *Message) {
	t := m.Txn()
	if t == nil || t.Local() || m.Cmd()&wire.FlagCreate == 0 {
		return
	}
	_ = t.Reply(wire.ErrCodeNoSupp)
}

// Conn is one link to a peer. Run drives it; every other method may be
// called from any goroutine.
type Conn struct {
	id   string
	nc   net.Conn
	cfg  Config
	log  *slog.Logger
	pool *MessagePool
	rq   *RecvQueue
	sq   *SendQueue

	mu      sync.Mutex
	table   *TransactionTable
	txq     []*Message
	nextID  uint64
	dead    bool
	failure error

	wake     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	err      error
}

// NewConn wraps an established connection. Call Run to start it.
func NewConn(nc net.Conn, cfg Config) *Conn {
	cfg.withDefaults()
	if cfg.Label == "" && nc.RemoteAddr() != nil {
		cfg.Label = nc.RemoteAddr().String()
	}
	c := &Conn{
		id:   ulid.Make().String(),
		nc:   nc,
		cfg:  cfg,
		pool: NewMessagePool(cfg.PoolLimit),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.log = cfg.Logger.With("conn", c.id, "peer", cfg.Label)
	c.rq = NewRecvQueue(c.pool, cfg.Filter)
	c.sq = NewSendQueue(cfg.Filter)
	c.table = NewTransactionTable(c)
	c.table.onChange = cfg.Metrics.AddTransactions
	return c
}

// ID returns the link id.
func (c *Conn) ID() string { return c.id }

// Label returns the link label.
func (c *Conn) Label() string { return c.cfg.Label }

// Logger returns the link-scoped logger.
func (c *Conn) Logger() *slog.Logger { return c.log }

// Done is closed once the link has terminated and the terminal message
// has been delivered.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the error that terminated the link. Valid after Done.
func (c *Conn) Err() error {
	<-c.done
	return c.err
}

// Close asks the link to terminate. Open transactions are aborted and the
// terminal message is delivered before Done is closed.
func (c *Conn) Close() error {
	c.quitOnce.Do(func() { close(c.quit) })
	return nil
}

// Stats is a point-in-time view of a link.
type Stats struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Received int    `json:"transactions_received"`
	Sent     int    `json:"transactions_sent"`
	Queued   int    `json:"queued"`
	Closed   bool   `json:"closed"`
}

// Stats returns the link statistics.
func (c *Conn) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	rx, tx := c.table.Len()
	return Stats{
		ID:       c.id,
		Label:    c.cfg.Label,
		Received: rx,
		Sent:     tx,
		Queued:   len(c.txq),
		Closed:   c.dead,
	}
}

// NewMessage allocates an outbound message. ext is copied into the
// header extension and must fit the size encoded in cmd.
func (c *Conn) NewMessage(cmd wire.Cmd, ext, aux []byte) (*Message, error) {
	hbytes := cmd.HeaderBytes()
	if hbytes < wire.HeaderSize || hbytes > wire.MaxHeaderSize {
		return nil, domain.ErrFieldOverflow.WithDetails("header size out of range")
	}
	if len(ext) > hbytes-wire.HeaderSize {
		return nil, domain.ErrFieldOverflow.WithDetails("extension larger than header size")
	}
	if wire.AlignUp(len(aux)) > wire.MaxAuxSize {
		return nil, domain.ErrFieldOverflow.WithDetails("aux size out of range")
	}
	m := c.pool.Get(hbytes-wire.HeaderSize, len(aux))
	m.Header.Cmd = cmd
	copy(m.Ext, ext)
	copy(m.Aux, aux)
	return m, nil
}

// Submit queues a message for transmission. Messages bound to a
// transaction are stamped with its identity and flags. Submit never
// blocks; exceeding MaxQueue is fatal to the link. The message is owned by
// the link afterwards, even on error.
func (c *Conn) Submit(m *Message) error {
	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		m.Release()
		return domain.ErrConnClosed
	}
	if m.txn != nil {
		if err := c.table.Prepare(m.txn, &m.Header); err != nil {
			c.mu.Unlock()
			m.Release()
			return err
		}
	}
	m.Kind = wire.KindOf(m.Header.Cmd, m.txn != nil)
	if len(c.txq) >= c.cfg.MaxQueue {
		c.failLocked(domain.ErrQueueOverflow)
		c.mu.Unlock()
		m.Release()
		return domain.ErrQueueOverflow
	}
	c.txq = append(c.txq, m)
	c.mu.Unlock()
	c.signal()
	return nil
}

// Send transmits a one-way message outside any transaction.
func (c *Conn) Send(cmd wire.Cmd, ext, aux []byte) error {
	m, err := c.NewMessage(cmd&^(wire.FlagCreate|wire.FlagDelete), ext, aux)
	if err != nil {
		return err
	}
	return c.Submit(m)
}

// Open starts a transaction with a CREATE message.
func (c *Conn) Open(cmd wire.Cmd, ext, aux []byte) (*Transaction, error) {
	return c.open(nil, cmd, ext, aux)
}

// OpenSub starts a transaction on t's circuit. The peer routes it along
// the path t announced, so t must be a top-level transaction the peer
// opened.
func (t *Transaction) OpenSub(cmd wire.Cmd, ext, aux []byte) (*Transaction, error) {
	if t.local || t.spanID != 0 {
		return nil, domain.ErrTransaction.WithDetails("circuit parent must be a top-level peer transaction")
	}
	return t.conn.open(t, cmd, ext, aux)
}

func (c *Conn) open(parent *Transaction, cmd wire.Cmd, ext, aux []byte) (*Transaction, error) {
	m, err := c.NewMessage(cmd|wire.FlagCreate, ext, aux)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		m.Release()
		return nil, domain.ErrConnClosed
	}
	c.nextID++
	t, err := c.table.Open(parent, c.nextID, cmd)
	c.mu.Unlock()
	if err != nil {
		m.Release()
		return nil, err
	}

	m.txn = t
	if err := c.Submit(m); err != nil {
		c.mu.Lock()
		c.table.ForceClose(t)
		c.mu.Unlock()
		return nil, err
	}
	return t, nil
}

// Send transmits a message on the transaction. Include wire.FlagDelete in
// cmd to close this direction.
func (t *Transaction) Send(cmd wire.Cmd, ext, aux []byte) error {
	m, err := t.conn.NewMessage(cmd, ext, aux)
	if err != nil {
		return err
	}
	m.txn = t
	return t.conn.Submit(m)
}

// Forward sends a copy of m on t, keeping its command, error code and
// DELETE and ABORT flags. A send on a closed direction is ignored.
func (t *Transaction) Forward(m *Message) error {
	out, err := t.conn.NewMessage(m.Cmd()&^(wire.FlagCreate|wire.FlagReply), m.Ext, m.Aux)
	if err != nil {
		return err
	}
	out.Header.Error = m.Header.Error
	out.txn = t
	err = t.conn.Submit(out)
	if errors.Is(err, domain.ErrTransactionClosed) {
		return nil
	}
	return err
}

// Reply closes this direction with a LNK_ERROR carrying code. It is a
// no-op when this direction is already closed.
func (t *Transaction) Reply(code uint32) error {
	return t.sendStatus(wire.LnkError|wire.FlagDelete, code)
}

// Result sends a LNK_ERROR carrying code and leaves the transaction open.
func (t *Transaction) Result(code uint32) error {
	return t.sendStatus(wire.LnkError, code)
}

// Close closes this direction with a successful LNK_ERROR.
func (t *Transaction) Close() error {
	return t.Reply(wire.ErrCodeNone)
}

// Abort closes this direction with ABORT set.
func (t *Transaction) Abort() error {
	return t.sendStatus(wire.LnkError|wire.FlagDelete|wire.FlagAbort, wire.ErrCodeNone)
}

func (t *Transaction) sendStatus(cmd wire.Cmd, code uint32) error {
	m, err := t.conn.NewMessage(cmd, nil, nil)
	if err != nil {
		return err
	}
	m.Header.Error = code
	m.txn = t
	err = t.conn.Submit(m)
	if errors.Is(err, domain.ErrTransactionClosed) {
		return nil
	}
	return err
}

func (c *Conn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conn) failLocked(err error) {
	if c.failure == nil {
		c.failure = err
	}
	c.dead = true
	c.signal()
}

// Run drives the link until it terminates, then drains open transactions
// and delivers the terminal message. It returns the terminating error;
// domain.ErrEOF means the peer closed the link.
func (c *Conn) Run(ctx context.Context) error {
	rx := make(chan []byte, 8)
	rxErr := make(chan error, 1)
	go c.readLoop(rx, rxErr)

	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()

	c.log.Debug("link started")
	for {
		c.receive()
		if c.rq.Err() == nil {
			c.mu.Lock()
			failure := c.failure
			c.mu.Unlock()
			if failure != nil {
				c.rq.Fail(failure)
			}
		}
		if c.rq.Err() != nil {
			break
		}
		if err := c.transmit(); err != nil {
			c.rq.Fail(err)
			break
		}
		if c.sq.Len() > 0 {
			retry.Reset(c.cfg.RetryInterval)
		}

		select {
		case chunk, ok := <-rx:
			if !ok {
				c.rq.Fail(<-rxErr)
				continue
			}
			c.rq.Feed(chunk)
		case <-c.wake:
		case <-retry.C:
		case <-c.quit:
			c.rq.Fail(domain.ErrConnClosed)
		case <-ctx.Done():
			c.rq.Fail(domain.ErrConnClosed.WithCause(ctx.Err()))
		}
	}

	c.shutdown()
	return c.err
}

func (c *Conn) readLoop(rx chan<- []byte, errc chan<- error) {
	defer close(rx)
	buf := make([]byte, c.cfg.ReadBuffer)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case rx <- chunk:
			case <-c.done:
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				errc <- domain.ErrEOF
			} else {
				errc <- domain.ErrSocket.WithCause(err)
			}
			return
		}
	}
}

func (c *Conn) receive() {
	for {
		m, err := c.rq.Next()
		if err != nil || m == nil {
			return
		}
		c.cfg.Metrics.FrameIn(m.EncodedLen())
		c.dispatch(m)
	}
}

func (c *Conn) dispatch(m *Message) {
	defer m.Release()

	c.mu.Lock()
	t, err := c.table.Receive(&m.Header)
	c.mu.Unlock()
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyTerminated) {
			c.log.Debug("dropping late abort", "cmd", m.Cmd(), "msgid", m.Header.MsgID)
			return
		}
		c.protocolError(m, err)
		return
	}

	m.txn = t
	m.Kind = wire.KindOf(m.Header.Cmd, t != nil)
	c.cfg.Handler(c, m)

	c.mu.Lock()
	c.table.Received(t, m.Header.Cmd)
	c.mu.Unlock()
}

// protocolError answers a message that violated the transaction protocol
// with an untracked LNK_ERROR. The ABORT flag keeps the peer from
// answering it in turn.
func (c *Conn) protocolError(m *Message, err error) {
	c.log.Warn("transaction protocol error",
		"cmd", m.Cmd(),
		"spanid", m.Header.SpanID,
		"msgid", m.Header.MsgID,
		"error", err,
	)
	c.cfg.Metrics.ProtocolError()

	cmd := wire.LnkError | wire.FlagAbort | wire.FlagDelete
	if m.Cmd()&wire.FlagReply == 0 {
		cmd |= wire.FlagReply
	}
	reply, _ := c.NewMessage(cmd, nil, nil)
	reply.Header.SpanID = m.Header.SpanID
	reply.Header.MsgID = m.Header.MsgID
	reply.Header.Error = wire.CodeOf(err)
	_ = c.Submit(reply)
}

func (c *Conn) transmit() error {
	c.mu.Lock()
	queued := c.txq
	c.txq = nil
	c.mu.Unlock()
	for _, m := range queued {
		c.sq.Push(m)
	}
	if c.sq.Len() == 0 {
		return nil
	}

	_ = c.nc.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	done, err := c.sq.Flush(c.nc)

	c.mu.Lock()
	for _, m := range done {
		c.table.Sent(m.txn, m.Header.Cmd)
	}
	c.mu.Unlock()
	for _, m := range done {
		c.cfg.Metrics.FrameOut(m.EncodedLen())
		m.Release()
	}
	return err
}

// shutdown runs once the receive queue has failed: it stops accepting
// submissions, closes the socket, synthesizes a termination for every
// open transaction and finally delivers the terminal message.
func (c *Conn) shutdown() {
	c.mu.Lock()
	c.dead = true
	leftover := c.txq
	c.txq = nil
	c.mu.Unlock()

	dropped := append(c.sq.Drop(), leftover...)
	c.mu.Lock()
	for _, m := range dropped {
		c.table.Sent(m.txn, m.Header.Cmd)
	}
	c.mu.Unlock()
	for _, m := range dropped {
		m.Release()
	}
	_ = c.nc.Close()

	c.err = c.rq.Err()
	code := wire.CodeOf(c.err)
	if errors.Is(c.err, domain.ErrEOF) || errors.Is(c.err, domain.ErrConnClosed) {
		c.log.Info("link closed", "reason", c.err)
	} else {
		c.log.Warn("link failed", "error", c.err)
		c.cfg.Metrics.LinkError(domain.GetErrorCode(c.err))
	}

	for {
		m := c.nextTermination(code)
		if m == nil {
			break
		}
		t := m.txn
		c.cfg.Handler(c, m)
		m.Release()
		c.mu.Lock()
		c.table.ForceClose(t)
		c.mu.Unlock()
	}

	final := c.pool.Get(0, 0)
	final.Header = wire.Header{Magic: wire.Magic, Cmd: wire.LnkError, Error: code}
	final.Kind = wire.KindOf(wire.LnkError, false)
	final.terminal = true
	c.cfg.Handler(c, final)
	final.Release()

	close(c.done)
}

// nextTermination synthesizes the peer-side termination of the next open
// transaction, or returns nil when none remain. Transactions the peer has
// already closed are dropped without a message.
func (c *Conn) nextTermination(code uint32) *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		t := c.table.First()
		if t == nil {
			return nil
		}
		if t.rxcmd&wire.FlagDelete != 0 {
			c.table.ForceClose(t)
			continue
		}

		cmd := wire.LnkError | wire.FlagAbort | wire.FlagDelete
		if t.local {
			cmd |= wire.FlagReply
			if t.rxcmd&wire.FlagCreate == 0 {
				cmd |= wire.FlagCreate
			}
		}
		t.rxcmd |= cmd &^ wire.FlagDelete

		m := c.pool.Get(0, 0)
		m.Header = wire.Header{
			Magic:  wire.Magic,
			Cmd:    cmd,
			SpanID: t.spanID,
			MsgID:  t.msgID,
			Error:  code,
		}
		m.txn = t
		m.Kind = wire.KindOf(cmd, true)
		return m
	}
}
