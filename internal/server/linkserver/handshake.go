package linkserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
	"github.com/yndnr/spanmesh-go/pkg/crypto/adaptive"
)

const (
	helloMagic   = "SPMH"
	helloVersion = 1
	helloSize    = 4 + 1 + 1 + 2 + 16 + adaptive.SaltSize

	flagCrypted = 1 << 0
)

var confirmText = []byte("spanmesh confirm")

// hello is the clear-text preamble each end sends.
type hello struct {
	Version uint8
	Flags   uint8
	NodeID  uuid.UUID
	Salt    []byte
}

func (h *hello) marshal() []byte {
	b := make([]byte, 0, helloSize)
	b = append(b, helloMagic...)
	b = append(b, h.Version, h.Flags, 0, 0)
	b = append(b, h.NodeID[:]...)
	return append(b, h.Salt...)
}

func parseHello(b []byte) (hello, error) {
	if len(b) != helloSize || string(b[:4]) != helloMagic {
		return hello{}, domain.ErrHandshake.WithDetails("not a spanmesh link")
	}
	h := hello{Version: b[4], Flags: b[5], Salt: append([]byte(nil), b[24:]...)}
	copy(h.NodeID[:], b[8:24])
	if h.Version != helloVersion {
		return hello{}, domain.ErrHandshake.WithDetails(fmt.Sprintf("unsupported version %d", h.Version))
	}
	return h, nil
}

// Handshake holds what both ends of a link need to agree on.
type Handshake struct {
	NodeID  uuid.UUID
	LinkKey []byte
	Cipher  adaptive.CipherType
	Timeout time.Duration
}

// Result is the outcome of a successful handshake.
type Result struct {
	PeerID uuid.UUID
	Filter *adaptive.RecordFilter // nil for a clear link
}

// Run performs the handshake on nc. dialer tells which end of the link
// this is; it fixes the salt order and the key of each direction.
func (hs *Handshake) Run(ctx context.Context, nc net.Conn, dialer bool) (Result, error) {
	if hs.Timeout > 0 {
		deadline := time.Now().Add(hs.Timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := nc.SetDeadline(deadline); err != nil {
			return Result{}, domain.ErrHandshake.WithCause(err)
		}
		defer nc.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = nc.SetDeadline(time.Now()) })
	defer stop()

	salt, err := adaptive.NewSalt()
	if err != nil {
		return Result{}, domain.ErrHandshake.WithCause(err)
	}
	ours := hello{Version: helloVersion, NodeID: hs.NodeID, Salt: salt}
	if len(hs.LinkKey) > 0 {
		ours.Flags |= flagCrypted
	}

	var raw []byte
	if err := exchange(ctx, nc, ours.marshal(), helloSize, &raw); err != nil {
		return Result{}, domain.ErrHandshake.WithCause(err)
	}
	theirs, err := parseHello(raw)
	if err != nil {
		return Result{}, err
	}
	if theirs.Flags&flagCrypted != ours.Flags&flagCrypted {
		return Result{}, domain.ErrHandshake.WithDetails("link encryption mismatch")
	}

	res := Result{PeerID: theirs.NodeID}
	if ours.Flags&flagCrypted == 0 {
		return res, nil
	}

	dialerSalt, listenerSalt := ours.Salt, theirs.Salt
	if !dialer {
		dialerSalt, listenerSalt = listenerSalt, dialerSalt
	}
	keys, err := adaptive.DeriveLinkKeys(hs.LinkKey, dialerSalt, listenerSalt)
	if err != nil {
		return Result{}, domain.ErrHandshake.WithCause(err)
	}
	send, recv := keys.DialerToListener, keys.ListenerToDialer
	if !dialer {
		send, recv = recv, send
	}
	f, err := adaptive.NewRecordFilter(hs.Cipher, send, recv)
	if err != nil {
		return Result{}, domain.ErrHandshake.WithCause(err)
	}

	// Both ends seal a fixed record; opening the peer's proves it holds
	// the same key.
	confirm, err := f.Encrypt(nil, confirmText)
	if err != nil {
		return Result{}, domain.ErrHandshake.WithCause(err)
	}
	var peer []byte
	if err := exchange(ctx, nc, confirm, len(confirm), &peer); err != nil {
		return Result{}, domain.ErrHandshake.WithCause(err)
	}
	n, _, err := f.Decrypt(peer)
	if err != nil || !bytes.Equal(peer[:n], confirmText) {
		return Result{}, domain.ErrHandshake.WithDetails("link key mismatch")
	}
	res.Filter = f
	return res, nil
}

// exchange writes out while reading exactly n bytes into *in. The write
// runs concurrently so that unbuffered transports do not deadlock.
func exchange(ctx context.Context, nc net.Conn, out []byte, n int, in *[]byte) error {
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := nc.Write(out)
		return err
	})
	g.Go(func() error {
		buf := make([]byte, n)
		if _, err := io.ReadFull(nc, buf); err != nil {
			return err
		}
		*in = buf
		return nil
	})
	return g.Wait()
}
