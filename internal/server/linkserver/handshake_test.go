package linkserver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
	"github.com/yndnr/spanmesh-go/pkg/crypto/adaptive"
)

type handshakeResult struct {
	res Result
	err error
}

func runPair(t *testing.T, dialer, listener Handshake) (d, l handshakeResult) {
	t.Helper()
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := make(chan handshakeResult, 1)
	go func() {
		res, err := listener.Run(ctx, b, false)
		if err != nil {
			_ = b.Close()
		}
		ch <- handshakeResult{res, err}
	}()
	res, err := dialer.Run(ctx, a, true)
	if err != nil {
		_ = a.Close()
	}
	return handshakeResult{res, err}, <-ch
}

func TestHandshakeClear(t *testing.T) {
	da, la := uuid.New(), uuid.New()
	d, l := runPair(t,
		Handshake{NodeID: da, Timeout: time.Second},
		Handshake{NodeID: la, Timeout: time.Second},
	)
	if d.err != nil || l.err != nil {
		t.Fatalf("Run() errors = %v, %v", d.err, l.err)
	}
	if d.res.PeerID != la || l.res.PeerID != da {
		t.Errorf("peer ids = %v/%v", d.res.PeerID, l.res.PeerID)
	}
	if d.res.Filter != nil || l.res.Filter != nil {
		t.Error("clear link installed a filter")
	}
}

func TestHandshakeEncrypted(t *testing.T) {
	for _, typ := range []adaptive.CipherType{adaptive.CipherChaCha20, adaptive.CipherAESGCM} {
		t.Run(string(typ), func(t *testing.T) {
			key := []byte("smk_shared")
			d, l := runPair(t,
				Handshake{NodeID: uuid.New(), LinkKey: key, Cipher: typ, Timeout: time.Second},
				Handshake{NodeID: uuid.New(), LinkKey: key, Cipher: typ, Timeout: time.Second},
			)
			if d.err != nil || l.err != nil {
				t.Fatalf("Run() errors = %v, %v", d.err, l.err)
			}
			if d.res.Filter == nil || l.res.Filter == nil {
				t.Fatal("encrypted link without filter")
			}

			rec, err := d.res.Filter.Encrypt(nil, []byte("frame"))
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			n, _, err := l.res.Filter.Decrypt(rec)
			if err != nil || string(rec[:n]) != "frame" {
				t.Fatalf("Decrypt() = %q, %v", rec[:n], err)
			}
		})
	}
}

func TestHandshakeRejects(t *testing.T) {
	tests := []struct {
		name     string
		dialer   Handshake
		listener Handshake
	}{
		{
			name:     "key mismatch",
			dialer:   Handshake{LinkKey: []byte("one"), Cipher: adaptive.CipherChaCha20},
			listener: Handshake{LinkKey: []byte("two"), Cipher: adaptive.CipherChaCha20},
		},
		{
			name:     "encryption mismatch",
			dialer:   Handshake{LinkKey: []byte("one"), Cipher: adaptive.CipherChaCha20},
			listener: Handshake{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.dialer.Timeout, tt.listener.Timeout = time.Second, time.Second
			d, l := runPair(t, tt.dialer, tt.listener)
			if d.err == nil && l.err == nil {
				t.Fatal("handshake succeeded")
			}
			for _, err := range []error{d.err, l.err} {
				if err != nil && !errors.Is(err, domain.ErrHandshake) {
					t.Errorf("error = %v, want ErrHandshake", err)
				}
			}
		})
	}
}

func TestHandshakeGarbage(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		buf := make([]byte, helloSize)
		_, _ = b.Read(buf)
		junk := make([]byte, helloSize)
		copy(junk, "HTTP/1.1 400 Bad Request\r\n")
		_, _ = b.Write(junk)
	}()
	hs := Handshake{NodeID: uuid.New(), Timeout: time.Second}
	if _, err := hs.Run(context.Background(), a, true); !errors.Is(err, domain.ErrHandshake) {
		t.Fatalf("Run() error = %v, want ErrHandshake", err)
	}
}

func TestParseHello(t *testing.T) {
	h := hello{Version: helloVersion, Flags: flagCrypted, NodeID: uuid.New(), Salt: make([]byte, adaptive.SaltSize)}
	h.Salt[0] = 9
	got, err := parseHello(h.marshal())
	if err != nil {
		t.Fatalf("parseHello() error = %v", err)
	}
	if got.NodeID != h.NodeID || got.Flags != flagCrypted || got.Salt[0] != 9 {
		t.Errorf("parseHello() = %+v", got)
	}

	old := h
	old.Version = 9
	if _, err := parseHello(old.marshal()); err == nil {
		t.Error("parseHello() accepted an unknown version")
	}
	if _, err := parseHello(h.marshal()[:20]); err == nil {
		t.Error("parseHello() accepted a short hello")
	}
}
