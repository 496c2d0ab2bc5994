package iocom

import (
	"errors"
	"testing"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
	"github.com/yndnr/spanmesh-go/internal/wire"
)

func hdr(cmd wire.Cmd, spanID, msgID uint64) *wire.Header {
	return &wire.Header{Cmd: cmd, SpanID: spanID, MsgID: msgID}
}

func TestTransactionRemoteLifecycle(t *testing.T) {
	tt := NewTransactionTable(nil)
	var open int
	tt.onChange = func(d int) { open += d }

	txn, err := tt.Receive(hdr(wire.LnkSpan|wire.FlagCreate, 0, 5))
	if err != nil || txn == nil {
		t.Fatalf("Receive(CREATE) = %v, %v", txn, err)
	}
	if txn.Local() {
		t.Error("remote transaction reported as local")
	}
	if txn.Command() != wire.LnkSpan {
		t.Errorf("Command() = %v, want LNK_SPAN", txn.Command())
	}
	tt.Received(txn, wire.LnkSpan|wire.FlagCreate)

	// Streaming update on the open transaction.
	if got, err := tt.Receive(hdr(wire.LnkSpan, 0, 5)); err != nil || got != txn {
		t.Fatalf("Receive(stream) = %v, %v", got, err)
	}

	// First reply carries REPLY|CREATE.
	out := hdr(wire.LnkError|wire.FlagDelete, 0, 0)
	if err := tt.Prepare(txn, out); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	want := wire.LnkError | wire.FlagDelete | wire.FlagReply | wire.FlagCreate
	if out.Cmd != want || out.MsgID != 5 {
		t.Fatalf("Prepare() cmd=%v msgid=%d, want %v msgid=5", out.Cmd, out.MsgID, want)
	}
	if removed := tt.Sent(txn, out.Cmd); removed {
		t.Fatal("Sent() removed a transaction the peer has not closed")
	}
	if err := tt.Prepare(txn, hdr(wire.LnkError, 0, 0)); !errors.Is(err, domain.ErrTransactionClosed) {
		t.Fatalf("Prepare() after DELETE error = %v, want ErrTransactionClosed", err)
	}

	got, err := tt.Receive(hdr(wire.LnkSpan|wire.FlagDelete, 0, 5))
	if err != nil || got != txn {
		t.Fatalf("Receive(DELETE) = %v, %v", got, err)
	}
	if removed := tt.Received(txn, wire.LnkSpan|wire.FlagDelete); !removed {
		t.Fatal("Received() did not remove a transaction closed in both directions")
	}
	if rx, tx := tt.Len(); rx != 0 || tx != 0 {
		t.Fatalf("Len() = %d, %d, want empty", rx, tx)
	}

	// Bookkeeping is idempotent once removed.
	tt.Sent(txn, wire.FlagDelete)
	tt.Received(txn, wire.FlagDelete)
	tt.ForceClose(txn)
	if open != 0 {
		t.Fatalf("open transaction gauge = %d, want 0", open)
	}
}

func TestTransactionLocalLifecycle(t *testing.T) {
	tt := NewTransactionTable(nil)

	txn, err := tt.Open(nil, 1, wire.LnkSpan)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := tt.Open(nil, 1, wire.LnkSpan); !errors.Is(err, domain.ErrTransaction) {
		t.Fatalf("Open() duplicate error = %v, want ErrTransaction", err)
	}

	out := hdr(wire.LnkSpan, 0, 0)
	if err := tt.Prepare(txn, out); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if out.Cmd != wire.LnkSpan|wire.FlagCreate {
		t.Fatalf("Prepare() cmd = %v, want LNK_SPAN|C", out.Cmd)
	}
	tt.Sent(txn, out.Cmd)

	// Streaming reply before REPLY|CREATE is still accepted.
	if got, err := tt.Receive(hdr(wire.LnkError|wire.FlagReply, 0, 1)); err != nil || got != txn {
		t.Fatalf("Receive(stream reply) = %v, %v", got, err)
	}
	// A stale DELETE before any CREATE reply is a protocol error.
	if _, err := tt.Receive(hdr(wire.LnkError|wire.FlagReply|wire.FlagDelete, 0, 1)); !errors.Is(err, domain.ErrTransaction) {
		t.Fatalf("Receive(REPLY|DELETE) error = %v, want ErrTransaction", err)
	}

	reply := hdr(wire.LnkError|wire.FlagReply|wire.FlagCreate|wire.FlagDelete, 0, 1)
	got, err := tt.Receive(reply)
	if err != nil || got != txn {
		t.Fatalf("Receive(REPLY|CREATE|DELETE) = %v, %v", got, err)
	}
	if removed := tt.Received(txn, reply.Cmd); removed {
		t.Fatal("Received() removed a transaction this end has not closed")
	}

	out = hdr(wire.LnkError|wire.FlagDelete, 0, 0)
	if err := tt.Prepare(txn, out); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if out.Cmd&wire.FlagReply != 0 {
		t.Error("local transaction message carries REPLY")
	}
	if removed := tt.Sent(txn, out.Cmd); !removed {
		t.Fatal("Sent() did not remove a transaction closed in both directions")
	}
	if tt.Lookup(true, 0, 1) != nil {
		t.Fatal("Lookup() found a removed transaction")
	}
}

func TestTransactionReceiveErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(tt *TransactionTable)
		cmd   wire.Cmd
		want  error
	}{
		{
			name:  "duplicate create",
			setup: func(tt *TransactionTable) { _, _ = tt.Receive(hdr(wire.LnkSpan|wire.FlagCreate, 0, 1)) },
			cmd:   wire.LnkSpan | wire.FlagCreate,
			want:  domain.ErrTransaction,
		},
		{
			name: "delete unknown",
			cmd:  wire.LnkSpan | wire.FlagDelete,
			want: domain.ErrTransaction,
		},
		{
			name: "abort unknown",
			cmd:  wire.LnkError | wire.FlagDelete | wire.FlagAbort,
			want: domain.ErrAlreadyTerminated,
		},
		{
			name: "reply unknown",
			cmd:  wire.LnkError | wire.FlagReply | wire.FlagCreate,
			want: domain.ErrTransaction,
		},
		{
			name: "streaming abort unknown",
			cmd:  wire.LnkSpan | wire.FlagAbort,
			want: domain.ErrAlreadyTerminated,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tt := NewTransactionTable(nil)
			if tc.setup != nil {
				tc.setup(tt)
			}
			_, err := tt.Receive(hdr(tc.cmd, 0, 1))
			if !errors.Is(err, tc.want) {
				t.Fatalf("Receive(%v) error = %v, want %v", tc.cmd, err, tc.want)
			}
		})
	}
}

func TestTransactionOneWay(t *testing.T) {
	tt := NewTransactionTable(nil)
	got, err := tt.Receive(hdr(wire.LnkPing, 0, 0))
	if err != nil || got != nil {
		t.Fatalf("Receive(one-way) = %v, %v; want nil, nil", got, err)
	}
	if rx, tx := tt.Len(); rx != 0 || tx != 0 {
		t.Fatalf("Len() = %d, %d, want empty", rx, tx)
	}
}

func TestTransactionSingleMessage(t *testing.T) {
	tt := NewTransactionTable(nil)
	cmd := wire.LnkPing | wire.FlagCreate | wire.FlagDelete
	txn, err := tt.Receive(hdr(cmd, 0, 3))
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	tt.Received(txn, cmd)

	out := hdr(wire.LnkError|wire.FlagDelete, 0, 0)
	if err := tt.Prepare(txn, out); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if !tt.Sent(txn, out.Cmd) {
		t.Fatal("Sent() did not remove single-message transaction")
	}
}

func TestTransactionFirstOrder(t *testing.T) {
	tt := NewTransactionTable(nil)
	if _, err := tt.Open(nil, 1, wire.LnkSpan); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for _, id := range []uint64{9, 4} {
		if _, err := tt.Receive(hdr(wire.LnkSpan|wire.FlagCreate, 0, id)); err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
	}

	var order []uint64
	for txn := tt.First(); txn != nil; txn = tt.First() {
		order = append(order, txn.MsgID())
		tt.ForceClose(txn)
	}
	want := []uint64{4, 9, 1}
	if len(order) != len(want) {
		t.Fatalf("drained %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("drained %v, want %v", order, want)
		}
	}
}

func TestTransactionCircuits(t *testing.T) {
	tt := NewTransactionTable(nil)
	parent, err := tt.Open(nil, 7, wire.LnkSpan)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	sub, err := tt.Receive(hdr(wire.LnkPing|wire.FlagCreate, 7, 1))
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if sub.Parent() != parent || sub.SpanID() != 7 {
		t.Fatalf("sub parent = %v span = %d, want parent 7", sub.Parent(), sub.SpanID())
	}

	own, err := tt.Open(sub, 2, wire.LnkPing)
	if err != nil {
		t.Fatalf("Open(sub) error = %v", err)
	}
	if own.SpanID() != sub.MsgID() || own.Parent() != sub {
		t.Errorf("Open(sub) span = %d, want %d", own.SpanID(), sub.MsgID())
	}
	if tt.Lookup(true, 1, 2) != own {
		t.Error("circuit transaction not indexed by (span, msg)")
	}

	tests := []struct {
		name    string
		cmd     wire.Cmd
		wantErr error
	}{
		{"unknown circuit", wire.LnkPing | wire.FlagCreate, domain.ErrTransaction},
		{"aborted on unknown circuit", wire.LnkPing | wire.FlagCreate | wire.FlagAbort, domain.ErrAlreadyTerminated},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tt.Receive(hdr(tc.cmd, 99, 3)); !errors.Is(err, tc.wantErr) {
				t.Fatalf("Receive() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}
