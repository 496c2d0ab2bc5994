package clusterserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/memberlist"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type joins struct {
	mu    sync.Mutex
	peers map[uuid.UUID]Peer
	left  map[uuid.UUID]bool
}

func newJoins() *joins {
	return &joins{peers: make(map[uuid.UUID]Peer), left: make(map[uuid.UUID]bool)}
}

func (j *joins) join(p Peer) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.peers[p.ID] = p
}

func (j *joins) leave(p Peer) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.left[p.ID] = true
}

func (j *joins) get(id uuid.UUID) (Peer, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	p, ok := j.peers[id]
	return p, ok
}

func startAgent(t *testing.T, id uuid.UUID, link string, seeds []string, j *joins) *Discovery {
	t.Helper()
	d, err := NewDiscovery(DiscoveryConfig{
		NodeID:   id,
		Label:    "node-" + id.String()[:4],
		BindAddr: "127.0.0.1",
		BindPort: 0,
		LinkAddr: link,
		Seeds:    seeds,
		OnJoin:   j.join,
		OnLeave:  j.leave,
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewDiscovery() error = %v", err)
	}
	t.Cleanup(func() { _ = d.Shutdown() })
	return d
}

func TestNewDiscovery(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		id := uuid.New()
		d := startAgent(t, id, "127.0.0.1:5420", nil, newJoins())

		local := d.LocalNode()
		if local == nil {
			t.Fatal("expected non-nil local node")
		}
		if local.Name != id.String() {
			t.Errorf("local name = %q, want %q", local.Name, id)
		}
		var meta nodeMetadata
		if err := json.Unmarshal(local.Meta, &meta); err != nil {
			t.Fatalf("failed to unmarshal metadata: %v", err)
		}
		if meta.LinkAddr != "127.0.0.1:5420" || meta.Version != metaVersion {
			t.Errorf("metadata = %+v", meta)
		}
		if d.NumMembers() != 1 {
			t.Errorf("NumMembers() = %d, want 1", d.NumMembers())
		}
		if len(d.Members()) != 0 {
			t.Errorf("Members() = %v, want no remote members", d.Members())
		}
		if d.Addr() == "" {
			t.Error("Addr() is empty")
		}
	})

	t.Run("NilNodeID", func(t *testing.T) {
		if _, err := NewDiscovery(DiscoveryConfig{BindAddr: "127.0.0.1"}); err == nil {
			t.Fatal("NewDiscovery() without node id should fail")
		}
	})
}

func TestDiscoveryJoin(t *testing.T) {
	idA, idB := uuid.New(), uuid.New()
	ja, jb := newJoins(), newJoins()

	a := startAgent(t, idA, "127.0.0.1:6001", nil, ja)
	b := startAgent(t, idB, "127.0.0.1:6002", []string{a.Addr()}, jb)

	deadline := time.Now().Add(5 * time.Second)
	for {
		pa, okA := ja.get(idB)
		pb, okB := jb.get(idA)
		if okA && okB {
			if pa.LinkAddr != "127.0.0.1:6002" {
				t.Errorf("a learned link addr %q, want 127.0.0.1:6002", pa.LinkAddr)
			}
			if pb.LinkAddr != "127.0.0.1:6001" {
				t.Errorf("b learned link addr %q, want 127.0.0.1:6001", pb.LinkAddr)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for members to see each other")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := a.Members(); len(got) != 1 || got[0].ID != idB {
		t.Errorf("a.Members() = %+v, want only b", got)
	}
	if b.NumMembers() != 2 {
		t.Errorf("b.NumMembers() = %d, want 2", b.NumMembers())
	}

	if err := b.Leave(); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	deadline = time.Now().Add(5 * time.Second)
	for {
		ja.mu.Lock()
		left := ja.left[idB]
		ja.mu.Unlock()
		if left {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for leave")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEventDelegate(t *testing.T) {
	local := uuid.New()
	j := newJoins()
	d := &Discovery{
		cfg:    DiscoveryConfig{NodeID: local, OnJoin: j.join, OnLeave: j.leave},
		config: &memberlist.Config{Name: local.String()},
		logger: quietLogger(),
	}
	e := &eventDelegate{discovery: d}

	meta := func(v int, addr string) []byte {
		b, _ := json.Marshal(nodeMetadata{Version: v, LinkAddr: addr})
		return b
	}
	remote := uuid.New()
	tests := []struct {
		name   string
		node   *memberlist.Node
		joined bool
	}{
		{name: "self", node: &memberlist.Node{Name: local.String(), Meta: meta(metaVersion, "x:1")}},
		{name: "not a uuid", node: &memberlist.Node{Name: "mock-node", Meta: meta(metaVersion, "x:1")}},
		{name: "no metadata", node: &memberlist.Node{Name: uuid.NewString()}},
		{name: "wrong version", node: &memberlist.Node{Name: uuid.NewString(), Meta: meta(metaVersion+1, "x:1")}},
		{name: "no link addr", node: &memberlist.Node{Name: uuid.NewString(), Meta: meta(metaVersion, "")}},
		{
			name:   "remote",
			node:   &memberlist.Node{Name: remote.String(), Addr: []byte{127, 0, 0, 1}, Port: 8000, Meta: meta(metaVersion, "127.0.0.1:9000")},
			joined: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e.NotifyJoin(tt.node)
			id, _ := uuid.Parse(tt.node.Name)
			_, ok := j.get(id)
			if ok != tt.joined {
				t.Fatalf("joined = %v, want %v", ok, tt.joined)
			}
		})
	}

	p, _ := j.get(remote)
	if p.GossipAddr != "127.0.0.1:8000" || p.LinkAddr != "127.0.0.1:9000" {
		t.Errorf("peer = %+v", p)
	}

	e.NotifyLeave(&memberlist.Node{Name: remote.String(), Addr: []byte{127, 0, 0, 1}, Port: 8000, Meta: meta(metaVersion, "127.0.0.1:9000")})
	if !j.left[remote] {
		t.Error("OnLeave was not called")
	}
}

func TestShouldDial(t *testing.T) {
	low := uuid.MustParse("00000000-0000-4000-8000-000000000001")
	high := uuid.MustParse("ffffffff-0000-4000-8000-000000000001")

	if !ShouldDial(low, high) {
		t.Error("lower id should dial")
	}
	if ShouldDial(high, low) {
		t.Error("higher id should not dial")
	}
	if ShouldDial(low, low) {
		t.Error("a node should not dial itself")
	}
}

func TestMetadataDelegate(t *testing.T) {
	delegate := &metadataDelegate{meta: []byte(`{"v":1}`)}
	if string(delegate.NodeMeta(512)) != `{"v":1}` {
		t.Errorf("NodeMeta() = %q", delegate.NodeMeta(512))
	}

	// Unused hooks must not panic.
	delegate.NotifyMsg(nil)
	if delegate.GetBroadcasts(0, 0) != nil || delegate.LocalState(false) != nil {
		t.Error("expected no broadcasts or state")
	}
	delegate.MergeRemoteState(nil, false)
}
