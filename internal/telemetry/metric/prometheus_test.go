package metric

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if r.registry == nil {
		t.Error("registry field is nil")
	}
	if r.FramesTotal == nil || r.Relays == nil {
		t.Error("metrics not initialized")
	}
}

func TestGlobal(t *testing.T) {
	if Global() != Global() {
		t.Error("Global() should return the same instance")
	}
	body := scrape(t, Handler())
	if !strings.Contains(body, "go_goroutines") {
		t.Error("expected go_goroutines metric")
	}
	if !strings.Contains(body, "process_") {
		t.Error("expected process metrics")
	}
}

func TestLinkMetrics(t *testing.T) {
	r := NewRegistry()

	r.LinkUp("dial")
	r.LinkUp("accept")
	r.LinkDown()
	r.FrameIn(64)
	r.FrameIn(128)
	r.FrameOut(448)
	r.LinkError("SM-FRM-4005")
	r.AddTransactions(3)
	r.AddTransactions(-1)
	r.ProtocolError()

	body := scrape(t, r.Handler())
	for _, want := range []string{
		"spanmesh_link_active 1",
		`spanmesh_link_established_total{direction="dial"} 1`,
		`spanmesh_link_frames_total{direction="rx"} 2`,
		`spanmesh_link_bytes_total{direction="rx"} 192`,
		`spanmesh_link_bytes_total{direction="tx"} 448`,
		`spanmesh_link_errors_total{code="SM-FRM-4005"} 1`,
		"spanmesh_link_transactions_open 2",
		"spanmesh_link_protocol_errors_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s", want)
		}
	}
}

func TestTopologyMetrics(t *testing.T) {
	r := NewRegistry()
	r.SetTopology(1, 3, 5, 4)
	r.Resync()
	r.SetGossipMembers(2)

	body := scrape(t, r.Handler())
	for _, want := range []string{
		"spanmesh_span_clusters 1",
		"spanmesh_span_nodes 3",
		"spanmesh_span_links 5",
		"spanmesh_span_relays 4",
		"spanmesh_span_resyncs_total 1",
		"spanmesh_gossip_members 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s", want)
		}
	}
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	r.LinkUp("dial")
	r.FrameIn(1)
	r.SetTopology(1, 1, 1, 1)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil registry handler status = %d, want 404", rec.Code)
	}
}
