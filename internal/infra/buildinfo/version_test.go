package buildinfo

import (
	"runtime"
	"strings"
	"testing"

	"github.com/yndnr/spanmesh-go/internal/wire"
)

func TestGet(t *testing.T) {
	info := Get(2, 16)

	if info.Version == "" || info.Commit == "" || info.BuildTime == "" {
		t.Errorf("Get() = %+v, want defaults filled", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	if info.SpanProtocol != wire.SpanProtoVersion {
		t.Errorf("SpanProtocol = %d, want %d", info.SpanProtocol, wire.SpanProtoVersion)
	}
	if info.MaxRelays != 2 || info.MaxSpanDist != 16 {
		t.Errorf("relay parameters = %d/%d", info.MaxRelays, info.MaxSpanDist)
	}
}

func TestString(t *testing.T) {
	old := Version
	Version = "v0.3.0"
	defer func() { Version = old }()

	s := String()
	if !strings.HasPrefix(s, "v0.3.0 (") || !strings.Contains(s, "built at") {
		t.Errorf("String() = %q", s)
	}
}
