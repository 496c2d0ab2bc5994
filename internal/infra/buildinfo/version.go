package buildinfo

import (
	"fmt"
	"runtime"

	"github.com/yndnr/spanmesh-go/internal/wire"
)

// Build-time variables (set via ldflags).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info contains build information.
type Info struct {
	Version      string `json:"version"`
	Commit       string `json:"commit"`
	BuildTime    string `json:"build_time"`
	GoVersion    string `json:"go_version"`
	SpanProtocol uint16 `json:"span_protocol"`
	MaxRelays    int    `json:"max_relays"`
	MaxSpanDist  int    `json:"max_span_distance"`
}

// Get returns the build information. maxRelays and maxDist are the relay
// parameters the binary was built with.
func Get(maxRelays, maxDist int) Info {
	return Info{
		Version:      Version,
		Commit:       Commit,
		BuildTime:    BuildTime,
		GoVersion:    runtime.Version(),
		SpanProtocol: wire.SpanProtoVersion,
		MaxRelays:    maxRelays,
		MaxSpanDist:  maxDist,
	}
}

// String returns a formatted version string.
func String() string {
	return fmt.Sprintf("%s (%s) built at %s with %s", Version, Commit, BuildTime, runtime.Version())
}
