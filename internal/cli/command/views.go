package command

import (
	"fmt"
	"strconv"

	"github.com/yndnr/spanmesh-go/internal/cli/output"
	"github.com/yndnr/spanmesh-go/internal/server/httpserver/handler"
)

// The views embed API responses so that JSON and YAML output match the
// API while tables get a hand-picked layout.

type statusView struct{ *handler.StatusResponse }

func (v statusView) Table(wide bool) *output.Table {
	s := v.StatusResponse
	t := &output.Table{Headers: []string{"FIELD", "VALUE"}}
	t.AddRow("node", fmt.Sprintf("%s (%s)", dash(s.Node.Label), s.Node.ID))
	if s.Node.ClusterLabel != "" || wide {
		t.AddRow("cluster", fmt.Sprintf("%s (%s)", dash(s.Node.ClusterLabel), s.Node.ClusterID))
	}
	t.AddRow("peer_type", dash(s.Node.PeerType))
	t.AddRow("link_addr", dash(s.Node.LinkAddr))
	t.AddRow("version", dash(s.Build.Version))
	if wide {
		t.AddRow("commit", dash(s.Build.Commit))
		t.AddRow("go", dash(s.Build.GoVersion))
		t.AddRow("relay", fmt.Sprintf("k=%d max_distance=%d", s.Build.MaxRelays, s.Build.MaxSpanDist))
	}
	t.AddRow("uptime", dash(s.Uptime))
	t.AddRow("links", strconv.Itoa(s.Links))
	t.AddRow("clusters", strconv.Itoa(s.Clusters))
	t.AddRow("nodes", strconv.Itoa(s.Nodes))
	t.AddRow("paths", strconv.Itoa(s.Paths))
	t.AddRow("gossip_members", strconv.Itoa(s.GossipMembers))
	return t
}

type spansView struct{ *handler.SpansResponse }

func (v spansView) Table(wide bool) *output.Table {
	t := &output.Table{Headers: []string{"CLUSTER", "NODE", "LINK", "DIST", "VIA", "CONN"}}
	if wide {
		t.Headers = append(t.Headers, "RELAYS", "CLUSTER_ID", "NODE_ID")
	}
	for _, cl := range v.Clusters {
		for _, n := range cl.Nodes {
			for _, l := range n.Links {
				row := []string{dash(cl.Label), dash(n.Label), strconv.FormatUint(l.ID, 10),
					strconv.Itoa(int(l.Dist)), dash(l.Via), dash(l.Conn)}
				if wide {
					row = append(row, strconv.Itoa(l.Relays), cl.ID.String(), n.ID.String())
				}
				t.AddRow(row...)
			}
		}
	}
	return t
}

type connsView struct{ *handler.ConnsResponse }

func (v connsView) Table(wide bool) *output.Table {
	t := &output.Table{Headers: []string{"ID", "LABEL", "RX", "TX", "RELAYS", "SUBSCRIBED"}}
	if wide {
		t.Headers = append(t.Headers, "QUEUED", "CLOSED")
	}
	for _, c := range v.Conns {
		row := []string{c.ID, dash(c.Label), strconv.Itoa(c.Received), strconv.Itoa(c.Sent),
			strconv.Itoa(c.Relays), strconv.FormatBool(c.Subscribed)}
		if wide {
			row = append(row, strconv.Itoa(c.Queued), strconv.FormatBool(c.Closed))
		}
		t.AddRow(row...)
	}
	return t
}

type peersView struct{ *handler.PeersResponse }

func (v peersView) Table(bool) *output.Table {
	t := &output.Table{Headers: []string{"SOURCE", "LINK_ADDR", "NODE", "LABEL"}}
	for _, addr := range v.Dialed {
		t.AddRow("dialed", addr, "-", "-")
	}
	for _, p := range v.Gossip {
		t.AddRow("gossip", dash(p.LinkAddr), p.ID.String(), dash(p.Label))
	}
	return t
}

type pingView []handler.PingResponse

func (v pingView) Table(bool) *output.Table {
	t := &output.Table{Headers: []string{"SEQ", "CONN", "RTT"}}
	for i, p := range v {
		t.AddRow(strconv.Itoa(i+1), p.Conn, p.RTT)
	}
	return t
}

type routeView struct{ *handler.RouteResponse }

func (v routeView) Table(wide bool) *output.Table {
	t := &output.Table{Headers: []string{"NODE", "LINK", "DIST", "VIA", "CONN", "RTT"}}
	if wide {
		t.Headers = append(t.Headers, "RELAYS", "CLUSTER_ID")
	}
	p := v.Path
	row := []string{v.Node.String(), strconv.FormatUint(p.ID, 10), strconv.Itoa(int(p.Dist)),
		dash(p.Via), dash(p.Conn), dash(v.RTT)}
	if wide {
		row = append(row, strconv.Itoa(p.Relays), v.Cluster.String())
	}
	t.AddRow(row...)
	return t
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
