package span

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
	"github.com/yndnr/spanmesh-go/internal/iocom"
)

// LinkInfo describes one path to a node.
type LinkInfo struct {
	ID     uint64 `json:"id"`
	Dist   int32  `json:"dist"`
	Conn   string `json:"conn"`
	Via    string `json:"via"`
	Relays int    `json:"relays"`
}

// NodeInfo describes one node and its paths, best first.
type NodeInfo struct {
	ID    uuid.UUID  `json:"id"`
	Label string     `json:"label"`
	Links []LinkInfo `json:"links"`
}

// ClusterInfo describes one cluster.
type ClusterInfo struct {
	ID    uuid.UUID  `json:"id"`
	Label string     `json:"label"`
	Nodes []NodeInfo `json:"nodes"`
}

// ConnInfo describes one registered link.
type ConnInfo struct {
	iocom.Stats
	Relays     int  `json:"relays"`
	Subscribed bool `json:"subscribed"`
}

// Tree returns a snapshot of the topology ordered by label and id.
func (r *Registry) Tree() []ClusterInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ClusterInfo, 0, len(r.clusters))
	for _, cl := range r.clusters {
		ci := ClusterInfo{ID: cl.ID, Label: cl.Label}
		for _, n := range cl.nodes {
			ni := NodeInfo{ID: n.ID, Label: n.Label}
			n.links.Ascend(func(l *Link) bool {
				ni.Links = append(ni.Links, linkInfo(l))
				return true
			})
			ci.Nodes = append(ci.Nodes, ni)
		}
		sort.Slice(ci.Nodes, func(i, j int) bool {
			return less(ci.Nodes[i].Label, ci.Nodes[j].Label, ci.Nodes[i].ID, ci.Nodes[j].ID)
		})
		out = append(out, ci)
	}
	sort.Slice(out, func(i, j int) bool {
		return less(out[i].Label, out[j].Label, out[i].ID, out[j].ID)
	})
	return out
}

func less(la, lb string, ia, ib uuid.UUID) bool {
	if la != lb {
		return la < lb
	}
	return bytes.Compare(ia[:], ib[:]) < 0
}

// Conns returns a snapshot of every registered link.
func (r *Registry) Conns() []ConnInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ConnInfo, 0, len(r.relay.conns))
	for c, cs := range r.relay.conns {
		info := ConnInfo{Stats: c.Stats(), Subscribed: cs.filter != nil}
		for _, tree := range cs.relays {
			info.Relays += tree.Len()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Conn returns the registered link with the given id.
func (r *Registry) Conn(id string) (*iocom.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.relay.conns {
		if c.ID() == id {
			return c, nil
		}
	}
	return nil, domain.ErrNotFound.WithDetails("link " + id)
}

// Route returns the path to forward traffic for a node on. Among the
// links sharing the best distance, key selects one so that a given key
// keeps using the same path.
func (r *Registry) Route(clusterID, nodeID uuid.UUID, key []byte) (*Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.routeLocked(clusterID, nodeID, key)
}

func (r *Registry) routeLocked(clusterID, nodeID uuid.UUID, key []byte) (*Link, error) {
	node := r.lookupLocked(clusterID, nodeID)
	if node == nil {
		return nil, domain.ErrNotFound.WithDetails("node " + nodeID.String())
	}
	var best []*Link
	node.links.Ascend(func(l *Link) bool {
		if len(best) > 0 && l.dist != best[0].dist {
			return false
		}
		best = append(best, l)
		return true
	})
	if len(best) == 0 {
		return nil, domain.ErrNotFound.WithDetails("no path to node " + nodeID.String())
	}
	i := murmur3.Sum64(key) % uint64(len(best))
	return best[i], nil
}

// RouteInfo describes the path Route picks.
func (r *Registry) RouteInfo(clusterID, nodeID uuid.UUID, key []byte) (LinkInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, err := r.routeLocked(clusterID, nodeID, key)
	if err != nil {
		return LinkInfo{}, err
	}
	return linkInfo(l), nil
}

func linkInfo(l *Link) LinkInfo {
	c := l.Conn()
	return LinkInfo{
		ID:     l.id,
		Dist:   l.dist,
		Conn:   c.ID(),
		Via:    c.Label(),
		Relays: len(l.relays),
	}
}
