package cluster

import "sync"

// NodeStats is the request accounting for one node (requests, failed
// requests, replica picks), the supplemented feature of SPEC_FULL.md
// §4.9. Connection reuse is not counted. It is a point-in-time
// snapshot returned by Client.Stats, not a live handle.
type NodeStats struct {
	Addr      string
	Requests  int64
	Errors    int64
	AsReplica int64
}

// statsRegistry accumulates NodeStats per address for the lifetime of a
// Client. Grounded on mna-redisc's pool-per-address bookkeeping
// (cluster.go's `pools map[string]*redis.Pool`), generalized from "one
// pool per address" to "one counter set per address" since request
// counting has no equivalent in the teacher.
type statsRegistry struct {
	mu    sync.Mutex
	nodes map[string]*NodeStats
}

func newStatsRegistry() *statsRegistry {
	return &statsRegistry{nodes: make(map[string]*NodeStats)}
}

func (r *statsRegistry) record(addr string, replica bool, ok bool) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.nodes[addr]
	if n == nil {
		n = &NodeStats{Addr: addr}
		r.nodes[addr] = n
	}
	n.Requests++
	if !ok {
		n.Errors++
	}
	if replica {
		n.AsReplica++
	}
}

// Stats returns a snapshot of per-node request/error/replica-pick
// counts accumulated since the Client was constructed.
func (cl *Client) Stats() []NodeStats {
	cl.stats.mu.Lock()
	defer cl.stats.mu.Unlock()
	out := make([]NodeStats, 0, len(cl.stats.nodes))
	for _, n := range cl.stats.nodes {
		out = append(out, *n)
	}
	return out
}
