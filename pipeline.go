package cluster

import (
	"context"

	"github.com/sirupsen/logrus"
)

// pipelineEntry is one queued request, keeping the key separately from
// cmd/args since the key alone drives slot routing -- grounded on
// SPEC_FULL.md §4.6's pipeline dispatcher.
type pipelineEntry struct {
	key  string
	cmd  string
	args []interface{}
}

// PendingPipeline batches commands for a single fan-out round-trip:
// commands addressed to the same node are grouped and sent together,
// and results are reassembled in submission order regardless of which
// node answered first. Grounded on SPEC_FULL.md §4.6; mna-redisc has no
// pipeline surface to draw from, so the per-node grouping and ordered
// reassembly are built directly from the spec's description of the
// "magic seed" shared-replica-pick rule.
type PendingPipeline struct {
	cl       *Client
	requests []pipelineEntry
}

// InitPipeline starts a new batch. The returned PendingPipeline is not
// safe for concurrent use by multiple goroutines.
func (cl *Client) InitPipeline() *PendingPipeline {
	return &PendingPipeline{cl: cl}
}

// Queue adds one command to the batch, keyed by key for slot routing.
func (p *PendingPipeline) Queue(key, cmd string, args ...interface{}) {
	p.requests = append(p.requests, pipelineEntry{key: key, cmd: cmd, args: args})
}

// Cancel discards every queued command without sending anything.
func (p *PendingPipeline) Cancel() {
	p.requests = nil
}

// nodeGroup collects the original indices of every request routed to
// the same Server, preserving submission order within the group.
type nodeGroup struct {
	server  Server
	indices []int
}

// Commit sends every queued command, grouped one round-trip per node,
// and returns replies in submission order. A slot with no known owner
// or a node that cannot be reached yields a per-entry error value at
// that index rather than failing the whole batch -- callers type-assert
// each element. At most one slot refresh is triggered per Commit
// (SPEC_FULL.md §4.6's "single-refresh-per-commit cap"), even if many
// entries land on absent slots.
func (p *PendingPipeline) Commit(ctx context.Context) ([]interface{}, error) {
	if len(p.requests) == 0 {
		return nil, newClusterError(ErrPipelineEmpty, "pipeline: commit called with no queued commands", nil)
	}
	cl := p.cl

	state, ok := getClusterState(cl.cfg.Name)
	if !ok {
		return nil, newClusterError(ErrSlotsAbsent, "pipeline: no slot table loaded", nil)
	}

	results := make([]interface{}, len(p.requests))
	groups := make(map[string]*nodeGroup)
	var order []string
	refreshed := false

	seed := pipelineSeed()

	for i, req := range p.requests {
		slot := Slot(req.key)
		rs := state.Slots[slot]
		if len(rs) == 0 {
			if !refreshed {
				refreshed = true
				cl.refreshSlotsAsync()
			}
			results[i] = newClusterError(ErrSlotsAbsent, "pipeline: slot has no known owner", nil)
			continue
		}

		srv, err := pickNode(rs, cl.cfg.EnableSlaveRead, &seed)
		if err != nil {
			results[i] = err
			continue
		}

		addr := serverAddr(srv)
		g := groups[addr]
		if g == nil {
			g = &nodeGroup{server: srv}
			groups[addr] = g
			order = append(order, addr)
		}
		g.indices = append(g.indices, i)
	}

	for _, addr := range order {
		g := groups[addr]
		cl.commitNodeGroup(ctx, g, p.requests, results, &refreshed)
	}

	p.requests = nil
	return results, nil
}

// pipelineSeed produces the single random value shared by every pick in
// one Commit call, so the whole batch consistently lands on the same
// replica-set position (master-only clusters are unaffected, since
// pickNode with EnableSlaveRead=false always returns index 0).
func pipelineSeed() uint64 {
	rnd.Lock()
	defer rnd.Unlock()
	return rnd.Uint64()
}

// commitNodeGroup sends every request in g as one redigo pipeline,
// reads back replies in order, and for any reply that itself carries a
// MOVED/ASK redirection, re-dispatches just that one entry through the
// Command Executor (which will follow the redirect to completion) rather
// than failing the whole node group. refreshedOnce enforces the
// single-refresh-per-commit cap across every node group in this Commit:
// a MOVED entry triggers at most one background refresh total, shared
// with Commit's own absent-slot case.
func (cl *Client) commitNodeGroup(ctx context.Context, g *nodeGroup, reqs []pipelineEntry, results []interface{}, refreshedOnce *bool) {
	conn := cl.connFactory(g.server.IP, g.server.Port)
	conn.SetTimeouts(cl.cfg.ConnectTimeout, cl.cfg.SendTimeout, cl.cfg.ReadTimeout)
	if err := conn.Connect(ctx, g.server.IP, g.server.Port); err != nil {
		cl.stats.record(serverAddr(g.server), g.server.IsReplica, false)
		pe := withAddr(newClusterError(ErrPipelineConnectFailed, "pipeline: connect failed", []error{err}), serverAddr(g.server))
		for _, idx := range g.indices {
			results[idx] = pe
		}
		return
	}
	closed := false
	defer func() {
		if closed {
			return
		}
		if err := conn.SetKeepalive(cl.cfg.KeepaliveTimeout, cl.cfg.KeepalivePoolSize); err != nil {
			cl.logWarn("keepalive_release_failed", err, logrus.Fields{"addr": serverAddr(g.server)})
		}
	}()

	if cl.cfg.AuthSecret != "" {
		if err := conn.Auth(cl.cfg.AuthSecret); err != nil {
			conn.Close()
			closed = true
			ae := newAuthError(err)
			for _, idx := range g.indices {
				results[idx] = ae
			}
			return
		}
	}
	if g.server.IsReplica && cl.cfg.EnableSlaveRead {
		if err := conn.Readonly(); err != nil {
			conn.Close()
			closed = true
			for _, idx := range g.indices {
				results[idx] = err
			}
			return
		}
	}

	conn.InitPipeline()
	for _, idx := range g.indices {
		r := reqs[idx]
		conn.PipelineDo(r.cmd, r.args...)
	}

	replies, err := conn.CommitPipeline()
	if err != nil {
		conn.Close()
		closed = true
		cl.stats.record(serverAddr(g.server), g.server.IsReplica, false)
		pe := withAddr(newClusterError(ErrPipelineCommitFailed, "pipeline: commit failed", []error{err}), serverAddr(g.server))
		for _, idx := range g.indices {
			results[idx] = pe
		}
		return
	}
	cl.stats.record(serverAddr(g.server), g.server.IsReplica, true)

	for n, idx := range g.indices {
		reply := replies[n]
		if re := ParseRedir(errorOf(reply)); re != nil {
			r := reqs[idx]
			if re.Type == redirMoved && !*refreshedOnce {
				*refreshedOnce = true
				cl.refreshSlotsAsync()
			}
			val, execErr := cl.executeRedirected(ctx, r.key, re, r.cmd, r.args...)
			if execErr != nil {
				results[idx] = execErr
			} else {
				results[idx] = val
			}
			continue
		}
		results[idx] = reply
	}
}
