package cluster

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
)

// Client is the facade over the slot directory, the command executor
// and the pipeline dispatcher -- the single type application code
// constructs and calls. Grounded on mna-redisc's exported Cluster type,
// generalized from "one struct owning everything" to "a thin facade
// over the cooperating slots/executor/pipeline components" since those
// are now separable, independently testable pieces.
type Client struct {
	cfg         *Config
	connFactory ConnFactory
	dict        Dict
	locker      Locker
	stats       *statsRegistry
}

// New validates cfg, wires the default collaborators for anything left
// nil, bootstraps the slot table, and returns a ready-to-use Client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = newWorkerID()
	}

	cl := &Client{cfg: &cfg, stats: newStatsRegistry()}

	if cfg.ConnFactory != nil {
		cl.connFactory = cfg.ConnFactory
	} else {
		cl.connFactory = newDefaultConnFactory(cfg.DialOptions, cfg.KeepaliveTimeout, cfg.KeepalivePoolSize)
	}
	if cfg.Dict != nil {
		cl.dict = cfg.Dict
	} else {
		cl.dict = newMemoryDict()
	}
	if cfg.Locker != nil {
		cl.locker = cfg.Locker
	} else {
		cl.locker = newMemoryLocker()
	}

	if err := cl.initSlots(ctx); err != nil {
		return nil, err
	}
	cl.logInfo("cluster_ready", nil)
	return cl, nil
}

var workerCounter uint64

// newWorkerID generates a per-process-unique default WorkerID so two
// Clients constructed without one explicitly set still get independent
// refresh locks (SPEC_FULL.md §5).
func newWorkerID() string {
	n := atomic.AddUint64(&workerCounter, 1)
	return fmt.Sprintf("worker-%d-%d", os.Getpid(), n)
}

// Do dispatches a single command through the slot router and the
// Command Executor's retry/redirection state machine.
func (cl *Client) Do(ctx context.Context, cmd string, args ...interface{}) (interface{}, error) {
	return cl.dispatch(ctx, nil, cmd, args...)
}

// BoundClient pins every command to one specific node, the §4.8
// targeting facility supplementing the distilled spec. A bound command
// that receives MOVED does not follow the redirect -- the caller asked
// for this exact node, so the command is re-sent to that node until the
// MaxRedirection budget is spent and then surfaced as
// MaxRedirectionsExceeded.
type BoundClient struct {
	cl     *Client
	target Server
}

// Bind returns a BoundClient addressing ip:port directly, bypassing
// slot-based routing entirely.
func (cl *Client) Bind(ip string, port int) *BoundClient {
	return &BoundClient{cl: cl, target: Server{IP: ip, Port: port}}
}

// Do dispatches cmd against the bound node.
func (b *BoundClient) Do(ctx context.Context, cmd string, args ...interface{}) (interface{}, error) {
	return b.cl.dispatch(ctx, &b.target, cmd, args...)
}

// dispatch realizes SPEC_FULL.md §4.7's dynamic command handling:
// CONFIG/SHUTDOWN are rejected without any network I/O, FLUSHALL/FLUSHDB
// broadcast to every master, EVAL/EVALSHA are routed by their single key
// argument when numkeys is 0 or 1 (and rejected otherwise), and every
// other command is routed by its first argument.
func (cl *Client) dispatch(ctx context.Context, bound *Server, cmd string, args ...interface{}) (interface{}, error) {
	upper := strings.ToUpper(cmd)
	switch upper {
	case "CONFIG", "SHUTDOWN":
		return nil, newClusterError(ErrUnsupportedCommand, "client: "+upper+" is not supported by a cluster client", nil)
	case "FLUSHALL", "FLUSHDB":
		if bound != nil {
			return cl.execute(ctx, noKeySentinel, bound, cmd, args...)
		}
		return cl.broadcastToMasters(ctx, cmd, args...)
	case "EVAL", "EVALSHA":
		return cl.dispatchEval(ctx, bound, cmd, args...)
	}

	return cl.execute(ctx, commandKey(args), bound, cmd, args...)
}

func commandKey(args []interface{}) string {
	if len(args) == 0 {
		return noKeySentinel
	}
	if s, err := toString(args[0]); err == nil {
		return s
	}
	return noKeySentinel
}

// dispatchEval realizes the EVAL/EVALSHA shim: args must be
// (script_or_sha, numkeys, [key], ...). Only numkeys 0 or 1 are
// supported, per SPEC_FULL.md §4.7's carried-forward Non-goal on
// multi-key scripts (no single slot could safely own them).
func (cl *Client) dispatchEval(ctx context.Context, bound *Server, cmd string, args ...interface{}) (interface{}, error) {
	if len(args) < 2 {
		return nil, newClusterError(ErrUnsupportedCommand, "client: "+cmd+" requires a script and numkeys", nil)
	}
	numkeys, err := toInt(args[1])
	if err != nil || numkeys < 0 || numkeys > 1 {
		return nil, newClusterError(ErrUnsupportedCommand, "client: "+cmd+" only supports numkeys 0 or 1", nil)
	}

	key := noKeySentinel
	if numkeys == 1 {
		if len(args) < 3 {
			return nil, newClusterError(ErrUnsupportedCommand, "client: "+cmd+" declared numkeys=1 but supplied no key", nil)
		}
		k, err := toString(args[2])
		if err != nil {
			return nil, err
		}
		key = k
	}
	return cl.execute(ctx, key, bound, cmd, args...)
}

// broadcastToMasters sends cmd to every distinct master in the current
// slot table and aggregates any per-master failures, per SPEC_FULL.md
// §4.7's FLUSHALL/FLUSHDB handling.
func (cl *Client) broadcastToMasters(ctx context.Context, cmd string, args ...interface{}) (interface{}, error) {
	state, ok := getClusterState(cl.cfg.Name)
	if !ok {
		return nil, newClusterError(ErrSlotsAbsent, "client: no slot table loaded", nil)
	}

	masters := uniqueMasters(state.Slots)
	var causes []error
	for _, m := range masters {
		m := m
		if _, err := cl.execute(ctx, noKeySentinel, &m, cmd, args...); err != nil {
			causes = append(causes, fmt.Errorf("%s: %w", serverAddr(m), err))
		}
	}
	if len(causes) > 0 {
		return nil, newClusterError(ErrConnectFailed, "client: "+cmd+" failed on one or more masters", causes)
	}
	return "OK", nil
}

func uniqueMasters(table *SlotTable) []Server {
	seen := make(map[string]bool)
	var out []Server
	for _, rs := range table {
		if len(rs) == 0 {
			continue
		}
		m := rs[0]
		addr := serverAddr(m)
		if !seen[addr] {
			seen[addr] = true
			out = append(out, m)
		}
	}
	return out
}

// Refresh forces an immediate slot-table refresh, bypassing the normal
// MOVED-triggered path. Useful after an operator-driven resharding.
func (cl *Client) Refresh(ctx context.Context) error {
	return cl.refreshSlots(ctx)
}

// Close does nothing and always returns nil. The process-wide cluster
// state for this Client's Name stays installed, and the Client's pooled
// connections are not closed.
func (cl *Client) Close() error {
	return nil
}
