package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// SlotTable maps each of the 16384 hash slots to the ReplicaSet that owns
// it. A slot with no ReplicaSet (nil/empty) has no cached topology for
// it -- lookups surface SlotsAbsent.
type SlotTable [hashSlots]ReplicaSet

// ServerList is every Server appearing in any ReplicaSet of a SlotTable,
// duplicates permitted. Bootstrap tries its addresses before the
// configured seeds.
type ServerList []Server

// ClusterState is the process-wide, per-cluster-name slot cache described
// in SPEC_FULL.md §3: a SlotTable and the ServerList describing the same
// topology snapshot. Swapped wholesale (never mutated in place) so
// concurrent readers never observe a half-updated table.
type ClusterState struct {
	Slots   *SlotTable
	Servers ServerList
}

// stateRegistry is the process-wide `cluster_name -> *ClusterState` map,
// grounded on mna-redisc/cluster.go's single in-process `mapping` field,
// generalized to be keyed by cluster name since this module supports
// multiple named clusters per process (SPEC_FULL.md §9 "per-cluster
// process-wide state").
var stateRegistry = struct {
	mu     sync.RWMutex
	states map[string]*ClusterState
}{states: make(map[string]*ClusterState)}

func getClusterState(name string) (*ClusterState, bool) {
	stateRegistry.mu.RLock()
	defer stateRegistry.mu.RUnlock()
	s, ok := stateRegistry.states[name]
	return s, ok
}

func setClusterState(name string, s *ClusterState) {
	stateRegistry.mu.Lock()
	stateRegistry.states[name] = s
	stateRegistry.mu.Unlock()
}

// topologyEntry is one "[start, end, [ip,port,nodeid], ...]" entry of a
// CLUSTER SLOTS reply, and of its JSON persistence in the slots-info
// dict (SPEC_FULL.md §6). Custom (Un)MarshalJSON keep the wire shape
// exactly as Redis returns it, so decode(encode(topology)) round-trips.
type topologyEntry struct {
	Start int
	End   int
	Nodes []topologyNode
}

type topologyNode struct {
	IP     string
	Port   int
	NodeID string
}

func (n topologyNode) MarshalJSON() ([]byte, error) {
	if n.NodeID == "" {
		return json.Marshal([]interface{}{n.IP, n.Port})
	}
	return json.Marshal([]interface{}{n.IP, n.Port, n.NodeID})
}

func (n *topologyNode) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return fmt.Errorf("cluster: malformed topology node: %s", data)
	}
	if err := json.Unmarshal(raw[0], &n.IP); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &n.Port); err != nil {
		return err
	}
	if len(raw) >= 3 {
		_ = json.Unmarshal(raw[2], &n.NodeID)
	}
	return nil
}

func (e topologyEntry) MarshalJSON() ([]byte, error) {
	out := make([]interface{}, 0, 2+len(e.Nodes))
	out = append(out, e.Start, e.End)
	for _, n := range e.Nodes {
		out = append(out, n)
	}
	return json.Marshal(out)
}

func (e *topologyEntry) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 3 {
		return fmt.Errorf("cluster: malformed topology entry: %s", data)
	}
	if err := json.Unmarshal(raw[0], &e.Start); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &e.End); err != nil {
		return err
	}
	e.Nodes = make([]topologyNode, 0, len(raw)-2)
	for _, nr := range raw[2:] {
		var n topologyNode
		if err := json.Unmarshal(nr, &n); err != nil {
			return err
		}
		e.Nodes = append(e.Nodes, n)
	}
	return nil
}

type topology []topologyEntry

// buildSlotTable realizes SPEC_FULL.md §4.2's "topology parsing": one
// ReplicaSet per entry (index 0 = master), assigned to every slot in
// [start, end], with every server also appended to the ServerList.
func buildSlotTable(topo topology) (*SlotTable, ServerList) {
	var table SlotTable
	var servers ServerList

	for _, entry := range topo {
		rs := make(ReplicaSet, len(entry.Nodes))
		for i, n := range entry.Nodes {
			s := Server{IP: n.IP, Port: n.Port, IsReplica: i > 0}
			rs[i] = s
			servers = append(servers, s)
		}
		for slot := entry.Start; slot <= entry.End && slot < hashSlots; slot++ {
			table[slot] = rs
		}
	}
	return &table, servers
}

// parseClusterSlotsReply turns the raw CLUSTER SLOTS reply (as decoded by
// a Conn.Do call) into a topology, mirroring the nested-array walk in
// mna-redisc/cluster.go's getClusterSlots (there done with
// redis.Scan; here done by hand since Conn is not necessarily redigo).
func parseClusterSlotsReply(reply interface{}) (topology, error) {
	rows, ok := reply.([]interface{})
	if !ok {
		return nil, newClusterError(ErrBootstrapFailed, "slots: CLUSTER SLOTS reply is not an array", nil)
	}

	topo := make(topology, 0, len(rows))
	for _, row := range rows {
		fields, ok := row.([]interface{})
		if !ok || len(fields) < 3 {
			return nil, newClusterError(ErrBootstrapFailed, "slots: malformed CLUSTER SLOTS entry", nil)
		}
		start, err := toInt(fields[0])
		if err != nil {
			return nil, err
		}
		end, err := toInt(fields[1])
		if err != nil {
			return nil, err
		}

		nodes := make([]topologyNode, 0, len(fields)-2)
		for _, nf := range fields[2:] {
			parts, ok := nf.([]interface{})
			if !ok || len(parts) < 2 {
				return nil, newClusterError(ErrBootstrapFailed, "slots: malformed CLUSTER SLOTS node", nil)
			}
			ip, err := toString(parts[0])
			if err != nil {
				return nil, err
			}
			port, err := toInt(parts[1])
			if err != nil {
				return nil, err
			}
			var nodeID string
			if len(parts) >= 3 {
				nodeID, _ = toString(parts[2])
			}
			nodes = append(nodes, topologyNode{IP: ip, Port: port, NodeID: nodeID})
		}
		topo = append(topo, topologyEntry{Start: start, End: end, Nodes: nodes})
	}
	return topo, nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case int:
		return n, nil
	case []byte:
		var i int
		_, err := fmt.Sscanf(string(n), "%d", &i)
		return i, err
	default:
		return 0, newClusterError(ErrBootstrapFailed, "slots: expected integer field", nil)
	}
}

func toString(v interface{}) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return "", newClusterError(ErrBootstrapFailed, "slots: expected string field", nil)
	}
}

// initSlots is idempotent: if this cluster's state already exists, it
// returns immediately. Otherwise it serializes bootstrap behind the
// blocking init lock, re-checks under the lock, tries the memory-cached
// topology first, and falls back to a live fetch. SPEC_FULL.md §4.2.
func (cl *Client) initSlots(ctx context.Context) error {
	if _, ok := getClusterState(cl.cfg.Name); ok {
		return nil
	}

	lock := cl.locker.NewLock(cl.cfg.slotLockDictName(), cl.cfg.initLockTimeout())
	if _, err := lock.Lock(cl.cfg.Name); err != nil {
		return newClusterError(ErrBootstrapFailed, "slots: failed to acquire init lock", []error{err})
	}
	defer lock.Unlock(cl.cfg.Name)

	if _, ok := getClusterState(cl.cfg.Name); ok {
		return nil
	}

	if cl.tryLoadSlotsFromMemoryCache() {
		return nil
	}

	return cl.fetchSlots(ctx)
}

// fetchSlots realizes SPEC_FULL.md §4.2's fetchSlots: try the cached
// ServerList (if any) before the configured seeds, connect-with-retry to
// each in turn, and install the first successful topology. Per
// DESIGN.md's resolution of the spec's documented Open Question, "no
// topology obtained from any host" is always BootstrapFailed, even if
// the per-host error list happens to be empty.
func (cl *Client) fetchSlots(ctx context.Context) error {
	candidates := cl.bootstrapCandidates()

	var causes []error
	deadline := cl.cfg.MaxConnectionTimeout
	start := time.Now()

	for _, addr := range candidates {
		if deadline > 0 && time.Since(start) > deadline {
			break
		}

		topo, err := cl.fetchSlotsFrom(ctx, addr, deadline, start)
		if err != nil {
			if isAuthError(err) {
				return newClusterError(ErrBootstrapFailed, "slots: auth failed on "+addr.String(), []error{err})
			}
			causes = append(causes, fmt.Errorf("%s: %w", addr, err))
			continue
		}

		table, servers := buildSlotTable(topo)
		setClusterState(cl.cfg.Name, &ClusterState{Slots: table, Servers: servers})
		cl.tryCacheSlotsInfoToMemory(topo)
		return nil
	}

	return newClusterError(ErrBootstrapFailed, "slots: no topology obtained from any seed", causes)
}

// bootstrapCandidates combines the currently cached ServerList (cached
// addresses first) with the configured seeds (appended), per
// SPEC_FULL.md §4.2.
func (cl *Client) bootstrapCandidates() []Server {
	var out []Server
	seen := make(map[string]bool)

	if st, ok := getClusterState(cl.cfg.Name); ok {
		for _, s := range st.Servers {
			key := fmt.Sprintf("%s:%d", s.IP, s.Port)
			if !seen[key] {
				seen[key] = true
				out = append(out, s)
			}
		}
	}
	for _, seed := range cl.cfg.Seeds {
		key := fmt.Sprintf("%s:%d", seed.IP, seed.Port)
		if !seen[key] {
			seen[key] = true
			out = append(out, Server{IP: seed.IP, Port: seed.Port})
		}
	}
	return out
}

// fetchSlotsFrom dials addr with up to MaxConnectionAttempts retries,
// bounded by the remaining wall-clock budget, authenticates, and issues
// CLUSTER SLOTS.
func (cl *Client) fetchSlotsFrom(ctx context.Context, addr Server, totalBudget time.Duration, bootstrapStart time.Time) (topology, error) {
	var lastErr error
	attempts := cl.cfg.effectiveMaxConnectionAttempts()

	for attempt := 0; attempt < attempts; attempt++ {
		if totalBudget > 0 && time.Since(bootstrapStart) > totalBudget {
			if lastErr == nil {
				lastErr = newClusterError(ErrConnectFailed, "slots: max_connection_timeout exceeded", nil)
			}
			return nil, lastErr
		}

		conn := cl.connFactory(addr.IP, addr.Port)
		conn.SetTimeouts(cl.cfg.ConnectTimeout, cl.cfg.SendTimeout, cl.cfg.ReadTimeout)
		if err := conn.Connect(ctx, addr.IP, addr.Port); err != nil {
			lastErr = err
			continue
		}

		if cl.cfg.AuthSecret != "" {
			if err := conn.Auth(cl.cfg.AuthSecret); err != nil {
				conn.Close()
				return nil, newAuthError(err)
			}
		}

		reply, err := conn.Do("CLUSTER", "SLOTS")
		if err != nil {
			conn.Close()
			lastErr = err
			continue
		}

		topo, err := parseClusterSlotsReply(reply)
		if err != nil {
			conn.Close()
			return nil, err
		}
		conn.SetKeepalive(cl.cfg.KeepaliveTimeout, cl.cfg.KeepalivePoolSize)
		return topo, nil
	}
	return nil, lastErr
}

// refreshSlots realizes SPEC_FULL.md §4.2's non-blocking refresh: at most
// one refresh per worker proceeds at a time; a concurrent caller gets
// ErrRefreshRacing immediately instead of waiting.
func (cl *Client) refreshSlots(ctx context.Context) error {
	lock := cl.locker.NewLock(cl.cfg.refreshLockKeyName(), 0)
	if _, err := lock.Lock(cl.cfg.WorkerID); err != nil {
		return newClusterError(ErrRefreshRacing, "slots: refresh already in progress for this worker", []error{err})
	}
	defer lock.Unlock(cl.cfg.WorkerID)

	return cl.fetchSlots(ctx)
}

// refreshSlotsAsync fires refreshSlots on its own goroutine and logs the
// outcome, matching mna-redisc/cluster.go's needsRefresh firing `go
// c.refresh()` -- callers in the executor/pipeline paths must not block
// the in-flight command on a refresh.
func (cl *Client) refreshSlotsAsync() {
	go func() {
		if err := cl.refreshSlots(context.Background()); err != nil {
			if _, racing := err.(*ClusterError); !racing || err.(*ClusterError).Kind != ErrRefreshRacing {
				cl.cfg.logger().WithError(err).Warn("cluster: background slot refresh failed")
			}
		}
	}()
}

// tryLoadSlotsFromMemoryCache reads the JSON-encoded topology from the
// slots-info dict and installs it. It returns false (never an error) on
// any failure -- this path is best effort per SPEC_FULL.md §9.
func (cl *Client) tryLoadSlotsFromMemoryCache() bool {
	if cl.dict == nil {
		return false
	}
	raw, ok, err := cl.dict.Get(cl.cfg.slotsInfoDictName())
	if err != nil || !ok || raw == "" {
		return false
	}

	var topo topology
	if err := json.Unmarshal([]byte(raw), &topo); err != nil {
		cl.cfg.logger().WithError(err).Warn("cluster: failed to decode cached slot topology")
		return false
	}

	table, servers := buildSlotTable(topo)
	setClusterState(cl.cfg.Name, &ClusterState{Slots: table, Servers: servers})
	return true
}

// tryCacheSlotsInfoToMemory JSON-encodes topo and stores it in the Dict
// under Config's slots-info dict name ("<Name>:slots-info" by default).
// Failures are logged, never returned -- SPEC_FULL.md §9.
func (cl *Client) tryCacheSlotsInfoToMemory(topo topology) {
	if cl.dict == nil {
		return
	}
	data, err := json.Marshal(topo)
	if err != nil {
		cl.cfg.logger().WithError(err).Warn("cluster: failed to encode slot topology for caching")
		return
	}
	if err := cl.dict.Set(cl.cfg.slotsInfoDictName(), string(data)); err != nil {
		cl.cfg.logger().WithError(err).Warn("cluster: failed to persist slot topology")
	}
}

func (c *Config) initLockTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout * time.Duration(c.effectiveMaxConnectionAttempts())
	}
	return 5 * time.Second
}
