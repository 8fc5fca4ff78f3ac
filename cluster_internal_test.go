package cluster

import (
	"net"
	"testing"

	"github.com/orelmaliach/resty-redis-cluster/redistest"
)

// mockServerAddr splits a redistest.FakeNode's Addr (e.g. ":54321")
// into a dialable IP and port, since FakeNode listens on all
// interfaces but this package always dials a specific node IP.
func mockServerAddr(t *testing.T, s *redistest.FakeNode) (string, int) {
	t.Helper()
	_, portStr, err := net.SplitHostPort(s.Addr)
	if err != nil {
		t.Fatalf("split mock server addr: %v", err)
	}
	var port int
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}
	return "127.0.0.1", port
}

// newTestClient builds a Client wired to a fresh in-process ClusterState
// (keyed by t.Name(), so parallel/successive tests never collide in the
// process-wide registry) without going through bootstrap -- tests
// install whatever topology they need directly via setClusterState.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg := &Config{
		Name:            t.Name(),
		Seeds:           []Seed{{IP: "127.0.0.1", Port: 1}},
		MaxRedirection:  5,
		EnableSlaveRead: false,
	}
	cl := &Client{
		cfg:         cfg,
		connFactory: newDefaultConnFactory(nil, 0, 0),
		dict:        newMemoryDict(),
		locker:      newMemoryLocker(),
		stats:       newStatsRegistry(),
	}
	return cl
}

// installSingleMasterState points every slot at one master, enough for
// tests that only care about routing a handful of keys to one node.
func installSingleMasterState(name, ip string, port int) {
	rs := ReplicaSet{{IP: ip, Port: port}}
	var table SlotTable
	for i := range table {
		table[i] = rs
	}
	setClusterState(name, &ClusterState{Slots: &table, Servers: ServerList{rs[0]}})
}

// replyString turns a bulk-string reply, which redigo returns as []byte,
// into a string so it can be compared with a string literal. Any other
// value is returned unchanged.
func replyString(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

