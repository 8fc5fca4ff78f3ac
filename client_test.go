package cluster

import (
	"context"
	"testing"

	"github.com/orelmaliach/resty-redis-cluster/redistest"
)

func TestClientRejectsConfigAndShutdown(t *testing.T) {
	cl := newTestClient(t)
	for _, cmd := range []string{"CONFIG", "config", "SHUTDOWN"} {
		_, err := cl.Do(context.Background(), cmd, "GET", "maxmemory")
		ce, ok := err.(*ClusterError)
		if !ok || ce.Kind != ErrUnsupportedCommand {
			t.Fatalf("%s: expected ErrUnsupportedCommand, got %v", cmd, err)
		}
	}
}

func TestClientEvalRejectsMultiKey(t *testing.T) {
	cl := newTestClient(t)
	_, err := cl.Do(context.Background(), "EVAL", "return 1", 2, "k1", "k2")
	ce, ok := err.(*ClusterError)
	if !ok || ce.Kind != ErrUnsupportedCommand {
		t.Fatalf("expected ErrUnsupportedCommand for numkeys=2, got %v", err)
	}
}

func TestClientEvalZeroKeysRoutesWithoutAKey(t *testing.T) {
	srv := redistest.StartFakeNode(t, func(cmd string, args ...string) interface{} {
		if cmd == "EVAL" {
			return "eval-ok"
		}
		return nil
	})
	defer srv.Close()

	cl := newTestClient(t)
	ip, port := mockServerAddr(t, srv)
	installSingleMasterState(cl.cfg.Name, ip, port)

	v, err := cl.Do(context.Background(), "EVAL", "return 1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replyString(v) != "eval-ok" {
		t.Fatalf("got %v, want eval-ok", v)
	}
}

func TestClientEvalOneKeyRoutesByThatKey(t *testing.T) {
	srv := redistest.StartFakeNode(t, func(cmd string, args ...string) interface{} {
		return "eval-ok"
	})
	defer srv.Close()

	cl := newTestClient(t)
	ip, port := mockServerAddr(t, srv)
	installSingleMasterState(cl.cfg.Name, ip, port)

	v, err := cl.Do(context.Background(), "EVAL", "return 1", 1, "mykey")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replyString(v) != "eval-ok" {
		t.Fatalf("got %v, want eval-ok", v)
	}
}

func TestClientDoRoutesByFirstArg(t *testing.T) {
	srv := redistest.StartFakeNode(t, func(cmd string, args ...string) interface{} {
		if cmd == "GET" && args[0] == "order:1" {
			return "order-1-value"
		}
		return nil
	})
	defer srv.Close()

	cl := newTestClient(t)
	ip, port := mockServerAddr(t, srv)
	installSingleMasterState(cl.cfg.Name, ip, port)

	v, err := cl.Do(context.Background(), "GET", "order:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replyString(v) != "order-1-value" {
		t.Fatalf("got %v, want order-1-value", v)
	}
}

func TestClientFlushAllBroadcastsToEveryMaster(t *testing.T) {
	var callsA, callsB int
	srvA := redistest.StartFakeNode(t, func(cmd string, args ...string) interface{} {
		callsA++
		return "OK"
	})
	defer srvA.Close()
	srvB := redistest.StartFakeNode(t, func(cmd string, args ...string) interface{} {
		callsB++
		return "OK"
	})
	defer srvB.Close()

	cl := newTestClient(t)
	ipA, portA := mockServerAddr(t, srvA)
	ipB, portB := mockServerAddr(t, srvB)

	var table SlotTable
	rsA := ReplicaSet{{IP: ipA, Port: portA}}
	rsB := ReplicaSet{{IP: ipB, Port: portB}}
	table[0] = rsA
	table[1] = rsB
	for slot := 2; slot < hashSlots; slot++ {
		table[slot] = rsA
	}
	setClusterState(cl.cfg.Name, &ClusterState{Slots: &table, Servers: ServerList{rsA[0], rsB[0]}})

	v, err := cl.Do(context.Background(), "FLUSHALL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "OK" {
		t.Fatalf("got %v, want OK", v)
	}
	if callsA != 1 || callsB != 1 {
		t.Fatalf("expected exactly one FLUSHALL per master, got callsA=%d callsB=%d", callsA, callsB)
	}
}

func TestBoundClientTargetsExactNode(t *testing.T) {
	var pinnedCalls, otherCalls int
	pinned := redistest.StartFakeNode(t, func(cmd string, args ...string) interface{} {
		pinnedCalls++
		return "pinned"
	})
	defer pinned.Close()
	other := redistest.StartFakeNode(t, func(cmd string, args ...string) interface{} {
		otherCalls++
		return "other"
	})
	defer other.Close()

	cl := newTestClient(t)
	otherIP, otherPort := mockServerAddr(t, other)
	installSingleMasterState(cl.cfg.Name, otherIP, otherPort)

	pinnedIP, pinnedPort := mockServerAddr(t, pinned)
	bound := cl.Bind(pinnedIP, pinnedPort)

	v, err := bound.Do(context.Background(), "GET", "any-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replyString(v) != "pinned" {
		t.Fatalf("got %v, want pinned", v)
	}
	if pinnedCalls != 1 || otherCalls != 0 {
		t.Fatalf("expected only the bound node to be called, got pinnedCalls=%d otherCalls=%d", pinnedCalls, otherCalls)
	}
}

func TestStatsAccumulatesPerNode(t *testing.T) {
	srv := redistest.StartFakeNode(t, func(cmd string, args ...string) interface{} {
		return "ok"
	})
	defer srv.Close()

	cl := newTestClient(t)
	ip, port := mockServerAddr(t, srv)
	installSingleMasterState(cl.cfg.Name, ip, port)

	if _, err := cl.Do(context.Background(), "GET", "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cl.Do(context.Background(), "GET", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := cl.Stats()
	if len(stats) != 1 {
		t.Fatalf("expected stats for exactly one node, got %d", len(stats))
	}
	if stats[0].Requests != 2 || stats[0].Errors != 0 {
		t.Fatalf("unexpected stats: %+v", stats[0])
	}
}
