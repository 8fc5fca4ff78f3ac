package cluster

import (
	"context"
	"testing"

	"github.com/orelmaliach/resty-redis-cluster/redistest"
)

func TestExecuteSimpleSuccess(t *testing.T) {
	srv := redistest.StartFakeNode(t, func(cmd string, args ...string) interface{} {
		if cmd == "GET" && len(args) == 1 && args[0] == "foo" {
			return "bar"
		}
		return nil
	})
	defer srv.Close()

	cl := newTestClient(t)
	ip, port := mockServerAddr(t, srv)
	installSingleMasterState(cl.cfg.Name, ip, port)

	v, err := cl.execute(context.Background(), "foo", nil, "GET", "foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replyString(v) != "bar" {
		t.Fatalf("got %v, want %q", v, "bar")
	}
}

func TestExecuteFollowsMoved(t *testing.T) {
	newSrv := redistest.StartFakeNode(t, func(cmd string, args ...string) interface{} {
		return "OK"
	})
	defer newSrv.Close()
	newIP, newPort := mockServerAddr(t, newSrv)

	var calls int
	oldSrv := redistest.StartFakeNode(t, func(cmd string, args ...string) interface{} {
		// Count only the command under test: the background refresh a
		// MOVED triggers also sends PING and CLUSTER SLOTS to this node.
		if cmd == "SET" {
			calls++
		}
		return redistest.MovedReply(newIP, newPort)
	})
	defer oldSrv.Close()

	cl := newTestClient(t)
	oldIP, oldPort := mockServerAddr(t, oldSrv)
	installSingleMasterState(cl.cfg.Name, oldIP, oldPort)

	v, err := cl.execute(context.Background(), "foo", nil, "SET", "foo", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replyString(v) != "OK" {
		t.Fatalf("got %v, want OK", v)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one SET sent to the stale node, got %d", calls)
	}
}

func TestExecuteClusterDownFatal(t *testing.T) {
	srv := redistest.StartFakeNode(t, func(cmd string, args ...string) interface{} {
		return redistest.ClusterDownReply()
	})
	defer srv.Close()

	cl := newTestClient(t)
	ip, port := mockServerAddr(t, srv)
	installSingleMasterState(cl.cfg.Name, ip, port)

	_, err := cl.execute(context.Background(), "foo", nil, "GET", "foo")
	ce, ok := err.(*ClusterError)
	if !ok || ce.Kind != ErrClusterDown {
		t.Fatalf("expected ErrClusterDown, got %v", err)
	}
}

func TestExecuteNestedAskIsFatal(t *testing.T) {
	var srv *redistest.FakeNode
	srv = redistest.StartFakeNode(t, func(cmd string, args ...string) interface{} {
		if cmd == "ASKING" {
			return "OK"
		}
		ip, port := mockServerAddr(t, srv)
		return redistest.AskReply(ip, port)
	})
	defer srv.Close()

	cl := newTestClient(t)
	ip, port := mockServerAddr(t, srv)
	installSingleMasterState(cl.cfg.Name, ip, port)

	_, err := cl.execute(context.Background(), "foo", nil, "GET", "foo")
	ce, ok := err.(*ClusterError)
	if !ok || ce.Kind != ErrNestedAsk {
		t.Fatalf("expected ErrNestedAsk, got %v", err)
	}
}

func TestExecuteSlotsAbsentTriggersRefresh(t *testing.T) {
	cl := newTestClient(t)
	var table SlotTable
	setClusterState(cl.cfg.Name, &ClusterState{Slots: &table, Servers: nil})

	_, err := cl.execute(context.Background(), "foo", nil, "GET", "foo")
	ce, ok := err.(*ClusterError)
	if !ok || ce.Kind != ErrSlotsAbsent {
		t.Fatalf("expected ErrSlotsAbsent, got %v", err)
	}
}
