// Package redistest provides test helpers that stand in for a Redis
// Cluster node: enough of the RESP wire protocol to drive the client's
// connect/AUTH/READONLY/ASKING handshakes and command dispatch, and to
// script MOVED, ASK and CLUSTERDOWN replies, without a real redis-server
// process.
package redistest

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/orelmaliach/resty-redis-cluster/redistest/resp"
	"github.com/stretchr/testify/require"
)

// FakeNode is a single simulated Redis Cluster node: a TCP listener
// that decodes RESP requests and hands each one to a handler function
// supplied by the test, recording every command it saw along the way
// so a test can assert on the handshake sequence (AUTH, READONLY,
// ASKING) a redirection drove the client through.
type FakeNode struct {
	Addr string

	done chan struct{}
	wg   sync.WaitGroup
	h    func(string, ...string) interface{}
	t    *testing.T
	l    net.Listener

	mu       sync.Mutex
	received []string
}

// StartFakeNode starts a FakeNode on a free local port. handler is
// invoked once per decoded command; its return value is RESP-encoded
// and sent back to the caller. The test must Close the node when done.
func StartFakeNode(t *testing.T, handler func(cmd string, args ...string) interface{}) *FakeNode {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err, "net.Listen")

	_, port, _ := net.SplitHostPort(l.Addr().String())
	n := &FakeNode{
		Addr: ":" + port,
		done: make(chan struct{}),
		h:    handler,
		t:    t,
		l:    l,
	}
	go n.serve()
	return n
}

// Received returns the name of every command this node has decoded so
// far, in arrival order -- useful for asserting that a redirected
// dispatch actually sent ASKING before the retried command, or that
// AUTH preceded everything else.
func (n *FakeNode) Received() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.received))
	copy(out, n.received)
	return out
}

// Close stops the node and waits for every in-flight connection to
// finish, failing the test if that takes more than a few seconds.
func (n *FakeNode) Close() {
	select {
	case <-n.done:
		return
	default:
	}

	require.NoError(n.t, n.l.Close(), "close fake node listener")
	<-n.done
	exit := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(exit)
	}()

	select {
	case <-exit:
		return
	case <-time.After(5 * time.Second):
		n.t.Fatal("failed to cleanly stop the fake node")
	}
}

func (n *FakeNode) serve() {
	defer close(n.done)
	for {
		conn, err := n.l.Accept()
		if err != nil {
			return
		}
		n.wg.Add(1)
		go n.serveConn(conn)
	}
}

func (n *FakeNode) serveConn(c net.Conn) {
	defer n.wg.Done()

	go func() {
		<-n.done
		c.Close()
	}()

	br := bufio.NewReader(c)
	for {
		args, err := resp.DecodeRequest(br)
		if err != nil {
			return
		}

		n.mu.Lock()
		n.received = append(n.received, args[0])
		n.mu.Unlock()

		v := n.h(args[0], args[1:]...)
		if err := resp.Encode(c, v); err != nil {
			panic(err)
		}
	}
}
