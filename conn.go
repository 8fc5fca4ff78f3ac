package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
)

// Conn is the per-operation "Redis client collaborator" contract named in
// SPEC_FULL.md §6. It models a single connection handle: Connect binds it
// to a node, the command/pipeline methods use it, and exactly one of
// SetKeepalive or Close must be called to release it. Implementations are
// not required to be safe for concurrent use -- a Conn is only ever used
// by the goroutine that obtained it.
type Conn interface {
	Connect(ctx context.Context, ip string, port int) error
	SetTimeouts(connect, send, read time.Duration)
	ReusedTimes() int
	Auth(secret string) error
	Readonly() error
	Asking() error
	Do(cmd string, args ...interface{}) (interface{}, error)
	InitPipeline()
	PipelineDo(cmd string, args ...interface{})
	CommitPipeline() ([]interface{}, error)
	SetKeepalive(timeout time.Duration, poolSize int) error
	Close() error
}

// ConnFactory creates a fresh, not-yet-connected Conn for the given
// address. The executor and pipeline dispatcher call Connect on the
// result.
type ConnFactory func(ip string, port int) Conn

// newDefaultConnFactory returns a ConnFactory backed by redigo, pooling
// connections per "ip:port" the same way mna-redisc's Cluster pools one
// *redis.Pool per node address. keepaliveTimeout/poolSize configure every
// node's pool up front, matching Config.KeepaliveTimeout/KeepalivePoolSize;
// Conn.SetKeepalive still exists per the §6 contract but, with this
// factory, only confirms the connection should return to (rather than be
// evicted from) the pool that was already sized at registry creation.
func newDefaultConnFactory(opts []redis.DialOption, keepaliveTimeout time.Duration, poolSize int) ConnFactory {
	reg := &poolRegistry{
		pools:             make(map[string]*redis.Pool),
		dialOps:           opts,
		keepaliveTimeout:  keepaliveTimeout,
		keepalivePoolSize: poolSize,
	}
	return func(ip string, port int) Conn {
		return &redigoConn{reg: reg, addr: fmt.Sprintf("%s:%d", ip, port)}
	}
}

// poolRegistry keeps one *redis.Pool per node address, created lazily and
// reused across connections, grounded on mna-redisc/cluster.go's
// `pools map[string]*redis.Pool` + getConnForAddr.
type poolRegistry struct {
	mu                sync.Mutex
	pools             map[string]*redis.Pool
	dialOps           []redis.DialOption
	keepaliveTimeout  time.Duration
	keepalivePoolSize int
}

func (r *poolRegistry) poolFor(addr string) *redis.Pool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p := r.pools[addr]; p != nil {
		return p
	}
	poolSize := r.keepalivePoolSize
	if poolSize <= 0 {
		poolSize = 16
	}
	p := &redis.Pool{
		MaxIdle:     poolSize,
		MaxActive:   poolSize,
		IdleTimeout: r.keepaliveTimeout,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr, r.dialOps...)
		},
		TestOnBorrow: func(c redis.Conn, _ time.Time) error {
			// Supplemented feature (SPEC_FULL.md §4.10): evict a pooled
			// connection that fails a cheap health check instead of
			// handing a dead socket to the caller.
			_, err := c.Do("PING")
			return err
		},
	}
	r.pools[addr] = p
	return p
}

// redigoConn is the default Conn implementation, wrapping a single
// redigo redis.Conn borrowed from (or, for Close, outside of) the shared
// poolRegistry.
type redigoConn struct {
	reg  *poolRegistry
	addr string

	conn redis.Conn
	pool *redis.Pool

	sendTimeout time.Duration
	readTimeout time.Duration

	keepAlive bool

	pipelineErr  error
	pendingCount int
}

func (c *redigoConn) Connect(ctx context.Context, ip string, port int) error {
	c.addr = fmt.Sprintf("%s:%d", ip, port)
	pool := c.reg.poolFor(c.addr)
	c.pool = pool

	conn, err := poolGetContext(ctx, pool)
	if err != nil {
		if err == redis.ErrPoolExhausted {
			return errPoolSaturation
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return fmt.Errorf("%w: %v", errConnectTimeout, err)
		}
		return err
	}
	c.conn = conn
	return nil
}

func poolGetContext(ctx context.Context, p *redis.Pool) (redis.Conn, error) {
	if ctx != nil {
		return p.GetContext(ctx)
	}
	conn := p.Get()
	return conn, conn.Err()
}

func (c *redigoConn) SetTimeouts(connect, send, read time.Duration) {
	// redigo applies per-call timeouts via DialOption at Dial time; once a
	// pooled connection exists we can only bound the next Do via
	// redis.DoWithTimeout, used in Do below.
	c.sendTimeout, c.readTimeout = send, read
}

func (c *redigoConn) ReusedTimes() int {
	if cw, ok := c.conn.(interface{ ReusedTimes() int }); ok {
		return cw.ReusedTimes()
	}
	return 0
}

func (c *redigoConn) Auth(secret string) error {
	if secret == "" {
		return nil
	}
	_, err := c.conn.Do("AUTH", secret)
	return err
}

func (c *redigoConn) Readonly() error {
	_, err := c.conn.Do("READONLY")
	return err
}

func (c *redigoConn) Asking() error {
	_, err := c.conn.Do("ASKING")
	return err
}

// Do issues cmd and returns its reply. A RESP error reply (including
// MOVED/ASK/CLUSTERDOWN) is returned as the interface{} value, not as
// the error return -- only a transport-level failure (dial drop, I/O
// timeout) is returned as err. This lets callers inspect a redirection
// without losing the rest of the reply shape, matching CommitPipeline's
// handling of per-entry errors below.
func (c *redigoConn) Do(cmd string, args ...interface{}) (interface{}, error) {
	var v interface{}
	var err error
	if c.readTimeout > 0 {
		v, err = redis.DoWithTimeout(c.conn, c.readTimeout, cmd, args...)
	} else {
		v, err = c.conn.Do(cmd, args...)
	}
	if err != nil {
		if _, ok := err.(redis.Error); ok {
			return err, nil
		}
		return nil, err
	}
	return v, nil
}

func (c *redigoConn) InitPipeline() {
	// redigo's Conn is already pipeline-capable via Send/Flush; nothing to
	// allocate up front.
}

func (c *redigoConn) PipelineDo(cmd string, args ...interface{}) {
	if c.pipelineErr != nil {
		return
	}
	if err := c.conn.Send(cmd, args...); err != nil {
		c.pipelineErr = err
		return
	}
	c.pendingCount++
}

func (c *redigoConn) CommitPipeline() ([]interface{}, error) {
	if c.pipelineErr != nil {
		return nil, c.pipelineErr
	}
	if err := c.conn.Flush(); err != nil {
		return nil, err
	}
	n := c.pendingCount
	replies := make([]interface{}, 0, n)
	for i := 0; i < n; i++ {
		v, err := c.conn.Receive()
		if err != nil {
			if _, ok := err.(redis.Error); !ok {
				return nil, err
			}
			v = err
		}
		replies = append(replies, v)
	}
	return replies, nil
}

func (c *redigoConn) SetKeepalive(timeout time.Duration, poolSize int) error {
	c.keepAlive = true
	if c.conn == nil {
		return nil
	}
	// Returning to the pool is simply closing this handle onto the pooled
	// connection; redigo's pool.Put happens inside redis.Conn.Close when
	// the conn came from a *redis.Pool.
	return c.conn.Close()
}

func (c *redigoConn) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
