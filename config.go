package cluster

import (
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/sirupsen/logrus"
)

// defaultMaxRedirection is the number of MOVED/ASK hops a single command
// retry loop is allowed to follow before giving up. An explicit 0 in
// Config is treated the same as leaving the field unset.
const defaultMaxRedirection = 5

// defaultMaxConnectionAttempts is how many times a single seed is dialed
// during bootstrap before moving on to the next seed.
const defaultMaxConnectionAttempts = 3

// Seed identifies one of the cluster's startup nodes.
type Seed struct {
	IP   string
	Port int
}

// Config is the immutable configuration of a Client. It must not be
// mutated after the Client is constructed.
type Config struct {
	// Name identifies this cluster. It keys the process-wide ClusterState
	// registry, the slot-lock dict entries and the slots-info dict entry,
	// so two Clients sharing a Name share slot-table state.
	Name string

	// Seeds is the list of nodes to try when bootstrapping or when no
	// cached topology is available. At least one is required.
	Seeds []Seed

	// AuthSecret, if non-empty, is sent via AUTH on every new connection.
	AuthSecret string

	// ConnectTimeout, SendTimeout and ReadTimeout are passed to
	// Conn.SetTimeouts on every connection. The default redigo-backed Conn
	// applies only ReadTimeout, and only to Conn.Do; it does not apply
	// ConnectTimeout or SendTimeout.
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	ReadTimeout    time.Duration

	// KeepaliveTimeout and KeepalivePoolSize bound the per-(ip,port)
	// connection cache.
	KeepaliveTimeout  time.Duration
	KeepalivePoolSize int

	// MaxRedirection bounds the number of MOVED/ASK hops a single command
	// follows before returning MaxRedirectionsExceeded. 0 means "use the
	// default" (5), same as leaving it unset.
	MaxRedirection int

	// MaxConnectionAttempts bounds dial attempts per seed during bootstrap.
	// 0 means "use the default" (3).
	MaxConnectionAttempts int

	// MaxConnectionTimeout bounds the total wall-clock time the bootstrap
	// loop may spend across all seeds and attempts. 0 means no bound.
	MaxConnectionTimeout time.Duration

	// EnableSlaveRead allows the node picker to return replica addresses.
	// When false, every pick returns the master.
	EnableSlaveRead bool

	// SlotLockDictName, SlotsInfoDictName and RefreshLockKeyName name the
	// keys used in the shared Dict/Locker collaborators. They default to
	// "<Name>:slot-locks", "<Name>:slots-info" and "<Name>:refresh" when
	// left empty.
	SlotLockDictName  string
	SlotsInfoDictName string
	RefreshLockKeyName string

	// WorkerID scopes the non-blocking refresh lock. Two Clients with the
	// same Name but different WorkerID each get their own refresh lock, so
	// a refresh storm within one worker is serialized without workers
	// waiting on each other (see SPEC_FULL.md §5). Defaults to an id made
	// from the process id and a per-process counter, generated once at
	// construction when left empty.
	WorkerID string

	// DialOptions are passed through to the default Conn implementation's
	// redigo dialer. Ignored when ConnFactory is set.
	DialOptions []redis.DialOption

	// ConnFactory creates a Conn for a given address. When nil, the
	// default redigo-backed implementation is used.
	ConnFactory func(ip string, port int) Conn

	// Dict is the shared, cross-worker key/value store holding the
	// persisted slot topology. The init and refresh locks go through
	// Locker, not Dict. When nil, an in-process implementation is used (no
	// sharing across processes).
	Dict Dict

	// Locker is the cross-worker lock primitive. When nil, an in-process
	// implementation is used.
	Locker Locker

	// Logger receives structured operational events. When nil, a
	// default logrus.Logger at Info level is used.
	Logger *logrus.Logger
}

func (c *Config) effectiveMaxRedirection() int {
	if c.MaxRedirection <= 0 {
		return defaultMaxRedirection
	}
	return c.MaxRedirection
}

func (c *Config) effectiveMaxConnectionAttempts() int {
	if c.MaxConnectionAttempts <= 0 {
		return defaultMaxConnectionAttempts
	}
	return c.MaxConnectionAttempts
}

func (c *Config) slotLockDictName() string {
	if c.SlotLockDictName != "" {
		return c.SlotLockDictName
	}
	return c.Name + ":slot-locks"
}

func (c *Config) slotsInfoDictName() string {
	if c.SlotsInfoDictName != "" {
		return c.SlotsInfoDictName
	}
	return c.Name + ":slots-info"
}

func (c *Config) refreshLockKeyName() string {
	if c.RefreshLockKeyName != "" {
		return c.RefreshLockKeyName
	}
	return c.Name + ":refresh"
}

func (c *Config) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return l
}

func (c *Config) validate() error {
	if c.Name == "" {
		return newClusterError(ErrConfigInvalid, "config: name is required", nil)
	}
	if len(c.Seeds) == 0 {
		return newClusterError(ErrConfigInvalid, "config: at least one seed is required", nil)
	}
	return nil
}
