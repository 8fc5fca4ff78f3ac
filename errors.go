package cluster

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies the errors surfaced to callers, per SPEC_FULL.md §7.
type ErrorKind int

const (
	// ErrConfigInvalid means the Config failed validation (missing Name or
	// empty Seeds). Never retried.
	ErrConfigInvalid ErrorKind = iota
	// ErrBootstrapFailed means every seed was unreachable, authless, or
	// failed the topology query. Carries the aggregated per-seed causes.
	ErrBootstrapFailed
	// ErrSlotsAbsent means the slot has no replica set in the cache. A
	// refresh is fired before this is returned.
	ErrSlotsAbsent
	// ErrAuthFailed means the AUTH command returned an error.
	ErrAuthFailed
	// ErrConnectFailed means dialing a node failed. Transient unless it is
	// pool saturation or a timeout (see isPoolSaturationOrTimeout).
	ErrConnectFailed
	// ErrClusterDown means a reply carried the CLUSTERDOWN prefix.
	ErrClusterDown
	// ErrNestedAsk means the server replied ASK again while already
	// following an ASK redirection.
	ErrNestedAsk
	// ErrUnsupportedCommand means the command is CONFIG, SHUTDOWN, or a
	// multi-key EVAL.
	ErrUnsupportedCommand
	// ErrMaxRedirectionsExceeded means the retry budget was exhausted.
	ErrMaxRedirectionsExceeded
	// ErrPipelineEmpty means PendingPipeline.Commit was called with no
	// queued requests.
	ErrPipelineEmpty
	// ErrPipelineConnectFailed means a per-node pipeline connection could
	// not be established.
	ErrPipelineConnectFailed
	// ErrPipelineCommitFailed means a per-node pipeline commit failed.
	ErrPipelineCommitFailed
	// ErrRefreshRacing means a non-blocking refresh lock acquisition lost
	// the race to a concurrent refresh on the same worker.
	ErrRefreshRacing
)

func (k ErrorKind) String() string {
	switch k {
	case ErrConfigInvalid:
		return "ConfigInvalid"
	case ErrBootstrapFailed:
		return "BootstrapFailed"
	case ErrSlotsAbsent:
		return "SlotsAbsent"
	case ErrAuthFailed:
		return "AuthFailed"
	case ErrConnectFailed:
		return "ConnectFailed"
	case ErrClusterDown:
		return "ClusterDown"
	case ErrNestedAsk:
		return "NestedAsk"
	case ErrUnsupportedCommand:
		return "UnsupportedCommand"
	case ErrMaxRedirectionsExceeded:
		return "MaxRedirectionsExceeded"
	case ErrPipelineEmpty:
		return "PipelineEmpty"
	case ErrPipelineConnectFailed:
		return "PipelineConnectFailed"
	case ErrPipelineCommitFailed:
		return "PipelineCommitFailed"
	case ErrRefreshRacing:
		return "RefreshRacing"
	default:
		return "Unknown"
	}
}

// ClusterError is the error type this package returns for its own
// failures. Use errors.As to recover it and inspect Kind. A generic Redis
// error reply (not a redirection and not CLUSTERDOWN) is returned as the
// reply's own error value instead.
type ClusterError struct {
	Kind    ErrorKind
	Message string
	Addr    string // ip:port, set for per-node executor and pipeline errors
	causes  []error
}

func newClusterError(kind ErrorKind, msg string, causes []error) *ClusterError {
	return &ClusterError{Kind: kind, Message: msg, causes: causes}
}

func (e *ClusterError) Error() string {
	var b strings.Builder
	b.WriteString("cluster: ")
	b.WriteString(e.Message)
	if e.Addr != "" {
		fmt.Fprintf(&b, " (addr=%s)", e.Addr)
	}
	if len(e.causes) > 0 {
		b.WriteString(": ")
		parts := make([]string, len(e.causes))
		for i, c := range e.causes {
			parts[i] = c.Error()
		}
		b.WriteString(strings.Join(parts, "; "))
	}
	return b.String()
}

// Unwrap exposes the first aggregated cause, if any, so errors.Is chains
// through to connection-level sentinel errors.
func (e *ClusterError) Unwrap() error {
	if len(e.causes) > 0 {
		return e.causes[0]
	}
	return nil
}

// Errors returns every aggregated cause (e.g. one per failed seed during
// bootstrap).
func (e *ClusterError) Errors() []error {
	return e.causes
}

func withAddr(err *ClusterError, addr string) *ClusterError {
	err.Addr = addr
	return err
}

// errPoolSaturation and errConnectTimeout are the two ConnectFailed causes
// that must never trigger a refresh (§4.5 step 3, §7 policy): they signal
// local pool exhaustion or a timeout, not that the remote node is wrong
// about owning the slot.
var (
	errPoolSaturation = errors.New("cluster: too many waiting connect operations")
	errConnectTimeout = errors.New("cluster: timeout")
)

// isPoolSaturationOrTimeout reports whether err is one of the two
// connection failures that must not trigger a slot refresh.
func isPoolSaturationOrTimeout(err error) bool {
	return errors.Is(err, errPoolSaturation) || errors.Is(err, errConnectTimeout)
}

// clusterDownPrefix is the reply prefix signaling a fatal cluster-wide
// failure (§4.5 step 9, §4.6 step 4).
const clusterDownPrefix = "CLUSTERDOWN"

func isClusterDown(s string) bool {
	return strings.HasPrefix(s, clusterDownPrefix)
}

// errAuthSentinel marks an error as having come from an AUTH command,
// so bootstrap can tell "bad password" apart from a transient dial
// failure and fail fast instead of trying the remaining seeds.
var errAuthSentinel = errors.New("cluster: AUTH failed")

func newAuthError(cause error) *ClusterError {
	return newClusterError(ErrAuthFailed, "auth: AUTH command rejected", []error{errAuthSentinel, cause})
}

func isAuthError(err error) bool {
	return errors.Is(err, errAuthSentinel)
}
