package cluster

import (
	"context"

	"github.com/sirupsen/logrus"
)

// redirState tracks where a single command's retry loop currently is:
// whether it is mid-ASK (and so must send ASKING before the real
// command, and must treat a second ASK as fatal), and how many
// redirections/retries have been spent so far.
type redirState struct {
	target       *Server
	needAsking   bool // send ASKING before the command on the next dispatch
	askFollowed  bool // an ASK redirect has already been followed this call
	redirects    int
	triedRefresh bool
}

// execute runs the retry/redirection state machine of SPEC_FULL.md §4.5
// for a single command. bound, when non-nil, pins the command to a
// specific node (the Bind facility of §4.8): a bound command that gets
// MOVED still fails with MaxRedirectionsExceeded rather than following
// the redirect, since the caller asked for that exact node.
func (cl *Client) execute(ctx context.Context, key string, bound *Server, cmd string, args ...interface{}) (interface{}, error) {
	return cl.run(ctx, key, &redirState{target: bound}, bound, cmd, args...)
}

// executeRedirected runs the same state machine starting from an
// already-known MOVED/ASK target, rather than a fresh slot lookup --
// used by the pipeline dispatcher (SPEC_FULL.md §4.6 step 5) to
// reassemble a single redirected entry through the Command Executor.
// An ASK-type re primes the ASKING handshake; a MOVED-type re does not.
// Unlike a Bind'd execute, further redirects during this call are
// followed normally (there is no bound node to reset back to).
func (cl *Client) executeRedirected(ctx context.Context, key string, re *RedirError, cmd string, args ...interface{}) (interface{}, error) {
	st := &redirState{target: &Server{IP: re.IP, Port: re.Port}}
	if re.Type == redirAsk {
		st.needAsking = true
		st.askFollowed = true
	}
	return cl.run(ctx, key, st, nil, cmd, args...)
}

// run is the shared retry loop behind execute and executeRedirected.
func (cl *Client) run(ctx context.Context, key string, st *redirState, bound *Server, cmd string, args ...interface{}) (interface{}, error) {
	maxRedir := cl.cfg.effectiveMaxRedirection()

	for {
		if st.redirects > maxRedir {
			return nil, newClusterError(ErrMaxRedirectionsExceeded, "executor: max_redirection exceeded for "+cmd, nil)
		}

		target, replicaPick, err := cl.resolveTarget(key, st)
		if err != nil {
			return nil, err
		}

		reply, err := cl.dispatchOnce(ctx, target, replicaPick, st, cmd, args...)
		if err != nil {
			cl.stats.record(serverAddr(target), replicaPick, false)
			// An already-typed error (e.g. an AUTH rejection) carries its
			// own Kind -- preserve it rather than folding it into
			// ConnectFailed.
			if ce, ok := err.(*ClusterError); ok {
				return nil, withAddr(ce, serverAddr(target))
			}
			if isPoolSaturationOrTimeout(err) {
				return nil, withAddr(newClusterError(ErrConnectFailed, "executor: connect failed for "+cmd, []error{err}), serverAddr(target))
			}
			// A transport failure that isn't local pool exhaustion may
			// mean the node is gone or the topology moved under us:
			// refresh in the background and retry within the
			// redirection budget rather than failing immediately
			// (SPEC_FULL.md §4.5 step 3).
			cl.refreshSlotsAsync()
			st.redirects++
			if st.redirects > maxRedir {
				return nil, withAddr(newClusterError(ErrConnectFailed, "executor: request failed for "+cmd, []error{err}), serverAddr(target))
			}
			if bound != nil {
				st.target = bound
			}
			continue
		}

		val, done, err := cl.handleReply(reply, st)
		if err != nil {
			return nil, err
		}
		if done {
			return val, nil
		}
		// a redirection updated st.target / st.needAsking; loop and retry.
		if bound != nil {
			st.target = bound
		}
	}
}

func serverAddr(s Server) string {
	return s.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}

// resolveTarget picks the node for this attempt: the state's override if
// one was set by a previous MOVED/ASK (or connect-failure retry), the
// caller's bound target, or a fresh slot lookup + pick.
func (cl *Client) resolveTarget(key string, st *redirState) (Server, bool, error) {
	if st.target != nil {
		return *st.target, false, nil
	}

	state, ok := getClusterState(cl.cfg.Name)
	if !ok {
		return Server{}, false, newClusterError(ErrSlotsAbsent, "executor: no slot table loaded", nil)
	}

	slot := Slot(key)
	rs := state.Slots[slot]
	if len(rs) == 0 {
		if !st.triedRefresh {
			st.triedRefresh = true
			cl.refreshSlotsAsync()
		}
		return Server{}, false, newClusterError(ErrSlotsAbsent, "executor: slot has no known owner", nil)
	}

	srv, err := pickNode(rs, cl.cfg.EnableSlaveRead, nil)
	if err != nil {
		return Server{}, false, err
	}
	return srv, srv.IsReplica, nil
}

// dispatchOnce connects to target, performs the READONLY/ASKING
// handshakes the state requires, issues cmd, and releases the
// connection: a MOVED reply pointing back at the very node we just
// asked is closed (that node is confused about its own routing and
// shouldn't be reused), but every other redirect -- ASK, or MOVED to a
// different node -- releases the connection to the pool normally,
// since the node itself answered fine (SPEC_FULL.md §4.5 steps 7-8).
func (cl *Client) dispatchOnce(ctx context.Context, target Server, replicaPick bool, st *redirState, cmd string, args ...interface{}) (interface{}, error) {
	conn := cl.connFactory(target.IP, target.Port)
	conn.SetTimeouts(cl.cfg.ConnectTimeout, cl.cfg.SendTimeout, cl.cfg.ReadTimeout)
	if err := conn.Connect(ctx, target.IP, target.Port); err != nil {
		return nil, err
	}

	if cl.cfg.AuthSecret != "" {
		if err := conn.Auth(cl.cfg.AuthSecret); err != nil {
			conn.Close()
			return nil, newAuthError(err)
		}
	}

	if replicaPick {
		if err := conn.Readonly(); err != nil {
			conn.Close()
			return nil, err
		}
	}
	if st.needAsking {
		if err := conn.Asking(); err != nil {
			conn.Close()
			return nil, err
		}
		st.needAsking = false
	}

	reply, err := conn.Do(cmd, args...)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if re := ParseRedir(errorOf(reply)); re != nil {
		if re.Type == redirMoved && re.IP == target.IP && re.Port == target.Port {
			conn.Close()
		} else if err := conn.SetKeepalive(cl.cfg.KeepaliveTimeout, cl.cfg.KeepalivePoolSize); err != nil {
			cl.logWarn("keepalive_release_failed", err, logrus.Fields{"addr": serverAddr(target)})
		}
		cl.stats.record(serverAddr(target), replicaPick, true)
		return reply, nil
	}
	if err := conn.SetKeepalive(cl.cfg.KeepaliveTimeout, cl.cfg.KeepalivePoolSize); err != nil {
		cl.logWarn("keepalive_release_failed", err, logrus.Fields{"addr": serverAddr(target)})
	}
	cl.stats.record(serverAddr(target), replicaPick, true)
	return reply, nil
}

func errorOf(reply interface{}) error {
	if e, ok := reply.(error); ok {
		return e
	}
	return nil
}

// handleReply inspects a dispatched reply for MOVED, ASK or CLUSTERDOWN.
// done=true means val is the final answer for the caller; done=false
// means st was mutated (new target, possibly needAsking=true) and run
// should loop.
func (cl *Client) handleReply(reply interface{}, st *redirState) (val interface{}, done bool, err error) {
	errReply := errorOf(reply)
	if errReply == nil {
		return reply, true, nil
	}

	msg := errReply.Error()
	if isClusterDown(msg) {
		return nil, true, newClusterError(ErrClusterDown, "executor: "+msg, nil)
	}

	if re, _, perr := parseRedirect(msg, redirMoved); perr == nil && re != nil {
		st.target = &Server{IP: re.IP, Port: re.Port}
		st.redirects++
		cl.refreshSlotsAsync()
		return nil, false, nil
	}
	if re, _, perr := parseRedirect(msg, redirAsk); perr == nil && re != nil {
		if st.askFollowed {
			return nil, true, newClusterError(ErrNestedAsk, "executor: nested ASK redirection", nil)
		}
		st.target = &Server{IP: re.IP, Port: re.Port}
		st.askFollowed = true
		st.needAsking = true
		st.redirects++
		return nil, false, nil
	}

	// A generic (non-redirect, non-CLUSTERDOWN) error reply still gets a
	// best-effort background refresh before being returned, in case it
	// reflects stale routing this client doesn't otherwise have a signal
	// for (SPEC_FULL.md §4.5 step 10).
	cl.refreshSlotsAsync()
	return nil, true, errReply
}
