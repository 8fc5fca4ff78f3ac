package cluster

import (
	"strconv"
	"strings"
)

// RedirError describes a parsed MOVED or ASK redirection, grounded on the
// RedirError/ParseRedir surface mna-redisc exposes to callers (exercised
// by its moved_test.go / retry_conn_test.go, whose handling of
// `re.Type`/`re.Addr`/`re.NewSlot` this mirrors).
type RedirError struct {
	Type    string // "MOVED" or "ASK"
	Slot    int
	IP      string
	Port    int
	Addr    string // "ip:port"
}

const (
	redirMoved = "MOVED"
	redirAsk   = "ASK"
)

// parseRedirect decodes a single reply string against prefix ("MOVED" or
// "ASK"). It returns ok=false (no error) if the string does not start
// with prefix. A prefix match with a malformed body (not
// "<slot> <host>:<port>") returns a non-nil error, distinct from "no
// match" -- SPEC_FULL.md §4.4.
func parseRedirect(reply, prefix string) (*RedirError, bool, error) {
	if !strings.HasPrefix(reply, prefix) {
		return nil, false, nil
	}
	rest := strings.TrimSpace(reply[len(prefix):])
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		return nil, true, newClusterError(ErrConnectFailed, "redir: malformed "+prefix+" reply: "+reply, nil)
	}

	slot, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, true, newClusterError(ErrConnectFailed, "redir: malformed "+prefix+" slot: "+reply, nil)
	}

	host, portStr, err := splitHostPort(fields[1])
	if err != nil {
		return nil, true, newClusterError(ErrConnectFailed, "redir: malformed "+prefix+" address: "+reply, nil)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, true, newClusterError(ErrConnectFailed, "redir: malformed "+prefix+" port: "+reply, nil)
	}

	return &RedirError{
		Type: prefix,
		Slot: slot,
		IP:   host,
		Port: port,
		Addr: host + ":" + portStr,
	}, true, nil
}

func splitHostPort(s string) (host, port string, err error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "", "", newClusterError(ErrConnectFailed, "redir: missing ':' in address "+s, nil)
	}
	return s[:i], s[i+1:], nil
}

// parseRedirectReply inspects a reply value -- a plain string, or (for
// pipeline results) a list of values -- for a MOVED or ASK redirection,
// returning the first match found. This realizes SPEC_FULL.md §4.4's "if
// the reply is a list, inspect each element" rule.
func parseRedirectReply(reply interface{}, prefix string) (*RedirError, error) {
	switch v := reply.(type) {
	case string:
		re, _, err := parseRedirect(v, prefix)
		return re, err
	case error:
		re, _, err := parseRedirect(v.Error(), prefix)
		return re, err
	case []interface{}:
		for _, el := range v {
			re, err := parseRedirectReply(el, prefix)
			if err != nil {
				return nil, err
			}
			if re != nil {
				return re, nil
			}
		}
		return nil, nil
	default:
		return nil, nil
	}
}

// ParseRedir inspects err (typically a redigo redis.Error wrapped as a Go
// error) and returns the parsed MOVED or ASK redirection, or nil if err is
// neither.
func ParseRedir(err error) *RedirError {
	if err == nil {
		return nil
	}
	s := err.Error()
	if re, _, parseErr := parseRedirect(s, redirMoved); parseErr == nil && re != nil {
		return re
	}
	if re, _, parseErr := parseRedirect(s, redirAsk); parseErr == nil && re != nil {
		return re
	}
	return nil
}
