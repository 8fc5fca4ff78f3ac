package redistest

import (
	"fmt"

	"github.com/orelmaliach/resty-redis-cluster/redistest/resp"
)

// MovedReply builds the RESP error value a cluster node sends when it
// no longer owns the requested slot (SPEC_FULL.md §4.4).
func MovedReply(ip string, port int) resp.Error {
	return resp.Error(fmt.Sprintf("MOVED 0 %s:%d", ip, port))
}

// AskReply builds the RESP error value a cluster node sends while a
// slot is mid-migration and a single key has already moved.
func AskReply(ip string, port int) resp.Error {
	return resp.Error(fmt.Sprintf("ASK 0 %s:%d", ip, port))
}

// ClusterDownReply builds the RESP error value a cluster node sends
// when it cannot serve any command because the cluster lacks quorum.
func ClusterDownReply() resp.Error {
	return resp.Error("CLUSTERDOWN Hash slot not served")
}
