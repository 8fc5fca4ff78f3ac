package cluster

import (
	"math/rand"
	"sync"
	"time"
)

// Server is one Redis node: an address plus whether it is a replica.
// The master of a ReplicaSet is always at index 0.
type Server struct {
	IP        string
	Port      int
	IsReplica bool
}

// ReplicaSet is a master (index 0) followed by zero or more replicas
// covering the same contiguous slot range.
type ReplicaSet []Server

// String renders s as "ip:port", used throughout for logging and error
// messages.
func (s Server) String() string {
	return s.IP + ":" + itoa(s.Port)
}

// rnd is a package-level seeded random source guarded by a mutex, since
// *rand.Rand is not safe for concurrent use. Grounded on
// mna-redisc/cluster.go's identical `rnd` package variable.
var rnd = struct {
	sync.Mutex
	*rand.Rand
}{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}

// pickNode chooses a Server from rs per SPEC_FULL.md §4.3. When
// enableReplicaRead is false, it always returns the master. Otherwise,
// with a non-nil seed it picks index seed%len(rs) deterministically (used
// by the pipeline dispatcher's "magic seed" so a whole batch of requests
// consistently lands on the same replica-set position); with a nil seed
// it picks a uniformly random index.
func pickNode(rs ReplicaSet, enableReplicaRead bool, seed *uint64) (Server, error) {
	if len(rs) == 0 {
		return Server{}, newClusterError(ErrSlotsAbsent, "picker: serv_list is empty", nil)
	}
	if !enableReplicaRead {
		return rs[0], nil
	}

	var idx int
	if seed != nil {
		idx = int(*seed % uint64(len(rs)))
	} else {
		rnd.Lock()
		idx = rnd.Intn(len(rs))
		rnd.Unlock()
	}

	s := rs[idx]
	s.IsReplica = idx > 0
	return s, nil
}
