// Package cluster implements a Redis Cluster client: a slot directory
// that maps the 16384 hash slots to the replica sets that own them, a
// command executor that follows MOVED/ASK redirections and returns a
// CLUSTERDOWN reply as a fatal error, and a pipeline dispatcher that fans a batch of
// commands out to every node that owns part of it and reassembles the
// replies in submission order.
//
// A Client is constructed with New, which bootstraps the slot table
// from Config.Seeds:
//
//	cl, err := cluster.New(ctx, cluster.Config{
//		Name:  "orders",
//		Seeds: []cluster.Seed{{IP: "10.0.0.1", Port: 6379}},
//	})
//
// Do dispatches a single command, routed by its key:
//
//	v, err := cl.Do(ctx, "GET", "order:42")
//
// InitPipeline queues a batch and Commit sends it in as few round-trips
// as the current topology allows:
//
//	p := cl.InitPipeline()
//	p.Queue("order:42", "GET", "order:42")
//	p.Queue("order:43", "GET", "order:43")
//	results, err := p.Commit(ctx)
//
// The low-level connection, shared dict and distributed lock used
// internally are all pluggable via Config.ConnFactory, Config.Dict and
// Config.Locker, so a caller that already runs these across a process
// pool can wire the cluster's bootstrap/refresh coordination through
// them instead of the in-process defaults.
package cluster
