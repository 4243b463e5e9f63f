// Package helix provides a participant agent for Helix-style cluster management
// on top of a ZooKeeper-like coordination service.
//
// A participant registers itself as a live member of a named cluster, carries
// partition state across session boundaries, and drives per-partition finite
// state machines in response to transition messages written by an external
// controller.
//
// # Quick Start
//
//	import (
//	    "github.com/arloliu/helix"
//	    "github.com/arloliu/helix/coordination/natskv"
//	    "github.com/arloliu/helix/statemodel"
//	)
//
//	def, err := statemodel.NewDefinition("OnlineOffline", []string{"OFFLINE", "ONLINE"},
//	    statemodel.WithTransition("OFFLINE", "ONLINE", bringOnline),
//	    statemodel.WithTransition("ONLINE", "OFFLINE", takeOffline),
//	)
//	factory := statemodel.NewFactory(def)
//
//	cfg := helix.DefaultConfig()
//	cfg.ClusterName = "foo"
//	cfg.InstanceName = "localhost_12000"
//
//	client, err := natskv.New(natsConn, natskv.Config{...})
//	mgr, err := helix.NewManager(&cfg, client, factory)
//	if err := mgr.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Disconnect(context.Background())
//
// # Architecture
//
// The session progresses through a state machine:
//
//	Disconnected → Connecting → EstablishingSession → Participating
//
// Establishing a session runs a fixed pipeline: ensure no live instance with
// the same name exists, run pre-connect callbacks, create the ephemeral live
// instance node, carry over current state from prior sessions, and subscribe
// to the instance's message queue. Messages are applied to partitions through
// the state model engine; transitions of one partition are sequential while
// distinct partitions transition in parallel.
//
// Closing the connection or losing the session returns to Disconnected.
// Reconnection is the caller's responsibility.
//
// # Coordination Backends
//
// The coordination service is abstracted by CoordinationClient. This module
// ships adapters for an in-process store (coordination/memory), NATS
// JetStream KV (coordination/natskv) and Redis (coordination/redis).
package helix
