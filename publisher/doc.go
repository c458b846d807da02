// Package publisher mirrors accepted pushes to external systems.
//
// Every push the queue service accepts is appended to a durable, ordered
// log backed by Pebble. One worker per configured sink reads the log from
// its own persisted cursor and publishes each event, so a slow or broken
// sink never blocks the queue or the other sinks.
//
// # PublishLog
//
// Key prefixes:
//
//	/publog/{seq:016x}       -> msgpack(PushEvent)
//	/pubcursor/{sinkName}    -> uint64 (last delivered seq)
//	/pubseq                  -> uint64 (last assigned seq)
//
// Entries consumed by every sink are deleted every 128 sequence numbers.
//
// # Delivery
//
// Workers publish first and advance their cursor second, which gives
// at-least-once delivery across restarts. Failed publishes are retried
// with exponential backoff. Events whose topic does not match the sink's
// glob filter advance the cursor without being published.
//
// Example usage:
//
//	registry, err := NewRegistry(RegistryConfig{
//		DataDir:     "/var/lib/db2q",
//		NodeID:      1,
//		SinkConfigs: cfg.Config.Publisher.Sinks,
//	})
//	if err != nil {
//		return err
//	}
//	registry.Start()
//	defer registry.Stop()
//
//	// Hand the registry to the queue service as its Mirror
//	svc, err := queue.NewService(queue.ServiceConfig{Mirror: registry, ...})
//
// Sink implementations live in the sink subpackage and register themselves
// by type name; import it for side effects.
package publisher
