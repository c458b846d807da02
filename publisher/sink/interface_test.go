package sink

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/db2q/db2q/publisher"
)

// Compile-time interface verification
var (
	_ publisher.Sink = (*KafkaSink)(nil)
	_ publisher.Sink = (*NatsSink)(nil)
	_ publisher.Sink = (*AMQPSink)(nil)
	_ publisher.Sink = (*RedisSink)(nil)
	_ publisher.Sink = (*MockSink)(nil)
)

func lookupFactory(t *testing.T, sinkType string) publisher.SinkFactory {
	t.Helper()
	factory, ok := publisher.SinkFactoryFor(sinkType)
	require.True(t, ok, "sink type %q not registered", sinkType)
	return factory
}
