package publisher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/db2q/db2q/cfg"
	"github.com/db2q/db2q/id"
)

var (
	registrySinksMu sync.Mutex
	registrySinks   = map[string]*mockSink{}
)

func init() {
	// Registered here because the sink package imports publisher
	RegisterSink("memory", func(config cfg.SinkConfiguration) (Sink, error) {
		registrySinksMu.Lock()
		defer registrySinksMu.Unlock()
		s := &mockSink{}
		registrySinks[config.Name] = s
		return s, nil
	})
}

func memorySink(name string) *mockSink {
	registrySinksMu.Lock()
	defer registrySinksMu.Unlock()
	return registrySinks[name]
}

func TestNewRegistry_Validation(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{})
	assert.Error(t, err)

	_, err = NewRegistry(RegistryConfig{
		DataDir:     t.TempDir(),
		SinkConfigs: []cfg.SinkConfiguration{{Name: "x", Type: "carrier-pigeon"}},
	})
	assert.ErrorContains(t, err, "unknown sink type")

	_, err = NewRegistry(RegistryConfig{
		DataDir:     t.TempDir(),
		SinkConfigs: []cfg.SinkConfiguration{{Name: "x", Type: "memory", Format: "avro"}},
	})
	assert.ErrorContains(t, err, "unknown format")

	_, err = NewRegistry(RegistryConfig{
		DataDir:     t.TempDir(),
		SinkConfigs: []cfg.SinkConfiguration{{Name: "x", Type: "memory", FilterTopics: []string{"[unclosed"}}},
	})
	assert.ErrorContains(t, err, "invalid topic pattern")
}

func TestRegistry_MirrorDeliversToEverySink(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{
		DataDir: t.TempDir(),
		NodeID:  42,
		SinkConfigs: []cfg.SinkConfiguration{
			{Name: "reg-a", Type: "memory", Format: FormatMsgpack, PollIntervalMS: 5},
			{Name: "reg-b", Type: "memory", TopicPrefix: "mirror", PollIntervalMS: 5},
		},
	})
	require.NoError(t, err)

	assert.Error(t, r.Mirror(testTopic, 1, []byte("x"), time.Now()), "mirror before start is rejected")

	require.NoError(t, r.Start())
	assert.Error(t, r.Start())

	for key := int64(1); key <= 3; key++ {
		require.NoError(t, r.Mirror(testTopic, key, []byte("payload"), time.Now()))
	}

	a, b := memorySink("reg-a"), memorySink("reg-b")
	require.Eventually(t, func() bool { return a.eventCount() == 3 && b.eventCount() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		lag := r.Lag()
		return lag["reg-a"] == 0 && lag["reg-b"] == 0
	}, time.Second, 5*time.Millisecond)

	var decoded PushEvent
	require.NoError(t, MsgpackTransformer{}.decode(a.getEvents()[0].value, &decoded))
	assert.Equal(t, uint64(42), decoded.NodeID)
	assert.Equal(t, testTopic, decoded.Topic)

	assert.Equal(t, "mirror."+testTopic.String(), b.getEvents()[0].topic)

	r.Stop()
	r.Stop()
	assert.True(t, a.closed.Load())
	assert.Error(t, r.Mirror(id.UUID{}, 1, nil, time.Now()))
}

func TestRegistry_AddSinkWhileRunning(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	require.NoError(t, r.Mirror(testTopic, 1, []byte("early"), time.Now()))
	require.NoError(t, r.AddSink(cfg.SinkConfiguration{Name: "reg-late", Type: "memory", PollIntervalMS: 5}))

	late := memorySink("reg-late")
	require.Eventually(t, func() bool { return late.eventCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}
