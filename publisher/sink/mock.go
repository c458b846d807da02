package sink

import (
	"fmt"
	"strconv"
	"sync"
)

// MockSink keeps mirrored pushes in memory, grouped by destination
type MockSink struct {
	// FailFirst makes the next N publishes fail before any is recorded
	FailFirst int

	mu       sync.Mutex
	attempts int
	pushes   []MockPush
}

// MockPush is one mirrored push as the worker delivered it
type MockPush struct {
	Destination string
	Key         int64
	Value       []byte
}

// Publish records a push. The key must be the decimal record key.
func (m *MockSink) Publish(topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts++
	if m.FailFirst > 0 {
		m.FailFirst--
		return fmt.Errorf("mock sink: publish to %s failed", topic)
	}

	recordKey, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return fmt.Errorf("mock sink: record key %q: %w", key, err)
	}

	m.pushes = append(m.pushes, MockPush{
		Destination: topic,
		Key:         recordKey,
		Value:       append([]byte(nil), value...),
	})
	return nil
}

// Pushes returns every recorded push in delivery order
func (m *MockSink) Pushes() []MockPush {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockPush(nil), m.pushes...)
}

// Keys returns the record keys delivered to destination, in order
func (m *MockSink) Keys(destination string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []int64
	for _, p := range m.pushes {
		if p.Destination == destination {
			keys = append(keys, p.Key)
		}
	}
	return keys
}

// Attempts counts Publish calls, failed ones included
func (m *MockSink) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Close is a no-op
func (m *MockSink) Close() error {
	return nil
}

// Reset forgets recorded pushes and attempts
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = nil
	m.attempts = 0
	m.FailFirst = 0
}
