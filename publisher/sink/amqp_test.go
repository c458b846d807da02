package sink

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/db2q/db2q/cfg"
	"github.com/db2q/db2q/publisher"
)

type amqpPublish struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	err       error
	published []amqpPublish
	closed    bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, amqpPublish{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPSink_Publish(t *testing.T) {
	ch := &fakeChannel{}
	sink := &AMQPSink{channel: ch, exchange: DefaultExchange, contentType: "application/json"}

	require.NoError(t, sink.Publish("db2q.topic", "7", []byte(`{"a":1}`)))
	require.Len(t, ch.published, 1)

	p := ch.published[0]
	assert.Equal(t, DefaultExchange, p.exchange)
	assert.Equal(t, "db2q.topic", p.key)
	assert.Equal(t, "7", p.msg.MessageId)
	assert.Equal(t, "application/json", p.msg.ContentType)
	assert.Equal(t, amqp.Persistent, p.msg.DeliveryMode)
	assert.Equal(t, []byte(`{"a":1}`), p.msg.Body)

	require.NoError(t, sink.Close())
	assert.True(t, ch.closed)
}

func TestAMQPSink_PublishError(t *testing.T) {
	sink := &AMQPSink{channel: &fakeChannel{err: errors.New("channel closed")}, exchange: DefaultExchange}
	assert.ErrorContains(t, sink.Publish("x", "1", nil), "channel closed")
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/msgpack", contentTypeFor(publisher.FormatMsgpack))
	assert.Equal(t, "application/json", contentTypeFor(publisher.FormatJSON))
	assert.Equal(t, "application/json", contentTypeFor(""))
}

func TestAMQPFactory_RequiresURL(t *testing.T) {
	_, err := lookupFactory(t, "amqp")(cfg.SinkConfiguration{Name: "a", Type: "amqp"})
	assert.Error(t, err)
}

func TestNatsFactory_RequiresURL(t *testing.T) {
	_, err := lookupFactory(t, "nats")(cfg.SinkConfiguration{Name: "n", Type: "nats"})
	assert.Error(t, err)
}

func TestSanitizeStreamName(t *testing.T) {
	assert.Equal(t, "db2q_0123", sanitizeStreamName("db2q.0123"))
}
