package sink

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/db2q/db2q/cfg"
	"github.com/db2q/db2q/publisher"
)

// DefaultExchange receives pushes when the sink names no exchange
const DefaultExchange = "db2q.pushes"

func init() {
	publisher.RegisterSink("amqp", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		if config.URL == "" {
			return nil, fmt.Errorf("amqp sink requires url")
		}
		return NewAMQPSink(config.URL, config.Exchange, contentTypeFor(config.Format))
	})
}

// amqpChannel is the subset of *amqp.Channel used by the sink
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes to a durable topic exchange, routed by destination topic
type AMQPSink struct {
	conn        *amqp.Connection
	channel     amqpChannel
	exchange    string
	contentType string
}

// NewAMQPSink dials the broker and declares the exchange
func NewAMQPSink(url, exchange, contentType string) (*AMQPSink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &AMQPSink{conn: conn, channel: channel, exchange: exchange, contentType: contentType}, nil
}

// Publish sends a persistent message with the record key as its message id
func (a *AMQPSink) Publish(topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := a.channel.PublishWithContext(ctx, a.exchange, topic, false, false, amqp.Publishing{
		ContentType:  a.contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    key,
		Timestamp:    time.Now(),
		Body:         value,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close closes the channel and the connection
func (a *AMQPSink) Close() error {
	var err error
	if a.channel != nil {
		err = a.channel.Close()
	}
	if a.conn != nil {
		if cerr := a.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func contentTypeFor(format string) string {
	if format == publisher.FormatMsgpack {
		return publisher.MsgpackTransformer{}.ContentType()
	}
	return publisher.JSONTransformer{}.ContentType()
}
