package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"
)

const retryHeader = "x-retry-count"

// AMQPQueue publishes to and consumes from durable RabbitMQ queues named
// after the topic. Deliveries are acked manually.
type AMQPQueue struct {
	Conn       *amqp.Connection
	MaxRetries int
	Log        *slog.Logger

	ch *amqp.Channel
}

func DialAMQP(url string, log *slog.Logger) (*AMQPQueue, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPQueue{Conn: conn, MaxRetries: 3, Log: log, ch: ch}, nil
}

func (q *AMQPQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		q.Conn.Close()
		return err
	}
	return q.Conn.Close()
}

func (q *AMQPQueue) declare(topic string) (amqp.Queue, error) {
	return q.ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
}

func (q *AMQPQueue) Publish(_ context.Context, topic string, payload []byte) error {
	return q.publish(topic, payload, 0)
}

func (q *AMQPQueue) publish(topic string, payload []byte, retries int32) error {
	if _, err := q.declare(topic); err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	return q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{retryHeader: retries},
		Body:         payload,
	})
}

// Subscribe starts consuming topic in the background. A failed delivery is
// republished with an incremented retry header until MaxRetries, then
// dropped.
func (q *AMQPQueue) Subscribe(topic string, handler Handler) error {
	qu, err := q.declare(topic)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	msgs, err := q.ch.Consume(
		qu.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer on %s: %w", topic, err)
	}

	go func() {
		for d := range msgs {
			q.handle(topic, d, handler)
		}
		q.Log.Info("Consumer stopped", "topic", topic)
	}()
	return nil
}

func (q *AMQPQueue) handle(topic string, d amqp.Delivery, handler Handler) {
	err := handler(context.Background(), d.Body)
	if err == nil {
		d.Ack(false)
		return
	}

	retries := RetryCount(d.Headers)
	q.Log.Warn("Job failed", "topic", topic, "attempt", retries+1, "err", err)
	if int(retries) < q.MaxRetries {
		if perr := q.publish(topic, d.Body, retries+1); perr != nil {
			q.Log.Error("Requeue failed, returning delivery to broker", "topic", topic, "err", perr)
			d.Nack(false, true)
			return
		}
	} else {
		q.Log.Error("Job permanently failed", "topic", topic, "attempts", retries+1)
	}
	d.Ack(false)
}

// RetryCount reads the retry header, whatever integer type the broker
// decoded it as.
func RetryCount(headers amqp.Table) int32 {
	switch v := headers[retryHeader].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	case int16:
		return int32(v)
	case int8:
		return int32(v)
	default:
		return 0
	}
}
