package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"stoptrolling/internal/domain"
	"stoptrolling/internal/infra/metrics"
)

// AMQPPostQueue реализует очередь отложенных публикаций поверх RabbitMQ.
// Потребитель один на очередь: все вызовы Pop читают из общего канала доставок.
type AMQPPostQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

var _ domain.PostQueue = (*AMQPPostQueue)(nil)

// NewAMQPPostQueue подключается к брокеру и объявляет durable-очередь.
func NewAMQPPostQueue(amqpURL, queue string) (*AMQPPostQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &AMQPPostQueue{conn: conn, channel: ch, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *AMQPPostQueue) Enqueue(ctx context.Context, job domain.PostJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// consumerChan регистрирует потребителя при первом обращении и дальше
// возвращает тот же канал доставок.
func (q *AMQPPostQueue) consumerChan(ctx context.Context) (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries == nil {
		deliveries, err := q.channel.ConsumeWithContext(ctx, q.queue, "", false, false, false, false, nil)
		if err != nil {
			return nil, fmt.Errorf("consume: %w", err)
		}
		q.deliveries = deliveries
	}
	return q.deliveries, nil
}

// Pop блокирующе читает задачу из очереди.
func (q *AMQPPostQueue) Pop(ctx context.Context) (domain.PostJob, error) {
	deliveries, err := q.consumerChan(ctx)
	if err != nil {
		return domain.PostJob{}, err
	}
	select {
	case <-ctx.Done():
		return domain.PostJob{}, ctx.Err()
	case delivery, ok := <-deliveries:
		if !ok {
			q.mu.Lock()
			q.deliveries = nil
			q.mu.Unlock()
			return domain.PostJob{}, errors.New("amqp queue: deliveries channel closed")
		}
		var job domain.PostJob
		if err := json.Unmarshal(delivery.Body, &job); err != nil {
			_ = delivery.Nack(false, false)
			return domain.PostJob{}, fmt.Errorf("decode job: %w", err)
		}
		if err := delivery.Ack(false); err != nil {
			return domain.PostJob{}, fmt.Errorf("ack: %w", err)
		}
		return job, nil
	}
}

// Close закрывает канал и соединение.
func (q *AMQPPostQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
