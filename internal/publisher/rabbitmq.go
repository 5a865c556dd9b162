package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"media_syncer/internal/domain"
)

type RabbitMQ struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

// NewRabbitMQ dials the broker and declares a durable direct exchange with
// one durable queue bound to the routing key.
func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger = logger.With("exchange", cfg.Exchange, "routing_key", cfg.RoutingKey)
	logger.Info("connected to rabbitmq", "queue", cfg.QueueName)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

func declareTopology(ch *amqp.Channel, cfg Config) error {
	const durable, autoDelete, internal, exclusive, noWait = true, false, false, false, false

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, durable, autoDelete, internal, noWait, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err)
	}

	q, err := ch.QueueDeclare(cfg.QueueName, durable, autoDelete, exclusive, noWait, nil)
	if err != nil {
		return fmt.Errorf("declare queue %q: %w", cfg.QueueName, err)
	}

	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, noWait, nil); err != nil {
		return fmt.Errorf("bind queue %q: %w", q.Name, err)
	}
	return nil
}

const (
	TypePostEvent     = "post.event"
	TypeSyncCompleted = "sync.completed"
)

type PostMessage struct {
	Action    domain.PostAction `json:"action"` // "created", "updated" or "deleted"
	PostID    int64             `json:"postId,omitempty"`
	Hash      string            `json:"hash"`
	RunID     string            `json:"runId"`
	Timestamp time.Time         `json:"timestamp"`
}

type SyncMessage struct {
	RunID         string    `json:"runId"`
	SourceID      string    `json:"sourceId"`
	Listed        int       `json:"listed"`
	Processed     int       `json:"processed"`
	Created       int       `json:"created"`
	Updated       int       `json:"updated"`
	Errors        int       `json:"errors"`
	DeletedPosts  int       `json:"deletedPosts"`
	DeletedTags   int       `json:"deletedTags"`
	DeletedGroups int       `json:"deletedGroups"`
	Cancelled     bool      `json:"cancelled"`
	DurationMs    int64     `json:"durationMs"`
	Timestamp     time.Time `json:"timestamp"`
}

func (r *RabbitMQ) PublishPost(ctx context.Context, event domain.PostEvent) error {
	msg := PostMessage{
		Action:    event.Action,
		PostID:    event.PostID,
		Hash:      event.Hash,
		RunID:     event.RunID,
		Timestamp: time.Now().UTC(),
	}

	if err := r.publish(ctx, TypePostEvent, msg); err != nil {
		return err
	}

	r.logger.Debug("published post event",
		"hash", event.Hash,
		"action", event.Action,
	)

	return nil
}

func (r *RabbitMQ) PublishSyncCompleted(ctx context.Context, stats *domain.SyncStats) error {
	msg := SyncMessage{
		RunID:         stats.RunID,
		SourceID:      stats.SourceID,
		Listed:        stats.Listed,
		Processed:     stats.Processed,
		Created:       stats.Created,
		Updated:       stats.Updated,
		Errors:        len(stats.Errors),
		DeletedPosts:  stats.DeletedPosts,
		DeletedTags:   stats.DeletedTags,
		DeletedGroups: stats.DeletedGroups,
		Cancelled:     stats.Cancelled,
		DurationMs:    stats.Duration.Milliseconds(),
		Timestamp:     time.Now().UTC(),
	}

	if err := r.publish(ctx, TypeSyncCompleted, msg); err != nil {
		return err
	}

	r.logger.Info("published sync completed", "run_id", stats.RunID)
	return nil
}

// publish serializes concurrent callers; an amqp channel is not safe for
// concurrent publishing.
func (r *RabbitMQ) publish(ctx context.Context, msgType string, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Type:         msgType,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
