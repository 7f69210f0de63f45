package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/occamlabs/docgateway/shared/rabbitmq"
)

// message is the wire format of a lane entry.
type message struct {
	JobID string `json:"job_id"`
}

// RabbitMQ adapts the shared RabbitMQ client to the Transport
// contract. Redelivery of unacked messages is the broker's.
type RabbitMQ struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewRabbitMQ wraps an already-connected client.
func NewRabbitMQ(client *rabbitmq.Client, logger *slog.Logger) *RabbitMQ {
	return &RabbitMQ{client: client, logger: logger}
}

func (r *RabbitMQ) Enqueue(ctx context.Context, lane, jobID string) error {
	body, err := json.Marshal(message{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal lane message: %w", err)
	}

	if err := r.client.PublishWithRetry(ctx, lane, body, "application/json"); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return nil
}

func (r *RabbitMQ) Consume(ctx context.Context, lane string) (<-chan Delivery, error) {
	consumerTag := fmt.Sprintf("%s-%s", lane, uuid.New().String()[:8])
	deliveries, err := r.client.Consume(lane, consumerTag)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					r.logger.Warn("RabbitMQ delivery channel closed",
						slog.String("lane", lane),
					)
					return
				}

				var msg message
				if err := json.Unmarshal(delivery.Body, &msg); err != nil {
					r.logger.Error("Failed to parse lane message",
						slog.String("lane", lane),
						slog.String("error", err.Error()),
						slog.String("body", string(delivery.Body)),
					)
					// Malformed messages never become valid: drop, do not requeue.
					if nackErr := delivery.Nack(false, false); nackErr != nil {
						r.logger.Error("Failed to NACK malformed message",
							slog.String("error", nackErr.Error()),
						)
					}
					continue
				}

				d := delivery
				out <- Delivery{
					JobID: msg.JobID,
					Ack: func() error {
						return d.Ack(false)
					},
					Nack: func(requeue bool) error {
						return d.Nack(false, requeue)
					},
				}
			}
		}
	}()
	return out, nil
}

func (r *RabbitMQ) Depth(_ context.Context, lane string) (int, error) {
	return r.client.QueueDepth(lane)
}

func (r *RabbitMQ) Close() error {
	return r.client.Close()
}
