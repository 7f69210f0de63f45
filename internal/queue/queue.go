// Package queue provides the lane-partitioned transport that carries
// job references between the orchestrator and the worker pools.
// Delivery is at-least-once: an unacknowledged delivery reappears
// after the visibility timeout, so consumers must be idempotent.
package queue

import (
	"context"
	"errors"
)

var (
	// ErrTransportUnavailable is returned when the backing channel is
	// unreachable after bounded retry.
	ErrTransportUnavailable = errors.New("queue transport unavailable")

	// ErrUnknownLane is returned for a lane the transport was not
	// configured with. This is a configuration error and fails fast.
	ErrUnknownLane = errors.New("unknown lane")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("queue transport closed")
)

// Lane names for the two processing stages.
const (
	LaneOCR         = "ocr"
	LaneTranslation = "translation"
)

// Delivery is one received job reference. Exactly one of Ack or Nack
// must be called; neither happening means redelivery after the
// visibility timeout.
type Delivery struct {
	JobID string
	Ack   func() error
	Nack  func(requeue bool) error
}

// Transport is a durable, at-least-once message channel partitioned
// into independent named lanes.
type Transport interface {
	// Enqueue appends a job reference to a lane. It retries transient
	// publish failures a bounded number of times and then returns
	// ErrTransportUnavailable.
	Enqueue(ctx context.Context, lane, jobID string) error

	// Consume returns a channel of deliveries for one lane. The channel
	// closes when ctx is canceled or the transport is closed. Lanes do
	// not share head-of-line: a stalled consumer on one lane never
	// blocks delivery on another.
	Consume(ctx context.Context, lane string) (<-chan Delivery, error)

	// Depth reports the number of ready (not in-flight) messages in a
	// lane, for the monitoring surface.
	Depth(ctx context.Context, lane string) (int, error)

	Close() error
}
