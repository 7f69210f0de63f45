package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, deliveries <-chan Delivery) Delivery {
	t.Helper()

	select {
	case d := <-deliveries:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return Delivery{}
	}
}

func TestMemoryEnqueueConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMemory([]string{LaneOCR, LaneTranslation}, time.Minute)
	defer m.Close()

	require.NoError(t, m.Enqueue(ctx, LaneOCR, "job-1"))

	deliveries, err := m.Consume(ctx, LaneOCR)
	require.NoError(t, err)

	d := receive(t, deliveries)
	assert.Equal(t, "job-1", d.JobID)
	assert.NoError(t, d.Ack())
}

func TestMemoryUnknownLane(t *testing.T) {
	ctx := context.Background()

	m := NewMemory([]string{LaneOCR}, time.Minute)
	defer m.Close()

	err := m.Enqueue(ctx, "summarize", "job-1")
	assert.ErrorIs(t, err, ErrUnknownLane)

	_, err = m.Consume(ctx, "summarize")
	assert.ErrorIs(t, err, ErrUnknownLane)
}

func TestMemoryLaneIsolation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMemory([]string{LaneOCR, LaneTranslation}, time.Minute)
	defer m.Close()

	require.NoError(t, m.Enqueue(ctx, LaneOCR, "ocr-job"))

	translation, err := m.Consume(ctx, LaneTranslation)
	require.NoError(t, err)

	select {
	case d := <-translation:
		t.Fatalf("translation lane received %q", d.JobID)
	case <-time.After(100 * time.Millisecond):
	}

	depth, err := m.Depth(ctx, LaneOCR)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestMemoryRedeliveryAfterVisibilityTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMemory([]string{LaneOCR}, 50*time.Millisecond)
	defer m.Close()

	require.NoError(t, m.Enqueue(ctx, LaneOCR, "job-1"))

	deliveries, err := m.Consume(ctx, LaneOCR)
	require.NoError(t, err)

	first := receive(t, deliveries)
	assert.Equal(t, "job-1", first.JobID)

	// Never acked: the visibility timer must requeue it.
	second := receive(t, deliveries)
	assert.Equal(t, "job-1", second.JobID)
	assert.NoError(t, second.Ack())
}

func TestMemoryAckStopsRedelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMemory([]string{LaneOCR}, 50*time.Millisecond)
	defer m.Close()

	require.NoError(t, m.Enqueue(ctx, LaneOCR, "job-1"))

	deliveries, err := m.Consume(ctx, LaneOCR)
	require.NoError(t, err)

	d := receive(t, deliveries)
	require.NoError(t, d.Ack())

	select {
	case dup := <-deliveries:
		t.Fatalf("acked delivery came back: %q", dup.JobID)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMemoryNackRequeue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMemory([]string{LaneOCR}, time.Minute)
	defer m.Close()

	require.NoError(t, m.Enqueue(ctx, LaneOCR, "job-1"))

	deliveries, err := m.Consume(ctx, LaneOCR)
	require.NoError(t, err)

	d := receive(t, deliveries)
	require.NoError(t, d.Nack(true))

	redelivered := receive(t, deliveries)
	assert.Equal(t, "job-1", redelivered.JobID)
	assert.NoError(t, redelivered.Ack())
}

func TestMemoryEnqueueFullBuffer(t *testing.T) {
	ctx := context.Background()

	m := NewMemory([]string{LaneOCR}, time.Minute)
	defer m.Close()

	for i := 0; i < memoryLaneBuffer; i++ {
		require.NoError(t, m.Enqueue(ctx, LaneOCR, "job"))
	}

	err := m.Enqueue(ctx, LaneOCR, "overflow")
	assert.ErrorIs(t, err, ErrTransportUnavailable)
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory([]string{LaneOCR}, time.Minute)
	require.NoError(t, m.Close())

	err := m.Enqueue(context.Background(), LaneOCR, "job-1")
	assert.ErrorIs(t, err, ErrClosed)
}
