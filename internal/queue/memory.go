package queue

import (
	"context"
	"sync"
	"time"
)

const memoryLaneBuffer = 1024

// Memory is an in-process Transport with the same contract as the
// RabbitMQ transport, including redelivery of unacknowledged messages
// after a visibility timeout. It backs tests and the single-binary
// development mode.
type Memory struct {
	visibility time.Duration

	mu     sync.Mutex
	lanes  map[string]*memoryLane
	closed bool
}

type memoryLane struct {
	ready    chan string
	nextTag  uint64
	inflight map[uint64]*time.Timer
}

// NewMemory creates an in-memory transport for the given lanes.
// visibility is the window after which an unacknowledged delivery is
// requeued.
func NewMemory(lanes []string, visibility time.Duration) *Memory {
	m := &Memory{
		visibility: visibility,
		lanes:      make(map[string]*memoryLane, len(lanes)),
	}
	for _, name := range lanes {
		m.lanes[name] = &memoryLane{
			ready:    make(chan string, memoryLaneBuffer),
			inflight: make(map[uint64]*time.Timer),
		}
	}
	return m
}

func (m *Memory) lane(name string) (*memoryLane, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	l, ok := m.lanes[name]
	if !ok {
		return nil, ErrUnknownLane
	}
	return l, nil
}

// Enqueue appends a job reference to the lane.
func (m *Memory) Enqueue(ctx context.Context, lane, jobID string) error {
	l, err := m.lane(lane)
	if err != nil {
		return err
	}
	select {
	case l.ready <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Lane buffer full: the backing channel cannot accept the
		// message, which is the memory transport's unavailability mode.
		return ErrTransportUnavailable
	}
}

// Consume returns a delivery channel for one lane. Each delivery is
// tracked in-flight until acked or nacked; the visibility timer
// requeues it otherwise.
func (m *Memory) Consume(ctx context.Context, lane string) (<-chan Delivery, error) {
	l, err := m.lane(lane)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case jobID, ok := <-l.ready:
				if !ok {
					return
				}
				d := m.track(l, jobID)
				select {
				case out <- d:
				case <-ctx.Done():
					// Consumer went away mid-handoff: put it back.
					_ = d.Nack(true)
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *Memory) track(l *memoryLane, jobID string) Delivery {
	m.mu.Lock()
	l.nextTag++
	tag := l.nextTag
	l.inflight[tag] = time.AfterFunc(m.visibility, func() {
		m.requeue(l, tag, jobID)
	})
	m.mu.Unlock()

	return Delivery{
		JobID: jobID,
		Ack: func() error {
			m.settle(l, tag)
			return nil
		},
		Nack: func(requeue bool) error {
			if !m.settle(l, tag) {
				return nil
			}
			if requeue {
				select {
				case l.ready <- jobID:
				default:
				}
			}
			return nil
		},
	}
}

// settle removes a delivery from the in-flight table and stops its
// visibility timer. It reports whether the delivery was still pending.
func (m *Memory) settle(l *memoryLane, tag uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	timer, ok := l.inflight[tag]
	if !ok {
		return false
	}
	timer.Stop()
	delete(l.inflight, tag)
	return true
}

func (m *Memory) requeue(l *memoryLane, tag uint64, jobID string) {
	m.mu.Lock()
	if _, ok := l.inflight[tag]; !ok {
		m.mu.Unlock()
		return
	}
	delete(l.inflight, tag)
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return
	}
	select {
	case l.ready <- jobID:
	default:
	}
}

// Depth reports the ready backlog of a lane.
func (m *Memory) Depth(_ context.Context, lane string) (int, error) {
	l, err := m.lane(lane)
	if err != nil {
		return 0, err
	}
	return len(l.ready), nil
}

// Close stops the transport. In-flight visibility timers are dropped.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, l := range m.lanes {
		for tag, timer := range l.inflight {
			timer.Stop()
			delete(l.inflight, tag)
		}
	}
	return nil
}
