package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"tasklist-api/domain"
)

// EventSender hands task change events to a fixed pool of workers that
// publish them in the background. A full buffer drops the event rather than
// delaying the request that produced it.
type EventSender struct {
	publisher EventPublisher
	logger    *log.Logger
	timeout   time.Duration

	mu       sync.RWMutex
	jobs     chan domain.TaskEvent
	closed   bool
	workerWG sync.WaitGroup
}

// NewEventSender starts workers goroutines publishing through publisher.
func NewEventSender(publisher EventPublisher, logger *log.Logger, workers, buffer int, timeout time.Duration) *EventSender {
	if publisher == nil {
		panic("api.NewEventSender: publisher is nil")
	}
	if logger == nil {
		panic("api.NewEventSender: logger is nil")
	}
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}

	s := &EventSender{
		publisher: publisher,
		logger:    logger,
		timeout:   timeout,
		jobs:      make(chan domain.TaskEvent, buffer),
	}
	for i := 0; i < workers; i++ {
		s.workerWG.Add(1)
		go s.worker(i)
	}
	logger.Infof("event sender started, workers: %d, buffer: %d, timeout: %v", workers, buffer, timeout)
	return s
}

func (s *EventSender) worker(id int) {
	defer s.workerWG.Done()
	for ev := range s.jobs {
		ctx := context.Background()
		cancel := func() {}
		if s.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
		}
		err := s.publisher.PublishTaskEvent(ctx, ev)
		cancel()

		if err != nil {
			s.logger.WithFields(log.Fields{
				"event_type": ev.Type,
				"task_id":    ev.TaskID,
				"worker":     id,
			}).WithError(err).Error("publish task event failed")
		}
	}
}

// Send queues ev for publishing. It reports false when the sender is closed
// or its buffer is full.
func (s *EventSender) Send(ev domain.TaskEvent) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}

	select {
	case s.jobs <- ev:
		return true
	default:
		s.logger.WithFields(log.Fields{
			"event_type": ev.Type,
			"task_id":    ev.TaskID,
		}).Warn("event buffer saturated; dropping task event")
		return false
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (s *EventSender) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	s.workerWG.Wait()
}
