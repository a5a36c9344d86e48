package collector

import (
	"sync"

	"Mansoor88-6/activity-agent/internal/metrics"
	"Mansoor88-6/activity-agent/internal/platform"

	"go.uber.org/zap"
)

// EventCollector fans raw input events from any number of hook sources into
// a single consumer goroutine. Producers never block.
type EventCollector struct {
	events   chan platform.ActivityEvent
	consume  func(platform.ActivityEvent)
	logger   *zap.Logger
	mu       sync.Mutex
	started  bool
	dropped  uint64
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewEventCollector creates a collector with room for bufferSize pending events
func NewEventCollector(bufferSize int, logger *zap.Logger) *EventCollector {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &EventCollector{
		events:   make(chan platform.ActivityEvent, bufferSize),
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins delivering events to consume
func (ec *EventCollector) Start(consume func(platform.ActivityEvent)) {
	ec.mu.Lock()
	if ec.started {
		ec.mu.Unlock()
		return
	}
	ec.started = true
	ec.consume = consume
	ec.mu.Unlock()

	ec.wg.Add(1)
	go ec.consumeLoop()

	ec.logger.Info("Event collector started", zap.Int("buffer", cap(ec.events)))
}

// Stop stops the consumer after delivering what is already buffered
func (ec *EventCollector) Stop() {
	ec.mu.Lock()
	select {
	case <-ec.stopChan:
		ec.mu.Unlock()
		return
	default:
		close(ec.stopChan)
	}
	ec.mu.Unlock()

	ec.wg.Wait()
	ec.logger.Info("Event collector stopped", zap.Uint64("dropped", ec.Dropped()))
}

// Submit hands an event to the consumer. When the buffer is full the event
// is dropped and counted.
func (ec *EventCollector) Submit(event platform.ActivityEvent) {
	select {
	case <-ec.stopChan:
		return
	default:
	}

	select {
	case ec.events <- event:
	default:
		ec.mu.Lock()
		ec.dropped++
		ec.mu.Unlock()
		metrics.EventsDropped.Inc()
	}
}

// Dropped returns how many events were lost to a full buffer
func (ec *EventCollector) Dropped() uint64 {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.dropped
}

// GetPendingCount returns the number of buffered events
func (ec *EventCollector) GetPendingCount() int {
	return len(ec.events)
}

func (ec *EventCollector) consumeLoop() {
	defer ec.wg.Done()

	for {
		select {
		case event := <-ec.events:
			ec.deliver(event)
		case <-ec.stopChan:
			for {
				select {
				case event := <-ec.events:
					ec.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (ec *EventCollector) deliver(event platform.ActivityEvent) {
	defer func() {
		if r := recover(); r != nil {
			ec.logger.Error("Activity consumer panicked", zap.Any("panic", r))
		}
	}()
	ec.consume(event)
}
