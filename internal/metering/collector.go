package metering

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alecgard/pantry/internal/quota"
)

// BatchInserter is the interface used by Collector to persist events.
// It exists to allow testing without a real database.
type BatchInserter interface {
	BatchInsert(ctx context.Context, events []Event) error
}

// CollectorMetrics receives collector instrumentation.
type CollectorMetrics interface {
	SetCollectorBufferSize(n int)
	ObserveCollectorFlush(events int, d time.Duration, err error)
	IncCollectorEvents()
}

// Collector buffers events in memory and periodically flushes them to the
// store in batches. It is safe for concurrent use and implements
// quota.Observer.
type Collector struct {
	store         BatchInserter
	buffer        []Event
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	done          chan struct{}
	stopOnce      sync.Once
	metrics       CollectorMetrics
}

// NewCollector creates a new Collector that flushes to the given store when the
// buffer reaches batchSize or every flushInterval, whichever comes first.
func NewCollector(store BatchInserter, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Collector{
		store:         store,
		buffer:        make([]Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
}

// SetMetrics sets the optional metrics recorder.
func (c *Collector) SetMetrics(m CollectorMetrics) {
	c.metrics = m
}

// Start flushes buffered events on a timer. It blocks until Stop is called or
// the context is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-ctx.Done():
			c.flush()
			return
		case <-c.done:
			return
		}
	}
}

// Observe records a tracker decision.
func (c *Collector) Observe(_ context.Context, d quota.Decision) {
	c.Record(EventFromDecision(d))
}

// Record adds an event to the buffer. If the buffer reaches batchSize,
// a flush is triggered immediately.
func (c *Collector) Record(e Event) {
	c.mu.Lock()
	c.buffer = append(c.buffer, e)
	n := len(c.buffer)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.IncCollectorEvents()
		c.metrics.SetCollectorBufferSize(n)
	}
	if n >= c.batchSize {
		c.flush()
	}
}

// flush drains all buffered events and writes them to the store. Errors are
// logged rather than returned so callers are not blocked.
func (c *Collector) flush() {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]Event, 0, c.batchSize)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	err := c.store.BatchInsert(ctx, batch)
	if err != nil {
		slog.Error("failed to flush quota events", "count", len(batch), "error", err)
	}
	if c.metrics != nil {
		c.metrics.ObserveCollectorFlush(len(batch), time.Since(start), err)
		c.metrics.SetCollectorBufferSize(0)
	}
}

// Stop ends the background loop and flushes whatever is still buffered
// before returning. It is safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.flush()
	})
}
