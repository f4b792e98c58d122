package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ameliarose/hub/internal/log"
	"github.com/ameliarose/hub/internal/run"
)

const (
	// DefaultTick is the drain cadence.
	DefaultTick = 100 * time.Millisecond
	// DefaultBatchSize caps per-tick renderer work regardless of burst size.
	DefaultBatchSize = 50
)

// Deliver receives one ordered batch per non-empty tick. It runs on the
// dispatcher goroutine with no queue lock held, so a slow renderer delays
// subsequent batches but never blocks producers.
type Deliver func(batch []run.OutputChunk)

// Dispatcher is the queue's sole consumer. It drains on a fixed tick, capped
// per batch; anything beyond the cap waits for the next tick.
type Dispatcher struct {
	queue     *Queue
	deliver   Deliver
	tick      time.Duration
	batchSize int
	logger    *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewDispatcher wires a queue to a renderer callback. Zero tick or batch size
// select the defaults.
func NewDispatcher(q *Queue, deliver Deliver, tick time.Duration, batchSize int) *Dispatcher {
	if tick <= 0 {
		tick = DefaultTick
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Dispatcher{
		queue:     q,
		deliver:   deliver,
		tick:      tick,
		batchSize: batchSize,
		logger:    log.WithComponent("dispatch"),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the drain loop.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.loop()
}

// Stop halts the loop after flushing everything still buffered.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.drainOnce()
		case <-d.stopCh:
			d.Flush()
			return
		}
	}
}

func (d *Dispatcher) drainOnce() {
	batch := d.queue.Drain(d.batchSize)
	if len(batch) == 0 {
		return
	}
	d.deliver(batch)
}

// Flush drains the queue to empty, delivering in batch-size slices.
func (d *Dispatcher) Flush() {
	for {
		batch := d.queue.Drain(d.batchSize)
		if len(batch) == 0 {
			return
		}
		d.deliver(batch)
	}
}
