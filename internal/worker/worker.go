package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"catalogpipe/internal/bus"
	"catalogpipe/internal/ledger"
	"catalogpipe/internal/logging"
	"catalogpipe/internal/metrics"
)

// Handler executes one stage's operation for one message. A non-nil error
// triggers the bus's retry/dead-letter policy for the message.
type Handler func(ctx context.Context, msg bus.Message) error

// memoryGate lets a consumer pause handler dispatch under memory pressure
// without caring how pressure is measured.
type memoryGate interface {
	WaitIfPaused() bool
}

// Consumer runs Concurrency goroutines pulling from one topic.
type Consumer struct {
	Topic       string
	Handler     Handler
	Bus         *bus.Bus
	Ledger      *ledger.Ledger
	Concurrency int

	// PollInterval is how long an idle worker waits before re-checking an
	// empty queue. Defaults to 500ms.
	PollInterval time.Duration

	// Memory, when set, gates dispatch of new messages on memory pressure.
	Memory memoryGate
}

// Run blocks until ctx is cancelled, running Concurrency worker goroutines.
func (c *Consumer) Run(ctx context.Context) {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	metrics.WorkerPoolSize.WithLabelValues(c.Topic).Set(float64(c.Concurrency))

	var wg sync.WaitGroup
	for i := 0; i < c.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (c *Consumer) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 500 * time.Millisecond
}

func (c *Consumer) loop(ctx context.Context, id int) {
	logging.Debug("worker: %s consumer %d started", c.Topic, id)
	defer logging.Debug("worker: %s consumer %d stopped", c.Topic, id)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if c.Memory != nil && !c.Memory.WaitIfPaused() {
			return
		}

		d, err := c.Bus.Receive(c.Topic)
		if errors.Is(err, bus.ErrEmpty) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.pollInterval()):
			}
			continue
		}
		if err != nil {
			logging.Warn("worker: %s receive: %v", c.Topic, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.pollInterval()):
			}
			continue
		}

		c.process(ctx, d)
	}
}

func (c *Consumer) process(ctx context.Context, d bus.Delivery) {
	msg := d.Message
	if msg.JobID != "" {
		if err := c.Ledger.Start(ctx, msg.JobID); err != nil && !errors.Is(err, ledger.ErrTerminal) {
			logging.Warn("worker: %s start job %s: %v", c.Topic, msg.JobID, err)
		}
	}

	start := time.Now()
	err := c.Handler(ctx, msg)
	metrics.WorkerProcessDuration.WithLabelValues(c.Topic).Observe(time.Since(start).Seconds())

	if err == nil {
		if msg.JobID != "" {
			if cerr := c.Ledger.Complete(ctx, msg.JobID); cerr != nil {
				logging.Warn("worker: %s complete job %s: %v", c.Topic, msg.JobID, cerr)
			}
		}
		if aerr := c.Bus.Ack(d); aerr != nil {
			logging.Warn("worker: %s ack: %v", c.Topic, aerr)
		}
		metrics.WorkerMessagesTotal.WithLabelValues(c.Topic, "completed").Inc()
		return
	}

	logging.Warn("worker: %s handler failed for job %s: %v", c.Topic, msg.JobID, err)
	nackErr := c.Bus.Nack(d)
	switch {
	case errors.Is(nackErr, bus.ErrMaxAttempts):
		if msg.JobID != "" {
			if ferr := c.Ledger.Fail(ctx, msg.JobID, err.Error()); ferr != nil {
				logging.Warn("worker: %s fail job %s: %v", c.Topic, msg.JobID, ferr)
			}
		}
		metrics.WorkerMessagesTotal.WithLabelValues(c.Topic, "dead_lettered").Inc()
	case nackErr != nil:
		logging.Warn("worker: %s nack: %v", c.Topic, nackErr)
	default:
		metrics.WorkerMessagesTotal.WithLabelValues(c.Topic, "retried").Inc()
	}
}
