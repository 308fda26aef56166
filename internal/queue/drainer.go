package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Drainer pops one task per tick and runs it.
type Drainer struct {
	queue       *TaskQueue
	interval    time.Duration
	taskTimeout time.Duration
	logger      *slog.Logger
	failed      atomic.Uint64
}

// NewDrainer creates a drainer for q.
func NewDrainer(q *TaskQueue, interval, taskTimeout time.Duration, logger *slog.Logger) *Drainer {
	if interval <= 0 {
		interval = time.Second
	}
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Drainer{
		queue:       q,
		interval:    interval,
		taskTimeout: taskTimeout,
		logger:      logger,
	}
}

// Run drains until ctx is cancelled, then flushes what is left with a
// fresh deadline of one task timeout.
func (d *Drainer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), d.taskTimeout)
			n := d.Flush(flushCtx)
			cancel()
			if n > 0 {
				d.logger.Info("flushed deferred tasks on shutdown", "count", n)
			}
			return
		case <-ticker.C:
			d.Step(ctx)
		}
	}
}

// Step runs at most one task. It reports whether a task was run.
func (d *Drainer) Step(ctx context.Context) bool {
	t, err := d.queue.Pop()
	if err != nil {
		return false
	}
	d.run(ctx, t)
	return true
}

// Flush runs every queued task until the queue is empty or ctx is done.
func (d *Drainer) Flush(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		t, err := d.queue.Pop()
		if err != nil {
			break
		}
		d.run(ctx, t)
		n++
	}
	return n
}

// Failed returns the number of tasks that returned an error or panicked.
func (d *Drainer) Failed() uint64 {
	return d.failed.Load()
}

func (d *Drainer) run(ctx context.Context, t Task) {
	tctx, cancel := context.WithTimeout(ctx, d.taskTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return t.Run(tctx)
	}()

	if err != nil {
		d.failed.Add(1)
		level := slog.LevelError
		if errors.Is(err, context.Canceled) {
			level = slog.LevelWarn
		}
		d.logger.Log(ctx, level, "deferred task failed",
			"task", t.Name,
			"queued_for", time.Since(t.EnqueuedAt),
			"error", err,
		)
	}
}
