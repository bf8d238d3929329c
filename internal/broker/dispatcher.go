// Package broker runs outbound work, such as calls to the messaging
// gateway, on a fixed pool of workers so request handlers and the hub never
// wait on the network.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull = errors.New("dispatch queue is full")
	ErrStopped   = errors.New("dispatcher is stopped")
)

// Job is one unit of outbound work. Run receives the dispatcher's context,
// which is cancelled on shutdown.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

type Dispatcher struct {
	jobs    chan Job
	workers int
	log     *slog.Logger
	stopped chan struct{}
	failed  atomic.Int64
	done    atomic.Int64
}

func NewDispatcher(workers, buffer int, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		jobs:    make(chan Job, max(buffer, 1)),
		workers: max(workers, 1),
		log:     log,
		stopped: make(chan struct{}),
	}
}

// Enqueue schedules job without blocking.
func (d *Dispatcher) Enqueue(job Job) error {
	select {
	case <-d.stopped:
		return ErrStopped
	default:
	}

	select {
	case d.jobs <- job:
		return nil
	default:
		d.log.Warn("dropping job - queue full", "job", job.Name, "capacity", cap(d.jobs))
		return ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is cancelled and every
// in-flight job has returned. Jobs still queued at that point are dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.stopped)

	g, ctx := errgroup.WithContext(ctx)
	for i := range d.workers {
		g.Go(func() error {
			d.work(ctx, i)
			return nil
		})
	}

	err := g.Wait()
	if n := len(d.jobs); n > 0 {
		d.log.Warn("dispatcher stopped with queued jobs", "dropped", n)
	}
	return err
}

func (d *Dispatcher) work(ctx context.Context, id int) {
	for {
		select {
		case job := <-d.jobs:
			d.run(ctx, id, job)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, worker int, job Job) {
	start := time.Now()
	err := safeRun(ctx, job)
	if err != nil {
		d.failed.Add(1)
		d.log.Error("job failed",
			"job", job.Name,
			"worker", worker,
			"error", err,
			"duration", time.Since(start))
		return
	}

	d.done.Add(1)
	d.log.Debug("job done",
		"job", job.Name,
		"worker", worker,
		"duration", time.Since(start))
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}

// Stats is a snapshot of the dispatcher counters.
type Stats struct {
	Queued    int   `json:"queued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:    len(d.jobs),
		Completed: d.done.Load(),
		Failed:    d.failed.Load(),
	}
}
