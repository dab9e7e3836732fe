package fraud

import (
	"context"
	"sync"
	"time"

	"paycore/internal/domain"
	"paycore/internal/metrics"
	"paycore/pkg/config"
	"paycore/pkg/errors"
	"paycore/pkg/logger"
)

// Evaluator is the work each dispatcher job performs.
type Evaluator interface {
	Evaluate(ctx context.Context, m *domain.Movement) ([]*domain.FraudAlert, error)
}

// Dispatcher runs fraud evaluation on a fixed worker pool fed by a bounded
// queue. Jobs run on contexts detached from the request that posted the movement.
type Dispatcher struct {
	evaluator Evaluator
	jobs      chan *domain.Movement
	workers   int
	timeout   time.Duration
	metrics   *metrics.Collector
	logger    logger.Logger

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
	base    context.Context
	cancel  context.CancelFunc
}

func NewDispatcher(evaluator Evaluator, cfg config.FraudConfig, log logger.Logger) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		evaluator: evaluator,
		jobs:      make(chan *domain.Movement, size),
		workers:   workers,
		timeout:   cfg.EvalTimeout,
		logger:    log,
		base:      base,
		cancel:    cancel,
	}
}

func (d *Dispatcher) WithMetrics(m *metrics.Collector) *Dispatcher {
	d.metrics = m
	return d
}

func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(i)
	}
	d.logger.Info("Fraud dispatcher started", map[string]interface{}{
		"workers":    d.workers,
		"queue_size": cap(d.jobs),
	})
}

// Enqueue hands the movement to the pool without blocking. It fails with
// ErrQueueFull when the queue is at capacity or the dispatcher is stopped.
func (d *Dispatcher) Enqueue(m *domain.Movement) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return errors.Wrap(errors.ErrQueueFull, "fraud dispatcher stopped")
	}
	job := *m
	select {
	case d.jobs <- &job:
		d.metrics.FraudQueueDepth(len(d.jobs))
		return nil
	default:
		return errors.ErrQueueFull
	}
}

// Stop refuses new jobs, drains the queue and waits for the workers. When ctx
// ends first, in-flight evaluations are cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info("Fraud dispatcher stopped", nil)
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) work(id int) {
	defer d.wg.Done()
	for m := range d.jobs {
		d.metrics.FraudQueueDepth(len(d.jobs))
		d.run(id, m)
	}
}

func (d *Dispatcher) run(worker int, m *domain.Movement) {
	ctx := d.base
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(d.base, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Fraud evaluation panicked", map[string]interface{}{
				"worker":      worker,
				"movement_id": m.ID,
				"panic":       r,
			})
		}
	}()

	alerts, err := d.evaluator.Evaluate(ctx, m)
	if err != nil {
		d.logger.Error("Fraud evaluation failed", map[string]interface{}{
			"worker":      worker,
			"movement_id": m.ID,
			"error":       err,
		})
		return
	}
	if len(alerts) > 0 {
		d.logger.Debug("Fraud evaluation complete", map[string]interface{}{
			"movement_id": m.ID,
			"alerts":      len(alerts),
		})
	}
}
