package scheduler

import (
	"context"
	"sync"
	"time"

	"paycore/pkg/logger"
)

// Task is a periodic background job.
type Task struct {
	Name     string
	Interval time.Duration
	NextRun  time.Time
	Timeout  time.Duration
	Run      func(ctx context.Context, now time.Time) error

	running bool
}

type Scheduler struct {
	tasks  map[string]*Task
	mu     sync.Mutex
	logger logger.Logger
	tick   time.Duration
	now    func() time.Time
	stop   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewScheduler checks for due tasks every tick.
func NewScheduler(tick time.Duration, log logger.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	return &Scheduler{
		tasks:  make(map[string]*Task),
		logger: log,
		tick:   tick,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *Scheduler) Schedule(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.NextRun.IsZero() {
		t.NextRun = s.now().Add(t.Interval)
	}
	s.tasks[t.Name] = t
	s.logger.Info("Scheduled task", map[string]interface{}{
		"task":     t.Name,
		"interval": t.Interval.String(),
	})
}

func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.tick)
	go func() {
		defer close(s.done)
		for {
			select {
			case <-ticker.C:
				s.processTasks()
			case <-s.stop:
				ticker.Stop()
				return
			}
		}
	}()
	s.logger.Info("Scheduler started", nil)
}

// Stop ends the ticker loop and waits for running tasks.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
		s.wg.Wait()
		s.logger.Info("Scheduler stopped", nil)
	})
}

func (s *Scheduler) processTasks() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, task := range s.tasks {
		if task.running || now.Before(task.NextRun) {
			continue
		}
		task.running = true
		task.NextRun = now.Add(task.Interval)
		s.wg.Add(1)
		go s.execute(task, now)
	}
}

// A task never overlaps with itself; a tick that finds it running skips it.
func (s *Scheduler) execute(t *Task, now time.Time) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		t.running = false
		s.mu.Unlock()
	}()

	ctx := context.Background()
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	if err := t.Run(ctx, now); err != nil {
		s.logger.Error("Scheduled task failed", map[string]interface{}{
			"task":  t.Name,
			"error": err.Error(),
		})
	}
}
