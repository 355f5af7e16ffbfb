package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/payrelay/internal/events"
)

// TaskRelayRetry is the asynq task type carrying a relay retry.
const TaskRelayRetry = "relay:retry"

// ErrSchedulerStopped is returned once Stop has been called.
var ErrSchedulerStopped = errors.New("relay: scheduler stopped")

// InProcessScheduler retries on a timer inside the API process. Pending
// retries are lost on restart.
type InProcessScheduler struct {
	run RetryFunc

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// NewInProcessScheduler wires run as the retry attempt.
func NewInProcessScheduler(run RetryFunc) *InProcessScheduler {
	return &InProcessScheduler{run: run, timers: make(map[string]*time.Timer)}
}

// ScheduleRetry implements RetryScheduler. A second schedule for the same
// event id while one is pending is ignored.
func (s *InProcessScheduler) ScheduleRetry(ctx context.Context, ev events.Event, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSchedulerStopped
	}
	if _, pending := s.timers[ev.ID]; pending {
		return nil
	}
	detached := context.WithoutCancel(ctx)
	s.wg.Add(1)
	s.timers[ev.ID] = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		delete(s.timers, ev.ID)
		s.mu.Unlock()
		_ = s.run(detached, ev)
	})
	return nil
}

// Pending reports how many retries are waiting on their timer.
func (s *InProcessScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels pending timers and waits for running retries.
func (s *InProcessScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqScheduler hands the retry to the worker process through Redis so it
// survives an API restart.
type AsynqScheduler struct {
	Client Enqueuer
	Queue  string
	// TaskTimeout bounds the worker's attempt; it defaults to one minute.
	TaskTimeout time.Duration
}

// ScheduleRetry implements RetryScheduler.
func (s AsynqScheduler) ScheduleRetry(ctx context.Context, ev events.Event, delay time.Duration) error {
	if s.Client == nil {
		return errors.New("relay: asynq client not configured")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("relay: encode retry: %w", err)
	}
	timeout := s.TaskTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.ProcessIn(delay),
		asynq.TaskID("relay-retry:" + ev.ID),
		asynq.Timeout(timeout),
	}
	if s.Queue != "" {
		opts = append(opts, asynq.Queue(s.Queue))
	}
	_, err = s.Client.EnqueueContext(ctx, asynq.NewTask(TaskRelayRetry, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("relay: enqueue retry: %w", err)
	}
	return nil
}

// NewRetryTaskHandler adapts run to an asynq handler. Failures are marked
// SkipRetry so asynq archives the task instead of retrying it.
func NewRetryTaskHandler(run RetryFunc) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var ev events.Event
		if err := json.Unmarshal(task.Payload(), &ev); err != nil {
			return fmt.Errorf("relay: decode retry: %v: %w", err, asynq.SkipRetry)
		}
		if err := run(ctx, ev); err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return nil
	}
}
