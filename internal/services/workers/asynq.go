package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hibiken/asynq"
	"github.com/killallgit/vibematch-api/internal/services/generation"
)

// TypeGenerationRun is the asynq task type for one generation job
const TypeGenerationRun = "generation:run"

// NewGenerationTask creates an asynq task for a generation job
func NewGenerationTask(jobID, prompt string) (*asynq.Task, error) {
	data, err := json.Marshal(Task{JobID: jobID, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("could not marshal generation payload: %w", err)
	}
	return asynq.NewTask(TypeGenerationRun, data), nil
}

// ParseGenerationTask decodes the task payload
func ParseGenerationTask(t *asynq.Task) (Task, error) {
	var p Task
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return Task{}, fmt.Errorf("could not unmarshal payload: %w", err)
	}
	if p.JobID == "" {
		return Task{}, fmt.Errorf("payload has no job_id")
	}
	return p, nil
}

// enqueuer is the part of *asynq.Client the dispatcher needs
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// AsynqDispatcher schedules generation jobs on a Redis-backed asynq queue so
// a separate worker process can run them
type AsynqDispatcher struct {
	client  enqueuer
	timeout time.Duration
}

var _ generation.Dispatcher = (*AsynqDispatcher)(nil)

// NewAsynqDispatcher creates a dispatcher. timeout bounds a single task run
// and should exceed the generation budget.
func NewAsynqDispatcher(opt asynq.RedisClientOpt, timeout time.Duration) *AsynqDispatcher {
	return &AsynqDispatcher{client: asynq.NewClient(opt), timeout: timeout}
}

// Dispatch enqueues the job. Tasks are never retried since the job
// snapshot is already terminal when a run returns.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, jobID, prompt string) error {
	t, err := NewGenerationTask(jobID, prompt)
	if err != nil {
		return err
	}

	opts := []asynq.Option{asynq.MaxRetry(0)}
	if d.timeout > 0 {
		opts = append(opts, asynq.Timeout(d.timeout))
	}

	info, err := d.client.EnqueueContext(ctx, t, opts...)
	if err != nil {
		return fmt.Errorf("enqueue generation: %w", err)
	}
	log.Debug("Enqueued generation task", "job_id", jobID, "task_id", info.ID, "queue", info.Queue)
	return nil
}

// Close releases the redis connection
func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}

// GenerationHandler adapts a Runner to asynq
func GenerationHandler(runner Runner) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		p, err := ParseGenerationTask(t)
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		if err := runner.Run(ctx, p.JobID, p.Prompt); err != nil {
			log.Warn("Generation ended with error", "job_id", p.JobID, "err", err)
		}
		return nil
	}
}

// NewAsynqServer builds the worker-side server and mux
func NewAsynqServer(opt asynq.RedisClientOpt, concurrency int, runner Runner) (*asynq.Server, *asynq.ServeMux) {
	if concurrency <= 0 {
		concurrency = 1
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Logger:      asynqLogger{},
	})
	mux := asynq.NewServeMux()
	mux.Handle(TypeGenerationRun, GenerationHandler(runner))
	return srv, mux
}

// asynqLogger routes asynq's internal logging through charmbracelet/log
type asynqLogger struct{}

func (asynqLogger) Debug(args ...interface{}) { log.Debug(fmt.Sprint(args...)) }
func (asynqLogger) Info(args ...interface{})  { log.Info(fmt.Sprint(args...)) }
func (asynqLogger) Warn(args ...interface{})  { log.Warn(fmt.Sprint(args...)) }
func (asynqLogger) Error(args ...interface{}) { log.Error(fmt.Sprint(args...)) }
func (asynqLogger) Fatal(args ...interface{}) { log.Fatal(fmt.Sprint(args...)) }
