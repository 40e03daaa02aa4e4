// Package queue is the in-process task queue: the webhook handler enqueues
// Jobs, a fixed-size pool of goroutines dequeues and runs them concurrently
// through an injected Runner, one job per worker slot. This is the queue
// broker §6.3 calls out as a required transport address — here it is an
// in-process channel rather than an external broker, an explicit scope
// choice recorded in the design ledger.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/audit-pit-crew/gateway/pkg/domain/job"
)

// Runner executes one job to completion. The orchestrator implements this.
type Runner interface {
	RunJob(ctx context.Context, j job.Job) error
}

// Config tunes the pool's concurrency.
type Config struct {
	Workers    int
	QueueDepth int
}

// DefaultConfig returns a modest pool sized for a single gateway instance.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueDepth: 64}
}

// Stats is a snapshot of the pool's activity, exposed for the health/metrics
// surface.
type Stats struct {
	Enqueued  int64
	Started   int64
	Succeeded int64
	Failed    int64
	InFlight  int64
	QueueLen  int
}

// Pool is a fixed-size worker pool over an in-process job channel.
type Pool struct {
	cfg    Config
	runner Runner
	logger zerolog.Logger

	jobs chan job.Job
	wg   sync.WaitGroup

	enqueued  atomic.Int64
	started   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64

	closeOnce sync.Once
}

// NewPool constructs a Pool. Start must be called before jobs are
// dequeued.
func NewPool(cfg Config, runner Runner, logger zerolog.Logger) *Pool {
	return &Pool{
		cfg:    cfg,
		runner: runner,
		logger: logger,
		jobs:   make(chan job.Job, cfg.QueueDepth),
	}
}

// Start launches cfg.Workers goroutines that consume jobs until ctx is
// cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop closes the job channel so running workers drain and exit; it does
// not cancel in-flight jobs — the caller's ctx does that.
func (p *Pool) Stop() {
	p.closeOnce.Do(func() { close(p.jobs) })
	p.wg.Wait()
}

// Enqueue submits a job for execution. It returns an error only if the
// queue is full — a backpressure signal, not a job failure.
func (p *Pool) Enqueue(j job.Job) error {
	select {
	case p.jobs <- j:
		p.enqueued.Add(1)
		return nil
	default:
		return errQueueFull
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With().Int("worker_id", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			p.runOne(ctx, log, j)
		}
	}
}

func (p *Pool) runOne(ctx context.Context, log zerolog.Logger, j job.Job) {
	p.started.Add(1)
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	start := time.Now()
	err := p.runner.RunJob(ctx, j)
	elapsed := time.Since(start)

	if err != nil {
		p.failed.Add(1)
		log.Error().Err(err).Str("job_id", j.ID).Dur("elapsed", elapsed).Msg("queue: job failed")
		return
	}
	p.succeeded.Add(1)
	log.Info().Str("job_id", j.ID).Dur("elapsed", elapsed).Msg("queue: job completed")
}

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() Stats {
	return Stats{
		Enqueued:  p.enqueued.Load(),
		Started:   p.started.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		InFlight:  p.inFlight.Load(),
		QueueLen:  len(p.jobs),
	}
}

type queueFullError struct{}

func (queueFullError) Error() string { return "queue: buffer full, job rejected" }

var errQueueFull = queueFullError{}
