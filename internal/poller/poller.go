// Package poller drives generation jobs from submission to a terminal state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain"
	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
	"github.com/satriahrh/nexus/internal/metrics"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultMaxPolls = 60
)

// ErrStatusUnavailable is returned when a status check kept failing after
// every retry. The job itself is left untouched.
var ErrStatusUnavailable = errors.New("job status unavailable")

// PollFunc checks the status of a job once
type PollFunc func(ctx context.Context, job entities.GenerationJob) (repositories.PollResult, error)

// Config holds configuration for the poller
type Config struct {
	Interval time.Duration
	MaxPolls int
	// Backoff builds the retry policy applied to one failing status check.
	// Nil means a failing check is not retried.
	Backoff func() retry.Backoff
}

// Poller polls jobs on a fixed interval
type Poller struct {
	config Config
	wait   func(ctx context.Context, d time.Duration) error
	logger *zap.Logger
}

// ValidateConfig validates the poller configuration
func ValidateConfig(config Config) error {
	if config.Interval < 0 {
		return fmt.Errorf("poll interval must not be negative, got %v", config.Interval)
	}
	if config.MaxPolls < 0 {
		return fmt.Errorf("max polls must not be negative, got %d", config.MaxPolls)
	}
	return nil
}

// NewPoller creates a poller
func NewPoller(config Config, logger *zap.Logger) (*Poller, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid poller config: %w", err)
	}
	if config.Interval == 0 {
		logger.Info("Using default poll interval", zap.Duration("interval", DefaultInterval))
		config.Interval = DefaultInterval
	}
	if config.MaxPolls == 0 {
		logger.Info("Using default max polls", zap.Int("maxPolls", DefaultMaxPolls))
		config.MaxPolls = DefaultMaxPolls
	}
	return &Poller{config: config, wait: sleep, logger: logger}, nil
}

// ExponentialBackoff retries a failing check after base, then doubling, at
// most retries times
func ExponentialBackoff(base time.Duration, retries uint64) func() retry.Backoff {
	return func() retry.Backoff {
		return retry.WithMaxRetries(retries, retry.NewExponential(base))
	}
}

// Run polls job until it is Done or Failed, or until MaxPolls checks did not
// finish it, in which case it is Failed with a timeout detail. onUpdate sees
// every state change. Polling stops on the first terminal observation.
func (p *Poller) Run(ctx context.Context, job entities.GenerationJob, poll PollFunc, onUpdate func(entities.GenerationJob)) (entities.GenerationJob, error) {
	if job.IsTerminal() {
		return job, nil
	}

	for job.Polls < p.config.MaxPolls {
		if err := p.wait(ctx, p.config.Interval); err != nil {
			return job, err
		}

		result, err := p.check(ctx, job, poll)
		if err != nil {
			return job, err
		}
		job.Polls++
		metrics.JobPolls.Inc()

		switch {
		case result.Done:
			_ = job.Complete(result.ResultRef)
		case result.Failure != "":
			_ = job.Fail(result.Failure)
		default:
			_ = job.MarkPolling()
		}
		onUpdate(job)

		if job.IsTerminal() {
			p.finished(job)
			return job, nil
		}
	}

	_ = job.Fail(fmt.Sprintf("generation did not finish after %d status checks", job.Polls))
	onUpdate(job)
	p.finished(job)
	return job, nil
}

func (p *Poller) check(ctx context.Context, job entities.GenerationJob, poll PollFunc) (repositories.PollResult, error) {
	if p.config.Backoff == nil {
		result, err := poll(ctx, job)
		if err != nil {
			return result, p.unavailable(job, err)
		}
		return result, nil
	}

	var result repositories.PollResult
	err := retry.Do(ctx, p.config.Backoff(), func(ctx context.Context) error {
		r, err := poll(ctx, job)
		if err != nil {
			p.logger.Warn("Job status check failed",
				zap.String("jobID", job.ID),
				zap.String("handle", job.Handle),
				zap.Error(err))
			return retry.RetryableError(err)
		}
		result = r
		return nil
	})
	if err != nil {
		return result, p.unavailable(job, err)
	}
	return result, nil
}

func (p *Poller) unavailable(job entities.GenerationJob, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.E(domain.KindTransport, "poller.Run", "Could not check the generation status", fmt.Errorf("%w: %w", ErrStatusUnavailable, err))
}

func (p *Poller) finished(job entities.GenerationJob) {
	metrics.JobsFinished.WithLabelValues(string(job.Kind), string(job.State)).Inc()
	p.logger.Info("Generation job finished",
		zap.String("jobID", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("state", string(job.State)),
		zap.Int("polls", job.Polls))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
