// Package executor hands assembled bundles to the blockchain interface. It
// bounds every submission by a timeout and refuses to resubmit a target set
// that was already bundled recently.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/metrics"
)

// Submission is what happened to one bundle.
type Submission struct {
	Result    domain.SubmissionResult
	Latency   time.Duration
	Duplicate bool
}

// Submitter wraps a BlockchainInterface with dedup, a per-call timeout and
// latency accounting.
type Submitter struct {
	chain   domain.BlockchainInterface
	dedup   *Dedup
	timeout time.Duration
	logger  *slog.Logger

	submitted  metrics.Counter
	included   metrics.Counter
	duplicates metrics.Counter
	failures   metrics.Counter
	latency    metrics.Histogram
}

// NewSubmitter creates a Submitter. A non-positive timeout defaults to one
// second; a non-positive dedupTTL defaults to two minutes.
func NewSubmitter(chain domain.BlockchainInterface, timeout, dedupTTL time.Duration, logger *slog.Logger, sink metrics.Sink) *Submitter {
	if timeout <= 0 {
		timeout = time.Second
	}
	if dedupTTL <= 0 {
		dedupTTL = 2 * time.Minute
	}
	return &Submitter{
		chain:      chain,
		dedup:      NewDedup(dedupTTL),
		timeout:    timeout,
		logger:     logger.With(slog.String("component", "executor")),
		submitted:  sink.Counter("bundles_submitted_total", "Bundles handed to the blockchain interface.", nil),
		included:   sink.Counter("bundles_included_total", "Bundles reported as included.", nil),
		duplicates: sink.Counter("bundles_duplicate_total", "Bundles skipped because their targets were bundled recently.", nil),
		failures:   sink.Counter("bundle_submission_errors_total", "Submissions that failed at the blockchain interface.", nil),
		latency:    sink.Histogram("bundle_submission_latency_seconds", "Bundle submission latency.", nil, nil),
	}
}

// Submit sends bundle unless its target set was submitted within the dedup
// window. A failed submission releases the target set so a later block can
// retry it.
func (s *Submitter) Submit(ctx context.Context, bundle *domain.Bundle, targets []string) (Submission, error) {
	key := TargetKey(targets)
	if s.dedup.IsDuplicate(key) {
		s.duplicates.Inc()
		s.logger.DebugContext(ctx, "duplicate target set skipped",
			slog.String("bundle_id", bundle.ID),
			slog.String("targets", key),
		)
		return Submission{Duplicate: true, Result: domain.SubmissionResult{BundleID: bundle.ID, Reason: "duplicate target set"}}, nil
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.chain.SubmitBundle(cctx, bundle)
	sub := Submission{Result: res, Latency: time.Since(start)}
	s.latency.Observe(sub.Latency.Seconds())
	s.submitted.Inc()

	if err != nil {
		s.dedup.Forget(key)
		s.failures.Inc()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return sub, fmt.Errorf("executor: submit bundle %s: %w after %s", bundle.ID, domain.ErrTimeout, s.timeout)
		}
		return sub, fmt.Errorf("executor: submit bundle %s: %w", bundle.ID, err)
	}
	if !res.Included {
		s.dedup.Forget(key)
		s.logger.InfoContext(ctx, "bundle not included",
			slog.String("bundle_id", bundle.ID),
			slog.Uint64("block", bundle.BlockNumber),
			slog.String("reason", res.Reason),
		)
		return sub, nil
	}
	s.included.Inc()
	s.logger.InfoContext(ctx, "bundle included",
		slog.String("bundle_id", bundle.ID),
		slog.Uint64("block", bundle.BlockNumber),
		slog.Uint64("gas_used", res.GasUsed),
		slog.Duration("latency", sub.Latency),
	)
	return sub, nil
}

// Cleanup expires old dedup entries and returns how many remain.
func (s *Submitter) Cleanup() int { return s.dedup.Cleanup() }

// Reset clears the dedup window.
func (s *Submitter) Reset() { s.dedup.Reset() }

// Tracked returns the number of target sets inside the dedup window.
func (s *Submitter) Tracked() int { return s.dedup.Len() }
