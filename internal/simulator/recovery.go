package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

const (
	maxRecoveryFailures = 3
	recoveryTimeout     = 10 * time.Second
)

// handleError logs and counts a failed tick, then attempts recovery. It
// returns false when the main loop must terminate.
func (s *Simulator) handleError(ctx context.Context, err error) bool {
	s.m.errors.Inc()
	s.statsMu.Lock()
	s.stats.Errors++
	s.statsMu.Unlock()
	s.logger.ErrorContext(ctx, "tick failed", slog.String("error", err.Error()))

	if errors.Is(err, domain.ErrUnrecoverable) {
		s.fail(err)
		return false
	}

	rerr := s.recoverFromError(ctx)
	if rerr == nil {
		s.recoveryFailures = 0
		return true
	}
	s.recoveryFailures++
	s.m.recoveries.Inc()
	s.logger.WarnContext(ctx, "recovery failed",
		slog.Int("consecutive", s.recoveryFailures),
		slog.String("error", rerr.Error()),
	)
	if s.recoveryFailures >= maxRecoveryFailures {
		s.fail(fmt.Errorf("%d consecutive recovery failures: %w", s.recoveryFailures, rerr))
		return false
	}
	return true
}

// recoverFromError reconnects every collaborator that supports it and
// clears the submission dedup window.
func (s *Simulator) recoverFromError(ctx context.Context) error {
	s.mu.Lock()
	collab, submitter := s.collab, s.submitter
	s.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, recoveryTimeout)
	defer cancel()

	var errs []error
	for _, c := range []any{collab.Source, collab.Chain, collab.Pools, collab.PriceFeed} {
		rc, ok := c.(domain.Reconnector)
		if !ok {
			continue
		}
		if err := rc.Reconnect(rctx); err != nil {
			errs = append(errs, err)
		}
	}
	if submitter != nil {
		submitter.Reset()
	}
	if len(errs) > 0 {
		return fmt.Errorf("simulator: recover: %w", errors.Join(errs...))
	}
	s.logger.InfoContext(ctx, "recovered from error")
	return nil
}
