package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-rental/internal/logger"
	"ms-rental/internal/models"
)

type SweepFailure struct {
	ReservationID string `json:"reservation_id"`
	Error         string `json:"error"`
}

type SweepResult struct {
	Scanned   int            `json:"scanned"`
	Succeeded int            `json:"succeeded"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Failures  []SweepFailure `json:"failures,omitempty"`
}

// SweepExpired cancels every hold created more than threshold ago. A failing
// item is recorded and the sweep moves on to the next one.
func (s *Service) SweepExpired(ctx context.Context, threshold time.Duration) (*SweepResult, error) {
	if threshold <= 0 {
		threshold = s.policy.HoldTTL
	}
	started := time.Now()
	cutoff := s.now().Add(-threshold)

	s.record(ctx, models.AuditEntry{
		Action:  models.ActionAutoCancelCheck,
		Details: map[string]any{"threshold_minutes": threshold.Minutes(), "cutoff": cutoff.Format(time.RFC3339)},
	})

	stale, err := s.store.FindStale(ctx, models.StatusHeld, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stale holds: %w", err)
	}

	result := &SweepResult{Scanned: len(stale)}
	for i := range stale {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("SWEEP", fmt.Sprintf("sweep interrupted after %d of %d: %v", i, len(stale), err))
			break
		}

		id := stale[i].ID
		err := s.expireOne(ctx, id)
		switch {
		case err == nil:
			result.Succeeded++
			s.metrics.SweepItem("canceled")
		case errors.Is(err, ErrStaleState):
			result.Skipped++
			s.metrics.SweepItem("skipped")
		default:
			result.Failed++
			result.Failures = append(result.Failures, SweepFailure{ReservationID: id, Error: err.Error()})
			s.metrics.SweepItem("failed")
			s.logger.Error("SWEEP", fmt.Sprintf("auto-cancel %s failed: %v", id, err))
		}
	}

	s.metrics.SweepDuration(time.Since(started).Seconds())
	s.logger.LogSweep(fmt.Sprintf("scanned=%d succeeded=%d skipped=%d failed=%d", result.Scanned, result.Succeeded, result.Skipped, result.Failed))
	s.record(ctx, models.AuditEntry{
		Action: models.ActionAutoCancelFinished,
		Details: map[string]any{
			"scanned":   result.Scanned,
			"succeeded": result.Succeeded,
			"skipped":   result.Skipped,
			"failed":    result.Failed,
		},
	})
	return result, nil
}

func (s *Service) expireOne(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	_, err = s.Cancel(ctx, id, models.ReasonAutoExpire)
	return err
}

// Leaser keeps two sweeper replicas from running the same pass.
type Leaser interface {
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, owner string) error
}

const sweepLeaseName = "expiry-sweeper"

// A pass may outlast one interval; the lease must not lapse mid-pass. It is
// released as soon as the pass ends.
const sweepLeaseIntervals = 2

type Sweeper struct {
	svc       *Service
	interval  time.Duration
	threshold time.Duration
	leaser    Leaser
	owner     string
	logger    *logger.Logger
}

func NewSweeper(svc *Service, interval, threshold time.Duration, leaser Leaser, owner string, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{svc: svc, interval: interval, threshold: threshold, leaser: leaser, owner: owner, logger: log}
}

// Run sweeps once per interval until ctx is done.
func (sw *Sweeper) Run(ctx context.Context) error {
	sw.logger.LogSweep(fmt.Sprintf("started, interval %s", sw.interval))
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.logger.LogSweep("stopped")
			return nil
		case <-ticker.C:
			if _, err := sw.RunOnce(ctx); err != nil {
				sw.logger.Error("SWEEP", err.Error())
			}
		}
	}
}

// RunOnce performs a single pass. It returns a nil result when another
// replica holds the lease.
func (sw *Sweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	if sw.leaser != nil {
		ok, err := sw.leaser.AcquireLease(ctx, sweepLeaseName, sw.owner, sweepLeaseIntervals*sw.interval)
		if err != nil {
			return nil, fmt.Errorf("acquire sweep lease: %w", err)
		}
		if !ok {
			sw.logger.Debug("SWEEP", "lease held elsewhere, skipping pass")
			return nil, nil
		}
		defer func() {
			if err := sw.leaser.ReleaseLease(context.WithoutCancel(ctx), sweepLeaseName, sw.owner); err != nil {
				sw.logger.Warn("SWEEP", fmt.Sprintf("release lease: %v", err))
			}
		}()
	}
	return sw.svc.SweepExpired(ctx, sw.threshold)
}
