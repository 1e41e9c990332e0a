// Package poller drives fire-and-poll vendor jobs to a terminal state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
)

const (
	DefaultMaxAttempts = 120
	DefaultInterval    = 5 * time.Second
)

// Snapshot is what the poller needs to know about one status response.
type Snapshot struct {
	State    vendor.State
	Progress string // vendor's raw state or percentage, for display
	Message  string // failure reason when State is failed
}

// StatusFunc queries a vendor for the current status of a task.
type StatusFunc[T any] func(ctx context.Context, taskID string) (T, error)

// ExtractFunc reads a Snapshot out of a vendor status response. It returns an
// error (usually *vendor.APIError) when the response signals an API-level
// failure.
type ExtractFunc[T any] func(resp T) (Snapshot, error)

// Options tunes a poll loop. Zero values take the defaults.
type Options struct {
	MaxAttempts int
	Interval    time.Duration
	OnProgress  func(Snapshot)
	Vendor      vendor.Name
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	return o
}

// Poll queries status until the task succeeds, fails, or the attempt budget
// runs out. On success the full vendor response is returned.
//
// Transport errors count as an attempt and are retried on the next interval.
// Any other error from status or extract ends the loop at once. No wait
// follows the last attempt.
func Poll[T any](ctx context.Context, taskID string, status StatusFunc[T], extract ExtractFunc[T], opts Options) (T, error) {
	var zero T
	opts = opts.withDefaults()

	logger := log.With().Str("vendor", string(opts.Vendor)).Str("task_id", taskID).Logger()
	started := time.Now()
	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		resp, err := status(ctx, taskID)
		switch {
		case err == nil:
			snap, err := extract(resp)
			if err != nil {
				return zero, err
			}

			switch snap.State {
			case vendor.StateSucceeded:
				logger.Info().Int("attempt", attempt).Dur("elapsed", time.Since(started)).Msg("Task succeeded")
				return resp, nil
			case vendor.StateFailed:
				logger.Warn().Int("attempt", attempt).Str("reason", snap.Message).Msg("Task failed")
				return zero, &vendor.GenerationFailedError{Vendor: opts.Vendor, TaskID: taskID, Reason: snap.Message}
			}

			lastErr = nil
			logger.Debug().Int("attempt", attempt).Str("state", string(snap.State)).Str("progress", snap.Progress).Msg("Task in progress")
			if opts.OnProgress != nil {
				opts.OnProgress(snap)
			}

		case ctx.Err() != nil:
			return zero, fmt.Errorf("polling task %s cancelled: %w", taskID, ctx.Err())

		case vendor.IsTransient(err):
			lastErr = err
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Status query failed, retrying on next interval")

		default:
			return zero, err
		}

		if attempt == opts.MaxAttempts {
			break
		}
		if err := wait(ctx, opts.Interval); err != nil {
			return zero, fmt.Errorf("polling task %s cancelled: %w", taskID, err)
		}
	}

	timeoutErr := &vendor.PollingTimeoutError{
		TaskID:   taskID,
		Attempts: opts.MaxAttempts,
		Elapsed:  time.Since(started),
		LastErr:  lastErr,
	}
	logger.Warn().Err(timeoutErr).Msg("Gave up polling task")
	return zero, timeoutErr
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTimeout reports whether err is a polling timeout.
func IsTimeout(err error) bool {
	var te *vendor.PollingTimeoutError
	return errors.As(err, &te)
}
