package translate

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ozontrans/internal/api"
	"ozontrans/internal/domain"
	"ozontrans/internal/infra"
)

const (
	// DefaultPollInterval matches the observed cadence of the service:
	// one status check every 3 seconds.
	DefaultPollInterval = 3 * time.Second
	// DefaultMaxAttempts caps the loop at 200 checks (10 minutes at
	// the default interval) before the client gives up on the handle.
	DefaultMaxAttempts = 200

	timeoutMessage       = "translation timed out, please retry"
	defaultFailedMessage = "translation failed"
)

// StatusAPI is the remote surface the poller depends on.
type StatusAPI interface {
	TaskStatus(ctx context.Context, taskID string) (*api.TaskStatusResponse, error)
}

// Progress is one snapshot emitted while a job is still running.
type Progress struct {
	Processed int
	Total     int
	Status    domain.JobStatus
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	API         StatusAPI
	Logger      *infra.Logger
	Interval    time.Duration
	MaxAttempts int
	// OnProgress, when set, receives a snapshot after every applied
	// check. Called from the polling goroutine.
	OnProgress func(Progress)
}

// Poller drives the bounded polling loop for a job handle. At most one
// run is active per poller; starting a new run cancels the previous
// one, and a cancelled run never mutates its job again, even when an
// in-flight response arrives after the fact.
type Poller struct {
	api         StatusAPI
	logger      *infra.Logger
	interval    time.Duration
	maxAttempts int
	onProgress  func(Progress)

	mu     sync.Mutex
	active *pollRun
}

type pollRun struct {
	cancel context.CancelFunc
}

// NewPoller constructs a poller with the reference defaults applied.
func NewPoller(opts PollerOptions) *Poller {
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Poller{
		api:         opts.API,
		logger:      logger,
		interval:    interval,
		maxAttempts: maxAttempts,
		onProgress:  opts.OnProgress,
	}
}

// Cancel stops the active run, if any. Safe to call at any time.
func (p *Poller) Cancel() {
	p.mu.Lock()
	run := p.active
	p.active = nil
	p.mu.Unlock()
	if run != nil {
		run.cancel()
	}
}

// Run polls the job until a terminal state, the attempt budget, or
// cancellation. It blocks the calling goroutine and owns the job for
// its duration: nothing else may write job fields while it runs.
//
// Returns nil when the job completed, ErrJobFailed when the server
// reported terminal failure, ErrPollTimeout when the budget ran out,
// and the context error when cancelled.
func (p *Poller) Run(ctx context.Context, job *domain.Job) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := &pollRun{cancel: cancel}
	p.mu.Lock()
	if prev := p.active; prev != nil {
		prev.cancel()
	}
	p.active = run
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		// A newer run may already own the slot.
		if p.active == run {
			p.active = nil
		}
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if attempt > p.maxAttempts {
			job.ErrorMessage = timeoutMessage
			job.UpdatedAt = time.Now()
			p.logger.Warn().
				Str("task_id", job.ID).
				Int("attempts", p.maxAttempts).
				Msg("translate: giving up on job, server may still be running it")
			return fmt.Errorf("%w after %d attempts", domain.ErrPollTimeout, p.maxAttempts)
		}

		select {
		case <-runCtx.Done():
			return runCtx.Err()
		case <-ticker.C:
		}

		snap, err := p.api.TaskStatus(runCtx, job.ID)
		if err != nil {
			if runCtx.Err() != nil {
				return runCtx.Err()
			}
			// Transient failures must not abort an otherwise-succeeding
			// long job; only the terminal outcome reaches the caller.
			p.logger.Warn().Err(err).
				Str("task_id", job.ID).
				Int("attempt", attempt).
				Msg("translate: status check failed, continuing")
			continue
		}
		// A response that raced cancellation must not land on a job
		// that may already belong to a superseding submission.
		if runCtx.Err() != nil {
			return runCtx.Err()
		}

		p.apply(job, snap)
		if p.onProgress != nil {
			p.onProgress(Progress{Processed: job.Processed, Total: job.Total, Status: job.Status})
		}

		switch job.Status {
		case domain.JobStatusCompleted:
			p.logger.Info().
				Str("task_id", job.ID).
				Int("success", job.SuccessCount()).
				Int("failed", job.FailedCount()).
				Msg("translate: job completed")
			return nil
		case domain.JobStatusFailed:
			return fmt.Errorf("%w: %s", domain.ErrJobFailed, job.ErrorMessage)
		}
	}
}

// apply folds one status snapshot into the job. Progress counters are
// taken on every check; outcomes only once terminal.
func (p *Poller) apply(job *domain.Job, snap *api.TaskStatusResponse) {
	job.Processed = snap.Processed
	if snap.Total > 0 {
		job.Total = snap.Total
	}
	job.UpdatedAt = time.Now()

	switch domain.JobStatus(snap.Status) {
	case domain.JobStatusCompleted:
		job.Status = domain.JobStatusCompleted
		job.Outcomes = make([]domain.Outcome, 0, len(snap.Images))
		for _, img := range snap.Images {
			job.Outcomes = append(job.Outcomes, domain.Outcome{
				SourceName:  img.OriginalName,
				OutputName:  img.TranslatedName,
				StoragePath: img.FilePath,
				Status:      domain.OutcomeStatus(img.Status),
				Error:       img.Error,
			})
		}
	case domain.JobStatusFailed:
		job.Status = domain.JobStatusFailed
		job.ErrorMessage = snap.Error
		if job.ErrorMessage == "" {
			job.ErrorMessage = defaultFailedMessage
		}
	case domain.JobStatusPending:
		job.Status = domain.JobStatusPending
	default:
		job.Status = domain.JobStatusProcessing
	}
}
