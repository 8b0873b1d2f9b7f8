package translate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"ozontrans/internal/api"
	"ozontrans/internal/domain"
)

// scriptedStatusAPI replays a fixed sequence of status responses,
// repeating the last step once the script runs out.
type scriptedStatusAPI struct {
	steps []statusStep
	calls int
}

type statusStep struct {
	resp *api.TaskStatusResponse
	err  error
}

func (s *scriptedStatusAPI) TaskStatus(ctx context.Context, taskID string) (*api.TaskStatusResponse, error) {
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	step := s.steps[i]
	return step.resp, step.err
}

func processingSnap(processed, total int) *api.TaskStatusResponse {
	return &api.TaskStatusResponse{Status: "processing", Processed: processed, Total: total}
}

func completedSnap() *api.TaskStatusResponse {
	return &api.TaskStatusResponse{
		Status: "completed", Processed: 3, Total: 3,
		Images: []api.OutcomeRecord{
			{OriginalName: "a.jpg", TranslatedName: "a_ru.jpg", FilePath: "req/output/a_ru.jpg", Status: "success"},
			{OriginalName: "b.jpg", TranslatedName: "b_ru.jpg", FilePath: "req/output/b_ru.jpg", Status: "success"},
			{OriginalName: "c.jpg", Status: "failed", Error: "no text regions"},
		},
	}
}

func newRunningJob() *domain.Job {
	return &domain.Job{ID: "task-1", Mode: domain.ModeOriginal, Total: 3, Status: domain.JobStatusProcessing}
}

func TestRunFollowsProgressToCompletion(t *testing.T) {
	remote := &scriptedStatusAPI{steps: []statusStep{
		{resp: processingSnap(1, 3)},
		{resp: processingSnap(2, 3)},
		{resp: completedSnap()},
	}}
	var seen []Progress
	p := NewPoller(PollerOptions{
		API:      remote,
		Interval: time.Millisecond,
		OnProgress: func(pr Progress) {
			seen = append(seen, pr)
		},
	})

	job := newRunningJob()
	if err := p.Run(context.Background(), job); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if job.SuccessCount() != 2 || job.FailedCount() != 1 {
		t.Fatalf("counts mismatch: success=%d failed=%d", job.SuccessCount(), job.FailedCount())
	}
	if got := job.SuccessCount() + job.FailedCount(); got != job.Total {
		t.Fatalf("counts do not partition the batch: %d != %d", got, job.Total)
	}
	if len(seen) != 3 || seen[0].Processed != 1 || seen[1].Processed != 2 {
		t.Fatalf("progress callbacks mismatch: %+v", seen)
	}
}

func TestRunSwallowsTransientFailures(t *testing.T) {
	steps := make([]statusStep, 0, 6)
	for i := 0; i < 5; i++ {
		steps = append(steps, statusStep{err: fmt.Errorf("connection reset")})
	}
	steps = append(steps, statusStep{resp: completedSnap()})
	remote := &scriptedStatusAPI{steps: steps}
	p := NewPoller(PollerOptions{API: remote, Interval: time.Millisecond})

	job := newRunningJob()
	if err := p.Run(context.Background(), job); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if remote.calls != 6 {
		t.Fatalf("expected 6 status checks, got %d", remote.calls)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed after transient failures, got %s", job.Status)
	}
}

func TestRunReportsServerSideFailure(t *testing.T) {
	remote := &scriptedStatusAPI{steps: []statusStep{
		{resp: &api.TaskStatusResponse{Status: "failed", Error: "insufficient credits"}},
	}}
	p := NewPoller(PollerOptions{API: remote, Interval: time.Millisecond})

	job := newRunningJob()
	err := p.Run(context.Background(), job)
	if !errors.Is(err, domain.ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
	if job.ErrorMessage != "insufficient credits" {
		t.Fatalf("error message mismatch: %q", job.ErrorMessage)
	}
}

func TestRunFailureWithoutReasonGetsDefaultMessage(t *testing.T) {
	remote := &scriptedStatusAPI{steps: []statusStep{
		{resp: &api.TaskStatusResponse{Status: "failed"}},
	}}
	p := NewPoller(PollerOptions{API: remote, Interval: time.Millisecond})

	job := newRunningJob()
	if err := p.Run(context.Background(), job); !errors.Is(err, domain.ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
	if job.ErrorMessage == "" {
		t.Fatal("expected a fallback error message")
	}
}

func TestRunGivesUpAfterAttemptBudget(t *testing.T) {
	remote := &scriptedStatusAPI{steps: []statusStep{{resp: processingSnap(1, 3)}}}
	p := NewPoller(PollerOptions{API: remote, Interval: time.Millisecond, MaxAttempts: 4})

	job := newRunningJob()
	err := p.Run(context.Background(), job)
	if !errors.Is(err, domain.ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	if remote.calls != 4 {
		t.Fatalf("expected exactly 4 checks, got %d", remote.calls)
	}
	if job.ErrorMessage == "" {
		t.Fatal("expected a timeout message on the job")
	}
	if job.Status.Terminal() {
		t.Fatalf("timed-out job must not claim a terminal server state, got %s", job.Status)
	}
}

// cancellingStatusAPI cancels the poller while a check is in flight and
// still hands back a terminal response, imitating a response that races
// the cancellation.
type cancellingStatusAPI struct {
	poller *Poller
}

func (c *cancellingStatusAPI) TaskStatus(ctx context.Context, taskID string) (*api.TaskStatusResponse, error) {
	c.poller.Cancel()
	return completedSnap(), nil
}

func TestCancelSuppressesInFlightResponse(t *testing.T) {
	remote := &cancellingStatusAPI{}
	p := NewPoller(PollerOptions{API: remote, Interval: time.Millisecond})
	remote.poller = p

	job := newRunningJob()
	err := p.Run(context.Background(), job)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if job.Status != domain.JobStatusProcessing {
		t.Fatalf("cancelled run must not mutate the job, got %s", job.Status)
	}
	if len(job.Outcomes) != 0 {
		t.Fatalf("cancelled run must not land outcomes, got %d", len(job.Outcomes))
	}
}

func TestNewRunSupersedesPrevious(t *testing.T) {
	first := statusAPIFunc(func(ctx context.Context, taskID string) (*api.TaskStatusResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := NewPoller(PollerOptions{API: first, Interval: time.Millisecond})

	firstJob := newRunningJob()
	firstDone := make(chan error, 1)
	go func() { firstDone <- p.Run(context.Background(), firstJob) }()

	// Wait for the first run to claim the slot before superseding it.
	for {
		p.mu.Lock()
		claimed := p.active != nil
		p.mu.Unlock()
		if claimed {
			break
		}
		time.Sleep(time.Millisecond)
	}

	secondCtx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Run(secondCtx, newRunningJob())

	select {
	case err := <-firstDone:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected first run cancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first run did not observe its cancellation")
	}
}

type statusAPIFunc func(ctx context.Context, taskID string) (*api.TaskStatusResponse, error)

func (f statusAPIFunc) TaskStatus(ctx context.Context, taskID string) (*api.TaskStatusResponse, error) {
	return f(ctx, taskID)
}
