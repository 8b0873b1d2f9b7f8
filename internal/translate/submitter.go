package translate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"ozontrans/internal/api"
	"ozontrans/internal/domain"
	"ozontrans/internal/infra"
)

// SubmitAPI is the remote surface the submitter depends on.
type SubmitAPI interface {
	SubmitBatch(ctx context.Context, token string, mode domain.TranslateMode, files []api.FileUpload) (*api.SubmitResponse, error)
}

// SessionState exposes the slice of the session the job flow needs:
// read the credential, kick balance refreshes, report auth failures.
type SessionState interface {
	Credential() (string, bool)
	RefreshAsync(ctx context.Context)
	NoteAuthFailure(ctx context.Context, err error)
}

// Submitter packages a file selection into one batch submission.
type Submitter struct {
	api     SubmitAPI
	session SessionState
	logger  *infra.Logger
}

// NewSubmitter wires a submitter to the remote API and the session.
func NewSubmitter(submitAPI SubmitAPI, session SessionState, logger *infra.Logger) *Submitter {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Submitter{api: submitAPI, session: session, logger: logger}
}

// Submit validates the selection, issues the multipart submission and
// returns the job handle. Validation failures never reach the network.
// After a successful submission the balance refresh is fired and
// forgotten, since usage is deducted server-side.
func (s *Submitter) Submit(ctx context.Context, mode domain.TranslateMode, files []api.FileUpload) (*domain.Job, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files selected", domain.ErrValidation)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrValidation, mode)
	}
	token, ok := s.session.Credential()
	if !ok {
		return nil, fmt.Errorf("%w: login required", domain.ErrValidation)
	}

	resp, err := s.api.SubmitBatch(ctx, token, mode, files)
	if err != nil {
		s.session.NoteAuthFailure(ctx, err)
		if errors.Is(err, domain.ErrAuthExpired) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrSubmission, err)
	}
	if resp.TaskID == "" {
		return nil, fmt.Errorf("%w: server returned no task id", domain.ErrSubmission)
	}

	now := time.Now()
	job := &domain.Job{
		ID:          resp.TaskID,
		Mode:        mode,
		Total:       len(files),
		Status:      domain.JobStatusProcessing,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if resp.Status == string(domain.JobStatusPending) {
		job.Status = domain.JobStatusPending
	}

	s.logger.Info().
		Str("task_id", job.ID).
		Str("mode", string(mode)).
		Int("total", job.Total).
		Msg("translate: batch submitted")

	s.session.RefreshAsync(ctx)
	return job, nil
}
