package domain

import "time"

// TranslateMode enumerates supported output layouts for a batch.
type TranslateMode string

const (
	// ModeOriginal keeps the source dimensions untouched.
	ModeOriginal TranslateMode = "original"
	// ModeFixedAspect pads the output to the marketplace 3:4 main-image ratio.
	ModeFixedAspect TranslateMode = "ozon_3_4"
)

// Valid reports whether the mode is one the remote service accepts.
func (m TranslateMode) Valid() bool {
	return m == ModeOriginal || m == ModeFixedAspect
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// OutcomeStatus enumerates per-item results.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Outcome is the per-item result of a batch job. OutputName and
// StoragePath are only present when Status is OutcomeSuccess.
type Outcome struct {
	SourceName  string
	OutputName  string
	StoragePath string
	Status      OutcomeStatus
	Error       string
}

// Job tracks one server-side batch translation request through its
// handle. Created by the submitter, mutated only by the active poller.
type Job struct {
	ID           string
	Mode         TranslateMode
	Total        int
	Processed    int
	Status       JobStatus
	Outcomes     []Outcome
	ErrorMessage string
	SubmittedAt  time.Time
	UpdatedAt    time.Time
}

// Terminal reports whether the job reached a final state.
func (j *Job) Terminal() bool {
	return j != nil && j.Status.Terminal()
}

// SuccessCount counts successful outcomes. Meaningful once terminal.
func (j *Job) SuccessCount() int {
	if j == nil {
		return 0
	}
	n := 0
	for _, o := range j.Outcomes {
		if o.Status == OutcomeSuccess {
			n++
		}
	}
	return n
}

// FailedCount derives the failure count so that success plus failed
// always equals the submitted total.
func (j *Job) FailedCount() int {
	if j == nil {
		return 0
	}
	return j.Total - j.SuccessCount()
}
