package translate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ozontrans/internal/domain"
	"ozontrans/internal/infra"
	"ozontrans/pkg/zip"
)

// DefaultDownloadStagger spaces out batch retrievals so a large batch
// does not slam the host with simultaneous downloads. Load shaping,
// not correctness.
const DefaultDownloadStagger = 100 * time.Millisecond

// ErrNotTerminal is reported when results are requested before the job
// reached a terminal state.
var ErrNotTerminal = errors.New("job has not reached a terminal state")

// ArtifactAPI is the remote surface the downloader depends on.
type ArtifactAPI interface {
	Download(ctx context.Context, storagePath string) ([]byte, string, error)
}

// ArtifactStore receives downloaded artifacts.
type ArtifactStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Summary are the derived counts over a terminal job.
type Summary struct {
	Total   int
	Success int
	Failed  int
}

// Summarize projects the per-item outcomes of a terminal job.
func Summarize(job *domain.Job) (Summary, error) {
	if !job.Terminal() {
		return Summary{}, ErrNotTerminal
	}
	return Summary{
		Total:   job.Total,
		Success: job.SuccessCount(),
		Failed:  job.FailedCount(),
	}, nil
}

// ArtifactRef builds the deterministic download reference for one
// successful outcome. The reference is what gets handed to the host's
// download mechanism; fetching it is the collaborator's business.
func ArtifactRef(o domain.Outcome) (string, error) {
	if o.Status != domain.OutcomeSuccess {
		return "", fmt.Errorf("no artifact for failed item %q", o.SourceName)
	}
	if o.StoragePath == "" {
		return "", fmt.Errorf("successful item %q is missing its storage path", o.SourceName)
	}
	return "/api/download/" + o.StoragePath, nil
}

// SavedArtifact records where one downloaded outcome landed.
type SavedArtifact struct {
	Outcome domain.Outcome
	Key     string
	Bytes   int
}

// Downloader retrieves the successful outcomes of a terminal job into
// an artifact store.
type Downloader struct {
	api     ArtifactAPI
	store   ArtifactStore
	logger  *infra.Logger
	stagger time.Duration
}

// NewDownloader wires a downloader. A zero stagger gets the default.
func NewDownloader(artifactAPI ArtifactAPI, store ArtifactStore, logger *infra.Logger, stagger time.Duration) *Downloader {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	if stagger <= 0 {
		stagger = DefaultDownloadStagger
	}
	return &Downloader{api: artifactAPI, store: store, logger: logger, stagger: stagger}
}

// DownloadAll retrieves every successful outcome, launching one
// retrieval per item spaced by the stagger. Individual failures are
// collected; the remaining items still download. The returned slice
// reports what landed in the store even when an error comes back with
// it.
func (d *Downloader) DownloadAll(ctx context.Context, job *domain.Job) ([]SavedArtifact, error) {
	if !job.Terminal() {
		return nil, ErrNotTerminal
	}

	var targets []domain.Outcome
	for _, o := range job.Outcomes {
		if o.Status == domain.OutcomeSuccess {
			targets = append(targets, o)
		}
	}

	slots := make([]*SavedArtifact, len(targets))
	failures := make([]error, len(targets))
	var g errgroup.Group
	g.SetLimit(4)
	for i, outcome := range targets {
		i, outcome := i, outcome
		delay := time.Duration(i) * d.stagger
		g.Go(func() error {
			if delay > 0 {
				select {
				case <-ctx.Done():
					failures[i] = ctx.Err()
					return nil
				case <-time.After(delay):
				}
			}
			data, _, err := d.api.Download(ctx, outcome.StoragePath)
			if err != nil {
				failures[i] = fmt.Errorf("download %s: %w", outcome.OutputName, err)
				return nil
			}
			key := outcome.OutputName
			if key == "" {
				key = outcome.SourceName
			}
			savedKey, err := d.store.Write(ctx, key, data)
			if err != nil {
				failures[i] = fmt.Errorf("save %s: %w", outcome.OutputName, err)
				return nil
			}
			slots[i] = &SavedArtifact{Outcome: outcome, Key: savedKey, Bytes: len(data)}
			return nil
		})
	}
	_ = g.Wait()

	saved := make([]SavedArtifact, 0, len(targets))
	for _, s := range slots {
		if s != nil {
			saved = append(saved, *s)
		}
	}
	if err := errors.Join(failures...); err != nil {
		d.logger.Warn().Err(err).
			Int("artifacts", len(saved)).
			Int("requested", len(targets)).
			Msg("translate: batch download finished with failures")
		return saved, err
	}
	d.logger.Info().Int("artifacts", len(saved)).Msg("translate: batch download finished")
	return saved, nil
}

// Archive fetches every successful outcome and bundles the artifacts
// into a single zip, for callers that want one file per batch.
func (d *Downloader) Archive(ctx context.Context, job *domain.Job) ([]byte, error) {
	if !job.Terminal() {
		return nil, ErrNotTerminal
	}
	var entries []zip.Entry
	for _, o := range job.Outcomes {
		if o.Status != domain.OutcomeSuccess {
			continue
		}
		data, _, err := d.api.Download(ctx, o.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", o.OutputName, err)
		}
		entries = append(entries, zip.Entry{Name: o.OutputName, Data: data})
	}
	return zip.Archive(entries)
}
