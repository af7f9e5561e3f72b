package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/blobstore"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/errorlog"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/notification"
)

// File outcomes reported to metrics.
const (
	OutcomeOK      = "ok"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Metrics receives the per-file counters.
type Metrics interface {
	IncArtifact(function, kind string)
	IncReject(function string)
	IncFile(function, outcome string)
}

// Result describes what happened to one object.
type Result struct {
	RunID     string     `json:"runId"`
	Bucket    string     `json:"bucket"`
	Key       string     `json:"key"`
	Outcome   string     `json:"outcome"`
	Reason    string     `json:"reason,omitempty"`
	Artifacts []Artifact `json:"artifacts"`
	Rejects   []Reject   `json:"rejects"`
}

// Runner processes stored objects with one Processor.
type Runner struct {
	proc     Processor
	store    blobstore.Store
	ledger   errorlog.Store
	notifier *notification.Notifier
	metrics  Metrics
	logger   zerolog.Logger
}

// NewRunner creates a runner. ledger, notifier and metrics may be nil.
func NewRunner(proc Processor, store blobstore.Store, ledger errorlog.Store, notifier *notification.Notifier, metrics Metrics, logger zerolog.Logger) *Runner {
	return &Runner{
		proc:     proc,
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
}

// Function returns the name of the function the runner executes.
func (r *Runner) Function() string {
	return r.proc.Function()
}

// Run processes bucket/key. Skipped keys are not an error. A file-level
// failure is recorded, notified and returned; rejected records are not.
func (r *Runner) Run(ctx context.Context, bucket, key string) (*Result, error) {
	fn := r.proc.Function()
	res := &Result{RunID: uuid.New().String(), Bucket: bucket, Key: key}
	log := r.logger.With().
		Str("function", fn).
		Str("run_id", res.RunID).
		Str("bucket", bucket).
		Str("key", key).
		Logger()

	loc, err := ParseKey(fn, key)
	if errors.Is(err, ErrSkipped) {
		log.Info().Err(err).Msg("skipping object")
		res.Outcome, res.Reason = OutcomeSkipped, err.Error()
		r.incFile(fn, OutcomeSkipped)
		return res, nil
	} else if err != nil {
		return r.fail(ctx, log, res, &Location{Key: key, Site: "unknown"}, err)
	}

	start := time.Now()
	content, err := r.store.Get(ctx, bucket, key)
	if err != nil {
		return r.fail(ctx, log, res, loc, fmt.Errorf("read input: %w", err))
	}

	out, err := r.proc.Process(loc, content)
	if err != nil {
		return r.fail(ctx, log, res, loc, err)
	}

	for _, a := range out.Artifacts {
		if err := r.store.Put(ctx, bucket, a.Key, a.Content, a.ContentType); err != nil {
			return r.fail(ctx, log, res, loc, fmt.Errorf("write %s: %w", a.Key, err))
		}
		res.Artifacts = append(res.Artifacts, a)
		r.incArtifact(fn, a.Kind)
	}

	for _, rej := range out.Rejects {
		errKey := loc.ErrorKey(fn, rej.Seq)
		body := rej.Reason + "\n\n" + rej.Record
		if err := r.store.Put(ctx, bucket, errKey, []byte(body), blobstore.ContentTypeText); err != nil {
			log.Warn().Err(err).Str("error_key", errKey).Msg("diagnostic artifact not written")
		}
		r.record(ctx, log, bucket, loc, fmt.Sprintf("record %d: %s", rej.Seq, rej.Reason))
		r.incReject(fn)
		res.Rejects = append(res.Rejects, rej)
	}

	res.Outcome = OutcomeOK
	if len(res.Rejects) > 0 {
		res.Outcome = OutcomePartial
	}
	r.incFile(fn, res.Outcome)

	log.Info().
		Int("artifacts", len(res.Artifacts)).
		Int("rejects", len(res.Rejects)).
		Dur("duration", time.Since(start)).
		Msg("file processed")

	if r.notifier != nil {
		r.notifier.FileProcessed(ctx, notification.FileEvent{
			Function:  fn,
			Bucket:    bucket,
			Key:       key,
			Site:      loc.Site,
			Publisher: loc.User,
			RunID:     res.RunID,
			Artifacts: len(res.Artifacts),
			Rejects:   len(res.Rejects),
		})
	}
	return res, nil
}

func (r *Runner) fail(ctx context.Context, log zerolog.Logger, res *Result, loc *Location, err error) (*Result, error) {
	fn := r.proc.Function()
	res.Outcome, res.Reason = OutcomeFailed, err.Error()
	log.Error().Err(err).Int("artifacts_written", len(res.Artifacts)).Msg("file failed")

	r.record(ctx, log, res.Bucket, loc, err.Error())
	r.incFile(fn, OutcomeFailed)
	if r.notifier != nil {
		r.notifier.FileError(ctx, notification.FileEvent{
			Function:  fn,
			Bucket:    res.Bucket,
			Key:       res.Key,
			Site:      loc.Site,
			Publisher: loc.User,
			Reason:    err.Error(),
			RunID:     res.RunID,
			Artifacts: len(res.Artifacts),
		})
	}
	return res, fmt.Errorf("ingest: %s %s: %w", fn, res.Key, err)
}

// record writes a ledger entry. Ledger failures are logged only.
func (r *Runner) record(ctx context.Context, log zerolog.Logger, bucket string, loc *Location, reason string) {
	if r.ledger == nil {
		return
	}
	err := r.ledger.Record(ctx, &errorlog.Entry{
		Function:  r.proc.Function(),
		Bucket:    bucket,
		ObjectKey: loc.Key,
		Site:      loc.Site,
		Publisher: loc.User,
		Reason:    reason,
	})
	if err != nil {
		log.Warn().Err(err).Msg("error ledger entry not recorded")
	}
}

func (r *Runner) incArtifact(fn, kind string) {
	if r.metrics != nil {
		r.metrics.IncArtifact(fn, kind)
	}
}

func (r *Runner) incReject(fn string) {
	if r.metrics != nil {
		r.metrics.IncReject(fn)
	}
}

func (r *Runner) incFile(fn, outcome string) {
	if r.metrics != nil {
		r.metrics.IncFile(fn, outcome)
	}
}
