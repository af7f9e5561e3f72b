package ingest

import (
	"context"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/telemetry"
)

// Response is returned to the Lambda runtime.
type Response struct {
	Function string    `json:"function"`
	Results  []*Result `json:"results"`
	Failed   int       `json:"failed"`
}

// Flusher publishes accumulated metrics after each event.
type Flusher interface {
	Flush(ctx context.Context, sink telemetry.Sink) error
}

// LambdaHandler handles S3 put notifications.
type LambdaHandler struct {
	runner  *Runner
	flusher Flusher
	sink    telemetry.Sink
	logger  zerolog.Logger
}

// NewLambdaHandler creates the handler. flusher and sink may be nil.
func NewLambdaHandler(runner *Runner, flusher Flusher, sink telemetry.Sink, logger zerolog.Logger) *LambdaHandler {
	return &LambdaHandler{runner: runner, flusher: flusher, sink: sink, logger: logger}
}

// Handle runs every record of the event. A failed file does not fail the
// invocation, so S3 does not redeliver the event; failures are already
// recorded and notified by the runner.
func (h *LambdaHandler) Handle(ctx context.Context, event events.S3Event) (*Response, error) {
	resp := &Response{Function: h.runner.Function(), Results: []*Result{}}
	for _, rec := range event.Records {
		bucket := rec.S3.Bucket.Name
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			h.logger.Warn().Err(err).Str("key", rec.S3.Object.Key).Msg("undecodable object key, using it as is")
			key = rec.S3.Object.Key
		}
		if bucket == "" || key == "" {
			h.logger.Warn().Str("event_name", rec.EventName).Msg("record without bucket or key")
			continue
		}

		res, err := h.runner.Run(ctx, bucket, key)
		if err != nil {
			resp.Failed++
		}
		resp.Results = append(resp.Results, res)

		if ctx.Err() != nil {
			h.flush()
			return resp, ctx.Err()
		}
	}
	h.flush()
	return resp, nil
}

func (h *LambdaHandler) flush() {
	if h.flusher == nil || h.sink == nil {
		return
	}
	// The invocation context may already be done.
	if err := h.flusher.Flush(context.Background(), h.sink); err != nil {
		h.logger.Warn().Err(err).Msg("metrics flush failed")
	}
}
