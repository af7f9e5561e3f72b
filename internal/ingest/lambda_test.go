package ingest

import (
	"context"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/config"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/telemetry"
)

func s3Record(key string) events.S3EventRecord {
	return events.S3EventRecord{
		EventName: "ObjectCreated:Put",
		S3: events.S3Entity{
			Bucket: events.S3Bucket{Name: bucket},
			Object: events.S3Object{Key: key},
		},
	}
}

func TestLambdaHandler_DecodesKeysAndFlushes(t *testing.T) {
	h := newHarness(t, config.FunctionSplitDAT)
	h.put(t, "stx/quest/incoming/my feed.dat", hl7Message("A", "OBR|1|O1"))

	var flushed []telemetry.Sample
	sink := telemetry.SinkFunc(func(_ context.Context, s []telemetry.Sample) error {
		flushed = append(flushed, s...)
		return nil
	})
	lh := NewLambdaHandler(h.runner, h.metrics, sink, zerolog.Nop())

	event := events.S3Event{Records: []events.S3EventRecord{
		s3Record("stx/quest/incoming/my+feed.dat"),
		s3Record("stx/quest/incoming/missing.dat"),
		s3Record("stx/quest/splitdat/quest_feed_1.hl7"),
	}}
	resp, err := lh.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Function != config.FunctionSplitDAT || len(resp.Results) != 3 || resp.Failed != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Results[0].Key != "stx/quest/incoming/my feed.dat" || resp.Results[0].Outcome != OutcomeOK {
		t.Errorf("unexpected first result %+v", resp.Results[0])
	}
	h.get(t, "stx/quest/splitdat/quest_my feed_1.hl7")
	if resp.Results[2].Outcome != OutcomeSkipped {
		t.Errorf("expected the output key to be skipped, got %s", resp.Results[2].Outcome)
	}

	if len(flushed) == 0 {
		t.Fatal("expected metrics to be flushed")
	}
	var files int64
	for _, s := range flushed {
		if s.Name == telemetry.MetricFiles {
			files += s.Value
		}
	}
	if files != 3 {
		t.Errorf("expected 3 file outcomes flushed, got %d", files)
	}
}

func TestLambdaHandler_IgnoresEmptyRecords(t *testing.T) {
	h := newHarness(t, config.FunctionSplitDAT)
	lh := NewLambdaHandler(h.runner, nil, nil, zerolog.Nop())

	resp, err := lh.Handle(context.Background(), events.S3Event{Records: []events.S3EventRecord{{}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("expected no results, got %+v", resp.Results)
	}
}
