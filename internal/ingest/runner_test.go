package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/config"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/blobstore"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/errorlog"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/notification"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/telemetry"
)

const bucket = "sftp-inbox"

func testConfig() *config.Config {
	return &config.Config{
		SendingApplication:   "SFTP_APP",
		ReceivingApplication: "ELR_RECEIVER",
		ReceivingFacility:    "VI_DOH",
		ProcessingID:         "P",
	}
}

type harness struct {
	store   *blobstore.InMemory
	ledger  *errorlog.MemoryStore
	pub     *notification.MockPublisher
	metrics *telemetry.Provider
	runner  *Runner
}

func newHarness(t *testing.T, function string) *harness {
	t.Helper()
	h := &harness{
		store:   blobstore.NewInMemory(),
		ledger:  errorlog.NewMemoryStore(),
		pub:     &notification.MockPublisher{},
		metrics: telemetry.NewProvider(telemetry.Config{}),
	}
	proc, err := NewProcessor(function, testConfig(), h.metrics, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	topics := notification.Topics{Error: "arn:error", Success: "arn:success"}
	notifier := notification.NewNotifier(h.pub, nil, topics, zerolog.Nop())
	store := blobstore.NewRetrying(h.store, 2, 0, zerolog.Nop())
	h.runner = NewRunner(proc, store, h.ledger, notifier, h.metrics, zerolog.Nop())
	return h
}

func (h *harness) put(t *testing.T, key, content string) {
	t.Helper()
	if err := h.store.Put(context.Background(), bucket, key, []byte(content), blobstore.ContentTypeText); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func (h *harness) get(t *testing.T, key string) string {
	t.Helper()
	b, err := h.store.Get(context.Background(), bucket, key)
	if err != nil {
		t.Fatalf("expected %s to exist: %v", key, err)
	}
	return string(b)
}

func (h *harness) entries(t *testing.T) []*errorlog.Entry {
	t.Helper()
	out, err := h.ledger.Since(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out
}

func hl7Message(ctrl string, extra ...string) string {
	segs := []string{
		"MSH|^~\\&|LAB|FAC|ELR|DOH|20240101120000||ORU^R01|" + ctrl + "|P|2.5.1",
		"PID|1||MRN1^^^FAC^PI||Doe^Jane||19800101|F",
	}
	return strings.Join(append(segs, extra...), "\r")
}

func TestRun_SplitDAT(t *testing.T) {
	h := newHarness(t, config.FunctionSplitDAT)
	key := "stx/quest/incoming/feed.dat"
	h.put(t, key, hl7Message("A", "OBR|1|O1")+"\r"+"MSH|^~\\&|LAB\rX\r"+hl7Message("C", "OBR|1|O1", "OBR|2|O2"))

	res, err := h.runner.Run(context.Background(), bucket, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomePartial {
		t.Errorf("expected partial outcome, got %s", res.Outcome)
	}
	if len(res.Artifacts) != 2 || len(res.Rejects) != 1 {
		t.Fatalf("expected 2 artifacts and 1 reject, got %d and %d", len(res.Artifacts), len(res.Rejects))
	}

	if got := h.get(t, "stx/quest/splitdat/quest_feed_1.hl7"); !strings.Contains(got, "|A|P|2.5.1") {
		t.Errorf("unexpected single order artifact %q", got)
	}
	if got := h.get(t, "stx/quest/splitdat_multi_obr/quest_feed_multiOBR_3.hl7"); !strings.Contains(got, "OBR|2|O2") {
		t.Errorf("unexpected multi order artifact %q", got)
	}
	if ct := h.store.ContentType(bucket, "stx/quest/splitdat/quest_feed_1.hl7"); ct != blobstore.ContentTypeHL7 {
		t.Errorf("unexpected content type %q", ct)
	}

	diag := h.get(t, "stx/quest/errors/split-dat/quest_feed_2.txt")
	reason, record, ok := strings.Cut(diag, "\n\n")
	if !ok || reason == "" || !strings.HasPrefix(record, "MSH|^~\\&|LAB") {
		t.Errorf("unexpected diagnostic artifact %q", diag)
	}

	entries := h.entries(t)
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
	if e := entries[0]; e.Site != "stx" || e.Publisher != "quest" || e.Function != config.FunctionSplitDAT || e.ObjectKey != key {
		t.Errorf("unexpected ledger entry %+v", e)
	}

	if got := h.metrics.Counter(telemetry.MetricArtifacts, "split-dat", "multi_order"); got != 1 {
		t.Errorf("expected 1 multi order artifact, got %d", got)
	}
	if got := h.metrics.Counter(telemetry.MetricRejects, "split-dat"); got != 1 {
		t.Errorf("expected 1 reject, got %d", got)
	}
	if got := h.metrics.Counter(telemetry.MetricFiles, "split-dat", OutcomePartial); got != 1 {
		t.Errorf("expected 1 partial file, got %d", got)
	}

	calls := h.pub.Calls()
	if len(calls) != 1 || calls[0].Topic != "arn:success" || calls[0].Subject != "HL7 Processed: stx/quest" {
		t.Fatalf("unexpected notifications %+v", calls)
	}
}

func TestRun_StructuralFailure(t *testing.T) {
	h := newHarness(t, config.FunctionSplitDAT)
	key := "stx/quest/incoming/feed.dat"
	h.put(t, key, "PID|1\rOBR|1")

	res, err := h.runner.Run(context.Background(), bucket, key)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Outcome != OutcomeFailed || !strings.Contains(res.Reason, "no MSH") {
		t.Errorf("unexpected result %+v", res)
	}
	if keys := h.store.Keys(bucket, "stx/quest/splitdat"); len(keys) != 0 {
		t.Errorf("expected no output, got %v", keys)
	}

	calls := h.pub.Calls()
	if len(calls) != 1 || calls[0].Topic != "arn:error" || calls[0].Subject != "Lambda Error in split-dat" {
		t.Fatalf("unexpected notifications %+v", calls)
	}
	if !strings.Contains(calls[0].Body, key) || !strings.Contains(calls[0].Body, res.RunID) {
		t.Errorf("expected body to name key and run, got %q", calls[0].Body)
	}
	if entries := h.entries(t); len(entries) != 1 || !strings.Contains(entries[0].Reason, "no MSH") {
		t.Errorf("unexpected ledger entries %+v", entries)
	}
	if got := h.metrics.Counter(telemetry.MetricFiles, "split-dat", OutcomeFailed); got != 1 {
		t.Errorf("expected 1 failed file, got %d", got)
	}
}

func TestRun_MissingInputExhaustsRetries(t *testing.T) {
	h := newHarness(t, config.FunctionSplitOBR)
	_, err := h.runner.Run(context.Background(), bucket, "stx/quest/incoming/gone.hl7")
	if !errors.Is(err, blobstore.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if !errors.Is(err, blobstore.ErrBlobNotFound) {
		t.Errorf("expected the last storage error to be wrapped, got %v", err)
	}
}

func TestRun_Skipped(t *testing.T) {
	h := newHarness(t, config.FunctionSplitDAT)
	res, err := h.runner.Run(context.Background(), bucket, "stx/quest/splitdat/quest_feed_1.hl7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeSkipped {
		t.Errorf("expected skipped, got %s", res.Outcome)
	}
	if len(h.pub.Calls()) != 0 || len(h.entries(t)) != 0 {
		t.Error("a skipped object must not notify or record")
	}
}

func TestRun_SplitOBR(t *testing.T) {
	h := newHarness(t, config.FunctionSplitOBR)
	key := "stx/quest/splitdat_multi_obr/quest_feed_multiOBR_3.hl7"
	h.put(t, key, hl7Message("CTRL1", "ORC|RE", "OBR|1|A", "OBX|1|ST|x||y", "OBR|2|B"))

	if _, err := h.runner.Run(context.Background(), bucket, key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := h.get(t, "stx/quest/splitobr/quest_quest_feed_multiOBR_3_obr_1.hl7")
	second := h.get(t, "stx/quest/splitobr/quest_quest_feed_multiOBR_3_obr_2.hl7")
	if !strings.Contains(first, "|CTRL1_1|") || !strings.Contains(first, "OBX|1") {
		t.Errorf("unexpected first artifact %q", first)
	}
	if !strings.Contains(second, "|CTRL1_2|") || strings.Contains(second, "OBX|1") {
		t.Errorf("unexpected second artifact %q", second)
	}
}

func TestRun_SplitOBRMissing(t *testing.T) {
	h := newHarness(t, config.FunctionSplitOBR)
	key := "stx/quest/incoming/feed.hl7"
	h.put(t, key, hl7Message("CTRL1"))

	if _, err := h.runner.Run(context.Background(), bucket, key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := h.get(t, "stx/quest/splitobr/quest_feed_OBRMISSING.hl7")
	if !strings.Contains(got, "|CTRL1|") {
		t.Errorf("expected the original control ID, got %q", got)
	}
}

func TestRun_AddExt(t *testing.T) {
	h := newHarness(t, config.FunctionAddExt)
	key := "stx/quest/incoming/2024/feed"
	h.put(t, key, strings.ReplaceAll(hl7Message("A", "OBR|1|O1"), "\r", "\n"))

	res, err := h.runner.Run(context.Background(), bucket, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0].Key != "stx/quest/renamed_file/feed.hl7" {
		t.Fatalf("unexpected artifacts %+v", res.Artifacts)
	}
	got := h.get(t, "stx/quest/renamed_file/feed.hl7")
	if strings.Contains(got, "\n") || !strings.HasSuffix(got, "\r") {
		t.Errorf("expected \\r terminators, got %q", got)
	}
}

var csvColumns = []string{
	"SendingFacility", "Patient_ID", "PtLastName", "PtFirstName", "DateOfBirth", "Sex",
	"Race", "Ethnicity", "PtAddress", "PtCity", "PtState", "PtZip", "AccessionNumber",
	"OrderedTestID", "ResultedTestID", "TestDate", "TestResult", "PerformingLab",
}

func csvRow(patientID string) string {
	return strings.Join([]string{
		"ACME LAB", patientID, "Doe", "Jane", "05/17/1980", "F",
		"2106-3", "2186-5", "12 Main St", "Charlotte Amalie", "VI", "00802", "ACC-1",
		"94500-6", "94500-6", "03/15/2024 08:15:30", "Detected", "ACME LAB",
	}, ",")
}

func TestRun_SplitCSV(t *testing.T) {
	h := newHarness(t, config.FunctionSplitCSV)
	key := "stx/quest/incoming/batch.csv"
	h.put(t, key, strings.Join([]string{strings.Join(csvColumns, ","), csvRow("P1"), csvRow(""), csvRow("P3")}, "\n")+"\n")

	res, err := h.runner.Run(context.Background(), bucket, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Artifacts) != 2 || len(res.Rejects) != 1 {
		t.Fatalf("expected 2 artifacts and 1 reject, got %d and %d", len(res.Artifacts), len(res.Rejects))
	}
	if got := h.get(t, "stx/quest/splitcsv/quest_batch_1.hl7"); !strings.Contains(got, "P1_94500-6_1") {
		t.Errorf("unexpected first artifact %q", got)
	}
	h.get(t, "stx/quest/splitcsv/quest_batch_3.hl7")
	if diag := h.get(t, "stx/quest/errors/split-csv/quest_batch_2.txt"); !strings.Contains(diag, "Patient_ID") {
		t.Errorf("expected the missing column in the diagnostic, got %q", diag)
	}
}

func TestNewProcessor_UnknownFunction(t *testing.T) {
	if _, err := NewProcessor("split-xml", testConfig(), nil, zerolog.Nop()); err == nil {
		t.Fatal("expected error")
	}
}
