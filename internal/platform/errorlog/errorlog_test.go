package errorlog

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/db"
)

func TestMemoryStore_RecordAndSince(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	old := &Entry{Function: "split-csv", Reason: "old", CreatedAt: now.Add(-48 * time.Hour)}
	fresh := &Entry{Function: "split-dat", Site: "vi", Publisher: "lab1", Reason: "fresh"}
	for _, e := range []*Entry{old, fresh} {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if fresh.ID == uuid.Nil || !fresh.CreatedAt.Equal(now) {
		t.Errorf("expected generated fields, got %+v", fresh)
	}
	if old.Site != "unknown" || old.Publisher != "unknown" {
		t.Errorf("expected unknown site and publisher, got %q/%q", old.Site, old.Publisher)
	}

	got, err := store.Since(ctx, now.Add(-SummaryWindow))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Reason != "fresh" {
		t.Fatalf("expected only the fresh entry, got %+v", got)
	}
	got[0].Reason = "mutated"
	again, _ := store.Since(ctx, time.Time{})
	if again[1].Reason != "fresh" {
		t.Error("Since must return copies")
	}
}

func TestSummarize_SortedGrouping(t *testing.T) {
	entries := []*Entry{
		{Site: "vi", Publisher: "lab2"},
		{Site: "gu", Publisher: "lab9"},
		{Site: "vi", Publisher: "lab1"},
		{Site: "vi", Publisher: "lab2"},
	}
	sites := Summarize(entries)
	if len(sites) != 2 || sites[0].Site != "gu" || sites[1].Site != "vi" {
		t.Fatalf("unexpected sites %+v", sites)
	}
	vi := sites[1].Publishers
	if len(vi) != 2 || vi[0] != (PublisherCount{"lab1", 1}) || vi[1] != (PublisherCount{"lab2", 2}) {
		t.Errorf("unexpected publishers %+v", vi)
	}
}

func TestRender(t *testing.T) {
	got := Render([]SiteSummary{
		{Site: "gu", Publishers: []PublisherCount{{"lab9", 1}}},
		{Site: "vi", Publishers: []PublisherCount{{"lab1", 1}, {"lab2", 2}}},
	})
	want := strings.Join([]string{
		"HL7 Summary (last 24h):",
		"",
		"Site: gu",
		"  Publisher: lab9: 1 error(s)",
		"",
		"Site: vi",
		"  Publisher: lab1: 1 error(s)",
		"  Publisher: lab2: 2 error(s)",
		"",
		"",
	}, "\n")
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestReport_Empty(t *testing.T) {
	body, sites, err := Report(context.Background(), NewMemoryStore(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sites) != 0 || body != "HL7 Summary (last 24h):\n\n" {
		t.Errorf("unexpected empty report %q", body)
	}
}

func TestMigrations_Embedded(t *testing.T) {
	migrations, err := db.NewMigrator(nil, Migrations(), "").LoadMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 1 || migrations[0].Version != 1 {
		t.Fatalf("unexpected migrations %+v", migrations)
	}
	if !strings.Contains(migrations[0].SQL, "CREATE TABLE IF NOT EXISTS error_log") {
		t.Error("expected the error_log table definition")
	}
}
