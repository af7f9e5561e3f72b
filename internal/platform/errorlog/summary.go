package errorlog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SummaryWindow is the period covered by the daily summary.
const SummaryWindow = 24 * time.Hour

// PublisherCount is the number of errors for one publisher.
type PublisherCount struct {
	Publisher string `json:"publisher"`
	Errors    int    `json:"errors"`
}

// SiteSummary groups publisher counts under a site.
type SiteSummary struct {
	Site       string           `json:"site"`
	Publishers []PublisherCount `json:"publishers"`
}

// Summarize groups entries by site then publisher, both sorted by name.
func Summarize(entries []*Entry) []SiteSummary {
	counts := make(map[string]map[string]int)
	for _, e := range entries {
		if counts[e.Site] == nil {
			counts[e.Site] = make(map[string]int)
		}
		counts[e.Site][e.Publisher]++
	}

	sites := make([]string, 0, len(counts))
	for s := range counts {
		sites = append(sites, s)
	}
	sort.Strings(sites)

	out := make([]SiteSummary, 0, len(sites))
	for _, site := range sites {
		pubs := make([]string, 0, len(counts[site]))
		for p := range counts[site] {
			pubs = append(pubs, p)
		}
		sort.Strings(pubs)

		ss := SiteSummary{Site: site}
		for _, p := range pubs {
			ss.Publishers = append(ss.Publishers, PublisherCount{Publisher: p, Errors: counts[site][p]})
		}
		out = append(out, ss)
	}
	return out
}

// Render formats a summary as the plain-text report body. Each site block
// ends with a blank line.
func Render(sites []SiteSummary) string {
	var b strings.Builder
	b.WriteString("HL7 Summary (last 24h):\n\n")
	for _, s := range sites {
		fmt.Fprintf(&b, "Site: %s\n", s.Site)
		for _, p := range s.Publishers {
			fmt.Fprintf(&b, "  Publisher: %s: %d error(s)\n", p.Publisher, p.Errors)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Report loads the entries of the last SummaryWindow before now and renders
// them.
func Report(ctx context.Context, store Store, now time.Time) (string, []SiteSummary, error) {
	entries, err := store.Since(ctx, now.Add(-SummaryWindow))
	if err != nil {
		return "", nil, err
	}
	sites := Summarize(entries)
	return Render(sites), sites, nil
}
