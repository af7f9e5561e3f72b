package hl7v2

import "strings"

// CodeSet is an immutable allow-list of (code, coding system) pairs, built
// as the cross product of a code list and a coding-system list.
type CodeSet struct {
	name    string
	codes   map[string]string // code -> display text
	systems map[string]bool
	primary string
}

// Code is one allowed code and its display text.
type Code struct {
	Code    string
	Display string
}

// NewCodeSet builds a code set. The first system is used when encoding.
func NewCodeSet(name string, codes []Code, systems ...string) CodeSet {
	cs := CodeSet{
		name:    name,
		codes:   make(map[string]string, len(codes)),
		systems: make(map[string]bool, len(systems)),
	}
	for _, c := range codes {
		cs.codes[c.Code] = c.Display
	}
	for _, s := range systems {
		cs.systems[s] = true
	}
	if len(systems) > 0 {
		cs.primary = systems[0]
	}
	return cs
}

// Name returns the label used in logs and metrics.
func (cs CodeSet) Name() string { return cs.name }

// Allows reports whether (code, system) is an allowed pair.
func (cs CodeSet) Allows(code, system string) bool {
	_, ok := cs.codes[code]
	return ok && cs.systems[system]
}

// Display returns the display text for code and whether it is known.
func (cs CodeSet) Display(code string) (string, bool) {
	d, ok := cs.codes[code]
	return d, ok
}

// PrimarySystem returns the coding system written by encoders.
func (cs CodeSet) PrimarySystem() string { return cs.primary }

// Allow-lists for PID-10 and PID-22 (CDC Race & Ethnicity code set and the
// HL7 user tables).
var (
	RaceCodes = NewCodeSet("PID-10",
		[]Code{
			{"1002-5", "American Indian or Alaska Native"},
			{"2028-9", "Asian"},
			{"2054-5", "Black or African American"},
			{"2076-8", "Native Hawaiian or Other Pacific Islander"},
			{"2106-3", "White"},
			{"2131-1", "Other Race"},
			{"UNK", "Unknown"},
			{"REF", "Refused to answer"},
		},
		"CDCREC", "HL70005",
	)

	EthnicityCodes = NewCodeSet("PID-22",
		[]Code{
			{"2135-2", "Hispanic or Latino"},
			{"2186-5", "Not Hispanic or Latino"},
			{"UNK", "Unknown"},
			{"REF", "Refused to answer"},
		},
		"CDCREC", "HL70189",
	)
)

// Scrub drop reasons.
const (
	ReasonMissingComponents = "missing_components"
	ReasonInvalidCode       = "invalid_code"
	ReasonFieldCleared      = "field_cleared"
)

// Drop describes one repetition removed by ScrubCodedField.
type Drop struct {
	Repetition string
	Reason     string
}

// ScrubResult is the outcome of scrubbing a coded field.
type ScrubResult struct {
	Value   string
	Dropped []Drop
	Cleared bool // a non-empty input lost every repetition
}

// ScrubCodedField keeps only the repetitions of raw whose (code, system)
// pair, taken from components 1 and 3, is allowed by cs. Repetitions with
// fewer than three components are dropped. An escaped component separator
// (\S\) is treated as a literal ^ before splitting.
func ScrubCodedField(raw string, cs CodeSet) ScrubResult {
	if raw == "" {
		return ScrubResult{}
	}
	raw = strings.ReplaceAll(raw, `\S\`, "^")

	var res ScrubResult
	var kept []string
	for _, rep := range strings.Split(raw, "~") {
		if rep == "" {
			continue
		}
		parts := strings.Split(rep, "^")
		if len(parts) < 3 {
			res.Dropped = append(res.Dropped, Drop{Repetition: rep, Reason: ReasonMissingComponents})
			continue
		}
		if !cs.Allows(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[2])) {
			res.Dropped = append(res.Dropped, Drop{Repetition: rep, Reason: ReasonInvalidCode})
			continue
		}
		kept = append(kept, rep)
	}

	res.Value = strings.Join(kept, "~")
	res.Cleared = len(kept) == 0 && len(res.Dropped) > 0
	return res
}
