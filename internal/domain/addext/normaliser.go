// Package addext normalises HL7 files that arrive without an extension (or
// with the wrong one) into a single cleaned .hl7 artifact.
package addext

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/domain/hl7clean"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/hl7v2"
)

// orcNoteField and orcNoteComponent locate the free-text note some senders
// put in ORC-23.9, which receivers truncate.
const (
	orcNoteField     = 23
	orcNoteComponent = 9
)

var batchPrefixes = []string{"FHS|", "BHS|", "FTS|", "BTS|"}

// Result is the outcome of normalising one file.
type Result struct {
	Content  string             `json:"content"`
	Messages int                `json:"messages"`
	Notes    int                `json:"notes"`
	Findings []hl7clean.Finding `json:"findings,omitempty"`
}

// Normaliser cleans every message of a file and rewrites line endings.
type Normaliser struct {
	cleaner *hl7clean.Cleaner
	logger  zerolog.Logger
}

// NewNormaliser creates a normaliser using the shared cleaner.
func NewNormaliser(cleaner *hl7clean.Cleaner, logger zerolog.Logger) *Normaliser {
	return &Normaliser{cleaner: cleaner, logger: logger}
}

// Normalise rewrites content with \r terminators and a trailing \r. Batch
// header and trailer lines pass through untouched and close any open
// message; lines before the first MSH pass through as well. Blank input is a
// structural error.
func (n *Normaliser) Normalise(content []byte) (*Result, error) {
	lines := hl7v2.SplitSegments(string(content))
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: file is empty", hl7v2.ErrStructural)
	}

	res := &Result{}
	var out, current []string
	flush := func() {
		if len(current) == 0 {
			return
		}
		out = append(out, n.cleanMessage(current, res)...)
		current = nil
	}

	for _, ln := range lines {
		switch {
		case isBatchLine(ln):
			flush()
			out = append(out, ln)
		case strings.HasPrefix(ln, "MSH"):
			flush()
			current = []string{ln}
		case len(current) > 0:
			current = append(current, ln)
		default:
			n.logger.Debug().Str("segment", ln[:min(3, len(ln))]).Msg("passing through line before first MSH")
			out = append(out, ln)
		}
	}
	flush()

	if res.Messages == 0 {
		n.logger.Warn().Msg("no MSH segment found, file passed through without validation")
	}
	res.Content = hl7v2.JoinSegments(out...) + hl7v2.SegmentTerminator
	return res, nil
}

func isBatchLine(ln string) bool {
	for _, p := range batchPrefixes {
		if strings.HasPrefix(ln, p) {
			return true
		}
	}
	return false
}

// cleanMessage applies the shared rules and moves ORC-23.9 to a trailing
// NTE. A message that does not parse is passed through as is.
func (n *Normaliser) cleanMessage(lines []string, res *Result) []string {
	msg, err := hl7v2.Parse([]byte(strings.Join(lines, hl7v2.SegmentTerminator)))
	if err != nil {
		n.logger.Warn().Err(err).Msg("message does not parse, passing through unvalidated")
		return lines
	}
	res.Messages++

	rep := n.cleaner.Clean(msg)
	res.Findings = append(res.Findings, rep.Findings...)

	if note := moveORCNote(msg); note != "" {
		n.logger.Info().Str("control_id", msg.ControlID()).Msg("moved ORC-23.9 note to NTE")
		nte, err := hl7v2.ParseSegment("NTE|1|L|"+note, msg.Delimiters)
		if err == nil {
			msg.Segments = append(msg.Segments, nte)
			res.Notes++
		}
	}

	out := make([]string, len(msg.Segments))
	for i := range msg.Segments {
		out[i] = msg.Segments[i].Encode(msg.Delimiters)
	}
	return out
}

// moveORCNote clears ORC-23.9 on every ORC and returns the last non-empty
// note.
func moveORCNote(msg *hl7v2.Message) string {
	var note string
	comp := string(msg.Delimiters.Component)
	for i := range msg.Segments {
		seg := &msg.Segments[i]
		if seg.Name != "ORC" {
			continue
		}
		v := seg.Field(orcNoteField)
		if v == "" {
			continue
		}
		comps := strings.Split(v, comp)
		if len(comps) < orcNoteComponent {
			continue
		}
		text := strings.TrimSpace(comps[orcNoteComponent-1])
		if text == "" {
			continue
		}
		note = text
		comps[orcNoteComponent-1] = ""
		seg.SetField(orcNoteField, strings.Join(comps, comp), msg.Delimiters)
	}
	return note
}
