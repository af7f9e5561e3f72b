// Package hl7clean applies the field-level validation and cleaning rules
// shared by the DAT splitter and the extension normaliser.
//
// Most checks are read-only and only produce findings. Two kinds of field
// are rewritten: PID-33 is cleared when it is not a valid timestamp, and the
// coded fields PID-10 (race) and PID-22 (ethnicity) are scrubbed against
// their allow-lists.
package hl7clean

import (
	"github.com/rs/zerolog"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/hl7v2"
)

// Reason recorded when a timestamp field fails validation.
const ReasonInvalidTimestamp = "invalid_timestamp"

// Counter receives one increment per validation finding.
type Counter interface {
	IncValidation(field, reason string)
}

// Finding is a single validation observation.
type Finding struct {
	Field     string `json:"field"`
	Reason    string `json:"reason"`
	Value     string `json:"value,omitempty"`
	Corrected bool   `json:"corrected"`
}

// Report lists what the cleaner saw and changed in one message.
type Report struct {
	Findings []Finding `json:"findings"`
}

// Corrections returns the number of findings that rewrote the message.
func (r Report) Corrections() int {
	n := 0
	for _, f := range r.Findings {
		if f.Corrected {
			n++
		}
	}
	return n
}

func (r *Report) add(f Finding) {
	r.Findings = append(r.Findings, f)
}

// Cleaner validates and cleans messages in place.
type Cleaner struct {
	race      hl7v2.CodeSet
	ethnicity hl7v2.CodeSet
	counter   Counter
	logger    zerolog.Logger
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithCodeSets overrides the race and ethnicity allow-lists.
func WithCodeSets(race, ethnicity hl7v2.CodeSet) Option {
	return func(c *Cleaner) {
		c.race = race
		c.ethnicity = ethnicity
	}
}

// NewCleaner creates a cleaner. counter may be nil.
func NewCleaner(counter Counter, logger zerolog.Logger, opts ...Option) *Cleaner {
	c := &Cleaner{
		race:      hl7v2.RaceCodes,
		ethnicity: hl7v2.EthnicityCodes,
		counter:   counter,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Clean applies every rule to msg. A message without an MSH segment is
// left untouched and reported with a single finding.
func (c *Cleaner) Clean(msg *hl7v2.Message) Report {
	var rep Report

	msh := msg.MSH()
	if msh == nil {
		c.logger.Warn().Msg("no MSH segment found, skipping validation")
		rep.add(Finding{Field: "MSH", Reason: "missing_segment"})
		return rep
	}

	log := c.logger.With().Str("control_id", msg.ControlID()).Logger()

	if !msh.HasField(7) {
		log.Warn().Msg("MSH segment does not have field 7 (TS)")
		rep.add(Finding{Field: "MSH-7", Reason: "missing"})
	} else if ts := msh.Field(7); !hl7v2.IsValidDatetime(ts) {
		log.Warn().Str("value", ts).Msg("MSH-7 appears malformed")
		c.count("MSH-7", ReasonInvalidTimestamp)
		rep.add(Finding{Field: "MSH-7", Reason: ReasonInvalidTimestamp, Value: ts})
	}

	pid := msg.GetSegment("PID")
	if pid == nil {
		log.Warn().Msg("no PID segment found, skipping PID validations")
		rep.add(Finding{Field: "PID", Reason: "missing_segment"})
		return rep
	}

	if pid.Field(3) == "" {
		log.Warn().Msg("PID-3 (Patient Identifier List) is empty or missing")
		rep.add(Finding{Field: "PID-3", Reason: "empty"})
	}
	if pid.Field(5) == "" {
		log.Warn().Msg("PID-5 (Patient Name) is empty or missing")
		rep.add(Finding{Field: "PID-5", Reason: "empty"})
	}
	if dob := pid.Field(7); !hl7v2.IsValidDatetime(dob) {
		log.Warn().Str("value", dob).Msg("PID-7 (DOB) appears malformed")
		c.count("PID-7", ReasonInvalidTimestamp)
		rep.add(Finding{Field: "PID-7", Reason: ReasonInvalidTimestamp, Value: dob})
	}
	if upd := pid.Field(33); !hl7v2.IsValidDatetime(upd) {
		log.Info().Str("value", upd).Msg("PID-33 invalid, clearing value")
		pid.SetField(33, "", msg.Delimiters)
		c.count("PID-33", ReasonInvalidTimestamp)
		rep.add(Finding{Field: "PID-33", Reason: ReasonInvalidTimestamp, Value: upd, Corrected: true})
	}

	c.scrub(log, msg, pid, 10, c.race, &rep)
	c.scrub(log, msg, pid, 22, c.ethnicity, &rep)

	return rep
}

func (c *Cleaner) scrub(log zerolog.Logger, msg *hl7v2.Message, pid *hl7v2.Segment, n int, cs hl7v2.CodeSet, rep *Report) {
	original := pid.Field(n)
	if original == "" {
		return
	}
	res := hl7v2.ScrubCodedField(original, cs)
	label := cs.Name()

	for _, d := range res.Dropped {
		log.Warn().Str("field", label).Str("repetition", d.Repetition).Str("reason", d.Reason).Msg("dropped coded value")
		c.count(label, d.Reason)
		rep.add(Finding{Field: label, Reason: d.Reason, Value: d.Repetition, Corrected: true})
	}
	if res.Cleared {
		log.Warn().Str("field", label).Msg("no valid coded values remain, clearing field")
		c.count(label, hl7v2.ReasonFieldCleared)
		rep.add(Finding{Field: label, Reason: hl7v2.ReasonFieldCleared, Value: original, Corrected: true})
	}
	if res.Value != original {
		log.Info().Str("field", label).Str("from", original).Str("to", res.Value).Msg("cleaned coded field")
		pid.SetField(n, res.Value, msg.Delimiters)
	}
}

func (c *Cleaner) count(field, reason string) {
	if c.counter != nil {
		c.counter.IncValidation(field, reason)
	}
}
