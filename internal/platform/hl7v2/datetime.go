package hl7v2

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// tsPattern matches the HL7 TS shapes accepted here: a date with optional
// hour, minute and second, optional 1-4 digit fractional seconds and an
// optional +HHMM/-HHMM offset.
var tsPattern = regexp.MustCompile(`^(\d{8}(?:\d{2}(?:\d{2}(?:\d{2})?)?)?)(\.\d{1,4})?([+-]\d{4})?$`)

var tsLayouts = map[int]string{
	8:  "20060102",
	10: "2006010215",
	12: "200601021504",
	14: "20060102150405",
}

// IsValidDatetime reports whether s is an acceptable HL7 timestamp.
// An empty value is valid: optional fields are allowed to be blank.
func IsValidDatetime(s string) bool {
	if s == "" {
		return true
	}
	_, err := ParseTimestamp(s)
	return err == nil
}

// ParseTimestamp parses an HL7v2 timestamp. Fractional seconds are dropped;
// an offset, when present, sets the location of the returned time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	m := tsPattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp format: %q", s)
	}

	t, err := time.Parse(tsLayouts[len(m[1])], m[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("hl7v2: invalid timestamp %q: %w", s, err)
	}

	if m[3] != "" {
		off, err := time.Parse("-0700", m[3])
		if err != nil {
			return time.Time{}, fmt.Errorf("hl7v2: invalid offset in %q: %w", s, err)
		}
		_, secs := off.Zone()
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.FixedZone(m[3], secs))
	}
	return t, nil
}

var offsetPattern = regexp.MustCompile(`^[+-](0\d|1[0-4])[0-5]\d$`)

// ValidOffset reports whether s is empty or a +HHMM/-HHMM zone offset with
// hours up to 14.
func ValidOffset(s string) bool {
	return s == "" || offsetPattern.MatchString(s)
}

var usDateLayouts = []struct {
	layout   string
	withTime bool
}{
	{"1/2/2006 15:04:05", true},
	{"1/2/2006 15:04", true},
	{"1/2/2006", false},
}

// ConvertUSDate converts MM/DD/YYYY or MM/DD/YYYY HH:MM:SS to YYYYMMDD or
// YYYYMMDDHHMMSS. A non-empty offset (e.g. "-0400") is appended as given.
func ConvertUSDate(value, offset string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("hl7v2: empty date")
	}
	for _, l := range usDateLayouts {
		t, err := time.Parse(l.layout, value)
		if err != nil {
			continue
		}
		out := t.Format("20060102")
		if l.withTime {
			out = t.Format("20060102150405")
		}
		return out + offset, nil
	}
	return "", fmt.Errorf("hl7v2: unrecognized date %q (want MM/DD/YYYY[ HH:MM:SS])", value)
}
