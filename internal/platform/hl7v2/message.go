package hl7v2

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SegmentTerminator is the canonical separator written between segments.
const SegmentTerminator = "\r"

// ErrStructural marks input that has no recognisable HL7 structure, such as
// an empty blob or a message whose first segment is not MSH.
var ErrStructural = errors.New("hl7v2: structural error")

// Delimiters holds the encoding characters declared in MSH-1 and MSH-2.
type Delimiters struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	SubComponent byte
}

// DefaultDelimiters are the standard |^~\& encoding characters.
var DefaultDelimiters = Delimiters{
	Field:        '|',
	Component:    '^',
	Repetition:   '~',
	Escape:       '\\',
	SubComponent: '&',
}

// EncodingCharacters returns the MSH-2 value for d.
func (d Delimiters) EncodingCharacters() string {
	return string([]byte{d.Component, d.Repetition, d.Escape, d.SubComponent})
}

// Message represents a parsed HL7v2 message.
type Message struct {
	Delimiters Delimiters
	Segments   []Segment
}

// Segment represents a single HL7v2 segment.
//
// For MSH, Fields[0] is MSH-1 (the field separator) so that Fields[n-1] is
// always field n regardless of the segment type.
type Segment struct {
	Name   string // e.g. "MSH", "PID", "OBR", "OBX"
	Fields []Field
}

// Field represents a field which can have components and repetitions.
type Field struct {
	Value      string
	Components []string   // Component-separated (^)
	Repeats    [][]string // Repetition-separated (~), each with components
}

// NormalizeTerminators rewrites \r\n and \n segment endings to \r.
func NormalizeTerminators(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\r")
	return strings.ReplaceAll(text, "\n", "\r")
}

// SplitSegments normalises line endings and returns the non-blank segment lines.
func SplitSegments(text string) []string {
	lines := strings.Split(NormalizeTerminators(text), "\r")
	segments := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			segments = append(segments, line)
		}
	}
	return segments
}

// Parse parses raw HL7v2 message bytes into a structured Message.
// It supports \r, \n, and \r\n line endings for segment separation.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: message is empty", ErrStructural)
	}

	lines := SplitSegments(string(raw))
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no segments found", ErrStructural)
	}

	// First segment must be MSH
	if !strings.HasPrefix(lines[0], "MSH") {
		return nil, fmt.Errorf("%w: first segment must be MSH, got %q", ErrStructural, lines[0][:min(3, len(lines[0]))])
	}

	delims, err := parseDelimiters(lines[0])
	if err != nil {
		return nil, err
	}

	msg := &Message{Delimiters: delims}
	for _, line := range lines {
		seg, err := ParseSegment(line, delims)
		if err != nil {
			return nil, fmt.Errorf("hl7v2: failed to parse segment: %w", err)
		}
		msg.Segments = append(msg.Segments, seg)
	}

	return msg, nil
}

// parseDelimiters reads MSH-1 and MSH-2, falling back to the defaults for
// any encoding character that is not declared.
func parseDelimiters(msh string) (Delimiters, error) {
	d := DefaultDelimiters
	if len(msh) < 4 {
		return d, nil
	}
	d.Field = msh[3]
	if d.Field == ' ' || isAlphaNum(d.Field) {
		return d, fmt.Errorf("%w: invalid field separator %q", ErrStructural, d.Field)
	}

	enc := msh[4:]
	if i := strings.IndexByte(enc, d.Field); i >= 0 {
		enc = enc[:i]
	}
	targets := []*byte{&d.Component, &d.Repetition, &d.Escape, &d.SubComponent}
	for i := 0; i < len(enc) && i < len(targets); i++ {
		*targets[i] = enc[i]
	}
	return d, nil
}

// ParseSegment parses a single segment line using the given delimiters.
func ParseSegment(line string, d Delimiters) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, fmt.Errorf("segment too short: %q", line)
	}

	seg := Segment{}

	// MSH is special: the field separator (|) is MSH-1 itself.
	if strings.HasPrefix(line, "MSH") {
		seg.Name = "MSH"
		if len(line) < 4 {
			return seg, nil
		}

		sep := string(line[3])
		seg.Fields = append(seg.Fields, Field{Value: sep, Components: []string{sep}})
		for _, part := range strings.Split(line[4:], sep) {
			seg.Fields = append(seg.Fields, parseField(part, d))
		}
		return seg, nil
	}

	parts := strings.SplitN(line, string(d.Field), 2)
	seg.Name = parts[0]
	if len(parts) > 1 {
		for _, f := range strings.Split(parts[1], string(d.Field)) {
			seg.Fields = append(seg.Fields, parseField(f, d))
		}
	}

	return seg, nil
}

// parseField parses a single field, handling components (^) and repetitions (~).
func parseField(raw string, d Delimiters) Field {
	f := Field{Value: raw}

	for _, rep := range strings.Split(raw, string(d.Repetition)) {
		f.Repeats = append(f.Repeats, strings.Split(rep, string(d.Component)))
	}
	f.Components = f.Repeats[0]

	return f
}

// Field returns the value of field n (1-based), or "" when absent.
func (s *Segment) Field(n int) string {
	idx := n - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx].Value
}

// HasField reports whether field n is present in the segment, even if empty.
func (s *Segment) HasField(n int) bool {
	return n >= 1 && n <= len(s.Fields)
}

// Component returns a component value by 1-based field and component indices.
func (s *Segment) Component(fieldIdx, compIdx int) string {
	idx := fieldIdx - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	comps := s.Fields[idx].Components
	ci := compIdx - 1
	if ci < 0 || ci >= len(comps) {
		return ""
	}
	return comps[ci]
}

// SetField replaces field n (1-based), padding with empty fields as needed.
// Setting MSH-1 is ignored since it is the separator itself.
func (s *Segment) SetField(n int, value string, d Delimiters) {
	if n < 1 || (s.Name == "MSH" && n == 1) {
		return
	}
	for len(s.Fields) < n {
		s.Fields = append(s.Fields, Field{Components: []string{""}, Repeats: [][]string{{""}}})
	}
	s.Fields[n-1] = parseField(value, d)
}

// Encode serialises the segment with the given delimiters.
func (s *Segment) Encode(d Delimiters) string {
	var b strings.Builder
	b.WriteString(s.Name)
	start := 0
	if s.Name == "MSH" {
		// Fields[0] is the separator itself.
		start = 1
	}
	for i := start; i < len(s.Fields); i++ {
		b.WriteByte(d.Field)
		b.WriteString(s.Fields[i].Value)
	}
	return b.String()
}

// Clone returns a deep copy of the segment.
func (s Segment) Clone() Segment {
	out := Segment{Name: s.Name, Fields: make([]Field, len(s.Fields))}
	for i, f := range s.Fields {
		nf := Field{Value: f.Value, Components: append([]string(nil), f.Components...)}
		for _, rep := range f.Repeats {
			nf.Repeats = append(nf.Repeats, append([]string(nil), rep...))
		}
		out.Fields[i] = nf
	}
	return out
}

// String serialises the message with the canonical segment terminator.
func (m *Message) String() string {
	lines := make([]string, len(m.Segments))
	for i := range m.Segments {
		lines[i] = m.Segments[i].Encode(m.Delimiters)
	}
	return strings.Join(lines, SegmentTerminator)
}

// GetSegment returns the first segment with the given name, or nil if not found.
func (m *Message) GetSegment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// CountSegments returns how many segments carry the given name.
func (m *Message) CountSegments(name string) int {
	n := 0
	for _, seg := range m.Segments {
		if seg.Name == name {
			n++
		}
	}
	return n
}

// MSH returns the header segment, or nil for an unparsed empty message.
func (m *Message) MSH() *Segment {
	if len(m.Segments) == 0 || m.Segments[0].Name != "MSH" {
		return nil
	}
	return &m.Segments[0]
}

func (m *Message) mshField(n int) string {
	if msh := m.MSH(); msh != nil {
		return msh.Field(n)
	}
	return ""
}

// Type returns MSH-9 (e.g. "ORU^R01").
func (m *Message) Type() string { return m.mshField(9) }

// ControlID returns MSH-10.
func (m *Message) ControlID() string { return m.mshField(10) }

// Version returns MSH-12.
func (m *Message) Version() string { return m.mshField(12) }

// SendingFacility returns MSH-4.
func (m *Message) SendingFacility() string { return m.mshField(4) }

// SetControlID rewrites MSH-10.
func (m *Message) SetControlID(id string) {
	if msh := m.MSH(); msh != nil {
		msh.SetField(10, id, m.Delimiters)
	}
}

// Timestamp parses MSH-7. The zero time is returned when it is absent or invalid.
func (m *Message) Timestamp() time.Time {
	t, err := ParseTimestamp(m.mshField(7))
	if err != nil {
		return time.Time{}
	}
	return t
}

// PatientID returns PID-3.1 (the first component of the patient identifier field).
func (m *Message) PatientID() string {
	pid := m.GetSegment("PID")
	if pid == nil {
		return ""
	}
	return pid.Component(3, 1)
}

// PatientName returns the family and given name from PID-5 (family^given).
func (m *Message) PatientName() (family, given string) {
	pid := m.GetSegment("PID")
	if pid == nil {
		return "", ""
	}
	return pid.Component(5, 1), pid.Component(5, 2)
}

func isAlphaNum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
