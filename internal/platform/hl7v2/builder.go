package hl7v2

import "strings"

// SegmentBuilder assembles a segment with a fixed number of fields, placing
// values by their 1-based HL7 position. Unset positions stay empty so the
// serialised segment always carries exactly width fields.
type SegmentBuilder struct {
	name   string
	fields []string
}

// NewSegmentBuilder returns a builder for a segment of the given width. For
// MSH, width counts MSH-1, and MSH-1/MSH-2 are filled with the default
// encoding characters.
func NewSegmentBuilder(name string, width int) *SegmentBuilder {
	b := &SegmentBuilder{name: name, fields: make([]string, width)}
	if name == "MSH" && width >= 2 {
		b.fields[0] = string(DefaultDelimiters.Field)
		b.fields[1] = DefaultDelimiters.EncodingCharacters()
	}
	return b
}

// Raw places an already-encoded value at position n. Positions outside the
// declared width are ignored.
func (b *SegmentBuilder) Raw(n int, value string) *SegmentBuilder {
	if n < 1 || n > len(b.fields) || (b.name == "MSH" && n <= 2) {
		return b
	}
	b.fields[n-1] = value
	return b
}

// Text escapes free text and places it at position n.
func (b *SegmentBuilder) Text(n int, text string) *SegmentBuilder {
	return b.Raw(n, Escape(text))
}

// Components escapes each component, joins them with ^ and trims trailing
// empty components.
func (b *SegmentBuilder) Components(n int, comps ...string) *SegmentBuilder {
	return b.Raw(n, JoinComponents(comps...))
}

// String serialises the segment.
func (b *SegmentBuilder) String() string {
	if b.name == "MSH" && len(b.fields) > 0 {
		return b.name + b.fields[0] + strings.Join(b.fields[1:], b.fields[0])
	}
	return b.name + string(DefaultDelimiters.Field) + strings.Join(b.fields, string(DefaultDelimiters.Field))
}

// JoinComponents escapes and joins components, dropping trailing empties.
func JoinComponents(comps ...string) string {
	end := len(comps)
	for end > 0 && comps[end-1] == "" {
		end--
	}
	escaped := make([]string, end)
	for i := 0; i < end; i++ {
		escaped[i] = Escape(comps[i])
	}
	return strings.Join(escaped, string(DefaultDelimiters.Component))
}

// JoinSegments joins serialised segments with the canonical terminator.
func JoinSegments(segments ...string) string {
	return strings.Join(segments, SegmentTerminator)
}
