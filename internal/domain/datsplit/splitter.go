// Package datsplit splits DAT files, which hold raw HL7 messages
// concatenated with no reliable boundary marker, into one cleaned message
// per artifact.
package datsplit

import (
	"strings"
)

const messageToken = "MSH"

// Split cuts content at every occurrence of the MSH token that is followed
// by a non-alphanumeric byte (the field separator), so MSH appearing inside a
// value such as "MSHX01" does not start a message. Each returned part starts
// with MSH. Text before the first MSH is returned separately as preamble.
func Split(content string) (parts []string, preamble string) {
	starts := tokenPositions(content)
	if len(starts) == 0 {
		return nil, content
	}

	preamble = content[:starts[0]]
	for i, start := range starts {
		end := len(content)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		parts = append(parts, strings.TrimSpace(content[start:end]))
	}
	return parts, preamble
}

func tokenPositions(content string) []int {
	var out []int
	for i := 0; ; {
		j := strings.Index(content[i:], messageToken)
		if j < 0 {
			return out
		}
		pos := i + j
		next := pos + len(messageToken)
		if next < len(content) && !isAlphaNum(content[next]) && content[next] != ' ' && content[next] != '\r' && content[next] != '\n' {
			out = append(out, pos)
		}
		i = next
	}
}

func isAlphaNum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
