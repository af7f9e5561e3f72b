package hl7v2

import "strings"

// The replacers run in a single pass over the input, so an escape sequence
// produced for one character is never rescanned and escaped again. The
// escape character comes first, then line breaks, then the delimiters.
var (
	escaper = strings.NewReplacer(
		`\`, `\E\`,
		"\r\n", `\.br\`,
		"\n", `\.br\`,
		"\r", `\.br\`,
		"|", `\F\`,
		"^", `\S\`,
		"~", `\R\`,
		"&", `\T\`,
	)

	unescaper = strings.NewReplacer(
		`\E\`, `\`,
		`\.br\`, "\n",
		`\F\`, "|",
		`\S\`, "^",
		`\R\`, "~",
		`\T\`, "&",
	)
)

// Escape replaces the reserved HL7 characters in free text with their
// escape sequences so the value can be placed inside a single field or
// component without changing the field count on re-parse.
func Escape(text string) string {
	if !strings.ContainsAny(text, "\\|^~&\r\n") {
		return text
	}
	return escaper.Replace(text)
}

// Unescape reverses Escape. Line breaks decode to \n.
func Unescape(text string) string {
	if !strings.Contains(text, `\`) {
		return text
	}
	return unescaper.Replace(text)
}
