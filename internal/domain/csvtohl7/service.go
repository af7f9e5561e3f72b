package csvtohl7

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/hl7v2"
)

// Message is one encoded row.
type Message struct {
	Row       int    `json:"row"`
	ControlID string `json:"controlId"`
	Content   string `json:"content"`
}

// Reject is a row that could not be encoded.
type Reject struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
	Record string `json:"record"`
}

// Result is the outcome of converting one CSV file.
type Result struct {
	Messages []Message `json:"messages"`
	Rejects  []Reject  `json:"rejects"`
}

// Service converts CSV files, one message per data row.
type Service struct {
	encoder *Encoder
	logger  zerolog.Logger
}

// NewService creates a CSV conversion service.
func NewService(encoder *Encoder, logger zerolog.Logger) *Service {
	return &Service{encoder: encoder, logger: logger}
}

var candidateDelimiters = []rune{',', ';', '\t', '|'}

// sniffDelimiter picks the candidate that occurs most often in the header line.
func sniffDelimiter(header string) rune {
	best, bestCount := ',', 0
	for _, d := range candidateDelimiters {
		if n := strings.Count(header, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// Process converts content. Rows that fail validation are returned as
// rejects and do not stop the file. A missing header, or a header without
// every required column, is a structural error and nothing is produced.
func (s *Service) Process(content []byte) (*Result, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))

	firstLine := string(content)
	if i := strings.IndexAny(firstLine, "\r\n"); i >= 0 {
		firstLine = firstLine[:i]
	}
	if strings.TrimSpace(firstLine) == "" {
		return nil, fmt.Errorf("%w: csv has no header row", hl7v2.ErrStructural)
	}
	delim := sniffDelimiter(firstLine)

	r := csv.NewReader(bytes.NewReader(content))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv header: %v", hl7v2.ErrStructural, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if missing := missingColumns(header); len(missing) > 0 {
		return nil, fmt.Errorf("%w: csv header is missing required columns: %s", hl7v2.ErrStructural, strings.Join(missing, ", "))
	}

	res := &Result{}
	row := 0
	for {
		values, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++

		var pe *csv.ParseError
		if errors.As(err, &pe) {
			res.Rejects = append(res.Rejects, Reject{Row: row, Reason: pe.Error(), Record: joinRecord(values, delim)})
			continue
		} else if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", row, err)
		}

		msg, err := s.convert(row, header, values)
		if err != nil {
			s.logger.Warn().Int("row", row).Err(err).Msg("skipping row")
			res.Rejects = append(res.Rejects, Reject{Row: row, Reason: err.Error(), Record: joinRecord(values, delim)})
			continue
		}
		res.Messages = append(res.Messages, *msg)
	}

	s.logger.Info().Int("messages", len(res.Messages)).Int("rejects", len(res.Rejects)).Msg("csv converted")
	return res, nil
}

func (s *Service) convert(row int, header, values []string) (*Message, error) {
	m := make(map[string]string, len(header))
	for i, h := range header {
		if i < len(values) {
			m[h] = values[i]
		}
	}
	rec, err := NewRecord(row, m)
	if err != nil {
		return nil, err
	}
	content, err := s.encoder.Encode(rec)
	if err != nil {
		return nil, err
	}
	return &Message{Row: row, ControlID: rec.ControlID(), Content: content}, nil
}

func missingColumns(header []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	var missing []string
	for _, c := range RequiredColumns() {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

func joinRecord(values []string, delim rune) string {
	var b bytes.Buffer
	w := csv.NewWriter(&b)
	w.Comma = delim
	_ = w.Write(values)
	w.Flush()
	return strings.TrimRight(b.String(), "\r\n")
}
