package datsplit

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/domain/hl7clean"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/hl7v2"
)

// Kind classifies a split message by how many orders it carries.
type Kind string

const (
	// KindSingle is a message with at most one OBR.
	KindSingle Kind = "single"
	// KindMultiOrder is a message with more than one OBR; it is routed to
	// the OBR splitter.
	KindMultiOrder Kind = "multi_order"
)

// Message is one cleaned message cut from the file.
type Message struct {
	Seq        int                `json:"seq"`
	Kind       Kind               `json:"kind"`
	ControlID  string             `json:"controlId"`
	OrderCount int                `json:"orderCount"`
	Content    string             `json:"content"`
	Findings   []hl7clean.Finding `json:"findings,omitempty"`
}

// Reject is a part of the file that could not be parsed.
type Reject struct {
	Seq    int    `json:"seq"`
	Reason string `json:"reason"`
	Record string `json:"record"`
}

// Result is the outcome of splitting one DAT file.
type Result struct {
	Messages []Message `json:"messages"`
	Rejects  []Reject  `json:"rejects"`
	// Preamble is the non-blank text found before the first MSH, which is
	// dropped.
	Preamble string `json:"preamble,omitempty"`
}

// Service splits and cleans DAT files.
type Service struct {
	cleaner *hl7clean.Cleaner
	logger  zerolog.Logger
}

// NewService creates a DAT splitting service.
func NewService(cleaner *hl7clean.Cleaner, logger zerolog.Logger) *Service {
	return &Service{cleaner: cleaner, logger: logger}
}

// Process splits content into messages. Seq is the 1-based position of the
// part in the file, so a part keeps its number whatever happens to the
// parts around it. A file without any MSH is a structural error.
func (s *Service) Process(content []byte) (*Result, error) {
	parts, preamble := Split(string(content))
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no MSH segment found in DAT content", hl7v2.ErrStructural)
	}

	res := &Result{}
	if p := strings.TrimSpace(preamble); p != "" {
		s.logger.Warn().Int("bytes", len(p)).Msg("dropping content before first MSH")
		res.Preamble = p
	}

	for i, part := range parts {
		seq := i + 1
		msg, err := hl7v2.Parse([]byte(part))
		if err != nil {
			s.logger.Warn().Int("seq", seq).Err(err).Msg("skipping unparseable message")
			res.Rejects = append(res.Rejects, Reject{Seq: seq, Reason: err.Error(), Record: part})
			continue
		}

		rep := s.cleaner.Clean(msg)
		orders := msg.CountSegments("OBR")
		kind := KindSingle
		if orders > 1 {
			kind = KindMultiOrder
		}
		res.Messages = append(res.Messages, Message{
			Seq:        seq,
			Kind:       kind,
			ControlID:  msg.ControlID(),
			OrderCount: orders,
			Content:    msg.String(),
			Findings:   rep.Findings,
		})
	}

	s.logger.Info().
		Int("messages", len(res.Messages)).
		Int("rejects", len(res.Rejects)).
		Msg("dat split")
	return res, nil
}
