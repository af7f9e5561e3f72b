package obrsplit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/hl7v2"
)

// Kind classifies an emitted message.
type Kind string

const (
	// KindOrder is a message carrying exactly one OBR group.
	KindOrder Kind = "order"
	// KindOBRMissing is the header of a file in which no OBR was found.
	KindOBRMissing Kind = "obr_missing"
)

// Message is one emitted message.
type Message struct {
	Seq       int    `json:"seq"`
	Kind      Kind   `json:"kind"`
	ControlID string `json:"controlId"`
	Content   string `json:"content"`
}

// Result is the outcome of splitting one file.
type Result struct {
	Messages []Message `json:"messages"`
}

// Service splits HL7 files by OBR group.
type Service struct {
	logger zerolog.Logger
}

// NewService creates an OBR splitting service.
func NewService(logger zerolog.Logger) *Service {
	return &Service{logger: logger}
}

// Process runs the grouping machine over every segment of content. Outputs
// are numbered from 1 in document order, and each gets MSH-10 rewritten to
// "{original}_{seq}". The OBR-missing artifact keeps the original MSH-10.
func (s *Service) Process(content []byte) (*Result, error) {
	lines := hl7v2.SplitSegments(string(content))
	m := newMachine(s.logger)
	for _, line := range lines {
		m.step(line)
	}
	if m.headers == 0 {
		return nil, fmt.Errorf("%w: no MSH segment found", hl7v2.ErrStructural)
	}

	groups, missing := m.finish()
	if missing {
		s.logger.Warn().Msg("no OBR segments found, emitting header as OBR-missing artifact")
		msh, ctrl, err := rewriteControlID(groups[0].header[0], 0)
		if err != nil {
			return nil, err
		}
		header := append([]string{msh}, groups[0].header[1:]...)
		return &Result{Messages: []Message{{
			Seq:       1,
			Kind:      KindOBRMissing,
			ControlID: ctrl,
			Content:   hl7v2.JoinSegments(header...),
		}}}, nil
	}

	res := &Result{}
	for i, g := range groups {
		seq := i + 1
		msh, ctrl, err := rewriteControlID(g.header[0], seq)
		if err != nil {
			return nil, err
		}
		segs := make([]string, 0, len(g.header)+len(g.order))
		segs = append(segs, msh)
		segs = append(segs, g.header[1:]...)
		segs = append(segs, g.order...)
		res.Messages = append(res.Messages, Message{
			Seq:       seq,
			Kind:      KindOrder,
			ControlID: ctrl,
			Content:   hl7v2.JoinSegments(segs...),
		})
	}

	s.logger.Info().Int("messages", len(res.Messages)).Msg("obr split")
	return res, nil
}

// rewriteControlID sets MSH-10 of an MSH line to "{original}_{seq}", or to
// "{seq}" when the original is blank or absent. A seq of 0 leaves the line
// as is.
func rewriteControlID(line string, seq int) (string, string, error) {
	msg, err := hl7v2.Parse([]byte(line))
	if err != nil {
		return "", "", fmt.Errorf("obrsplit: invalid MSH: %w", err)
	}
	orig := msg.ControlID()
	if seq == 0 {
		return line, orig, nil
	}
	ctrl := strconv.Itoa(seq)
	if strings.TrimSpace(orig) != "" {
		ctrl = orig + "_" + ctrl
	}
	msg.SetControlID(ctrl)
	return msg.MSH().Encode(msg.Delimiters), ctrl, nil
}
