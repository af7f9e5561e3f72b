package ingest

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/config"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/domain/addext"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/domain/csvtohl7"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/domain/datsplit"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/domain/hl7clean"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/domain/obrsplit"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/blobstore"
)

const hl7Ext = ".hl7"

// Artifact is one object to write.
type Artifact struct {
	Key         string `json:"key"`
	Kind        string `json:"kind"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"-"`
}

// Reject is an input record that produced no artifact.
type Reject struct {
	Seq    int    `json:"seq"`
	Reason string `json:"reason"`
	Record string `json:"record"`
}

// Output is what a processor made of one file.
type Output struct {
	Artifacts []Artifact `json:"artifacts"`
	Rejects   []Reject   `json:"rejects"`
}

// Processor runs one transform and names its artifacts.
type Processor interface {
	Function() string
	Process(loc *Location, content []byte) (*Output, error)
}

// Counter receives validation findings from the transforms.
type Counter interface {
	IncValidation(field, reason string)
}

// NewProcessor builds the processor for function with the header values and
// timezone from cfg. counter may be nil.
func NewProcessor(function string, cfg *config.Config, counter Counter, logger zerolog.Logger) (Processor, error) {
	logger = logger.With().Str("function", function).Logger()

	// A nil Counter interface, not a typed nil pointer, keeps the
	// transforms from counting.
	var hc hl7clean.Counter
	var cc csvtohl7.Counter
	if counter != nil {
		hc, cc = counter, counter
	}

	switch function {
	case config.FunctionSplitCSV:
		opts := csvtohl7.Options{
			SendingApplication:   cfg.SendingApplication,
			ReceivingApplication: cfg.ReceivingApplication,
			ReceivingFacility:    cfg.ReceivingFacility,
			ProcessingID:         cfg.ProcessingID,
			TZOffset:             cfg.TZOffset,
		}
		enc := csvtohl7.NewEncoder(opts, cc, logger)
		return &CSVProcessor{svc: csvtohl7.NewService(enc, logger)}, nil
	case config.FunctionSplitDAT:
		return &DATProcessor{svc: datsplit.NewService(hl7clean.NewCleaner(hc, logger), logger)}, nil
	case config.FunctionSplitOBR:
		return &OBRProcessor{svc: obrsplit.NewService(logger)}, nil
	case config.FunctionAddExt:
		return &ExtProcessor{norm: addext.NewNormaliser(hl7clean.NewCleaner(hc, logger), logger)}, nil
	}
	return nil, fmt.Errorf("ingest: unknown function %q", function)
}

func hl7Artifact(key, kind, content string) Artifact {
	return Artifact{Key: key, Kind: kind, ContentType: blobstore.ContentTypeFor(key), Content: []byte(content)}
}

// CSVProcessor writes one message per data row to splitcsv/.
type CSVProcessor struct {
	svc *csvtohl7.Service
}

func (p *CSVProcessor) Function() string { return config.FunctionSplitCSV }

func (p *CSVProcessor) Process(loc *Location, content []byte) (*Output, error) {
	res, err := p.svc.Process(content)
	if err != nil {
		return nil, err
	}
	out := &Output{}
	for _, m := range res.Messages {
		out.Artifacts = append(out.Artifacts, hl7Artifact(loc.Numbered(DirSplitCSV, "", m.Row, hl7Ext), "message", m.Content))
	}
	for _, r := range res.Rejects {
		out.Rejects = append(out.Rejects, Reject{Seq: r.Row, Reason: r.Reason, Record: r.Record})
	}
	return out, nil
}

// DATProcessor writes single-order messages to splitdat/ and multi-order
// messages to splitdat_multi_obr/, where the OBR function picks them up.
type DATProcessor struct {
	svc *datsplit.Service
}

func (p *DATProcessor) Function() string { return config.FunctionSplitDAT }

func (p *DATProcessor) Process(loc *Location, content []byte) (*Output, error) {
	res, err := p.svc.Process(content)
	if err != nil {
		return nil, err
	}
	out := &Output{}
	for _, m := range res.Messages {
		key := loc.Numbered(DirSplitDAT, "", m.Seq, hl7Ext)
		if m.Kind == datsplit.KindMultiOrder {
			key = loc.Numbered(DirSplitDATMulti, "_multiOBR", m.Seq, hl7Ext)
		}
		out.Artifacts = append(out.Artifacts, hl7Artifact(key, string(m.Kind), m.Content))
	}
	for _, r := range res.Rejects {
		out.Rejects = append(out.Rejects, Reject{Seq: r.Seq, Reason: r.Reason, Record: r.Record})
	}
	return out, nil
}

// OBRProcessor writes one message per order group to splitobr/.
type OBRProcessor struct {
	svc *obrsplit.Service
}

func (p *OBRProcessor) Function() string { return config.FunctionSplitOBR }

func (p *OBRProcessor) Process(loc *Location, content []byte) (*Output, error) {
	res, err := p.svc.Process(content)
	if err != nil {
		return nil, err
	}
	out := &Output{}
	for _, m := range res.Messages {
		key := loc.Numbered(DirSplitOBR, "_obr", m.Seq, hl7Ext)
		if m.Kind == obrsplit.KindOBRMissing {
			key = loc.OutputKey(DirSplitOBR, fmt.Sprintf("%s_%s_OBRMISSING%s", loc.User, loc.Base, hl7Ext))
		}
		out.Artifacts = append(out.Artifacts, hl7Artifact(key, string(m.Kind), m.Content))
	}
	return out, nil
}

// ExtProcessor writes the normalised file to renamed_file/{base}.hl7.
type ExtProcessor struct {
	norm *addext.Normaliser
}

func (p *ExtProcessor) Function() string { return config.FunctionAddExt }

func (p *ExtProcessor) Process(loc *Location, content []byte) (*Output, error) {
	res, err := p.norm.Normalise(content)
	if err != nil {
		return nil, err
	}
	key := loc.OutputKey(DirRenamed, loc.Base+hl7Ext)
	return &Output{Artifacts: []Artifact{hl7Artifact(key, "renamed", res.Content)}}, nil
}
