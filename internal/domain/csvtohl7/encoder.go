package csvtohl7

import (
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/hl7v2"
)

// Segment widths, counted in fields (MSH includes MSH-1).
const (
	widthMSH = 12
	widthPID = 22
	widthPV1 = 2
	widthORC = 12
	widthOBR = 25
	widthSPM = 17
	widthOBX = 23
	widthNTE = 3
)

const (
	messageType = "ORU^R01^ORU_R01"
	hl7Version  = "2.5.1"
	loinc       = "LN"
)

// Counter receives one increment per coded value that could not be encoded.
type Counter interface {
	IncValidation(field, reason string)
}

// Options are the fixed header values and the timezone handling used when
// encoding every record.
type Options struct {
	SendingApplication   string
	ReceivingApplication string
	ReceivingFacility    string
	ProcessingID         string
	// TZOffset is appended to converted timestamps, e.g. "-0400". Empty
	// leaves them without an offset.
	TZOffset string
}

// DefaultOptions returns the header values used by the preprocessing lambdas.
func DefaultOptions() Options {
	return Options{
		SendingApplication:   "SFTP_APP",
		ReceivingApplication: "ELR_RECEIVER",
		ReceivingFacility:    "VI_DOH",
		ProcessingID:         "P",
	}
}

// Encoder turns records into ORU^R01 messages.
type Encoder struct {
	opts    Options
	race    hl7v2.CodeSet
	ethnic  hl7v2.CodeSet
	counter Counter
	logger  zerolog.Logger
}

// NewEncoder creates an encoder. counter may be nil.
func NewEncoder(opts Options, counter Counter, logger zerolog.Logger) *Encoder {
	return &Encoder{
		opts:    opts,
		race:    hl7v2.RaceCodes,
		ethnic:  hl7v2.EthnicityCodes,
		counter: counter,
		logger:  logger,
	}
}

// Encode builds one message for rec. The segments are MSH, PID, PV1, ORC,
// OBR, SPM, OBX and, when the record carries a comment, NTE.
func (e *Encoder) Encode(rec *Record) (string, error) {
	collected, err := hl7v2.ConvertUSDate(rec.TestDate, e.opts.TZOffset)
	if err != nil {
		return "", &ValidationError{Row: rec.Row, Reason: "invalid TestDate: " + err.Error()}
	}
	dob, err := hl7v2.ConvertUSDate(rec.DateOfBirth, "")
	if err != nil {
		return "", &ValidationError{Row: rec.Row, Reason: "invalid DateOfBirth: " + err.Error()}
	}
	resulted, err := hl7v2.ConvertUSDate(rec.ResultDate, e.opts.TZOffset)
	if err != nil {
		e.logger.Warn().Int("row", rec.Row).Str("value", rec.ResultDate).Msg("unparseable ResultDate, leaving empty")
		resulted = ""
	}

	msh := hl7v2.NewSegmentBuilder("MSH", widthMSH).
		Text(3, e.opts.SendingApplication).
		Text(4, rec.SendingFacility).
		Text(5, e.opts.ReceivingApplication).
		Text(6, e.opts.ReceivingFacility).
		Raw(7, collected).
		Raw(9, messageType).
		Text(10, rec.ControlID()).
		Text(11, e.opts.ProcessingID).
		Raw(12, hl7Version)

	pid := hl7v2.NewSegmentBuilder("PID", widthPID).
		Raw(1, "1").
		Components(3, rec.PatientID, "", "", rec.SendingFacility, "PI").
		Components(5, rec.LastName, rec.FirstName, rec.MiddleName).
		Raw(7, dob).
		Raw(8, normalizeSex(rec.Sex)).
		Raw(10, e.coded(rec.Row, rec.Race, e.race)).
		Components(11, rec.Address, "", rec.City, rec.State, rec.Zip).
		Text(13, rec.Phone).
		Raw(22, e.coded(rec.Row, rec.Ethnicity, e.ethnic))

	pv1 := hl7v2.NewSegmentBuilder("PV1", widthPV1).
		Raw(1, "1").
		Raw(2, "O")

	orc := hl7v2.NewSegmentBuilder("ORC", widthORC).
		Raw(1, "RE").
		Text(2, rec.AccessionNumber).
		Text(3, rec.AccessionNumber).
		Components(12, rec.OrderingProvider)

	obr := hl7v2.NewSegmentBuilder("OBR", widthOBR).
		Raw(1, "1").
		Text(2, rec.AccessionNumber).
		Text(3, rec.AccessionNumber).
		Components(4, rec.OrderedTestID, rec.OrderedTestName, loinc).
		Raw(7, collected).
		Raw(22, resulted).
		Text(25, rec.ResultStatus)

	spm := hl7v2.NewSegmentBuilder("SPM", widthSPM).
		Raw(1, "1").
		Text(2, rec.AccessionNumber).
		Components(4, rec.SpecimenType).
		Raw(17, collected)

	valueType, value := resultValue(rec.TestResult)
	obx := hl7v2.NewSegmentBuilder("OBX", widthOBX).
		Raw(1, "1").
		Raw(2, valueType).
		Components(3, rec.ResultedTestID, rec.ResultedTestName, loinc).
		Raw(5, value).
		Components(6, rec.ResultUnits).
		Text(7, rec.ReferenceRange).
		Text(8, rec.AbnormalFlag).
		Text(11, rec.ResultStatus).
		Raw(14, collected).
		Raw(19, resulted).
		Components(23, rec.PerformingLab)

	segments := []string{
		msh.String(),
		pid.String(),
		pv1.String(),
		orc.String(),
		obr.String(),
		spm.String(),
		obx.String(),
	}
	if rec.Comment != "" {
		nte := hl7v2.NewSegmentBuilder("NTE", widthNTE).
			Raw(1, "1").
			Raw(2, "L").
			Text(3, rec.Comment)
		segments = append(segments, nte.String())
	}

	return hl7v2.JoinSegments(segments...), nil
}

// coded encodes a race or ethnicity value. A bare code is expanded to
// code^display^system; a pre-coded value is scrubbed and each kept
// repetition is re-encoded component by component. Values that are not in
// the allow-list are dropped.
func (e *Encoder) coded(row int, value string, cs hl7v2.CodeSet) string {
	if strings.Contains(value, "^") {
		res := hl7v2.ScrubCodedField(value, cs)
		for _, d := range res.Dropped {
			e.drop(row, cs.Name(), d.Reason, d.Repetition)
		}
		if res.Cleared {
			e.drop(row, cs.Name(), hl7v2.ReasonFieldCleared, value)
		}
		if res.Value == "" {
			return ""
		}
		reps := strings.Split(res.Value, "~")
		for i, rep := range reps {
			reps[i] = hl7v2.JoinComponents(strings.Split(rep, "^")...)
		}
		return strings.Join(reps, string(hl7v2.DefaultDelimiters.Repetition))
	}

	display, ok := cs.Display(value)
	if !ok {
		e.drop(row, cs.Name(), hl7v2.ReasonInvalidCode, value)
		return ""
	}
	return hl7v2.JoinComponents(value, display, cs.PrimarySystem())
}

func (e *Encoder) drop(row int, field, reason, value string) {
	e.logger.Warn().Int("row", row).Str("field", field).Str("reason", reason).Str("value", value).Msg("dropped coded value")
	if e.counter != nil {
		e.counter.IncValidation(field, reason)
	}
}

// resultValue picks the OBX-2 value type and the OBX-5 layout. Numbers are
// structured numeric with an empty comparator; anything else is a string.
func resultValue(raw string) (valueType, value string) {
	v := strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return "SN", "^" + v
	}
	return "ST", hl7v2.Escape(v)
}

func normalizeSex(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "M", "MALE":
		return "M"
	case "F", "FEMALE":
		return "F"
	case "O", "OTHER":
		return "O"
	case "A", "N":
		return strings.ToUpper(strings.TrimSpace(s))
	default:
		return "U"
	}
}
