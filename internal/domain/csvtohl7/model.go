package csvtohl7

import (
	"fmt"
	"strings"
)

// Record is one row of a lab result CSV file, resolved against the column
// schema. Optional columns that are absent or blank carry their default.
type Record struct {
	Row int // 1-based data row number, excluding the header

	SendingFacility string
	PatientID       string
	LastName        string
	FirstName       string
	MiddleName      string
	DateOfBirth     string
	Sex             string
	Race            string
	Ethnicity       string
	Address         string
	City            string
	State           string
	Zip             string
	Phone           string

	AccessionNumber  string
	OrderedTestID    string
	OrderedTestName  string
	ResultedTestID   string
	ResultedTestName string
	TestDate         string
	ResultDate       string
	SpecimenType     string

	TestResult       string
	ResultUnits      string
	ReferenceRange   string
	AbnormalFlag     string
	ResultStatus     string
	PerformingLab    string
	OrderingProvider string
	Comment          string
}

type column struct {
	name     string
	required bool
	def      string
	field    func(*Record) *string
}

// columns is the CSV schema. Header names are matched exactly after trimming.
var columns = []column{
	{name: "SendingFacility", required: true, field: func(r *Record) *string { return &r.SendingFacility }},
	{name: "Patient_ID", required: true, field: func(r *Record) *string { return &r.PatientID }},
	{name: "PtLastName", required: true, field: func(r *Record) *string { return &r.LastName }},
	{name: "PtFirstName", required: true, field: func(r *Record) *string { return &r.FirstName }},
	{name: "PtMiddleName", field: func(r *Record) *string { return &r.MiddleName }},
	{name: "DateOfBirth", required: true, field: func(r *Record) *string { return &r.DateOfBirth }},
	{name: "Sex", required: true, field: func(r *Record) *string { return &r.Sex }},
	{name: "Race", required: true, field: func(r *Record) *string { return &r.Race }},
	{name: "Ethnicity", required: true, field: func(r *Record) *string { return &r.Ethnicity }},
	{name: "PtAddress", required: true, field: func(r *Record) *string { return &r.Address }},
	{name: "PtCity", required: true, field: func(r *Record) *string { return &r.City }},
	{name: "PtState", required: true, field: func(r *Record) *string { return &r.State }},
	{name: "PtZip", required: true, field: func(r *Record) *string { return &r.Zip }},
	{name: "PtPhone", field: func(r *Record) *string { return &r.Phone }},
	{name: "AccessionNumber", required: true, field: func(r *Record) *string { return &r.AccessionNumber }},
	{name: "OrderedTestID", required: true, field: func(r *Record) *string { return &r.OrderedTestID }},
	{name: "OrderedTestName", field: func(r *Record) *string { return &r.OrderedTestName }},
	{name: "ResultedTestID", required: true, field: func(r *Record) *string { return &r.ResultedTestID }},
	{name: "ResultedTestName", field: func(r *Record) *string { return &r.ResultedTestName }},
	{name: "TestDate", required: true, field: func(r *Record) *string { return &r.TestDate }},
	{name: "ResultDate", field: func(r *Record) *string { return &r.ResultDate }},
	{name: "SpecimenType", field: func(r *Record) *string { return &r.SpecimenType }},
	{name: "TestResult", required: true, field: func(r *Record) *string { return &r.TestResult }},
	{name: "ResultUnits", field: func(r *Record) *string { return &r.ResultUnits }},
	{name: "ReferenceRange", field: func(r *Record) *string { return &r.ReferenceRange }},
	{name: "AbnormalFlag", field: func(r *Record) *string { return &r.AbnormalFlag }},
	{name: "ResultStatus", def: "F", field: func(r *Record) *string { return &r.ResultStatus }},
	{name: "PerformingLab", required: true, field: func(r *Record) *string { return &r.PerformingLab }},
	{name: "OrderingProvider", field: func(r *Record) *string { return &r.OrderingProvider }},
	{name: "Comment", field: func(r *Record) *string { return &r.Comment }},
}

// RequiredColumns returns the names of the mandatory columns in schema order.
func RequiredColumns() []string {
	var out []string
	for _, c := range columns {
		if c.required {
			out = append(out, c.name)
		}
	}
	return out
}

// ValidationError reports a row that cannot be encoded. The row is skipped;
// the rest of the file is still processed.
type ValidationError struct {
	Row     int
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("row %d: missing required fields: %s", e.Row, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// NewRecord resolves a header-to-value mapping against the schema. Values
// are trimmed; defaults fill blank optional columns. A *ValidationError
// lists every blank or absent required column.
func NewRecord(row int, values map[string]string) (*Record, error) {
	rec := &Record{Row: row}
	var missing []string
	for _, c := range columns {
		v := strings.TrimSpace(values[c.name])
		if v == "" {
			if c.required {
				missing = append(missing, c.name)
				continue
			}
			v = c.def
		}
		*c.field(rec) = v
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Row: row, Missing: missing}
	}
	if rec.ResultDate == "" {
		rec.ResultDate = rec.TestDate
	}
	return rec, nil
}

// ControlID returns the MSH-10 value for the record.
func (r *Record) ControlID() string {
	return fmt.Sprintf("%s_%s_%d", r.PatientID, r.ResultedTestID, r.Row)
}
