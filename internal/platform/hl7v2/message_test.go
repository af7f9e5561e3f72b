package hl7v2

import (
	"errors"
	"strings"
	"testing"
)

// =========== Sample Messages ===========

const sampleORU = "MSH|^~\\&|LabSystem|LabFac|ELR_RECEIVER|VI_DOH|20240115150000||ORU^R01^ORU_R01|MSG00002|P|2.5.1\rPID|1||MRN12345^^^MRNAuth^PI||Doe^John||19800515|M|||123 Main St^^Springfield^IL^62701|||||||||||2186-5^Not Hispanic or Latino^CDCREC\rOBR|1|ORD001|LAB001|85025^CBC^LN|||20240115140000\rOBX|1|NM|718-7^Hemoglobin^LN||13.5|g/dL|12.0-17.5|N|||F\rOBX|2|NM|4544-3^Hematocrit^LN||40.1|%|36.0-53.0|N|||F"

// =========== Parser Tests ===========

func TestParse_ORU_R01(t *testing.T) {
	msg, err := Parse([]byte(sampleORU))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Type() != "ORU^R01^ORU_R01" {
		t.Errorf("expected Type 'ORU^R01^ORU_R01', got %q", msg.Type())
	}
	if msg.ControlID() != "MSG00002" {
		t.Errorf("expected ControlID 'MSG00002', got %q", msg.ControlID())
	}
	if msg.Version() != "2.5.1" {
		t.Errorf("expected Version '2.5.1', got %q", msg.Version())
	}
	if msg.SendingFacility() != "LabFac" {
		t.Errorf("expected SendingFacility 'LabFac', got %q", msg.SendingFacility())
	}
	ts := msg.Timestamp()
	if ts.Year() != 2024 || ts.Month() != 1 || ts.Day() != 15 || ts.Hour() != 15 {
		t.Errorf("unexpected timestamp: %v", ts)
	}
	if len(msg.Segments) != 5 {
		t.Errorf("expected 5 segments, got %d", len(msg.Segments))
	}
	if n := msg.CountSegments("OBX"); n != 2 {
		t.Errorf("expected 2 OBX segments, got %d", n)
	}
}

func TestParse_MSHFieldNumbering(t *testing.T) {
	msg, err := Parse([]byte(sampleORU))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msh := msg.MSH()
	if msh == nil {
		t.Fatal("expected MSH segment")
	}
	tests := map[int]string{
		1:  "|",
		2:  "^~\\&",
		3:  "LabSystem",
		7:  "20240115150000",
		10: "MSG00002",
		12: "2.5.1",
	}
	for n, want := range tests {
		if got := msh.Field(n); got != want {
			t.Errorf("MSH-%d: expected %q, got %q", n, want, got)
		}
	}
}

func TestParse_PIDFieldNumbering(t *testing.T) {
	msg, err := Parse([]byte(sampleORU))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pid := msg.GetSegment("PID")
	if pid == nil {
		t.Fatal("expected PID segment")
	}
	if got := pid.Field(3); got != "MRN12345^^^MRNAuth^PI" {
		t.Errorf("PID-3: got %q", got)
	}
	if got := pid.Field(7); got != "19800515" {
		t.Errorf("PID-7: got %q", got)
	}
	if got := pid.Component(22, 1); got != "2186-5" {
		t.Errorf("PID-22.1: got %q", got)
	}
	if pid.HasField(23) {
		t.Error("expected PID-23 to be absent")
	}
	if msg.PatientID() != "MRN12345" {
		t.Errorf("expected PatientID 'MRN12345', got %q", msg.PatientID())
	}
	family, given := msg.PatientName()
	if family != "Doe" || given != "John" {
		t.Errorf("expected Doe^John, got %q^%q", family, given)
	}
}

func TestParse_EmptyInput(t *testing.T) {
	_, err := Parse([]byte(""))
	if !errors.Is(err, ErrStructural) {
		t.Errorf("expected ErrStructural, got %v", err)
	}
}

func TestParse_BlankLinesOnly(t *testing.T) {
	_, err := Parse([]byte("\r\n\r\n  \n"))
	if !errors.Is(err, ErrStructural) {
		t.Errorf("expected ErrStructural, got %v", err)
	}
}

func TestParse_NoMSH(t *testing.T) {
	_, err := Parse([]byte("PID|1||12345"))
	if !errors.Is(err, ErrStructural) {
		t.Errorf("expected ErrStructural, got %v", err)
	}
}

func TestParse_Repetitions(t *testing.T) {
	raw := "MSH|^~\\&|A|B|C|D|20240101||ORU^R01|1|P|2.5.1\rPID|1|||||||||2106-3^White^CDCREC~2028-9^Asian^CDCREC"
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f := msg.GetSegment("PID").Fields[9]
	if len(f.Repeats) != 2 {
		t.Fatalf("expected 2 repeats, got %d", len(f.Repeats))
	}
	if f.Repeats[1][0] != "2028-9" {
		t.Errorf("expected second repeat code '2028-9', got %q", f.Repeats[1][0])
	}
	if f.Components[2] != "CDCREC" {
		t.Errorf("expected first repeat system 'CDCREC', got %q", f.Components[2])
	}
}

func TestParse_CustomDelimiters(t *testing.T) {
	raw := "MSH#*~\\&#A#B#C#D#20240101##ORU*R01#1#P#2.5.1\rPID#1##ID1*X##Doe*Jane"
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Delimiters.Field != '#' || msg.Delimiters.Component != '*' {
		t.Errorf("unexpected delimiters: %+v", msg.Delimiters)
	}
	family, given := msg.PatientName()
	if family != "Doe" || given != "Jane" {
		t.Errorf("expected Doe*Jane, got %q*%q", family, given)
	}
	if msg.String() != raw {
		t.Errorf("round trip mismatch:\n got %q\nwant %q", msg.String(), raw)
	}
}

func TestParse_LineEndings(t *testing.T) {
	tests := []struct {
		name string
		sep  string
	}{
		{"windows", "\r\n"},
		{"unix", "\n"},
		{"classic", "\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := strings.ReplaceAll(sampleORU, "\r", tt.sep)
			msg, err := Parse([]byte(raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(msg.Segments) != 5 {
				t.Errorf("expected 5 segments, got %d", len(msg.Segments))
			}
			if msg.String() != sampleORU {
				t.Errorf("expected canonical serialisation, got %q", msg.String())
			}
		})
	}
}

func TestMessage_RoundTripPreservesTrailingEmptyFields(t *testing.T) {
	raw := "MSH|^~\\&|A|B|C|D|20240101||ORU^R01|1|P|2.5.1|||\rPID|1||x|||"
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.String() != raw {
		t.Errorf("got %q, want %q", msg.String(), raw)
	}
}

func TestSegment_SetField(t *testing.T) {
	msg, err := Parse([]byte("MSH|^~\\&|A|B|C|D|20240101||ORU^R01|CTRL|P|2.5.1\rPID|1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pid := msg.GetSegment("PID")
	pid.SetField(5, "Doe^Jane", msg.Delimiters)
	if pid.Field(5) != "Doe^Jane" {
		t.Errorf("expected PID-5 'Doe^Jane', got %q", pid.Field(5))
	}
	if pid.Component(5, 2) != "Jane" {
		t.Errorf("expected PID-5.2 'Jane', got %q", pid.Component(5, 2))
	}
	if got := pid.Encode(msg.Delimiters); got != "PID|1||||Doe^Jane" {
		t.Errorf("unexpected encoding %q", got)
	}

	msg.SetControlID("CTRL_2")
	if msg.ControlID() != "CTRL_2" {
		t.Errorf("expected control ID 'CTRL_2', got %q", msg.ControlID())
	}

	msg.MSH().SetField(1, "#", msg.Delimiters)
	if msg.MSH().Field(1) != "|" {
		t.Error("MSH-1 must not be writable")
	}
}

func TestSegment_Clone(t *testing.T) {
	seg, err := ParseSegment("OBR|1|A^B", DefaultDelimiters)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cp := seg.Clone()
	cp.SetField(2, "Z", DefaultDelimiters)
	cp.Fields[0].Components[0] = "9"
	if seg.Field(2) != "A^B" || seg.Fields[0].Components[0] != "1" {
		t.Error("clone shares state with the original")
	}
}

func TestSplitSegments(t *testing.T) {
	got := SplitSegments("MSH|x\r\n\r\nPID|1\n  \rOBR|1\r")
	want := []string{"MSH|x", "PID|1", "OBR|1"}
	if len(got) != len(want) {
		t.Fatalf("expected %d segments, got %d (%q)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
