package hl7v2

import "testing"

func TestIsValidDatetime(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"20240101", true},
		{"2024010112", true},
		{"202401011230", true},
		{"20240101123045", true},
		{"20240101123045.1234", true},
		{"20240101123045-0500", true},
		{"20240101123045.12+0100", true},
		{"20240101-0400", true},
		{"2024-01-01", false},
		{"2024", false},
		{"202401", false},
		{"20241301", false},
		{"20240230", false},
		{"20240101256000", false},
		{"20240101123045.12345", false},
		{"20240101123045-05", false},
		{"2024010112304", false},
		{"not a date", false},
	}
	for _, tt := range tests {
		if got := IsValidDatetime(tt.in); got != tt.want {
			t.Errorf("IsValidDatetime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseTimestamp_Offset(t *testing.T) {
	ts, err := ParseTimestamp("20240315081500-0400")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, off := ts.Zone()
	if off != -4*3600 {
		t.Errorf("expected offset -4h, got %ds", off)
	}
	if ts.Hour() != 8 || ts.Minute() != 15 {
		t.Errorf("unexpected wall clock %v", ts)
	}
}

func TestConvertUSDate(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		offset  string
		want    string
		wantErr bool
	}{
		{"date", "03/15/2024", "", "20240315", false},
		{"date without padding", "3/5/2024", "", "20240305", false},
		{"date and time", "03/15/2024 08:15:30", "", "20240315081530", false},
		{"date and minutes", "03/15/2024 08:15", "", "20240315081500", false},
		{"with offset", "03/15/2024 08:15:30", "-0400", "20240315081530-0400", false},
		{"surrounding space", " 03/15/2024 ", "", "20240315", false},
		{"iso", "2024-03-15", "", "", true},
		{"empty", "", "", "", true},
		{"impossible", "02/30/2024", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConvertUSDate(tt.in, tt.offset)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if !IsValidDatetime(got) {
				t.Errorf("converted value %q is not a valid HL7 timestamp", got)
			}
		})
	}
}

func TestValidOffset(t *testing.T) {
	for in, want := range map[string]bool{
		"":       true,
		"-0400":  true,
		"+0530":  true,
		"+1400":  true,
		"0400":   false,
		"-04:00": false,
		"-0475":  false,
		"+1500":  false,
		"-04ab":  false,
	} {
		if got := ValidOffset(in); got != want {
			t.Errorf("ValidOffset(%q) = %v, want %v", in, got, want)
		}
	}
}
