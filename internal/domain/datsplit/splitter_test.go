package datsplit

import "testing"

func TestSplit(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		want     []string
		preamble string
	}{
		{
			name: "three messages",
			in:   "MSH|^~\\&|A\rPID|1\r\nMSH|^~\\&|B\nPID|2\nMSH|^~\\&|C\r",
			want: []string{"MSH|^~\\&|A\rPID|1", "MSH|^~\\&|B\nPID|2", "MSH|^~\\&|C"},
		},
		{
			name:     "preamble dropped",
			in:       "FHS|^~\\&\rBHS|^~\\&\rMSH|^~\\&|A",
			want:     []string{"MSH|^~\\&|A"},
			preamble: "FHS|^~\\&\rBHS|^~\\&\r",
		},
		{
			name: "msh inside text is not a boundary",
			in:   "MSH|^~\\&|A\rNTE|1||MSHA note about MSH values\rOBX|1|ST|x||MSH 2",
			want: []string{"MSH|^~\\&|A\rNTE|1||MSHA note about MSH values\rOBX|1|ST|x||MSH 2"},
		},
		{
			name: "token in a component with a separator still splits",
			in:   "MSH|^~\\&|A\rOBX|1|CE|x^MSH|y",
			want: []string{"MSH|^~\\&|A\rOBX|1|CE|x^", "MSH|y"},
		},
		{
			name: "custom field separator",
			in:   "MSH#*~\\&#A\rMSH|^~\\&|B",
			want: []string{"MSH#*~\\&#A", "MSH|^~\\&|B"},
		},
		{
			name:     "no msh",
			in:       "PID|1\rOBR|1",
			preamble: "PID|1\rOBR|1",
		},
		{
			name: "trailing msh without separator",
			in:   "MSH|^~\\&|A\rMSH",
			want: []string{"MSH|^~\\&|A\rMSH"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, preamble := Split(tt.in)
			if preamble != tt.preamble {
				t.Errorf("preamble: got %q, want %q", preamble, tt.preamble)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d parts, got %d: %q", len(tt.want), len(got), got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("part %d: got %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
