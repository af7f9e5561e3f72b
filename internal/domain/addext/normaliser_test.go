package addext

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/domain/hl7clean"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/hl7v2"
)

const (
	mshLine = "MSH|^~\\&|LAB|FAC|ELR|DOH|20240101120000||ORU^R01|CTRL1|P|2.5.1"
	pidLine = "PID|1||MRN1^^^FAC^PI||Doe^Jane||19800101|F"
)

func newTestNormaliser() *Normaliser {
	return NewNormaliser(hl7clean.NewCleaner(nil, zerolog.Nop()), zerolog.Nop())
}

func TestNormalise_LineEndings(t *testing.T) {
	in := mshLine + "\r\n" + pidLine + "\n" + "OBR|1|A"
	res, err := newTestNormaliser().Normalise([]byte(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := mshLine + "\r" + pidLine + "\r" + "OBR|1|A\r"
	if res.Content != want {
		t.Errorf("got %q, want %q", res.Content, want)
	}
	if res.Messages != 1 {
		t.Errorf("expected 1 message, got %d", res.Messages)
	}
}

func TestNormalise_BatchLinesPassThrough(t *testing.T) {
	in := strings.Join([]string{
		"FHS|^~\\&|file",
		"BHS|^~\\&|batch",
		mshLine, pidLine, "OBR|1|A",
		mshLine, pidLine, "OBR|1|B",
		"BTS|2",
		"FTS|1",
	}, "\n")
	res, err := newTestNormaliser().Normalise([]byte(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(res.Content, "\r"), "\r")
	if len(lines) != 10 {
		t.Fatalf("expected 10 lines, got %d: %q", len(lines), lines)
	}
	if lines[0] != "FHS|^~\\&|file" || lines[8] != "BTS|2" || lines[9] != "FTS|1" {
		t.Errorf("batch lines must keep their position, got %q", lines)
	}
	if res.Messages != 2 {
		t.Errorf("expected 2 messages, got %d", res.Messages)
	}
}

func TestNormalise_MovesORCNote(t *testing.T) {
	orc := "ORC|RE|A1" + strings.Repeat("|", 21) + "x^^^^^^^^Specimen hemolyzed^y"
	in := strings.Join([]string{mshLine, pidLine, orc, "OBR|1|A", "OBX|1|ST|c||v"}, "\r")

	res, err := newTestNormaliser().Normalise([]byte(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg, err := hl7v2.Parse([]byte(res.Content))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	o := msg.GetSegment("ORC")
	if got := o.Component(23, 9); got != "" {
		t.Errorf("expected ORC-23.9 to be cleared, got %q", got)
	}
	if got := o.Component(23, 10); got != "y" {
		t.Errorf("other components must survive, got ORC-23.10 %q", got)
	}
	last := msg.Segments[len(msg.Segments)-1]
	if got := last.Encode(msg.Delimiters); got != "NTE|1|L|Specimen hemolyzed" {
		t.Errorf("expected trailing NTE, got %q", got)
	}
	if res.Notes != 1 {
		t.Errorf("expected 1 note, got %d", res.Notes)
	}
}

func TestNormalise_CleansPID(t *testing.T) {
	pid := pidLine + "||9999-9^Bogus^CDCREC"
	res, err := newTestNormaliser().Normalise([]byte(mshLine + "\r" + pid))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg, _ := hl7v2.Parse([]byte(res.Content))
	if got := msg.GetSegment("PID").Field(10); got != "" {
		t.Errorf("expected PID-10 to be cleared, got %q", got)
	}
	if len(res.Findings) == 0 {
		t.Error("expected findings")
	}
}

func TestNormalise_WithoutMSH(t *testing.T) {
	res, err := newTestNormaliser().Normalise([]byte("PID|1\nOBR|1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "PID|1\rOBR|1\r" || res.Messages != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestNormalise_Empty(t *testing.T) {
	if _, err := newTestNormaliser().Normalise([]byte(" \r\n ")); !errors.Is(err, hl7v2.ErrStructural) {
		t.Errorf("expected ErrStructural, got %v", err)
	}
}

func TestHandler_Normalise(t *testing.T) {
	e := echo.New()
	NewHandler(newTestNormaliser()).RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transform/ext", strings.NewReader(mshLine+"\n"+pidLine))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !strings.HasSuffix(res.Content, "\r") {
		t.Errorf("expected trailing CR, got %q", res.Content)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/transform/ext", strings.NewReader(""))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}
