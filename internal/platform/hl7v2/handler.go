package hl7v2

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler provides HTTP endpoints for inspecting HL7v2 messages.
type Handler struct{}

// NewHandler creates a new HL7v2 handler.
func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes registers HL7v2 endpoints on the provided route group.
//
//	POST /api/v1/hl7/parse           - Parse HL7v2 message to JSON
//	POST /api/v1/hl7/escape          - Escape free text for use in a field
//	POST /api/v1/hl7/unescape        - Decode escape sequences back to text
//	POST /api/v1/hl7/datetime/check  - Check a value against the HL7 TS format
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/hl7/parse", h.ParseMessage)
	g.POST("/hl7/escape", h.EscapeText)
	g.POST("/hl7/unescape", h.UnescapeText)
	g.POST("/hl7/datetime/check", h.CheckDatetime)
}

// segmentJSON is the JSON representation of a parsed segment.
type segmentJSON struct {
	Name   string      `json:"name"`
	Fields []fieldJSON `json:"fields"`
}

// fieldJSON is the JSON representation of a parsed field.
type fieldJSON struct {
	Value      string     `json:"value"`
	Components []string   `json:"components,omitempty"`
	Repeats    [][]string `json:"repeats,omitempty"`
}

// ParseMessage handles POST /api/v1/hl7/parse.
// It reads raw HL7v2 from the request body and returns parsed JSON.
func (h *Handler) ParseMessage(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	if len(body) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "request body is empty",
		})
	}

	msg, err := Parse(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to parse HL7v2 message: " + err.Error(),
		})
	}

	segments := make([]segmentJSON, len(msg.Segments))
	for i, seg := range msg.Segments {
		fields := make([]fieldJSON, len(seg.Fields))
		for j, f := range seg.Fields {
			fields[j] = fieldJSON{
				Value:      f.Value,
				Components: f.Components,
				Repeats:    f.Repeats,
			}
		}
		segments[i] = segmentJSON{
			Name:   seg.Name,
			Fields: fields,
		}
	}

	family, given := msg.PatientName()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"type":            msg.Type(),
		"controlId":       msg.ControlID(),
		"version":         msg.Version(),
		"sendingFacility": msg.SendingFacility(),
		"patientId":       msg.PatientID(),
		"patientName":     map[string]string{"family": family, "given": given},
		"segments":        segments,
	})
}

type textRequest struct {
	Text string `json:"text"`
}

// EscapeText handles POST /api/v1/hl7/escape.
func (h *Handler) EscapeText(c echo.Context) error {
	var req textRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"escaped": Escape(req.Text),
	})
}

// UnescapeText handles POST /api/v1/hl7/unescape.
func (h *Handler) UnescapeText(c echo.Context) error {
	var req textRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"text": Unescape(req.Text),
	})
}

// CheckDatetime handles POST /api/v1/hl7/datetime/check.
func (h *Handler) CheckDatetime(c echo.Context) error {
	var req textRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"value": req.Text,
		"valid": IsValidDatetime(req.Text),
	})
}

// decodeJSONBody reads and decodes the JSON request body into the given target.
func decodeJSONBody(c echo.Context, target interface{}) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, target)
}
