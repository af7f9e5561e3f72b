package hl7clean

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/hl7v2"
)

// Handler exposes the cleaner over HTTP.
type Handler struct {
	cleaner *Cleaner
}

// NewHandler creates a new cleaner handler.
func NewHandler(cleaner *Cleaner) *Handler {
	return &Handler{cleaner: cleaner}
}

// RegisterRoutes registers the validation endpoint.
//
//	POST /api/v1/hl7/validate  - Validate and clean one HL7v2 message
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/hl7/validate", h.Validate)
}

// Validate handles POST /api/v1/hl7/validate. The response carries the
// cleaned message and the findings.
func (h *Handler) Validate(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	msg, err := hl7v2.Parse(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to parse HL7v2 message: " + err.Error(),
		})
	}

	rep := h.cleaner.Clean(msg)
	findings := rep.Findings
	if findings == nil {
		findings = []Finding{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":     msg.String(),
		"corrections": rep.Corrections(),
		"findings":    findings,
	})
}
