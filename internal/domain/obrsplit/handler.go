package obrsplit

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/hl7v2"
)

// Handler exposes OBR splitting over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a new OBR splitting handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the split endpoint.
//
//	POST /api/v1/transform/obr  - Split an HL7 file by OBR group
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/transform/obr", h.Split)
}

// Split handles POST /api/v1/transform/obr.
func (h *Handler) Split(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	res, err := h.svc.Process(body)
	if errors.Is(err, hl7v2.ErrStructural) {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
	} else if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, res)
}
