package addext

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/hl7v2"
)

// Handler exposes the normaliser over HTTP.
type Handler struct {
	n *Normaliser
}

// NewHandler creates a new normaliser handler.
func NewHandler(n *Normaliser) *Handler {
	return &Handler{n: n}
}

// RegisterRoutes registers the normalise endpoint.
//
//	POST /api/v1/transform/ext  - Normalise and clean an HL7 file
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/transform/ext", h.Normalise)
}

// Normalise handles POST /api/v1/transform/ext.
func (h *Handler) Normalise(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	res, err := h.n.Normalise(body)
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
