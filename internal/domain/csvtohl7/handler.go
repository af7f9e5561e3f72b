package csvtohl7

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/hl7v2"
)

// Handler exposes CSV conversion over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a new CSV conversion handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the conversion endpoint.
//
//	POST /api/v1/transform/csv  - Convert a CSV file to ORU^R01 messages
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/transform/csv", h.Convert)
}

// Convert handles POST /api/v1/transform/csv.
func (h *Handler) Convert(c echo.Context) error {
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

	if res.Messages == nil {
		res.Messages = []Message{}
	}
	if res.Rejects == nil {
		res.Rejects = []Reject{}
	}
	return c.JSON(http.StatusOK, res)
}
