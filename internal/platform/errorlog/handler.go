package errorlog

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/CDCgov/NEDSS-Infrastructure/pkg/pagination"
)

// Handler exposes the ledger read-only over HTTP.
type Handler struct {
	store Store
	now   func() time.Time
}

// NewHandler creates a ledger handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store, now: time.Now}
}

// RegisterRoutes registers the ledger endpoints.
//
//	GET /api/v1/errors          - List entries, newest first (?since=24h&function=&limit=&offset=)
//	GET /api/v1/errors/summary  - Per site and publisher counts for the summary window
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/errors", h.List)
	g.GET("/errors/summary", h.Summary)
}

// List handles GET /api/v1/errors.
func (h *Handler) List(c echo.Context) error {
	window := SummaryWindow
	if s := c.QueryParam("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "since must be a positive duration such as 24h",
			})
		}
		window = d
	}

	entries, err := h.store.Since(c.Request().Context(), h.now().Add(-window))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}

	fn := c.QueryParam("function")
	filtered := make([]*Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if fn == "" || entries[i].Function == fn {
			filtered = append(filtered, entries[i])
		}
	}

	p := pagination.FromContext(c)
	lo, hi := p.Window(len(filtered))
	return c.JSON(http.StatusOK, pagination.NewResponse(filtered[lo:hi], len(filtered), p).WithNext(c.Path()))
}

// Summary handles GET /api/v1/errors/summary.
func (h *Handler) Summary(c echo.Context) error {
	report, sites, err := Report(c.Request().Context(), h.store, h.now())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sites":  sites,
		"report": report,
	})
}
