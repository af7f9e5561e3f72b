package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const pingTimeout = 5 * time.Second

// Error ledger backends reported by /health.
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Health is the /health response body.
type Health struct {
	Status   string     `json:"status"`
	Function string     `json:"function"`
	Ledger   string     `json:"ledger"`
	Error    string     `json:"error,omitempty"`
	Pool     *PoolStats `json:"pool,omitempty"`
}

// Pinger checks that the ledger database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports the configured function and the state of the error
// ledger. A nil pool means the ledger runs in memory.
func HealthHandler(function string, pool *pgxpool.Pool) echo.HandlerFunc {
	if pool == nil {
		return healthHandler(function, nil, nil)
	}
	return healthHandler(function, pool, func() *PoolStats { return GetPoolStats(pool) })
}

func healthHandler(function string, p Pinger, stats func() *PoolStats) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := Health{Status: "healthy", Function: function, Ledger: LedgerMemory}
		if p == nil {
			return c.JSON(http.StatusOK, h)
		}
		h.Ledger = LedgerPostgres

		ctx, cancel := context.WithTimeout(c.Request().Context(), pingTimeout)
		defer cancel()

		err := p.Ping(ctx)
		if stats != nil {
			h.Pool = stats()
		}
		if err != nil {
			h.Status = "unhealthy"
			h.Error = err.Error()
			if h.Pool != nil {
				h.Pool.Healthy = false
			}
			return c.JSON(http.StatusServiceUnavailable, h)
		}
		return c.JSON(http.StatusOK, h)
	}
}
