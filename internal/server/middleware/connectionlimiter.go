package middleware

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/a-essam23/go-canvas/pkg/config"
)

// ConnectionGauge tracks live websocket connections for the limiter. The
// server increments it when a connection is accepted and decrements it on
// close.
type ConnectionGauge struct {
	n atomic.Int64
}

func (g *ConnectionGauge) Inc()        { g.n.Add(1) }
func (g *ConnectionGauge) Dec()        { g.n.Add(-1) }
func (g *ConnectionGauge) Load() int64 { return g.n.Load() }

// NewConnectionLimiter rejects upgrade requests once the process-wide
// connection cap is reached. Per-user limits are not possible here: the
// grant arrives in-band after the upgrade, so no user identity exists at
// this point in the chain.
func NewConnectionLimiter(logger *slog.Logger, gauge *ConnectionGauge, cfg config.ConnectionLimitConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Max <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			if count := gauge.Load(); count >= int64(cfg.Max) {
				logger.Warn("Connection limit reached, rejecting upgrade",
					slog.Int64("count", count),
					slog.Int("max", cfg.Max),
				)
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
