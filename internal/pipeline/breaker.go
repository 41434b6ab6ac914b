package pipeline

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/couchcryptid/streamflow-etl/internal/domain"
	"github.com/sony/gobreaker"
)

// GuardedLoader wraps a secondary sink in a circuit breaker. After enough
// consecutive failures the sink is skipped until the breaker timeout elapses.
type GuardedLoader struct {
	name   string
	loader Loader
	cb     *gobreaker.CircuitBreaker
}

// NewGuardedLoader trips after failures consecutive errors and probes again
// after timeout.
func NewGuardedLoader(name string, l Loader, failures uint32, timeout time.Duration, logger *slog.Logger) *GuardedLoader {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("sink circuit state changed", "sink", name, "from", from.String(), "to", to.String())
		},
	})
	return &GuardedLoader{name: name, loader: l, cb: cb}
}

func (g *GuardedLoader) Name() string { return g.name }

// Load forwards to the wrapped sink unless the circuit is open, in which case
// gobreaker.ErrOpenState is returned without calling it.
func (g *GuardedLoader) Load(ctx context.Context, res domain.Result) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.loader.Load(ctx, res)
	})
	return err
}

// State reports the breaker state, e.g. "closed" or "open".
func (g *GuardedLoader) State() string {
	return g.cb.State().String()
}

// Close closes the wrapped sink if it holds resources.
func (g *GuardedLoader) Close() error {
	if c, ok := g.loader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
