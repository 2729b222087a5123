package escrow

import (
	"context"
	"log/slog"
	"time"

	"github.com/lumenlock/lumenlock/internal/events"
)

// Monitor periodically scans for funded agreements whose deadline has
// passed and announces them. It never transitions state itself: refunds
// require a buyer-signed transaction, so the monitor only surfaces
// eligibility.
type Monitor struct {
	store    Store
	bus      *events.Bus
	logger   *slog.Logger
	interval time.Duration
}

// NewMonitor creates a refund-eligibility monitor.
func NewMonitor(store Store, bus *events.Bus, logger *slog.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{store: store, bus: bus, logger: logger, interval: interval}
}

// Run scans on a ticker until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

func (m *Monitor) scan(ctx context.Context) {
	eligible, err := m.store.ListRefundEligible(ctx, time.Now(), 100)
	if err != nil {
		m.logger.Error("refund scan failed", "error", err)
		return
	}
	for _, a := range eligible {
		m.logger.Info("escrow refund eligible",
			"id", a.ID, "buyer", a.Buyer, "deadline", a.Deadline)
		m.bus.Publish(events.Event{
			Type: events.EscrowType("refund_eligible"),
			Data: map[string]string{"id": a.ID, "buyer": a.Buyer},
		})
	}
}
