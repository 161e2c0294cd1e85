package metrics

import (
	"time"

	"github.com/gatehouse-io/gatehouse/pkg/events"
)

// Observe updates metrics from one lifecycle event
func (m *Metrics) Observe(event events.Event) {
	switch event.Type {
	case events.TypeToolEnd:
		m.ToolCallsTotal.WithLabelValues(event.ToolName, event.Status).Inc()
		m.ToolCallDuration.WithLabelValues(event.ToolName).
			Observe(float64(event.DurationMS) / 1000.0)
		if event.ErrorKind != "" {
			m.ToolCallErrorsTotal.WithLabelValues(event.ToolName, event.ErrorKind).Inc()
		}

	case events.TypeConfirmation:
		m.ConfirmationsTotal.WithLabelValues(event.RiskLevel).Inc()
	}
}

// Run consumes a lifecycle event stream until it closes, periodically
// refreshing the pending-confirmations gauge from the registry snapshot.
// pending may be nil when no gate is wired.
func (m *Metrics) Run(ch <-chan events.Event, pending func() int) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(event)
		case <-ticker.C:
			if pending != nil {
				m.ConfirmationsPending.Set(float64(pending()))
			}
		}
	}
}
