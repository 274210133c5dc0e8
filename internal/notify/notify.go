// Package notify delivers alert lifecycle changes to external sinks. The
// dispatcher is a bus subscriber, so delivery failures never slow down
// ingestion; a notification that cannot be delivered after retries is logged
// and dropped.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/louissader/homelab-infrastructure-monitor/internal/bus"
	"github.com/louissader/homelab-infrastructure-monitor/internal/ingest"
	"github.com/louissader/homelab-infrastructure-monitor/internal/store"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// Notification is the payload handed to sinks.
type Notification struct {
	Action string       `json:"action"`
	Alert  models.Alert `json:"alert"`
	SentAt time.Time    `json:"sent_at"`
}

// Sink delivers one notification to an external system.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

type binding struct {
	sink Sink
	min  models.Severity
}

// Dispatcher consumes alert events from the bus and fans them out to the
// configured sinks, honoring each sink's severity floor and the rule's
// channel list.
type Dispatcher struct {
	bus      *bus.Bus
	rules    store.RuleStore
	logger   *zap.Logger
	bindings []binding

	attempts int
	backoff  time.Duration
	now      func() time.Time
}

// NewDispatcher creates a dispatcher with no sinks bound yet.
func NewDispatcher(eventBus *bus.Bus, rules store.RuleStore, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		bus:      eventBus,
		rules:    rules,
		logger:   logger.With(zap.String("component", "notify")),
		attempts: 3,
		backoff:  300 * time.Millisecond,
		now:      time.Now,
	}
}

// AddSink binds a sink. Alerts below minSeverity are not delivered to it.
func (d *Dispatcher) AddSink(sink Sink, minSeverity models.Severity) {
	d.bindings = append(d.bindings, binding{sink: sink, min: minSeverity})
}

// Sinks reports how many sinks are bound.
func (d *Dispatcher) Sinks() int {
	return len(d.bindings)
}

// Run consumes events until the context is canceled. Meant to run in its own
// goroutine; without sinks it returns immediately.
func (d *Dispatcher) Run(ctx context.Context) {
	if len(d.bindings) == 0 {
		return
	}
	events, cancel := d.bus.Subscribe()
	defer cancel()
	d.logger.Info("notification dispatcher started", zap.Int("sinks", len(d.bindings)))
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notification dispatcher stopped")
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Type != bus.EventAlert {
				continue
			}
			d.Dispatch(ctx, evt)
		}
	}
}

// Dispatch routes one alert event to every matching sink.
func (d *Dispatcher) Dispatch(ctx context.Context, evt bus.Event) {
	payload, ok := evt.Data.(ingest.AlertEvent)
	if !ok {
		d.logger.Warn("unexpected alert event payload")
		return
	}

	channels := d.ruleChannels(ctx, payload.Alert.RuleID)
	n := Notification{
		Action: payload.Action,
		Alert:  payload.Alert,
		SentAt: d.now().UTC(),
	}
	for _, b := range d.bindings {
		if severityRank(n.Alert.Severity) < severityRank(b.min) {
			continue
		}
		if !channelMatch(channels, b.sink.Name()) {
			continue
		}
		d.deliver(ctx, b.sink, n)
	}
}

// ruleChannels loads the rule's channel list. A deleted rule or a store
// failure yields nil, which matches every sink; losing the routing hint must
// not suppress the notification itself.
func (d *Dispatcher) ruleChannels(ctx context.Context, ruleID string) []string {
	rule, err := d.rules.Get(ctx, ruleID)
	if err != nil {
		return nil
	}
	return rule.Channels
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, n Notification) {
	var err error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		err = sink.Send(ctx, n)
		if err == nil {
			d.logger.Debug("notification delivered",
				zap.String("sink", sink.Name()),
				zap.String("alert", n.Alert.ID),
				zap.Int("attempts", attempt))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * d.backoff):
		}
	}
	d.logger.Warn("notification delivery failed",
		zap.String("sink", sink.Name()),
		zap.String("alert", n.Alert.ID),
		zap.Error(err))
}

func channelMatch(channels []string, name string) bool {
	if len(channels) == 0 {
		return true
	}
	for _, ch := range channels {
		if ch == name {
			return true
		}
	}
	return false
}

func severityRank(s models.Severity) int {
	switch s {
	case models.SeverityCritical:
		return 2
	case models.SeverityWarning:
		return 1
	default:
		return 0
	}
}

// MinSeverity parses a configured severity floor; unknown or empty values
// fall back to info so nothing is filtered by accident.
func MinSeverity(s string) models.Severity {
	sev := models.Severity(s)
	if models.ValidSeverity(sev) {
		return sev
	}
	return models.SeverityInfo
}
