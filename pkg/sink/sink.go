// Package sink persists retrieved activity events.
//
// A sink is called once per completed hour with that hour's events, in the
// order they were retrieved. Writes append: a sink never rewrites what an
// earlier call stored.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/activity-export/pkg/window"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_sink_writes_total",
		Help: "Total sink writes by sink kind and result",
	}, []string{"sink", "result"})

	eventsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_sink_events_total",
		Help: "Total events written by sink kind",
	}, []string{"sink"})
)

// Destination identifies where a batch goes.
type Destination struct {
	// Name is the logical target, e.g. "activity_2025_03" (see MonthlyName).
	Name string

	// Hour is the window the events were retrieved for.
	Hour window.TimeWindow
}

// EventSink accepts batches of raw event records.
type EventSink interface {
	Write(ctx context.Context, dest Destination, events []json.RawMessage) error
}

// Func adapts a function to EventSink.
type Func func(ctx context.Context, dest Destination, events []json.RawMessage) error

// Write calls f.
func (f Func) Write(ctx context.Context, dest Destination, events []json.RawMessage) error {
	return f(ctx, dest, events)
}

// Multi writes every batch to all sinks. All sinks are attempted; their
// errors are joined.
type Multi []EventSink

// Write implements EventSink.
func (m Multi) Write(ctx context.Context, dest Destination, events []json.RawMessage) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, dest, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MonthlyName returns the destination name for a month of events:
// "activity_2025_03", or "activity_dns_2025_03" for an event type.
func MonthlyName(prefix, eventType string, year int, month time.Month) string {
	if prefix == "" {
		prefix = "activity"
	}
	if eventType != "" {
		return fmt.Sprintf("%s_%s_%04d_%02d", prefix, eventType, year, int(month))
	}
	return fmt.Sprintf("%s_%04d_%02d", prefix, year, int(month))
}

func record(kind string, events int, err error) {
	if err != nil {
		writesTotal.WithLabelValues(kind, "error").Inc()
		return
	}
	writesTotal.WithLabelValues(kind, "ok").Inc()
	eventsWrittenTotal.WithLabelValues(kind).Add(float64(events))
}
