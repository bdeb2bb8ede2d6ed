package events

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/san-kum/hybridsim/internal/dynamo"
	"github.com/san-kum/hybridsim/internal/fmi"
)

const DefaultMaxIterations = 100

// Target is the unit side of event handling. The engine implements it
// over all its model-exchange units.
type Target interface {
	// Commit sets time and continuous states on every unit.
	Commit(t float64, x dynamo.State) error
	EnterEventMode() error
	// Iterate runs one NewDiscreteStates round over every unit, propagating
	// coupled values, and merges the results.
	Iterate() (fmi.EventInfo, error)
	EnterContinuousTimeMode() error
	States() (dynamo.State, error)
	WriteResult(t float64, x dynamo.State) (bool, error)
}

// Manager runs the event sequence at one instant: commit, pre-event
// write, event iteration, state reset, post-event write.
type Manager struct {
	target Target
	log    *slog.Logger
	tracer trace.Tracer

	MaxIterations int

	next    float64
	hasNext bool
	history []dynamo.Event
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithMaxIterations(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.MaxIterations = n
		}
	}
}

func NewManager(target Target, opts ...Option) *Manager {
	m := &Manager{
		target:        target,
		log:           slog.Default(),
		tracer:        otel.Tracer("github.com/san-kum/hybridsim/internal/events"),
		MaxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NextTimeEvent is the earliest time event reported by the last iteration.
func (m *Manager) NextTimeEvent() (float64, bool) { return m.next, m.hasNext }

// Log returns the events handled so far.
func (m *Manager) Log() []dynamo.Event {
	out := make([]dynamo.Event, len(m.history))
	copy(out, m.history)
	return out
}

// Settle iterates NewDiscreteStates until no unit needs another round.
// The units must already be in event mode. It records the next time event
// and reports whether a unit asked to terminate.
func (m *Manager) Settle(t float64) (terminate bool, valuesChanged bool, err error) {
	for i := 1; ; i++ {
		if i > m.MaxIterations {
			return false, valuesChanged, dynamo.At(t, "event iteration",
				fmt.Errorf("%d rounds: %w", m.MaxIterations, dynamo.ErrEventLoop))
		}
		info, err := m.target.Iterate()
		if err != nil {
			return false, valuesChanged, dynamo.At(t, "new discrete states", err)
		}
		valuesChanged = valuesChanged || info.ValuesOfContinuousStatesChanged
		m.next, m.hasNext = info.NextEventTime, info.NextEventTimeDefined
		if info.TerminateSimulation {
			return true, valuesChanged, nil
		}
		if !info.NewDiscreteStatesNeeded {
			return false, valuesChanged, nil
		}
	}
}

// Handle processes ev with the state x reached at ev.Time. It returns the
// state to resume from. A unit asking to terminate yields
// TerminatedByUnit; a refused write yields Cancelled.
func (m *Manager) Handle(ctx context.Context, ev dynamo.Event, x dynamo.State) (dynamo.State, dynamo.Outcome, error) {
	_, span := m.tracer.Start(ctx, "event", trace.WithAttributes(
		attribute.String("event.kind", ev.Kind.String()),
		attribute.Float64("event.time", ev.Time),
		attribute.Bool("event.on_grid", ev.OnGridPoint),
	))
	defer span.End()

	m.history = append(m.history, ev)
	m.log.Debug("event", "kind", ev.Kind.String(), "t", ev.Time, "crossings", ev.Crossings)

	t := ev.Time
	if err := m.target.Commit(t, x); err != nil {
		return x, dynamo.Failed, dynamo.At(t, "commit event state", err)
	}
	if !ev.OnGridPoint {
		ok, err := m.target.WriteResult(t, x)
		if err != nil {
			return x, dynamo.Failed, err
		}
		if !ok {
			return x, dynamo.Cancelled, nil
		}
	}

	if err := m.target.EnterEventMode(); err != nil {
		return x, dynamo.Failed, dynamo.At(t, "enter event mode", err)
	}
	terminate, changed, err := m.Settle(t)
	if err != nil {
		return x, dynamo.Failed, err
	}
	if terminate {
		m.log.Info("unit requested termination", "t", t)
		span.SetAttributes(attribute.Bool("event.terminate", true))
		return x, dynamo.TerminatedByUnit, nil
	}
	if err := m.target.EnterContinuousTimeMode(); err != nil {
		return x, dynamo.Failed, dynamo.At(t, "enter continuous time mode", err)
	}
	if changed {
		if x, err = m.target.States(); err != nil {
			return x, dynamo.Failed, dynamo.At(t, "read reset states", err)
		}
	}

	ok, err := m.target.WriteResult(t, x)
	if err != nil {
		return x, dynamo.Failed, err
	}
	if !ok {
		return x, dynamo.Cancelled, nil
	}
	return x, dynamo.Continue, nil
}
