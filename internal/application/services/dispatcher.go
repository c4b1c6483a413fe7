package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/conversion"
	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/identity"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/sinks"
	"github.com/AtRiskMedia/tractstack-leads/pkg/config"
)

const (
	tracerName           = "github.com/AtRiskMedia/tractstack-leads/dispatcher"
	defaultSinkTimeout   = 4 * time.Second
	defaultRecordTimeout = 2 * time.Second
)

// OutcomeRecorder keeps settled reports for later lookup.
type OutcomeRecorder interface {
	Record(ctx context.Context, report conversion.Report) error
}

// NopRecorder drops every report.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, conversion.Report) error { return nil }

// EventIDs are the identifiers minted once per real-world occurrence
type EventIDs struct {
	CorrelationID string
	ExternalID    string
}

type registeredSink struct {
	sink        sinks.Sink
	timeout     time.Duration
	unavailable string
}

// Dispatcher fans one event out to every configured sink concurrently.
// It does not deduplicate: two calls dispatch twice.
type Dispatcher struct {
	roster   []registeredSink
	byName   map[string]registeredSink
	fallback time.Duration
	recorder OutcomeRecorder
	recordBy time.Duration
	logger   *logging.ChanneledLogger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewDispatcher checks each sink's capability once. Unavailable sinks stay in
// the roster and always report Skipped.
func NewDispatcher(cfg config.DispatchConfig, roster []sinks.Sink, recorder OutcomeRecorder, logger *logging.ChanneledLogger) *Dispatcher {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	d := &Dispatcher{
		byName:   make(map[string]registeredSink, len(roster)),
		fallback: cfg.Timeout,
		recorder: recorder,
		recordBy: cfg.RecordTimeout,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	if d.recordBy <= 0 {
		d.recordBy = defaultRecordTimeout
	}
	for _, s := range roster {
		rs := d.register(cfg, s)
		d.roster = append(d.roster, rs)
		d.byName[s.Name()] = rs
	}
	return d
}

func (d *Dispatcher) register(cfg config.DispatchConfig, s sinks.Sink) registeredSink {
	rs := registeredSink{sink: s, timeout: cfg.Timeout}
	if override, ok := cfg.SinkTimeouts[s.Name()]; ok && override > 0 {
		rs.timeout = override
	}
	if rs.timeout <= 0 {
		rs.timeout = defaultSinkTimeout
	}
	if capable, ok := s.(sinks.Capability); ok {
		if available, reason := capable.Available(); !available {
			rs.unavailable = reason
			d.logger.Dispatch().Warn("Sink unavailable", "sink", s.Name(), "reason", reason)
			return rs
		}
	}
	d.logger.Dispatch().Info("Sink registered", "sink", s.Name(), "timeout", rs.timeout)
	return rs
}

// Sinks lists the configured sink names in dispatch order.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.roster))
	for i, rs := range d.roster {
		names[i] = rs.sink.Name()
	}
	return names
}

// Bound is the longest a dispatch can take to settle.
func (d *Dispatcher) Bound() time.Duration {
	bound := time.Duration(0)
	for _, rs := range d.roster {
		bound = max(bound, rs.timeout)
	}
	return bound
}

// Prepare builds the event handed to every sink. The subject is derived from
// the snapshot at this moment.
func (d *Dispatcher) Prepare(payload conversion.Payload, ids EventIDs, snap identity.Snapshot, rc conversion.RequestContext) conversion.Event {
	return conversion.New(payload, ids.CorrelationID, ids.ExternalID, conversion.SubjectFrom(snap), rc, d.now())
}

// Dispatch sends event to the full roster.
func (d *Dispatcher) Dispatch(ctx context.Context, event conversion.Event) conversion.Report {
	return d.dispatch(ctx, event, d.roster)
}

// DispatchTo sends event to an explicit ordered sink list. A sink whose name
// is registered takes that registration's capability result and timeout.
func (d *Dispatcher) DispatchTo(ctx context.Context, event conversion.Event, list []sinks.Sink) conversion.Report {
	roster := make([]registeredSink, 0, len(list))
	for _, s := range list {
		if rs, ok := d.byName[s.Name()]; ok {
			rs.sink = s
			roster = append(roster, rs)
			continue
		}
		rs := registeredSink{sink: s, timeout: d.fallback}
		if rs.timeout <= 0 {
			rs.timeout = defaultSinkTimeout
		}
		if capable, ok := s.(sinks.Capability); ok {
			if available, reason := capable.Available(); !available {
				rs.unavailable = reason
			}
		}
		roster = append(roster, rs)
	}
	return d.dispatch(ctx, event, roster)
}

func (d *Dispatcher) dispatch(ctx context.Context, event conversion.Event, roster []registeredSink) conversion.Report {
	report := conversion.Report{
		CorrelationID: event.CorrelationID,
		ExternalID:    event.ExternalID,
		Event:         event.Name,
		State:         conversion.Created,
		CreatedAt:     d.now(),
		Outcomes:      make([]conversion.Outcome, len(roster)),
	}

	ctx, span := d.tracer.Start(ctx, "conversion.dispatch", trace.WithAttributes(
		attribute.String("conversion.event", string(event.Name)),
		attribute.String("conversion.correlation_id", event.CorrelationID),
		attribute.Int("conversion.sinks", len(roster)),
	))
	defer span.End()

	type result struct {
		index   int
		outcome conversion.Outcome
	}
	results := make(chan result, len(roster))

	report.State = conversion.Dispatched
	report.DispatchedAt = d.now()
	for i, rs := range roster {
		go func(i int, rs registeredSink) {
			results <- result{index: i, outcome: d.invoke(ctx, event, rs)}
		}(i, rs)
	}
	for range roster {
		r := <-results
		report.Outcomes[r.index] = r.outcome
	}

	report.State = conversion.Settled
	report.SettledAt = d.now()

	delivered := report.Count(conversion.StatusDelivered)
	failed := report.Count(conversion.StatusFailed)
	span.SetAttributes(
		attribute.Int("conversion.delivered", delivered),
		attribute.Int("conversion.failed", failed),
	)
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d sink(s) failed", failed))
	}

	d.logger.Dispatch().Info("Dispatch settled",
		"event", event.Name,
		"correlationId", event.CorrelationID,
		"delivered", delivered,
		"failed", failed,
		"skipped", report.Count(conversion.StatusSkipped),
		"elapsed", report.Elapsed())

	d.record(ctx, report)
	return report
}

// record hands the settled report to the recorder under its own deadline. A
// recorder that ignores the deadline is abandoned, not waited on.
func (d *Dispatcher) record(parent context.Context, report conversion.Report) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.recordBy)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("recorder panic: %v", r)
			}
		}()
		done <- d.recorder.Record(ctx, report)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("record outcomes: %w", ctx.Err())
	}
	if err != nil {
		d.logger.LogError(logging.ChannelDispatch, "record_outcomes", err, map[string]any{"correlationId": report.CorrelationID})
	}
}

// invoke runs one sink under its own deadline. The sink's goroutine may
// outlive the deadline; its late answer is discarded.
func (d *Dispatcher) invoke(parent context.Context, event conversion.Event, rs registeredSink) conversion.Outcome {
	name := rs.sink.Name()
	start := d.now()

	if rs.unavailable != "" {
		out := conversion.Skipped("sink unavailable: " + rs.unavailable)
		out.Sink = name
		d.logger.LogSinkOutcome(name, event.CorrelationID, string(out.Status), out.Reason, 0)
		return out
	}

	ctx, span := d.tracer.Start(parent, "conversion.sink."+name)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, rs.timeout)
	defer cancel()

	answer := make(chan conversion.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				answer <- conversion.Failed(fmt.Sprintf("panic: %v", r))
			}
		}()
		answer <- rs.sink.Send(ctx, event)
	}()

	var out conversion.Outcome
	select {
	case out = <-answer:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			out = conversion.Failed("timeout")
		} else {
			out = conversion.Failed("canceled")
		}
	}
	if out.Status == "" {
		out = conversion.Failed("sink returned no outcome")
	}

	out.Sink = name
	out.Duration = d.now().Sub(start)
	span.SetAttributes(
		attribute.String("sink.status", string(out.Status)),
		attribute.String("sink.reason", out.Reason),
	)
	if out.Status == conversion.StatusFailed {
		span.SetStatus(codes.Error, out.Reason)
	}
	d.logger.LogSinkOutcome(name, event.CorrelationID, string(out.Status), out.Reason, out.Duration)
	return out
}
