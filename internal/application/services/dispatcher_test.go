package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/conversion"
	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/identity"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/sinks"
	"github.com/AtRiskMedia/tractstack-leads/pkg/config"
)

type fakeSink struct {
	name   string
	reason string
	send   func(ctx context.Context, event conversion.Event) conversion.Outcome

	mu     sync.Mutex
	events []conversion.Event
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Available() (bool, string) { return s.reason == "", s.reason }

func (s *fakeSink) Send(ctx context.Context, event conversion.Event) conversion.Outcome {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	if s.send == nil {
		return conversion.Delivered()
	}
	return s.send(ctx, event)
}

func (s *fakeSink) received() []conversion.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]conversion.Event{}, s.events...)
}

type memoryRecorder struct {
	mu      sync.Mutex
	reports []conversion.Report
	err     error
}

func (r *memoryRecorder) Record(_ context.Context, report conversion.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return r.err
}

func dispatchConfig(timeout time.Duration) config.DispatchConfig {
	return config.DispatchConfig{Timeout: timeout, SinkTimeouts: map[string]time.Duration{}}
}

func testEvent(d *Dispatcher) conversion.Event {
	snap := identity.SnapshotOf(identity.NewVisitorProfile("vis_1", time.Now()), false)
	return d.Prepare(conversion.Lead{FormName: "trip"}, EventIDs{CorrelationID: "c1", ExternalID: "e1"}, snap, conversion.RequestContext{})
}

func TestPanickingSinkIsIsolated(t *testing.T) {
	roster := []sinks.Sink{
		&fakeSink{name: "a"},
		&fakeSink{name: "boom", send: func(context.Context, conversion.Event) conversion.Outcome { panic("nil map") }},
		&fakeSink{name: "skip", send: func(context.Context, conversion.Event) conversion.Outcome { return conversion.Skipped("not relayed") }},
		&fakeSink{name: "b"},
	}
	d := NewDispatcher(dispatchConfig(time.Second), roster, nil, logging.NewDiscardLogger())

	report := d.Dispatch(context.Background(), testEvent(d))

	require.Len(t, report.Outcomes, 4)
	assert.Equal(t, 1, report.Count(conversion.StatusFailed))
	assert.Equal(t, 3, report.Count(conversion.StatusDelivered)+report.Count(conversion.StatusSkipped))

	boom, ok := report.Outcome("boom")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(boom.Reason, "panic: "))
	for i, name := range []string{"a", "boom", "skip", "b"} {
		assert.Equal(t, name, report.Outcomes[i].Sink)
	}
}

func TestEverySinkSeesTheSameCorrelationID(t *testing.T) {
	var fakes []*fakeSink
	var roster []sinks.Sink
	for _, name := range []string{sinks.NameMetaPixel, sinks.NameConversionAPI, sinks.NameSnapchat, sinks.NameTikTok, sinks.NameDataLayer, sinks.NameWebhook, sinks.NameEmail} {
		f := &fakeSink{name: name}
		fakes = append(fakes, f)
		roster = append(roster, f)
	}
	d := NewDispatcher(dispatchConfig(time.Second), roster, nil, logging.NewDiscardLogger())

	report := d.Dispatch(context.Background(), testEvent(d))
	assert.Equal(t, 7, report.Count(conversion.StatusDelivered))

	for _, f := range fakes {
		events := f.received()
		require.Len(t, events, 1, f.name)
		assert.Equal(t, "c1", events[0].CorrelationID, f.name)
		assert.Equal(t, "e1", events[0].ExternalID, f.name)
	}
}

func TestNeverResolvingSinkTimesOut(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	roster := []sinks.Sink{
		&fakeSink{name: "fast"},
		&fakeSink{name: "hung", send: func(context.Context, conversion.Event) conversion.Outcome {
			<-block
			return conversion.Delivered()
		}},
	}
	d := NewDispatcher(dispatchConfig(50*time.Millisecond), roster, nil, logging.NewDiscardLogger())

	start := time.Now()
	report := d.Dispatch(context.Background(), testEvent(d))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, conversion.Settled, report.State)
	hung, _ := report.Outcome("hung")
	assert.Equal(t, conversion.Failed("timeout").Status, hung.Status)
	assert.Equal(t, "timeout", hung.Reason)
	fast, _ := report.Outcome("fast")
	assert.Equal(t, conversion.StatusDelivered, fast.Status)
}

func TestPerSinkTimeoutOverride(t *testing.T) {
	cfg := dispatchConfig(2 * time.Second)
	cfg.SinkTimeouts["slow"] = 20 * time.Millisecond
	roster := []sinks.Sink{
		&fakeSink{name: "slow", send: func(ctx context.Context, _ conversion.Event) conversion.Outcome {
			<-ctx.Done()
			return conversion.Failed("timeout")
		}},
	}
	d := NewDispatcher(cfg, roster, nil, logging.NewDiscardLogger())
	assert.Equal(t, 20*time.Millisecond, d.Bound())

	start := time.Now()
	report := d.Dispatch(context.Background(), testEvent(d))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "timeout", report.Outcomes[0].Reason)
}

func TestSinksRunConcurrently(t *testing.T) {
	slow := func(context.Context, conversion.Event) conversion.Outcome {
		time.Sleep(100 * time.Millisecond)
		return conversion.Delivered()
	}
	roster := []sinks.Sink{
		&fakeSink{name: "a", send: slow},
		&fakeSink{name: "b", send: slow},
		&fakeSink{name: "c", send: slow},
	}
	d := NewDispatcher(dispatchConfig(time.Second), roster, nil, logging.NewDiscardLogger())

	start := time.Now()
	report := d.Dispatch(context.Background(), testEvent(d))
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, 3, report.Count(conversion.StatusDelivered))
}

func TestUnavailableSinkIsSkippedWithoutSending(t *testing.T) {
	missing := &fakeSink{name: "email", reason: "EMAIL_RECIPIENTS not set"}
	d := NewDispatcher(dispatchConfig(time.Second), []sinks.Sink{missing}, nil, logging.NewDiscardLogger())

	report := d.Dispatch(context.Background(), testEvent(d))
	assert.Equal(t, conversion.StatusSkipped, report.Outcomes[0].Status)
	assert.Equal(t, "sink unavailable: EMAIL_RECIPIENTS not set", report.Outcomes[0].Reason)
	assert.Empty(t, missing.received())
}

func TestCanceledDispatch(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	roster := []sinks.Sink{&fakeSink{name: "hung", send: func(context.Context, conversion.Event) conversion.Outcome {
		<-block
		return conversion.Delivered()
	}}}
	d := NewDispatcher(dispatchConfig(time.Second), roster, nil, logging.NewDiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := d.Dispatch(ctx, testEvent(d))
	assert.Equal(t, "canceled", report.Outcomes[0].Reason)
}

func TestDispatcherDoesNotDeduplicate(t *testing.T) {
	f := &fakeSink{name: "a"}
	recorder := &memoryRecorder{err: errors.New("journal down")}
	d := NewDispatcher(dispatchConfig(time.Second), []sinks.Sink{f}, recorder, logging.NewDiscardLogger())

	event := testEvent(d)
	first := d.Dispatch(context.Background(), event)
	second := d.Dispatch(context.Background(), event)

	assert.Len(t, f.received(), 2)
	assert.Equal(t, first.CorrelationID, second.CorrelationID)
	require.Len(t, recorder.reports, 2)
	assert.Equal(t, conversion.Settled, recorder.reports[0].State)
	assert.False(t, recorder.reports[0].SettledAt.Before(recorder.reports[0].DispatchedAt))
}

func TestDispatchToUsesGivenOrder(t *testing.T) {
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b", reason: "not configured"}
	d := NewDispatcher(dispatchConfig(time.Second), []sinks.Sink{a, b}, nil, logging.NewDiscardLogger())

	extra := &fakeSink{name: "extra"}
	report := d.DispatchTo(context.Background(), testEvent(d), []sinks.Sink{extra, b, a})

	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, []string{"extra", "b", "a"}, []string{report.Outcomes[0].Sink, report.Outcomes[1].Sink, report.Outcomes[2].Sink})
	assert.Equal(t, conversion.StatusSkipped, report.Outcomes[1].Status)
	assert.Equal(t, []string{"a", "b"}, d.Sinks())
}

// labelSink is a value-type sink holding a map, so its interface values are
// not comparable.
type labelSink struct {
	name   string
	labels map[string]string
}

func (s labelSink) Name() string { return s.name }

func (s labelSink) Send(context.Context, conversion.Event) conversion.Outcome {
	return conversion.Delivered()
}

func TestDispatchToAcceptsValueSinks(t *testing.T) {
	sink := labelSink{name: "labels", labels: map[string]string{"team": "crm"}}
	cfg := dispatchConfig(time.Second)
	cfg.SinkTimeouts["labels"] = 300 * time.Millisecond
	d := NewDispatcher(cfg, []sinks.Sink{sink}, nil, logging.NewDiscardLogger())

	var report conversion.Report
	require.NotPanics(t, func() {
		report = d.DispatchTo(context.Background(), testEvent(d), []sinks.Sink{sink, labelSink{name: "other", labels: map[string]string{}}})
	})
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, 2, report.Count(conversion.StatusDelivered))
	assert.Equal(t, "labels", report.Outcomes[0].Sink)
	assert.Equal(t, "other", report.Outcomes[1].Sink)
}

func TestDispatchToKeepsRegisteredUnavailability(t *testing.T) {
	registered := &fakeSink{name: "crm", reason: "WEBHOOK_URL not set"}
	d := NewDispatcher(dispatchConfig(time.Second), []sinks.Sink{registered}, nil, logging.NewDiscardLogger())

	report := d.DispatchTo(context.Background(), testEvent(d), []sinks.Sink{&fakeSink{name: "crm"}})
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, conversion.StatusSkipped, report.Outcomes[0].Status)
}

type stuckRecorder struct{}

func (stuckRecorder) Record(ctx context.Context, _ conversion.Report) error {
	<-ctx.Done()
	return ctx.Err()
}

type deafRecorder struct{ release chan struct{} }

func (r deafRecorder) Record(context.Context, conversion.Report) error {
	<-r.release
	return nil
}

func TestSlowRecorderDoesNotBlockDispatch(t *testing.T) {
	deaf := deafRecorder{release: make(chan struct{})}
	t.Cleanup(func() { close(deaf.release) })

	for name, recorder := range map[string]OutcomeRecorder{"honors deadline": stuckRecorder{}, "ignores deadline": deaf} {
		t.Run(name, func(t *testing.T) {
			cfg := dispatchConfig(50 * time.Millisecond)
			cfg.RecordTimeout = 50 * time.Millisecond
			d := NewDispatcher(cfg, []sinks.Sink{&fakeSink{name: "a"}}, recorder, logging.NewDiscardLogger())

			start := time.Now()
			report := d.Dispatch(context.Background(), testEvent(d))
			assert.Less(t, time.Since(start), time.Second)
			assert.Equal(t, conversion.Settled, report.State)
			assert.Equal(t, 1, report.Count(conversion.StatusDelivered))
		})
	}
}
