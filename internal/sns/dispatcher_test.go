package sns

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"offline-sns/internal/lambda"
	"offline-sns/internal/metrics"
)

const fanoutService = `
service: shop
provider:
  timeout: 3
functions:
  a:
    handler: handler.a
    events:
      - sns: orders
  b:
    handler: handler.b
    memorySize: 256
    events:
      - sns: orders
  c:
    handler: handler.c
    events:
      - sns:
          topicName: orders
`

func newTestDispatcher(t *testing.T, funcs map[string]lambda.HandlerFunc) (*Dispatcher, *Registry, *captureLogger) {
	t.Helper()
	reg := BuildRegistry(mustParse(t, fanoutService), nil)
	logger := &captureLogger{}
	factory := lambda.NewFactory(lambda.Options{Funcs: funcs})
	return NewDispatcher(reg, factory, logger, metrics.New()), reg, logger
}

func TestDispatchInvokesEverySubscriber(t *testing.T) {
	calls := &invocationLog{}
	d, reg, logger := newTestDispatcher(t, map[string]lambda.HandlerFunc{
		"a": calls.handler("a", nil),
		"b": calls.handler("b", nil),
		"c": calls.handler("c", nil),
	})

	tmpl := NewEvent(PublishInput{TopicArn: "orders", Subject: "s", Message: "m"}, "m-1")
	if n := d.Dispatch(context.Background(), "orders", tmpl); n != 3 {
		t.Fatalf("expected 3 invocations, got %d", n)
	}

	got := calls.snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 handler calls, got %d", len(got))
	}
	subs := reg.Subscriptions("orders")
	for i, call := range got {
		if call.function != subs[i].FunctionName {
			t.Fatalf("call %d went to %s, want %s", i, call.function, subs[i].FunctionName)
		}
		rec := call.event.Records[0]
		if want := "orders:" + subs[i].ID; rec.EventSubscription != want {
			t.Fatalf("binding = %q, want %q", rec.EventSubscription, want)
		}
		if rec.Sns != tmpl.Records[0].Sns {
			t.Fatalf("notification differs across subscribers: %+v", rec.Sns)
		}
		if call.ctx == nil || call.ctx.FunctionName != call.function {
			t.Fatalf("unexpected invocation context: %+v", call.ctx)
		}
	}
	if got[1].ctx.MemoryLimitInMB != 256 || got[0].ctx.MemoryLimitInMB != 1024 {
		t.Fatalf("memory limits not taken from function config: %d, %d", got[0].ctx.MemoryLimitInMB, got[1].ctx.MemoryLimitInMB)
	}
	if tmpl.Records[0].EventSubscription != "" {
		t.Fatal("dispatch mutated the template")
	}
	if len(logger.snapshot()) != 0 {
		t.Fatalf("unexpected logs: %+v", logger.snapshot())
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	calls := &invocationLog{}
	boom := errors.New("boom")
	d, _, logger := newTestDispatcher(t, map[string]lambda.HandlerFunc{
		"a": calls.handler("a", boom),
		"b": calls.handler("b", nil),
		"c": calls.handler("c", nil),
	})

	n := d.Dispatch(context.Background(), "orders", NewEvent(PublishInput{TopicArn: "orders"}, ""))
	if n != 3 {
		t.Fatalf("expected 3 invocations, got %d", n)
	}
	got := calls.snapshot()
	if len(got) != 3 || got[1].function != "b" || got[2].function != "c" {
		t.Fatalf("siblings of a failing handler must still run: %+v", got)
	}

	entries := logger.snapshot()
	if len(entries) != 1 {
		t.Fatalf("expected one failure log, got %+v", entries)
	}
	if entries[0].msg != "Uncaught error in your 'a' handler" || !errors.Is(entries[0].err, boom) {
		t.Fatalf("unexpected failure log: %+v", entries[0])
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	calls := &invocationLog{}
	d, _, logger := newTestDispatcher(t, map[string]lambda.HandlerFunc{
		"a": func(context.Context, any, *lambda.Context) error { panic("kaboom") },
		"b": calls.handler("b", nil),
		"c": calls.handler("c", nil),
	})

	if n := d.Dispatch(context.Background(), "orders", NewEvent(PublishInput{TopicArn: "orders"}, "")); n != 3 {
		t.Fatalf("expected 3 invocations, got %d", n)
	}
	if got := calls.snapshot(); len(got) != 2 {
		t.Fatalf("expected b and c to run, got %d calls", len(got))
	}
	entries := logger.snapshot()
	if len(entries) != 1 || !errors.Is(entries[0].err, ErrHandlerPanic) {
		t.Fatalf("expected a recovered panic log, got %+v", entries)
	}
	if !strings.Contains(entries[0].err.Error(), "kaboom") {
		t.Fatalf("panic value lost: %v", entries[0].err)
	}
}

func TestDispatchMissingHandler(t *testing.T) {
	calls := &invocationLog{}
	d, _, logger := newTestDispatcher(t, map[string]lambda.HandlerFunc{
		"b": calls.handler("b", nil),
	})

	d.Dispatch(context.Background(), "orders", NewEvent(PublishInput{TopicArn: "orders"}, ""))
	entries := logger.snapshot()
	if len(entries) != 2 {
		t.Fatalf("expected failures for a and c, got %+v", entries)
	}
	for _, e := range entries {
		if !errors.Is(e.err, lambda.ErrNoInvoker) {
			t.Fatalf("expected ErrNoInvoker, got %v", e.err)
		}
	}
	if got := calls.snapshot(); len(got) != 1 {
		t.Fatalf("expected b to run, got %d calls", len(got))
	}
}

func TestDispatchUnknownTopic(t *testing.T) {
	calls := &invocationLog{}
	d, _, logger := newTestDispatcher(t, map[string]lambda.HandlerFunc{
		"a": calls.handler("a", nil),
	})
	if n := d.Dispatch(context.Background(), "missing", NewEvent(PublishInput{TopicArn: "missing"}, "")); n != 0 {
		t.Fatalf("expected no invocations, got %d", n)
	}
	if len(calls.snapshot()) != 0 || len(logger.snapshot()) != 0 {
		t.Fatal("unknown topic must be a silent no-op")
	}
}

func TestDispatchRecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	calls := &invocationLog{}
	d, _, _ := newTestDispatcher(t, map[string]lambda.HandlerFunc{
		"a": calls.handler("a", errors.New("boom")),
		"b": calls.handler("b", nil),
		"c": calls.handler("c", nil),
	})
	d.Dispatch(context.Background(), "orders", NewEvent(PublishInput{TopicArn: "orders"}, ""))

	spans := sr.Ended()
	if len(spans) != 4 {
		t.Fatalf("expected 3 invoke spans and 1 dispatch span, got %d", len(spans))
	}
	if spans[3].Name() != "sns.dispatch" {
		t.Fatalf("last ended span = %q, want sns.dispatch", spans[3].Name())
	}
	failed := spans[0]
	if failed.Name() != "sns.invoke" || failed.Status().Code != codes.Error {
		t.Fatalf("failing invocation span = %q %v", failed.Name(), failed.Status())
	}
	if spans[1].Status().Code == codes.Error {
		t.Fatal("successful invocation marked as error")
	}
	if failed.Parent().SpanID() != spans[3].SpanContext().SpanID() {
		t.Fatal("invoke span should be a child of the dispatch span")
	}
}
