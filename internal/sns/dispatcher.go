package sns

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"offline-sns/internal/lambda"
	"offline-sns/internal/logging"
	"offline-sns/internal/metrics"
	"offline-sns/internal/serverless"
)

const tracerName = "offline-sns/internal/sns"

var ErrHandlerPanic = errors.New("handler panicked")

// HandlerFactory builds the invocation context and the callable handler for a
// subscribed function.
type HandlerFactory interface {
	NewContext(fn serverless.Function) *lambda.Context
	CreateHandler(fn serverless.Function) (lambda.Handler, error)
}

// Dispatcher fans a notification out to the subscribers of its topic.
type Dispatcher struct {
	registry *Registry
	factory  HandlerFactory
	log      logging.Logger
	metrics  *metrics.Recorder
	tracer   trace.Tracer
}

func NewDispatcher(registry *Registry, factory HandlerFactory, logger logging.Logger, rec *metrics.Recorder) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		factory:  factory,
		log:      logging.OrNop(logger),
		metrics:  rec,
		tracer:   otel.Tracer(tracerName),
	}
}

// Dispatch invokes every subscriber of topicArn in registration order, each
// with its own copy of tmpl. Failures are logged per subscriber and never
// returned. It reports how many invocations were attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, topicArn string, tmpl Event) int {
	subs := d.registry.Subscriptions(topicArn)
	if len(subs) == 0 {
		return 0
	}
	ctx, span := d.tracer.Start(ctx, "sns.dispatch", trace.WithAttributes(
		attribute.String("sns.topic_arn", topicArn),
		attribute.String("sns.message_id", tmpl.MessageID()),
		attribute.Int("sns.subscriptions", len(subs)),
	))
	defer span.End()

	for _, sub := range subs {
		err := d.invoke(ctx, topicArn, sub, tmpl)
		d.metrics.Invoked(sub.FunctionName, err)
		if err != nil {
			d.log.Log(fmt.Sprintf("Uncaught error in your '%s' handler", sub.FunctionName), err)
		}
	}
	return len(subs)
}

func (d *Dispatcher) invoke(ctx context.Context, topicArn string, sub Subscription, tmpl Event) (err error) {
	ctx, span := d.tracer.Start(ctx, "sns.invoke", trace.WithAttributes(
		attribute.String("faas.name", sub.FunctionName),
		attribute.String("sns.subscription_id", sub.ID),
	))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	lc := d.factory.NewContext(sub.Function)
	event := tmpl.WithSubscription(Binding(topicArn, sub.ID))
	h, err := d.factory.CreateHandler(sub.Function)
	if err != nil {
		return err
	}
	return h.Invoke(ctx, event, lc)
}
