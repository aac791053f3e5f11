package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"offline-sns/internal/core/network"
	"offline-sns/internal/logging"
)

// PublishTopic is the bus topic dispatch jobs travel on.
const PublishTopic = "sns.publish"

type dispatchJob struct {
	TopicArn string            `json:"topic_arn"`
	Event    Event             `json:"event"`
	Text     []recordText      `json:"text,omitempty"`
	Trace    map[string]string `json:"trace,omitempty"`
}

// recordText keeps the publisher's subject and message bytes. JSON strings
// replace invalid UTF-8, []byte travels as base64.
type recordText struct {
	Subject []byte `json:"subject,omitempty"`
	Message []byte `json:"message,omitempty"`
}

func newDispatchJob(topicArn string, event Event, trace map[string]string) dispatchJob {
	text := make([]recordText, len(event.Records))
	for i, rec := range event.Records {
		text[i] = recordText{Subject: []byte(rec.Sns.Subject), Message: []byte(rec.Sns.Message)}
	}
	return dispatchJob{TopicArn: topicArn, Event: event, Text: text, Trace: trace}
}

// event restores the publisher's bytes onto the decoded records.
func (j dispatchJob) event() Event {
	if len(j.Text) != len(j.Event.Records) {
		return j.Event
	}
	for i, t := range j.Text {
		j.Event.Records[i].Sns.Subject = string(t.Subject)
		j.Event.Records[i].Sns.Message = string(t.Message)
	}
	return j.Event
}

// Relay decouples publishers from subscriber execution. Submit hands a job to
// the bus and returns; the consumer runs each job's dispatch pass on its own
// goroutine.
type Relay struct {
	bus        network.PubSub
	dispatcher *Dispatcher
	log        logging.Logger

	cancel    func()
	done      chan struct{}
	inflight  sync.WaitGroup
	closeOnce sync.Once
}

func NewRelay(bus network.PubSub, dispatcher *Dispatcher, logger logging.Logger) (*Relay, error) {
	ch, cancel, err := bus.Subscribe(PublishTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", PublishTopic, err)
	}
	r := &Relay{
		bus:        bus,
		dispatcher: dispatcher,
		log:        logging.OrNop(logger),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go r.consume(ch)
	return r, nil
}

// Submit queues one dispatch pass for event on topicArn. ctx only contributes
// its trace context; cancelling it does not affect the pass. An error means no
// pass will run for this event, e.g. network.ErrQueueFull under a burst.
func (r *Relay) Submit(ctx context.Context, topicArn string, event Event) error {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	b, err := json.Marshal(newDispatchJob(topicArn, event, carrier))
	if err != nil {
		return fmt.Errorf("encode dispatch job: %w", err)
	}
	if err := r.bus.Publish(PublishTopic, b); err != nil {
		return fmt.Errorf("publish dispatch job: %w", err)
	}
	return nil
}

func (r *Relay) consume(ch <-chan network.Message) {
	defer close(r.done)
	for msg := range ch {
		if msg.Remote {
			// Each node dispatches only what its own endpoint accepted.
			continue
		}
		var job dispatchJob
		if err := json.Unmarshal(msg.Payload, &job); err != nil {
			r.log.Log("drop malformed dispatch job", err)
			continue
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.MapCarrier(job.Trace))
		r.inflight.Add(1)
		go func() {
			defer r.inflight.Done()
			r.dispatcher.Dispatch(ctx, job.TopicArn, job.event())
		}()
	}
}

// Close stops consuming and waits for in-flight passes until ctx is done.
// Running handlers are never interrupted.
func (r *Relay) Close(ctx context.Context) error {
	r.closeOnce.Do(r.cancel)
	idle := make(chan struct{})
	go func() {
		<-r.done
		r.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
