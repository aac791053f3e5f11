package sns

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"offline-sns/internal/core/network"
	"offline-sns/internal/lambda"
)

func TestRelayDispatchesSubmittedEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	calls := &invocationLog{}
	d, _, _ := newTestDispatcher(t, map[string]lambda.HandlerFunc{
		"a": calls.handler("a", nil),
		"b": calls.handler("b", nil),
		"c": calls.handler("c", nil),
	})
	bus := network.NewMemoryPubSub(nil)
	defer bus.Close()
	relay, err := NewRelay(bus, d, nil)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	evt := NewEvent(PublishInput{TopicArn: "orders", Message: "hello"}, "m-1")
	if err := relay.Submit(context.Background(), "orders", evt); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(calls.snapshot()) == 3 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	got := calls.snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 invocations, got %d", len(got))
	}
	if got[0].event.MessageID() != "m-1" || got[0].event.Records[0].Sns.Message != "hello" {
		t.Fatalf("event did not survive the bus: %+v", got[0].event)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := relay.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRelaySubmitDoesNotWaitForHandlers(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	d, _, _ := newTestDispatcher(t, map[string]lambda.HandlerFunc{
		"a": func(context.Context, any, *lambda.Context) error {
			started <- struct{}{}
			<-release
			return nil
		},
	})
	bus := network.NewMemoryPubSub(nil)
	defer bus.Close()
	relay, err := NewRelay(bus, d, nil)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- relay.Submit(context.Background(), "orders", NewEvent(PublishInput{TopicArn: "orders"}, ""))
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submit blocked on a running handler")
	}

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := relay.Close(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected close to give up on the hung handler, got %v", err)
	}

	close(release)
	if err := relay.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestRelayDropsMalformedJobs(t *testing.T) {
	calls := &invocationLog{}
	d, _, _ := newTestDispatcher(t, map[string]lambda.HandlerFunc{"a": calls.handler("a", nil)})
	bus := network.NewMemoryPubSub(nil)
	defer bus.Close()
	logger := &captureLogger{}
	relay, err := NewRelay(bus, d, logger)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	if err := bus.Publish(PublishTopic, []byte("not json")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && len(logger.snapshot()) == 0 {
		time.Sleep(20 * time.Millisecond)
	}
	entries := logger.snapshot()
	if len(entries) != 1 || entries[0].msg != "drop malformed dispatch job" {
		t.Fatalf("expected malformed job log, got %+v", entries)
	}
	if err := relay.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(calls.snapshot()) != 0 {
		t.Fatal("malformed job must not dispatch")
	}
}

func TestRelayAccountsForEveryBurstSubmit(t *testing.T) {
	var invoked atomic.Int64
	count := func(context.Context, any, *lambda.Context) error {
		invoked.Add(1)
		return nil
	}
	d, _, _ := newTestDispatcher(t, map[string]lambda.HandlerFunc{"a": count, "b": count, "c": count})
	bus := network.NewMemoryPubSub(nil)
	defer bus.Close()
	relay, err := NewRelay(bus, d, nil)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	const total = 5000
	accepted := 0
	for i := 0; i < total; i++ {
		err := relay.Submit(context.Background(), "orders", NewEvent(PublishInput{TopicArn: "orders"}, ""))
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, network.ErrQueueFull):
		default:
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := relay.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if accepted == 0 {
		t.Fatal("expected at least one submit to be queued")
	}
	if got, want := invoked.Load(), int64(3*accepted); got != want {
		t.Fatalf("accepted %d of %d submits but ran %d invocations, want %d", accepted, total, got, want)
	}
}

func TestRelayKeepsMessageBytes(t *testing.T) {
	calls := &invocationLog{}
	d, _, _ := newTestDispatcher(t, map[string]lambda.HandlerFunc{"a": calls.handler("a", nil)})
	bus := network.NewMemoryPubSub(nil)
	defer bus.Close()
	relay, err := NewRelay(bus, d, nil)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	raw := "caf\xe9 \xff"
	if err := relay.Submit(context.Background(), "orders", NewEvent(PublishInput{TopicArn: "orders", Subject: "\xfe", Message: raw}, "")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := relay.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := calls.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected 1 invocation, got %d", len(got))
	}
	n := got[0].event.Records[0].Sns
	if n.Message != raw || n.Subject != "\xfe" {
		t.Fatalf("bytes changed on the bus: message=%q subject=%q", n.Message, n.Subject)
	}
}

// feedBus is a PubSub whose subscriber channel is fed by the test.
type feedBus struct {
	ch chan network.Message
}

func (b *feedBus) Publish(string, []byte) error { return nil }

func (b *feedBus) Subscribe(string) (<-chan network.Message, func(), error) {
	return b.ch, func() { close(b.ch) }, nil
}

func (b *feedBus) Close() error { return nil }

func TestRelayIgnoresJobsFromOtherNodes(t *testing.T) {
	calls := &invocationLog{}
	d, _, _ := newTestDispatcher(t, map[string]lambda.HandlerFunc{"a": calls.handler("a", nil)})
	bus := &feedBus{ch: make(chan network.Message, 2)}
	relay, err := NewRelay(bus, d, nil)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	payload, err := json.Marshal(newDispatchJob("orders", NewEvent(PublishInput{TopicArn: "orders", Message: "m"}, ""), nil))
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}
	bus.ch <- network.Message{Topic: PublishTopic, Payload: payload, Remote: true}
	bus.ch <- network.Message{Topic: PublishTopic, Payload: payload}

	if err := relay.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	got := calls.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected only the local job to dispatch, got %d invocations", len(got))
	}
}
