package sns

import (
	"fmt"
	"slices"

	"offline-sns/internal/logging"
	"offline-sns/internal/serverless"
)

// Subscription ties a function to a topic.
type Subscription struct {
	ID           string
	FunctionName string
	Function     serverless.Function
}

type Topic struct {
	Name          string
	Subscriptions []Subscription
}

// Registry maps topic names to their subscriptions. It is filled once by
// BuildRegistry and only read afterwards, so lookups need no locking.
type Registry struct {
	topics map[string]*Topic
	order  []string
}

// BuildRegistry scans the functions of svc in declaration order and registers
// one subscription per resolvable sns trigger. Unresolvable triggers are
// skipped.
func BuildRegistry(svc *serverless.Service, logger logging.Logger) *Registry {
	logger = logging.OrNop(logger)
	r := &Registry{topics: make(map[string]*Topic)}
	if svc == nil {
		return r
	}
	for _, fn := range svc.Functions {
		for _, ev := range fn.Events {
			name, ok := ev.SNS.Resolve()
			if !ok {
				continue
			}
			logger.Log(fmt.Sprintf("Found SNS listener for %s", name), nil)
			r.add(name, fn)
		}
	}
	return r
}

func (r *Registry) add(topicName string, fn serverless.Function) {
	t, ok := r.topics[topicName]
	if !ok {
		t = &Topic{Name: topicName}
		r.topics[topicName] = t
		r.order = append(r.order, topicName)
	}
	t.Subscriptions = append(t.Subscriptions, Subscription{
		ID:           newID(),
		FunctionName: fn.Name,
		Function:     fn,
	})
}

// Subscriptions returns the subscriptions of a topic in registration order.
// Unknown topics have none.
func (r *Registry) Subscriptions(topicName string) []Subscription {
	if r == nil {
		return nil
	}
	t, ok := r.topics[topicName]
	if !ok {
		return nil
	}
	return slices.Clone(t.Subscriptions)
}

// Topics returns the registered topic names in registration order.
func (r *Registry) Topics() []string {
	if r == nil {
		return nil
	}
	return slices.Clone(r.order)
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.topics)
}
