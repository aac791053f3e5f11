package network

import (
	"errors"
	"fmt"
	"sync"

	"offline-sns/internal/logging"
)

const memoryQueueSize = 256

var (
	ErrBusClosed = errors.New("bus closed")
	ErrQueueFull = errors.New("subscriber queue full")
)

// MemoryPubSub is a process-local transport and the simulator's default bus.
type MemoryPubSub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan Message
	closed bool
	log    logging.Logger
}

func NewMemoryPubSub(logger logging.Logger) *MemoryPubSub {
	return &MemoryPubSub{
		subs: make(map[string]map[int]chan Message),
		log:  logging.OrNop(logger),
	}
}

// Publish never blocks. Subscribers with a full queue miss the message and
// Publish reports ErrQueueFull.
func (m *MemoryPubSub) Publish(topic string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrBusClosed
	}
	dropped := 0
	for _, ch := range m.subs[topic] {
		msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		m.log.Log("bus queue full, dropped message on "+topic, nil)
		return fmt.Errorf("%w: %d subscriber(s) on %s", ErrQueueFull, dropped, topic)
	}
	return nil
}

func (m *MemoryPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrBusClosed
	}
	if _, ok := m.subs[topic]; !ok {
		m.subs[topic] = make(map[int]chan Message)
	}
	id := m.nextID
	m.nextID++
	ch := make(chan Message, memoryQueueSize)
	m.subs[topic][id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if subsByTopic, ok := m.subs[topic]; ok {
			if sub, exists := subsByTopic[id]; exists {
				delete(subsByTopic, id)
				close(sub)
			}
			if len(subsByTopic) == 0 {
				delete(m.subs, topic)
			}
		}
	}
	return ch, cancel, nil
}

// Close closes every subscriber channel.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for topic, subsByTopic := range m.subs {
		for _, ch := range subsByTopic {
			close(ch)
		}
		delete(m.subs, topic)
	}
	return nil
}
