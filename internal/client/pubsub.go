package client

import "sync"

// PubSub is the small topic broker shared by same-process and cross-process
// cache listeners. Delivery is synchronous so a local write is observed
// immediately by everything in this runtime.
type PubSub struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]func(topic string)
}

func NewPubSub() *PubSub {
	return &PubSub{subs: make(map[string]map[int]func(topic string))}
}

// Subscribe registers fn for a topic and returns an unsubscribe func.
func (p *PubSub) Subscribe(topic string, fn func(topic string)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.next
	p.next++
	if p.subs[topic] == nil {
		p.subs[topic] = make(map[int]func(topic string))
	}
	p.subs[topic][id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs[topic], id)
	}
}

func (p *PubSub) Publish(topic string) {
	p.mu.Lock()
	fns := make([]func(string), 0, len(p.subs[topic]))
	for _, fn := range p.subs[topic] {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(topic)
	}
}
