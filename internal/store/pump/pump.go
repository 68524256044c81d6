// Package pump provides ordered asynchronous delivery to one subscriber.
// Each subscriber gets a dedicated goroutine and an unbounded queue, so a
// callback may call back into the store that notified it without
// deadlocking, and a slow subscriber never blocks a notifier.
package pump

import "sync"

// Pump delivers pushed values to fn in push order.
type Pump[T any] struct {
	fn   func(T)
	wake chan struct{}

	mu     sync.Mutex
	buf    []T
	closed bool
}

func New[T any](fn func(T)) *Pump[T] {
	p := &Pump[T]{fn: fn, wake: make(chan struct{}, 1)}
	go p.run()
	return p
}

// Push enqueues v. It never blocks; the queue grows as needed.
func (p *Pump[T]) Push(v T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.buf = append(p.buf, v)
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Close stops delivery once the queue drains. Idempotent.
func (p *Pump[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.wake)
}

func (p *Pump[T]) run() {
	for range p.wake {
		for {
			p.mu.Lock()
			batch := p.buf
			p.buf = nil
			p.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, v := range batch {
				p.fn(v)
			}
		}
	}
}
