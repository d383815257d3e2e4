package connection

import (
	"fmt"
	"log/slog"
	"sync"
)

// observerList holds callbacks in registration order.
type observerList[T any] struct {
	mu   sync.Mutex
	list []*observer[T]
}

type observer[T any] struct {
	fn func(T)
}

func (l *observerList[T]) add(fn func(T)) func() {
	o := &observer[T]{fn: fn}
	l.mu.Lock()
	l.list = append(l.list, o)
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			out := make([]*observer[T], 0, len(l.list))
			for _, x := range l.list {
				if x != o {
					out = append(out, x)
				}
			}
			l.list = out
		})
	}
}

func (l *observerList[T]) snapshot() []*observer[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list
}

// event is either a state change or an error.
type event struct {
	change *StateChange
	err    error
}

// notifier delivers events to observers on one goroutine, in the order they
// were queued.
type notifier struct {
	logger *slog.Logger

	states observerList[StateChange]
	errs   observerList[error]

	mu     sync.Mutex
	queue  []event
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newNotifier(logger *slog.Logger) *notifier {
	n := &notifier{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) push(ev event) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, ev)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) publishState(c StateChange) { n.push(event{change: &c}) }

func (n *notifier) publishError(err error) { n.push(event{err: err}) }

// close stops accepting events. Queued events are still delivered.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)

	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		closed := n.closed
		n.mu.Unlock()

		for _, ev := range batch {
			n.deliver(ev)
		}

		if len(batch) == 0 {
			if closed {
				return
			}
			<-n.wake
		}
	}
}

func (n *notifier) deliver(ev event) {
	if ev.change != nil {
		for _, o := range n.states.snapshot() {
			n.call(func() { o.fn(*ev.change) })
		}
		return
	}
	for _, o := range n.errs.snapshot() {
		n.call(func() { o.fn(ev.err) })
	}
}

func (n *notifier) call(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			n.logger.Error("observer panic", "error", fmt.Errorf("%v", p))
		}
	}()
	fn()
}
