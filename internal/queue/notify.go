package queue

import (
	"log/slog"
	"sync"

	"alertdesk/internal/domain"
)

// Listener receives scheduler notifications. Either callback may be nil.
// Callbacks of one listener are invoked sequentially on its own goroutine.
type Listener struct {
	OnStarted   func(domain.TaskRequest)
	OnCompleted func(domain.TaskCompletion)
}

type notice struct {
	started   *domain.TaskRequest
	completed *domain.TaskCompletion
}

// mailbox is an unbounded FIFO feeding one listener.
type mailbox struct {
	listener Listener
	logger   *slog.Logger

	mu      sync.Mutex
	pending []notice
	closed  bool
	signal  chan struct{}
	done    chan struct{}
}

func newMailbox(listener Listener, logger *slog.Logger) *mailbox {
	box := &mailbox{
		listener: listener,
		logger:   logger,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go box.run()
	return box
}

// post appends without blocking the caller.
func (m *mailbox) post(n notice) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.pending = append(m.pending, n)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// close stops intake; queued notices are still delivered.
func (m *mailbox) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) run() {
	defer close(m.done)
	for range m.signal {
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		closed := m.closed
		m.mu.Unlock()

		for _, n := range batch {
			m.deliver(n)
		}
		if closed {
			m.mu.Lock()
			rest := m.pending
			m.pending = nil
			m.mu.Unlock()
			for _, n := range rest {
				m.deliver(n)
			}
			return
		}
	}
}

func (m *mailbox) deliver(n notice) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("task listener panic", "panic", r)
		}
	}()
	switch {
	case n.started != nil && m.listener.OnStarted != nil:
		m.listener.OnStarted(*n.started)
	case n.completed != nil && m.listener.OnCompleted != nil:
		m.listener.OnCompleted(*n.completed)
	}
}
