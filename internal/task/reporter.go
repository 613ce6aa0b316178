package task

import "sync"

// Reporter decouples a worker's progress emissions from registry
// writes. Updates are coalesced: when the worker emits faster than the
// drain goroutine writes, newer updates merge over older pending ones,
// so the registry always converges to the latest state without
// backpressure on the worker.
type Reporter struct {
	reg *Registry
	id  string

	mu      sync.Mutex
	pending *Update
	kick    chan struct{}
	done    chan struct{}
	closed  bool
}

// NewReporter starts the drain goroutine for one task.
func NewReporter(reg *Registry, id string) *Reporter {
	r := &Reporter{
		reg:  reg,
		id:   id,
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go r.drain()
	return r
}

// Send queues a progress update. Never blocks; if an update is already
// pending the two are merged with the newer values winning. The kick
// happens under the lock so a concurrent Close cannot close the channel
// between the closed check and the send.
func (r *Reporter) Send(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.pending == nil {
		r.pending = &u
	} else {
		merge(r.pending, u)
	}

	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// merge folds newer update u into pending in place. Scalar fields are
// overwritten; counter deltas accumulate.
func merge(pending *Update, u Update) {
	if u.Progress != nil {
		pending.Progress = u.Progress
	}
	if u.Total != nil {
		pending.Total = u.Total
	}
	if u.Message != nil {
		pending.Message = u.Message
	}
	if len(u.Counters) > 0 {
		if pending.Counters == nil {
			pending.Counters = make(map[string]int, len(u.Counters))
		}
		for k, v := range u.Counters {
			pending.Counters[k] += v
		}
	}
}

// Close stops accepting updates and blocks until any pending update has
// been written, so the final progress state is never lost.
func (r *Reporter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.kick)
	<-r.done
}

func (r *Reporter) drain() {
	defer close(r.done)
	for range r.kick {
		r.flush()
	}
	// Final flush after Close: take whatever arrived last.
	r.flush()
}

func (r *Reporter) flush() {
	r.mu.Lock()
	u := r.pending
	r.pending = nil
	r.mu.Unlock()
	if u != nil {
		r.reg.Update(r.id, *u)
	}
}
