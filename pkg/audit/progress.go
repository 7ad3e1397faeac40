package audit

import "sync"

// Reporter delivers human-readable stage descriptions to an observer
// without ever blocking the workflow. Sends are fire-and-forget: when the
// observer falls behind, stages are dropped rather than applying
// backpressure.
type Reporter struct {
	mu     sync.Mutex
	ch     chan string
	closed bool
}

// NewReporter creates a Reporter with the given buffer size.
func NewReporter(buffer int) *Reporter {
	if buffer <= 0 {
		buffer = 64
	}
	return &Reporter{ch: make(chan string, buffer)}
}

// Report publishes a stage description. Safe to call on a nil Reporter.
func (r *Reporter) Report(stage string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- stage:
	default:
		// Observer is behind; drop rather than block the workflow.
	}
}

// C returns the channel stage descriptions arrive on.
func (r *Reporter) C() <-chan string {
	return r.ch
}

// Close ends the stream. Further Report calls are no-ops.
func (r *Reporter) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}
