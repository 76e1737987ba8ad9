package session

import (
	"sync"

	"askd/model"
)

// gatedSink wraps a stream's sink so the manager can seal the stream on a
// forced stop. Seal and publish share one mutex: a driver that already
// pulled a chunk from its stream buffer before the cancellation cannot slip
// a token out after the terminal event.
type gatedSink struct {
	mu     sync.Mutex
	inner  model.Sink
	sealed bool
}

func newGatedSink(inner model.Sink) *gatedSink {
	return &gatedSink{inner: inner}
}

// Publish forwards an event unless the stream is sealed.
func (g *gatedSink) Publish(ev model.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sealed || g.inner == nil {
		return
	}
	g.inner.Publish(ev)
}

// seal emits the terminal event and closes the gate in one critical
// section, making it the last event observed on this stream.
func (g *gatedSink) seal(ev model.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sealed {
		return
	}
	g.sealed = true
	if g.inner != nil {
		g.inner.Publish(ev)
	}
}
