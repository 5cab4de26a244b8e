package animator

import "sync"

type handleState int

const (
	handleLive handleState = iota
	handleCompleted
	handleCancelled
)

// Handle refers to one scheduled animation. It holds only the scheduler key,
// never the animation itself. A nil *Handle is valid and inert.
type Handle struct {
	key  string
	name string
	a    *Animator

	mu        sync.Mutex
	state     handleState
	callbacks []func()
	done      chan struct{}
}

func newHandle(a *Animator, key, name string) *Handle {
	return &Handle{
		key:  key,
		name: name,
		a:    a,
		done: make(chan struct{}),
	}
}

// Key returns the scheduler key.
func (h *Handle) Key() string {
	if h == nil {
		return ""
	}
	return h.key
}

// Name returns the animation name.
func (h *Handle) Name() string {
	if h == nil {
		return ""
	}
	return h.name
}

// Cancel removes the animation from the scheduler. Completion callbacks do
// not run.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.a.remove(h.key)
}

// OnComplete registers fn to run after the animation finishes and its last
// frame was pushed to the device. Callbacks run in registration order on the
// goroutine calling Tick and may schedule new animations. Registering on an
// already completed handle queues fn for the next Tick, so fn never runs on
// the caller's goroutine; on a cancelled handle it is a no-op.
func (h *Handle) OnComplete(fn func()) *Handle {
	if h == nil {
		return nil
	}

	h.mu.Lock()
	switch h.state {
	case handleCompleted:
		h.mu.Unlock()
		h.a.later(fn)
		return h
	case handleCancelled:
		h.mu.Unlock()
		return h
	}
	h.callbacks = append(h.callbacks, fn)
	h.mu.Unlock()
	return h
}

// Done is closed when the animation leaves the scheduler for any reason.
func (h *Handle) Done() <-chan struct{} {
	if h == nil {
		return nil
	}
	return h.done
}

// Live reports whether the animation is still scheduled.
func (h *Handle) Live() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == handleLive
}

// Completed reports whether the animation ran to its end.
func (h *Handle) Completed() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == handleCompleted
}

// complete marks the handle finished and runs its callbacks.
func (h *Handle) complete() {
	h.mu.Lock()
	if h.state != handleLive {
		h.mu.Unlock()
		return
	}
	h.state = handleCompleted
	callbacks := h.callbacks
	h.callbacks = nil
	close(h.done)
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// drop marks the handle cancelled.
func (h *Handle) drop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != handleLive {
		return
	}
	h.state = handleCancelled
	h.callbacks = nil
	close(h.done)
}
