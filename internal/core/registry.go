package core

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by AwaitTag when its deadline elapses before a
// matching frame is dispatched.
var ErrTimeout = errors.New("core: await timed out")

// ErrCancelled is returned to any pending awaiter drained when the
// Registry is closed.
var ErrCancelled = errors.New("core: await cancelled")

// HandlerFunc is a persistent structural handler invoked every time a
// dispatched frame matches its registered HandlerPath.
type HandlerFunc func(payload *BinaryNode)

// HandlerPath is a structural key into a decoded [name, attrs, children]
// triple: the function name, an optional attribute key/value pair, and
// an optional expected first-grandchild tag.
type HandlerPath struct {
	Function string
	AttrKey  string
	AttrVal  string
	ChildTag string
}

type pendingAwait struct {
	ch chan awaitResult
}

type awaitResult struct {
	payload interface{}
	err     error
}

type handlerEntry struct {
	path HandlerPath
	fn   HandlerFunc
}

// Registry matches outgoing message tags and expected notification
// shapes to awaiters, and invokes persistent handlers keyed by
// structural path. A single Registry is scoped to one Connection
// Supervisor instance — never shared process-wide.
type Registry struct {
	mu       sync.Mutex
	awaiters map[string]*pendingAwait
	handlers []handlerEntry // registration order, for tie-breaking
	unhandled func(tag string, payload interface{})
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		awaiters: make(map[string]*pendingAwait),
	}
}

// SetUnhandledSink sets the fallback invoked when neither an exact tag
// match nor a structural handler claims a dispatched frame.
func (r *Registry) SetUnhandledSink(fn func(tag string, payload interface{})) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unhandled = fn
}

// AwaitTag registers a one-shot continuation for tag and blocks until
// it is delivered, ctx is cancelled, or timeout elapses. A zero
// timeout waits indefinitely. The entry is removed on first delivery
// or timeout, so a second dispatch of the same tag always falls
// through to structural matching.
func (r *Registry) AwaitTag(ctx context.Context, tag string, timeout time.Duration) (interface{}, error) {
	pending := &pendingAwait{ch: make(chan awaitResult, 1)}

	r.mu.Lock()
	r.awaiters[tag] = pending
	r.mu.Unlock()

	remove := func() {
		r.mu.Lock()
		if r.awaiters[tag] == pending {
			delete(r.awaiters, tag)
		}
		r.mu.Unlock()
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-pending.ch:
		return res.payload, res.err
	case <-timeoutCh:
		remove()
		return nil, ErrTimeout
	case <-ctx.Done():
		remove()
		return nil, ErrCancelled
	}
}

// RegisterHandler installs a persistent structural handler. Handlers
// for the same path are invoked in registration order.
func (r *Registry) RegisterHandler(path HandlerPath, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handlerEntry{path: path, fn: fn})
}

// DeregisterHandler removes every handler registered under path.
func (r *Registry) DeregisterHandler(path HandlerPath) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.handlers[:0:0]
	for _, h := range r.handlers {
		if h.path != path {
			kept = append(kept, h)
		}
	}
	r.handlers = kept
}

// Dispatch resolves a decoded frame against the registry: exact tag
// matches are delivered first and at most once; otherwise structural
// handlers matching payload's [name, attrs, children] shape are
// invoked in registration order; otherwise the frame falls through to
// the unhandled sink.
func (r *Registry) Dispatch(tag string, payload interface{}) {
	r.mu.Lock()
	pending, hasAwaiter := r.awaiters[tag]
	if hasAwaiter {
		delete(r.awaiters, tag)
	}
	r.mu.Unlock()

	if hasAwaiter {
		pending.ch <- awaitResult{payload: payload}
		return
	}

	node, ok := payload.(*BinaryNode)
	if ok && r.dispatchStructural(node) {
		return
	}

	r.mu.Lock()
	sink := r.unhandled
	r.mu.Unlock()
	if sink != nil {
		sink(tag, payload)
	}
}

// dispatchStructural matches node against registered handlers keyed by
// function:<name>, then attribute, then child tag, per the resolution
// algorithm below. Returns true if at least one handler matched.
func (r *Registry) dispatchStructural(node *BinaryNode) bool {
	if node == nil {
		return false
	}

	r.mu.Lock()
	candidates := make([]handlerEntry, 0, 4)
	for _, h := range r.handlers {
		if h.path.Function == node.Tag {
			candidates = append(candidates, h)
		}
	}
	r.mu.Unlock()

	if len(candidates) == 0 {
		return false
	}

	matched := selectHandlers(candidates, node)
	for _, h := range matched {
		h.fn(node)
	}
	return len(matched) > 0
}

// selectHandlers implements the attr-key -> attr(no value) -> empty-key
// fallback, then child-tag -> empty-child fallback, iterating
// attribute keys in the payload's original order (node.AttrKeys).
func selectHandlers(candidates []handlerEntry, node *BinaryNode) []handlerEntry {
	// Pass 1: attribute key with a matching value.
	for _, key := range node.AttrKeys {
		val := node.Attrs[key]
		if m := filterByAttr(candidates, key, val, true); len(m) > 0 {
			return filterByChild(m, node)
		}
	}
	// Pass 2: attribute key present, value-agnostic handlers.
	for _, key := range node.AttrKeys {
		if m := filterByAttr(candidates, key, "", false); len(m) > 0 {
			return filterByChild(m, node)
		}
	}
	// Pass 3: handlers registered with no attribute key at all.
	if m := filterByAttr(candidates, "", "", false); len(m) > 0 {
		return filterByChild(m, node)
	}
	return nil
}

func filterByAttr(candidates []handlerEntry, key, val string, matchVal bool) []handlerEntry {
	var out []handlerEntry
	for _, h := range candidates {
		if matchVal {
			if h.path.AttrKey == key && h.path.AttrVal == val {
				out = append(out, h)
			}
		} else {
			if h.path.AttrKey == key && h.path.AttrVal == "" {
				out = append(out, h)
			}
		}
	}
	return out
}

func filterByChild(candidates []handlerEntry, node *BinaryNode) []handlerEntry {
	childTag := node.FirstChildTag()

	var exact []handlerEntry
	for _, h := range candidates {
		if h.path.ChildTag == childTag {
			exact = append(exact, h)
		}
	}
	if len(exact) > 0 {
		return exact
	}

	var fallback []handlerEntry
	for _, h := range candidates {
		if h.path.ChildTag == "" {
			fallback = append(fallback, h)
		}
	}
	return fallback
}

// Close drains every pending awaiter with ErrCancelled. Use this for a
// caller-initiated shutdown; for an unexpected transport drop use
// CloseWithErr so awaiters see the actual cause instead of a blanket
// cancellation.
func (r *Registry) Close() {
	r.CloseWithErr(ErrCancelled)
}

// CloseWithErr drains every pending awaiter with err.
func (r *Registry) CloseWithErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for tag, pending := range r.awaiters {
		pending.ch <- awaitResult{err: err}
		delete(r.awaiters, tag)
	}
}
