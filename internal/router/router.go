// Package router linearizes request processing per conversation channel.
//
// Each channel carries a serialization token: at most one request is active
// at any moment. Direct messages, mentions, and explicit addresses queue
// with priority; other group/server traffic is held in a per-channel
// debounce buffer and coalesced into a single consolidated request before
// it competes for the token. When the active request terminates the router
// promotes the next waiter, priority first, then FIFO.
package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clarahq/clara/pkg/models"
)

// Outcome is the admission decision for a submitted request.
type Outcome string

const (
	// Acquired means the request took the channel token and is active.
	Acquired Outcome = "acquired"

	// Queued means the request is waiting, either in the queue or in the
	// debounce buffer.
	Queued Outcome = "queued"

	// Rejected means the channel queue is full.
	Rejected Outcome = "rejected"
)

// CancelOutcome reports what Cancel found.
type CancelOutcome string

const (
	// CancelledActive means the in-flight task was cancelled; the caller
	// owns emitting the terminal event and releasing the channel.
	CancelledActive CancelOutcome = "active"

	// CancelledQueued means the request was removed before it ran.
	CancelledQueued CancelOutcome = "queued"

	// CancelNotFound means no live request has that id.
	CancelNotFound CancelOutcome = "not_found"
)

// PromoteFunc is invoked, on its own goroutine, each time a request
// becomes active. The callee processes the request and must call Release
// when it reaches a terminal state.
type PromoteFunc func(req *models.Request)

// Config tunes the router.
type Config struct {
	// Debounce is how long batchable messages are held for coalescing.
	Debounce time.Duration

	// QueueCap is the maximum waiting requests per channel, debounce
	// buffer included.
	QueueCap int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Debounce: 2 * time.Second,
		QueueCap: 10,
	}
}

type activeEntry struct {
	req    *models.Request
	cancel context.CancelFunc
}

type channelState struct {
	active   *activeEntry
	priority []*models.Request
	fifo     []*models.Request

	// pending is the consolidated request being debounced, if any.
	pending *models.Request
	timer   *time.Timer
}

func (c *channelState) queueLen() int {
	n := len(c.priority) + len(c.fifo)
	if c.pending != nil {
		n++
	}
	return n
}

func (c *channelState) idle() bool {
	return c.active == nil && c.queueLen() == 0
}

// Router owns the per-channel tokens, queues, and debounce timers.
type Router struct {
	mu       sync.Mutex
	config   Config
	logger   *slog.Logger
	promote  PromoteFunc
	channels map[string]*channelState

	// byID maps live request ids to their channel key for Cancel and
	// Release lookups.
	byID map[string]string

	// onDiscard, if set, is told about request ids the router will never
	// promote or release on its own.
	onDiscard func(requestID string)

	stopped bool
}

// New creates a router. promote is required.
func New(config Config, promote PromoteFunc, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if config.QueueCap <= 0 {
		config.QueueCap = DefaultConfig().QueueCap
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}
	return &Router{
		config:   config,
		logger:   logger.With("component", "router"),
		promote:  promote,
		channels: make(map[string]*channelState),
		byID:     make(map[string]string),
	}
}

// Submit admits a request to its channel. Priority traffic takes a free
// token immediately; batchable traffic always passes through the debounce
// buffer first, even on an idle channel, so rapid bursts coalesce before
// competing for the token.
func (r *Router) Submit(req *models.Request) Outcome {
	key := req.ChannelKey()

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return Rejected
	}

	ch := r.channels[key]
	if ch == nil {
		ch = &channelState{}
		r.channels[key] = ch
	}

	if r.batchable(req) {
		if ch.pending == nil && ch.queueLen() >= r.config.QueueCap {
			r.mu.Unlock()
			r.logger.Warn("channel queue full", "channel", key, "request_id", req.ID)
			return Rejected
		}
		absorbed := r.coalesceLocked(key, ch, req)
		onDiscard := r.onDiscard
		r.mu.Unlock()
		if absorbed && onDiscard != nil {
			onDiscard(req.ID)
		}
		return Queued
	}

	if ch.active == nil && ch.queueLen() == 0 {
		r.activateLocked(key, ch, req)
		r.mu.Unlock()
		return Acquired
	}

	if ch.queueLen() >= r.config.QueueCap {
		r.mu.Unlock()
		r.logger.Warn("channel queue full", "channel", key, "request_id", req.ID)
		return Rejected
	}

	ch.priority = append(ch.priority, req)
	r.byID[req.ID] = key
	r.mu.Unlock()
	return Queued
}

// batchable reports whether a request may be debounce-coalesced rather
// than queued with priority.
func (r *Router) batchable(req *models.Request) bool {
	if req.Channel.Type == models.ChannelDM {
		return false
	}
	return !req.IsMention()
}

// coalesceLocked merges the request into the channel's pending batch,
// starting or extending the debounce timer. Reports whether the request
// was absorbed into an existing batch: absorbed ids lose their identity
// and the router never promotes or releases them.
func (r *Router) coalesceLocked(key string, ch *channelState, req *models.Request) bool {
	absorbed := false
	if ch.pending == nil {
		clone := *req
		ch.pending = &clone
		r.byID[req.ID] = key
	} else {
		merged := ch.pending
		segment := req.Content
		if req.User.ID != merged.User.ID {
			segment = "[" + req.User.Label() + "]: " + segment
		}
		merged.Content = merged.Content + "\n" + segment
		merged.Attachments = append(merged.Attachments, req.Attachments...)
		absorbed = true
	}

	if ch.timer != nil {
		ch.timer.Stop()
	}
	ch.timer = time.AfterFunc(r.config.Debounce, func() {
		r.flushBatch(key)
	})
	return absorbed
}

// flushBatch promotes the consolidated request when its timer fires. If
// the channel is busy the batch joins the FIFO queue instead.
func (r *Router) flushBatch(key string) {
	r.mu.Lock()
	ch := r.channels[key]
	if ch == nil || ch.pending == nil || r.stopped {
		r.mu.Unlock()
		return
	}
	req := ch.pending
	ch.pending = nil
	ch.timer = nil

	if ch.active == nil {
		r.activateLocked(key, ch, req)
		r.mu.Unlock()
		return
	}
	ch.fifo = append(ch.fifo, req)
	r.mu.Unlock()
}

// activateLocked marks the request active and schedules the promote
// callback. Must be called with r.mu held.
func (r *Router) activateLocked(key string, ch *channelState, req *models.Request) {
	ch.active = &activeEntry{req: req}
	r.byID[req.ID] = key
	go r.promote(req)
}

// OnDiscard registers a callback for request ids the router drops without
// ever promoting them: messages absorbed into an existing debounce batch,
// and queued work cleared by Stop. Callers use it to release per-request
// state bound at submit time. The callback runs outside the router lock.
func (r *Router) OnDiscard(fn func(requestID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDiscard = fn
}

// BindCancel attaches the processing task's cancel function to an active
// request so Cancel can abort it cooperatively.
func (r *Router) BindCancel(requestID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.byID[requestID]
	if !ok {
		return
	}
	if ch := r.channels[key]; ch != nil && ch.active != nil && ch.active.req.ID == requestID {
		ch.active.cancel = cancel
	}
}

// Release ends the active request on its channel and promotes the next
// waiter, priority first, then FIFO. Safe to call for ids the router no
// longer tracks.
func (r *Router) Release(requestID string) {
	r.mu.Lock()
	key, ok := r.byID[requestID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byID, requestID)

	ch := r.channels[key]
	if ch == nil || ch.active == nil || ch.active.req.ID != requestID {
		r.mu.Unlock()
		return
	}
	ch.active = nil

	var next *models.Request
	if len(ch.priority) > 0 {
		next = ch.priority[0]
		ch.priority = ch.priority[1:]
	} else if len(ch.fifo) > 0 {
		next = ch.fifo[0]
		ch.fifo = ch.fifo[1:]
	}

	if next != nil {
		r.activateLocked(key, ch, next)
	} else if ch.idle() {
		delete(r.channels, key)
	}
	r.mu.Unlock()
}

// Cancel aborts a request wherever it is. Active requests have their task
// context cancelled; queued or debouncing requests are removed outright.
func (r *Router) Cancel(requestID string) CancelOutcome {
	r.mu.Lock()

	key, ok := r.byID[requestID]
	if !ok {
		r.mu.Unlock()
		return CancelNotFound
	}
	ch := r.channels[key]
	if ch == nil {
		delete(r.byID, requestID)
		r.mu.Unlock()
		return CancelNotFound
	}

	if ch.active != nil && ch.active.req.ID == requestID {
		cancel := ch.active.cancel
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return CancelledActive
	}

	if ch.pending != nil && ch.pending.ID == requestID {
		ch.pending = nil
		if ch.timer != nil {
			ch.timer.Stop()
			ch.timer = nil
		}
		delete(r.byID, requestID)
		r.mu.Unlock()
		return CancelledQueued
	}

	for i, q := range ch.priority {
		if q.ID == requestID {
			ch.priority = append(ch.priority[:i], ch.priority[i+1:]...)
			delete(r.byID, requestID)
			r.mu.Unlock()
			return CancelledQueued
		}
	}
	for i, q := range ch.fifo {
		if q.ID == requestID {
			ch.fifo = append(ch.fifo[:i], ch.fifo[i+1:]...)
			delete(r.byID, requestID)
			r.mu.Unlock()
			return CancelledQueued
		}
	}

	delete(r.byID, requestID)
	r.mu.Unlock()
	return CancelNotFound
}

// ActiveCount returns the number of channels with an active request.
func (r *Router) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, ch := range r.channels {
		if ch.active != nil {
			n++
		}
	}
	return n
}

// QueueLength returns the total waiting requests across all channels.
func (r *Router) QueueLength() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, ch := range r.channels {
		n += ch.queueLen()
	}
	return n
}

// Stop cancels all pending timers, discards queued work, and refuses
// further submissions. Discarded ids are reported through OnDiscard.
// Active requests are left for the processor's shutdown path to cancel.
func (r *Router) Stop() {
	r.mu.Lock()
	r.stopped = true
	var discarded []string
	for _, ch := range r.channels {
		if ch.timer != nil {
			ch.timer.Stop()
			ch.timer = nil
		}
		if ch.pending != nil {
			discarded = append(discarded, ch.pending.ID)
			delete(r.byID, ch.pending.ID)
			ch.pending = nil
		}
		for _, q := range ch.priority {
			discarded = append(discarded, q.ID)
			delete(r.byID, q.ID)
		}
		ch.priority = nil
		for _, q := range ch.fifo {
			discarded = append(discarded, q.ID)
			delete(r.byID, q.ID)
		}
		ch.fifo = nil
	}
	onDiscard := r.onDiscard
	r.mu.Unlock()

	if onDiscard != nil {
		for _, id := range discarded {
			onDiscard(id)
		}
	}
}
