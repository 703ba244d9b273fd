// ABOUTME: Session registry owning every live SSE output channel
// ABOUTME: Provides register, broadcast, targeted send and order-preserving prune

package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultBufferSize bounds the pending events per session. A stalled
	// consumer holds at most this many events before the reaper evicts it.
	DefaultBufferSize = 10

	// DefaultCloseTimeout bounds how long a Writer waits to enqueue Done.
	DefaultCloseTimeout = time.Second
)

// slot is one registered output channel. done is closed exactly once, either
// when the consumer disconnects or when the registry drops the slot.
type slot struct {
	id     string
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func newSlot(bufferSize int) *slot {
	return &slot{
		id:     uuid.New().String(),
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
}

func (s *slot) markDone() {
	s.once.Do(func() { close(s.done) })
}

func (s *slot) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// trySend enqueues ev without blocking. It fails when the slot is done or the
// buffer is full.
func (s *slot) trySend(ev Event) bool {
	if s.isDone() {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Subscriber is the consumer side of a registered slot, held by the HTTP
// handler that drains it.
type Subscriber struct {
	slot *slot
}

// ID returns the slot's permanent identifier.
func (s *Subscriber) ID() string { return s.slot.id }

// Events returns the receive end of the slot's channel. The channel is never
// closed; watch Done to learn that no further events will be produced.
func (s *Subscriber) Events() <-chan Event { return s.slot.events }

// Done is closed when the slot has been removed from the registry or the
// consumer disconnected. Buffered events may still be pending in Events.
func (s *Subscriber) Done() <-chan struct{} { return s.slot.done }

// Disconnect marks the consumer as gone. Subsequent sends to the slot fail
// and the reaper removes it on its next sweep. Safe to call more than once.
func (s *Subscriber) Disconnect() { s.slot.markDone() }

// Options configures a Registry.
type Options struct {
	BufferSize   int
	CloseTimeout time.Duration
	Metrics      *Metrics
	Logger       *slog.Logger
}

// Registry is the directory of live session slots. The slot list keeps
// registration order; the map resolves ids without depending on position.
type Registry struct {
	mu     sync.Mutex
	slots  []*slot
	byID   map[string]*slot
	closed bool

	bufferSize   int
	closeTimeout time.Duration
	metrics      *Metrics
	logger       *slog.Logger
}

// NewRegistry creates an empty registry. Zero options fall back to defaults;
// pass nil Logger for slog.Default and nil Metrics to disable metrics.
func NewRegistry(opts Options) *Registry {
	if opts.BufferSize < 1 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byID:         make(map[string]*slot),
		bufferSize:   opts.BufferSize,
		closeTimeout: opts.CloseTimeout,
		metrics:      opts.Metrics,
		logger:       logger.With("component", "session-registry"),
	}
}

// Register allocates a new slot, enqueues the Connected event and appends the
// slot to the directory.
func (r *Registry) Register() *Subscriber {
	s := newSlot(r.bufferSize)
	if !s.trySend(Connected(s.id)) {
		panic("stream: fresh session channel rejected the connected event")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		s.trySend(Done())
		s.markDone()
		return &Subscriber{slot: s}
	}
	r.slots = append(r.slots, s)
	r.byID[s.id] = s
	active := len(r.slots)
	r.mu.Unlock()

	r.metrics.setActive(active)
	r.logger.Debug("session registered", "session_id", s.id, "active", active)
	return &Subscriber{slot: s}
}

// NewWriter returns a Writer bound to the slot with the given id. The writer
// resolves the slot on every call, so binding to an unknown id is allowed and
// simply makes every Write fail.
func (r *Registry) NewWriter(ctx context.Context, id string) *Writer {
	return &Writer{
		ctx:      ctx,
		registry: r,
		id:       id,
		logger:   r.logger.With("session_id", id),
	}
}

// Broadcast offers payload to every slot registered when the call begins.
// Full or disconnected slots are skipped; removing them is the reaper's job.
// Returns the number of slots that accepted the event.
func (r *Registry) Broadcast(payload string) int {
	targets := r.snapshot()

	delivered := 0
	for _, s := range targets {
		if s.trySend(Data(payload)) {
			delivered++
			continue
		}
		r.metrics.dropped(EventData)
	}

	r.logger.Debug("broadcast", "targets", len(targets), "delivered", delivered)
	return delivered
}

// SendTo offers payload to a single slot. An unknown, full or disconnected
// slot is a no-op; the return value reports whether the event was accepted.
func (r *Registry) SendTo(id, payload string) bool {
	s, ok := r.lookup(id)
	if !ok {
		return false
	}
	if !s.trySend(Data(payload)) {
		r.metrics.dropped(EventData)
		return false
	}
	return true
}

// Prune removes the slots whose ids are listed, keeping the relative order
// of the survivors, and returns how many were removed.
func (r *Registry) Prune(ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	dead := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		dead[id] = struct{}{}
	}

	var removed []*slot
	r.mu.Lock()
	live := make([]*slot, 0, len(r.slots))
	for _, s := range r.slots {
		if _, ok := dead[s.id]; ok {
			removed = append(removed, s)
			delete(r.byID, s.id)
			continue
		}
		live = append(live, s)
	}
	r.slots = live
	active := len(live)
	r.mu.Unlock()

	for _, s := range removed {
		s.markDone()
	}
	if len(removed) > 0 {
		r.metrics.setActive(active)
	}
	return len(removed)
}

// Len returns the number of registered slots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// IDs returns the registered slot ids in registration order.
func (r *Registry) IDs() []string {
	slots := r.snapshot()
	ids := make([]string, len(slots))
	for i, s := range slots {
		ids[i] = s.id
	}
	return ids
}

// Close offers Done to every slot and empties the registry. Later Register
// calls return a subscriber that is already finished.
func (r *Registry) Close() {
	r.mu.Lock()
	slots := r.slots
	r.slots = nil
	r.byID = make(map[string]*slot)
	r.closed = true
	r.mu.Unlock()

	for _, s := range slots {
		s.trySend(Done())
		s.markDone()
	}
	r.metrics.setActive(0)
	r.logger.Debug("session registry closed", "sessions", len(slots))
}

// snapshot copies the slot list under the lock.
func (r *Registry) snapshot() []*slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*slot, len(r.slots))
	copy(out, r.slots)
	return out
}

func (r *Registry) lookup(id string) (*slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}
