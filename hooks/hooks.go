package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/INLOpen/chunkbridge/core"
)

// EventType names a point in the conversion lifecycle.
type EventType string

const (
	// Run lifecycle. A failing PreRun listener aborts the run before the
	// source world is locked.
	EventPreRun  EventType = "PreRun"
	EventPostRun EventType = "PostRun"
	// OnStateChange fires on every orchestrator state transition.
	EventOnStateChange EventType = "OnStateChange"

	EventPostRegionConvert EventType = "PostRegionConvert"
	EventOnUnitSkipped     EventType = "OnUnitSkipped"

	EventPostSegmentCreate  EventType = "PostSegmentCreate"
	EventPreStagingCompact  EventType = "PreStagingCompact"
	EventPostStagingCompact EventType = "PostStagingCompact"
	EventPreStagingAbandon  EventType = "PreStagingAbandon"
)

// HookManager dispatches lifecycle events to registered listeners.
type HookManager interface {
	Register(eventType EventType, listener HookListener)
	Trigger(ctx context.Context, event HookEvent) error
	Stop()
}

type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// HookListener receives events. Pre-events are always delivered
// synchronously and an error cancels the operation; post-events may run
// asynchronously when IsAsync returns true.
type HookListener interface {
	OnEvent(ctx context.Context, event HookEvent) error
	// Priority orders listeners, lower first.
	Priority() int
	IsAsync() bool
}

type RunPayload struct {
	Input       string
	Output      string
	Concurrency int
}

func NewPreRunEvent(payload RunPayload) HookEvent {
	return &BaseEvent{eventType: EventPreRun, payload: payload}
}

type PostRunPayload struct {
	Input    string
	Output   string
	Duration time.Duration
	Skipped  int
	Error    error
}

func NewPostRunEvent(payload PostRunPayload) HookEvent {
	return &BaseEvent{eventType: EventPostRun, payload: payload}
}

type StateChangePayload struct {
	From string
	To   string
}

func NewStateChangeEvent(payload StateChangePayload) HookEvent {
	return &BaseEvent{eventType: EventOnStateChange, payload: payload}
}

type RegionPayload struct {
	Dimension core.Dimension
	Region    core.RegionPos
	Chunks    int
	Skipped   int
	Duration  time.Duration
	Error     error
}

func NewPostRegionConvertEvent(payload RegionPayload) HookEvent {
	return &BaseEvent{eventType: EventPostRegionConvert, payload: payload}
}

type UnitSkippedPayload struct {
	Unit core.SkippedUnit
}

func NewUnitSkippedEvent(payload UnitSkippedPayload) HookEvent {
	return &BaseEvent{eventType: EventOnUnitSkipped, payload: payload}
}

type SegmentPayload struct {
	ID      uint64
	Path    string
	Entries uint64
}

func NewPostSegmentCreateEvent(payload SegmentPayload) HookEvent {
	return &BaseEvent{eventType: EventPostSegmentCreate, payload: payload}
}

type CompactPayload struct {
	Writers  int
	Segments int
	Records  uint64
	Duration time.Duration
}

func NewPreStagingCompactEvent(payload CompactPayload) HookEvent {
	return &BaseEvent{eventType: EventPreStagingCompact, payload: payload}
}

func NewPostStagingCompactEvent(payload CompactPayload) HookEvent {
	return &BaseEvent{eventType: EventPostStagingCompact, payload: payload}
}

type AbandonPayload struct {
	Dir     string
	Writers int
}

func NewPreStagingAbandonEvent(payload AbandonPayload) HookEvent {
	return &BaseEvent{eventType: EventPreStagingAbandon, payload: payload}
}

type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is the HookManager used by the converter.
type DefaultHookManager struct {
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup
	logger    *slog.Logger
}

func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger,
	}
}

// Register adds a listener, keeping each event's slice sorted by priority.
// Listeners with equal priority run in registration order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{listener: listener, priority: listener.Priority()}
	l := m.listeners[eventType]
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority > item.priority
	})
	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item
	m.listeners[eventType] = l
}

func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners := m.listeners[event.Type()]
	m.mu.RUnlock()

	if len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")
	for _, item := range listeners {
		if isPreHook || !item.listener.IsAsync() {
			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
			continue
		}
		m.wg.Add(1)
		go func(cur *listenerWithPriority) {
			defer m.wg.Done()
			if err := cur.listener.OnEvent(ctx, event); err != nil {
				m.logger.Error("Error from asynchronous hook listener", "event", event.Type(), "priority", cur.priority, "error", err)
			}
		}(item)
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}

// Nop is a HookManager that drops every event.
var Nop HookManager = nopManager{}

type nopManager struct{}

func (nopManager) Register(EventType, HookListener)         {}
func (nopManager) Trigger(context.Context, HookEvent) error { return nil }
func (nopManager) Stop()                                    {}
