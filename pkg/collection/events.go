package collection

import (
	"fmt"
	"sync"

	"github.com/Sternrassler/sensboxd/pkg/catalog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// EventKind identifies a store notification.
type EventKind int

const (
	// AllEvents subscribes to every kind. Wildcard handlers run after the
	// handlers registered for the specific kind.
	AllEvents EventKind = iota
	ItemsAdded
	CategoriesChanged
	ActiveCategoryChanged
	AutoContinueChanged
	LoadingChanged
	Reset
)

func (k EventKind) String() string {
	switch k {
	case AllEvents:
		return "*"
	case ItemsAdded:
		return "itemsAdded"
	case CategoriesChanged:
		return "categoriesChanged"
	case ActiveCategoryChanged:
		return "activeCategoryChanged"
	case AutoContinueChanged:
		return "autoContinueChanged"
	case LoadingChanged:
		return "loadingChanged"
	case Reset:
		return "reset"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a store notification. The concrete type is fixed per kind.
type Event interface {
	Kind() EventKind
}

// ItemsAddedEvent carries the batch passed to AddItems.
type ItemsAddedEvent struct {
	Items []catalog.Item
}

// CategoriesChangedEvent carries the recomputed availability list.
type CategoriesChangedEvent struct {
	Availability []Availability
}

// ActiveCategoryChangedEvent is emitted when the displayed category changes.
type ActiveCategoryChangedEvent struct {
	New int
	Old int
}

// AutoContinueChangedEvent is emitted on every auto-continue update.
type AutoContinueChangedEvent struct {
	Enabled bool
}

// LoadingChangedEvent is emitted when the fetching flag flips.
type LoadingChangedEvent struct {
	Fetching bool
}

// ResetEvent is emitted after the state went back to its initial values.
type ResetEvent struct{}

func (ItemsAddedEvent) Kind() EventKind            { return ItemsAdded }
func (CategoriesChangedEvent) Kind() EventKind     { return CategoriesChanged }
func (ActiveCategoryChangedEvent) Kind() EventKind { return ActiveCategoryChanged }
func (AutoContinueChangedEvent) Kind() EventKind   { return AutoContinueChanged }
func (LoadingChangedEvent) Kind() EventKind        { return LoadingChanged }
func (ResetEvent) Kind() EventKind                 { return Reset }

// Handler receives store events. A returned error is logged and does not stop
// delivery to the remaining handlers.
type Handler func(Event) error

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensboxd_store_events_total",
		Help: "Store events delivered by kind",
	}, []string{"kind"})

	handlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensboxd_store_handler_failures_total",
		Help: "Store handlers that returned an error or panicked, by event kind",
	}, []string{"kind"})
)

type subscription struct {
	id      uint64
	handler Handler
}

// bus delivers events in FIFO order. Whichever goroutine enqueues while the
// bus is idle drains the queue; handlers run with no lock held, so they may
// read or mutate the store.
type bus struct {
	mu       sync.Mutex
	nextID   uint64
	subs     map[EventKind][]subscription
	queue    []Event
	draining bool
	held     int
	logger   zerolog.Logger
}

func newBus(logger zerolog.Logger) *bus {
	return &bus{
		subs:   make(map[EventKind][]subscription),
		logger: logger,
	}
}

func (b *bus) subscribe(kind EventKind, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[kind]
			for i, s := range subs {
				if s.id == id {
					b.subs[kind] = append(subs[:i:i], subs[i+1:]...)
					return
				}
			}
		})
	}
}

// enqueue appends events without delivering them.
func (b *bus) enqueue(events ...Event) {
	b.mu.Lock()
	b.queue = append(b.queue, events...)
	b.mu.Unlock()
}

// hold stops delivery until the returned release is called. Events queued
// meanwhile keep their order and are delivered by release.
func (b *bus) hold() func() {
	b.mu.Lock()
	b.held++
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.held--
			b.mu.Unlock()
			b.drain()
		})
	}
}

// drain delivers queued events unless another goroutine already is or
// delivery is held.
func (b *bus) drain() {
	b.mu.Lock()
	if b.draining || b.held > 0 {
		b.mu.Unlock()
		return
	}
	b.draining = true

	for len(b.queue) > 0 && b.held == 0 {
		ev := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]

		specific := b.subs[ev.Kind()]
		wildcard := b.subs[AllEvents]
		targets := make([]subscription, 0, len(specific)+len(wildcard))
		targets = append(targets, specific...)
		targets = append(targets, wildcard...)
		b.mu.Unlock()

		eventsPublished.WithLabelValues(ev.Kind().String()).Inc()
		for _, s := range targets {
			b.invoke(s.handler, ev)
		}

		b.mu.Lock()
	}

	b.draining = false
	b.mu.Unlock()
}

func (b *bus) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			handlerFailures.WithLabelValues(ev.Kind().String()).Inc()
			b.logger.Error().
				Str("event", ev.Kind().String()).
				Interface("panic", r).
				Msg("Store handler panicked")
		}
	}()

	if err := h(ev); err != nil {
		handlerFailures.WithLabelValues(ev.Kind().String()).Inc()
		b.logger.Warn().
			Err(err).
			Str("event", ev.Kind().String()).
			Msg("Store handler failed")
	}
}
