// Package collection holds the in-memory state of one collection fetch
// session: items partitioned by universe, pagination counters, the
// auto-continue flag and the scroll policy that drives it. Every mutation
// goes through Store methods and emits typed events to subscribers.
package collection

import (
	"maps"
	"math"
	"slices"
	"sync"

	"github.com/Sternrassler/sensboxd/pkg/catalog"
	"github.com/Sternrassler/sensboxd/pkg/logging"
	"github.com/Sternrassler/sensboxd/pkg/universe"
	"github.com/rs/zerolog"
)

// Config holds store configuration.
type Config struct {
	// ScrollThreshold is the position below which a scroll counts as the
	// user moving back up. Positions are measured from the top of the list,
	// in rows for the terminal UI, so only scrolling back near the first
	// ScrollThreshold rows pauses a session. Browsing up a few screens in a
	// long list keeps auto-continue on.
	ScrollThreshold int

	// DefaultCategory is the active category after a reset.
	DefaultCategory int

	// AutoContinue is the auto-continue flag after a reset.
	AutoContinue bool
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		ScrollThreshold: 30,
		DefaultCategory: universe.Films,
		AutoContinue:    true,
	}
}

// Availability is one entry of the category list: the universe, its label
// and how many items were loaded for it.
type Availability struct {
	CategoryID int
	Label      string
	Count      int
}

// State is a point-in-time copy of the collection state.
type State struct {
	Username      string
	RequestOffset int
	PageNumber    int
	IsFetching    bool

	// ExpectedTotal is only meaningful when ExpectedTotalSet is true.
	ExpectedTotal    int
	ExpectedTotalSet bool

	ItemsByCategory  map[int][]catalog.Item
	TotalItemsLoaded int

	ActiveCategory      int
	AutoContinueEnabled bool
	UserScrolledUp      bool

	AvatarURL string
}

// Store is the single source of truth for a session. It is safe for
// concurrent use.
type Store struct {
	mu     sync.RWMutex
	config Config
	state  State
	bus    *bus
	logger zerolog.Logger
}

// New creates a store in its initial state.
func New(cfg Config) *Store {
	logger := logging.NewLogger("collection-store")
	s := &Store{
		config: cfg,
		bus:    newBus(logger),
		logger: logger,
	}
	s.state = s.initialState()
	return s
}

func (s *Store) initialState() State {
	return State{
		ItemsByCategory:     make(map[int][]catalog.Item),
		ActiveCategory:      s.config.DefaultCategory,
		AutoContinueEnabled: s.config.AutoContinue,
	}
}

// Subscribe registers h for kind (or AllEvents). Handlers of one kind run in
// registration order. The returned function unsubscribes and is safe to call
// more than once.
func (s *Store) Subscribe(kind EventKind, h Handler) (unsubscribe func()) {
	return s.bus.subscribe(kind, h)
}

// HoldEvents defers event delivery until release is called. Mutations made
// in between still apply immediately; their events queue in order. Callers
// holding their own lock around store mutations use it so handlers never run
// under that lock.
func (s *Store) HoldEvents() (release func()) {
	return s.bus.hold()
}

// commit releases the write lock taken by the caller and delivers events.
// Events are queued before unlocking so delivery follows mutation order.
func (s *Store) commit(events ...Event) {
	if len(events) > 0 {
		s.bus.enqueue(events...)
	}
	s.mu.Unlock()
	s.bus.drain()
}

// AddItems appends items to their category, then emits ItemsAdded followed by
// CategoriesChanged. Both are emitted even for an empty batch.
func (s *Store) AddItems(items []catalog.Item) {
	s.mu.Lock()
	for _, it := range items {
		s.state.ItemsByCategory[it.CategoryID] = append(s.state.ItemsByCategory[it.CategoryID], it)
	}
	s.state.TotalItemsLoaded += len(items)
	avail := s.availabilityLocked()

	s.logger.Debug().
		Int("added", len(items)).
		Int("total_loaded", s.state.TotalItemsLoaded).
		Int("categories", len(avail)).
		Msg("Items added")

	s.commit(
		ItemsAddedEvent{Items: slices.Clone(items)},
		CategoriesChangedEvent{Availability: avail},
	)
}

// SetActiveCategory changes the displayed category. Setting the current
// category again is a no-op.
func (s *Store) SetActiveCategory(id int) {
	s.mu.Lock()
	old := s.state.ActiveCategory
	if id == old {
		s.mu.Unlock()
		return
	}
	s.state.ActiveCategory = id
	s.commit(ActiveCategoryChangedEvent{New: id, Old: old})
}

// SetAutoContinue updates the auto-continue flag. Enabling it also clears the
// scrolled-up marker.
func (s *Store) SetAutoContinue(enabled bool) {
	s.mu.Lock()
	s.state.AutoContinueEnabled = enabled
	if enabled {
		s.state.UserScrolledUp = false
	}
	s.commit(AutoContinueChangedEvent{Enabled: enabled})
}

// RecordScrollPosition applies the scroll policy. Moving above the threshold
// while auto-continue is on disables it and marks the user as scrolled up.
// Moving back to or past the threshold only clears the marker; auto-continue
// stays off until SetAutoContinue(true).
func (s *Store) RecordScrollPosition(pos int) {
	s.mu.Lock()
	switch {
	case pos < s.config.ScrollThreshold && s.state.AutoContinueEnabled:
		s.state.AutoContinueEnabled = false
		s.state.UserScrolledUp = true
		s.logger.Debug().Int("position", pos).Msg("User scrolled up, auto-continue disabled")
		s.commit(AutoContinueChangedEvent{Enabled: false})
		return
	case pos >= s.config.ScrollThreshold && s.state.UserScrolledUp:
		s.state.UserScrolledUp = false
	}
	s.commit()
}

// Reset returns every field to its initial value and emits Reset.
func (s *Store) Reset() {
	s.mu.Lock()
	s.state = s.initialState()
	s.commit(ResetEvent{})
}

// BeginSession resets the store for username and marks it as fetching.
func (s *Store) BeginSession(username string) {
	s.mu.Lock()
	s.state = s.initialState()
	s.state.Username = username
	s.state.IsFetching = true
	s.commit(ResetEvent{}, LoadingChangedEvent{Fetching: true})
}

// SetFetching updates the loading flag, emitting LoadingChanged on change.
func (s *Store) SetFetching(fetching bool) {
	s.mu.Lock()
	if s.state.IsFetching == fetching {
		s.mu.Unlock()
		return
	}
	s.state.IsFetching = fetching
	s.commit(LoadingChangedEvent{Fetching: fetching})
}

// SetExpectedTotal records the collection size announced by the first page.
// It reports false, leaving the value untouched, once a total is set.
func (s *Store) SetExpectedTotal(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.ExpectedTotalSet {
		return false
	}
	s.state.ExpectedTotal = n
	s.state.ExpectedTotalSet = true
	return true
}

// AdvanceOffset moves the request offset forward by n. Non-positive values are ignored.
func (s *Store) AdvanceOffset(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.RequestOffset += n
}

// IncrementPage bumps the loaded page counter.
func (s *Store) IncrementPage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.PageNumber++
	return s.state.PageNumber
}

// SetAvatarURL records the viewer avatar, keeping the first non-empty value.
func (s *Store) SetAvatarURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.AvatarURL == "" {
		s.state.AvatarURL = url
	}
}

// Snapshot returns a copy of the state. Item slices are shared read-only views.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.ItemsByCategory = make(map[int][]catalog.Item, len(s.state.ItemsByCategory))
	for id, items := range s.state.ItemsByCategory {
		st.ItemsByCategory[id] = slices.Clip(items)
	}
	return st
}

// ItemsIn returns the items loaded for category, in arrival order.
func (s *Store) ItemsIn(category int) []catalog.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.ItemsByCategory[category])
}

// Availability returns the loaded categories ascending by id.
func (s *Store) Availability() []Availability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.availabilityLocked()
}

func (s *Store) availabilityLocked() []Availability {
	ids := slices.Sorted(maps.Keys(s.state.ItemsByCategory))
	out := make([]Availability, 0, len(ids))
	for _, id := range ids {
		out = append(out, Availability{
			CategoryID: id,
			Label:      universe.Lookup(id).Label,
			Count:      len(s.state.ItemsByCategory[id]),
		})
	}
	return out
}

// Username returns the session's username.
func (s *Store) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Username
}

// AutoContinue reports whether the fetch loop may request the next page.
func (s *Store) AutoContinue() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.AutoContinueEnabled
}

// ActiveCategory returns the displayed category.
func (s *Store) ActiveCategory() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ActiveCategory
}

// TotalLoaded returns the running item count.
func (s *Store) TotalLoaded() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.TotalItemsLoaded
}

// ExpectedTotal returns the announced collection size and whether it is set.
func (s *Store) ExpectedTotal() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ExpectedTotal, s.state.ExpectedTotalSet
}

// RequestOffset returns the offset of the next page request.
func (s *Store) RequestOffset() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.RequestOffset
}

// HasMore reports whether fewer items than announced were loaded.
func (s *Store) HasMore() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ExpectedTotalSet && s.state.TotalItemsLoaded < s.state.ExpectedTotal
}

// Progress returns the loaded share of the expected total, 0 to 100.
func (s *Store) Progress() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.ExpectedTotal <= 0 {
		return 0
	}
	p := int(math.Round(float64(s.state.TotalItemsLoaded) * 100 / float64(s.state.ExpectedTotal)))
	return min(p, 100)
}
