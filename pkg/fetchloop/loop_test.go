package fetchloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/sensboxd/internal/testutil"
	"github.com/Sternrassler/sensboxd/pkg/catalog"
	"github.com/Sternrassler/sensboxd/pkg/collection"
	"github.com/Sternrassler/sensboxd/pkg/universe"
	"github.com/google/go-cmp/cmp"
)

// fakeCatalog serves pages from an in-memory item list.
type fakeCatalog struct {
	mu      sync.Mutex
	items   []catalog.Item
	total   int
	offsets []int

	// hook may replace the page for an offset.
	hook func(ctx context.Context, username string, offset int) (*catalog.PageResult, error)
}

func (f *fakeCatalog) FetchPage(ctx context.Context, username string, offset, limit int) (*catalog.PageResult, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		if page, err := hook(ctx, username, offset); page != nil || err != nil {
			return page, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	start := min(offset, len(f.items))
	end := min(offset+limit, len(f.items))
	items := append([]catalog.Item(nil), f.items[start:end]...)
	return &catalog.PageResult{Total: f.total, Items: items, RawCount: len(items)}, nil
}

func (f *fakeCatalog) requested() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.offsets...)
}

func films(n int) []catalog.Item {
	out := make([]catalog.Item, n)
	for i := range out {
		out[i] = catalog.Item{ID: int64(i + 1), CategoryID: universe.Films, Title: "film"}
	}
	return out
}

func testConfig() Config {
	return Config{PageSize: 2}
}

func newTestLoop(t *testing.T, f PageFetcher) (*Loop, *collection.Store) {
	t.Helper()
	store := collection.New(collection.DefaultConfig())
	loop := New(f, store, testConfig())
	t.Cleanup(loop.Close)
	return loop, store
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStart_SinglePage(t *testing.T) {
	f := &fakeCatalog{items: films(5), total: 5}
	loop, store := newTestLoop(t, f)

	sum, err := loop.Start(context.Background(), "alice", 2, false)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if diff := cmp.Diff([]int{0}, f.requested()); diff != "" {
		t.Errorf("offsets (-want +got):\n%s", diff)
	}
	if sum.State != StateIdle || sum.Pages != 1 || sum.Loaded != 2 || sum.Expected != 5 {
		t.Errorf("summary = %+v", sum)
	}
	if loop.State() != StateIdle {
		t.Errorf("State() = %v", loop.State())
	}
	st := store.Snapshot()
	if st.IsFetching || st.Username != "alice" || st.RequestOffset != 0 {
		t.Errorf("store = %+v", st)
	}
}

func TestStart_FetchAll(t *testing.T) {
	f := &fakeCatalog{items: films(5), total: 5}
	loop, store := newTestLoop(t, f)

	sum, err := loop.Start(context.Background(), "alice", 2, true)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if diff := cmp.Diff([]int{0, 2, 4}, f.requested()); diff != "" {
		t.Errorf("offsets (-want +got):\n%s", diff)
	}
	if sum.Pages != 3 || sum.Loaded != 5 {
		t.Errorf("summary = %+v", sum)
	}
	if got := store.RequestOffset(); got != 4 {
		t.Errorf("RequestOffset() = %d, want 4", got)
	}
	if store.HasMore() {
		t.Error("HasMore() = true after full fetch")
	}
}

func TestStart_DefaultPageSize(t *testing.T) {
	f := &fakeCatalog{items: films(30), total: 30}
	store := collection.New(collection.DefaultConfig())
	loop := New(f, store, Config{})
	defer loop.Close()

	if _, err := loop.Start(context.Background(), "alice", 0, true); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if diff := cmp.Diff([]int{0, 25}, f.requested()); diff != "" {
		t.Errorf("offsets (-want +got):\n%s", diff)
	}
}

func TestStart_MixedUniverses(t *testing.T) {
	f := &fakeCatalog{
		total: 3,
		items: []catalog.Item{
			{ID: 1, CategoryID: universe.Films, Title: "Alien", Viewer: catalog.ViewerState{IsCompleted: true}},
			{ID: 2, CategoryID: universe.Films, Title: "Heat", Viewer: catalog.ViewerState{IsCompleted: true}},
			{ID: 3, CategoryID: universe.Books, Title: "Dune", Viewer: catalog.ViewerState{IsWishlisted: true}},
		},
	}
	loop, store := newTestLoop(t, f)

	if _, err := loop.Start(context.Background(), "alice", 25, true); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	st := store.Snapshot()
	if len(st.ItemsByCategory) != 2 {
		t.Fatalf("categories = %d, want 2", len(st.ItemsByCategory))
	}
	if len(st.ItemsByCategory[universe.Films]) != 2 || len(st.ItemsByCategory[universe.Books]) != 1 {
		t.Errorf("partition = %+v", st.ItemsByCategory)
	}
	if len(f.requested()) != 1 {
		t.Errorf("requests = %d, want 1", len(f.requested()))
	}
}

func TestStart_InvalidUsername(t *testing.T) {
	f := &fakeCatalog{}
	loop, _ := newTestLoop(t, f)

	for _, name := range []string{"", "   "} {
		if _, err := loop.Start(context.Background(), name, 2, true); !errors.Is(err, catalog.ErrInvalidUsername) {
			t.Errorf("Start(%q) error = %v", name, err)
		}
	}
	if len(f.requested()) != 0 || loop.Session() != 0 {
		t.Errorf("requests=%d session=%d, want none", len(f.requested()), loop.Session())
	}
}

func TestStart_ProfileUnavailable(t *testing.T) {
	f := &fakeCatalog{
		hook: func(context.Context, string, int) (*catalog.PageResult, error) {
			return nil, &catalog.Error{Kind: catalog.KindProfileUnavailable}
		},
	}
	loop, store := newTestLoop(t, f)

	var added int
	store.Subscribe(collection.ItemsAdded, func(collection.Event) error {
		added++
		return nil
	})

	sum, err := loop.Start(context.Background(), "ghost", 2, true)
	if !errors.Is(err, catalog.ErrProfileUnavailable) {
		t.Fatalf("Start() error = %v", err)
	}
	if sum.State != StateFailed || loop.State() != StateFailed {
		t.Errorf("state = %v / %v, want failed", sum.State, loop.State())
	}
	if !errors.Is(loop.Err(), catalog.ErrProfileUnavailable) {
		t.Errorf("Err() = %v", loop.Err())
	}
	if len(f.requested()) != 1 {
		t.Errorf("requests = %d, want no continuation", len(f.requested()))
	}
	if added != 0 || store.TotalLoaded() != 0 || store.Snapshot().IsFetching {
		t.Errorf("store mutated: added=%d loaded=%d", added, store.TotalLoaded())
	}
	if got := UserMessage(err); got != DefaultMessages().ProfileUnavailable {
		t.Errorf("UserMessage() = %q", got)
	}
}

func TestStart_FailureMidway(t *testing.T) {
	f := &fakeCatalog{items: films(6), total: 6}
	f.hook = func(_ context.Context, _ string, offset int) (*catalog.PageResult, error) {
		if offset == 2 {
			return nil, &catalog.Error{Kind: catalog.KindTransport, StatusCode: 502}
		}
		return nil, nil
	}
	loop, store := newTestLoop(t, f)

	sum, err := loop.Start(context.Background(), "alice", 2, true)
	if !errors.Is(err, catalog.ErrTransportFailure) {
		t.Fatalf("Start() error = %v", err)
	}
	if sum.State != StateFailed || sum.Pages != 1 || sum.Loaded != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if diff := cmp.Diff([]int{0, 2}, f.requested()); diff != "" {
		t.Errorf("offsets (-want +got):\n%s", diff)
	}
	if store.Snapshot().IsFetching {
		t.Error("loading flag still set")
	}
}

func TestStart_StopsWhenPagesRunDry(t *testing.T) {
	t.Run("empty page", func(t *testing.T) {
		f := &fakeCatalog{items: films(2), total: 10}
		loop, _ := newTestLoop(t, f)

		sum, err := loop.Start(context.Background(), "alice", 2, true)
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if diff := cmp.Diff([]int{0, 2}, f.requested()); diff != "" {
			t.Errorf("offsets (-want +got):\n%s", diff)
		}
		if sum.Loaded != 2 || sum.State != StateIdle {
			t.Errorf("summary = %+v", sum)
		}
	})

	t.Run("dropped items", func(t *testing.T) {
		f := &fakeCatalog{items: films(3), total: 3}
		f.hook = func(_ context.Context, _ string, offset int) (*catalog.PageResult, error) {
			if offset == 0 {
				// One of two raw products had no title.
				return &catalog.PageResult{Total: 3, Items: films(1), RawCount: 2, Dropped: 1}, nil
			}
			return nil, nil
		}
		loop, _ := newTestLoop(t, f)

		sum, err := loop.Start(context.Background(), "alice", 2, true)
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if diff := cmp.Diff([]int{0, 2}, f.requested()); diff != "" {
			t.Errorf("offsets (-want +got):\n%s", diff)
		}
		if sum.Loaded != 2 || sum.Dropped != 1 {
			t.Errorf("summary = %+v", sum)
		}
	})
}

func TestStart_PausesUntilAutoContinue(t *testing.T) {
	f := &fakeCatalog{items: films(6), total: 6}
	loop, store := newTestLoop(t, f)

	f.hook = func(_ context.Context, _ string, offset int) (*catalog.PageResult, error) {
		if offset == 0 {
			// The user scrolls back up while the first page is in flight.
			store.RecordScrollPosition(0)
		}
		return nil, nil
	}

	done := make(chan Summary, 1)
	go func() {
		sum, err := loop.Start(context.Background(), "alice", 2, true)
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
		done <- sum
	}()

	waitFor(t, "paused state", func() bool { return loop.State() == StatePaused })
	if n := len(f.requested()); n != 1 {
		t.Fatalf("requests while paused = %d, want 1", n)
	}

	store.SetAutoContinue(true)

	select {
	case sum := <-done:
		if sum.Loaded != 6 || sum.Pages != 3 {
			t.Errorf("summary = %+v", sum)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not resume")
	}
}

func TestCancel_WhilePaused(t *testing.T) {
	f := &fakeCatalog{items: films(6), total: 6}
	loop, store := newTestLoop(t, f)
	f.hook = func(context.Context, string, int) (*catalog.PageResult, error) {
		store.SetAutoContinue(false)
		return nil, nil
	}

	errc := make(chan error, 1)
	go func() {
		_, err := loop.Start(context.Background(), "alice", 2, true)
		errc <- err
	}()

	waitFor(t, "paused state", func() bool { return loop.State() == StatePaused })
	loop.Cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel did not stop the session")
	}
	if loop.State() != StateIdle {
		t.Errorf("State() = %v, want idle", loop.State())
	}
}

func TestCancel_FromStoreHandler(t *testing.T) {
	f := &fakeCatalog{items: films(6), total: 6}
	loop, store := newTestLoop(t, f)
	store.Subscribe(collection.ItemsAdded, func(collection.Event) error {
		loop.Cancel()
		return nil
	})

	errc := make(chan error, 1)
	go func() {
		_, err := loop.Start(context.Background(), "alice", 2, true)
		errc <- err
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after a handler canceled the session")
	}
	if diff := cmp.Diff([]int{0}, f.requested()); diff != "" {
		t.Errorf("offsets mismatch (-want +got):\n%s", diff)
	}
	if loop.State() != StateIdle {
		t.Errorf("State() = %v, want idle", loop.State())
	}
}

func TestClose_FromLoadingHandler(t *testing.T) {
	f := &fakeCatalog{items: films(2), total: 2}
	loop, store := newTestLoop(t, f)
	closed := make(chan struct{})
	store.Subscribe(collection.LoadingChanged, func(ev collection.Event) error {
		if !ev.(collection.LoadingChangedEvent).Fetching {
			loop.Close()
			close(closed)
		}
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := loop.Start(context.Background(), "alice", 2, false)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after a handler closed the loop")
	}
	select {
	case <-closed:
	default:
		t.Error("loading handler did not run")
	}
}

func TestStart_SupersedesPreviousSession(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	f := &fakeCatalog{}
	f.hook = func(_ context.Context, username string, _ int) (*catalog.PageResult, error) {
		switch username {
		case "old":
			close(entered)
			<-release
			return &catalog.PageResult{Total: 1, Items: films(1), RawCount: 1}, nil
		case "new":
			item := catalog.Item{ID: 99, CategoryID: universe.Books, Title: "new"}
			return &catalog.PageResult{Total: 1, Items: []catalog.Item{item}, RawCount: 1}, nil
		}
		return nil, nil
	}
	loop, store := newTestLoop(t, f)

	errc := make(chan error, 1)
	go func() {
		_, err := loop.Start(context.Background(), "old", 2, true)
		errc <- err
	}()
	<-entered

	sum, err := loop.Start(context.Background(), "new", 2, true)
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if sum.Session != 2 {
		t.Errorf("session = %d, want 2", sum.Session)
	}

	close(release)
	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Errorf("first Start() error = %v, want ErrSuperseded", err)
	}

	st := store.Snapshot()
	if st.Username != "new" || st.TotalItemsLoaded != 1 || len(st.ItemsByCategory[universe.Films]) != 0 {
		t.Errorf("stale page merged: %+v", st)
	}
	if got := UserMessage(ErrSuperseded); got != "" {
		t.Errorf("UserMessage(ErrSuperseded) = %q, want empty", got)
	}
}

func TestStart_Pacing(t *testing.T) {
	f := &fakeCatalog{items: films(6), total: 6}
	store := collection.New(collection.DefaultConfig())
	loop := New(f, store, Config{PageSize: 2, PageDelay: 50 * time.Millisecond})
	defer loop.Close()

	sum, err := loop.Start(context.Background(), "alice", 2, true)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if sum.Duration < 90*time.Millisecond {
		t.Errorf("3 pages took %v, want at least two page delays", sum.Duration)
	}
}

func TestStart_WithCatalogClient(t *testing.T) {
	mock := testutil.NewMockCatalog()
	defer mock.Close()

	products := make([]testutil.MockProduct, 0, 5)
	for i := 1; i <= 4; i++ {
		products = append(products, testutil.MockProduct{
			ID: int64(i), Universe: universe.Films, Title: "Film", Role: "directors", People: []string{"Someone"}, IsDone: true,
		})
	}
	products = append(products, testutil.MockProduct{ID: 5, Universe: universe.Games, Title: "Portal", IsWished: true})
	mock.SetProducts(-1, products...)
	mock.SetAvatar("https://media.example/me.jpg")

	cfg := catalog.DefaultConfig()
	cfg.Endpoint = mock.URL()
	client, err := catalog.New(cfg)
	if err != nil {
		t.Fatalf("catalog.New() error = %v", err)
	}

	loop, store := newTestLoop(t, client)
	sum, err := loop.Start(context.Background(), "alice", 2, true)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if sum.Pages != 3 || sum.Loaded != 5 || mock.GetRequestCount() != 3 {
		t.Errorf("summary = %+v, requests = %d", sum, mock.GetRequestCount())
	}
	want := []collection.Availability{
		{CategoryID: universe.Films, Label: "Films", Count: 4},
		{CategoryID: universe.Games, Label: "Jeux vidéo", Count: 1},
	}
	if diff := cmp.Diff(want, store.Availability()); diff != "" {
		t.Errorf("availability (-want +got):\n%s", diff)
	}
	if got := store.Snapshot().AvatarURL; got != "https://media.example/me.jpg" {
		t.Errorf("AvatarURL = %q", got)
	}
}
