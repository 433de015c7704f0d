package fetchloop

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/sensboxd/pkg/catalog"
	"github.com/Sternrassler/sensboxd/pkg/collection"
	"github.com/Sternrassler/sensboxd/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrSuperseded is returned by Start when a newer session replaced this one.
// The superseded session's late results are discarded.
var ErrSuperseded = errors.New("fetch session superseded")

var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensboxd_fetch_pages_total",
		Help: "Collection pages handled by the fetch loop, by outcome",
	}, []string{"outcome"})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensboxd_fetch_sessions_total",
		Help: "Fetch sessions by terminal outcome",
	}, []string{"outcome"})

	pausesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensboxd_fetch_pauses_total",
		Help: "Times a session paused because auto-continue was off",
	})
)

// PageFetcher is the interface the catalog client implements for single-page fetching.
type PageFetcher interface {
	FetchPage(ctx context.Context, username string, offset, limit int) (*catalog.PageResult, error)
}

// Config holds fetch loop configuration.
type Config struct {
	// PageSize is used when Start is called with a non-positive page size.
	PageSize int

	// PageDelay is the minimum spacing between page requests. Zero disables pacing.
	PageDelay time.Duration
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:  25,
		PageDelay: time.Second,
	}
}

// Summary describes a finished session.
type Summary struct {
	Session  uint64
	Username string
	State    State
	Pages    int
	Loaded   int
	Expected int
	Dropped  int
	Duration time.Duration
}

// Loop runs fetch sessions against a store. Only one session is current at
// a time; starting a new one supersedes the previous.
type Loop struct {
	fetcher PageFetcher
	store   *collection.Store
	config  Config
	logger  zerolog.Logger

	// mu serialises session changes with page merges, so a superseded
	// session never touches the store. Take it with lock.
	mu      sync.Mutex
	session atomic.Uint64
	state   atomic.Int32
	cancel  context.CancelFunc

	errMu sync.Mutex
	err   error

	resume      chan struct{}
	unsubscribe func()
}

// New creates a loop feeding store from fetcher.
func New(fetcher PageFetcher, store *collection.Store, cfg Config) *Loop {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 25
	}
	if cfg.PageDelay < 0 {
		cfg.PageDelay = 0
	}

	l := &Loop{
		fetcher: fetcher,
		store:   store,
		config:  cfg,
		logger:  logging.NewLogger("fetch-loop"),
		resume:  make(chan struct{}, 1),
	}

	l.unsubscribe = store.Subscribe(collection.AutoContinueChanged, func(ev collection.Event) error {
		if ev.(collection.AutoContinueChangedEvent).Enabled {
			select {
			case l.resume <- struct{}{}:
			default:
			}
		}
		return nil
	})

	return l
}

// Close cancels the current session and detaches from the store.
func (l *Loop) Close() {
	l.Cancel()
	l.unsubscribe()
}

// Cancel stops the current session. Its Start call returns context.Canceled.
func (l *Loop) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
}

// State returns the current session's state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Session returns the current session id (0 before the first Start).
func (l *Loop) Session() uint64 {
	return l.session.Load()
}

// Err returns the error that ended the current session, if any.
func (l *Loop) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

func (l *Loop) setErr(err error) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	l.err = err
}

// Start runs a new session and blocks until it is terminal. With fetchAll
// false only one page is requested.
func (l *Loop) Start(ctx context.Context, username string, pageSize int, fetchAll bool) (Summary, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Summary{}, catalog.ErrInvalidUsername
	}
	if pageSize <= 0 {
		pageSize = l.config.PageSize
	}

	start := time.Now()

	unlock := l.lock()
	if l.cancel != nil {
		l.cancel()
	}
	id := l.session.Add(1)
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.cancel = cancel
	l.setErr(nil)
	l.state.Store(int32(StateFetching))
	select {
	case <-l.resume:
	default:
	}
	l.store.BeginSession(username)
	unlock()

	sum := Summary{Session: id, Username: username}
	log := l.logger.With().Uint64("session", id).Str("username", username).Logger()

	log.Info().
		Int("page_size", pageSize).
		Bool("fetch_all", fetchAll).
		Msg("Starting fetch session")

	var limiter *rate.Limiter
	if l.config.PageDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(l.config.PageDelay), 1)
	} else {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	offset := 0
	for {
		if err := limiter.Wait(sctx); err != nil {
			return l.finish(sctx, id, start, sum, err, log)
		}

		page, err := l.fetcher.FetchPage(sctx, username, offset, pageSize)

		unlock := l.lock()
		if l.session.Load() != id {
			unlock()
			pagesTotal.WithLabelValues("superseded").Inc()
			sessionsTotal.WithLabelValues("superseded").Inc()
			log.Debug().Int("offset", offset).Msg("Discarding page of superseded session")
			sum.State = StateIdle
			sum.Duration = time.Since(start)
			return sum, ErrSuperseded
		}
		if err != nil {
			unlock()
			pagesTotal.WithLabelValues("error").Inc()
			return l.finish(sctx, id, start, sum, err, log)
		}

		l.store.SetExpectedTotal(page.Total)
		l.store.SetAvatarURL(page.ViewerAvatarURL)
		l.store.AddItems(page.Items)
		sum.Pages = l.store.IncrementPage()
		sum.Dropped += page.Dropped
		loaded := l.store.TotalLoaded()
		expected, _ := l.store.ExpectedTotal()
		pagesTotal.WithLabelValues("ok").Inc()

		log.Debug().
			Int("page", sum.Pages).
			Int("offset", offset).
			Int("items", len(page.Items)).
			Int("loaded", loaded).
			Int("expected", expected).
			Msg("Page merged")

		more := fetchAll &&
			loaded < expected &&
			page.RawCount > 0 &&
			offset+pageSize < expected
		if !more {
			unlock()
			return l.finish(sctx, id, start, sum, nil, log)
		}

		l.store.AdvanceOffset(pageSize)
		offset = l.store.RequestOffset()
		l.state.Store(int32(StateContinuing))
		unlock()

		if err := l.awaitContinue(sctx, id, log); err != nil {
			return l.finish(sctx, id, start, sum, err, log)
		}
	}
}

// lock takes mu and holds store events. The returned unlock releases mu
// before delivering them, so handlers may call back into the loop.
func (l *Loop) lock() (unlock func()) {
	l.mu.Lock()
	release := l.store.HoldEvents()
	return func() {
		l.mu.Unlock()
		release()
	}
}

// awaitContinue blocks while auto-continue is off.
func (l *Loop) awaitContinue(ctx context.Context, id uint64, log zerolog.Logger) error {
	paused := false
	for !l.store.AutoContinue() {
		if !paused {
			paused = true
			pausesTotal.Inc()
			l.setState(id, StatePaused)
			log.Info().Msg("Auto-continue off, session paused")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.resume:
		}
	}
	if paused {
		l.setState(id, StateContinuing)
		log.Info().Msg("Session resumed")
	}
	return ctx.Err()
}

func (l *Loop) setState(id uint64, s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session.Load() == id {
		l.state.Store(int32(s))
	}
}

// finish moves the session to its terminal state. A canceled session ends
// in StateIdle; any other error ends in StateFailed.
func (l *Loop) finish(ctx context.Context, id uint64, start time.Time, sum Summary, err error, log zerolog.Logger) (Summary, error) {
	defer l.lock()()

	sum.Duration = time.Since(start)
	if l.session.Load() != id {
		sum.State = StateIdle
		sessionsTotal.WithLabelValues("superseded").Inc()
		return sum, ErrSuperseded
	}

	snap := l.store.Snapshot()
	sum.Loaded = snap.TotalItemsLoaded
	sum.Expected = snap.ExpectedTotal

	switch {
	case err == nil:
		sum.State = StateIdle
		sessionsTotal.WithLabelValues("completed").Inc()
		log.Info().
			Int("pages", sum.Pages).
			Int("loaded", sum.Loaded).
			Int("expected", sum.Expected).
			Int("dropped", sum.Dropped).
			Dur("duration", sum.Duration).
			Msg("Fetch session complete")
	case ctx.Err() != nil:
		sum.State = StateIdle
		sessionsTotal.WithLabelValues("canceled").Inc()
		log.Info().Err(err).Int("loaded", sum.Loaded).Msg("Fetch session canceled")
	default:
		sum.State = StateFailed
		sessionsTotal.WithLabelValues("failed").Inc()
		log.Error().
			Err(err).
			Str("error_class", string(catalog.KindOf(err))).
			Int("pages", sum.Pages).
			Msg("Fetch session failed")
	}

	l.setErr(err)
	l.state.Store(int32(sum.State))
	l.store.SetFetching(false)
	return sum, err
}
