// Package loader readies provider SDK assets at most once per process.
//
// Each provider moves through NotLoaded -> Loading -> Loaded | Failed. The
// state is only reachable through EnsureLoaded; a failed provider stays
// unavailable until the process restarts.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/eduard256/mapkit/internal/metrics"
	"github.com/eduard256/mapkit/internal/models"
	"github.com/eduard256/mapkit/pkg/logger"
)

// ErrUnavailable is returned for a provider whose SDK failed to load.
var ErrUnavailable = errors.New("map provider unavailable")

// DefaultTimeout bounds one provider load.
const DefaultTimeout = 15 * time.Second

// State is the load state of one provider.
type State int

const (
	NotLoaded State = iota
	Loading
	Loaded
	Failed
)

func (s State) String() string {
	switch s {
	case NotLoaded:
		return "not_loaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// AssetKind distinguishes scripts from stylesheets.
type AssetKind string

const (
	Script     AssetKind = "script"
	Stylesheet AssetKind = "stylesheet"
)

// Asset is one file a provider SDK needs.
type Asset struct {
	Kind AssetKind `json:"kind"`
	URL  string    `json:"url"`
}

// Fetcher retrieves one asset.
type Fetcher interface {
	Fetch(ctx context.Context, a Asset) error
}

// Catalog lists the assets of a provider.
type Catalog func(p models.Provider) []Asset

// Loader tracks SDK load state per provider.
type Loader struct {
	fetcher Fetcher
	catalog Catalog
	timeout time.Duration
	logger  *logger.Logger
	metrics *metrics.Metrics

	group singleflight.Group

	mu     sync.Mutex
	states map[models.Provider]State
	errs   map[models.Provider]error
}

// Option configures a Loader.
type Option func(*Loader)

// WithTimeout bounds each load.
func WithTimeout(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(l *Loader) { l.logger = logger.OrNop(log).Component("loader") }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// New creates a Loader.
func New(fetcher Fetcher, catalog Catalog, opts ...Option) *Loader {
	l := &Loader{
		fetcher: fetcher,
		catalog: catalog,
		timeout: DefaultTimeout,
		logger:  logger.Nop(),
		states:  make(map[models.Provider]State),
		errs:    make(map[models.Provider]error),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current state of p.
func (l *Loader) State(p models.Provider) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.states[p]
}

// EnsureLoaded returns once p's SDK is ready. Concurrent callers share a
// single in-flight load. Cancelling ctx releases the caller without
// cancelling the shared load.
func (l *Loader) EnsureLoaded(ctx context.Context, p models.Provider) error {
	if err := l.settled(p); err != nil || l.State(p) == Loaded {
		return err
	}

	ch := l.group.DoChan(string(p), func() (interface{}, error) {
		return nil, l.load(p)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// settled returns the recorded failure of p, if any.
func (l *Loader) settled(p models.Provider) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.states[p] == Failed {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, p, l.errs[p])
	}
	return nil
}

func (l *Loader) load(p models.Provider) error {
	l.mu.Lock()
	switch l.states[p] {
	case Loaded:
		l.mu.Unlock()
		return nil
	case Failed:
		err := l.errs[p]
		l.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, p, err)
	}
	l.states[p] = Loading
	l.mu.Unlock()

	log := l.logger.WithField("provider", string(p))
	log.Debug("loading provider sdk")

	// The load outlives any single caller so that later callers can share it.
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	var err error
	for _, a := range l.catalog(p) {
		if err = l.fetcher.Fetch(ctx, a); err != nil {
			err = fmt.Errorf("fetch %s %s: %w", a.Kind, a.URL, err)
			break
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.states[p] = Failed
		l.errs[p] = err
		l.metrics.IncSDKLoad(string(p), "failed")
		log.WithError(err).Warn("provider sdk failed to load")
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, p, err)
	}

	l.states[p] = Loaded
	l.metrics.IncSDKLoad(string(p), "loaded")
	log.Info("provider sdk loaded")
	return nil
}
