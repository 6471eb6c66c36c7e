// Package skuld provides the main API for embedding the Skuld
// experimentation engine in a host application.
//
// Skuld decides, for a single installed client, which experiments the client
// is enrolled in, which branch it received, and what the resulting merged
// feature configuration is, and keeps that state consistent as catalogs and
// client attributes change.
//
// Key Features:
//   - Deterministic hash bucketing, stable across releases and platforms
//   - JEXL targeting expressions over app context and behavioral events
//   - Two-phase fetch/apply so a background fetch never perturbs served
//     feature configs
//   - Atomic persistence: a failed apply leaves the previous state serving
//   - Strict failure isolation: one malformed experiment never blocks the
//     rest of the catalog
//
// Concurrency model: all mutating operations serialize through one internal
// lock; readers serve from the last committed snapshot without blocking on
// an in-flight apply (snapshot isolation). The engine never schedules its
// own background work — callers decide when to fetch and apply.
//
// Example Usage:
//
//	client, err := skuld.NewClient(targeting.AppContext{
//		AppName: "fenix",
//		AppID:   "org.mozilla.fenix",
//		Channel: "release",
//	}, skuld.WithDataDir("./data/skuld"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.SetExperimentsLocally(payload)
//	events, err := client.ApplyPendingExperiments(ctx)
//	if branch, ok := client.GetExperimentBranch("my-experiment"); ok {
//		fmt.Println("enrolled in", branch)
//	}
package skuld

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orneryd/skuld/pkg/catalog"
	"github.com/orneryd/skuld/pkg/enrollment"
	"github.com/orneryd/skuld/pkg/events"
	"github.com/orneryd/skuld/pkg/persist"
	"github.com/orneryd/skuld/pkg/remote"
	"github.com/orneryd/skuld/pkg/store"
	"github.com/orneryd/skuld/pkg/targeting"
	"github.com/orneryd/skuld/pkg/telemetry"
)

// Common errors
var (
	// ErrDatabaseNotReady reports an operation against a client whose state
	// store could not be opened or has been closed.
	ErrDatabaseNotReady = errors.New("database not ready")

	// ErrNoCatalogSource reports FetchExperiments on a client constructed
	// without a catalog source.
	ErrNoCatalogSource = errors.New("no catalog source configured")

	// ErrNoSuchExperiment and ErrNoSuchBranch report user errors in the
	// opt-in/opt-out APIs.
	ErrNoSuchExperiment = enrollment.ErrNoSuchExperiment
	ErrNoSuchBranch     = enrollment.ErrNoSuchBranch

	// ErrInterrupted reports cooperative cancellation of an apply.
	ErrInterrupted = enrollment.ErrInterrupted
)

// Client is the engine facade. Create with NewClient; the zero value is not
// usable.
type Client struct {
	appCtx      targeting.AppContext
	st          store.Store
	adapter     *persist.Adapter
	source      remote.Source
	sink        telemetry.Sink
	coenrolling map[catalog.FeatureID]bool
	clock       func() time.Time
	ownsStore   bool

	// mu serializes every mutating operation so enrollment diffing always
	// observes a consistent old/new pair.
	mu          sync.Mutex
	initialized bool

	// Committed state, owned by mu.
	records       map[catalog.Slug]enrollment.Record
	applied       *catalog.Catalog
	events        *events.Store
	participating bool
	randomization string
	pendingRaw    []byte

	// snap is the lock-free read view, replaced wholesale on each commit.
	snap atomic.Pointer[snapshot]
}

// Option configures a Client.
type Option func(*Client) error

// WithStore supplies a caller-owned state store. The client will not close
// it.
func WithStore(st store.Store) Option {
	return func(c *Client) error {
		c.st = st
		return nil
	}
}

// WithDataDir opens a badger-backed state store in the given directory,
// owned and closed by the client.
func WithDataDir(dir string) Option {
	return func(c *Client) error {
		st, err := store.NewBadgerStore(store.BadgerOptions{DataDir: dir})
		if err != nil {
			return err
		}
		c.st = st
		c.ownsStore = true
		return nil
	}
}

// WithSource supplies the catalog source used by FetchExperiments.
func WithSource(src remote.Source) Option {
	return func(c *Client) error {
		c.source = src
		return nil
	}
}

// WithSink supplies the metrics sink. Defaults to NoopSink.
func WithSink(sink telemetry.Sink) Option {
	return func(c *Client) error {
		c.sink = sink
		return nil
	}
}

// WithCoenrollingFeatures declares the features that accept overrides from
// more than one simultaneously enrolled experiment.
func WithCoenrollingFeatures(ids []catalog.FeatureID) Option {
	return func(c *Client) error {
		for _, id := range ids {
			c.coenrolling[id] = true
		}
		return nil
	}
}

// WithClock overrides the wall clock. Test use.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) error {
		c.clock = clock
		return nil
	}
}

// NewClient creates a client for the given app context. Without WithStore or
// WithDataDir the client keeps state in memory only.
func NewClient(appCtx targeting.AppContext, opts ...Option) (*Client, error) {
	c := &Client{
		appCtx:        appCtx,
		sink:          telemetry.NoopSink{},
		coenrolling:   make(map[catalog.FeatureID]bool),
		clock:         time.Now,
		participating: true,
		records:       make(map[catalog.Slug]enrollment.Record),
		applied:       catalog.Empty(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.st == nil {
		c.st = store.NewMemoryStore()
		c.ownsStore = true
	}
	c.adapter = persist.New(c.st)
	c.snap.Store(emptySnapshot())
	return c, nil
}

// Initialize loads persisted state into memory. It is idempotent, safe to
// call multiple times, and invoked implicitly by every mutating operation.
// Getters called before initialization return empty results rather than
// blocking.
func (c *Client) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initLocked()
}

func (c *Client) initLocked() error {
	if c.initialized {
		return nil
	}
	if c.st == nil {
		return ErrDatabaseNotReady
	}
	state, err := c.adapter.Load(c.clock())
	if err != nil {
		return err
	}
	c.records = state.Records
	c.applied = state.Applied
	c.events = state.Events
	c.participating = state.Participating
	c.randomization = state.RandomizationID
	c.pendingRaw = state.PendingRaw
	c.initialized = true
	c.publishLocked()
	return nil
}

// Close releases the client and, when it owns the store, the store too.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ownsStore && c.st != nil {
		err := c.st.Close()
		c.st = nil
		return err
	}
	c.st = nil
	return nil
}

// snapshot is the immutable read view served to getters.
type snapshot struct {
	records  map[catalog.Slug]enrollment.Record
	applied  *catalog.Catalog
	features map[catalog.FeatureID]featureSlot
}

// featureSlot holds the enrollments covering one feature: at most one
// rollout plus one experiment, or many experiments when the feature
// coenrolls.
type featureSlot struct {
	rollouts    []enrolledFeature
	experiments []enrolledFeature
}

type enrolledFeature struct {
	slug   catalog.Slug
	branch catalog.Slug
	config map[string]any
}

func emptySnapshot() *snapshot {
	return &snapshot{
		records:  map[catalog.Slug]enrollment.Record{},
		applied:  catalog.Empty(),
		features: map[catalog.FeatureID]featureSlot{},
	}
}

// publishLocked rebuilds the read snapshot from committed state. Must be
// called with mu held, after every successful commit.
func (c *Client) publishLocked() {
	snap := &snapshot{
		records:  make(map[catalog.Slug]enrollment.Record, len(c.records)),
		applied:  c.applied,
		features: make(map[catalog.FeatureID]featureSlot),
	}
	for slug, rec := range c.records {
		snap.records[slug] = rec
	}

	for _, slug := range sortedRecordSlugs(c.records) {
		rec := c.records[slug]
		if !rec.Active() {
			continue
		}
		exp, ok := c.applied.Get(slug)
		if !ok {
			continue
		}
		branch := exp.Branch(rec.Status.Branch)
		if branch == nil {
			continue
		}
		for _, featureID := range exp.FeatureIDs {
			ef := enrolledFeature{slug: slug, branch: branch.Slug}
			if fc := branch.FeatureConfig(featureID); fc != nil {
				ef.config = fc.Value
			}
			slot := snap.features[featureID]
			if exp.IsRollout {
				slot.rollouts = append(slot.rollouts, ef)
			} else {
				slot.experiments = append(slot.experiments, ef)
			}
			snap.features[featureID] = slot
		}
	}
	c.snap.Store(snap)
}

func sortedRecordSlugs(records map[catalog.Slug]enrollment.Record) []catalog.Slug {
	slugs := make([]catalog.Slug, 0, len(records))
	for slug := range records {
		slugs = append(slugs, slug)
	}
	sort.Slice(slugs, func(i, j int) bool { return slugs[i] < slugs[j] })
	return slugs
}
