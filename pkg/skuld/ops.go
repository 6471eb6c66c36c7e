// Package skuld - Mutating operations.
//
// Every mutator serializes through the client lock and commits through the
// persistence adapter before touching in-memory state, so a storage failure
// leaves the previous snapshot serving. FetchExperiments is the exception:
// its network I/O runs outside the lock so it stays cancellable while an
// apply is in flight.
package skuld

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/orneryd/skuld/pkg/catalog"
	"github.com/orneryd/skuld/pkg/enrollment"
	"github.com/orneryd/skuld/pkg/jexl"
	"github.com/orneryd/skuld/pkg/targeting"
	"github.com/orneryd/skuld/pkg/telemetry"
)

// FetchExperiments downloads a fresh catalog from the configured source and
// stores it as pending. Served feature configs are untouched until
// ApplyPendingExperiments. An interrupted fetch leaves pending state as it
// was.
func (c *Client) FetchExperiments(ctx context.Context) error {
	if c.source == nil {
		return ErrNoCatalogSource
	}
	payload, err := c.source.Fetch(ctx)
	if err != nil {
		return err
	}
	return c.SetExperimentsLocally(payload)
}

// SetExperimentsLocally stores a raw catalog payload as pending, exactly as
// a fetch would.
func (c *Client) SetExperimentsLocally(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.initLocked(); err != nil {
		return err
	}
	if err := c.adapter.SetPending(payload); err != nil {
		return err
	}
	c.pendingRaw = payload
	return nil
}

// ApplyPendingExperiments evaluates the pending catalog against the client
// context, event history, and bucketing, commits the resulting enrollment
// state atomically, and returns the change events. With no pending catalog
// the call is a no-op returning no events, so applying twice is idempotent.
//
// ctx is honored between experiments: cancellation surfaces as
// ErrInterrupted with the previous state intact.
func (c *Client) ApplyPendingExperiments(ctx context.Context) ([]enrollment.ChangeEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.initLocked(); err != nil {
		return nil, err
	}
	if c.pendingRaw == nil {
		return nil, nil
	}

	cat, parseErrs := catalog.Parse(c.pendingRaw)
	for _, err := range parseErrs {
		log.Printf("[skuld] %v", err)
	}
	if cat == nil {
		// The payload is unusable as a whole. Drop it so the next fetch is
		// not poisoned by a stuck pending key.
		if err := c.adapter.ClearPending(); err != nil {
			return nil, err
		}
		c.pendingRaw = nil
		return nil, parseErrs[0]
	}

	next := cat.FilterForApp(c.appCtx.AppName, c.appCtx.Channel)
	return c.evolveAndCommitLocked(ctx, c.participating, next, true)
}

// SetGlobalUserParticipation flips the global participation flag. Turning
// it off disqualifies every live enrollment without deleting the records;
// turning it back on lets them resume on the same pass. Returns the change
// events either way.
func (c *Client) SetGlobalUserParticipation(participating bool) ([]enrollment.ChangeEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.initLocked(); err != nil {
		return nil, err
	}
	if err := c.adapter.SetParticipation(participating); err != nil {
		return nil, err
	}
	c.participating = participating
	return c.evolveAndCommitLocked(context.Background(), participating, c.applied, false)
}

// evolveAndCommitLocked runs one reconciliation pass against next and
// commits the outcome. In-memory state changes only after the store commit
// succeeds.
func (c *Client) evolveAndCommitLocked(ctx context.Context, participating bool, next *catalog.Catalog, clearPending bool) ([]enrollment.ChangeEvent, error) {
	evolver := &enrollment.Evolver{
		RandomizationID: c.randomization,
		Coenrolling:     c.coenrolling,
		Targeting:       c.targetingContextLocked(),
		Now:             c.clock,
	}
	res, err := evolver.Evolve(ctx, participating, c.applied, next, c.records)
	if err != nil {
		return nil, err
	}
	if err := c.adapter.CommitApply(next, res.Records, c.events, clearPending); err != nil {
		return nil, fmt.Errorf("committing apply: %w", err)
	}

	c.applied = next
	c.records = res.Records
	if clearPending {
		c.pendingRaw = nil
	}
	c.publishLocked()

	for _, issue := range res.Issues {
		log.Printf("[skuld] targeting for %q failed, treated as non-matching: %v", issue.Slug, issue.Err)
		c.sink.RecordEvaluationError(telemetry.EvaluationErrorRecord{
			ExperimentSlug: issue.Slug,
			Expression:     issue.Expression,
			Message:        issue.Err.Error(),
		})
	}
	if len(res.Events) > 0 {
		c.sink.RecordEnrollmentChanges(res.Events)
	}
	return res.Events, nil
}

// OptInWithBranch forces enrollment in the named branch of an experiment in
// the applied catalog, bypassing targeting and bucketing. Fails with
// ErrNoSuchExperiment or ErrNoSuchBranch on unknown names.
func (c *Client) OptInWithBranch(slug, branch catalog.Slug) ([]enrollment.ChangeEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.initLocked(); err != nil {
		return nil, err
	}

	rec, event, err := enrollment.OptIn(c.applied, slug, branch, c.clock())
	if err != nil {
		return nil, err
	}
	records := copyRecords(c.records)
	records[slug] = rec
	if err := c.adapter.SaveRecords(records); err != nil {
		return nil, err
	}
	c.records = records
	c.publishLocked()
	events := []enrollment.ChangeEvent{event}
	c.sink.RecordEnrollmentChanges(events)
	return events, nil
}

// OptOut leaves the named experiment. The record survives as Disqualified
// so telemetry keeps its branch context.
func (c *Client) OptOut(slug catalog.Slug) ([]enrollment.ChangeEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.initLocked(); err != nil {
		return nil, err
	}

	rec, event, err := enrollment.OptOut(c.records, slug, c.clock())
	if err != nil {
		c.sink.RecordEnrollmentChanges([]enrollment.ChangeEvent{event})
		return nil, err
	}
	records := copyRecords(c.records)
	records[slug] = rec
	if err := c.adapter.SaveRecords(records); err != nil {
		return nil, err
	}
	c.records = records
	c.publishLocked()
	events := []enrollment.ChangeEvent{event}
	c.sink.RecordEnrollmentChanges(events)
	return events, nil
}

// ResetEnrollments wipes every enrollment record and the applied catalog.
// Testing and profile-reset surfaces only; no change events are emitted.
func (c *Client) ResetEnrollments() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.initLocked(); err != nil {
		return err
	}
	if err := c.adapter.ResetEnrollments(); err != nil {
		return err
	}
	c.records = make(map[catalog.Slug]enrollment.Record)
	c.applied = catalog.Empty()
	c.publishLocked()
	return nil
}

// ResetTelemetryIdentifiers mints a fresh randomization id. Existing
// enrollments are untouched until the next apply, which re-buckets under
// the new id.
func (c *Client) ResetTelemetryIdentifiers() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.initLocked(); err != nil {
		return err
	}
	id := uuid.NewString()
	if err := c.adapter.SetRandomizationID(id); err != nil {
		return err
	}
	c.randomization = id
	return nil
}

// RecordEvent adds count occurrences of a behavioral event to today's
// bucket and persists the store.
func (c *Client) RecordEvent(id string, count int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.initLocked(); err != nil {
		return err
	}
	c.events.RecordEvent(id, count)
	return c.adapter.SaveEvents(c.events)
}

// RecordPastEvent backfills an event secondsAgo in the past.
func (c *Client) RecordPastEvent(id string, secondsAgo, count int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.initLocked(); err != nil {
		return err
	}
	if err := c.events.RecordPastEvent(id, secondsAgo, count); err != nil {
		return err
	}
	return c.adapter.SaveEvents(c.events)
}

// AdvanceEventTime moves the event store clock forward. Test and QA use.
func (c *Client) AdvanceEventTime(bySeconds int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.initLocked(); err != nil {
		return err
	}
	if err := c.events.AdvanceTime(bySeconds); err != nil {
		return err
	}
	return c.adapter.SaveEvents(c.events)
}

// ClearEvents drops every recorded event.
func (c *Client) ClearEvents() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.initLocked(); err != nil {
		return err
	}
	c.events.Clear()
	return c.adapter.SaveEvents(c.events)
}

// targetingContextLocked builds the base evaluation context from committed
// state. Must be called with mu held.
func (c *Client) targetingContextLocked() *jexl.Context {
	now := c.clock()
	active := make([]string, 0, len(c.records))
	for slug, rec := range c.records {
		if rec.Active() {
			active = append(active, string(slug))
		}
	}
	return &jexl.Context{
		AppContext:        c.appCtx,
		Calculated:        targeting.Calculate(now, c.appCtx.InstallationDate, c.appCtx.UpdateDate, c.appCtx.Locale),
		Events:            c.events,
		ActiveExperiments: active,
		RandomizationID:   c.randomization,
		Now:               now,
	}
}

func copyRecords(records map[catalog.Slug]enrollment.Record) map[catalog.Slug]enrollment.Record {
	out := make(map[catalog.Slug]enrollment.Record, len(records))
	for slug, rec := range records {
		out[slug] = rec
	}
	return out
}
