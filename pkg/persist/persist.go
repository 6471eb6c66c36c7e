// Package persist is the persistence adapter between the enrollment engine
// and the key/value state store.
//
// It owns the key layout, the (de)serialization of enrollment records, the
// event store, and the applied catalog snapshot, and the pending/applied
// two-phase update protocol:
//
//   - SetPending writes only the "pending" catalog; currently served feature
//     configs are untouched
//   - CommitApply is the sole mutator of the "applied" snapshot and the
//     enrollment records, and it writes everything in one transaction
//
// Key layout:
//
//	schema:version     -> "1"
//	catalog:pending    -> raw catalog JSON as fetched
//	catalog:applied    -> JSON(catalog.Catalog)
//	enrollment:<slug>  -> JSON(enrollment.Record)
//	events:store       -> serialized event store
//	meta:participation -> "true" | "false"
//	meta:randomization-id -> per-install randomization id
//
// Corrupt persisted data never crashes the client: a record that fails to
// decode is dropped and logged, the rest of the state still loads. Storage
// errors, by contrast, propagate to the caller.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/skuld/pkg/catalog"
	"github.com/orneryd/skuld/pkg/enrollment"
	"github.com/orneryd/skuld/pkg/events"
	"github.com/orneryd/skuld/pkg/store"
)

// ErrInvalidPersistedData reports locally corrupt state. It is recovered
// from, never fatal; the error surfaces only through logs and the returned
// issues list.
var ErrInvalidPersistedData = errors.New("invalid persisted data")

// schemaVersion guards the key layout. An on-disk version this code does not
// understand resets the affected state rather than misreading it.
const schemaVersion = "1"

const (
	keySchemaVersion   = "schema:version"
	keyPendingCatalog  = "catalog:pending"
	keyAppliedCatalog  = "catalog:applied"
	keyEventStore      = "events:store"
	keyParticipation   = "meta:participation"
	keyRandomizationID = "meta:randomization-id"

	enrollmentPrefix = "enrollment:"
)

// Adapter mediates between the engine's in-memory state and a Store.
type Adapter struct {
	store store.Store
}

// New creates an adapter over the given store.
func New(st store.Store) *Adapter {
	return &Adapter{store: st}
}

// State is everything the engine loads at initialization.
type State struct {
	Applied         *catalog.Catalog
	PendingRaw      []byte
	Records         map[catalog.Slug]enrollment.Record
	Events          *events.Store
	Participating   bool
	RandomizationID string
}

// Load reads the persisted state, recovering from corruption by resetting
// the affected record and continuing. A missing randomization id is minted
// and persisted on the spot so bucketing is stable from the first apply on.
func (a *Adapter) Load(now time.Time) (*State, error) {
	state := &State{
		Applied:       catalog.Empty(),
		Records:       make(map[catalog.Slug]enrollment.Record),
		Participating: true,
	}

	err := a.store.Update(func(txn store.Txn) error {
		if err := a.migrate(txn); err != nil {
			return err
		}

		if raw, err := txn.Get(keyAppliedCatalog); err == nil {
			var cat catalog.Catalog
			if jsonErr := json.Unmarshal(raw, &cat); jsonErr != nil {
				log.Printf("[persist] %v: applied catalog reset: %v", ErrInvalidPersistedData, jsonErr)
				if err := txn.Delete(keyAppliedCatalog); err != nil {
					return err
				}
			} else {
				state.Applied = &cat
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if raw, err := txn.Get(keyPendingCatalog); err == nil {
			state.PendingRaw = raw
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		keys, err := txn.Keys(enrollmentPrefix)
		if err != nil {
			return err
		}
		for _, key := range keys {
			raw, err := txn.Get(key)
			if err != nil {
				return err
			}
			var rec enrollment.Record
			if jsonErr := json.Unmarshal(raw, &rec); jsonErr != nil || rec.Slug == "" {
				log.Printf("[persist] %v: enrollment record %q reset", ErrInvalidPersistedData, key)
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}
			state.Records[rec.Slug] = rec
		}

		if raw, err := txn.Get(keyEventStore); err == nil {
			ev, evErr := events.Deserialize(raw)
			if evErr != nil {
				log.Printf("[persist] %v: event store reset: %v", ErrInvalidPersistedData, evErr)
				if err := txn.Delete(keyEventStore); err != nil {
					return err
				}
			} else {
				state.Events = ev
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if raw, err := txn.Get(keyParticipation); err == nil {
			state.Participating = string(raw) != "false"
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if raw, err := txn.Get(keyRandomizationID); err == nil && len(raw) > 0 {
			state.RandomizationID = string(raw)
		} else if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		} else {
			state.RandomizationID = uuid.NewString()
			if err := txn.Set(keyRandomizationID, []byte(state.RandomizationID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading persisted state: %w", err)
	}

	if state.Events == nil {
		state.Events = events.NewStore(now)
	}
	return state, nil
}

// migrate checks the schema version, wiping state written by an unknown
// layout. Version 1 is the only layout so far.
func (a *Adapter) migrate(txn store.Txn) error {
	raw, err := txn.Get(keySchemaVersion)
	if errors.Is(err, store.ErrNotFound) {
		return txn.Set(keySchemaVersion, []byte(schemaVersion))
	}
	if err != nil {
		return err
	}
	if string(raw) == schemaVersion {
		return nil
	}
	log.Printf("[persist] %v: unknown schema version %q, resetting state", ErrInvalidPersistedData, raw)
	keys, err := txn.Keys("")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return txn.Set(keySchemaVersion, []byte(schemaVersion))
}

// SetPending stores the raw fetched catalog without touching applied state.
func (a *Adapter) SetPending(raw []byte) error {
	return a.store.Set(keyPendingCatalog, raw)
}

// ClearPending drops the pending catalog without applying it.
func (a *Adapter) ClearPending() error {
	return a.store.Delete(keyPendingCatalog)
}

// CommitApply atomically replaces the applied snapshot, the full enrollment
// record set, and the event store, clearing the pending catalog when asked.
// Either everything below is persisted or nothing is.
func (a *Adapter) CommitApply(applied *catalog.Catalog, records map[catalog.Slug]enrollment.Record, ev *events.Store, clearPending bool) error {
	appliedRaw, err := json.Marshal(applied)
	if err != nil {
		return fmt.Errorf("marshaling applied catalog: %w", err)
	}
	eventsRaw, err := ev.Serialize()
	if err != nil {
		return fmt.Errorf("serializing event store: %w", err)
	}

	return a.store.Update(func(txn store.Txn) error {
		stale, err := txn.Keys(enrollmentPrefix)
		if err != nil {
			return err
		}
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for slug, rec := range records {
			raw, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshaling record %q: %w", slug, err)
			}
			if err := txn.Set(enrollmentPrefix+string(slug), raw); err != nil {
				return err
			}
		}
		if err := txn.Set(keyAppliedCatalog, appliedRaw); err != nil {
			return err
		}
		if err := txn.Set(keyEventStore, eventsRaw); err != nil {
			return err
		}
		if clearPending {
			return txn.Delete(keyPendingCatalog)
		}
		return nil
	})
}

// SaveRecords persists the full record set without touching catalogs or
// events. Used by opt-in, opt-out, and participation changes.
func (a *Adapter) SaveRecords(records map[catalog.Slug]enrollment.Record) error {
	return a.store.Update(func(txn store.Txn) error {
		stale, err := txn.Keys(enrollmentPrefix)
		if err != nil {
			return err
		}
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for slug, rec := range records {
			raw, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshaling record %q: %w", slug, err)
			}
			if err := txn.Set(enrollmentPrefix+string(slug), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveEvents persists the event store alone. Called after host-driven event
// mutations (record, advance, clear).
func (a *Adapter) SaveEvents(ev *events.Store) error {
	raw, err := ev.Serialize()
	if err != nil {
		return fmt.Errorf("serializing event store: %w", err)
	}
	return a.store.Set(keyEventStore, raw)
}

// SetParticipation persists the global participation flag.
func (a *Adapter) SetParticipation(participating bool) error {
	value := "true"
	if !participating {
		value = "false"
	}
	return a.store.Set(keyParticipation, []byte(value))
}

// SetRandomizationID replaces the persisted randomization id. Used by
// telemetry identifier resets.
func (a *Adapter) SetRandomizationID(id string) error {
	return a.store.Set(keyRandomizationID, []byte(id))
}

// ResetEnrollments deletes every enrollment record and the applied catalog
// so the next apply starts from a clean slate.
func (a *Adapter) ResetEnrollments() error {
	return a.store.Update(func(txn store.Txn) error {
		keys, err := txn.Keys(enrollmentPrefix)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return txn.Delete(keyAppliedCatalog)
	})
}
