// Package events implements the behavioral event store for Skuld.
//
// The store keeps append-only, day-granularity counters keyed by event id and
// answers point-in-time queries like "how many times did event X happen in the
// last N days". Targeting expressions reach it through the jexl transforms
// eventSum, eventCountNonZero, eventAverage, and eventLastSeen.
//
// The store owns its own notion of "now", advanced only by explicit
// AdvanceTime calls from the host, so that targeting evaluation is a pure
// read and tests are fully deterministic.
//
// Retention is bounded: buckets older than the retention window (default 240
// days) roll out as time advances.
//
// Example Usage:
//
//	store := events.NewStore(time.Now())
//	store.RecordEvent("app_launched", 1)
//	store.AdvanceTime(86400 * 3)
//	n := store.Query("app_launched", 7, events.StatisticSum) // 1
//
// ELI12:
//
// Imagine a wall calendar where every time something happens you put a tally
// mark on today's square. Asking "how often did this happen in the last week?"
// means counting the marks on the last seven squares. Squares older than about
// eight months get erased to keep the calendar from filling up.
package events

import (
	"errors"
	"sync"
	"time"
)

// Common errors
var (
	ErrNonPositiveSeconds = errors.New("seconds must be positive")
	ErrUnknownStatistic   = errors.New("unknown statistic")
)

// DefaultRetentionDays bounds how far back queries can see. Chosen to
// comfortably cover the "last 180 days" windows used by long-horizon
// targeting.
const DefaultRetentionDays = 240

// Statistic selects how a query aggregates the buckets in its window.
type Statistic string

const (
	// StatisticSum is the total count over the window.
	StatisticSum Statistic = "sum"

	// StatisticCountNonZero is the number of days in the window with at
	// least one occurrence.
	StatisticCountNonZero Statistic = "countNonZero"

	// StatisticAverage is the sum divided by the window length in days.
	StatisticAverage Statistic = "average"

	// StatisticLastSeen is the number of days since the most recent
	// occurrence inside the window (0 = today). +Inf when the event never
	// occurred in the window.
	StatisticLastSeen Statistic = "lastSeen"
)

// Store is a thread-safe, time-bucketed event counter.
type Store struct {
	mu  sync.RWMutex
	now time.Time

	// events maps event id -> absolute day number -> count.
	events map[string]map[int64]int64

	retentionDays int64
}

// NewStore creates an empty store whose clock starts at now.
func NewStore(now time.Time) *Store {
	return &Store{
		now:           now,
		events:        make(map[string]map[int64]int64),
		retentionDays: DefaultRetentionDays,
	}
}

func dayNumber(t time.Time) int64 {
	return t.Unix() / 86400
}

// Now returns the store's current clock reading.
func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now
}

// RecordEvent adds count occurrences of the event to today's bucket.
func (s *Store) RecordEvent(id string, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(id, dayNumber(s.now), count)
}

// RecordPastEvent adds count occurrences secondsAgo in the past, landing in
// whatever day bucket that instant falls into. secondsAgo must be positive.
func (s *Store) RecordPastEvent(id string, secondsAgo int64, count int64) error {
	if secondsAgo <= 0 {
		return ErrNonPositiveSeconds
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(id, dayNumber(s.now.Add(-time.Duration(secondsAgo)*time.Second)), count)
	return nil
}

func (s *Store) record(id string, day int64, count int64) {
	buckets, ok := s.events[id]
	if !ok {
		buckets = make(map[int64]int64)
		s.events[id] = buckets
	}
	buckets[day] += count
}

// AdvanceTime moves the store's clock forward by the given number of seconds
// and rolls out buckets that fall off the retention window. bySeconds must be
// positive: the clock never runs backwards.
func (s *Store) AdvanceTime(bySeconds int64) error {
	if bySeconds <= 0 {
		return ErrNonPositiveSeconds
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(time.Duration(bySeconds) * time.Second)
	s.prune()
	return nil
}

func (s *Store) prune() {
	cutoff := dayNumber(s.now) - s.retentionDays
	for id, buckets := range s.events {
		for day := range buckets {
			if day < cutoff {
				delete(buckets, day)
			}
		}
		if len(buckets) == 0 {
			delete(s.events, id)
		}
	}
}

// Query aggregates the trailing windowDays day buckets (today included) for
// the event with the requested statistic. Unknown events behave as all-zero.
func (s *Store) Query(id string, windowDays int, stat Statistic) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if windowDays <= 0 {
		return 0, nil
	}
	today := dayNumber(s.now)
	oldest := today - int64(windowDays) + 1

	var sum int64
	var nonZeroDays int64
	lastSeen := int64(-1)
	for day, count := range s.events[id] {
		if day < oldest || day > today || count == 0 {
			continue
		}
		sum += count
		nonZeroDays++
		if day > lastSeen {
			lastSeen = day
		}
	}

	switch stat {
	case StatisticSum:
		return float64(sum), nil
	case StatisticCountNonZero:
		return float64(nonZeroDays), nil
	case StatisticAverage:
		return float64(sum) / float64(windowDays), nil
	case StatisticLastSeen:
		if lastSeen < 0 {
			return inf(), nil
		}
		return float64(today - lastSeen), nil
	default:
		return 0, ErrUnknownStatistic
	}
}

// Clear removes every recorded event. The clock is left untouched.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string]map[int64]int64)
}
