// Package events - Serialization helpers for the persistence adapter.
package events

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

func inf() float64 { return math.Inf(1) }

// snapshot is the persisted wire form of a Store. Day keys are encoded as
// strings because JSON object keys are strings.
type snapshot struct {
	NowUnix       int64                        `json:"now"`
	RetentionDays int64                        `json:"retention_days"`
	Events        map[string]map[string]int64  `json:"events"`
}

// Serialize encodes the store for persistence.
func (s *Store) Serialize() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		NowUnix:       s.now.Unix(),
		RetentionDays: s.retentionDays,
		Events:        make(map[string]map[string]int64, len(s.events)),
	}
	for id, buckets := range s.events {
		out := make(map[string]int64, len(buckets))
		for day, count := range buckets {
			out[strconv.FormatInt(day, 10)] = count
		}
		snap.Events[id] = out
	}
	return json.Marshal(snap)
}

// Deserialize decodes a store previously produced by Serialize.
func Deserialize(data []byte) (*Store, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling event store: %w", err)
	}
	store := NewStore(time.Unix(snap.NowUnix, 0).UTC())
	if snap.RetentionDays > 0 {
		store.retentionDays = snap.RetentionDays
	}
	for id, buckets := range snap.Events {
		decoded := make(map[int64]int64, len(buckets))
		for dayStr, count := range buckets {
			day, err := strconv.ParseInt(dayStr, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("unmarshaling event store: bad day key %q: %w", dayStr, err)
			}
			decoded[day] = count
		}
		store.events[id] = decoded
	}
	return store, nil
}
