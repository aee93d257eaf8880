// Package ledger tracks which master positions were copied to which follower
// positions, and the highest master ticket already inspected per account.
package ledger

import (
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"mt5_copier/internal/domain"
)

// FollowerLeg is one follower position opened for a master position.
type FollowerLeg struct {
	Ticket   int64              `json:"ticket"`
	Levels   domain.StopLevels  `json:"levels"`             // last levels applied on the follower
	Rejected *domain.StopLevels `json:"rejected,omitempty"` // last levels the broker refused
	OpenedAt time.Time          `json:"opened_at"`
}

// Settled reports whether levels need no further modify on this leg: they
// are applied already, or the broker refused exactly these levels.
func (f FollowerLeg) Settled(levels domain.StopLevels) bool {
	return f.Levels.Equal(levels) || (f.Rejected != nil && f.Rejected.Equal(levels))
}

// Record maps one master position to its follower legs.
type Record struct {
	Key       domain.PositionKey     `json:"key"`
	Levels    domain.StopLevels      `json:"levels"` // last known master levels
	Followers map[string]FollowerLeg `json:"followers"`
}

func (r *Record) clone() Record {
	return Record{Key: r.Key, Levels: r.Levels, Followers: maps.Clone(r.Followers)}
}

// State is a serializable copy of the ledger.
type State struct {
	Watermarks map[string]int64 `json:"watermarks"`
	Records    []Record         `json:"records"`
}

// Empty reports whether the state holds nothing.
func (s State) Empty() bool {
	return len(s.Watermarks) == 0 && len(s.Records) == 0
}

// Ledger is safe for concurrent use. Readers receive copies.
type Ledger struct {
	mu         sync.RWMutex
	watermarks map[string]int64
	records    map[domain.PositionKey]*Record
	version    uint64
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		watermarks: make(map[string]int64),
		records:    make(map[domain.PositionKey]*Record),
	}
}

// Watermark returns the highest master ticket already processed, 0 if none.
func (l *Ledger) Watermark(master string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.watermarks[master]
}

// AdvanceWatermark moves the watermark forward. It never moves backwards and
// returns false when ticket <= current.
func (l *Ledger) AdvanceWatermark(master string, ticket int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ticket <= l.watermarks[master] {
		return false
	}
	l.watermarks[master] = ticket
	l.version++
	return true
}

// RecordMapping adds or overwrites the follower leg of key. The record is
// created with the given master levels when absent.
func (l *Ledger) RecordMapping(key domain.PositionKey, follower string, leg FollowerLeg, levels domain.StopLevels) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		rec = &Record{Key: key, Levels: levels, Followers: make(map[string]FollowerLeg)}
		l.records[key] = rec
	}
	rec.Followers[follower] = leg
	l.version++
}

// Mapping returns follower account → follower ticket for key.
func (l *Ledger) Mapping(key domain.PositionKey) map[string]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]int64)
	if rec, ok := l.records[key]; ok {
		for f, leg := range rec.Followers {
			out[f] = leg.Ticket
		}
	}
	return out
}

// Record returns a deep copy of the record for key.
func (l *Ledger) Record(key domain.PositionKey) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[key]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// HasMapping reports whether follower already holds a leg for key.
func (l *Ledger) HasMapping(key domain.PositionKey, follower string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[key]
	if !ok {
		return false
	}
	_, ok = rec.Followers[follower]
	return ok
}

// RemoveFollowerMapping drops one leg. The record itself stays.
func (l *Ledger) RemoveFollowerMapping(key domain.PositionKey, follower string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		return
	}
	if _, ok := rec.Followers[follower]; !ok {
		return
	}
	delete(rec.Followers, follower)
	l.version++
}

// RemoveRecordIfEmpty deletes the record once it has no legs left.
func (l *Ledger) RemoveRecordIfEmpty(key domain.PositionKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok || len(rec.Followers) > 0 {
		return false
	}
	delete(l.records, key)
	l.version++
	return true
}

// TrackedTickets returns the keys of master's records in ticket order.
func (l *Ledger) TrackedTickets(master string) []domain.PositionKey {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var keys []domain.PositionKey
	for k := range l.records {
		if k.AccountID == master {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b domain.PositionKey) int {
		switch {
		case a.Ticket < b.Ticket:
			return -1
		case a.Ticket > b.Ticket:
			return 1
		}
		return 0
	})
	return keys
}

// TrackedMasters returns the sorted master accounts that still have records.
func (l *Ledger) TrackedMasters() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var masters []string
	for k := range l.records {
		if !slices.Contains(masters, k.AccountID) {
			masters = append(masters, k.AccountID)
		}
	}
	slices.Sort(masters)
	return masters
}

// SetMasterLevels stores the master's current stop levels on the record.
func (l *Ledger) SetMasterLevels(key domain.PositionKey, levels domain.StopLevels) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok || rec.Levels.Equal(levels) {
		return
	}
	rec.Levels = levels
	l.version++
}

// SetFollowerLevels stores the levels confirmed on a follower leg.
func (l *Ledger) SetFollowerLevels(key domain.PositionKey, follower string, levels domain.StopLevels) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		return
	}
	leg, ok := rec.Followers[follower]
	if !ok || (leg.Levels.Equal(levels) && leg.Rejected == nil) {
		return
	}
	leg.Levels = levels
	leg.Rejected = nil
	rec.Followers[follower] = leg
	l.version++
}

// RejectFollowerLevels remembers levels the broker refused for a follower leg
// so they are not sent again until the master levels change.
func (l *Ledger) RejectFollowerLevels(key domain.PositionKey, follower string, levels domain.StopLevels) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		return
	}
	leg, ok := rec.Followers[follower]
	if !ok || (leg.Rejected != nil && leg.Rejected.Equal(levels)) {
		return
	}
	leg.Rejected = &levels
	rec.Followers[follower] = leg
	l.version++
}

// Len returns the number of tracked master positions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Version changes on every mutation.
func (l *Ledger) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// Snapshot returns a deep copy ordered by master account and ticket.
func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := State{
		Watermarks: maps.Clone(l.watermarks),
		Records:    make([]Record, 0, len(l.records)),
	}
	for _, rec := range l.records {
		st.Records = append(st.Records, rec.clone())
	}
	sort.Slice(st.Records, func(i, j int) bool {
		a, b := st.Records[i].Key, st.Records[j].Key
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		return a.Ticket < b.Ticket
	})
	return st
}

// Restore replaces the ledger content with st.
func (l *Ledger) Restore(st State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.watermarks = make(map[string]int64, len(st.Watermarks))
	for k, v := range st.Watermarks {
		l.watermarks[k] = v
	}
	l.records = make(map[domain.PositionKey]*Record, len(st.Records))
	for _, rec := range st.Records {
		r := rec.clone()
		if r.Followers == nil {
			r.Followers = make(map[string]FollowerLeg)
		}
		l.records[r.Key] = &r
	}
	l.version++
}
