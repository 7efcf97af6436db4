// Package keyedmap provides a two-level ordered map keyed first by a browser
// identifier and then by a per-browser key.
//
// Lookups and bulk scans are driven by a Visitor that decides, per entry,
// whether to keep or remove it and whether to keep iterating. Bulk scans
// iterate over snapshots of the key lists so visitors may remove entries
// while the scan is in progress. Browsers whose table becomes empty are
// pruned.
//
// Map is not safe for concurrent use; the routers guard it with their own
// lock.
package keyedmap

import (
	"cmp"
	"maps"
	"slices"
)

// Verdict is returned by a Visitor for each visited entry.
type Verdict struct {
	Remove bool // remove the entry from the map
	Stop   bool // stop iterating after this entry
}

var (
	Keep          = Verdict{}
	Remove        = Verdict{Remove: true}
	KeepAndStop   = Verdict{Stop: true}
	RemoveAndStop = Verdict{Remove: true, Stop: true}
)

// Visitor inspects one entry.
type Visitor[K cmp.Ordered, V any] func(browserID int32, key K, value V) Verdict

// Map is an ordered browser -> key -> value table.
type Map[K cmp.Ordered, V any] struct {
	browsers map[int32]map[K]V
}

// New creates an empty map.
func New[K cmp.Ordered, V any]() *Map[K, V] {
	return &Map[K, V]{browsers: make(map[int32]map[K]V)}
}

// Insert adds or replaces the value stored for (browserID, key).
func (m *Map[K, V]) Insert(browserID int32, key K, value V) {
	entries, ok := m.browsers[browserID]
	if !ok {
		entries = make(map[K]V)
		m.browsers[browserID] = entries
	}
	entries[key] = value
}

// Find returns the value stored for (browserID, key). If visitor is non-nil it
// is invoked with the value and may remove it; the removed value is still
// returned.
func (m *Map[K, V]) Find(browserID int32, key K, visitor Visitor[K, V]) (V, bool) {
	var zero V
	entries, ok := m.browsers[browserID]
	if !ok {
		return zero, false
	}
	value, ok := entries[key]
	if !ok {
		return zero, false
	}

	if visitor != nil && visitor(browserID, key, value).Remove {
		delete(entries, key)
		if len(entries) == 0 {
			delete(m.browsers, browserID)
		}
	}
	return value, true
}

// FindAll visits every entry of every browser in ascending order.
func (m *Map[K, V]) FindAll(visitor Visitor[K, V]) {
	for _, browserID := range slices.Sorted(maps.Keys(m.browsers)) {
		if m.visitBrowser(browserID, visitor) {
			return
		}
	}
}

// FindInBrowser visits every entry of one browser in ascending key order. An
// unknown browser is a no-op.
func (m *Map[K, V]) FindInBrowser(browserID int32, visitor Visitor[K, V]) {
	m.visitBrowser(browserID, visitor)
}

// visitBrowser reports whether the visitor asked to stop.
func (m *Map[K, V]) visitBrowser(browserID int32, visitor Visitor[K, V]) bool {
	entries, ok := m.browsers[browserID]
	if !ok {
		return false
	}

	stopped := false
	var removed []K
	for _, key := range slices.Sorted(maps.Keys(entries)) {
		value, ok := entries[key]
		if !ok {
			continue
		}
		verdict := visitor(browserID, key, value)
		if verdict.Remove {
			removed = append(removed, key)
		}
		if verdict.Stop {
			stopped = true
			break
		}
	}

	for _, key := range removed {
		delete(entries, key)
	}
	if len(entries) == 0 {
		delete(m.browsers, browserID)
	}
	return stopped
}

// Empty reports whether the map holds no entries.
func (m *Map[K, V]) Empty() bool {
	return len(m.browsers) == 0
}

// Len returns the number of entries across all browsers.
func (m *Map[K, V]) Len() int {
	n := 0
	for _, entries := range m.browsers {
		n += len(entries)
	}
	return n
}

// BrowserLen returns the number of entries stored for one browser.
func (m *Map[K, V]) BrowserLen(browserID int32) int {
	return len(m.browsers[browserID])
}

// Clear removes every entry.
func (m *Map[K, V]) Clear() {
	clear(m.browsers)
}
