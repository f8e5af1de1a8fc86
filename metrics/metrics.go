// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package metrics defines a concurrently-accessible metrics collector.
//
// A *metrics.M value exports methods to track integer counters and maximum
// values. A metric has a caller-assigned string name that is not
// interpreted by the collector except to locate its stored value.
package metrics

import "sync"

// An M collects counters and maximum-value trackers. A nil *M is valid
// and discards all metrics. The methods of an *M are safe for concurrent
// use by multiple goroutines.
type M struct {
	mu      sync.Mutex
	counter map[string]int64
	maxVal  map[string]int64
}

// New creates a new, empty metrics collector.
func New() *M {
	return &M{
		counter: make(map[string]int64),
		maxVal:  make(map[string]int64),
	}
}

// Count adds n to the current value of the counter named, defining the
// counter if it does not already exist.
func (m *M) Count(name string, n int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter[name] += n
}

// SetMaxValue sets the maximum-value metric named to the greater of n and
// its current value, defining the metric if it does not already exist.
func (m *M) SetMaxValue(name string, n int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > m.maxVal[name] {
		m.maxVal[name] = n
	}
}

// CountAndSetMax adds n to the current value of the counter named, and
// updates a maximum-value tracker of the same name to the counter's new
// value if it is greater.
func (m *M) CountAndSetMax(name string, n int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter[name] += n
	if v := m.counter[name]; v > m.maxVal[name] {
		m.maxVal[name] = v
	}
}

// A Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	Counter  map[string]int64 `json:"counter,omitempty"`
	MaxValue map[string]int64 `json:"maxValue,omitempty"`
}

// Snapshot returns an atomic copy of the current metrics values. The
// snapshot of a nil *M is empty.
func (m *M) Snapshot() Snapshot {
	snap := Snapshot{
		Counter:  make(map[string]int64),
		MaxValue: make(map[string]int64),
	}
	if m == nil {
		return snap
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, v := range m.counter {
		snap.Counter[name] = v
	}
	for name, v := range m.maxVal {
		snap.MaxValue[name] = v
	}
	return snap
}
