// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package visrpc

import (
	"encoding/json"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/visslink/visrpc/metrics"
)

// A conn is the registry's handle on one subscribing connection.
type conn interface {
	// notify delivers one published value for the given subscription id.
	notify(subID uint64, ts int64, value json.RawMessage) error
}

// A Registry records which connections subscribe to which signal paths,
// and fans published signal values out to them. A single Registry may be
// shared by all the server connections of a process; its methods are safe
// for concurrent use by multiple goroutines.
type Registry struct {
	log     Logger
	metrics *metrics.M

	mu     sync.Mutex
	nextID uint64 // the most recently assigned subscription id; ids begin at 1
	paths  map[string][]*subRecord
}

// A subRecord binds one subscription id to the connection that requested it.
type subRecord struct {
	conn  conn
	subID uint64
}

// NewRegistry creates a new, empty subscription registry.
func NewRegistry(opts *RegistryOptions) *Registry {
	return &Registry{
		log:     opts.logFunc(),
		metrics: opts.metrics(),
		paths:   make(map[string][]*subRecord),
	}
}

// subscribe records that c wants notifications for path and returns the id
// assigned to the subscription. Subscribing a connection to a path it
// already subscribes to returns the existing id without creating a new
// record.
func (r *Registry) subscribe(c conn, path string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.paths[path] {
		if rec.conn == c {
			return rec.subID
		}
	}
	r.nextID++
	r.paths[path] = append(r.paths[path], &subRecord{conn: c, subID: r.nextID})
	r.metrics.SetMaxValue("registry.subscribers", int64(r.totalRecords()))
	return r.nextID
}

// unregister removes all of c's subscription records across all paths.
// The server calls it when c's connection has closed.
func (r *Registry) unregister(c conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for path, recs := range r.paths {
		kept := recs[:0]
		for _, rec := range recs {
			if rec.conn != c {
				kept = append(kept, rec)
			}
		}
		if len(kept) == 0 {
			delete(r.paths, path)
		} else {
			r.paths[path] = kept
		}
	}
}

// Subscribers reports the number of active subscription records for path.
func (r *Registry) Subscribers(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths[path])
}

// Publish delivers value to every active subscriber of path, stamped with
// the given publication time in milliseconds since the Unix epoch, and
// reports the number of subscribers successfully notified. Subscribers
// whose connections fail are dropped from the registry.
func (r *Registry) Publish(path string, value any, ts int64) int {
	bits, err := json.Marshal(value)
	if err != nil {
		r.log.Printf("Discarding unencodable value for %s: %v", path, err)
		return 0
	}
	r.metrics.Count("registry.publishes", 1)

	r.mu.Lock()
	recs := make([]*subRecord, len(r.paths[path]))
	copy(recs, r.paths[path])
	r.mu.Unlock()

	// Deliver outside the lock: a notify may block on a slow connection,
	// and a closing connection may concurrently unregister itself.
	dead := mapset.New[*subRecord]()
	var sent int
	for _, rec := range recs {
		if err := rec.conn.notify(rec.subID, ts, bits); err != nil {
			r.log.Printf("Dropping subscriber %d for %s: %v", rec.subID, path, err)
			dead.Add(rec)
		} else {
			sent++
		}
	}
	if dead.Len() != 0 {
		r.metrics.Count("registry.dropped", int64(dead.Len()))
		r.mu.Lock()
		kept := r.paths[path][:0]
		for _, rec := range r.paths[path] {
			if !dead.Has(rec) {
				kept = append(kept, rec)
			}
		}
		if len(kept) == 0 {
			delete(r.paths, path)
		} else {
			r.paths[path] = kept
		}
		r.mu.Unlock()
	}
	return sent
}

// totalRecords reports the number of subscription records across all
// paths. The caller must hold r.mu.
func (r *Registry) totalRecords() int {
	var n int
	for _, recs := range r.paths {
		n += len(recs)
	}
	return n
}
