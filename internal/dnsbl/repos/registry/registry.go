// Package registry owns the configured DNSBL entries and their lifetimes.
//
// Every in-flight lookup holds a counted reference to the entry it queries.
// An entry removed by reconfiguration is only marked retiring; it is deleted
// once the last reference is released, so a lookup can never observe a freed
// entry. The registry is not safe for concurrent use: the screening service
// serialises all access.
package registry

import (
	"iter"
	"time"

	"github.com/haukened/rr-dnsbl/internal/dnsbl/common/utils"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/domain"
)

// ID is a stable handle for an entry. IDs are never reused.
type ID uint64

// Entry is the canonical runtime instance of a configured blacklist.
type Entry struct {
	domain.Blacklist

	id          ID
	refs        int
	retiring    bool
	configured  bool
	hits        uint64
	lastWarning time.Time
}

func (e *Entry) ID() ID                 { return e.id }
func (e *Entry) Refs() int              { return e.refs }
func (e *Entry) Retiring() bool         { return e.retiring }
func (e *Entry) Hits() uint64           { return e.hits }
func (e *Entry) LastWarning() time.Time { return e.lastWarning }

// SetLastWarning records when a garbage-reply warning was last emitted.
func (e *Entry) SetLastWarning(t time.Time) {
	e.lastWarning = t
}

// Hit counts one positive reply from this list.
func (e *Entry) Hit() { e.hits++ }

// Registry is an arena of entries keyed by ID, remembering registration order.
type Registry struct {
	entries map[ID]*Entry
	byHost  map[string]ID
	order   []ID
	nextID  ID
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make(map[ID]*Entry),
		byHost:  make(map[string]ID),
	}
}

// Upsert installs def. An existing entry with the same host (compared
// case-insensitively) is updated in place: it keeps its ID and its reference
// count, so lookups already in flight see the new filters when they complete.
func (r *Registry) Upsert(def domain.Blacklist) *Entry {
	def.Host = utils.CanonicalDNSName(def.Host)
	def.Filters = append([]domain.Filter(nil), def.Filters...)

	if id, ok := r.byHost[def.Host]; ok {
		e := r.entries[id]
		e.Blacklist = def
		e.retiring = false
		e.configured = true
		e.lastWarning = time.Time{}
		return e
	}

	r.nextID++
	e := &Entry{Blacklist: def, id: r.nextID, configured: true}
	r.entries[e.id] = e
	r.byHost[def.Host] = e.id
	r.order = append(r.order, e.id)
	return e
}

// RetireUnconfigured retires every entry not upserted since the previous
// call and returns how many were retired. Unreferenced ones are deleted now,
// the rest when their last reference is released.
func (r *Registry) RetireUnconfigured() int {
	retired := 0
	for _, id := range append([]ID(nil), r.order...) {
		e := r.entries[id]
		if e.configured {
			e.configured = false
			continue
		}
		if !e.retiring {
			e.retiring = true
			retired++
		}
		if e.refs <= 0 {
			r.delete(e)
		}
	}
	return retired
}

// Active returns a snapshot of the non-retiring entries in registration
// order. The snapshot is taken when Active is called; ranging over it any
// number of times yields the same entries regardless of later changes.
func (r *Registry) Active() iter.Seq[*Entry] {
	snapshot := make([]*Entry, 0, len(r.order))
	for _, id := range r.order {
		if e := r.entries[id]; !e.retiring {
			snapshot = append(snapshot, e)
		}
	}
	return func(yield func(*Entry) bool) {
		for _, e := range snapshot {
			if !yield(e) {
				return
			}
		}
	}
}

// Get returns the live entry for id.
func (r *Registry) Get(id ID) (*Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Lookup finds an entry by host.
func (r *Registry) Lookup(host string) (*Entry, bool) {
	id, ok := r.byHost[utils.CanonicalDNSName(host)]
	if !ok {
		return nil, false
	}
	return r.entries[id], true
}

// Retain takes a reference on id.
func (r *Registry) Retain(id ID) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.refs++
	return true
}

// Release drops a reference on id and deletes the entry if it is retiring
// and no references remain. It reports whether the entry was deleted.
func (r *Registry) Release(id ID) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.refs--
	if e.retiring && e.refs <= 0 {
		r.delete(e)
		return true
	}
	return false
}

// Destroy tears the registry down for shutdown. Hit counters are reset;
// referenced entries are retired, the rest deleted.
func (r *Registry) Destroy() {
	for _, id := range append([]ID(nil), r.order...) {
		e := r.entries[id]
		e.hits = 0
		if e.refs > 0 {
			e.retiring = true
			continue
		}
		r.delete(e)
	}
}

// Len returns the number of entries, retiring ones included.
func (r *Registry) Len() int {
	return len(r.entries)
}

func (r *Registry) delete(e *Entry) {
	delete(r.entries, e.id)
	if r.byHost[e.Host] == e.id {
		delete(r.byHost, e.Host)
	}
	for i, id := range r.order {
		if id == e.id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	e.Filters = nil
}
