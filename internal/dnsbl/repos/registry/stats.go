package registry

// Stats is a read-only view of one entry for operators.
type Stats struct {
	Host         string
	RejectReason string
	Hits         uint64
	Refs         int
	Retiring     bool
	Filters      int
}

// Stats lists every entry, retiring ones included, in registration order.
func (r *Registry) Stats() []Stats {
	out := make([]Stats, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		out = append(out, Stats{
			Host:         e.Host,
			RejectReason: e.RejectReason,
			Hits:         e.hits,
			Refs:         e.refs,
			Retiring:     e.retiring,
			Filters:      len(e.Filters),
		})
	}
	return out
}
