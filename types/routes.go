package types

import (
	"net/netip"
	"slices"
)

// Prefix is one local-route entry: a network prefix and the interface the
// kernel delivers it to.
type Prefix struct {
	Net   netip.Prefix
	Iface uint32
}

// Matches reports whether addr falls inside the prefix. Cross-family
// comparisons never match.
func (p Prefix) Matches(addr netip.Addr) bool {
	return p.Net.Contains(addr)
}

// Rtbl is the local routing table: prefixes ordered by descending bit
// length so that a linear scan yields the longest match first. Ties keep
// their discovery order.
type Rtbl struct {
	entries []Prefix
}

// NewRtbl builds a routing table from route-dump entries. The input order
// is preserved among prefixes of equal length.
func NewRtbl(entries []Prefix) *Rtbl {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b Prefix) int {
		return b.Net.Bits() - a.Net.Bits()
	})
	return &Rtbl{entries: sorted}
}

// Route returns the interface owning the longest prefix containing addr.
func (r *Rtbl) Route(addr netip.Addr) (uint32, bool) {
	if r == nil {
		return 0, false
	}
	for _, e := range r.entries {
		if e.Net.Contains(addr) {
			return e.Iface, true
		}
	}
	return 0, false
}

// ForIface returns the prefixes delivered to the given interface. Filter
// construction uses this to translate an interface name into address
// prefixes.
func (r *Rtbl) ForIface(iface uint32) []Prefix {
	if r == nil {
		return nil
	}
	var out []Prefix
	for _, e := range r.entries {
		if e.Iface == iface {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns the table in match order, longest prefixes first.
func (r *Rtbl) Entries() []Prefix {
	if r == nil {
		return nil
	}
	return r.entries
}

// Len reports the number of entries in the table.
func (r *Rtbl) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}
