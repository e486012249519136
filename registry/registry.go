// Package registry owns the pool of discovered sockets between discovery
// and display. Tunnel reclassification happens at construction, before any
// process correlation can claim a record, so tunnel attribution wins by
// construction rather than by call order.
package registry

import (
	"slices"

	"github.com/socktree/socktree/types"
)

// Registry is the claimable socket pool plus the per-interface buckets of
// tunnel-owned sockets. Each record is handed out at most once: claiming
// removes it from the pool.
type Registry struct {
	pool    map[types.Ino]*types.SockInfo
	tunnels map[uint32][]*types.SockInfo
}

// New takes ownership of the discovered socket map. Records whose source
// port matches a tunnel listen port leave the general pool immediately and
// land in the bucket of the owning interface.
func New(socks map[types.Ino]*types.SockInfo, tunnelPorts types.TunnelPorts, ifaces types.Ifaces) *Registry {
	r := &Registry{
		pool:    socks,
		tunnels: map[uint32][]*types.SockInfo{},
	}
	if r.pool == nil {
		r.pool = map[types.Ino]*types.SockInfo{}
	}

	for ino, s := range r.pool {
		id, ok := tunnelPorts[s.Port]
		if !ok {
			continue
		}
		delete(r.pool, ino)
		s.IfaceID = id
		if name, ok := ifaces[id]; ok {
			s.Iface = name
		}
		r.tunnels[id] = append(r.tunnels[id], s)
	}
	for _, bucket := range r.tunnels {
		slices.SortFunc(bucket, (*types.SockInfo).Compare)
	}
	return r
}

// Claim removes the record with the given inode from the pool and returns
// it. A second claim of the same inode misses.
func (r *Registry) Claim(ino types.Ino) (*types.SockInfo, bool) {
	s, ok := r.pool[ino]
	if ok {
		delete(r.pool, ino)
	}
	return s, ok
}

// Len reports how many records are still unclaimed.
func (r *Registry) Len() int {
	return len(r.pool)
}

// Tunnels returns the tunnel-owned buckets keyed by interface index.
func (r *Registry) Tunnels() map[uint32][]*types.SockInfo {
	return r.tunnels
}

// UserSockets groups never-claimed records by their owning uid for the
// "unassigned" section of the output.
type UserSockets struct {
	UID   uint32
	Socks []*types.SockInfo
}

// Unassigned drains the remaining pool into per-uid groups, sorted by uid
// with each group's sockets in display order.
func (r *Registry) Unassigned() []UserSockets {
	byUID := map[uint32][]*types.SockInfo{}
	for _, s := range r.pool {
		byUID[s.UID] = append(byUID[s.UID], s)
	}

	out := make([]UserSockets, 0, len(byUID))
	for uid, socks := range byUID {
		slices.SortFunc(socks, (*types.SockInfo).Compare)
		out = append(out, UserSockets{UID: uid, Socks: socks})
	}
	slices.SortFunc(out, func(a, b UserSockets) int {
		return int(int64(a.UID) - int64(b.UID))
	})
	return out
}
