package render

import (
	"fmt"
	"maps"
	"net/netip"
	"slices"
	"strconv"

	"github.com/socktree/socktree/filter"
	"github.com/socktree/socktree/procs"
	"github.com/socktree/socktree/registry"
	"github.com/socktree/socktree/types"
)

// Build assembles the display tree: one node per process, one per tunnel
// interface, then per-uid nodes for sockets no process claimed. With
// process-scoped filters active the unassigned section is omitted
// entirely; the caller is responsible for warning about it.
func Build(ps []procs.Desc, tunnels map[uint32][]*types.SockInfo, ifaces types.Ifaces, unassigned []registry.UserSockets, users *procs.UserCache, f *filter.Filters) *Tree {
	t := &Tree{}

	for _, pd := range ps {
		if !f.AcceptProcess(pd) {
			continue
		}
		label := fmt.Sprintf("pid %d user %s", pd.PID, pd.User)
		if pd.Name != "" {
			label = fmt.Sprintf("%s (%s)", pd.Name, label)
		}
		t.Node(label, socketsTree(pd.Socks, f))
	}

	for _, id := range slices.Sorted(maps.Keys(tunnels)) {
		name, ok := ifaces[id]
		if !ok {
			name = fmt.Sprintf("iface %d", id)
		}
		t.Node(name+" (tunnel)", socketsTree(tunnels[id], f))
	}

	if !f.ProcessScoped() {
		for _, u := range unassigned {
			if !f.AcceptUID(u.UID) {
				continue
			}
			t.Node("??? (user "+userName(users, u.UID)+")", socketsTree(u.Socks, f))
		}
	}
	return t
}

func userName(users *procs.UserCache, uid uint32) string {
	if users == nil {
		return strconv.FormatUint(uint64(uid), 10)
	}
	return users.Name(uid)
}

// socketsTree groups one owner's sockets by port and protocol. A group
// holding exactly the v4 and v6 wildcard binds collapses to a single
// "0.0.0.0 + ::" leaf.
func socketsTree(socks []*types.SockInfo, f *filter.Filters) Tree {
	type key struct {
		port  uint16
		proto types.Protocol
	}
	groups := map[key][]*types.SockInfo{}
	var order []key
	for _, s := range socks {
		k := key{s.Port, s.Protocol}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], s)
	}

	var out Tree
	for _, k := range order {
		if !f.AcceptPort(k.port) || !f.AcceptProto(k.proto) {
			continue
		}
		var sub Tree
		if wildcardPair(groups[k]) {
			sub.Leaf("0.0.0.0 + ::")
		} else {
			for _, s := range groups[k] {
				if !f.AcceptAddr(s.Addr) {
					continue
				}
				switch {
				case s.Family == types.FamilyBoth:
					sub.Leaf("*")
				case s.Iface != "":
					sub.Leaf(fmt.Sprintf("%s (%s)", s.Addr, s.Iface))
				default:
					sub.Leaf(s.Addr.String())
				}
			}
		}
		out.Node(fmt.Sprintf(":%d %s", k.port, k.proto), sub)
	}
	return out
}

func wildcardPair(socks []*types.SockInfo) bool {
	if len(socks) != 2 {
		return false
	}
	a, b := socks[0].Addr, socks[1].Addr
	if a.Is6() {
		a, b = b, a
	}
	return a == netip.IPv4Unspecified() && b == netip.IPv6Unspecified()
}
