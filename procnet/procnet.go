// Package procnet is the fallback discovery path: when the sock_diag
// netlink query cannot run, the four textual connection tables under
// /proc/net are parsed instead. The result is narrower than the netlink
// one: TCP and UDP only, and no direct device binding, so interface
// attribution relies entirely on the routing table and tunnel
// reclassification never applies.
package procnet

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/prometheus/procfs"

	"github.com/socktree/socktree/types"
)

// AllSockets rebuilds the listening-socket map from /proc/net. Each table
// parses independently: one readable table is enough for a result, with a
// warning per unreadable table; only all four failing is an error.
func AllSockets(procRoot string, ifaces types.Ifaces, routes *types.Rtbl) (map[types.Ino]*types.SockInfo, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("could not open procfs at %q: %w", procRoot, err)
	}

	tables := []struct {
		name   string
		family types.Family
		proto  types.Protocol
		read   func() (procfs.NetIPSocket, error)
	}{
		{"udp6", types.FamilyV6, types.UDP, func() (procfs.NetIPSocket, error) { l, err := fs.NetUDP6(); return procfs.NetIPSocket(l), err }},
		{"tcp6", types.FamilyV6, types.TCP, func() (procfs.NetIPSocket, error) { l, err := fs.NetTCP6(); return procfs.NetIPSocket(l), err }},
		{"udp", types.FamilyV4, types.UDP, func() (procfs.NetIPSocket, error) { l, err := fs.NetUDP(); return procfs.NetIPSocket(l), err }},
		{"tcp", types.FamilyV4, types.TCP, func() (procfs.NetIPSocket, error) { l, err := fs.NetTCP(); return procfs.NetIPSocket(l), err }},
	}

	ret := map[types.Ino]*types.SockInfo{}
	var errs []error
	for _, tbl := range tables {
		entries, err := tbl.read()
		if err != nil {
			slog.Warn("could not parse connection table", "table", tbl.name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", tbl.name, err))
			continue
		}

		for _, l := range entries {
			// A non-zero remote port means a connected peer.
			if l.RemPort != 0 {
				continue
			}
			addr, ok := netip.AddrFromSlice(l.LocalAddr)
			if !ok {
				continue
			}
			si := &types.SockInfo{
				Family:   tbl.family,
				Protocol: tbl.proto,
				Port:     uint16(l.LocalPort),
				Addr:     addr,
				UID:      uint32(l.UID),
				Ino:      l.Inode,
			}
			if id, ok := routes.Route(addr); ok {
				if name, ok := ifaces[id]; ok {
					si.IfaceID = id
					si.Iface = name
				}
			}
			ret[si.Ino] = si
		}
	}

	if len(errs) == len(tables) {
		return nil, fmt.Errorf("no connection table could be parsed: %w", errors.Join(errs...))
	}
	return ret, nil
}
