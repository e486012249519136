package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/socktree/socktree/filter"
	"github.com/socktree/socktree/netlink"
	"github.com/socktree/socktree/procnet"
	"github.com/socktree/socktree/procs"
	"github.com/socktree/socktree/registry"
	"github.com/socktree/socktree/render"
	"github.com/socktree/socktree/settings"
	"github.com/socktree/socktree/types"
)

func dialer(conf *settings.Config) netlink.Dialer {
	return func(protocol int) (*netlink.Conn, error) {
		return netlink.DialConfig(protocol, conf.Netlink())
	}
}

// run drives the whole pipeline: link/route discovery, tunnel ports,
// socket enumeration (netlink first, /proc/net as fallback), process
// correlation, filtering, rendering.
func run(conf *settings.Config) error {
	dial := dialer(conf)

	li, routes := discoverLinks(dial)

	flt, err := filter.Build(filter.Flags{
		Ports:  portsFlag,
		Addrs:  addrsFlag,
		Ifaces: ifacesFlag,
		Protos: protosFlag,
		PIDs:   pidsFlag,
		Cmds:   cmdsFlag,
		Users:  usersFlag,
		Self:   selfFlag,
	}, li.Ifaces, routes)
	if err != nil {
		return err
	}

	tunnelPorts := li.TunnelPorts
	if wg, err := netlink.TunnelListenPorts(dial, li.Wireguard); err != nil {
		slog.Warn("tunnel device query failed", "err", err)
	} else {
		mergeTunnelPorts(tunnelPorts, wg)
	}

	socks, err := netlink.ListeningSockets(dial, li.Ifaces, routes)
	if err != nil {
		slog.Warn("socket diagnostics unavailable, falling back to /proc/net", "err", err)
		fallback, ferr := procnet.AllSockets(conf.ProcRoot, li.Ifaces, routes)
		if ferr != nil {
			return fmt.Errorf("could not list sockets: %w", errors.Join(err, ferr))
		}
		socks = fallback
		// No device binding in fallback mode, so no tunnel attribution
		// either.
		tunnelPorts = types.TunnelPorts{}
	}

	reg := registry.New(socks, tunnelPorts, li.Ifaces)

	users := procs.NewUserCache()
	ps, err := procs.List(conf.ProcRoot, reg, users)
	if err != nil {
		slog.Warn("could not inspect processes, sockets will show as unassigned", "err", err)
	}

	if flt.ProcessScoped() && reg.Len() > 0 {
		slog.Warn("some listening sockets are hidden",
			"count", reg.Len(),
			"reason", "sockets without a process cannot match process filters")
	}

	tree := render.Build(ps, reg.Tunnels(), li.Ifaces, reg.Unassigned(), users, flt)

	out := bufio.NewWriter(os.Stdout)
	tree.Render(out, render.ResolveOptions(conf.Color))
	return out.Flush()
}

// discoverLinks degrades silently: without link/route data ports still
// display, just with no interface context.
func discoverLinks(dial netlink.Dialer) (*netlink.LinkInfo, *types.Rtbl) {
	li, routes, err := netlink.InterfacesAndRoutes(dial)
	if err != nil {
		slog.Debug("link and route discovery unavailable", "err", err)
		return &netlink.LinkInfo{
			Ifaces:      types.Ifaces{},
			TunnelPorts: types.TunnelPorts{},
		}, nil
	}
	return li, routes
}

// mergeTunnelPorts folds the wireguard ports into the link-derived map.
// First discovered wins, same as during the link dump.
func mergeTunnelPorts(dst, src types.TunnelPorts) {
	for port, iface := range src {
		if prev, ok := dst[port]; ok && prev != iface {
			slog.Warn("tunnel interfaces listen on the same port, keeping the first",
				"port", port, "kept", prev, "dropped", iface)
			continue
		}
		dst[port] = iface
	}
}
