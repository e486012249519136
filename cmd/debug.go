package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/socktree/socktree/netlink"
)

// Debugging aids: dump the raw discovery output without the rest of the
// pipeline.
var (
	interfacesCmd = &cobra.Command{
		Use:   "interfaces",
		Short: "Dump the discovered interfaces and tunnel ports.",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := setup()
			if err != nil {
				return err
			}
			dial := dialer(conf)

			li, _, err := netlink.InterfacesAndRoutes(dial)
			if err != nil {
				return fmt.Errorf("link dump failed: %w", err)
			}
			for _, id := range slices.Sorted(maps.Keys(li.Ifaces)) {
				fmt.Printf("%3d %s\n", id, li.Ifaces[id])
			}

			if wg, err := netlink.TunnelListenPorts(dial, li.Wireguard); err != nil {
				fmt.Printf("tunnel device query failed: %v\n", err)
			} else {
				maps.Copy(li.TunnelPorts, wg)
			}
			for _, port := range slices.Sorted(maps.Keys(li.TunnelPorts)) {
				id := li.TunnelPorts[port]
				fmt.Printf("tunnel port %d -> %d (%s)\n", port, id, li.Ifaces[id])
			}
			return nil
		},
	}

	routesCmd = &cobra.Command{
		Use:   "routes",
		Short: "Dump the local routing table in match order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := setup()
			if err != nil {
				return err
			}

			li, routes, err := netlink.InterfacesAndRoutes(dialer(conf))
			if err != nil {
				return fmt.Errorf("route dump failed: %w", err)
			}
			for _, e := range routes.Entries() {
				fmt.Printf("%-24s %d (%s)\n", e.Net, e.Iface, li.Ifaces[e.Iface])
			}
			return nil
		},
	}
)
