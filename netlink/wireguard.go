package netlink

import (
	"fmt"

	mdnl "github.com/mdlayher/netlink"

	"github.com/socktree/socktree/types"
)

// TunnelListenPorts resolves the UDP listen port of each wireguard
// interface through generic netlink: one control request to resolve the
// family id by name, then one per-device dump per interface.
//
// An empty id list short-circuits without opening a socket. Port collisions
// between interfaces keep the first discovered entry (the ids are visited
// in the caller's order, so the outcome is deterministic).
func TunnelListenPorts(dial Dialer, ids []uint32) (types.TunnelPorts, error) {
	ports := types.TunnelPorts{}
	if len(ids) == 0 {
		return ports, nil
	}

	c, err := dial(ProtoGeneric)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	family, err := resolveFamily(c, wgFamilyName)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		if err := devicePort(c, family, id, ports); err != nil {
			return nil, fmt.Errorf("wireguard device %d: %w", id, err)
		}
	}
	return ports, nil
}

// resolveFamily asks the generic netlink controller for a family id by
// name. A missing family means the wireguard module is not loaded, which
// is fatal for this query only.
func resolveFamily(c *Conn, name string) (uint16, error) {
	ae := mdnl.NewAttributeEncoder()
	ae.String(ctrlAttrFamilyName, name)
	attrs, err := ae.Encode()
	if err != nil {
		return 0, fmt.Errorf("encode family name: %w", err)
	}

	msgs, err := c.Execute(genlIDCtrl, nlmAck, append(genlHeader(ctrlCmdGetFamily), attrs...))
	if err != nil {
		return 0, fmt.Errorf("resolve %q family: %w", name, err)
	}

	for _, m := range msgs {
		if len(m.Data) < genlHdrLen {
			continue
		}
		ad, err := attrDecoder(m.Data[genlHdrLen:])
		if err != nil {
			return 0, err
		}
		for ad.Next() {
			if ad.Type() == ctrlAttrFamilyID {
				return ad.Uint16(), nil
			}
		}
		if err := ad.Err(); err != nil {
			return 0, fmt.Errorf("family attributes: %w", err)
		}
	}
	return 0, fmt.Errorf("netlink family %q not found", name)
}

func devicePort(c *Conn, family uint16, id uint32, ports types.TunnelPorts) error {
	ae := mdnl.NewAttributeEncoder()
	ae.Uint32(wgDeviceAIfindex, id)
	attrs, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("encode ifindex: %w", err)
	}

	msgs, err := c.Execute(family, nlmDump|nlmAck, append(genlHeader(wgCmdGetDevice), attrs...))
	if err != nil {
		return err
	}

	for _, m := range msgs {
		if m.Type != family || len(m.Data) < genlHdrLen {
			continue
		}
		ad, err := attrDecoder(m.Data[genlHdrLen:])
		if err != nil {
			return err
		}
		for ad.Next() {
			if ad.Type() == wgDeviceAListenPort {
				if port := ad.Uint16(); port != 0 {
					addTunnelPort(ports, port, id)
				}
			}
		}
		if err := ad.Err(); err != nil {
			return fmt.Errorf("device attributes: %w", err)
		}
	}
	return nil
}
