package netlink

import (
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/josharian/native"
	mdnl "github.com/mdlayher/netlink"

	"github.com/socktree/socktree/types"
)

// LinkInfo is the outcome of the link dump: the interface-name table,
// the tunnel interfaces whose listen port must be fetched over generic
// netlink (wireguard), and the ports that were embedded directly in link
// attributes (vxlan, geneve).
type LinkInfo struct {
	Ifaces      types.Ifaces
	Wireguard   []uint32
	TunnelPorts types.TunnelPorts
}

// InterfacesAndRoutes issues the link dump and the local-route dump over a
// single route socket and returns the interface table together with the
// local routing table.
func InterfacesAndRoutes(dial Dialer) (*LinkInfo, *types.Rtbl, error) {
	c, err := dial(ProtoRoute)
	if err != nil {
		return nil, nil, err
	}
	defer c.Close()

	li, err := interfaces(c)
	if err != nil {
		return nil, nil, err
	}
	rt, err := localRoutes(c)
	if err != nil {
		return nil, nil, err
	}
	return li, rt, nil
}

func interfaces(c *Conn) (*LinkInfo, error) {
	msgs, err := c.Execute(rtmGetLink, nlmDump, make([]byte, ifInfomsgLen))
	if err != nil {
		return nil, fmt.Errorf("link dump: %w", err)
	}

	li := &LinkInfo{Ifaces: types.Ifaces{}, TunnelPorts: types.TunnelPorts{}}
	for _, m := range msgs {
		if m.Type != rtmNewLink {
			continue
		}
		if err := li.addLink(m.Data); err != nil {
			return nil, err
		}
	}
	return li, nil
}

func (li *LinkInfo) addLink(data []byte) error {
	if len(data) < ifInfomsgLen {
		return fmt.Errorf("link message too short: %d bytes", len(data))
	}
	index := native.Endian.Uint32(data[4:8])

	ad, err := attrDecoder(data[ifInfomsgLen:])
	if err != nil {
		return err
	}

	var name, kind string
	var infoData []byte
	for ad.Next() {
		switch ad.Type() {
		case iflaIfname:
			name = ad.String()
		case iflaLinkinfo:
			ad.Nested(func(nad *mdnl.AttributeDecoder) error {
				for nad.Next() {
					switch nad.Type() {
					case iflaInfoKind:
						kind = nad.String()
					case iflaInfoData:
						infoData = nad.Bytes()
					}
				}
				return nil
			})
		}
	}
	if err := ad.Err(); err != nil {
		return fmt.Errorf("link attributes: %w", err)
	}

	if name != "" {
		li.Ifaces[index] = name
	}

	switch kind {
	case kindWireguard:
		// No port in link attributes; needs the generic netlink query.
		li.Wireguard = append(li.Wireguard, index)
	case kindVxlan:
		return li.embeddedPort(index, infoData, iflaVxlanPort)
	case kindGeneve:
		return li.embeddedPort(index, infoData, iflaGenevePort)
	}
	return nil
}

func (li *LinkInfo) embeddedPort(index uint32, infoData []byte, attr uint16) error {
	if len(infoData) == 0 {
		return nil
	}
	ad, err := attrDecoder(infoData)
	if err != nil {
		return err
	}
	for ad.Next() {
		if ad.Type() != attr {
			continue
		}
		port, err := be16(ad.Bytes())
		if err != nil {
			return fmt.Errorf("tunnel port attribute: %w", err)
		}
		if port != 0 {
			addTunnelPort(li.TunnelPorts, port, index)
		}
	}
	if err := ad.Err(); err != nil {
		return fmt.Errorf("tunnel attributes: %w", err)
	}
	return nil
}

// addTunnelPort inserts a (port, interface) pair. On a collision the first
// discovered interface wins; the loser is reported so the output's tunnel
// attribution can be read with appropriate suspicion.
func addTunnelPort(tp types.TunnelPorts, port uint16, iface uint32) {
	if prev, ok := tp[port]; ok && prev != iface {
		slog.Warn("tunnel interfaces listen on the same port, keeping the first",
			"port", port, "kept", prev, "dropped", iface)
		return
	}
	tp[port] = iface
}

func localRoutes(c *Conn) (*types.Rtbl, error) {
	payload := make([]byte, rtMsgLen)
	payload[0] = afUnspec
	payload[4] = rtTableLocal
	msgs, err := c.Execute(rtmGetRoute, nlmDump, payload)
	if err != nil {
		return nil, fmt.Errorf("route dump: %w", err)
	}

	var entries []types.Prefix
	for _, m := range msgs {
		if m.Type != rtmNewRoute {
			continue
		}
		e, ok, err := parseLocalRoute(m.Data)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, e)
		}
	}
	return types.NewRtbl(entries), nil
}

// parseLocalRoute extracts (prefix, interface) from an RTM_NEWROUTE message,
// keeping only entries the kernel marks local in both table and route type.
func parseLocalRoute(data []byte) (types.Prefix, bool, error) {
	if len(data) < rtMsgLen {
		return types.Prefix{}, false, fmt.Errorf("route message too short: %d bytes", len(data))
	}
	dstLen := int(data[1])
	if data[4] != rtTableLocal || data[7] != rtnLocal {
		return types.Prefix{}, false, nil
	}

	ad, err := attrDecoder(data[rtMsgLen:])
	if err != nil {
		return types.Prefix{}, false, err
	}

	var dst netip.Addr
	var oif uint32
	for ad.Next() {
		switch ad.Type() {
		case rtaDst:
			a, err := addrFromBytes(ad.Bytes())
			if err != nil {
				return types.Prefix{}, false, fmt.Errorf("route destination: %w", err)
			}
			dst = a
		case rtaOIF:
			oif = ad.Uint32()
		}
	}
	if err := ad.Err(); err != nil {
		return types.Prefix{}, false, fmt.Errorf("route attributes: %w", err)
	}

	if !dst.IsValid() || oif == 0 {
		return types.Prefix{}, false, nil
	}
	pfx, err := dst.Prefix(dstLen)
	if err != nil {
		return types.Prefix{}, false, fmt.Errorf("route prefix /%d for %s: %w", dstLen, dst, err)
	}
	return types.Prefix{Net: pfx, Iface: oif}, true, nil
}
