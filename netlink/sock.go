package netlink

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/josharian/native"
	"github.com/mdlayher/netlink/nlenc"

	"github.com/socktree/socktree/types"
)

var diagFamilies = []types.Family{types.FamilyV4, types.FamilyV6}

var diagProtocols = []types.Protocol{
	types.TCP,
	types.UDP,
	types.UDPLite,
	types.Raw,
	types.SCTP,
	types.ICMP,
}

// ListeningSockets enumerates bound sockets over sock_diag: one dump per
// (family, protocol) pair, all socket states, wildcard socket id. Records
// with a connected peer (non-zero destination port) are skipped.
//
// Kernels routinely lack diag support for some protocols (sctp_diag and
// friends are modules), so a kernel error reply for one pair is logged and
// skipped; only all pairs failing makes the query fail, which is what sends
// the caller to the procfs fallback.
func ListeningSockets(dial Dialer, ifaces types.Ifaces, routes *types.Rtbl) (map[types.Ino]*types.SockInfo, error) {
	c, err := dial(ProtoSockDiag)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	ret := map[types.Ino]*types.SockInfo{}
	dumped := 0
	var lastErr error
	for _, family := range diagFamilies {
		for _, proto := range diagProtocols {
			msgs, err := c.Execute(sockDiagByFamily, nlmDump, inetDiagReq(family, proto))
			if err != nil {
				slog.Warn("socket dump failed", "family", family, "protocol", proto, "err", err)
				lastErr = fmt.Errorf("dump %s %s sockets: %w", family, proto, err)
				continue
			}
			dumped++

			for _, m := range msgs {
				if m.Type != sockDiagByFamily {
					continue
				}
				si, err := parseInetDiag(m.Data, family, proto)
				if err != nil {
					return nil, err
				}
				if si == nil {
					continue
				}
				attribute(si, ifaces, routes)
				ret[si.Ino] = si
			}
		}
	}
	if dumped == 0 {
		return nil, lastErr
	}
	return ret, nil
}

// inetDiagReq builds an inet_diag_req_v2: requested family and protocol,
// every socket state, zeroed socket id so nothing is filtered out.
func inetDiagReq(family types.Family, proto types.Protocol) []byte {
	b := make([]byte, inetDiagReqLen)
	if family == types.FamilyV6 {
		b[0] = afInet6
	} else {
		b[0] = afInet
	}
	b[1] = ipproto(family, proto)
	nlenc.PutUint32(b[4:8], allSocketStates)
	return b
}

func ipproto(family types.Family, proto types.Protocol) uint8 {
	switch proto {
	case types.TCP:
		return ipprotoTCP
	case types.UDP:
		return ipprotoUDP
	case types.UDPLite:
		return ipprotoUDPLite
	case types.Raw:
		return ipprotoRaw
	case types.SCTP:
		return ipprotoSCTP
	case types.ICMP:
		if family == types.FamilyV6 {
			return ipprotoICMPv6
		}
		return ipprotoICMP
	}
	return 0
}

// parseInetDiag decodes one inet_diag_msg. A nil record without error means
// the socket has a connected peer and is of no interest here.
func parseInetDiag(data []byte, family types.Family, proto types.Protocol) (*types.SockInfo, error) {
	if len(data) < inetDiagMsgLen {
		return nil, fmt.Errorf("inet_diag message too short: %d bytes", len(data))
	}

	// struct inet_diag_msg: family, state, timer, retrans, then the socket
	// id (ports in network order, addresses, interface, cookie), then
	// expires/queues/uid/inode in host order.
	dstPort := binary.BigEndian.Uint16(data[6:8])
	if dstPort != 0 {
		return nil, nil
	}

	var addr [16]byte
	copy(addr[:], data[8:24])

	si := &types.SockInfo{
		Family:   family,
		Protocol: proto,
		Port:     binary.BigEndian.Uint16(data[4:6]),
		UID:      native.Endian.Uint32(data[64:68]),
		Ino:      types.Ino(native.Endian.Uint32(data[68:72])),
	}
	if data[0] == afInet6 {
		a, _ := addrFromBytes(addr[:])
		si.Addr = a
	} else {
		a, _ := addrFromBytes(addr[:4])
		si.Addr = a
	}
	ifindex := native.Endian.Uint32(data[40:44])
	si.IfaceID = ifindex

	ad, err := attrDecoder(data[inetDiagMsgLen:])
	if err != nil {
		return nil, err
	}
	for ad.Next() {
		// IPV6_V6ONLY explicitly disabled makes a v6 socket accept both
		// families, so the record is tagged dual-stack.
		if ad.Type() == inetDiagSkV6Only && ad.Uint8() == 0 {
			si.Family = types.FamilyBoth
		}
	}
	if err := ad.Err(); err != nil {
		return nil, fmt.Errorf("inet_diag attributes: %w", err)
	}

	return si, nil
}

// attribute resolves the owning interface: the record's own ifindex wins
// when it resolves, then a routing-table lookup on the source address, else
// the record stays unattributed.
func attribute(si *types.SockInfo, ifaces types.Ifaces, routes *types.Rtbl) {
	if name, ok := ifaces[si.IfaceID]; si.IfaceID != 0 && ok {
		si.Iface = name
		return
	}
	si.IfaceID = 0
	if id, ok := routes.Route(si.Addr); ok {
		if name, ok := ifaces[id]; ok {
			si.IfaceID = id
			si.Iface = name
		}
	}
}
