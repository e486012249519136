// Package types holds the data model shared by the discovery subsystem and
// its consumers: socket records, the interface table and the local routing
// table. Everything here is built once per run and is read-only afterwards,
// except the socket pool which is drained by claim operations downstream.
package types

import (
	"fmt"
	"net/netip"
	"strings"
)

// Ino is a kernel socket inode. Unique per live socket, which is all we need
// for a single point-in-time snapshot.
type Ino = uint64

// Family tags the address family of a socket record. A socket bound on v6
// with IPV6_V6ONLY disabled accepts both families and is tagged FamilyBoth.
type Family uint8

const (
	FamilyV4 Family = iota
	FamilyV6
	FamilyBoth
)

func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "v4"
	case FamilyV6:
		return "v6"
	case FamilyBoth:
		return "*"
	}
	return fmt.Sprintf("family(%d)", uint8(f))
}

// Protocol tags the transport protocol of a socket record.
type Protocol uint8

const (
	TCP Protocol = iota
	UDP
	UDPLite
	Raw
	SCTP
	ICMP
)

func (p Protocol) String() string {
	switch p {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	case UDPLite:
		return "udplite"
	case Raw:
		return "raw"
	case SCTP:
		return "sctp"
	case ICMP:
		return "icmp"
	}
	return fmt.Sprintf("protocol(%d)", uint8(p))
}

// ParseProtocol turns a user-supplied protocol name into its tag.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(s) {
	case "tcp":
		return TCP, nil
	case "udp":
		return UDP, nil
	case "udplite", "udp-lite":
		return UDPLite, nil
	case "raw":
		return Raw, nil
	case "sctp":
		return SCTP, nil
	case "icmp":
		return ICMP, nil
	}
	return 0, fmt.Errorf("unknown protocol %q", s)
}

// SockInfo describes one listening socket as reported by the kernel.
// Iface is empty and IfaceID zero when the socket could not be attributed
// to an interface, neither directly nor through the routing table.
type SockInfo struct {
	Family   Family
	Protocol Protocol
	Port     uint16
	Addr     netip.Addr
	UID      uint32
	Ino      Ino
	IfaceID  uint32
	Iface    string
}

func (s *SockInfo) String() string {
	out := fmt.Sprintf(":%d %s %s %s", s.Port, s.Protocol, s.Family, s.Addr)
	if s.Iface != "" {
		out += fmt.Sprintf(" (%s)", s.Iface)
	}
	return out
}

// Compare orders socket records for display: by port, then protocol,
// address and family.
func (s *SockInfo) Compare(o *SockInfo) int {
	if s.Port != o.Port {
		if s.Port < o.Port {
			return -1
		}
		return 1
	}
	if s.Protocol != o.Protocol {
		if s.Protocol < o.Protocol {
			return -1
		}
		return 1
	}
	if c := s.Addr.Compare(o.Addr); c != 0 {
		return c
	}
	if s.Family != o.Family {
		if s.Family < o.Family {
			return -1
		}
		return 1
	}
	return 0
}

// Ifaces maps a kernel interface index to the interface name. Built once by
// the link dump and shared by reference; records keep the name string, never
// a copy of the table.
type Ifaces map[uint32]string

// TunnelPorts maps a tunnel's UDP listen port to the owning interface index.
type TunnelPorts map[uint16]uint32
