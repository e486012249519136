package netlink

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	mdnl "github.com/mdlayher/netlink"
)

func attrDecoder(b []byte) (*mdnl.AttributeDecoder, error) {
	ad, err := mdnl.NewAttributeDecoder(b)
	if err != nil {
		return nil, fmt.Errorf("could not decode netlink attributes: %w", err)
	}
	return ad, nil
}

// be16 reads a network-order port attribute. vxlan and geneve store their
// ports as __be16 in IFLA_INFO_DATA.
func be16(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("attribute too short for a port: %d bytes", len(b))
	}
	return binary.BigEndian.Uint16(b[:2]), nil
}

// addrFromBytes maps a raw netlink address payload onto an address. Only
// 4 and 16 byte payloads are legal; the kernel must not produce anything
// else, so any other length is a decode error.
func addrFromBytes(b []byte) (netip.Addr, error) {
	switch len(b) {
	case 4:
		return netip.AddrFrom4([4]byte(b)), nil
	case 16:
		return netip.AddrFrom16([16]byte(b)), nil
	}
	return netip.Addr{}, fmt.Errorf("unexpected address length %d", len(b))
}

// genlHeader builds a generic netlink header for the given command.
func genlHeader(cmd uint8) []byte {
	return []byte{cmd, 1, 0, 0} // cmd, version, reserved
}
