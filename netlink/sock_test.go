package netlink

import (
	"encoding/binary"
	"net/netip"
	"syscall"
	"testing"

	"github.com/josharian/native"
	mdnl "github.com/mdlayher/netlink"

	"github.com/socktree/socktree/types"
)

type diagSock struct {
	family  byte
	sport   uint16
	dport   uint16
	addr    netip.Addr
	ifindex uint32
	uid     uint32
	ino     uint32
	attrs   []byte
}

func (d diagSock) encode() []byte {
	b := make([]byte, inetDiagMsgLen)
	b[0] = d.family
	binary.BigEndian.PutUint16(b[4:6], d.sport)
	binary.BigEndian.PutUint16(b[6:8], d.dport)
	if d.addr.IsValid() {
		copy(b[8:24], d.addr.AsSlice())
	}
	native.Endian.PutUint32(b[40:44], d.ifindex)
	native.Endian.PutUint32(b[64:68], d.uid)
	native.Endian.PutUint32(b[68:72], d.ino)
	return append(b, d.attrs...)
}

// diagDumps produces the full family x protocol dump sequence: the first
// dump carries the given sockets, the remaining eleven are empty.
func diagDumps(socks ...diagSock) [][]byte {
	var first []byte
	for _, s := range socks {
		first = append(first, frame(sockDiagByFamily, s.encode())...)
	}
	frames := [][]byte{append(first, doneFrame()...)}
	for i := 1; i < len(diagFamilies)*len(diagProtocols); i++ {
		frames = append(frames, doneFrame())
	}
	return frames
}

func TestListeningSockets(t *testing.T) {
	ifaces := types.Ifaces{1: "lo", 2: "eth0"}
	routes := types.NewRtbl([]types.Prefix{
		{Net: netip.MustParsePrefix("127.0.0.0/8"), Iface: 1},
	})

	dial := testDialer(diagDumps(
		// Wildcard bind, no interface hints anywhere: stays unattributed.
		diagSock{family: afInet, sport: 80, addr: netip.MustParseAddr("0.0.0.0"), uid: 33, ino: 100},
		// Loopback bind: attributed through the routing table.
		diagSock{family: afInet, sport: 22, addr: netip.MustParseAddr("127.0.0.1"), uid: 0, ino: 101},
		// Explicit ifindex: direct attribution beats what the routing table
		// would say for the address.
		diagSock{family: afInet, sport: 443, addr: netip.MustParseAddr("127.0.0.1"), ifindex: 2, uid: 0, ino: 102},
		// Connected peer: not a listening socket, skipped.
		diagSock{family: afInet, sport: 5000, dport: 443, addr: netip.MustParseAddr("127.0.0.1"), ino: 103},
	)...)

	got, err := ListeningSockets(dial, ifaces, routes)
	if err != nil {
		t.Fatalf("ListeningSockets: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("got %d records; want 3", len(got))
	}
	if _, ok := got[103]; ok {
		t.Error("connected socket leaked into the result")
	}

	if s := got[100]; s.Iface != "" || s.IfaceID != 0 {
		t.Errorf("inode 100 attributed to %q (%d); want unattributed", s.Iface, s.IfaceID)
	}
	if s := got[101]; s.Iface != "lo" || s.IfaceID != 1 {
		t.Errorf("inode 101 attributed to %q (%d); want lo (1)", s.Iface, s.IfaceID)
	}
	if s := got[102]; s.Iface != "eth0" || s.IfaceID != 2 {
		t.Errorf("inode 102 attributed to %q (%d); want eth0 (2)", s.Iface, s.IfaceID)
	}

	if s := got[101]; s.Port != 22 || s.UID != 0 || s.Protocol != types.TCP || s.Family != types.FamilyV4 {
		t.Errorf("inode 101 decoded as %+v", s)
	}
}

func TestParseInetDiagDualStack(t *testing.T) {
	v6only := func(val uint8) []byte {
		ae := mdnl.NewAttributeEncoder()
		ae.Uint8(inetDiagSkV6Only, val)
		b, err := ae.Encode()
		if err != nil {
			t.Fatalf("encode attributes: %v", err)
		}
		return b
	}

	d := diagSock{family: afInet6, sport: 22, addr: netip.MustParseAddr("::"), attrs: v6only(0)}
	si, err := parseInetDiag(d.encode(), types.FamilyV6, types.TCP)
	if err != nil {
		t.Fatalf("parseInetDiag: %v", err)
	}
	if si.Family != types.FamilyBoth {
		t.Errorf("family = %v; want dual-stack", si.Family)
	}

	d.attrs = v6only(1)
	si, err = parseInetDiag(d.encode(), types.FamilyV6, types.TCP)
	if err != nil {
		t.Fatalf("parseInetDiag: %v", err)
	}
	if si.Family != types.FamilyV6 {
		t.Errorf("family = %v; want v6", si.Family)
	}
}

func TestParseInetDiagShortMessage(t *testing.T) {
	if _, err := parseInetDiag(make([]byte, 20), types.FamilyV4, types.TCP); err == nil {
		t.Error("a truncated inet_diag message must be a decode error")
	}
}

func TestListeningSocketsPartialProtocolFailure(t *testing.T) {
	// First dump is rejected by the kernel (no diag module); the rest of
	// the grid still produces records.
	frames := diagDumps(diagSock{family: afInet, sport: 9, addr: netip.MustParseAddr("0.0.0.0"), ino: 7})
	frames[0], frames[1] = errFrame(int(syscall.EOPNOTSUPP)), frames[0]

	got, err := ListeningSockets(testDialer(frames...), types.Ifaces{}, nil)
	if err != nil {
		t.Fatalf("ListeningSockets: %v", err)
	}
	if _, ok := got[7]; !ok || len(got) != 1 {
		t.Errorf("got %v; want the single surviving record", got)
	}
}

func TestListeningSocketsAllDumpsFailing(t *testing.T) {
	s := &fakeSock{err: syscall.ETIMEDOUT}
	dial := func(protocol int) (*Conn, error) { return &Conn{s: s, bufSize: 4096}, nil }
	if _, err := ListeningSockets(dial, types.Ifaces{}, nil); err == nil {
		t.Error("every dump failing must fail the query")
	}
}
