// Package filter narrows the rendered tree from CLI flags. An empty
// filter set accepts everything; each populated dimension accepts the
// union of its entries.
package filter

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/socktree/socktree/procs"
	"github.com/socktree/socktree/types"
)

// PortRange is inclusive on both ends.
type PortRange struct {
	Lo, Hi uint16
}

func (r PortRange) contains(p uint16) bool {
	return r.Lo <= p && p <= r.Hi
}

// Filters is the compiled predicate set. Interface-name filters are
// already resolved into the prefixes routed over that interface.
type Filters struct {
	Ports  []PortRange
	Pfxs   []types.Prefix
	Protos []types.Protocol
	PIDs   []int
	Cmds   []string
	UIDs   []uint32
}

// Flags is the raw flag input, compiled by Build.
type Flags struct {
	Ports  []string
	Addrs  []string
	Ifaces []string
	Protos []string
	PIDs   []int
	Cmds   []string
	Users  []string
	Self   bool
}

// Build compiles flag values into a predicate set, resolving interface
// names through the routing table and user names through the passwd
// database. Unknown interfaces and unparseable values are errors; a
// numeric uid without a passwd entry only warns.
func Build(f Flags, ifaces types.Ifaces, routes *types.Rtbl) (*Filters, error) {
	out := &Filters{PIDs: f.PIDs, Cmds: f.Cmds}

	for _, p := range f.Ports {
		r, err := parsePortRange(p)
		if err != nil {
			return nil, err
		}
		out.Ports = append(out.Ports, r)
	}

	for _, a := range f.Addrs {
		pfx, err := parsePrefix(a)
		if err != nil {
			return nil, err
		}
		out.Pfxs = append(out.Pfxs, types.Prefix{Net: pfx})
	}

	byName := map[string]uint32{}
	for id, name := range ifaces {
		byName[name] = id
	}
	for _, name := range f.Ifaces {
		id, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown interface %q", name)
		}
		out.Pfxs = append(out.Pfxs, routes.ForIface(id)...)
	}

	for _, p := range f.Protos {
		proto, err := types.ParseProtocol(p)
		if err != nil {
			return nil, err
		}
		out.Protos = append(out.Protos, proto)
	}

	for _, u := range f.Users {
		uid, err := resolveUser(u)
		if err != nil {
			return nil, err
		}
		out.UIDs = append(out.UIDs, uid)
	}
	if f.Self {
		out.UIDs = append(out.UIDs, uint32(os.Getuid()), uint32(os.Geteuid()))
	}

	return out, nil
}

// ProcessScoped reports whether any filter dimension only makes sense per
// process. With such filters active the unassigned section is suppressed,
// since sockets without a process cannot be matched against them.
func (f *Filters) ProcessScoped() bool {
	return len(f.PIDs) > 0 || len(f.Cmds) > 0
}

func (f *Filters) AcceptPort(port uint16) bool {
	if len(f.Ports) == 0 {
		return true
	}
	for _, r := range f.Ports {
		if r.contains(port) {
			return true
		}
	}
	return false
}

func (f *Filters) AcceptProto(proto types.Protocol) bool {
	if len(f.Protos) == 0 {
		return true
	}
	for _, p := range f.Protos {
		if p == proto {
			return true
		}
	}
	return false
}

// AcceptAddr accepts wildcard binds regardless of prefix filters: a
// socket listening everywhere also listens on every filtered prefix.
func (f *Filters) AcceptAddr(addr netip.Addr) bool {
	if len(f.Pfxs) == 0 || addr.IsUnspecified() {
		return true
	}
	for _, pfx := range f.Pfxs {
		if pfx.Matches(addr) {
			return true
		}
	}
	return false
}

func (f *Filters) AcceptUID(uid uint32) bool {
	if len(f.UIDs) == 0 {
		return true
	}
	for _, u := range f.UIDs {
		if u == uid {
			return true
		}
	}
	return false
}

func (f *Filters) AcceptPID(pid int) bool {
	if len(f.PIDs) == 0 {
		return true
	}
	for _, p := range f.PIDs {
		if p == pid {
			return true
		}
	}
	return false
}

func (f *Filters) AcceptCmd(name string) bool {
	if len(f.Cmds) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, c := range f.Cmds {
		if strings.Contains(lower, strings.ToLower(c)) {
			return true
		}
	}
	return false
}

func (f *Filters) AcceptProcess(d procs.Desc) bool {
	return f.AcceptPID(d.PID) && f.AcceptCmd(d.Name) && f.AcceptUID(d.UID)
}

// parsePortRange reads "80" or "8000-9000"; a reversed range is
// normalized rather than rejected.
func parsePortRange(s string) (PortRange, error) {
	lo, hi, isRange := strings.Cut(s, "-")
	start, err := strconv.ParseUint(lo, 10, 16)
	if err != nil {
		return PortRange{}, fmt.Errorf("could not parse port %q: %w", lo, err)
	}
	end := start
	if isRange {
		end, err = strconv.ParseUint(hi, 10, 16)
		if err != nil {
			return PortRange{}, fmt.Errorf("could not parse port range end %q: %w", hi, err)
		}
	}
	if end < start {
		start, end = end, start
	}
	return PortRange{Lo: uint16(start), Hi: uint16(end)}, nil
}

// parsePrefix reads a CIDR prefix or a bare address, which stands for
// its single-address prefix.
func parsePrefix(s string) (netip.Prefix, error) {
	if pfx, err := netip.ParsePrefix(s); err == nil {
		return pfx.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("could not parse %q as an address or prefix: %w", s, err)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// resolveUser accepts a login name or a numeric uid. A numeric uid with
// no passwd entry is taken at face value with a warning.
func resolveUser(s string) (uint32, error) {
	if u, err := user.Lookup(s); err == nil {
		uid, err := strconv.ParseUint(u.Uid, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("unexpected uid %q for user %q: %w", u.Uid, s, err)
		}
		return uint32(uid), nil
	}
	uid, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown user %q", s)
	}
	if _, err := user.LookupId(s); err != nil {
		slog.Warn("unknown user id", "uid", uid)
	}
	return uint32(uid), nil
}
