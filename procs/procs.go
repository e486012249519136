// Package procs correlates discovered sockets with the processes holding
// them. Every /proc/<pid>/fd entry pointing at a socket is matched against
// the registry pool by inode; a successful claim moves the record from the
// pool to the owning process for good.
package procs

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"

	"github.com/socktree/socktree/registry"
	"github.com/socktree/socktree/types"
)

// Desc is one process worth showing: it holds at least one discovered
// socket.
type Desc struct {
	PID   int
	UID   uint32
	Name  string
	User  string
	Socks []*types.SockInfo
}

// List walks every process under procRoot and claims the sockets whose
// inodes appear among its file descriptors. Processes holding no
// discovered socket are dropped. Processes that disappear or deny access
// mid-walk are skipped; their sockets simply stay unclaimed.
func List(procRoot string, reg *registry.Registry, users *UserCache) ([]Desc, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("could not open procfs at %q: %w", procRoot, err)
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("could not list processes: %w", err)
	}

	var out []Desc
	for _, p := range procs {
		targets, err := p.FileDescriptorTargets()
		if err != nil {
			continue
		}

		var socks []*types.SockInfo
		for _, target := range targets {
			ino, ok := socketInode(target)
			if !ok {
				continue
			}
			if s, ok := reg.Claim(ino); ok {
				socks = append(socks, s)
			}
		}
		if len(socks) == 0 {
			continue
		}
		slices.SortFunc(socks, (*types.SockInfo).Compare)

		d := Desc{PID: p.PID, Name: name(p), Socks: socks}
		if st, err := p.NewStatus(); err == nil {
			d.UID = uint32(st.UIDs[0])
		}
		if users != nil {
			d.User = users.Name(d.UID)
		}
		out = append(out, d)
	}

	slices.SortFunc(out, func(a, b Desc) int {
		if c := a.Socks[0].Compare(b.Socks[0]); c != 0 {
			return c
		}
		return a.PID - b.PID
	})
	return out, nil
}

// socketInode extracts the inode from an fd link target of the form
// "socket:[12345]".
func socketInode(target string) (types.Ino, bool) {
	rest, ok := strings.CutPrefix(target, "socket:[")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, "]")
	if !ok {
		return 0, false
	}
	ino, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return types.Ino(ino), true
}

// name picks a display name: the executable basename, refined with the
// script name when the executable is an interpreter, falling back to
// argv[0] and then comm when /proc/<pid>/exe is unreadable.
func name(p procfs.Proc) string {
	argv, _ := p.CmdLine()

	exe, err := p.Executable()
	if err != nil || exe == "" {
		if len(argv) > 0 && argv[0] != "" {
			return filepath.Base(argv[0])
		}
		if comm, err := p.Comm(); err == nil && comm != "" {
			return comm
		}
		return "?"
	}

	base := filepath.Base(exe)
	if script := scriptName(base, argv); script != "" {
		return base + " " + script
	}
	return base
}

var interpreters = map[string]bool{
	"python": true,
	"java":   true,
	"node":   true,
	"nodejs": true,
	"lua":    true,
	"ruby":   true,
	"perl":   true,
}

// scriptName extracts what an interpreter is running, so that
// "python3 serve.py" does not show up as a bare "python3".
func scriptName(base string, argv []string) string {
	trimmed := strings.TrimRight(base, "0123456789.")
	if len(argv) < 2 || !interpreters[trimmed] {
		return ""
	}
	for i := 1; i < len(argv); i++ {
		switch arg := argv[i]; {
		case arg == "-jar" || arg == "-m":
			if i+1 < len(argv) {
				return filepath.Base(argv[i+1])
			}
			return ""
		case arg == "-cp" || arg == "-classpath" || arg == "--class-path":
			i++
		case strings.HasPrefix(arg, "-"):
		default:
			return filepath.Base(arg)
		}
	}
	return ""
}
