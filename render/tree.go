// Package render draws the discovery result as a terminal tree:
// processes at the top level, one node per port/protocol pair beneath
// them, address leaves below that. Single-descendant chains collapse
// onto one line when they fit.
package render

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"golang.org/x/term"
)

// Options controls styling. Width 0 disables truncation, Color false
// yields plain output.
type Options struct {
	Color bool
	Width int
}

// ResolveOptions decides styling for stdout: width and color only when
// it is a terminal, color additionally gated by NO_COLOR and the
// configured mode ("always", "never" or "auto").
func ResolveOptions(colorMode string) Options {
	fd := int(os.Stdout.Fd())
	tty := term.IsTerminal(fd)

	var opt Options
	if tty {
		if w, _, err := term.GetSize(fd); err == nil {
			opt.Width = w
		}
	}
	switch colorMode {
	case "always":
		opt.Color = true
	case "never":
		opt.Color = false
	default:
		opt.Color = tty && os.Getenv("NO_COLOR") == ""
	}
	return opt
}

// Tree is an ordered list of labeled entries, each with its own subtree.
type Tree struct {
	entries []entry
}

type entry struct {
	label    string
	children Tree
}

// Leaf appends a childless entry.
func (t *Tree) Leaf(label string) {
	t.entries = append(t.entries, entry{label: label})
}

// Node appends an entry with children; an entry whose subtree is empty
// is dropped, so filtered-out branches vanish without special casing.
func (t *Tree) Node(label string, children Tree) {
	if len(children.entries) == 0 {
		return
	}
	t.entries = append(t.entries, entry{label: label, children: children})
}

func (t *Tree) Empty() bool {
	return len(t.entries) == 0
}

var grey = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

type styles struct {
	glyph lipgloss.Style
	sep   string
}

func newStyles(color bool) styles {
	if !color {
		return styles{sep: " / "}
	}
	return styles{glyph: grey, sep: grey.Render(" / ")}
}

// Render writes the tree to w.
func (t *Tree) Render(w io.Writer, opt Options) {
	st := newStyles(opt.Color)
	for _, e := range t.entries {
		renderEntry(w, e, "", "", opt, st)
	}
}

func renderEntry(w io.Writer, e entry, head, rest string, opt Options, st styles) {
	line := e.label
	avail := 0
	if opt.Width > 0 {
		avail = opt.Width - lipgloss.Width(head)
		if avail < 1 {
			avail = 1
		}
		if lipgloss.Width(line) > avail {
			line = truncate.StringWithTail(line, uint(avail), "…")
		}
	}

	parts, ok := e.children.collapseChain(avail-lipgloss.Width(line), opt.Width > 0)
	if ok {
		for _, p := range parts {
			line += st.sep + p
		}
	}
	fmt.Fprintf(w, "%s%s\n", st.glyph.Render(head), line)
	if ok {
		return
	}

	for i, c := range e.children.entries {
		h, r := rest+"├ ", rest+"│ "
		if i == len(e.children.entries)-1 {
			h, r = rest+"└ ", rest+"  "
		}
		renderEntry(w, c, h, r, opt, st)
	}
}

// collapseChain flattens a subtree where every level has exactly one
// entry. With limit set, each segment must fit in the remaining width,
// counting its " / " separator.
func (t Tree) collapseChain(avail int, limit bool) ([]string, bool) {
	var parts []string
	entries := t.entries
	for len(entries) > 0 {
		if len(entries) != 1 {
			return nil, false
		}
		e := entries[0]
		need := 3 + lipgloss.Width(e.label)
		if limit {
			if need > avail {
				return nil, false
			}
			avail -= need
		}
		parts = append(parts, e.label)
		entries = e.children.entries
	}
	return parts, true
}
