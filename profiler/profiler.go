/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package profiler is the hierarchical section timer component (C12):
// begin(path...) pushes a nested section, end pops it and accumulates
// elapsed time, mark(phase) rolls the current time slice into a named
// phase snapshot and starts a fresh one (§4.12). Sections tagged Root
// always record; sections tagged Fine are dropped from a report unless
// explicitly requested. The profiler table itself is process-wide
// (§5 "shared-resource policy"): every constructed Profiler registers
// itself so Aggregate can build a combined report across all of them.
package profiler

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// Kind distinguishes a section's reporting treatment.
type Kind int

const (
	// Normal sections nest under whatever is currently open on the stack.
	Normal Kind = iota
	// Root sections always attach directly under the profiler's root,
	// regardless of what is currently open on the stack.
	Root
	// Fine sections are dropped from a report unless includeFine is set.
	Fine
)

// Section is one node of a profiler's accumulated timing tree.
type Section struct {
	Name     string
	Kind     Kind
	Total    time.Duration
	Count    int
	Children map[string]*Section
}

func newSection(name string, kind Kind) *Section {
	return &Section{Name: name, Kind: kind, Children: make(map[string]*Section)}
}

func (s *Section) child(name string, kind Kind) *Section {
	if c, ok := s.Children[name]; ok {
		return c
	}
	c := newSection(name, kind)
	s.Children[name] = c
	return c
}

// Phase is one mark(phase)'s rolled-up snapshot of a time slice.
type Phase struct {
	Name string
	Root *Section
}

type frame struct {
	section *Section
	start   time.Time
}

// Profiler accumulates nested timing sections for one component of the
// driver (the applicator, injection orchestration, the CLI's batch
// loop, ...). It is safe for concurrent use.
type Profiler struct {
	mu     sync.Mutex
	root   *Section
	stack  []frame
	phases []Phase
}

// New returns a Profiler and registers it with the process-wide
// registry that Aggregate reports across.
func New() *Profiler {
	p := &Profiler{root: newSection("root", Root)}
	register(p)
	return p
}

// Begin pushes a normal, nesting section named by path, opening it
// under whatever section is currently on top of the stack (or the
// profiler's root if the stack is empty).
func (p *Profiler) Begin(path ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.push(Normal, path...)
}

// BeginFine is Begin for a section that should be excluded from a
// report unless explicitly requested.
func (p *Profiler) BeginFine(path ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.push(Fine, path...)
}

// BeginRoot pushes a section that always attaches directly under the
// profiler's root, independent of whatever is currently open.
func (p *Profiler) BeginRoot(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sec := p.root.child(name, Root)
	p.stack = append(p.stack, frame{section: sec, start: time.Now()})
}

func (p *Profiler) push(kind Kind, path ...string) {
	cur := p.root
	if len(p.stack) > 0 {
		cur = p.stack[len(p.stack)-1].section
	}
	for _, name := range path {
		cur = cur.child(name, kind)
	}
	p.stack = append(p.stack, frame{section: cur, start: time.Now()})
}

// End pops the most recently begun section and folds its elapsed time
// into the section's running total. It is a no-op returning zero if
// nothing is open, rather than a panic, since a mismatched end/begin
// pair should not crash a transform already in progress.
func (p *Profiler) End() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.stack)
	if n == 0 {
		return 0
	}
	f := p.stack[n-1]
	p.stack = p.stack[:n-1]
	elapsed := time.Since(f.start)
	f.section.Total += elapsed
	f.section.Count++
	return elapsed
}

// Mark rolls the profiler's current accumulated tree into a named
// phase snapshot and starts a fresh, empty tree for the next slice.
func (p *Profiler) Mark(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phases = append(p.phases, Phase{Name: phase, Root: p.root})
	p.root = newSection("root", Root)
}

// Phases returns every phase snapshot recorded so far, in mark order.
func (p *Profiler) Phases() []Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Phase, len(p.phases))
	copy(out, p.phases)
	return out
}

// Root returns the profiler's current, in-progress timing tree.
func (p *Profiler) Root() *Section {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.root
}

var (
	registryMu sync.Mutex
	registry   []*Profiler
)

func register(p *Profiler) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, p)
}

// Aggregate merges every registered profiler's current tree and phase
// snapshots into one combined Section, for a global report (§4.12
// "Aggregation across all profilers is supported"). Fine sections are
// dropped unless includeFine is set.
func Aggregate(includeFine bool) *Section {
	registryMu.Lock()
	defer registryMu.Unlock()
	combined := newSection("root", Root)
	for _, p := range registry {
		p.mu.Lock()
		merge(combined, p.root, includeFine)
		for _, ph := range p.phases {
			merge(combined, ph.Root, includeFine)
		}
		p.mu.Unlock()
	}
	return combined
}

func merge(dst, src *Section, includeFine bool) {
	dst.Total += src.Total
	dst.Count += src.Count
	for name, c := range src.Children {
		if c.Kind == Fine && !includeFine {
			continue
		}
		merge(dst.child(name, c.Kind), c, includeFine)
	}
}

// Report writes root as an indented, terminal-width-aware table:
// section name on the left, accumulated duration and call count
// right-aligned. Falls back to an 80-column width when stdout is not
// a terminal (redirected to a file, piped, running under a test).
func Report(w io.Writer, root *Section) {
	width := terminalWidth()
	var buf strings.Builder
	writeChildren(&buf, root, 0, width)
	io.WriteString(w, buf.String())
}

func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 80
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func writeChildren(buf *strings.Builder, s *Section, depth, width int) {
	names := make([]string, 0, len(s.Children))
	for name := range s.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := s.Children[name]
		indent := strings.Repeat("  ", depth)
		label := indent + c.Name
		stat := fmt.Sprintf("%s (%d)", c.Total, c.Count)
		pad := width - len(label) - len(stat)
		if pad < 1 {
			pad = 1
		}
		fmt.Fprintf(buf, "%s%s%s\n", label, strings.Repeat(" ", pad), stat)
		writeChildren(buf, c, depth+1, width)
	}
}
