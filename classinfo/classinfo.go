/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package classinfo is the class-info / hierarchy-cache component (C3): a
// memoized, thread-safe view over a class's supertype and interface chain,
// used by the applicator and injection subsystem to resolve inherited
// members without re-decoding a class file on every lookup.
package classinfo

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/foundryvm/weld/classfile"
	"github.com/foundryvm/weld/tracelog"
	"github.com/foundryvm/weld/types"
)

// Handle is a stable 32-bit identity for a cached ClassInfo, arena-style
// like classfile.InsnID: cheap to use as a bitset index during traversal,
// and stable across the cache's lifetime (classes are appended, never
// reordered, even across Invalidate).
type Handle uint32

// Loader resolves a class name to its decoded form. The host embedding
// weld supplies one (reading from a classpath, a jar, a loader delegate...);
// weld itself never decides how classes are found on disk.
type Loader interface {
	LoadClass(name string) (*classfile.ClassNode, error)
}

// ClassInfo is one memoized entry: a decoded class plus the handle the
// owning Cache assigned it.
type ClassInfo struct {
	handle Handle
	node   *classfile.ClassNode
	cache  *Cache
}

// Handle returns ci's stable identity within its Cache.
func (ci *ClassInfo) Handle() Handle { return ci.handle }

// Name returns the class's binary name.
func (ci *ClassInfo) Name() string { return ci.node.Name }

// SuperName returns the class's direct superclass name, or "" for
// java/lang/Object (or an interface, which declares no superclass).
func (ci *ClassInfo) SuperName() string { return ci.node.SuperName }

// Node returns the underlying decoded class.
func (ci *ClassInfo) Node() *classfile.ClassNode { return ci.node }

// Cache is a memoized forName() table over a Loader (C3: "forName(name) ->
// ClassInfo is memoized and thread-safe"). The zero value is not usable;
// construct with NewCache.
type Cache struct {
	mu     sync.Mutex
	loader Loader
	byName map[string]Handle
	arena  []*ClassInfo // arena[0] is an unused sentinel, mirroring classfile.InsnList
}

// NewCache returns a Cache backed by loader.
func NewCache(loader Loader) *Cache {
	return &Cache{
		loader: loader,
		byName: make(map[string]Handle),
		arena:  make([]*ClassInfo, 1),
	}
}

// ForName resolves name to its ClassInfo, loading and caching it on first
// request. Concurrent callers requesting the same name are serialized
// through the Cache's mutex rather than racing the Loader twice.
func (c *Cache) ForName(name string) (*ClassInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forNameLocked(name)
}

func (c *Cache) forNameLocked(name string) (*ClassInfo, error) {
	if h, ok := c.byName[name]; ok {
		return c.arena[h], nil
	}
	node, err := c.loader.LoadClass(name)
	if err != nil {
		return nil, fmt.Errorf("weld: resolving class %s: %w", name, err)
	}
	ci := &ClassInfo{handle: Handle(len(c.arena)), node: node}
	ci.cache = c
	c.arena = append(c.arena, ci)
	c.byName[name] = ci.handle
	return ci, nil
}

// Invalidate drops name from the cache; the next ForName reloads it from
// the Loader. Per C3: "invalidation occurs only on explicit reload of a
// mixin class" — nothing else in weld ever evicts an entry on its own.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byName, name)
	tracelog.Trace(fmt.Sprintf("classinfo: invalidated %s", name))
}

// visitedSet returns a bitset sized for the cache's current arena, used by
// every hierarchy walk below to avoid revisiting a class reachable through
// more than one path (a common shape once interfaces are involved: two
// unrelated interfaces both extending a shared grandparent interface).
func (c *Cache) visitedSet() *bitset.BitSet {
	return bitset.New(uint(len(c.arena)))
}

// FindMethodInHierarchy searches ci and its ancestry for a method matching
// name/desc (C3). traversal narrows the walk to the superclass chain only,
// the interface chain only, or both (the default); includeInterfaces is an
// additional gate used by SearchAll callers that want supertypes walked
// but interface default methods excluded (e.g. a plain virtual-dispatch
// resolution). The walk is breadth-first starting at ci itself, so the
// result is deterministic across runs for any given class hierarchy.
func (ci *ClassInfo) FindMethodInHierarchy(name, desc string, includeInterfaces bool, traversal types.SearchType) (*classfile.MethodNode, *ClassInfo, error) {
	visited := ci.cache.visitedSet()
	queue := []*ClassInfo{ci}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited.Test(uint(cur.handle)) {
			continue
		}
		visited.Set(uint(cur.handle))

		if m := cur.node.FindMethod(name, desc); m != nil {
			return m, cur, nil
		}

		if traversal != types.SearchInterfacesOnly && cur.node.SuperName != "" {
			super, err := cur.cache.ForName(cur.node.SuperName)
			if err != nil {
				return nil, nil, err
			}
			queue = append(queue, super)
		}
		if (traversal == types.SearchAll && includeInterfaces) || traversal == types.SearchInterfacesOnly {
			for _, iface := range cur.node.Interfaces {
				ifc, err := cur.cache.ForName(iface)
				if err != nil {
					return nil, nil, err
				}
				queue = append(queue, ifc)
			}
		}
	}
	return nil, nil, nil
}

// FindField searches ci, its superclasses and its interfaces (which can
// declare constant fields) for a field named name, in one breadth-first
// walk: each class's superclass and interfaces are queued together, so an
// interface can be searched before a more distant superclass.
func (ci *ClassInfo) FindField(name string) (*classfile.FieldNode, *ClassInfo, error) {
	visited := ci.cache.visitedSet()
	queue := []*ClassInfo{ci}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited.Test(uint(cur.handle)) {
			continue
		}
		visited.Set(uint(cur.handle))

		if f := cur.node.FindField(name); f != nil {
			return f, cur, nil
		}
		if cur.node.SuperName != "" {
			super, err := cur.cache.ForName(cur.node.SuperName)
			if err != nil {
				return nil, nil, err
			}
			queue = append(queue, super)
		}
		for _, iface := range cur.node.Interfaces {
			ifc, err := cur.cache.ForName(iface)
			if err != nil {
				return nil, nil, err
			}
			queue = append(queue, ifc)
		}
	}
	return nil, nil, nil
}

// GetInterfaces returns every interface ci's class implements, directly or
// transitively, flattened and deduplicated in breadth-first discovery order
// (C3: "interface-method enumeration flattens inherited interfaces;
// traversal order is reproducible for test stability").
func (ci *ClassInfo) GetInterfaces() ([]string, error) {
	visited := ci.cache.visitedSet()
	visited.Set(uint(ci.handle))
	var out []string
	queue := []*ClassInfo{ci}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, iface := range cur.node.Interfaces {
			ifc, err := cur.cache.ForName(iface)
			if err != nil {
				return nil, err
			}
			if visited.Test(uint(ifc.handle)) {
				continue
			}
			visited.Set(uint(ifc.handle))
			out = append(out, ifc.Name())
			queue = append(queue, ifc)
		}
		if cur.node.SuperName != "" {
			super, err := cur.cache.ForName(cur.node.SuperName)
			if err != nil {
				return nil, err
			}
			if !visited.Test(uint(super.handle)) {
				visited.Set(uint(super.handle))
				queue = append(queue, super)
			}
		}
	}
	return out, nil
}

// IsAssignableFrom reports whether a value of class sub can be assigned to
// a variable of class super — i.e. super is sub itself, an ancestor of sub,
// or one of sub's transitive interfaces.
func (c *Cache) IsAssignableFrom(super, sub string) (bool, error) {
	if super == sub || super == "java/lang/Object" {
		return true, nil
	}
	subInfo, err := c.ForName(sub)
	if err != nil {
		return false, err
	}

	visited := c.visitedSet()
	queue := []*ClassInfo{subInfo}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited.Test(uint(cur.handle)) {
			continue
		}
		visited.Set(uint(cur.handle))
		if cur.Name() == super {
			return true, nil
		}
		if cur.node.SuperName != "" {
			next, err := c.ForName(cur.node.SuperName)
			if err != nil {
				return false, err
			}
			queue = append(queue, next)
		}
		for _, iface := range cur.node.Interfaces {
			next, err := c.ForName(iface)
			if err != nil {
				return false, err
			}
			queue = append(queue, next)
		}
	}
	return false, nil
}
