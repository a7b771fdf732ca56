/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package refmap is the reference-map component (C2): a two-level lookup
// table translating source-level member references into the runtime
// (possibly obfuscated) names a target class file actually carries.
package refmap

import (
	"encoding/json"
	"fmt"
)

// Bucket maps an owning class name to its symbol table (source symbol ->
// runtime symbol).
type Bucket map[string]map[string]string

// Document is the on-disk shape of a reference map: a default bucket plus
// any number of named, context-scoped buckets (§6: "structured text
// document with two top-level fields: mappings ... and data").
type Document struct {
	Mappings Bucket            `json:"mappings"`
	Data     map[string]Bucket `json:"data"`
}

// Parse decodes a reference-map document from its serialized JSON form.
func Parse(raw []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("weld: parsing refmap: %w", err)
	}
	if d.Mappings == nil {
		d.Mappings = Bucket{}
	}
	if d.Data == nil {
		d.Data = map[string]Bucket{}
	}
	return &d, nil
}

// MethodSymbol forms the symbol key for a method reference: "name(desc)".
func MethodSymbol(name, desc string) string {
	return name + desc
}

// FieldSymbol forms the symbol key for a field reference: "name:desc".
func FieldSymbol(name, desc string) string {
	return name + ":" + desc
}

// Remap resolves a symbolic reference to its runtime name (C2:
// "remap(context?, owner?, symbol) -> symbol"). Lookup order is: the named
// context's bucket, then the default bucket, then identity (the reference
// is assumed already runtime-correct, e.g. an unobfuscated dependency).
// When owner is empty every owner-bucket in the chosen map is scanned and
// the first match wins — used when a mixin references a member declared on
// an ancestor whose exact owner the caller hasn't resolved yet.
func (d *Document) Remap(context, owner, symbol string) string {
	if context != "" {
		if b, ok := d.Data[context]; ok {
			if v, ok := lookup(b, owner, symbol); ok {
				return v
			}
		}
	}
	if v, ok := lookup(d.Mappings, owner, symbol); ok {
		return v
	}
	return symbol
}

func lookup(b Bucket, owner, symbol string) (string, bool) {
	if owner != "" {
		if m, ok := b[owner]; ok {
			if v, ok := m[symbol]; ok {
				return v, true
			}
		}
		return "", false
	}
	for _, m := range b {
		if v, ok := m[symbol]; ok {
			return v, true
		}
	}
	return "", false
}

// Builder accumulates a Document programmatically — used by the applicator
// when a mixin's own merged members need fresh entries the source document
// never declared (§4.7: "references to the mixin's own members are
// rewritten to their post-merge names").
type Builder struct {
	doc *Document
}

// NewBuilder returns a Builder wrapping an empty Document.
func NewBuilder() *Builder {
	return &Builder{doc: &Document{Mappings: Bucket{}, Data: map[string]Bucket{}}}
}

// NewBuilderFrom returns a Builder that extends an existing Document rather
// than starting empty, so callers can layer generated entries over a
// refmap resource that was loaded from disk.
func NewBuilderFrom(d *Document) *Builder {
	if d == nil {
		return NewBuilder()
	}
	return &Builder{doc: d}
}

// Add records that symbol sym, referenced against owner, resolves to newSym
// within context (or the default bucket, if context is empty).
func (b *Builder) Add(context, owner, sym, newSym string) {
	bucket := b.doc.Mappings
	if context != "" {
		bucket = b.doc.Data[context]
		if bucket == nil {
			bucket = Bucket{}
			b.doc.Data[context] = bucket
		}
	}
	m := bucket[owner]
	if m == nil {
		m = map[string]string{}
		bucket[owner] = m
	}
	m[sym] = newSym
}

// Document returns the Builder's accumulated document.
func (b *Builder) Document() *Document {
	return b.doc
}
