/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package injectionpoint is the injection point discovery component (C8):
// a set of stateless strategies, each a pure function from an
// instruction list to the sequence of instruction ids it selects.
// Strategies carry no mutable state and cache nothing across calls, so
// the same value can be reused to search any number of unrelated method
// bodies (§4.8).
package injectionpoint

import (
	"fmt"
	"strings"

	"github.com/foundryvm/weld/classfile"
)

// Point is a stateless injection-point strategy: find(instruction_list) ->
// instruction ids, in list order.
type Point func(list *classfile.InsnList) []classfile.InsnID

// applyOrdinal narrows candidates to the n-th match (0-indexed) if n >= 0,
// or returns every match unchanged if n == -1 (§4.8 "Ordinal semantics").
func applyOrdinal(candidates []classfile.InsnID, ordinal int) []classfile.InsnID {
	if ordinal < 0 {
		return candidates
	}
	if ordinal >= len(candidates) {
		return nil
	}
	return []classfile.InsnID{candidates[ordinal]}
}

func isLabelOrLine(insn classfile.Insn) bool {
	switch insn.(type) {
	case classfile.LabelInsn, classfile.LineNumberInsn:
		return true
	default:
		return false
	}
}

// MethodHead yields the first non-label, non-line-number instruction.
func MethodHead() Point {
	return func(list *classfile.InsnList) []classfile.InsnID {
		for _, id := range list.All() {
			if !isLabelOrLine(list.Get(id)) {
				return []classfile.InsnID{id}
			}
		}
		return nil
	}
}

// BeforeReturn yields every return instruction, or (finalOnly) only the
// last one in the method.
func BeforeReturn(finalOnly bool) Point {
	return func(list *classfile.InsnList) []classfile.InsnID {
		var hits []classfile.InsnID
		for _, id := range list.All() {
			if classfile.IsReturn(list.Get(id).Opcode()) {
				hits = append(hits, id)
			}
		}
		if finalOnly && len(hits) > 0 {
			return hits[len(hits)-1:]
		}
		return hits
	}
}

// BeforeInvoke matches INVOKE* instructions against owner/name/desc (any
// of which may be "" to mean "don't care"), narrowed by ordinal.
func BeforeInvoke(owner, name, desc string, ordinal int) Point {
	return func(list *classfile.InsnList) []classfile.InsnID {
		var hits []classfile.InsnID
		for _, id := range list.All() {
			mi, ok := list.Get(id).(classfile.MethodInsn)
			if !ok {
				continue
			}
			if owner != "" && mi.Owner != owner {
				continue
			}
			if name != "" && mi.Name != name {
				continue
			}
			if desc != "" && mi.Desc != desc {
				continue
			}
			hits = append(hits, id)
		}
		return applyOrdinal(hits, ordinal)
	}
}

// BeforeStringInvoke is BeforeInvoke additionally requiring the
// instruction immediately preceding the call (skipping labels/line
// numbers) to be an LDC of the given string literal.
func BeforeStringInvoke(owner, name, desc, literal string, ordinal int) Point {
	return func(list *classfile.InsnList) []classfile.InsnID {
		var hits []classfile.InsnID
		for _, id := range list.All() {
			mi, ok := list.Get(id).(classfile.MethodInsn)
			if !ok {
				continue
			}
			if owner != "" && mi.Owner != owner {
				continue
			}
			if name != "" && mi.Name != name {
				continue
			}
			if desc != "" && mi.Desc != desc {
				continue
			}
			prev := id
			for {
				prev = list.Prev(prev)
				if prev == 0 {
					break
				}
				insn := list.Get(prev)
				if isLabelOrLine(insn) {
					continue
				}
				if ldc, ok := insn.(classfile.LdcInsn); ok {
					if s, ok := ldc.Value.(string); ok && s == literal {
						hits = append(hits, id)
					}
				}
				break
			}
		}
		return applyOrdinal(hits, ordinal)
	}
}

// FieldOpMask selects which of GETFIELD/PUTFIELD/GETSTATIC/PUTSTATIC
// BeforeFieldAccess matches; a nil/empty mask matches every field opcode.
type FieldOpMask []int

// BeforeFieldAccess matches field get/set instructions by owner/name (""
// means don't care) and opcode mask.
func BeforeFieldAccess(owner, name string, mask FieldOpMask, ordinal int) Point {
	allowed := map[int]bool{}
	if len(mask) == 0 {
		mask = FieldOpMask{classfile.GETFIELD, classfile.PUTFIELD, classfile.GETSTATIC, classfile.PUTSTATIC}
	}
	for _, op := range mask {
		allowed[op] = true
	}
	return func(list *classfile.InsnList) []classfile.InsnID {
		var hits []classfile.InsnID
		for _, id := range list.All() {
			fi, ok := list.Get(id).(classfile.FieldInsn)
			if !ok || !allowed[fi.Op] {
				continue
			}
			if owner != "" && fi.Owner != owner {
				continue
			}
			if name != "" && fi.Name != name {
				continue
			}
			hits = append(hits, id)
		}
		return applyOrdinal(hits, ordinal)
	}
}

// BeforeNew matches `new T` allocations by the allocated type descriptor
// ("" matches any).
func BeforeNew(typeDesc string, ordinal int) Point {
	return func(list *classfile.InsnList) []classfile.InsnID {
		var hits []classfile.InsnID
		for _, id := range list.All() {
			ti, ok := list.Get(id).(classfile.TypeInsn)
			if !ok || ti.Op != classfile.NEW {
				continue
			}
			if typeDesc != "" && ti.Desc != typeDesc {
				continue
			}
			hits = append(hits, id)
		}
		return applyOrdinal(hits, ordinal)
	}
}

// JumpInsnPoint matches jump instructions, optionally restricted to one
// opcode (0 matches any jump).
func JumpInsnPoint(opcode int, ordinal int) Point {
	return func(list *classfile.InsnList) []classfile.InsnID {
		var hits []classfile.InsnID
		for _, id := range list.All() {
			ji, ok := list.Get(id).(classfile.JumpInsn)
			if !ok {
				continue
			}
			if opcode != 0 && ji.Op != opcode {
				continue
			}
			hits = append(hits, id)
		}
		return applyOrdinal(hits, ordinal)
	}
}

// BeforeConstant matches LDC/int-push instructions whose pushed value
// equals want (compared via fmt.Sprintf equality, so int32/int64/string
// literals all compare naturally regardless of exact Go type).
func BeforeConstant(want interface{}, ordinal int) Point {
	wantStr := fmt.Sprintf("%v", want)
	return func(list *classfile.InsnList) []classfile.InsnID {
		var hits []classfile.InsnID
		for _, id := range list.All() {
			var val interface{}
			switch v := list.Get(id).(type) {
			case classfile.LdcInsn:
				val = v.Value
			case classfile.IntInsn:
				val = v.Operand
			default:
				continue
			}
			if fmt.Sprintf("%v", val) == wantStr {
				hits = append(hits, id)
			}
		}
		return applyOrdinal(hits, ordinal)
	}
}

// BeforeLoadLocal matches *LOAD instructions touching local slot index
// (-1 matches any slot).
func BeforeLoadLocal(index int, ordinal int) Point {
	return func(list *classfile.InsnList) []classfile.InsnID {
		var hits []classfile.InsnID
		for _, id := range list.All() {
			vi, ok := list.Get(id).(classfile.VarInsn)
			if !ok || !classfile.IsLoad(vi.Op) {
				continue
			}
			if index >= 0 && vi.Slot != index {
				continue
			}
			hits = append(hits, id)
		}
		return applyOrdinal(hits, ordinal)
	}
}

// AfterStoreLocal matches *STORE instructions touching local slot index
// (-1 matches any slot).
func AfterStoreLocal(index int, ordinal int) Point {
	return func(list *classfile.InsnList) []classfile.InsnID {
		var hits []classfile.InsnID
		for _, id := range list.All() {
			vi, ok := list.Get(id).(classfile.VarInsn)
			if !ok || !classfile.IsStore(vi.Op) {
				continue
			}
			if index >= 0 && vi.Slot != index {
				continue
			}
			hits = append(hits, id)
		}
		return applyOrdinal(hits, ordinal)
	}
}

// AfterInvoke matches the instruction immediately following a non-void
// method call, skipping over an intervening store so "the value just
// returned" can be read back even when the compiler banked it to a local
// first (§4.8 INVOKE_ASSIGN).
func AfterInvoke(owner, name, desc string, ordinal int) Point {
	return func(list *classfile.InsnList) []classfile.InsnID {
		var hits []classfile.InsnID
		for _, id := range list.All() {
			mi, ok := list.Get(id).(classfile.MethodInsn)
			if !ok {
				continue
			}
			if owner != "" && mi.Owner != owner {
				continue
			}
			if name != "" && mi.Name != name {
				continue
			}
			if desc != "" && mi.Desc != desc {
				continue
			}
			if strings.HasSuffix(mi.Desc, ")V") {
				continue
			}
			next := list.Next(id)
			if next == 0 {
				continue
			}
			if vi, ok := list.Get(next).(classfile.VarInsn); ok && classfile.IsStore(vi.Op) {
				after := list.Next(next)
				if after != 0 {
					hits = append(hits, after)
					continue
				}
			}
			hits = append(hits, next)
		}
		return applyOrdinal(hits, ordinal)
	}
}

// ConstructorEnforce selects which point in a constructor body
// ConstructorHead resolves to.
type ConstructorEnforce int

const (
	EnforcePostDelegate ConstructorEnforce = iota
	EnforcePostInitializer
	EnforceFirstBody
)

// parseConstructorEnforce maps an @At annotation's "enforce" element to a
// ConstructorEnforce, defaulting to EnforcePostDelegate for an empty or
// unrecognised value.
func parseConstructorEnforce(s string) ConstructorEnforce {
	switch s {
	case "POST_INITIALIZER":
		return EnforcePostInitializer
	case "FIRST_BODY":
		return EnforceFirstBody
	default:
		return EnforcePostDelegate
	}
}

// ConstructorHead selects, depending on enforce: the instruction right
// after the delegate constructor call (this()/super()), the instruction
// right after the last recognised instance-field initializer, or the
// first non-debug instruction following those initializers (§4.8
// CTOR_HEAD).
func ConstructorHead(enforce ConstructorEnforce, ownerName string) Point {
	return func(list *classfile.InsnList) []classfile.InsnID {
		for _, id := range list.All() {
			mi, ok := list.Get(id).(classfile.MethodInsn)
			if !ok || mi.Op != classfile.INVOKESPECIAL || mi.Name != "<init>" {
				continue
			}
			if ownerName != "" && mi.Owner != ownerName {
				continue
			}
			postDelegate := list.Next(id)
			if enforce == EnforcePostDelegate {
				return []classfile.InsnID{postDelegate}
			}
			postInitializer := skipFieldInitializers(list, postDelegate)
			if enforce == EnforcePostInitializer {
				return []classfile.InsnID{postInitializer}
			}
			return []classfile.InsnID{skipDebugMarkers(list, postInitializer)}
		}
		return MethodHead()(list)
	}
}

// skipFieldInitializers advances past a run of "ALOAD_0; <one value push>;
// PUTFIELD" sequences starting at id — the instruction shape javac emits
// for `Type f = <initializer>;` on the class whose constructor this is —
// returning the id right after the last one recognised. The PUTFIELD's
// owner is not constrained to a single class name: ownerName as given to
// ConstructorHead names the delegate constructor's declaring class (e.g.
// the superclass for a super() call), not the class whose own fields are
// being initialized here, so only the ALOAD_0/PUTFIELD shape is checked.
// Stops at the first instruction that doesn't match the shape, so
// multi-instruction initializer expressions beyond the first are not
// chased past their first PUTFIELD.
func skipFieldInitializers(list *classfile.InsnList, id classfile.InsnID) classfile.InsnID {
	for id != classfile.NilInsn {
		load, ok := list.Get(id).(classfile.VarInsn)
		if !ok || load.Op != classfile.ALOAD || load.Slot != 0 {
			break
		}
		valuePush := list.Next(id)
		if valuePush == classfile.NilInsn {
			break
		}
		putID := list.Next(valuePush)
		if putID == classfile.NilInsn {
			break
		}
		fi, ok := list.Get(putID).(classfile.FieldInsn)
		if !ok || fi.Op != classfile.PUTFIELD {
			break
		}
		id = list.Next(putID)
	}
	return id
}

// skipDebugMarkers advances id past any run of LabelInsn/LineNumberInsn
// nodes, landing on the first instruction that actually executes.
func skipDebugMarkers(list *classfile.InsnList, id classfile.InsnID) classfile.InsnID {
	for id != classfile.NilInsn {
		switch list.Get(id).(type) {
		case classfile.LabelInsn, classfile.LineNumberInsn:
			id = list.Next(id)
			continue
		}
		break
	}
	return id
}

// And returns the intersection of every points' hits, by instruction
// identity, preserving the first point's order.
func And(points ...Point) Point {
	return func(list *classfile.InsnList) []classfile.InsnID {
		if len(points) == 0 {
			return nil
		}
		sets := make([]map[classfile.InsnID]bool, len(points))
		for i, p := range points {
			sets[i] = toSet(p(list))
		}
		var out []classfile.InsnID
		for _, id := range points[0](list) {
			inAll := true
			for _, s := range sets[1:] {
				if !s[id] {
					inAll = false
					break
				}
			}
			if inAll {
				out = append(out, id)
			}
		}
		return out
	}
}

// Or returns the union of every point's hits, preserving first-seen order.
func Or(points ...Point) Point {
	return func(list *classfile.InsnList) []classfile.InsnID {
		seen := map[classfile.InsnID]bool{}
		var out []classfile.InsnID
		for _, p := range points {
			for _, id := range p(list) {
				if !seen[id] {
					seen[id] = true
					out = append(out, id)
				}
			}
		}
		return out
	}
}

// Shift yields, for each of base's hits, the instruction n positions away
// in the list (n may be negative).
func Shift(base Point, n int) Point {
	return func(list *classfile.InsnList) []classfile.InsnID {
		var out []classfile.InsnID
		for _, id := range base(list) {
			cur := id
			ok := true
			if n >= 0 {
				for i := 0; i < n; i++ {
					cur = list.Next(cur)
					if cur == 0 {
						ok = false
						break
					}
				}
			} else {
				for i := 0; i > n; i-- {
					cur = list.Prev(cur)
					if cur == 0 {
						ok = false
						break
					}
				}
			}
			if ok {
				out = append(out, cur)
			}
		}
		return out
	}
}

func toSet(ids []classfile.InsnID) map[classfile.InsnID]bool {
	m := make(map[classfile.InsnID]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// Registry looks up a user-registered strategy by its dotted at_code
// identifier (§4.8 "otherwise at_code containing a dotted identifier
// refers to a user-registered strategy").
type Registry struct {
	byCode map[string]func(anno *classfile.Annotation) (Point, error)
}

// NewRegistry returns an empty user-strategy registry.
func NewRegistry() *Registry {
	return &Registry{byCode: make(map[string]func(anno *classfile.Annotation) (Point, error))}
}

// Register associates a dotted at_code with a parser for its own
// annotation-encoded parameters.
func (r *Registry) Register(atCode string, parse func(anno *classfile.Annotation) (Point, error)) {
	r.byCode[atCode] = parse
}

// memberInfo is a parsed `Lowner;name(desc)ret` or `Lowner;name` target
// reference, as carried by an @At annotation's `target` element.
type memberInfo struct {
	Owner string
	Name  string
	Desc  string
}

func parseMemberInfo(s string) memberInfo {
	s = strings.TrimPrefix(s, "L")
	semi := strings.IndexByte(s, ';')
	if semi < 0 {
		return memberInfo{Name: s}
	}
	owner := s[:semi]
	rest := s[semi+1:]
	paren := strings.IndexByte(rest, '(')
	if paren < 0 {
		return memberInfo{Owner: owner, Name: rest}
	}
	return memberInfo{Owner: owner, Name: rest[:paren], Desc: rest[paren:]}
}

// Parse builds a Point from an @At annotation record (§4.8 "Parsing"):
// `{at_code, target, ordinal, opcode, args, slice, shift, by}`. reg
// resolves at_code values that aren't one of the built-ins.
func Parse(anno *classfile.Annotation, reg *Registry) (Point, error) {
	code := anno.GetString("at_code", "")
	ordinal := anno.GetInt("ordinal", -1)
	target := parseMemberInfo(anno.GetString("target", ""))
	opcode := anno.GetInt("opcode", 0)

	var p Point
	switch code {
	case "HEAD":
		p = MethodHead()
	case "RETURN":
		p = BeforeReturn(false)
	case "RETURN_FINAL":
		p = BeforeReturn(true)
	case "INVOKE":
		p = BeforeInvoke(target.Owner, target.Name, target.Desc, ordinal)
	case "INVOKE_STRING":
		p = BeforeStringInvoke(target.Owner, target.Name, target.Desc, anno.GetString("args", ""), ordinal)
	case "FIELD":
		p = BeforeFieldAccess(target.Owner, target.Name, nil, ordinal)
	case "NEW":
		p = BeforeNew(target.Desc, ordinal)
	case "JUMP":
		p = JumpInsnPoint(opcode, ordinal)
	case "CONSTANT":
		p = BeforeConstant(anno.GetString("args", ""), ordinal)
	case "LOAD":
		p = BeforeLoadLocal(anno.GetInt("index", -1), ordinal)
	case "STORE":
		p = AfterStoreLocal(anno.GetInt("index", -1), ordinal)
	case "INVOKE_ASSIGN":
		p = AfterInvoke(target.Owner, target.Name, target.Desc, ordinal)
	case "CTOR_HEAD":
		p = ConstructorHead(parseConstructorEnforce(anno.GetString("enforce", "")), target.Owner)
	default:
		if reg == nil {
			return nil, fmt.Errorf("weld: unknown injection point at_code %q", code)
		}
		parse, ok := reg.byCode[code]
		if !ok {
			return nil, fmt.Errorf("weld: unknown injection point at_code %q", code)
		}
		var err error
		p, err = parse(anno)
		if err != nil {
			return nil, err
		}
	}

	switch anno.GetString("shift", "") {
	case "BEFORE":
		p = Shift(p, -1)
	case "AFTER":
		p = Shift(p, 1)
	}
	if by := anno.GetInt("by", 0); by != 0 {
		p = Shift(p, by)
	}
	return p, nil
}
