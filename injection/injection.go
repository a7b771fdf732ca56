/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package injection is the injection orchestration component (C10): for
// one injector handler method, it resolves the target method, composes
// its injection points, runs them against the target's instruction list,
// drives the per-kind rewriters in injector, and enforces require/expect
// counts afterward (§4.10).
package injection

import (
	"fmt"
	"strings"

	"github.com/foundryvm/weld/classfile"
	"github.com/foundryvm/weld/injectionpoint"
	"github.com/foundryvm/weld/injector"
	"github.com/foundryvm/weld/mixininfo"
	"github.com/foundryvm/weld/types"
)

// CountError reports a handler that fired fewer times than its
// require/expect threshold demanded (§4.10 "PostInject").
type CountError struct {
	MixinClass, Handler string
	Want, Got           int
	Expect              bool
}

func (e *CountError) Error() string {
	kind := "require"
	if e.Expect {
		kind = "expect"
	}
	return fmt.Sprintf("weld: %s.%s: %s=%d but only %d injection(s) fired", e.MixinClass, e.Handler, kind, e.Want, e.Got)
}

// Info is one injector handler's resolved, ready-to-run injection: its
// target method reference, its composed injection point, and its
// require/expect/group bookkeeping.
type Info struct {
	MixinClass string
	Handler    *classfile.MethodNode
	RenamedTo  string
	AnnType    string
	Priority   int

	TargetName string
	TargetDesc string

	Point           injectionpoint.Point
	SliceFrom       injectionpoint.Point
	SliceTo         injectionpoint.Point
	Require         int
	Expect          int
	Group           string
	GroupMin        int

	// ArgIndex is @ModifyArg's "index" element: which 0-based argument of
	// the targeted call to modify. Unused by every other AnnType.
	ArgIndex int

	candidates []classfile.InsnID
	injected   int
}

// Parse builds an Info from a categorized injector handler (mixininfo.
// KindInjector), reading the @Inject/@ModifyArg/.../@ModifyVariable
// annotation's method/at/require/expect/group elements. reg resolves any
// dotted, user-registered at_code.
func Parse(mm *mixininfo.MethodMember, mixinClass string, priority int, reg *injectionpoint.Registry) (*Info, error) {
	anno := mm.InjectorAnnotation
	if anno == nil {
		return nil, fmt.Errorf("weld: %s.%s is not an injector handler", mixinClass, mm.Node.Name)
	}

	targetName, targetDesc := splitMethodRef(anno.GetString("method", ""))
	if targetName == "" {
		return nil, fmt.Errorf("weld: %s.%s: @%s requires a target method", mixinClass, mm.Node.Name, anno.Type)
	}

	var points []injectionpoint.Point
	for _, ev := range anno.GetArray("at") {
		if ev.Tag != classfile.EVAnnot || ev.Annotation == nil {
			continue
		}
		p, err := injectionpoint.Parse(ev.Annotation, reg)
		if err != nil {
			return nil, fmt.Errorf("weld: %s.%s: %w", mixinClass, mm.Node.Name, err)
		}
		points = append(points, p)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("weld: %s.%s declares no @At injection point", mixinClass, mm.Node.Name)
	}
	combined := points[0]
	if len(points) > 1 {
		combined = injectionpoint.Or(points...)
	}

	info := &Info{
		MixinClass: mixinClass,
		Handler:    mm.Node,
		RenamedTo:  mm.RenamedTo,
		AnnType:    anno.Type,
		Priority:   priority,
		TargetName: targetName,
		TargetDesc: targetDesc,
		Point:      combined,
		Require:    anno.GetInt("require", -1),
		Expect:     anno.GetInt("expect", -1),
		Group:      anno.GetString("group", ""),
		GroupMin:   anno.GetInt("group_min", -1),
		ArgIndex:   anno.GetInt("index", 0),
	}
	if ev, ok := anno.Get("slice_from"); ok {
		if a, ok := ev.(*classfile.Annotation); ok {
			p, err := injectionpoint.Parse(a, reg)
			if err != nil {
				return nil, fmt.Errorf("weld: %s.%s: slice_from: %w", mixinClass, mm.Node.Name, err)
			}
			info.SliceFrom = p
		}
	}
	if ev, ok := anno.Get("slice_to"); ok {
		if a, ok := ev.(*classfile.Annotation); ok {
			p, err := injectionpoint.Parse(a, reg)
			if err != nil {
				return nil, fmt.Errorf("weld: %s.%s: slice_to: %w", mixinClass, mm.Node.Name, err)
			}
			info.SliceTo = p
		}
	}
	return info, nil
}

func splitMethodRef(s string) (name, desc string) {
	paren := strings.IndexByte(s, '(')
	if paren < 0 {
		return s, ""
	}
	return s[:paren], s[paren:]
}

// Prepare runs info's composed injection point against target's
// instruction list, narrowed to info's slice window if one was declared,
// and stores the resulting candidates (§4.10 "Prepare").
func (info *Info) Prepare(target *classfile.MethodNode) {
	hits := info.Point(target.Instructions)
	if info.SliceFrom != nil || info.SliceTo != nil {
		hits = restrictToWindow(target.Instructions, hits, info.SliceFrom, info.SliceTo)
	}
	info.candidates = hits
}

// Candidates returns the instruction ids Prepare located, in list order.
func (info *Info) Candidates() []classfile.InsnID { return info.candidates }

// restrictToWindow narrows ids to those lying between the first from-hit
// and the first to-hit (inclusive), by list position. A nil from/to
// leaves that side of the window open.
func restrictToWindow(list *classfile.InsnList, ids []classfile.InsnID, from, to injectionpoint.Point) []classfile.InsnID {
	order := list.All()
	pos := make(map[classfile.InsnID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	lo, hi := 0, len(order)-1
	if from != nil {
		if hits := from(list); len(hits) > 0 {
			lo = pos[hits[0]]
		}
	}
	if to != nil {
		if hits := to(list); len(hits) > 0 {
			hi = pos[hits[0]]
		}
	}
	var out []classfile.InsnID
	for _, id := range ids {
		if p := pos[id]; p >= lo && p <= hi {
			out = append(out, id)
		}
	}
	return out
}

// Inject drives injector against every candidate in target, dispatching
// on info's own @-annotation kind, and counts how many actually applied
// (§4.10 "Inject"). handlerOwner is the target class the merged handler
// now lives on.
func (info *Info) Inject(target *injector.Target, handlerOwner string) error {
	meta := injector.Meta{Owner: info.MixinClass, Priority: info.Priority, Name: info.Handler.Name, Desc: info.Handler.Desc}
	handler := &classfile.MethodNode{Name: info.RenamedTo, Desc: info.Handler.Desc, Access: info.Handler.Access}

	for _, id := range info.candidates {
		applied, err := info.injectOne(target, id, handlerOwner, handler, meta)
		if err != nil {
			return fmt.Errorf("weld: %s.%s: %w", info.MixinClass, info.Handler.Name, err)
		}
		if applied {
			info.injected++
		}
	}
	return nil
}

func (info *Info) injectOne(target *injector.Target, id classfile.InsnID, handlerOwner string, handler *classfile.MethodNode, meta injector.Meta) (bool, error) {
	switch info.AnnType {
	case types.AnnInject:
		return injector.Inject(target, id, handlerOwner, handler, meta, nil)
	case types.AnnModifyConstant:
		return injector.ModifyConstant(target, id, handlerOwner, handler, meta)
	case types.AnnModifyVariable:
		return injector.ModifyVariable(target, id, handlerOwner, handler, meta, true)
	case types.AnnRedirect:
		return injector.Redirect(target, id, handlerOwner, handler, meta)

	case types.AnnModifyArg:
		args, ok := callArgsAt(target, id)
		if !ok {
			return false, fmt.Errorf("%s is not a method call", info.Handler.Name)
		}
		if info.ArgIndex < 0 || info.ArgIndex >= len(args) {
			return false, fmt.Errorf("%s: index %d out of range for a %d-argument call", info.Handler.Name, info.ArgIndex, len(args))
		}
		below := 0
		for _, a := range args[info.ArgIndex+1:] {
			below += classfile.StackArgSize(a[0])
		}
		return injector.ModifyArg(target, id, handlerOwner, handler, meta, below, target.Method.MaxLocals)

	case types.AnnModifyArgs:
		args, ok := callArgsAt(target, id)
		if !ok {
			return false, fmt.Errorf("%s is not a method call", info.Handler.Name)
		}
		container, unpack, extraLocals, extraStack := buildArgsContainer(args, target.Method.MaxLocals)
		return injector.ModifyArgs(target, id, handlerOwner, handler, meta, container, unpack, extraLocals, extraStack)

	default:
		return false, fmt.Errorf("unsupported injector annotation %q", info.AnnType)
	}
}

// callArgsAt returns the argument field-type descriptors of the method
// call at id, or ok=false if id is not a method call.
func callArgsAt(target *injector.Target, id classfile.InsnID) (args []string, ok bool) {
	mi, isCall := target.Method.Instructions.Get(id).(classfile.MethodInsn)
	if !isCall {
		return nil, false
	}
	args, _, ok = classfile.ParseMethodDescriptor(mi.Desc)
	return args, ok
}

// buildArgsContainer synthesizes the spill/box/pack-into-array sequence
// @ModifyArgs needs to carry a call's real arguments through its handler
// and back (§4.9 ModifyArgs): every argument is popped into a scratch
// local, boxed if primitive, and packed into an Object[] the handler
// receives and may mutate; afterward each slot is reloaded from the array,
// unboxed/cast, and pushed back in original call order. Returns the
// container and unpack instruction sequences plus the extra locals/peak
// stack the caller must additively reserve for them.
func buildArgsContainer(args []string, slotBase int) (container, unpack []classfile.Insn, extraLocals, extraStack int) {
	if len(args) == 0 {
		return nil, nil, 0, 0
	}
	offsets := make([]int, len(args))
	cursor := slotBase
	for i, a := range args {
		offsets[i] = cursor
		cursor += classfile.StackArgSize(a[0])
	}
	arraySlot := cursor
	cursor++

	for i := len(args) - 1; i >= 0; i-- {
		container = append(container, classfile.VarInsn{Op: classfile.StoreOpcodeFor(args[i][0]), Slot: offsets[i]})
	}
	container = append(container,
		classfile.IntInsn{Op: classfile.BIPUSH, Operand: len(args)},
		classfile.TypeInsn{Op: classfile.ANEWARRAY, Desc: "java/lang/Object"},
		classfile.VarInsn{Op: classfile.ASTORE, Slot: arraySlot},
	)
	for i, a := range args {
		container = append(container,
			classfile.VarInsn{Op: classfile.ALOAD, Slot: arraySlot},
			classfile.IntInsn{Op: classfile.BIPUSH, Operand: i},
			classfile.VarInsn{Op: classfile.LoadOpcodeFor(a[0]), Slot: offsets[i]},
		)
		container = append(container, boxInsns(a)...)
		container = append(container, classfile.InsnNoArg{Op: classfile.AASTORE})
	}
	container = append(container, classfile.VarInsn{Op: classfile.ALOAD, Slot: arraySlot})

	for i, a := range args {
		unpack = append(unpack,
			classfile.VarInsn{Op: classfile.ALOAD, Slot: arraySlot},
			classfile.IntInsn{Op: classfile.BIPUSH, Operand: i},
			classfile.InsnNoArg{Op: classfile.AALOAD},
		)
		unpack = append(unpack, unboxInsns(a)...)
	}

	extraLocals = cursor - slotBase
	extraStack = len(args) + 3 // arrayref + index + value live at once during a box/AASTORE step
	return container, unpack, extraLocals, extraStack
}

// boxInsns returns the instructions that box a primitive value of
// field-type desc already on the stack, or nil if desc is a reference
// type (nothing to box).
func boxInsns(desc string) []classfile.Insn {
	boxed := classfile.BoxedClassFor(desc)
	if boxed == "" {
		return nil
	}
	return []classfile.Insn{classfile.MethodInsn{
		Op: classfile.INVOKESTATIC, Owner: boxed, Name: "valueOf",
		Desc: classfile.MethodDescriptorFromTypes([]string{desc}, "L"+boxed+";"),
	}}
}

// unboxInsns returns the instructions that narrow an Object already on
// the stack down to field-type desc: a checked cast plus an unboxing call
// for a primitive, or just a checked cast for a non-array reference type.
func unboxInsns(desc string) []classfile.Insn {
	if boxed := classfile.BoxedClassFor(desc); boxed != "" {
		return []classfile.Insn{
			classfile.TypeInsn{Op: classfile.CHECKCAST, Desc: boxed},
			classfile.MethodInsn{Op: classfile.INVOKEVIRTUAL, Owner: boxed, Name: unboxMethod(desc), Desc: "()" + desc},
		}
	}
	if class := classfile.ClassNameFromObjectDescriptor(desc); class != "" {
		return []classfile.Insn{classfile.TypeInsn{Op: classfile.CHECKCAST, Desc: class}}
	}
	return nil // array type: no single class to cast to
}

func unboxMethod(desc string) string {
	switch desc {
	case "Z":
		return "booleanValue"
	case "B":
		return "byteValue"
	case "C":
		return "charValue"
	case "S":
		return "shortValue"
	case "I":
		return "intValue"
	case "J":
		return "longValue"
	case "F":
		return "floatValue"
	case "D":
		return "doubleValue"
	default:
		return ""
	}
}

// Injected reports how many candidates actually fired.
func (info *Info) Injected() int { return info.injected }

// PostInject enforces §4.10's count requirements: injected must meet
// require unconditionally, and meet expect whenever verbose is set.
func (info *Info) PostInject(verbose bool) error {
	if info.Require >= 0 && info.injected < info.Require {
		return &CountError{MixinClass: info.MixinClass, Handler: info.Handler.Name, Want: info.Require, Got: info.injected}
	}
	if verbose && info.Expect >= 0 && info.injected < info.Expect {
		return &CountError{MixinClass: info.MixinClass, Handler: info.Handler.Name, Want: info.Expect, Got: info.injected, Expect: true}
	}
	return nil
}

// PostInjectGroup enforces a named group's minimum total injection count
// summed across every Info sharing that group name (§4.10 "group
// aggregation"). A group with no declared minimum (every member's
// GroupMin < 0) is a no-op.
func PostInjectGroup(infos []*Info) error {
	if len(infos) == 0 {
		return nil
	}
	min := -1
	sum := 0
	for _, info := range infos {
		sum += info.injected
		if info.GroupMin > min {
			min = info.GroupMin
		}
	}
	if min >= 0 && sum < min {
		return fmt.Errorf("weld: injection group %q requires at least %d total injections, got %d", infos[0].Group, min, sum)
	}
	return nil
}
