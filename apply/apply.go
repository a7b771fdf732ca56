/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package apply is the applicator component (C7): it merges one mixin's
// interfaces, fields and methods into a target.Context, remapping
// references to the mixin's own (renamed) members as it goes and stamping
// merged members with a MixinMerged debug annotation.
package apply

import (
	"fmt"

	"github.com/foundryvm/weld/classfile"
	"github.com/foundryvm/weld/mixininfo"
	"github.com/foundryvm/weld/refmap"
	"github.com/foundryvm/weld/session"
	"github.com/foundryvm/weld/target"
	"github.com/foundryvm/weld/tracelog"
	"github.com/foundryvm/weld/types"
)

// mixinMergedAnnotation is weld's own debug-record annotation type (§3
// DATA MODEL addendum); not part of the shared types.Ann* vocabulary
// because it is produced by weld rather than read off user mixin classes.
const mixinMergedAnnotation = "Lweld/MixinMerged;"

// ownerOf records, for every target method name+desc weld has merged in,
// the mixin class and priority that won it, so a later conflicting
// overwrite from a lower-priority mixin can be rejected and a
// higher-priority one can be allowed to replace it (§4.7 tie-break rule).
type ownerOf struct {
	mixinClass string
	priority   int
	final      bool
}

// owners is process-local merge bookkeeping for one applicator run,
// keyed by "name<>desc"; a fresh map is created per Merge call sequence
// by the caller via NewSession.
type Session struct {
	refs   *refmap.Document
	owners map[string]ownerOf
}

// NewSession starts a fresh applicator run against one refmap document
// (nil is fine — Remap then falls through to identity for every symbol).
func NewSession(refs *refmap.Document) *Session {
	return &Session{refs: refs, owners: make(map[string]ownerOf)}
}

// Merge applies one mixin into ctx (§4.7), matching the signature
// target.Context.ApplyMixins expects for its merge callback.
func (s *Session) Merge(ctx *target.Context, mi *mixininfo.MixinInfo) error {
	for _, iface := range mi.Node.Interfaces {
		ctx.AddInterface(iface)
	}

	for _, fm := range mi.Fields {
		if fm.Kind == mixininfo.KindShadow {
			continue
		}
		if err := s.mergeField(ctx, mi, fm); err != nil {
			return err
		}
	}

	for _, mm := range mi.Methods {
		switch mm.Kind {
		case mixininfo.KindShadow:
			continue
		case mixininfo.KindConstructor:
			if err := s.mergeConstructor(ctx, mi, mm); err != nil {
				return err
			}
		default:
			if err := s.mergeMethod(ctx, mi, mm); err != nil {
				return err
			}
		}
	}

	return nil
}

// mergeConstructor implements §4.7's constructor initializer merging: a
// mixin's "<init>" contributes no method of its own to the target (every
// target already has its own constructors) — instead, the instance-field
// initializer code between its delegate constructor call and its return is
// spliced into every target constructor sharing its descriptor, right
// after that constructor's own delegate call. Matching by descriptor
// means the spliced code's local-variable slots (this plus constructor
// arguments) already line up with the target constructor's, since a
// mixin constructor is required to mirror the signature of the
// constructor it contributes to.
func (s *Session) mergeConstructor(ctx *target.Context, mi *mixininfo.MixinInfo, mm *mixininfo.MethodMember) error {
	segment, err := constructorInitializerSegment(mm.Node)
	if err != nil {
		return fmt.Errorf("weld: mixin %s: constructor %s: %w", mi.ClassName, mm.Node.Desc, err)
	}
	if len(segment) == 0 {
		return nil
	}

	node := ctx.GetClassNode()
	targetCtor := node.FindMethod("<init>", mm.Node.Desc)
	if targetCtor == nil {
		return fmt.Errorf("weld: mixin %s: constructor %s has no matching target constructor", mi.ClassName, mm.Node.Desc)
	}
	insertAfter, err := delegateConstructorCall(targetCtor)
	if err != nil {
		return fmt.Errorf("weld: mixin %s: target constructor %s: %w", mi.ClassName, mm.Node.Desc, err)
	}

	renames := s.injectorRenames(mi)
	targetName := node.Name
	list := targetCtor.Instructions
	at := insertAfter
	oldToNew := make(map[classfile.InsnID]classfile.InsnID, len(segment))
	for _, oldID := range segment {
		at = list.InsertAfter(at, s.remapInsn(mm.Node.Instructions.Get(oldID), mi, targetName, renames))
		oldToNew[oldID] = at
	}
	// A label/line-number/jump instruction copied into the segment refers
	// to InsnIDs from the mixin's own instruction list; retarget any that
	// land inside the segment to their new ids. A jump reaching outside
	// the segment (e.g. into the constructor's delegate-call setup) isn't
	// supported — field initializers aren't expected to branch there.
	for _, newID := range oldToNew {
		switch v := list.Get(newID).(type) {
		case classfile.JumpInsn:
			if mapped, ok := oldToNew[v.Target]; ok {
				v.Target = mapped
				list.Set(newID, v)
			}
		case classfile.LineNumberInsn:
			if mapped, ok := oldToNew[v.Label]; ok {
				v.Label = mapped
				list.Set(newID, v)
			}
		}
	}

	targetCtor.MaxStack += mm.Node.MaxStack
	targetCtor.MaxLocals += mm.Node.MaxLocals
	return nil
}

// constructorInitializerSegment returns the ids, within m's own
// instruction list, of the instructions between a mixin constructor's
// delegate constructor call (the first "<init>" invocation, i.e. its
// this()/super()) and its return — or an error if no delegate call is
// found, since every constructor body must have one.
func constructorInitializerSegment(m *classfile.MethodNode) ([]classfile.InsnID, error) {
	list := m.Instructions
	if list == nil {
		return nil, nil
	}
	id := list.First()
	for id != classfile.NilInsn {
		if mi, ok := list.Get(id).(classfile.MethodInsn); ok && mi.Name == "<init>" {
			id = list.Next(id)
			break
		}
		id = list.Next(id)
	}
	if id == classfile.NilInsn {
		return nil, fmt.Errorf("no delegate constructor call found")
	}

	var segment []classfile.InsnID
	for id != classfile.NilInsn {
		if noArg, ok := list.Get(id).(classfile.InsnNoArg); ok && classfile.IsReturn(noArg.Op) {
			break
		}
		segment = append(segment, id)
		id = list.Next(id)
	}
	return segment, nil
}

// delegateConstructorCall returns the instruction id of a constructor's own
// delegate call (this()/super()), the point every mixin-contributed
// initializer segment is spliced in right after.
func delegateConstructorCall(m *classfile.MethodNode) (classfile.InsnID, error) {
	list := m.Instructions
	if list == nil {
		return classfile.NilInsn, fmt.Errorf("constructor has no instructions")
	}
	for id := list.First(); id != classfile.NilInsn; id = list.Next(id) {
		if mi, ok := list.Get(id).(classfile.MethodInsn); ok && mi.Name == "<init>" {
			return id, nil
		}
	}
	return classfile.NilInsn, fmt.Errorf("no delegate constructor call found")
}

func (s *Session) mergeField(ctx *target.Context, mi *mixininfo.MixinInfo, fm *mixininfo.FieldMember) error {
	node := ctx.GetClassNode()
	existing := node.FindField(fm.Node.Name)
	if existing != nil && fm.Kind != mixininfo.KindUnique && !fm.Mutable {
		return fmt.Errorf("weld: mixin %s: field %s conflicts with existing target field", mi.ClassName, fm.Node.Name)
	}
	if existing != nil {
		return nil // KindUnique, or @Mutable and already present: nothing to add
	}
	copied := *fm.Node
	return ctx.AddMergedField(&copied)
}

func (s *Session) mergeMethod(ctx *target.Context, mi *mixininfo.MixinInfo, mm *mixininfo.MethodMember) error {
	node := ctx.GetClassNode()
	existing := node.FindMethod(mm.Node.Name, mm.Node.Desc)
	key := mm.Node.Name + "<>" + mm.Node.Desc

	switch mm.Kind {
	case mixininfo.KindOverwrite:
		if existing == nil {
			return fmt.Errorf("weld: mixin %s: @Overwrite %s%s has no matching target method", mi.ClassName, mm.Node.Name, mm.Node.Desc)
		}
		if prior, ok := s.owners[key]; ok {
			if prior.priority > mi.Priority {
				tracelog.Warning(fmt.Sprintf("weld: mixin %s: overwrite of %s skipped, %s already holds it at higher priority", mi.ClassName, key, prior.mixinClass))
				return nil
			}
			if prior.priority == mi.Priority {
				tracelog.Warning(fmt.Sprintf("weld: mixin %s: overwrite of %s skipped, %s already holds it at equal priority", mi.ClassName, key, prior.mixinClass))
				return nil
			}
			if prior.final {
				return fmt.Errorf("weld: mixin %s: cannot override final overwrite of %s by %s", mi.ClassName, key, prior.mixinClass)
			}
		}
		copy := s.copyMerged(mi, mm)
		copy.Access = types.ApplyVisibility(copy.Access, types.Widen(copy.Visibility(), existing.Visibility()))
		// Remap and stamp copy before handing it to ReplaceMethod: that
		// call assigns existing.Annotations = copy.Annotations by value,
		// so a stamp appended afterward (which may reallocate the slice)
		// would land on copy alone and never reach existing.
		s.remapInstructions(ctx, mi, copy)
		s.stamp(copy, mi)
		if err := ctx.ReplaceMethod(mm.Node.Name, mm.Node.Desc, copy); err != nil {
			return err
		}
		s.owners[key] = ownerOf{mixinClass: mi.ClassName, priority: mi.Priority, final: mm.Node.Annotation(types.AnnFinal) != nil}
		return nil

	case mixininfo.KindUnique:
		copy := s.copyMerged(mi, mm)
		if existing != nil {
			newName := ctx.RenameMethod(copy, mm.Node.Name+"$weld$unique")
			copy.Name = newName
		}
		if err := ctx.AddMergedMethod(copy); err != nil {
			return err
		}
		s.remapInstructions(ctx, mi, copy)
		s.stamp(copy, mi)
		return nil

	case mixininfo.KindIntrinsic:
		if existing != nil {
			return nil
		}
		copy := s.copyMerged(mi, mm)
		if err := ctx.AddMergedMethod(copy); err != nil {
			return err
		}
		s.remapInstructions(ctx, mi, copy)
		s.stamp(copy, mi)
		return nil

	case mixininfo.KindAccessor:
		if existing != nil {
			return fmt.Errorf("weld: mixin %s: accessor %s%s conflicts with existing target method", mi.ClassName, mm.Node.Name, mm.Node.Desc)
		}
		synthesized, err := synthesizeAccessor(ctx, mi, mm)
		if err != nil {
			return err
		}
		if err := ctx.AddMergedMethod(synthesized); err != nil {
			return err
		}
		s.stamp(synthesized, mi)
		return nil

	case mixininfo.KindInvoker:
		if existing != nil {
			return fmt.Errorf("weld: mixin %s: invoker %s%s conflicts with existing target method", mi.ClassName, mm.Node.Name, mm.Node.Desc)
		}
		synthesized, err := synthesizeInvoker(ctx, mi, mm)
		if err != nil {
			return err
		}
		if err := ctx.AddMergedMethod(synthesized); err != nil {
			return err
		}
		s.stamp(synthesized, mi)
		return nil

	case mixininfo.KindInjector:
		// Injectors splice into an existing handler method under their
		// deterministic rename; C10 drives the actual bytecode rewrite.
		// Here the applicator only makes the renamed handler available
		// on the target so C9/C10 can locate and call into it.
		copy := s.copyMerged(mi, mm)
		copy.Name = mm.RenamedTo
		if err := ctx.AddMergedMethod(copy); err != nil {
			return err
		}
		s.remapInstructions(ctx, mi, copy)
		s.stamp(copy, mi)
		return nil

	default: // plain merge
		if existing != nil {
			return fmt.Errorf("weld: mixin %s: method %s%s conflicts with existing target method", mi.ClassName, mm.Node.Name, mm.Node.Desc)
		}
		copy := s.copyMerged(mi, mm)
		if err := ctx.AddMergedMethod(copy); err != nil {
			return err
		}
		s.remapInstructions(ctx, mi, copy)
		s.stamp(copy, mi)
		return nil
	}
}

// copyMerged returns a shallow copy of mm's method suitable for splicing
// into the target. Callers that replace an existing target method widen
// the copy's visibility afterward if needed (an overwrite must not narrow
// the method it replaces); a freshly added method keeps the mixin's own
// declared visibility as-is.
func (s *Session) copyMerged(mi *mixininfo.MixinInfo, mm *mixininfo.MethodMember) *classfile.MethodNode {
	copy := *mm.Node
	return &copy
}

// synthesizeAccessor builds a real method body for an @Accessor method: a
// bare getter (no args, non-void return) reads the target field, a bare
// setter (one arg, void return) writes it. An @Accessor is declared
// abstract on the mixin — without a synthesized body it would splice
// straight into a concrete target class as an abstract method, which is
// not a valid class file.
func synthesizeAccessor(ctx *target.Context, mi *mixininfo.MixinInfo, mm *mixininfo.MethodMember) (*classfile.MethodNode, error) {
	field := ctx.GetClassNode().FindField(mm.AccessorTarget)
	if field == nil {
		return nil, fmt.Errorf("weld: mixin %s: accessor %s targets unknown field %s", mi.ClassName, mm.Node.Name, mm.AccessorTarget)
	}
	args, ret, ok := classfile.ParseMethodDescriptor(mm.Node.Desc)
	if !ok {
		return nil, fmt.Errorf("weld: mixin %s: accessor %s%s has a malformed descriptor", mi.ClassName, mm.Node.Name, mm.Node.Desc)
	}
	copied := *mm.Node
	copied.Access &^= types.AccAbstract
	insns := classfile.NewInsnList()
	owner := ctx.GetClassNode().Name
	static := field.Access&types.AccStatic != 0

	switch {
	case len(args) == 0 && ret != "V": // getter
		if !static {
			insns.Append(classfile.VarInsn{Op: classfile.ALOAD, Slot: 0})
		}
		op := classfile.GETFIELD
		if static {
			op = classfile.GETSTATIC
		}
		insns.Append(classfile.FieldInsn{Op: op, Owner: owner, Name: field.Name, Desc: field.Desc})
		insns.Append(classfile.InsnNoArg{Op: classfile.ReturnOpcodeFor(ret)})
		copied.MaxStack = classfile.StackArgSize(field.Desc[0])
		if static {
			copied.MaxLocals = 0
		} else {
			copied.MaxLocals = 1
		}

	case len(args) == 1 && ret == "V": // setter
		slot := 0
		if !static {
			insns.Append(classfile.VarInsn{Op: classfile.ALOAD, Slot: 0})
			slot = 1
		}
		insns.Append(classfile.VarInsn{Op: classfile.LoadOpcodeFor(args[0][0]), Slot: slot})
		op := classfile.PUTFIELD
		if static {
			op = classfile.PUTSTATIC
		}
		insns.Append(classfile.FieldInsn{Op: op, Owner: owner, Name: field.Name, Desc: field.Desc})
		insns.Append(classfile.InsnNoArg{Op: classfile.RETURN})
		width := classfile.StackArgSize(args[0][0])
		copied.MaxStack = width
		if !static {
			copied.MaxStack++
		}
		copied.MaxLocals = slot + width

	default:
		return nil, fmt.Errorf("weld: mixin %s: accessor %s%s is neither a bare getter nor a bare setter", mi.ClassName, mm.Node.Name, mm.Node.Desc)
	}

	copied.Instructions = insns
	return &copied, nil
}

// synthesizeInvoker builds a real method body for an @Invoker method: load
// the receiver (unless the target method is static) and every argument in
// slot order, invoke the target method directly (INVOKESTATIC for a static
// target, INVOKESPECIAL otherwise so the exact declared implementation
// runs rather than whatever overrides it virtually), then return its
// result. Like @Accessor, an @Invoker is declared abstract on the mixin.
func synthesizeInvoker(ctx *target.Context, mi *mixininfo.MixinInfo, mm *mixininfo.MethodMember) (*classfile.MethodNode, error) {
	node := ctx.GetClassNode()
	invoked := node.FindMethod(mm.AccessorTarget, mm.Node.Desc)
	if invoked == nil {
		return nil, fmt.Errorf("weld: mixin %s: invoker %s targets unknown method %s%s", mi.ClassName, mm.Node.Name, mm.AccessorTarget, mm.Node.Desc)
	}
	args, ret, ok := classfile.ParseMethodDescriptor(mm.Node.Desc)
	if !ok {
		return nil, fmt.Errorf("weld: mixin %s: invoker %s%s has a malformed descriptor", mi.ClassName, mm.Node.Name, mm.Node.Desc)
	}
	copied := *mm.Node
	copied.Access &^= types.AccAbstract
	insns := classfile.NewInsnList()
	static := invoked.Access&types.AccStatic != 0

	slot, stack, maxStack := 0, 0, 0
	if !static {
		insns.Append(classfile.VarInsn{Op: classfile.ALOAD, Slot: 0})
		slot, stack, maxStack = 1, 1, 1
	}
	for _, a := range args {
		insns.Append(classfile.VarInsn{Op: classfile.LoadOpcodeFor(a[0]), Slot: slot})
		width := classfile.StackArgSize(a[0])
		slot += width
		stack += width
		if stack > maxStack {
			maxStack = stack
		}
	}
	op := classfile.INVOKESTATIC
	if !static {
		op = classfile.INVOKESPECIAL
	}
	insns.Append(classfile.MethodInsn{Op: op, Owner: node.Name, Name: invoked.Name, Desc: invoked.Desc})
	insns.Append(classfile.InsnNoArg{Op: classfile.ReturnOpcodeFor(ret)})

	if ret != "V" {
		if w := classfile.StackArgSize(ret[0]); w > maxStack {
			maxStack = w
		}
	}
	copied.MaxStack = maxStack
	copied.MaxLocals = slot
	copied.Instructions = insns
	return &copied, nil
}

// stamp records a MixinMerged(owner, priority, sessionID) annotation on m
// (§4.7).
func (s *Session) stamp(m *classfile.MethodNode, mi *mixininfo.MixinInfo) {
	m.Annotations = append(m.Annotations, classfile.Annotation{
		Type: mixinMergedAnnotation,
		Elements: map[string]classfile.ElementValue{
			"owner":     {Tag: classfile.EVString, Const: mi.ClassName},
			"priority":  {Tag: classfile.EVInt, Const: int32(mi.Priority)},
			"sessionId": {Tag: classfile.EVString, Const: session.ID()},
		},
	})
}

// remapInstructions rewrites every field/method reference inside m that
// targets the mixin's own class: references to the mixin's injector
// handlers are redirected to their post-merge renamed form, and any other
// self-reference has its owner rewritten to the target class. Everything
// else goes through the refmap for the mixin's context (§4.7 "Reference
// remap").
func (s *Session) remapInstructions(ctx *target.Context, mi *mixininfo.MixinInfo, m *classfile.MethodNode) {
	if m.Instructions == nil {
		return
	}
	renames := s.injectorRenames(mi)
	targetName := ctx.GetClassNode().Name

	m.Instructions.Each(func(id classfile.InsnID, insn classfile.Insn) {
		m.Instructions.Set(id, s.remapInsn(insn, mi, targetName, renames))
	})
}

// injectorRenames maps every injector handler's original name+desc to its
// deterministic post-merge name, for remapInsn's self-call rewriting.
func (s *Session) injectorRenames(mi *mixininfo.MixinInfo) map[string]string {
	renames := make(map[string]string, len(mi.Methods))
	for _, mm := range mi.Methods {
		if mm.RenamedTo != "" {
			renames[mm.Node.Name+mm.Node.Desc] = mm.RenamedTo
		}
	}
	return renames
}

// remapInsn rewrites one instruction's field/method reference: a
// self-reference (owner == mi.ClassName) is retargeted to targetName,
// renaming to an injector handler's post-merge name where renames has one;
// any other reference goes through the refmap for the mixin's context
// (§4.7 "Reference remap"). Instructions that aren't field/method
// references pass through unchanged.
func (s *Session) remapInsn(insn classfile.Insn, mi *mixininfo.MixinInfo, targetName string, renames map[string]string) classfile.Insn {
	switch v := insn.(type) {
	case classfile.FieldInsn:
		if v.Owner == mi.ClassName {
			v.Owner = targetName
		}
		if s.refs != nil {
			sym := refmap.FieldSymbol(v.Name, v.Desc)
			v.Name = stripSuffix(s.refs.Remap(mi.ClassName, v.Owner, sym))
		}
		return v
	case classfile.MethodInsn:
		if v.Owner == mi.ClassName {
			v.Owner = targetName
			if renamed, ok := renames[v.Name+v.Desc]; ok {
				v.Name = renamed
			}
		} else if s.refs != nil {
			sym := refmap.MethodSymbol(v.Name, v.Desc)
			v.Name = stripDesc(s.refs.Remap(mi.ClassName, v.Owner, sym))
		}
		return v
	default:
		return insn
	}
}

// stripSuffix strips refmap's ":"-joined descriptor suffix off a field
// symbol remap result, returning just the resolved name.
func stripSuffix(remapped string) string {
	for i := 0; i < len(remapped); i++ {
		if remapped[i] == ':' {
			return remapped[:i]
		}
	}
	return remapped
}

// stripDesc strips a method symbol remap result's "(desc)ret" suffix,
// returning just the resolved name.
func stripDesc(remapped string) string {
	for i := 0; i < len(remapped); i++ {
		if remapped[i] == '(' {
			return remapped[:i]
		}
	}
	return remapped
}
