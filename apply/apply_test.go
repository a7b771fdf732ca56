/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package apply

import (
	"testing"

	"github.com/foundryvm/weld/classfile"
	"github.com/foundryvm/weld/mixininfo"
	"github.com/foundryvm/weld/target"
)

func newTargetCtx() *target.Context {
	node := &classfile.ClassNode{
		Name:      "com/example/Target",
		SuperName: "java/lang/Object",
		Methods: []*classfile.MethodNode{
			{Name: "tick", Desc: "()V", Instructions: classfile.NewInsnList(), Access: 0x0001},
		},
	}
	return target.NewContext(node)
}

func TestMergePlainMethodAddsAndStamps(t *testing.T) {
	ctx := newTargetCtx()
	mi := &mixininfo.MixinInfo{
		ClassName: "com/example/MyMixin",
		Priority:  1000,
		Node:      &classfile.ClassNode{Name: "com/example/MyMixin"},
		Methods: []*mixininfo.MethodMember{
			{Node: &classfile.MethodNode{Name: "helper", Desc: "()V", Instructions: classfile.NewInsnList()}, Kind: mixininfo.KindPlain},
		},
	}
	s := NewSession(nil)
	if err := s.Merge(ctx, mi); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	got := ctx.GetClassNode().FindMethod("helper", "()V")
	if got == nil {
		t.Fatal("helper method was not merged in")
	}
	if got.Annotation(mixinMergedAnnotation) == nil {
		t.Error("merged method missing MixinMerged stamp")
	}
}

func TestMergePlainMethodConflictsIsAnError(t *testing.T) {
	ctx := newTargetCtx()
	mi := &mixininfo.MixinInfo{
		ClassName: "com/example/MyMixin",
		Node:      &classfile.ClassNode{Name: "com/example/MyMixin"},
		Methods: []*mixininfo.MethodMember{
			{Node: &classfile.MethodNode{Name: "tick", Desc: "()V", Instructions: classfile.NewInsnList()}, Kind: mixininfo.KindPlain},
		},
	}
	s := NewSession(nil)
	if err := s.Merge(ctx, mi); err == nil {
		t.Fatal("Merge: expected conflict error for plain merge of existing method")
	}
}

func TestMergeOverwriteReplacesBody(t *testing.T) {
	ctx := newTargetCtx()
	repl := classfile.NewInsnList()
	repl.Append(classfile.InsnNoArg{Op: classfile.RETURN})
	mi := &mixininfo.MixinInfo{
		ClassName: "com/example/MyMixin",
		Priority:  1000,
		Node:      &classfile.ClassNode{Name: "com/example/MyMixin"},
		Methods: []*mixininfo.MethodMember{
			{Node: &classfile.MethodNode{Name: "tick", Desc: "()V", Instructions: repl, MaxStack: 0}, Kind: mixininfo.KindOverwrite},
		},
	}
	s := NewSession(nil)
	if err := s.Merge(ctx, mi); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	got := ctx.GetClassNode().FindMethod("tick", "()V")
	if got.Instructions.Len() != 1 {
		t.Fatalf("Instructions.Len() = %d, want 1 after overwrite", got.Instructions.Len())
	}
}

func TestMergeOverwriteEqualPriorityKeepsFirst(t *testing.T) {
	ctx := newTargetCtx()
	s := NewSession(nil)

	first := &mixininfo.MixinInfo{
		ClassName: "com/example/First",
		Priority:  1000,
		Node:      &classfile.ClassNode{Name: "com/example/First"},
		Methods: []*mixininfo.MethodMember{
			{Node: &classfile.MethodNode{Name: "tick", Desc: "()V", Instructions: classfile.NewInsnList()}, Kind: mixininfo.KindOverwrite},
		},
	}
	second := &mixininfo.MixinInfo{
		ClassName: "com/example/Second",
		Priority:  1000,
		Node:      &classfile.ClassNode{Name: "com/example/Second"},
		Methods: []*mixininfo.MethodMember{
			{Node: &classfile.MethodNode{Name: "tick", Desc: "()V", Instructions: classfile.NewInsnList()}, Kind: mixininfo.KindOverwrite},
		},
	}

	if err := s.Merge(ctx, first); err != nil {
		t.Fatalf("Merge first: %v", err)
	}
	if err := s.Merge(ctx, second); err != nil {
		t.Fatalf("Merge second: %v", err)
	}
	got := ctx.GetClassNode().FindMethod("tick", "()V")
	owner := got.Annotation(mixinMergedAnnotation).GetString("owner", "")
	if owner != "com/example/First" {
		t.Errorf("owner = %q, want com/example/First (first-in-order wins equal priority)", owner)
	}
}

func TestMergeUniqueRenamesOnConflict(t *testing.T) {
	ctx := newTargetCtx()
	mi := &mixininfo.MixinInfo{
		ClassName: "com/example/MyMixin",
		Node:      &classfile.ClassNode{Name: "com/example/MyMixin"},
		Methods: []*mixininfo.MethodMember{
			{Node: &classfile.MethodNode{Name: "tick", Desc: "()V", Instructions: classfile.NewInsnList()}, Kind: mixininfo.KindUnique},
		},
	}
	s := NewSession(nil)
	if err := s.Merge(ctx, mi); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if ctx.GetClassNode().FindMethod("tick", "()V") == nil {
		t.Fatal("original tick method should remain untouched")
	}
	found := false
	for _, m := range ctx.GetClassNode().Methods {
		if m.Desc == "()V" && m.Name != "tick" {
			found = true
		}
	}
	if !found {
		t.Fatal("unique method was not renamed and added alongside the conflicting original")
	}
}

func TestMergeConstructorSplicesFieldInitializerAfterDelegateCall(t *testing.T) {
	targetCtor := classfile.NewInsnList()
	targetCtor.Append(classfile.VarInsn{Op: classfile.ALOAD, Slot: 0})
	targetCtor.Append(classfile.MethodInsn{Op: classfile.INVOKESPECIAL, Owner: "java/lang/Object", Name: "<init>", Desc: "()V"})
	targetCtor.Append(classfile.InsnNoArg{Op: classfile.RETURN})

	node := &classfile.ClassNode{
		Name:      "com/example/Target",
		SuperName: "java/lang/Object",
		Methods: []*classfile.MethodNode{
			{Name: "<init>", Desc: "()V", Instructions: targetCtor, Access: 0x0001, MaxStack: 1, MaxLocals: 1},
		},
	}
	ctx := target.NewContext(node)

	mixinCtor := classfile.NewInsnList()
	mixinCtor.Append(classfile.VarInsn{Op: classfile.ALOAD, Slot: 0})
	mixinCtor.Append(classfile.MethodInsn{Op: classfile.INVOKESPECIAL, Owner: "java/lang/Object", Name: "<init>", Desc: "()V"})
	mixinCtor.Append(classfile.VarInsn{Op: classfile.ALOAD, Slot: 0})
	mixinCtor.Append(classfile.IntInsn{Op: classfile.BIPUSH, Operand: 1})
	mixinCtor.Append(classfile.FieldInsn{Op: classfile.PUTFIELD, Owner: "com/example/MyMixin", Name: "ready", Desc: "Z"})
	mixinCtor.Append(classfile.InsnNoArg{Op: classfile.RETURN})

	mi := &mixininfo.MixinInfo{
		ClassName: "com/example/MyMixin",
		Node:      &classfile.ClassNode{Name: "com/example/MyMixin"},
		Methods: []*mixininfo.MethodMember{
			{Node: &classfile.MethodNode{Name: "<init>", Desc: "()V", Instructions: mixinCtor, MaxStack: 2, MaxLocals: 1}, Kind: mixininfo.KindConstructor},
		},
	}

	s := NewSession(nil)
	if err := s.Merge(ctx, mi); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	got := ctx.GetClassNode().FindMethod("<init>", "()V")
	if got.Instructions.Len() != 6 {
		t.Fatalf("Instructions.Len() = %d, want 6 (3 original + 3 spliced)", got.Instructions.Len())
	}

	ids := got.Instructions.All()
	field, ok := got.Instructions.Get(ids[4]).(classfile.FieldInsn)
	if !ok {
		t.Fatalf("instruction 4 = %T, want FieldInsn", got.Instructions.Get(ids[4]))
	}
	if field.Owner != "com/example/Target" {
		t.Errorf("spliced PUTFIELD owner = %q, want com/example/Target (self-reference should remap)", field.Owner)
	}
	if _, ok := got.Instructions.Get(ids[5]).(classfile.InsnNoArg); !ok {
		t.Fatalf("instruction 5 = %T, want the original RETURN", got.Instructions.Get(ids[5]))
	}
	if got.MaxStack != 3 || got.MaxLocals != 2 {
		t.Errorf("MaxStack/MaxLocals = %d/%d, want 3/2 (additive growth from the mixin constructor)", got.MaxStack, got.MaxLocals)
	}
}

func TestMergeIntrinsicSkipsWhenPresent(t *testing.T) {
	ctx := newTargetCtx()
	mi := &mixininfo.MixinInfo{
		ClassName: "com/example/MyMixin",
		Node:      &classfile.ClassNode{Name: "com/example/MyMixin"},
		Methods: []*mixininfo.MethodMember{
			{Node: &classfile.MethodNode{Name: "tick", Desc: "()V", Instructions: classfile.NewInsnList()}, Kind: mixininfo.KindIntrinsic},
		},
	}
	s := NewSession(nil)
	if err := s.Merge(ctx, mi); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(ctx.GetClassNode().Methods) != 1 {
		t.Fatalf("intrinsic merge should have been a no-op, got %d methods", len(ctx.GetClassNode().Methods))
	}
}
