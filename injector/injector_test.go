/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package injector

import (
	"testing"

	"github.com/foundryvm/weld/classfile"
)

func buildTickMethod() *classfile.MethodNode {
	list := classfile.NewInsnList()
	list.Append(classfile.VarInsn{Op: classfile.ALOAD, Slot: 0})
	list.Append(classfile.IntInsn{Op: classfile.BIPUSH, Operand: 7})
	list.Append(classfile.InsnNoArg{Op: classfile.RETURN})
	return &classfile.MethodNode{Name: "tick", Desc: "()V", Instructions: list, MaxStack: 1, MaxLocals: 1}
}

func staticHandler(name, desc string) *classfile.MethodNode {
	return &classfile.MethodNode{Name: name, Desc: desc, Access: 0x0008 /* ACC_STATIC */}
}

func TestInjectSplicesCallBeforeNode(t *testing.T) {
	m := buildTickMethod()
	tgt := NewTarget(m)
	head := m.Instructions.First()

	handler := staticHandler("onTick", "()V")
	applied, err := Inject(tgt, head, "com/example/Target", handler, Meta{Owner: "mixin", Priority: 1000, Name: "onTick"}, nil)
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if !applied {
		t.Fatal("Inject should have applied on an unclaimed node")
	}
	if m.Instructions.Len() != 4 {
		t.Fatalf("Instructions.Len() = %d, want 4 after splice", m.Instructions.Len())
	}
	first := m.Instructions.Get(m.Instructions.First())
	call, ok := first.(classfile.MethodInsn)
	if !ok || call.Name != "onTick" || call.Op != classfile.INVOKESTATIC {
		t.Fatalf("first instruction = %#v, want static call to onTick", first)
	}
}

func TestInjectLowerPriorityLosesClaimWithoutError(t *testing.T) {
	m := buildTickMethod()
	tgt := NewTarget(m)
	head := m.Instructions.First()
	handler := staticHandler("onTick", "()V")

	if _, err := Inject(tgt, head, "com/example/Target", handler, Meta{Owner: "high", Priority: 2000, Name: "a"}, nil); err != nil {
		t.Fatalf("Inject high: %v", err)
	}
	before := m.Instructions.Len()
	applied, err := Inject(tgt, head, "com/example/Target", handler, Meta{Owner: "low", Priority: 100, Name: "b"}, nil)
	if err != nil {
		t.Fatalf("Inject low: %v", err)
	}
	if applied {
		t.Fatal("lower-priority injector should not report applied")
	}
	if m.Instructions.Len() != before {
		t.Fatalf("lower-priority injector should have been skipped, list grew from %d to %d", before, m.Instructions.Len())
	}
}

func TestInjectConflictWithFinalIsHardError(t *testing.T) {
	m := buildTickMethod()
	tgt := NewTarget(m)
	head := m.Instructions.First()
	handler := staticHandler("onTick", "()V")

	if _, err := Inject(tgt, head, "com/example/Target", handler, Meta{Owner: "first", Priority: 1000, Final: true, Name: "a"}, nil); err != nil {
		t.Fatalf("Inject first: %v", err)
	}
	if _, err := Inject(tgt, head, "com/example/Target", handler, Meta{Owner: "second", Priority: 1000, Name: "b"}, nil); err == nil {
		t.Fatal("Inject: expected hard error conflicting with a final injector")
	}
}

func TestModifyConstantCallsHandlerAfterPush(t *testing.T) {
	m := buildTickMethod()
	tgt := NewTarget(m)
	var constID classfile.InsnID
	m.Instructions.Each(func(id classfile.InsnID, insn classfile.Insn) {
		if _, ok := insn.(classfile.IntInsn); ok {
			constID = id
		}
	})
	handler := staticHandler("fixSeven", "(I)I")
	if _, err := ModifyConstant(tgt, constID, "com/example/Target", handler, Meta{Owner: "mixin", Priority: 1000, Name: "fixSeven"}); err != nil {
		t.Fatalf("ModifyConstant: %v", err)
	}
	after := m.Instructions.Get(m.Instructions.Next(constID))
	call, ok := after.(classfile.MethodInsn)
	if !ok || call.Name != "fixSeven" {
		t.Fatalf("instruction after constant = %#v, want call to fixSeven", after)
	}
}

func TestRedirectReplacesNodeInPlace(t *testing.T) {
	m := buildTickMethod()
	tgt := NewTarget(m)
	id := m.Instructions.First()
	handler := staticHandler("redirected", "(Lcom/example/Target;)V")
	if _, err := Redirect(tgt, id, "com/example/Handler", handler, Meta{Owner: "mixin", Priority: 1000, Name: "redirected"}); err != nil {
		t.Fatalf("Redirect: %v", err)
	}
	insn := m.Instructions.Get(id)
	call, ok := insn.(classfile.MethodInsn)
	if !ok || call.Name != "redirected" {
		t.Fatalf("node at id = %#v, want replaced call", insn)
	}
	if m.Instructions.Len() != 3 {
		t.Fatalf("Redirect should not change instruction count, got %d", m.Instructions.Len())
	}
}

func TestModifyArgSpillsAndReloadsLowerArgs(t *testing.T) {
	m := buildTickMethod()
	tgt := NewTarget(m)
	id := m.Instructions.First()
	handler := staticHandler("fixArg", "(I)I")
	if _, err := ModifyArg(tgt, id, "com/example/Target", handler, Meta{Owner: "mixin", Priority: 1000, Name: "fixArg"}, 2, 5); err != nil {
		t.Fatalf("ModifyArg: %v", err)
	}
	if m.Instructions.Len() != 3+2+1+2 {
		t.Fatalf("Instructions.Len() = %d, want %d (2 stores + handler call + 2 reloads + original 3)", m.Instructions.Len(), 3+2+1+2)
	}
	if m.MaxLocals != 1+2 {
		t.Fatalf("MaxLocals = %d, want %d", m.MaxLocals, 1+2)
	}
}

func TestGrowStackAndLocalsAreAdditive(t *testing.T) {
	m := buildTickMethod()
	tgt := NewTarget(m)
	head := m.Instructions.First()
	handler := staticHandler("a", "()V")

	if _, err := Inject(tgt, head, "com/example/Target", handler, Meta{Owner: "x", Priority: 1000, Name: "a"}, []int{2, 3}); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if m.MaxStack != 1+3 {
		t.Fatalf("MaxStack = %d, want %d (additive over two capture slots + handler call)", m.MaxStack, 1+3)
	}
}
