/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package injectionpoint

import (
	"testing"

	"github.com/foundryvm/weld/classfile"
)

func buildMethodBody() *classfile.InsnList {
	list := classfile.NewInsnList()
	list.Append(classfile.VarInsn{Op: classfile.ALOAD, Slot: 0})
	list.Append(classfile.MethodInsn{Op: classfile.INVOKEVIRTUAL, Owner: "com/example/Target", Name: "helper", Desc: "()V"})
	list.Append(classfile.IntInsn{Op: classfile.BIPUSH, Operand: 7})
	list.Append(classfile.InsnNoArg{Op: classfile.RETURN})
	return list
}

func TestMethodHeadSkipsNothingOnPlainBody(t *testing.T) {
	list := buildMethodBody()
	hits := MethodHead()(list)
	if len(hits) != 1 || hits[0] != list.First() {
		t.Fatalf("MethodHead hits = %v, want [%v]", hits, list.First())
	}
}

func TestBeforeReturnFindsAllAndFinalOnly(t *testing.T) {
	list := classfile.NewInsnList()
	list.Append(classfile.InsnNoArg{Op: classfile.RETURN})
	list.Append(classfile.InsnNoArg{Op: classfile.RETURN})

	all := BeforeReturn(false)(list)
	if len(all) != 2 {
		t.Fatalf("BeforeReturn(false) = %d hits, want 2", len(all))
	}
	final := BeforeReturn(true)(list)
	if len(final) != 1 || final[0] != list.Last() {
		t.Fatalf("BeforeReturn(true) = %v, want [%v]", final, list.Last())
	}
}

func TestBeforeInvokeMatchesByNameAndOrdinal(t *testing.T) {
	list := buildMethodBody()
	hits := BeforeInvoke("com/example/Target", "helper", "", -1)
	got := hits(list)
	if len(got) != 1 {
		t.Fatalf("BeforeInvoke = %d hits, want 1", len(got))
	}
	none := BeforeInvoke("com/example/Other", "", "", -1)(list)
	if len(none) != 0 {
		t.Fatalf("BeforeInvoke for unrelated owner = %v, want none", none)
	}
}

func TestBeforeConstantMatchesIntOperand(t *testing.T) {
	list := buildMethodBody()
	hits := BeforeConstant(7, -1)(list)
	if len(hits) != 1 {
		t.Fatalf("BeforeConstant(7) = %d hits, want 1", len(hits))
	}
}

func TestShiftMovesByOffset(t *testing.T) {
	list := buildMethodBody()
	head := MethodHead()
	shifted := Shift(head, 1)(list)
	if len(shifted) != 1 || shifted[0] != list.Next(list.First()) {
		t.Fatalf("Shift(+1) = %v, want [%v]", shifted, list.Next(list.First()))
	}
}

func TestAndIntersectsHits(t *testing.T) {
	list := buildMethodBody()
	invoke := BeforeInvoke("com/example/Target", "helper", "", -1)
	all := func(l *classfile.InsnList) []classfile.InsnID { return l.All() }
	both := And(invoke, all)(list)
	if len(both) != 1 {
		t.Fatalf("And = %d hits, want 1", len(both))
	}
}

func TestOrUnionsPreservingOrder(t *testing.T) {
	list := buildMethodBody()
	head := MethodHead()
	ret := BeforeReturn(false)
	union := Or(head, ret)(list)
	if len(union) != 2 {
		t.Fatalf("Or = %d hits, want 2", len(union))
	}
	if union[0] != list.First() {
		t.Errorf("Or should preserve first-seen order, got %v first", union[0])
	}
}

func TestOrdinalSelectsNthMatch(t *testing.T) {
	list := classfile.NewInsnList()
	list.Append(classfile.IntInsn{Op: classfile.BIPUSH, Operand: 1})
	list.Append(classfile.IntInsn{Op: classfile.BIPUSH, Operand: 1})
	list.Append(classfile.IntInsn{Op: classfile.BIPUSH, Operand: 1})

	all := BeforeConstant(1, -1)(list)
	if len(all) != 3 {
		t.Fatalf("ordinal=-1 = %d hits, want 3", len(all))
	}
	second := BeforeConstant(1, 1)(list)
	if len(second) != 1 || second[0] != all[1] {
		t.Fatalf("ordinal=1 = %v, want [%v]", second, all[1])
	}
}

func TestParseResolvesBuiltinAtCode(t *testing.T) {
	anno := &classfile.Annotation{Elements: map[string]classfile.ElementValue{
		"at_code": {Tag: classfile.EVString, Const: "HEAD"},
	}}
	p, err := Parse(anno, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	list := buildMethodBody()
	hits := p(list)
	if len(hits) != 1 || hits[0] != list.First() {
		t.Fatalf("Parse(HEAD) hits = %v, want [%v]", hits, list.First())
	}
}

func TestParseRejectsUnknownAtCode(t *testing.T) {
	anno := &classfile.Annotation{Elements: map[string]classfile.ElementValue{
		"at_code": {Tag: classfile.EVString, Const: "NOT_A_REAL_CODE"},
	}}
	if _, err := Parse(anno, nil); err == nil {
		t.Fatal("Parse: expected error for unknown at_code with no registry")
	}
}

func TestParseDelegatesToRegistryForDottedCode(t *testing.T) {
	reg := NewRegistry()
	reg.Register("com.example.CustomPoint", func(anno *classfile.Annotation) (Point, error) {
		return MethodHead(), nil
	})
	anno := &classfile.Annotation{Elements: map[string]classfile.ElementValue{
		"at_code": {Tag: classfile.EVString, Const: "com.example.CustomPoint"},
	}}
	p, err := Parse(anno, reg)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	list := buildMethodBody()
	if hits := p(list); len(hits) != 1 {
		t.Fatalf("registry-resolved point = %d hits, want 1", len(hits))
	}
}

func buildLoadStoreBody() *classfile.InsnList {
	list := classfile.NewInsnList()
	list.Append(classfile.VarInsn{Op: classfile.ILOAD, Slot: 1})
	list.Append(classfile.VarInsn{Op: classfile.ALOAD, Slot: 2})
	list.Append(classfile.VarInsn{Op: classfile.ISTORE, Slot: 1})
	list.Append(classfile.InsnNoArg{Op: classfile.RETURN})
	return list
}

func TestBeforeLoadLocalMatchesByIndexNotOrdinalSlot(t *testing.T) {
	list := buildLoadStoreBody()
	hits := BeforeLoadLocal(2, -1)(list)
	if len(hits) != 1 || hits[0] != list.Next(list.First()) {
		t.Fatalf("BeforeLoadLocal(2, -1) = %v, want the ALOAD at slot 2", hits)
	}
	any := BeforeLoadLocal(-1, -1)(list)
	if len(any) != 2 {
		t.Fatalf("BeforeLoadLocal(-1, -1) = %d hits, want 2", len(any))
	}
}

func TestAfterStoreLocalMatchesByIndex(t *testing.T) {
	list := buildLoadStoreBody()
	hits := AfterStoreLocal(1, -1)(list)
	if len(hits) != 1 {
		t.Fatalf("AfterStoreLocal(1, -1) = %d hits, want 1", len(hits))
	}
	none := AfterStoreLocal(9, -1)(list)
	if len(none) != 0 {
		t.Fatalf("AfterStoreLocal(9, -1) = %v, want none", none)
	}
}

func TestParseLoadAndStoreReadIndexAndOrdinalSeparately(t *testing.T) {
	list := buildLoadStoreBody()

	loadAnno := &classfile.Annotation{Elements: map[string]classfile.ElementValue{
		"at_code": {Tag: classfile.EVString, Const: "LOAD"},
		"index":   {Tag: classfile.EVInt, Const: int32(2)},
	}}
	p, err := Parse(loadAnno, nil)
	if err != nil {
		t.Fatalf("Parse(LOAD): %v", err)
	}
	hits := p(list)
	if len(hits) != 1 || hits[0] != list.Next(list.First()) {
		t.Fatalf("Parse(LOAD) index=2 = %v, want the ALOAD at slot 2", hits)
	}

	storeAnno := &classfile.Annotation{Elements: map[string]classfile.ElementValue{
		"at_code": {Tag: classfile.EVString, Const: "STORE"},
		"index":   {Tag: classfile.EVInt, Const: int32(1)},
	}}
	p, err = Parse(storeAnno, nil)
	if err != nil {
		t.Fatalf("Parse(STORE): %v", err)
	}
	if hits := p(list); len(hits) != 1 {
		t.Fatalf("Parse(STORE) index=1 = %d hits, want 1", len(hits))
	}
}

func buildConstructorBody(ownerName string) *classfile.InsnList {
	list := classfile.NewInsnList()
	list.Append(classfile.VarInsn{Op: classfile.ALOAD, Slot: 0})
	list.Append(classfile.MethodInsn{Op: classfile.INVOKESPECIAL, Owner: "java/lang/Object", Name: "<init>", Desc: "()V"})
	list.Append(classfile.VarInsn{Op: classfile.ALOAD, Slot: 0})
	list.Append(classfile.IntInsn{Op: classfile.BIPUSH, Operand: 7})
	list.Append(classfile.FieldInsn{Op: classfile.PUTFIELD, Owner: ownerName, Name: "x", Desc: "I"})
	list.Append(classfile.LineNumberInsn{Line: 12})
	list.Append(classfile.VarInsn{Op: classfile.ALOAD, Slot: 0})
	list.Append(classfile.InsnNoArg{Op: classfile.RETURN})
	return list
}

func TestConstructorHeadEnforceVariantsYieldDistinctPositions(t *testing.T) {
	owner := "com/example/Target"
	list := buildConstructorBody(owner)

	postDelegate := ConstructorHead(EnforcePostDelegate, "java/lang/Object")(list)
	postInitializer := ConstructorHead(EnforcePostInitializer, "java/lang/Object")(list)
	firstBody := ConstructorHead(EnforceFirstBody, "java/lang/Object")(list)

	if len(postDelegate) != 1 || len(postInitializer) != 1 || len(firstBody) != 1 {
		t.Fatalf("expected exactly one hit per variant, got %v %v %v", postDelegate, postInitializer, firstBody)
	}
	if postDelegate[0] == postInitializer[0] {
		t.Fatalf("EnforcePostDelegate and EnforcePostInitializer landed on the same instruction %v", postDelegate[0])
	}
	if postInitializer[0] == firstBody[0] {
		t.Fatalf("EnforcePostInitializer and EnforceFirstBody landed on the same instruction %v", postInitializer[0])
	}

	// postDelegate must be the ALOAD_0 that begins the field initializer.
	if insn, ok := list.Get(postDelegate[0]).(classfile.VarInsn); !ok || insn.Op != classfile.ALOAD || insn.Slot != 0 {
		t.Fatalf("EnforcePostDelegate did not land on the initializer's ALOAD_0: %#v", list.Get(postDelegate[0]))
	}
	// postInitializer must be the LineNumberInsn right after the PUTFIELD.
	if _, ok := list.Get(postInitializer[0]).(classfile.LineNumberInsn); !ok {
		t.Fatalf("EnforcePostInitializer did not land right after the PUTFIELD: %#v", list.Get(postInitializer[0]))
	}
	// firstBody must skip the LineNumberInsn and land on the real instruction.
	if insn, ok := list.Get(firstBody[0]).(classfile.VarInsn); !ok || insn.Op != classfile.ALOAD || insn.Slot != 0 {
		t.Fatalf("EnforceFirstBody did not skip the debug marker: %#v", list.Get(firstBody[0]))
	}
}

func TestParseCtorHeadReadsEnforceElement(t *testing.T) {
	anno := &classfile.Annotation{Elements: map[string]classfile.ElementValue{
		"at_code": {Tag: classfile.EVString, Const: "CTOR_HEAD"},
		"enforce": {Tag: classfile.EVString, Const: "POST_INITIALIZER"},
	}}
	p, err := Parse(anno, nil)
	if err != nil {
		t.Fatalf("Parse(CTOR_HEAD): %v", err)
	}
	owner := "com/example/Target"
	list := buildConstructorBody(owner)
	got := p(list)
	want := ConstructorHead(EnforcePostInitializer, "java/lang/Object")(list)
	if len(got) != 1 || len(want) != 1 || got[0] != want[0] {
		t.Fatalf("Parse(CTOR_HEAD, enforce=POST_INITIALIZER) = %v, want %v", got, want)
	}
}
