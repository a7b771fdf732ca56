/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package classfile

import (
	"testing"
)

// buildSimpleClass hand-assembles a minimal class with one static method:
//
//	static int answer() { return 42; }
//
// used as the fixture for decode/encode round-trip tests below.
func buildSimpleClass(t *testing.T) *ClassNode {
	t.Helper()
	cp := NewConstantPool()
	cn := &ClassNode{
		MinorVersion: 0,
		MajorVersion: 61,
		Access:       types_ACC_PUBLIC_SUPER,
		Name:         "com/example/Widget",
		SuperName:    "java/lang/Object",
		CP:           cp,
	}

	list := NewInsnList()
	list.Append(IntInsn{Op: BIPUSH, Operand: 42})
	list.Append(InsnNoArg{Op: IRETURN})

	m := &MethodNode{
		Access:       types_ACC_PUBLIC | types_ACC_STATIC,
		Name:         "answer",
		Desc:         "()I",
		Instructions: list,
		MaxStack:     1,
		MaxLocals:    0,
	}
	cn.Methods = append(cn.Methods, m)
	return cn
}

const (
	types_ACC_PUBLIC_SUPER = 0x0021
	types_ACC_PUBLIC       = 0x0001
	types_ACC_STATIC       = 0x0008
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cn := buildSimpleClass(t)

	raw, err := Encode(cn)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	back, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if back.Name != "com/example/Widget" {
		t.Errorf("Name = %q, want com/example/Widget", back.Name)
	}
	if back.SuperName != "java/lang/Object" {
		t.Errorf("SuperName = %q, want java/lang/Object", back.SuperName)
	}
	if len(back.Methods) != 1 {
		t.Fatalf("Methods = %d, want 1", len(back.Methods))
	}
	got := back.Methods[0]
	if got.Name != "answer" || got.Desc != "()I" {
		t.Errorf("method = %s%s, want answer()I", got.Name, got.Desc)
	}
	// Decode places a label before each of the 2 instructions plus a
	// trailing end label: label, BIPUSH, label, IRETURN, label.
	if got.Instructions.Len() != 5 {
		t.Fatalf("Instructions.Len() = %d, want 5", got.Instructions.Len())
	}
	first := got.Instructions.Get(got.Instructions.Next(got.Instructions.First()))
	if ip, ok := first.(IntInsn); !ok || ip.Op != BIPUSH || ip.Operand != 42 {
		t.Errorf("first insn = %#v, want BIPUSH 42", first)
	}
}

func TestEncodeIsIdempotent(t *testing.T) {
	cn := buildSimpleClass(t)

	raw1, err := Encode(cn)
	if err != nil {
		t.Fatalf("Encode #1: %v", err)
	}
	mid, err := Decode(raw1)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	raw2, err := Encode(mid)
	if err != nil {
		t.Fatalf("Encode #2: %v", err)
	}

	if len(raw1) != len(raw2) {
		t.Fatalf("re-encoded length changed: %d vs %d", len(raw1), len(raw2))
	}
	for i := range raw1 {
		if raw1[i] != raw2[i] {
			t.Fatalf("re-encoded bytes differ at offset %d: %02x vs %02x", i, raw1[i], raw2[i])
		}
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte{0, 0, 0, 0})
	if err == nil {
		t.Fatal("Decode: expected error on bad magic, got nil")
	}
}

func TestInsnListCloneRemapsJumpTargets(t *testing.T) {
	list := NewInsnList()
	target := list.NewLabel()
	list.Append(JumpInsn{Op: GOTO, Target: target})
	list.linkTail(target)
	list.Append(InsnNoArg{Op: RETURN})

	clone, mapping := list.Clone()
	if clone.Len() != list.Len() {
		t.Fatalf("clone length = %d, want %d", clone.Len(), list.Len())
	}

	jumpID := clone.First()
	jump, ok := clone.Get(jumpID).(JumpInsn)
	if !ok {
		t.Fatalf("clone first insn is %T, want JumpInsn", clone.Get(jumpID))
	}
	wantTarget := mapping[target]
	if jump.Target != wantTarget {
		t.Errorf("cloned jump target = %v, want %v (remapped from %v)", jump.Target, wantTarget, target)
	}
	// mutating the clone must not disturb the original's identity
	clone.Remove(jumpID)
	if list.Get(list.First()).(JumpInsn).Target != target {
		t.Errorf("original list's jump target changed after mutating clone")
	}
}

func TestParseMethodDescriptor(t *testing.T) {
	args, ret, ok := ParseMethodDescriptor("(ILjava/lang/String;[B)V")
	if !ok {
		t.Fatal("ParseMethodDescriptor: ok = false")
	}
	want := []string{"I", "Ljava/lang/String;", "[B"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
	if ret != "V" {
		t.Errorf("ret = %q, want V", ret)
	}
}

func TestArgSlotsCountsWideTypesTwice(t *testing.T) {
	args, _, ok := ParseMethodDescriptor("(IJD)V")
	if !ok {
		t.Fatal("ParseMethodDescriptor: ok = false")
	}
	if got := ArgSlots(args); got != 5 {
		t.Errorf("ArgSlots(I,J,D) = %d, want 5", got)
	}
}

func TestAnnotationRoundTrip(t *testing.T) {
	cn := buildSimpleClass(t)
	cn.Methods[0].Annotations = []Annotation{{
		Type: "Lweld/MixinMerged;",
		Elements: map[string]ElementValue{
			"owner":    {Tag: EVString, Const: "com/example/MyMixin"},
			"priority": {Tag: EVInt, Const: int32(1000)},
		},
	}}

	raw, err := Encode(cn)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	anno := back.Methods[0].Annotation("Lweld/MixinMerged;")
	if anno == nil {
		t.Fatal("MixinMerged annotation did not round-trip")
	}
	if got := anno.GetString("owner", ""); got != "com/example/MyMixin" {
		t.Errorf("owner = %q, want com/example/MyMixin", got)
	}
	if got := anno.GetInt("priority", -1); got != 1000 {
		t.Errorf("priority = %d, want 1000", got)
	}
}

func TestBoxedPrimitiveRoundTrip(t *testing.T) {
	for prim, boxed := range primitiveToBoxed {
		if got := BoxedClassFor(prim); got != boxed {
			t.Errorf("BoxedClassFor(%q) = %q, want %q", prim, got, boxed)
		}
		if got := PrimitiveFor(boxed); got != prim {
			t.Errorf("PrimitiveFor(%q) = %q, want %q", boxed, got, prim)
		}
	}
}
