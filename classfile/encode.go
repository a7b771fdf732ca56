/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package classfile

import (
	"encoding/binary"
	"math"
)

// writer accumulates raw class-file bytes. Unlike reader it never fails —
// every append is unconditionally valid — so its methods return nothing.
type writer struct {
	buf []byte
}

func (w *writer) u1(v int)    { w.buf = append(w.buf, byte(v)) }
func (w *writer) u2(v int)    { w.buf = append(w.buf, byte(v>>8), byte(v)) }
func (w *writer) u4(v uint32) { var b [4]byte; binary.BigEndian.PutUint32(b[:], v); w.buf = append(w.buf, b[:]...) }
func (w *writer) raw(b []byte) { w.buf = append(w.buf, b...) }

// attr wraps content with its name-index and length header, the shape every
// attribute_info entry shares.
func (w *writer) attr(cp *ConstantPool, name string, content []byte) {
	w.u2(cp.AddUtf8(name))
	w.u4(uint32(len(content)))
	w.raw(content)
}

// Encode serialises cn back to a class file's raw bytes (C1:
// encode(ClassTree) -> bytes), the inverse of Decode. It interns into
// cn.CP as it goes — any symbolic reference an injector left behind
// (FieldInsn.Owner, MethodInsn.Name, a fresh LdcInsn...) is resolved to a
// constant-pool index for the first time here, not at mutation time — so
// every entry the method bodies and class header reference ends up in the
// pool. Entries already in cn.CP are kept whether or not anything still
// references them. The pool is written out last even though it appears
// first in the file.
func Encode(cn *ClassNode) ([]byte, error) {
	cp := cn.CP
	if cp == nil {
		cp = NewConstantPool()
		cn.CP = cp
	}

	thisIdx := cp.AddClassRef(cn.Name)
	var superIdx int
	if cn.SuperName != "" {
		superIdx = cp.AddClassRef(cn.SuperName)
	}
	ifaceIdx := make([]int, len(cn.Interfaces))
	for i, iface := range cn.Interfaces {
		ifaceIdx[i] = cp.AddClassRef(iface)
	}

	fieldBufs := make([][]byte, len(cn.Fields))
	for i, f := range cn.Fields {
		b, err := encodeField(cp, f)
		if err != nil {
			return nil, err
		}
		fieldBufs[i] = b
	}

	methodBufs := make([][]byte, len(cn.Methods))
	for i, m := range cn.Methods {
		b, err := encodeMethod(cp, m)
		if err != nil {
			return nil, err
		}
		methodBufs[i] = b
	}

	classAttrs := &writer{}
	attrCount := 0
	if cn.SourceFile != "" {
		a := &writer{}
		a.u2(cp.AddUtf8(cn.SourceFile))
		classAttrs.attr(cp, "SourceFile", a.buf)
		attrCount++
	}
	if cn.Signature != "" {
		a := &writer{}
		a.u2(cp.AddUtf8(cn.Signature))
		classAttrs.attr(cp, "Signature", a.buf)
		attrCount++
	}
	if len(cn.InnerClasses) > 0 {
		a := &writer{}
		a.u2(len(cn.InnerClasses))
		for _, ic := range cn.InnerClasses {
			a.u2(cp.AddClassRef(ic.InnerName))
			if ic.OuterName != "" {
				a.u2(cp.AddClassRef(ic.OuterName))
			} else {
				a.u2(0)
			}
			if ic.InnerSimpleName != "" {
				a.u2(cp.AddUtf8(ic.InnerSimpleName))
			} else {
				a.u2(0)
			}
			a.u2(ic.Access)
		}
		classAttrs.attr(cp, "InnerClasses", a.buf)
		attrCount++
	}
	if len(cn.Annotations) > 0 {
		classAttrs.attr(cp, "RuntimeInvisibleAnnotations", encodeAnnotations(cp, cn.Annotations))
		attrCount++
	}
	for _, attr := range cn.Attributes {
		classAttrs.attr(cp, attr.Name, attr.Content)
		attrCount++
	}

	// Every interning above and within the field/method buffers has
	// mutated cp; now that nothing further will touch it, serialise it.
	cpBytes := encodeConstantPool(cp)

	out := &writer{}
	out.u4(classMagic)
	out.u2(cn.MinorVersion)
	out.u2(cn.MajorVersion)
	out.raw(cpBytes)
	out.u2(cn.Access)
	out.u2(thisIdx)
	out.u2(superIdx)
	out.u2(len(ifaceIdx))
	for _, idx := range ifaceIdx {
		out.u2(idx)
	}
	out.u2(len(fieldBufs))
	for _, b := range fieldBufs {
		out.raw(b)
	}
	out.u2(len(methodBufs))
	for _, b := range methodBufs {
		out.raw(b)
	}
	out.u2(attrCount)
	out.raw(classAttrs.buf)

	return out.buf, nil
}

func encodeField(cp *ConstantPool, f *FieldNode) ([]byte, error) {
	w := &writer{}
	w.u2(f.Access)
	w.u2(cp.AddUtf8(f.Name))
	w.u2(cp.AddUtf8(f.Desc))

	attrs := &writer{}
	count := 0
	if f.ConstValue != nil {
		a := &writer{}
		a.u2(internLdc(cp, f.ConstValue))
		attrs.attr(cp, "ConstantValue", a.buf)
		count++
	}
	if f.Signature != "" {
		a := &writer{}
		a.u2(cp.AddUtf8(f.Signature))
		attrs.attr(cp, "Signature", a.buf)
		count++
	}
	if len(f.Annotations) > 0 {
		attrs.attr(cp, "RuntimeInvisibleAnnotations", encodeAnnotations(cp, f.Annotations))
		count++
	}
	for _, attr := range f.Attributes {
		attrs.attr(cp, attr.Name, attr.Content)
		count++
	}
	w.u2(count)
	w.raw(attrs.buf)
	return w.buf, nil
}

func encodeMethod(cp *ConstantPool, m *MethodNode) ([]byte, error) {
	w := &writer{}
	w.u2(m.Access)
	w.u2(cp.AddUtf8(m.Name))
	w.u2(cp.AddUtf8(m.Desc))

	attrs := &writer{}
	count := 0
	if m.Instructions != nil && m.Instructions.Len() > 0 {
		codeBytes, err := encodeCodeAttribute(cp, m)
		if err != nil {
			return nil, err
		}
		attrs.attr(cp, "Code", codeBytes)
		count++
	}
	if len(m.Exceptions) > 0 {
		a := &writer{}
		a.u2(len(m.Exceptions))
		for _, exc := range m.Exceptions {
			a.u2(cp.AddClassRef(exc))
		}
		attrs.attr(cp, "Exceptions", a.buf)
		count++
	}
	if m.Signature != "" {
		a := &writer{}
		a.u2(cp.AddUtf8(m.Signature))
		attrs.attr(cp, "Signature", a.buf)
		count++
	}
	if len(m.Annotations) > 0 {
		attrs.attr(cp, "RuntimeInvisibleAnnotations", encodeAnnotations(cp, m.Annotations))
		count++
	}
	for _, attr := range m.Attributes {
		attrs.attr(cp, attr.Name, attr.Content)
		count++
	}
	w.u2(count)
	w.raw(attrs.buf)
	return w.buf, nil
}

func encodeCodeAttribute(cp *ConstantPool, m *MethodNode) ([]byte, error) {
	enc, err := encodeBytecode(m.Instructions, cp)
	if err != nil {
		return nil, err
	}

	w := &writer{}
	w.u2(m.MaxStack)
	w.u2(m.MaxLocals)
	w.u4(uint32(len(enc.code)))
	w.raw(enc.code)

	w.u2(len(m.TryCatchBlocks))
	for _, tcb := range m.TryCatchBlocks {
		w.u2(enc.pcOf[tcb.Start])
		w.u2(enc.pcOf[tcb.End])
		w.u2(enc.pcOf[tcb.Handler])
		if tcb.CatchType == "" {
			w.u2(0)
		} else {
			w.u2(cp.AddClassRef(tcb.CatchType))
		}
	}

	sub := &writer{}
	subCount := 0
	if len(enc.lines) > 0 {
		a := &writer{}
		a.u2(len(enc.lines))
		for _, le := range enc.lines {
			a.u2(le.pc)
			a.u2(le.line)
		}
		sub.attr(cp, "LineNumberTable", a.buf)
		subCount++
	}
	if len(m.LocalVars) > 0 {
		a := &writer{}
		a.u2(len(m.LocalVars))
		for _, lv := range m.LocalVars {
			start := enc.pcOf[lv.Start]
			end := enc.pcOf[lv.End]
			a.u2(start)
			a.u2(end - start)
			a.u2(cp.AddUtf8(lv.Name))
			a.u2(cp.AddUtf8(lv.Desc))
			a.u2(lv.Index)
		}
		sub.attr(cp, "LocalVariableTable", a.buf)
		subCount++
	}
	w.u2(subCount)
	w.raw(sub.buf)

	return w.buf, nil
}

// encodeConstantPool serialises cp in its final, fully-interned state.
// Like decodeConstantPool it must special-case 8-byte constants, which
// occupy two consecutive pool slots even though only the first is real.
func encodeConstantPool(cp *ConstantPool) []byte {
	w := &writer{}
	w.u2(len(cp.CpIndex))
	for i := 1; i < len(cp.CpIndex); i++ {
		e := cp.CpIndex[i]
		switch e.Tag {
		case 0:
			continue // second half of a Long/Double, already emitted
		case Utf8Const:
			s := cp.Utf8s[e.Slot]
			w.u1(Utf8Const)
			w.u2(len(s))
			w.raw([]byte(s))
		case IntConst:
			w.u1(IntConst)
			w.u4(uint32(cp.IntConsts[e.Slot]))
		case FloatConst:
			w.u1(FloatConst)
			w.u4(math.Float32bits(cp.FloatConsts[e.Slot]))
		case LongConst:
			w.u1(LongConst)
			v := uint64(cp.LongConsts[e.Slot])
			w.u4(uint32(v >> 32))
			w.u4(uint32(v))
			i++ // skip the dummy slot the JVMS reserves after a Long/Double
		case DoubleConst:
			w.u1(DoubleConst)
			v := math.Float64bits(cp.DoubleConsts[e.Slot])
			w.u4(uint32(v >> 32))
			w.u4(uint32(v))
			i++
		case ClassRefConst:
			w.u1(ClassRefConst)
			w.u2(cp.ClassRefs[e.Slot])
		case StringConst:
			w.u1(StringConst)
			w.u2(cp.StringRefs[e.Slot])
		case MethodTypeConst:
			w.u1(MethodTypeConst)
			w.u2(cp.MethodTypes[e.Slot])
		case FieldRefConst:
			ref := cp.FieldRefs[e.Slot]
			w.u1(FieldRefConst)
			w.u2(ref.ClassIndex)
			w.u2(ref.NameAndTypeIndex)
		case MethodRefConst:
			ref := cp.MethodRefs[e.Slot]
			w.u1(MethodRefConst)
			w.u2(ref.ClassIndex)
			w.u2(ref.NameAndTypeIndex)
		case InterfaceMethodRefConst:
			ref := cp.IfaceRefs[e.Slot]
			w.u1(InterfaceMethodRefConst)
			w.u2(ref.ClassIndex)
			w.u2(ref.NameAndTypeIndex)
		case NameAndTypeConst:
			nat := cp.NameAndTypes[e.Slot]
			w.u1(NameAndTypeConst)
			w.u2(nat.NameIndex)
			w.u2(nat.DescIndex)
		case MethodHandleConst:
			mh := cp.MethodHandles[e.Slot]
			w.u1(MethodHandleConst)
			w.u1(mh.RefKind)
			w.u2(mh.RefIndex)
		case DynamicConst:
			d := cp.Dynamics[e.Slot]
			w.u1(DynamicConst)
			w.u2(d.BootstrapIndex)
			w.u2(d.NameAndType)
		case InvokeDynamicConst:
			d := cp.InvokeDynamics[e.Slot]
			w.u1(InvokeDynamicConst)
			w.u2(d.BootstrapIndex)
			w.u2(d.NameAndType)
		case ModuleConst, PackageConst:
			w.u1(e.Tag)
			w.u2(e.Slot)
		}
	}
	return w.buf
}
