/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package classfile

import (
	"encoding/binary"
	"fmt"
	"math"
)

const classMagic = 0xCAFEBABE

// reader is a cursor over a class file's raw bytes; every Read* advances pos
// and returns a BadClass-flavoured error on underrun, consolidated here
// instead of checked ad hoc at every call site.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return cfe(fmt.Sprintf("unexpected end of class file at offset %d, need %d more bytes", r.pos, n))
	}
	return nil
}

func (r *reader) u1() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) u2() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u4() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Decode parses a class file from raw bytes into a ClassNode (C1:
// decode(bytes) -> ClassTree). It fails with a *classfile-format* error
// (wrapped via cfe/BadClassError) rather than panicking on malformed input.
func Decode(raw []byte) (*ClassNode, error) {
	r := &reader{buf: raw}

	magic, err := r.u4()
	if err != nil {
		return nil, err
	}
	if magic != classMagic {
		return nil, cfe(fmt.Sprintf("invalid magic number 0x%08X", magic))
	}

	minor, err := r.u2()
	if err != nil {
		return nil, err
	}
	major, err := r.u2()
	if err != nil {
		return nil, err
	}

	cp, err := decodeConstantPool(r)
	if err != nil {
		return nil, err
	}

	access, err := r.u2()
	if err != nil {
		return nil, err
	}
	thisIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	superIdx, err := r.u2()
	if err != nil {
		return nil, err
	}

	cn := &ClassNode{
		MinorVersion: int(minor),
		MajorVersion: int(major),
		Access:       int(access),
		CP:           cp,
		Name:         cp.ClassNameAt(int(thisIdx)),
	}
	if superIdx != 0 {
		cn.SuperName = cp.ClassNameAt(int(superIdx))
	}

	ifaceCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(ifaceCount); i++ {
		idx, err := r.u2()
		if err != nil {
			return nil, err
		}
		cn.Interfaces = append(cn.Interfaces, cp.ClassNameAt(int(idx)))
	}

	fieldCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(fieldCount); i++ {
		f, err := decodeField(r, cp)
		if err != nil {
			return nil, err
		}
		cn.Fields = append(cn.Fields, f)
	}

	methodCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(methodCount); i++ {
		m, err := decodeMethod(r, cp)
		if err != nil {
			return nil, err
		}
		cn.Methods = append(cn.Methods, m)
	}

	attrCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(attrCount); i++ {
		name, content, err := decodeRawAttribute(r, cp)
		if err != nil {
			return nil, err
		}
		switch name {
		case "SourceFile":
			if len(content) >= 2 {
				cn.SourceFile = cp.Utf8At(int(binary.BigEndian.Uint16(content)))
			}
		case "Signature":
			if len(content) >= 2 {
				cn.Signature = cp.Utf8At(int(binary.BigEndian.Uint16(content)))
			}
		case "InnerClasses":
			entries, err := decodeInnerClasses(content, cp)
			if err != nil {
				return nil, err
			}
			cn.InnerClasses = entries
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			annos, err := decodeAnnotations(content, cp)
			if err != nil {
				return nil, err
			}
			cn.Annotations = append(cn.Annotations, annos...)
		default:
			cn.Attributes = append(cn.Attributes, &Attribute{Name: name, Content: content})
		}
	}

	return cn, nil
}

func decodeConstantPool(r *reader) (*ConstantPool, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	cp := &ConstantPool{CpIndex: make([]CpEntry, count)}

	// We must know each entry's tag before we can resolve cross-references
	// (NameAndType -> Utf8, MemberRef -> Class+NameAndType, etc.), so decode
	// happens in two passes: raw tag+operands first, then resolve.
	type raw struct {
		tag  byte
		a, b uint16
		u4   uint32
		str  string
	}
	raws := make([]raw, count)

	for i := 1; i < int(count); i++ {
		tag, err := r.u1()
		if err != nil {
			return nil, err
		}
		switch tag {
		case Utf8Const:
			n, err := r.u2()
			if err != nil {
				return nil, err
			}
			b, err := r.bytes(int(n))
			if err != nil {
				return nil, err
			}
			raws[i] = raw{tag: tag, str: string(b)}
		case IntConst, FloatConst:
			v, err := r.u4()
			if err != nil {
				return nil, err
			}
			raws[i] = raw{tag: tag, u4: v}
		case LongConst, DoubleConst:
			hi, err := r.u4()
			if err != nil {
				return nil, err
			}
			lo, err := r.u4()
			if err != nil {
				return nil, err
			}
			raws[i] = raw{tag: tag, u4: hi, a: uint16(lo >> 16), b: uint16(lo)}
			// 8-byte constants occupy two CP slots; the second is unusable.
			i++
		case ClassRefConst, StringConst, MethodTypeConst, ModuleConst, PackageConst:
			a, err := r.u2()
			if err != nil {
				return nil, err
			}
			raws[i] = raw{tag: tag, a: a}
		case FieldRefConst, MethodRefConst, InterfaceMethodRefConst, NameAndTypeConst, DynamicConst, InvokeDynamicConst:
			a, err := r.u2()
			if err != nil {
				return nil, err
			}
			b, err := r.u2()
			if err != nil {
				return nil, err
			}
			raws[i] = raw{tag: tag, a: a, b: b}
		case MethodHandleConst:
			kind, err := r.u1()
			if err != nil {
				return nil, err
			}
			idx, err := r.u2()
			if err != nil {
				return nil, err
			}
			raws[i] = raw{tag: tag, a: uint16(kind), b: idx}
		default:
			return nil, cfe(fmt.Sprintf("unknown constant-pool tag %d at entry %d", tag, i))
		}
	}

	for i := 1; i < int(count); i++ {
		rw := raws[i]
		switch rw.tag {
		case 0:
			continue // second half of an 8-byte constant
		case Utf8Const:
			cp.Utf8s = append(cp.Utf8s, rw.str)
			cp.CpIndex[i] = CpEntry{Tag: Utf8Const, Slot: len(cp.Utf8s) - 1}
		case IntConst:
			cp.IntConsts = append(cp.IntConsts, int32(rw.u4))
			cp.CpIndex[i] = CpEntry{Tag: IntConst, Slot: len(cp.IntConsts) - 1}
		case FloatConst:
			cp.FloatConsts = append(cp.FloatConsts, math.Float32frombits(rw.u4))
			cp.CpIndex[i] = CpEntry{Tag: FloatConst, Slot: len(cp.FloatConsts) - 1}
		case LongConst:
			lo := uint32(rw.a)<<16 | uint32(rw.b)
			cp.LongConsts = append(cp.LongConsts, int64(rw.u4)<<32|int64(lo))
			cp.CpIndex[i] = CpEntry{Tag: LongConst, Slot: len(cp.LongConsts) - 1}
		case DoubleConst:
			lo := uint32(rw.a)<<16 | uint32(rw.b)
			bits := uint64(rw.u4)<<32 | uint64(lo)
			cp.DoubleConsts = append(cp.DoubleConsts, math.Float64frombits(bits))
			cp.CpIndex[i] = CpEntry{Tag: DoubleConst, Slot: len(cp.DoubleConsts) - 1}
		case ClassRefConst:
			cp.ClassRefs = append(cp.ClassRefs, int(rw.a))
			cp.CpIndex[i] = CpEntry{Tag: ClassRefConst, Slot: len(cp.ClassRefs) - 1}
		case StringConst:
			cp.StringRefs = append(cp.StringRefs, int(rw.a))
			cp.CpIndex[i] = CpEntry{Tag: StringConst, Slot: len(cp.StringRefs) - 1}
		case MethodTypeConst:
			cp.MethodTypes = append(cp.MethodTypes, int(rw.a))
			cp.CpIndex[i] = CpEntry{Tag: MethodTypeConst, Slot: len(cp.MethodTypes) - 1}
		case FieldRefConst:
			cp.FieldRefs = append(cp.FieldRefs, MemberRef{ClassIndex: int(rw.a), NameAndTypeIndex: int(rw.b)})
			cp.CpIndex[i] = CpEntry{Tag: FieldRefConst, Slot: len(cp.FieldRefs) - 1}
		case MethodRefConst:
			cp.MethodRefs = append(cp.MethodRefs, MemberRef{ClassIndex: int(rw.a), NameAndTypeIndex: int(rw.b)})
			cp.CpIndex[i] = CpEntry{Tag: MethodRefConst, Slot: len(cp.MethodRefs) - 1}
		case InterfaceMethodRefConst:
			cp.IfaceRefs = append(cp.IfaceRefs, MemberRef{ClassIndex: int(rw.a), NameAndTypeIndex: int(rw.b)})
			cp.CpIndex[i] = CpEntry{Tag: InterfaceMethodRefConst, Slot: len(cp.IfaceRefs) - 1}
		case NameAndTypeConst:
			cp.NameAndTypes = append(cp.NameAndTypes, NameAndType{NameIndex: int(rw.a), DescIndex: int(rw.b)})
			cp.CpIndex[i] = CpEntry{Tag: NameAndTypeConst, Slot: len(cp.NameAndTypes) - 1}
		case MethodHandleConst:
			cp.MethodHandles = append(cp.MethodHandles, MethodHandle{RefKind: int(rw.a), RefIndex: int(rw.b)})
			cp.CpIndex[i] = CpEntry{Tag: MethodHandleConst, Slot: len(cp.MethodHandles) - 1}
		case DynamicConst:
			cp.Dynamics = append(cp.Dynamics, InvokeDynamicEntry{BootstrapIndex: int(rw.a), NameAndType: int(rw.b)})
			cp.CpIndex[i] = CpEntry{Tag: DynamicConst, Slot: len(cp.Dynamics) - 1}
		case InvokeDynamicConst:
			cp.InvokeDynamics = append(cp.InvokeDynamics, InvokeDynamicEntry{BootstrapIndex: int(rw.a), NameAndType: int(rw.b)})
			cp.CpIndex[i] = CpEntry{Tag: InvokeDynamicConst, Slot: len(cp.InvokeDynamics) - 1}
		case ModuleConst, PackageConst:
			cp.CpIndex[i] = CpEntry{Tag: int(rw.tag), Slot: int(rw.a)}
		}
	}

	return cp, nil
}

func decodeField(r *reader, cp *ConstantPool) (*FieldNode, error) {
	access, err := r.u2()
	if err != nil {
		return nil, err
	}
	nameIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	descIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	f := &FieldNode{
		Access: int(access),
		Name:   cp.Utf8At(int(nameIdx)),
		Desc:   cp.Utf8At(int(descIdx)),
	}

	attrCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(attrCount); i++ {
		name, content, err := decodeRawAttribute(r, cp)
		if err != nil {
			return nil, err
		}
		switch name {
		case "ConstantValue":
			if len(content) >= 2 {
				idx := int(binary.BigEndian.Uint16(content))
				f.ConstValue = constantValueAt(cp, idx)
			}
		case "Signature":
			if len(content) >= 2 {
				f.Signature = cp.Utf8At(int(binary.BigEndian.Uint16(content)))
			}
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			annos, err := decodeAnnotations(content, cp)
			if err != nil {
				return nil, err
			}
			f.Annotations = append(f.Annotations, annos...)
		default:
			f.Attributes = append(f.Attributes, &Attribute{Name: name, Content: content})
		}
	}
	return f, nil
}

func constantValueAt(cp *ConstantPool, idx int) interface{} {
	if idx <= 0 || idx >= len(cp.CpIndex) {
		return nil
	}
	e := cp.CpIndex[idx]
	switch e.Tag {
	case IntConst:
		return cp.IntConsts[e.Slot]
	case FloatConst:
		return cp.FloatConsts[e.Slot]
	case LongConst:
		return cp.LongConsts[e.Slot]
	case DoubleConst:
		return cp.DoubleConsts[e.Slot]
	case StringConst:
		return cp.Utf8At(cp.StringRefs[e.Slot])
	default:
		return nil
	}
}

func decodeMethod(r *reader, cp *ConstantPool) (*MethodNode, error) {
	access, err := r.u2()
	if err != nil {
		return nil, err
	}
	nameIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	descIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	m := &MethodNode{
		Access: int(access),
		Name:   cp.Utf8At(int(nameIdx)),
		Desc:   cp.Utf8At(int(descIdx)),
	}

	attrCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(attrCount); i++ {
		name, content, err := decodeRawAttribute(r, cp)
		if err != nil {
			return nil, err
		}
		switch name {
		case "Code":
			if err := decodeCode(content, cp, m); err != nil {
				return nil, err
			}
		case "Exceptions":
			cr := &reader{buf: content}
			n, _ := cr.u2()
			for j := 0; j < int(n); j++ {
				idx, _ := cr.u2()
				m.Exceptions = append(m.Exceptions, cp.ClassNameAt(int(idx)))
			}
		case "Signature":
			if len(content) >= 2 {
				m.Signature = cp.Utf8At(int(binary.BigEndian.Uint16(content)))
			}
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			annos, err := decodeAnnotations(content, cp)
			if err != nil {
				return nil, err
			}
			m.Annotations = append(m.Annotations, annos...)
		default:
			m.Attributes = append(m.Attributes, &Attribute{Name: name, Content: content})
		}
	}
	return m, nil
}

func decodeRawAttribute(r *reader, cp *ConstantPool) (name string, content []byte, err error) {
	nameIdx, err := r.u2()
	if err != nil {
		return "", nil, err
	}
	length, err := r.u4()
	if err != nil {
		return "", nil, err
	}
	content, err = r.bytes(int(length))
	if err != nil {
		return "", nil, err
	}
	return cp.Utf8At(int(nameIdx)), content, nil
}

func decodeInnerClasses(content []byte, cp *ConstantPool) ([]InnerClassEntry, error) {
	cr := &reader{buf: content}
	n, err := cr.u2()
	if err != nil {
		return nil, err
	}
	entries := make([]InnerClassEntry, 0, n)
	for i := 0; i < int(n); i++ {
		innerIdx, _ := cr.u2()
		outerIdx, _ := cr.u2()
		simpleIdx, _ := cr.u2()
		flags, _ := cr.u2()
		e := InnerClassEntry{Access: int(flags)}
		e.InnerName = cp.ClassNameAt(int(innerIdx))
		if outerIdx != 0 {
			e.OuterName = cp.ClassNameAt(int(outerIdx))
		}
		if simpleIdx != 0 {
			e.InnerSimpleName = cp.Utf8At(int(simpleIdx))
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// decodeCode parses a Code attribute's body (max_stack, max_locals, the raw
// bytecode array, exception table, and the LineNumberTable/
// LocalVariableTable sub-attributes) and populates m's instruction list.
func decodeCode(content []byte, cp *ConstantPool, m *MethodNode) error {
	cr := &reader{buf: content}
	maxStack, err := cr.u2()
	if err != nil {
		return err
	}
	maxLocals, err := cr.u2()
	if err != nil {
		return err
	}
	m.MaxStack = int(maxStack)
	m.MaxLocals = int(maxLocals)

	codeLen, err := cr.u4()
	if err != nil {
		return err
	}
	code, err := cr.bytes(int(codeLen))
	if err != nil {
		return err
	}

	list, labelAt, err := decodeBytecode(code, cp)
	if err != nil {
		return err
	}
	m.Instructions = list

	excCount, err := cr.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(excCount); i++ {
		startPC, _ := cr.u2()
		endPC, _ := cr.u2()
		handlerPC, _ := cr.u2()
		catchIdx, _ := cr.u2()
		tcb := TryCatchBlock{
			Start:   labelAt(int(startPC)),
			End:     labelAt(int(endPC)),
			Handler: labelAt(int(handlerPC)),
		}
		if catchIdx != 0 {
			tcb.CatchType = cp.ClassNameAt(int(catchIdx))
		}
		m.TryCatchBlocks = append(m.TryCatchBlocks, tcb)
	}

	attrCount, err := cr.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(attrCount); i++ {
		name, attrContent, err := decodeRawAttribute(cr, cp)
		if err != nil {
			return err
		}
		switch name {
		case "LineNumberTable":
			if err := applyLineNumberTable(attrContent, list, labelAt); err != nil {
				return err
			}
		case "LocalVariableTable":
			lvs, err := decodeLocalVariableTable(attrContent, cp, labelAt)
			if err != nil {
				return err
			}
			m.LocalVars = append(m.LocalVars, lvs...)
		default:
			m.Attributes = append(m.Attributes, &Attribute{Name: name, Content: attrContent})
		}
	}
	return nil
}

func applyLineNumberTable(content []byte, list *InsnList, labelAt func(int) InsnID) error {
	cr := &reader{buf: content}
	n, err := cr.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(n); i++ {
		startPC, _ := cr.u2()
		line, _ := cr.u2()
		target := labelAt(int(startPC))
		list.InsertBefore(target, LineNumberInsn{Line: int(line), Label: target})
	}
	return nil
}

func decodeLocalVariableTable(content []byte, cp *ConstantPool, labelAt func(int) InsnID) ([]LocalVariable, error) {
	cr := &reader{buf: content}
	n, err := cr.u2()
	if err != nil {
		return nil, err
	}
	out := make([]LocalVariable, 0, n)
	for i := 0; i < int(n); i++ {
		startPC, _ := cr.u2()
		length, _ := cr.u2()
		nameIdx, _ := cr.u2()
		descIdx, _ := cr.u2()
		index, _ := cr.u2()
		out = append(out, LocalVariable{
			Name:  cp.Utf8At(int(nameIdx)),
			Desc:  cp.Utf8At(int(descIdx)),
			Index: int(index),
			Start: labelAt(int(startPC)),
			End:   labelAt(int(startPC) + int(length)),
		})
	}
	return out, nil
}
