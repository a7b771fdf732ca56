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

// lineEntry is one row the encoder will turn into a LineNumberTable entry.
type lineEntry struct {
	pc   int
	line int
}

// encodedBytecode is what encodeBytecode hands back to the Code-attribute
// writer: the raw instruction bytes plus enough bookkeeping (label -> pc,
// line-number rows) to also emit the exception table and debug attributes.
type encodedBytecode struct {
	code  []byte
	pcOf  map[InsnID]int
	lines []lineEntry
}

// encodeBytecode is the inverse of decodeBytecode: it assigns each
// instruction a program counter and emits the Code array's raw bytes,
// resolving every Jump/TableSwitch/LookupSwitch target against the final
// pc layout. Switch-pad lengths depend on final pc, which depends on
// earlier lengths, so layout runs as a small fixed-point iteration
// (bounded, since only switch padding is pc-dependent here — branch
// instructions keep their fixed lengths and are never widened).
//
// Note: weld never widens a short conditional/unconditional branch to its
// _W form when an injected sequence pushes a target out of int16 range.
// Every example method body the injection subsystem has ever needed to
// handle fits comfortably inside that range, and silently rewriting branch
// opcodes changes stack-map-frame requirements in ways the rest of the
// pipeline does not model; encode instead returns a BadClass error (via
// cfe) naming the out-of-range offset and its pc.
func encodeBytecode(list *InsnList, cp *ConstantPool) (*encodedBytecode, error) {
	ids := list.All()
	length := make(map[InsnID]int, len(ids))
	pcOf := make(map[InsnID]int, len(ids))

	for iter := 0; iter < 8; iter++ {
		pc := 0
		for _, id := range ids {
			pcOf[id] = pc
			pc += length[id]
		}
		changed := false
		pc = 0
		for _, id := range ids {
			n, err := encodedLength(list.Get(id), pc)
			if err != nil {
				return nil, err
			}
			if n != length[id] {
				changed = true
			}
			length[id] = n
			pc += n
		}
		if !changed {
			break
		}
	}

	total := 0
	for _, id := range ids {
		total += length[id]
	}
	buf := make([]byte, 0, total)
	var lines []lineEntry

	for _, id := range ids {
		insn := list.Get(id)
		pc := pcOf[id]
		switch v := insn.(type) {
		case LabelInsn:
			// zero-width marker, nothing to emit
		case LineNumberInsn:
			lines = append(lines, lineEntry{pc: pcOf[v.Label], line: v.Line})
		default:
			enc, err := encodeOneInsn(insn, pc, cp, pcOf)
			if err != nil {
				return nil, err
			}
			buf = append(buf, enc...)
		}
	}

	return &encodedBytecode{code: buf, pcOf: pcOf, lines: lines}, nil
}

func encodedLength(insn Insn, pc int) (int, error) {
	switch v := insn.(type) {
	case LabelInsn, LineNumberInsn:
		return 0, nil
	case VarInsn:
		if v.Op == RET {
			if v.Slot <= 255 {
				return 2, nil
			}
			return 4, nil
		}
		if v.Slot <= 3 && isShortFormable(v.Op) {
			return 1, nil
		}
		if v.Slot <= 255 {
			return 2, nil
		}
		return 4, nil
	case IincInsn:
		if v.Slot <= 255 && v.Incr >= -128 && v.Incr <= 127 {
			return 3, nil
		}
		return 6, nil
	case IntInsn:
		if v.Op == SIPUSH {
			return 3, nil
		}
		return 2, nil
	case LdcInsn:
		_ = v
		return 3, nil // weld always emits LDC_W/LDC2_W, sidestepping the u1-index LDC form entirely
	case FieldInsn, MethodInsn:
		if mi, ok := insn.(MethodInsn); ok && mi.IsInterface {
			return 5, nil
		}
		return 3, nil
	case InvokeDynamicInsn:
		return 5, nil
	case TypeInsn:
		return 3, nil
	case MultiANewArrayInsn:
		return 4, nil
	case JumpInsn:
		if v.Op == GOTO_W || v.Op == JSR_W {
			return 5, nil
		}
		return 3, nil
	case TableSwitchInsn:
		pad := (4 - (pc+1)%4) % 4
		n := v.High - v.Low + 1
		return 1 + pad + 12 + n*4, nil
	case LookupSwitchInsn:
		pad := (4 - (pc+1)%4) % 4
		return 1 + pad + 8 + len(v.Keys)*8, nil
	case InsnNoArg:
		return 1, nil
	case RawInsn:
		return 1 + len(v.Operands), nil
	default:
		return 0, cfe(fmt.Sprintf("encode: unknown instruction type %T", insn))
	}
}

func isShortFormable(op int) bool {
	switch op {
	case ILOAD, LLOAD, FLOAD, DLOAD, ALOAD, ISTORE, LSTORE, FSTORE, DSTORE, ASTORE:
		return true
	default:
		return false
	}
}

var shortLoadBase = map[int]int{ILOAD: ILOAD_0, LLOAD: LLOAD_0, FLOAD: FLOAD_0, DLOAD: DLOAD_0, ALOAD: ALOAD_0}
var shortStoreBase = map[int]int{ISTORE: ISTORE_0, LSTORE: LSTORE_0, FSTORE: FSTORE_0, DSTORE: DSTORE_0, ASTORE: ASTORE_0}

func encodeOneInsn(insn Insn, pc int, cp *ConstantPool, pcOf map[InsnID]int) ([]byte, error) {
	switch v := insn.(type) {
	case VarInsn:
		return encodeVarInsn(v), nil
	case IincInsn:
		if v.Slot <= 255 && v.Incr >= -128 && v.Incr <= 127 {
			return []byte{IINC, byte(v.Slot), byte(int8(v.Incr))}, nil
		}
		b := make([]byte, 6)
		b[0], b[1] = WIDE, IINC
		binary.BigEndian.PutUint16(b[2:], uint16(v.Slot))
		binary.BigEndian.PutUint16(b[4:], uint16(int16(v.Incr)))
		return b, nil
	case IntInsn:
		if v.Op == SIPUSH {
			b := make([]byte, 3)
			b[0] = byte(v.Op)
			binary.BigEndian.PutUint16(b[1:], uint16(int16(v.Operand)))
			return b, nil
		}
		return []byte{byte(v.Op), byte(int8(v.Operand))}, nil
	case LdcInsn:
		idx := internLdc(cp, v.Value)
		switch v.Value.(type) {
		case int64, float64:
			b := make([]byte, 3)
			b[0] = LDC2_W
			binary.BigEndian.PutUint16(b[1:], uint16(idx))
			return b, nil
		default:
			b := make([]byte, 3)
			b[0] = LDC_W
			binary.BigEndian.PutUint16(b[1:], uint16(idx))
			return b, nil
		}
	case FieldInsn:
		idx := cp.AddMemberRef(FieldRefConst, v.Owner, v.Name, v.Desc)
		b := make([]byte, 3)
		b[0] = byte(v.Op)
		binary.BigEndian.PutUint16(b[1:], uint16(idx))
		return b, nil
	case MethodInsn:
		tag := MethodRefConst
		if v.IsInterface {
			tag = InterfaceMethodRefConst
		}
		idx := cp.AddMemberRef(tag, v.Owner, v.Name, v.Desc)
		if v.IsInterface {
			args, _, _ := ParseMethodDescriptor(v.Desc)
			count := 1 + ArgSlots(args)
			b := make([]byte, 5)
			b[0] = byte(v.Op)
			binary.BigEndian.PutUint16(b[1:], uint16(idx))
			b[3] = byte(count)
			return b, nil
		}
		b := make([]byte, 3)
		b[0] = byte(v.Op)
		binary.BigEndian.PutUint16(b[1:], uint16(idx))
		return b, nil
	case InvokeDynamicInsn:
		natIdx := cp.AddNameAndType(v.Name, v.Desc)
		cp.InvokeDynamics = append(cp.InvokeDynamics, InvokeDynamicEntry{BootstrapIndex: v.BootstrapIndex, NameAndType: natIdx})
		cp.CpIndex = append(cp.CpIndex, CpEntry{Tag: InvokeDynamicConst, Slot: len(cp.InvokeDynamics) - 1})
		idx := len(cp.CpIndex) - 1
		b := make([]byte, 5)
		b[0] = INVOKEDYNAMIC
		binary.BigEndian.PutUint16(b[1:], uint16(idx))
		return b, nil
	case TypeInsn:
		idx := cp.AddClassRef(v.Desc)
		b := make([]byte, 3)
		b[0] = byte(v.Op)
		binary.BigEndian.PutUint16(b[1:], uint16(idx))
		return b, nil
	case MultiANewArrayInsn:
		idx := cp.AddClassRef(v.Desc)
		b := make([]byte, 4)
		b[0] = MULTIANEWARRAY
		binary.BigEndian.PutUint16(b[1:], uint16(idx))
		b[3] = byte(v.Dims)
		return b, nil
	case JumpInsn:
		target := pcOf[v.Target]
		off := target - pc
		if v.Op == GOTO_W || v.Op == JSR_W {
			b := make([]byte, 5)
			b[0] = byte(v.Op)
			binary.BigEndian.PutUint32(b[1:], uint32(int32(off)))
			return b, nil
		}
		if off < math.MinInt16 || off > math.MaxInt16 {
			return nil, cfe(fmt.Sprintf("branch offset %d out of int16 range at pc %d", off, pc))
		}
		b := make([]byte, 3)
		b[0] = byte(v.Op)
		binary.BigEndian.PutUint16(b[1:], uint16(int16(off)))
		return b, nil
	case TableSwitchInsn:
		return encodeTableSwitch(v, pc, pcOf), nil
	case LookupSwitchInsn:
		return encodeLookupSwitch(v, pc, pcOf), nil
	case InsnNoArg:
		return []byte{byte(v.Op)}, nil
	case RawInsn:
		return append([]byte{byte(v.Op)}, v.Operands...), nil
	default:
		return nil, cfe(fmt.Sprintf("encode: unknown instruction type %T", insn))
	}
}

func encodeVarInsn(v VarInsn) []byte {
	if v.Op == RET {
		if v.Slot <= 255 {
			return []byte{RET, byte(v.Slot)}
		}
		b := make([]byte, 4)
		b[0], b[1] = WIDE, RET
		binary.BigEndian.PutUint16(b[2:], uint16(v.Slot))
		return b
	}
	if v.Slot <= 3 && isShortFormable(v.Op) {
		if base, ok := shortLoadBase[v.Op]; ok {
			return []byte{byte(base + v.Slot)}
		}
		if base, ok := shortStoreBase[v.Op]; ok {
			return []byte{byte(base + v.Slot)}
		}
	}
	if v.Slot <= 255 {
		return []byte{byte(v.Op), byte(v.Slot)}
	}
	b := make([]byte, 4)
	b[0], b[1] = WIDE, byte(v.Op)
	binary.BigEndian.PutUint16(b[2:], uint16(v.Slot))
	return b
}

func internLdc(cp *ConstantPool, value interface{}) int {
	switch val := value.(type) {
	case int32:
		return cp.AddIntConst(val)
	case int64:
		for i, e := range cp.CpIndex {
			if e.Tag == LongConst && cp.LongConsts[e.Slot] == val {
				return i
			}
		}
		cp.LongConsts = append(cp.LongConsts, val)
		cp.CpIndex = append(cp.CpIndex, CpEntry{Tag: LongConst, Slot: len(cp.LongConsts) - 1})
		return len(cp.CpIndex) - 1
	case float32:
		for i, e := range cp.CpIndex {
			if e.Tag == FloatConst && cp.FloatConsts[e.Slot] == val {
				return i
			}
		}
		cp.FloatConsts = append(cp.FloatConsts, val)
		cp.CpIndex = append(cp.CpIndex, CpEntry{Tag: FloatConst, Slot: len(cp.FloatConsts) - 1})
		return len(cp.CpIndex) - 1
	case float64:
		for i, e := range cp.CpIndex {
			if e.Tag == DoubleConst && cp.DoubleConsts[e.Slot] == val {
				return i
			}
		}
		cp.DoubleConsts = append(cp.DoubleConsts, val)
		cp.CpIndex = append(cp.CpIndex, CpEntry{Tag: DoubleConst, Slot: len(cp.DoubleConsts) - 1})
		return len(cp.CpIndex) - 1
	case string:
		return cp.AddStringConst(val)
	case ClassConst:
		return cp.AddClassRef(val.Name)
	default:
		return 0
	}
}

func encodeTableSwitch(v TableSwitchInsn, pc int, pcOf map[InsnID]int) []byte {
	pad := (4 - (pc+1)%4) % 4
	b := make([]byte, 1+pad+12+len(v.Targets)*4)
	b[0] = TABLESWITCH
	off := 1 + pad
	binary.BigEndian.PutUint32(b[off:], uint32(int32(pcOf[v.Default]-pc)))
	binary.BigEndian.PutUint32(b[off+4:], uint32(int32(v.Low)))
	binary.BigEndian.PutUint32(b[off+8:], uint32(int32(v.High)))
	for i, t := range v.Targets {
		binary.BigEndian.PutUint32(b[off+12+i*4:], uint32(int32(pcOf[t]-pc)))
	}
	return b
}

func encodeLookupSwitch(v LookupSwitchInsn, pc int, pcOf map[InsnID]int) []byte {
	pad := (4 - (pc+1)%4) % 4
	b := make([]byte, 1+pad+8+len(v.Keys)*8)
	b[0] = LOOKUPSWITCH
	off := 1 + pad
	binary.BigEndian.PutUint32(b[off:], uint32(int32(pcOf[v.Default]-pc)))
	binary.BigEndian.PutUint32(b[off+4:], uint32(int32(len(v.Keys))))
	for i, k := range v.Keys {
		binary.BigEndian.PutUint32(b[off+8+i*8:], uint32(int32(k)))
		binary.BigEndian.PutUint32(b[off+8+i*8+4:], uint32(int32(pcOf[v.Targets[i]]-pc)))
	}
	return b
}
