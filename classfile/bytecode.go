/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package classfile

import (
	"encoding/binary"
	"fmt"
)

// instructionLength returns the length in bytes (including the opcode
// itself) of the instruction starting at pc, needed up front so a forward
// jump can be pre-assigned a label id before the decoder reaches it.
func instructionLength(code []byte, pc int) (int, error) {
	op := int(code[pc])
	switch op {
	case NOP, ACONST_NULL,
		ICONST_M1, ICONST_0, ICONST_1, ICONST_2, ICONST_3, ICONST_4, ICONST_5,
		LCONST_0, LCONST_1, FCONST_0, FCONST_1, FCONST_2, DCONST_0, DCONST_1,
		ILOAD_0, ILOAD_1, ILOAD_2, ILOAD_3, LLOAD_0, LLOAD_1, LLOAD_2, LLOAD_3,
		FLOAD_0, FLOAD_1, FLOAD_2, FLOAD_3, DLOAD_0, DLOAD_1, DLOAD_2, DLOAD_3,
		ALOAD_0, ALOAD_1, ALOAD_2, ALOAD_3,
		IALOAD, LALOAD, FALOAD, DALOAD, AALOAD, BALOAD, CALOAD, SALOAD,
		ISTORE_0, ISTORE_1, ISTORE_2, ISTORE_3, LSTORE_0, LSTORE_1, LSTORE_2, LSTORE_3,
		FSTORE_0, FSTORE_1, FSTORE_2, FSTORE_3, DSTORE_0, DSTORE_1, DSTORE_2, DSTORE_3,
		ASTORE_0, ASTORE_1, ASTORE_2, ASTORE_3,
		IASTORE, LASTORE, FASTORE, DASTORE, AASTORE, BASTORE, CASTORE, SASTORE,
		POP, POP2, DUP, DUP_X1, DUP_X2, DUP2, DUP2_X1, DUP2_X2, SWAP,
		IADD, LADD, FADD, DADD, ISUB, LSUB, FSUB, DSUB, IMUL, LMUL, FMUL, DMUL,
		IDIV, LDIV, FDIV, DDIV, IREM, LREM, FREM, DREM, INEG, LNEG, FNEG, DNEG,
		ISHL, LSHL, ISHR, LSHR, IUSHR, LUSHR, IAND, LAND, IOR, LOR, IXOR, LXOR,
		I2L, I2F, I2D, L2I, L2F, L2D, F2I, F2L, F2D, D2I, D2L, D2F, I2B, I2C, I2S,
		LCMP, FCMPL, FCMPG, DCMPL, DCMPG,
		IRETURN, LRETURN, FRETURN, DRETURN, ARETURN, RETURN,
		ARRAYLENGTH, ATHROW, MONITORENTER, MONITOREXIT:
		return 1, nil
	case ILOAD, LLOAD, FLOAD, DLOAD, ALOAD, ISTORE, LSTORE, FSTORE, DSTORE, ASTORE, RET, BIPUSH, NEWARRAY, LDC:
		return 2, nil
	case SIPUSH, LDC_W, LDC2_W, IINC,
		GETSTATIC, PUTSTATIC, GETFIELD, PUTFIELD,
		INVOKEVIRTUAL, INVOKESPECIAL, INVOKESTATIC,
		NEW, ANEWARRAY, CHECKCAST, INSTANCEOF:
		return 3, nil
	case INVOKEINTERFACE, INVOKEDYNAMIC:
		return 5, nil
	case MULTIANEWARRAY:
		return 4, nil
	case JSR, GOTO,
		IFEQ, IFNE, IFLT, IFGE, IFGT, IFLE,
		IF_ICMPEQ, IF_ICMPNE, IF_ICMPLT, IF_ICMPGE, IF_ICMPGT, IF_ICMPLE,
		IF_ACMPEQ, IF_ACMPNE, IFNULL, IFNONNULL:
		return 3, nil
	case GOTO_W, JSR_W:
		return 5, nil
	case WIDE:
		if pc+1 >= len(code) {
			return 0, cfe("truncated WIDE instruction")
		}
		if code[pc+1] == IINC {
			return 6, nil
		}
		return 4, nil
	case TABLESWITCH:
		pad := (4 - (pc+1)%4) % 4
		base := pc + 1 + pad
		if base+8 > len(code) {
			return 0, cfe("truncated TABLESWITCH")
		}
		low := int32(binary.BigEndian.Uint32(code[base+4:]))
		high := int32(binary.BigEndian.Uint32(code[base+8:]))
		n := int(high-low) + 1
		return (base + 12 + n*4) - pc, nil
	case LOOKUPSWITCH:
		pad := (4 - (pc+1)%4) % 4
		base := pc + 1 + pad
		if base+8 > len(code) {
			return 0, cfe("truncated LOOKUPSWITCH")
		}
		npairs := int(binary.BigEndian.Uint32(code[base+4:]))
		return (base + 8 + npairs*8) - pc, nil
	default:
		return 0, cfe(fmt.Sprintf("unrecognized opcode 0x%02X at pc %d", op, pc))
	}
}

// decodeBytecode turns a raw Code array into an InsnList with a label node
// placed before every instruction-start offset (so later Code sub-
// attributes — the exception table, LineNumberTable, LocalVariableTable —
// can all address positions through the same labelAt lookup), and a
// trailing label at pc == len(code) for end-exclusive ranges.
func decodeBytecode(code []byte, cp *ConstantPool) (*InsnList, func(pc int) InsnID, error) {
	list := NewInsnList()

	// Pass 1: find every instruction-start pc and its length.
	var starts []int
	lengths := make(map[int]int)
	for pc := 0; pc < len(code); {
		n, err := instructionLength(code, pc)
		if err != nil {
			return nil, nil, err
		}
		starts = append(starts, pc)
		lengths[pc] = n
		pc += n
	}

	labels := make(map[int]InsnID, len(starts)+1)
	for _, pc := range starts {
		labels[pc] = list.NewLabel()
	}
	endLabel := list.NewLabel()
	labels[len(code)] = endLabel

	labelAt := func(pc int) InsnID {
		if id, ok := labels[pc]; ok {
			return id
		}
		// A reference into the middle of an instruction is malformed
		// input; downstream verification is out of scope (§1), so we
		// degenerate to the nearest prior label rather than erroring.
		best := endLabel
		bestPC := -1
		for p, id := range labels {
			if p <= pc && p > bestPC {
				bestPC, best = p, id
			}
		}
		return best
	}

	// Pass 2: link each pre-allocated label at the current tail, then
	// decode and append its instruction.
	for _, pc := range starts {
		list.linkTail(labels[pc])
		insn, err := decodeOneInsn(code, pc, lengths[pc], cp, labelAt)
		if err != nil {
			return nil, nil, err
		}
		list.Append(insn)
	}
	list.linkTail(endLabel)

	return list, labelAt, nil
}

func decodeOneInsn(code []byte, pc, length int, cp *ConstantPool, labelAt func(int) InsnID) (Insn, error) {
	op := int(code[pc])
	rest := code[pc+1 : pc+length]

	switch {
	case op == ILOAD_0 || op == ILOAD_1 || op == ILOAD_2 || op == ILOAD_3:
		return VarInsn{Op: ILOAD, Slot: op - ILOAD_0}, nil
	case op == LLOAD_0 || op == LLOAD_1 || op == LLOAD_2 || op == LLOAD_3:
		return VarInsn{Op: LLOAD, Slot: op - LLOAD_0}, nil
	case op == FLOAD_0 || op == FLOAD_1 || op == FLOAD_2 || op == FLOAD_3:
		return VarInsn{Op: FLOAD, Slot: op - FLOAD_0}, nil
	case op == DLOAD_0 || op == DLOAD_1 || op == DLOAD_2 || op == DLOAD_3:
		return VarInsn{Op: DLOAD, Slot: op - DLOAD_0}, nil
	case op == ALOAD_0 || op == ALOAD_1 || op == ALOAD_2 || op == ALOAD_3:
		return VarInsn{Op: ALOAD, Slot: op - ALOAD_0}, nil
	case op == ISTORE_0 || op == ISTORE_1 || op == ISTORE_2 || op == ISTORE_3:
		return VarInsn{Op: ISTORE, Slot: op - ISTORE_0}, nil
	case op == LSTORE_0 || op == LSTORE_1 || op == LSTORE_2 || op == LSTORE_3:
		return VarInsn{Op: LSTORE, Slot: op - LSTORE_0}, nil
	case op == FSTORE_0 || op == FSTORE_1 || op == FSTORE_2 || op == FSTORE_3:
		return VarInsn{Op: FSTORE, Slot: op - FSTORE_0}, nil
	case op == DSTORE_0 || op == DSTORE_1 || op == DSTORE_2 || op == DSTORE_3:
		return VarInsn{Op: DSTORE, Slot: op - DSTORE_0}, nil
	case op == ASTORE_0 || op == ASTORE_1 || op == ASTORE_2 || op == ASTORE_3:
		return VarInsn{Op: ASTORE, Slot: op - ASTORE_0}, nil
	}

	switch op {
	case ILOAD, LLOAD, FLOAD, DLOAD, ALOAD, ISTORE, LSTORE, FSTORE, DSTORE, ASTORE, RET:
		return VarInsn{Op: op, Slot: int(rest[0])}, nil
	case IINC:
		return IincInsn{Slot: int(rest[0]), Incr: int(int8(rest[1]))}, nil
	case BIPUSH:
		return IntInsn{Op: op, Operand: int(int8(rest[0]))}, nil
	case SIPUSH:
		return IntInsn{Op: op, Operand: int(int16(binary.BigEndian.Uint16(rest)))}, nil
	case NEWARRAY:
		return IntInsn{Op: op, Operand: int(rest[0])}, nil
	case LDC:
		return LdcInsn{Value: ldcValue(cp, int(rest[0]))}, nil
	case LDC_W, LDC2_W:
		return LdcInsn{Value: ldcValue(cp, int(binary.BigEndian.Uint16(rest)))}, nil
	case GETSTATIC, PUTSTATIC, GETFIELD, PUTFIELD:
		idx := int(binary.BigEndian.Uint16(rest))
		owner, name, desc, _ := cp.MemberRefAt(idx)
		return FieldInsn{Op: op, Owner: owner, Name: name, Desc: desc}, nil
	case INVOKEVIRTUAL, INVOKESPECIAL, INVOKESTATIC:
		idx := int(binary.BigEndian.Uint16(rest))
		owner, name, desc, _ := cp.MemberRefAt(idx)
		return MethodInsn{Op: op, Owner: owner, Name: name, Desc: desc}, nil
	case INVOKEINTERFACE:
		idx := int(binary.BigEndian.Uint16(rest))
		owner, name, desc, _ := cp.MemberRefAt(idx)
		return MethodInsn{Op: op, Owner: owner, Name: name, Desc: desc, IsInterface: true}, nil
	case INVOKEDYNAMIC:
		idx := int(binary.BigEndian.Uint16(rest))
		e := cp.CpIndex[idx]
		var nat int
		var boot int
		if e.Tag == InvokeDynamicConst {
			d := cp.InvokeDynamics[e.Slot]
			nat, boot = d.NameAndType, d.BootstrapIndex
		}
		name, desc := cp.NameAndTypeAt(nat)
		return InvokeDynamicInsn{Name: name, Desc: desc, BootstrapIndex: boot}, nil
	case NEW, ANEWARRAY, CHECKCAST, INSTANCEOF:
		idx := int(binary.BigEndian.Uint16(rest))
		return TypeInsn{Op: op, Desc: cp.ClassNameAt(idx)}, nil
	case MULTIANEWARRAY:
		idx := int(binary.BigEndian.Uint16(rest))
		return MultiANewArrayInsn{Desc: cp.ClassNameAt(idx), Dims: int(rest[2])}, nil
	case GOTO, JSR, IFEQ, IFNE, IFLT, IFGE, IFGT, IFLE,
		IF_ICMPEQ, IF_ICMPNE, IF_ICMPLT, IF_ICMPGE, IF_ICMPGT, IF_ICMPLE,
		IF_ACMPEQ, IF_ACMPNE, IFNULL, IFNONNULL:
		off := int(int16(binary.BigEndian.Uint16(rest)))
		return JumpInsn{Op: op, Target: labelAt(pc + off)}, nil
	case GOTO_W, JSR_W:
		off := int(int32(binary.BigEndian.Uint32(rest)))
		return JumpInsn{Op: op, Target: labelAt(pc + off)}, nil
	case WIDE:
		return decodeWide(rest, pc, labelAt)
	case TABLESWITCH:
		return decodeTableSwitch(code, pc, labelAt)
	case LOOKUPSWITCH:
		return decodeLookupSwitch(code, pc, labelAt)
	default:
		return InsnNoArg{Op: op}, nil
	}
}

func ldcValue(cp *ConstantPool, idx int) interface{} {
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
	case ClassRefConst:
		return ClassConst{Name: cp.ClassNameAt(idx)}
	default:
		return nil
	}
}

func decodeWide(rest []byte, pc int, labelAt func(int) InsnID) (Insn, error) {
	if rest[0] == IINC {
		slot := int(binary.BigEndian.Uint16(rest[1:3]))
		incr := int(int16(binary.BigEndian.Uint16(rest[3:5])))
		return IincInsn{Slot: slot, Incr: incr}, nil
	}
	slot := int(binary.BigEndian.Uint16(rest[1:3]))
	return VarInsn{Op: int(rest[0]), Slot: slot}, nil
}

func decodeTableSwitch(code []byte, pc int, labelAt func(int) InsnID) (Insn, error) {
	pad := (4 - (pc+1)%4) % 4
	base := pc + 1 + pad
	defaultOff := int(int32(binary.BigEndian.Uint32(code[base:])))
	low := int(int32(binary.BigEndian.Uint32(code[base+4:])))
	high := int(int32(binary.BigEndian.Uint32(code[base+8:])))
	n := high - low + 1
	targets := make([]InsnID, n)
	for i := 0; i < n; i++ {
		off := int(int32(binary.BigEndian.Uint32(code[base+12+i*4:])))
		targets[i] = labelAt(pc + off)
	}
	return TableSwitchInsn{Default: labelAt(pc + defaultOff), Low: low, High: high, Targets: targets}, nil
}

func decodeLookupSwitch(code []byte, pc int, labelAt func(int) InsnID) (Insn, error) {
	pad := (4 - (pc+1)%4) % 4
	base := pc + 1 + pad
	defaultOff := int(int32(binary.BigEndian.Uint32(code[base:])))
	npairs := int(binary.BigEndian.Uint32(code[base+4:]))
	keys := make([]int, npairs)
	targets := make([]InsnID, npairs)
	for i := 0; i < npairs; i++ {
		off := base + 8 + i*8
		keys[i] = int(int32(binary.BigEndian.Uint32(code[off:])))
		jumpOff := int(int32(binary.BigEndian.Uint32(code[off+4:])))
		targets[i] = labelAt(pc + jumpOff)
	}
	return LookupSwitchInsn{Default: labelAt(pc + defaultOff), Keys: keys, Targets: targets}, nil
}
