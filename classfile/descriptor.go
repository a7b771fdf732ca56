/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package classfile

import (
	"strconv"
	"strings"
)

// ParseMethodDescriptor splits a method descriptor ("(ILjava/lang/String;)V")
// into its argument field-descriptors and return descriptor.
func ParseMethodDescriptor(desc string) (args []string, ret string, ok bool) {
	if len(desc) == 0 || desc[0] != '(' {
		return nil, "", false
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		start := i
		i = skipFieldType(desc, i)
		if i < 0 {
			return nil, "", false
		}
		args = append(args, desc[start:i])
	}
	if i >= len(desc) {
		return nil, "", false
	}
	i++ // skip ')'
	end := skipFieldType(desc, i)
	if desc[i:] != "V" && end < 0 {
		return nil, "", false
	}
	if desc[i:] == "V" {
		return args, "V", true
	}
	return args, desc[i:], true
}

// skipFieldType returns the index just past one field-type descriptor
// starting at i, or -1 if malformed.
func skipFieldType(desc string, i int) int {
	if i >= len(desc) {
		return -1
	}
	switch desc[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 'V':
		return i + 1
	case '[':
		return skipFieldType(desc, i+1)
	case 'L':
		j := strings.IndexByte(desc[i:], ';')
		if j < 0 {
			return -1
		}
		return i + j + 1
	default:
		return -1
	}
}

// MethodDescriptorFromTypes builds a method descriptor from field-type
// tokens and a return type token — the generator §4.1 calls for ("turns a
// sequence of type tokens into a method descriptor").
func MethodDescriptorFromTypes(args []string, ret string) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, a := range args {
		sb.WriteString(a)
	}
	sb.WriteByte(')')
	sb.WriteString(ret)
	return sb.String()
}

// ArgSlots returns the total local-variable slot width of a method's
// arguments (doubles/longs count as two, §4.1), not including the implicit
// receiver slot.
func ArgSlots(args []string) int {
	n := 0
	for _, a := range args {
		n += StackArgSize(a[0])
	}
	return n
}

// FirstFreeLocal returns the first local-variable index after the implicit
// receiver (if any) and the method's declared arguments — the slot an
// injector may safely claim for a fresh local.
func FirstFreeLocal(desc string, isStatic bool) int {
	args, _, ok := ParseMethodDescriptor(desc)
	if !ok {
		return 0
	}
	n := 0
	if !isStatic {
		n++
	}
	n += ArgSlots(args)
	return n
}

// IsReferenceType reports whether a field-type descriptor denotes a
// reference type (object or array).
func IsReferenceType(desc string) bool {
	return len(desc) > 0 && (desc[0] == 'L' || desc[0] == '[')
}

// IsWideType reports whether a field-type descriptor occupies two local
// slots (double/long).
func IsWideType(desc string) bool {
	return len(desc) > 0 && StackArgSize(desc[0]) == 2
}

// ClassNameFromObjectDescriptor strips the 'L' and ';' off an object-type
// descriptor, returning "" for anything else (primitives, arrays).
func ClassNameFromObjectDescriptor(desc string) string {
	if len(desc) >= 2 && desc[0] == 'L' && desc[len(desc)-1] == ';' {
		return desc[1 : len(desc)-1]
	}
	return ""
}

// boxed/unboxed conversion table (§4.1): maps a primitive field-type
// descriptor to its boxed wrapper class name and back.
var primitiveToBoxed = map[string]string{
	"Z": "java/lang/Boolean",
	"B": "java/lang/Byte",
	"C": "java/lang/Character",
	"S": "java/lang/Short",
	"I": "java/lang/Integer",
	"J": "java/lang/Long",
	"F": "java/lang/Float",
	"D": "java/lang/Double",
}

var boxedToPrimitive = func() map[string]string {
	m := make(map[string]string, len(primitiveToBoxed))
	for prim, boxed := range primitiveToBoxed {
		m[boxed] = prim
	}
	return m
}()

// BoxedClassFor returns the wrapper class name for a primitive field-type
// descriptor, or "" if desc does not name a primitive.
func BoxedClassFor(desc string) string {
	return primitiveToBoxed[desc]
}

// PrimitiveFor returns the primitive field-type descriptor that boxedClass
// wraps, or "" if boxedClass is not one of the eight wrapper classes.
func PrimitiveFor(boxedClass string) string {
	return boxedToPrimitive[boxedClass]
}

// FormatIntOperand renders v the way BIPUSH/SIPUSH/IINC operands are
// conventionally shown in diagnostics (decimal, signed).
func FormatIntOperand(v int) string {
	return strconv.Itoa(v)
}

// LoadOpcodeFor returns the *LOAD opcode that pushes a local of the given
// field-type descriptor's leading byte.
func LoadOpcodeFor(fieldType byte) int {
	switch fieldType {
	case 'J':
		return LLOAD
	case 'F':
		return FLOAD
	case 'D':
		return DLOAD
	case 'L', '[':
		return ALOAD
	default:
		return ILOAD
	}
}

// StoreOpcodeFor returns the *STORE opcode for a local of the given
// field-type descriptor's leading byte.
func StoreOpcodeFor(fieldType byte) int {
	switch fieldType {
	case 'J':
		return LSTORE
	case 'F':
		return FSTORE
	case 'D':
		return DSTORE
	case 'L', '[':
		return ASTORE
	default:
		return ISTORE
	}
}

// ReturnOpcodeFor returns the *RETURN opcode matching a method's return
// descriptor ("V" returns RETURN).
func ReturnOpcodeFor(retType string) int {
	if retType == "V" || retType == "" {
		return RETURN
	}
	switch retType[0] {
	case 'J':
		return LRETURN
	case 'F':
		return FRETURN
	case 'D':
		return DRETURN
	case 'L', '[':
		return ARETURN
	default:
		return IRETURN
	}
}
