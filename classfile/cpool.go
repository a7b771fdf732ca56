/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package classfile

// Constant-pool entry tags, JVMS §4.4.
const (
	Utf8Const               = 1
	IntConst                = 3
	FloatConst               = 4
	LongConst               = 5
	DoubleConst             = 6
	ClassRefConst           = 7
	StringConst             = 8
	FieldRefConst           = 9
	MethodRefConst          = 10
	InterfaceMethodRefConst = 11
	NameAndTypeConst        = 12
	MethodHandleConst       = 15
	MethodTypeConst         = 16
	DynamicConst            = 17
	InvokeDynamicConst      = 18
	ModuleConst             = 19
	PackageConst            = 20
)

// CpEntry is one slot of the constant pool. Slot is an index into the
// type-specific table named by Tag (Utf8s, ClassRefs, ...), splitting
// "what kind of thing" from "where the details live".
type CpEntry struct {
	Tag  int
	Slot int
}

// NameAndType is a (name, descriptor) pair referenced by Field/Method refs.
type NameAndType struct {
	NameIndex int
	DescIndex int
}

// MemberRef is the shared shape of FieldRef/MethodRef/InterfaceMethodRef
// entries: a class index plus a name-and-type index.
type MemberRef struct {
	ClassIndex       int
	NameAndTypeIndex int
}

// MethodHandle is a CONSTANT_MethodHandle_info entry.
type MethodHandle struct {
	RefKind  int
	RefIndex int
}

// InvokeDynamicEntry is a CONSTANT_InvokeDynamic_info / CONSTANT_Dynamic_info
// entry.
type InvokeDynamicEntry struct {
	BootstrapIndex int
	NameAndType    int
}

// ConstantPool holds every constant-pool bucket, indexed by CpEntry.Slot.
// Index 0 of CpIndex is the unused dummy entry the class format reserves.
type ConstantPool struct {
	CpIndex       []CpEntry
	Utf8s         []string
	IntConsts     []int32
	FloatConsts   []float32
	LongConsts    []int64
	DoubleConsts  []float64
	ClassRefs     []int // index into CpIndex of the owning UTF8
	StringRefs    []int // index into CpIndex of the owning UTF8
	FieldRefs     []MemberRef
	MethodRefs    []MemberRef
	IfaceRefs     []MemberRef
	NameAndTypes  []NameAndType
	MethodHandles []MethodHandle
	MethodTypes   []int // index into CpIndex of the descriptor UTF8
	Dynamics      []InvokeDynamicEntry
	InvokeDynamics []InvokeDynamicEntry
}

// Utf8At resolves a CONSTANT_Utf8 entry by constant-pool index.
func (cp *ConstantPool) Utf8At(index int) string {
	if index <= 0 || index >= len(cp.CpIndex) {
		return ""
	}
	e := cp.CpIndex[index]
	if e.Tag != Utf8Const {
		return ""
	}
	return cp.Utf8s[e.Slot]
}

// ClassNameAt resolves a CONSTANT_Class entry to the class name it names.
func (cp *ConstantPool) ClassNameAt(index int) string {
	if index <= 0 || index >= len(cp.CpIndex) {
		return ""
	}
	e := cp.CpIndex[index]
	if e.Tag != ClassRefConst {
		return ""
	}
	return cp.Utf8At(cp.ClassRefs[e.Slot])
}

// NameAndTypeAt resolves a CONSTANT_NameAndType entry to (name, descriptor).
func (cp *ConstantPool) NameAndTypeAt(index int) (string, string) {
	if index <= 0 || index >= len(cp.CpIndex) {
		return "", ""
	}
	e := cp.CpIndex[index]
	if e.Tag != NameAndTypeConst {
		return "", ""
	}
	nat := cp.NameAndTypes[e.Slot]
	return cp.Utf8At(nat.NameIndex), cp.Utf8At(nat.DescIndex)
}

// MemberRefAt resolves a FieldRef/MethodRef/InterfaceMethodRef entry to its
// (owner class, name, descriptor) triple, generalised to all three ref kinds.
func (cp *ConstantPool) MemberRefAt(index int) (owner, name, desc string, ok bool) {
	if index <= 0 || index >= len(cp.CpIndex) {
		return "", "", "", false
	}
	e := cp.CpIndex[index]
	var ref MemberRef
	switch e.Tag {
	case FieldRefConst:
		ref = cp.FieldRefs[e.Slot]
	case MethodRefConst:
		ref = cp.MethodRefs[e.Slot]
	case InterfaceMethodRefConst:
		ref = cp.IfaceRefs[e.Slot]
	default:
		return "", "", "", false
	}
	owner = cp.ClassNameAt(ref.ClassIndex)
	name, desc = cp.NameAndTypeAt(ref.NameAndTypeIndex)
	return owner, name, desc, true
}

// AddUtf8 interns s, returning its constant-pool index. Existing entries are
// reused so repeated remaps/injections don't bloat the pool.
func (cp *ConstantPool) AddUtf8(s string) int {
	for i, e := range cp.CpIndex {
		if e.Tag == Utf8Const && cp.Utf8s[e.Slot] == s {
			return i
		}
	}
	cp.Utf8s = append(cp.Utf8s, s)
	cp.CpIndex = append(cp.CpIndex, CpEntry{Tag: Utf8Const, Slot: len(cp.Utf8s) - 1})
	return len(cp.CpIndex) - 1
}

// AddClassRef interns a CONSTANT_Class entry for className.
func (cp *ConstantPool) AddClassRef(className string) int {
	for i, e := range cp.CpIndex {
		if e.Tag == ClassRefConst && cp.Utf8At(cp.ClassRefs[e.Slot]) == className {
			return i
		}
	}
	utf8 := cp.AddUtf8(className)
	cp.ClassRefs = append(cp.ClassRefs, utf8)
	cp.CpIndex = append(cp.CpIndex, CpEntry{Tag: ClassRefConst, Slot: len(cp.ClassRefs) - 1})
	return len(cp.CpIndex) - 1
}

// AddNameAndType interns a CONSTANT_NameAndType entry.
func (cp *ConstantPool) AddNameAndType(name, desc string) int {
	nameIdx, descIdx := cp.AddUtf8(name), cp.AddUtf8(desc)
	for i, e := range cp.CpIndex {
		if e.Tag == NameAndTypeConst {
			nat := cp.NameAndTypes[e.Slot]
			if nat.NameIndex == nameIdx && nat.DescIndex == descIdx {
				return i
			}
		}
	}
	cp.NameAndTypes = append(cp.NameAndTypes, NameAndType{NameIndex: nameIdx, DescIndex: descIdx})
	cp.CpIndex = append(cp.CpIndex, CpEntry{Tag: NameAndTypeConst, Slot: len(cp.NameAndTypes) - 1})
	return len(cp.CpIndex) - 1
}

// AddMemberRef interns a Field/Method/InterfaceMethod ref, per tag.
func (cp *ConstantPool) AddMemberRef(tag int, owner, name, desc string) int {
	classIdx := cp.AddClassRef(owner)
	natIdx := cp.AddNameAndType(name, desc)
	var bucket *[]MemberRef
	switch tag {
	case FieldRefConst:
		bucket = &cp.FieldRefs
	case MethodRefConst:
		bucket = &cp.MethodRefs
	case InterfaceMethodRefConst:
		bucket = &cp.IfaceRefs
	default:
		panic("AddMemberRef: invalid tag")
	}
	for i, e := range cp.CpIndex {
		if e.Tag == tag {
			ref := (*bucket)[e.Slot]
			if ref.ClassIndex == classIdx && ref.NameAndTypeIndex == natIdx {
				return i
			}
		}
	}
	*bucket = append(*bucket, MemberRef{ClassIndex: classIdx, NameAndTypeIndex: natIdx})
	cp.CpIndex = append(cp.CpIndex, CpEntry{Tag: tag, Slot: len(*bucket) - 1})
	return len(cp.CpIndex) - 1
}

// AddStringConst interns a CONSTANT_String entry for s.
func (cp *ConstantPool) AddStringConst(s string) int {
	utf8 := cp.AddUtf8(s)
	for i, e := range cp.CpIndex {
		if e.Tag == StringConst && cp.StringRefs[e.Slot] == utf8 {
			return i
		}
	}
	cp.StringRefs = append(cp.StringRefs, utf8)
	cp.CpIndex = append(cp.CpIndex, CpEntry{Tag: StringConst, Slot: len(cp.StringRefs) - 1})
	return len(cp.CpIndex) - 1
}

// AddIntConst interns a CONSTANT_Integer entry.
func (cp *ConstantPool) AddIntConst(v int32) int {
	for i, e := range cp.CpIndex {
		if e.Tag == IntConst && cp.IntConsts[e.Slot] == v {
			return i
		}
	}
	cp.IntConsts = append(cp.IntConsts, v)
	cp.CpIndex = append(cp.CpIndex, CpEntry{Tag: IntConst, Slot: len(cp.IntConsts) - 1})
	return len(cp.CpIndex) - 1
}

// NewConstantPool returns a pool containing only the mandatory dummy entry
// at index 0.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{CpIndex: []CpEntry{{}}}
}
