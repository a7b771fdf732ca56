/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package classfile

// Insn is the tagged-variant instruction model of §3: every concrete
// instruction kind implements it. Per the Design Notes ("deep inheritance of
// injector/injection-point classes... replace with tagged variants"), there
// is deliberately no instruction base class — just small structs and a
// closed set of type switches in the packages that care about specific
// shapes (injectors, injection points, the encoder).
type Insn interface {
	Opcode() int
}

// VarInsn covers the *LOAD/*STORE/RET family: an opcode plus a local-slot
// index. Short forms (ILOAD_0 etc.) are a pure encoding optimisation and are
// normalised away on decode — Op is always the generic opcode (ILOAD,
// ASTORE, ...) and Slot always carries the real index.
type VarInsn struct {
	Op   int
	Slot int
}

func (i VarInsn) Opcode() int { return i.Op }

// IincInsn is IINC's two-operand shape (slot, signed increment).
type IincInsn struct {
	Slot int
	Incr int
}

func (IincInsn) Opcode() int { return IINC }

// FieldInsn covers GETFIELD/PUTFIELD/GETSTATIC/PUTSTATIC.
type FieldInsn struct {
	Op    int
	Owner string
	Name  string
	Desc  string
}

func (i FieldInsn) Opcode() int { return i.Op }

// MethodInsn covers INVOKEVIRTUAL/SPECIAL/STATIC/INTERFACE.
type MethodInsn struct {
	Op          int
	Owner       string
	Name        string
	Desc        string
	IsInterface bool
}

func (i MethodInsn) Opcode() int { return i.Op }

// InvokeDynamicInsn covers INVOKEDYNAMIC: the call-site name/descriptor plus
// the index of its bootstrap method.
type InvokeDynamicInsn struct {
	Name           string
	Desc           string
	BootstrapIndex int
}

func (InvokeDynamicInsn) Opcode() int { return INVOKEDYNAMIC }

// TypeInsn covers NEW/ANEWARRAY/CHECKCAST/INSTANCEOF.
type TypeInsn struct {
	Op   int
	Desc string
}

func (i TypeInsn) Opcode() int { return i.Op }

// MultiANewArrayInsn is MULTIANEWARRAY's (array-descriptor, dimensions) shape.
type MultiANewArrayInsn struct {
	Desc string
	Dims int
}

func (MultiANewArrayInsn) Opcode() int { return MULTIANEWARRAY }

// IntInsn covers BIPUSH/SIPUSH/NEWARRAY, each carrying one integer operand.
type IntInsn struct {
	Op      int
	Operand int
}

func (i IntInsn) Opcode() int { return i.Op }

// LdcInsn is LDC/LDC_W/LDC2_W: push the given constant-pool value. Value is
// one of int32, int64, float32, float64, string (a CONSTANT_String) or
// ClassConst (a CONSTANT_Class used as a `Foo.class` literal).
type LdcInsn struct {
	Value interface{}
}

func (LdcInsn) Opcode() int { return LDC }

// ClassConst marks an LdcInsn.Value that names a class-literal constant
// rather than a string.
type ClassConst struct{ Name string }

// JumpInsn covers GOTO/JSR/IF*/IFNULL/IFNONNULL: a branch to a Label node.
type JumpInsn struct {
	Op     int
	Target InsnID
}

func (i JumpInsn) Opcode() int { return i.Op }

// TableSwitchInsn is TABLESWITCH.
type TableSwitchInsn struct {
	Default InsnID
	Low     int
	High    int
	Targets []InsnID
}

func (TableSwitchInsn) Opcode() int { return TABLESWITCH }

// LookupSwitchInsn is LOOKUPSWITCH.
type LookupSwitchInsn struct {
	Default InsnID
	Keys    []int
	Targets []InsnID
}

func (LookupSwitchInsn) Opcode() int { return LOOKUPSWITCH }

// LabelInsn is a zero-size marker node: a place other instructions (jumps,
// exception ranges, line numbers) can point at by id. It carries no opcode
// of its own.
type LabelInsn struct{}

func (LabelInsn) Opcode() int { return -1 }

// LineNumberInsn attaches a source line number to the label it follows.
type LineNumberInsn struct {
	Line  int
	Label InsnID
}

func (LineNumberInsn) Opcode() int { return -1 }

// InsnNoArg covers every opcode with no operand at all (IADD, DUP, RETURN,
// ATHROW, ...).
type InsnNoArg struct {
	Op int
}

func (i InsnNoArg) Opcode() int { return i.Op }

// RawInsn is the fallback for opcodes weld does not model individually
// (currently none in the supported subset, kept so a future opcode can be
// added without an encode/decode break): raw operand bytes round-trip
// unchanged.
type RawInsn struct {
	Op       int
	Operands []byte
}

func (i RawInsn) Opcode() int { return i.Op }

// InsnID is a stable handle into an InsnList's arena. Identity survives
// mutation of the surrounding list; only removing that specific node
// invalidates it. The zero value is never a valid id.
type InsnID uint32

const NilInsn InsnID = 0

type insnSlot struct {
	insn       Insn
	prev, next InsnID
	alive      bool
}

// InsnList is the arena-backed doubly linked instruction list of §3/§9: a
// method body's instructions, addressed by stable InsnID rather than
// pointer, so injection points can hand out ids that remain valid across
// later insertions elsewhere in the same list.
type InsnList struct {
	arena      []insnSlot // arena[0] is an unused sentinel; real ids start at 1
	head, tail InsnID
}

// NewInsnList returns an empty list.
func NewInsnList() *InsnList {
	return &InsnList{arena: make([]insnSlot, 1)}
}

// Len returns the number of live instructions.
func (l *InsnList) Len() int {
	n := 0
	for id := l.head; id != NilInsn; id = l.arena[id].next {
		n++
	}
	return n
}

// First returns the id of the first instruction, or NilInsn if empty.
func (l *InsnList) First() InsnID { return l.head }

// Last returns the id of the last instruction, or NilInsn if empty.
func (l *InsnList) Last() InsnID { return l.tail }

// Next returns the id following id, or NilInsn at the end of the list.
func (l *InsnList) Next(id InsnID) InsnID { return l.arena[id].next }

// Prev returns the id preceding id, or NilInsn at the start of the list.
func (l *InsnList) Prev(id InsnID) InsnID { return l.arena[id].prev }

// Get returns the instruction stored at id.
func (l *InsnList) Get(id InsnID) Insn { return l.arena[id].insn }

// Set replaces the instruction stored at id, keeping the id (and therefore
// its position and any references to it) unchanged — used by injectors that
// rewrite a node in place (e.g. ModifyConstant replacing an LdcInsn/IntInsn).
func (l *InsnList) Set(id InsnID, insn Insn) { l.arena[id].insn = insn }

func (l *InsnList) alloc(insn Insn) InsnID {
	l.arena = append(l.arena, insnSlot{insn: insn, alive: true})
	return InsnID(len(l.arena) - 1)
}

// Append adds insn at the end of the list and returns its id.
func (l *InsnList) Append(insn Insn) InsnID {
	id := l.alloc(insn)
	l.linkTail(id)
	return id
}

// linkTail links an already-allocated-but-unlinked node at the current end
// of the list. Used both by Append (alloc then link) and by decode, which
// must allocate label ids up front (so forward jumps can reference them)
// and link them into place only once the decoder reaches their position.
func (l *InsnList) linkTail(id InsnID) {
	if l.tail == NilInsn {
		l.head, l.tail = id, id
		return
	}
	l.arena[l.tail].next = id
	l.arena[id].prev = l.tail
	l.tail = id
}

// NewLabel allocates a LabelInsn not yet linked into the list; callers place
// that same node with PlaceLabel (decode links it with linkTail) once its
// target position is known
// (needed by decode, which must create labels before it knows everything
// that jumps to them).
func (l *InsnList) NewLabel() InsnID {
	return l.alloc(LabelInsn{})
}

// InsertBefore allocates a new node for insn and links it immediately
// before at, returning its new id.
func (l *InsnList) InsertBefore(at InsnID, insn Insn) InsnID {
	id := l.linkableID(insn)
	l.linkBefore(at, id)
	return id
}

// InsertAfter links insn immediately after at, returning its id.
func (l *InsnList) InsertAfter(at InsnID, insn Insn) InsnID {
	id := l.linkableID(insn)
	l.linkAfter(at, id)
	return id
}

// linkableID returns an id for insn: if insn is a previously-allocated
// LabelInsn placeholder that hasn't been consumed, callers should instead
// use PlaceLabel; this helper always allocates fresh.
func (l *InsnList) linkableID(insn Insn) InsnID {
	return l.alloc(insn)
}

// PlaceLabel links a label previously returned by NewLabel into the list
// before at.
func (l *InsnList) PlaceLabel(id, at InsnID) {
	l.linkBefore(at, id)
}

func (l *InsnList) linkBefore(at, id InsnID) {
	prev := l.arena[at].prev
	l.arena[id].prev = prev
	l.arena[id].next = at
	l.arena[at].prev = id
	if prev == NilInsn {
		l.head = id
	} else {
		l.arena[prev].next = id
	}
}

func (l *InsnList) linkAfter(at, id InsnID) {
	next := l.arena[at].next
	l.arena[id].next = next
	l.arena[id].prev = at
	l.arena[at].next = id
	if next == NilInsn {
		l.tail = id
	} else {
		l.arena[next].prev = id
	}
}

// Remove unlinks id from the list. Other ids remain valid; id itself must
// not be dereferenced again.
func (l *InsnList) Remove(id InsnID) {
	slot := &l.arena[id]
	if slot.prev == NilInsn {
		l.head = slot.next
	} else {
		l.arena[slot.prev].next = slot.next
	}
	if slot.next == NilInsn {
		l.tail = slot.prev
	} else {
		l.arena[slot.next].prev = slot.prev
	}
	slot.alive = false
}

// Each calls fn for every live instruction in forward list order, per §5's
// "instruction traversal for injection-point discovery is forward list
// order" guarantee.
func (l *InsnList) Each(fn func(id InsnID, insn Insn)) {
	for id := l.head; id != NilInsn; id = l.arena[id].next {
		fn(id, l.arena[id].insn)
	}
}

// All collects every live instruction id in forward order.
func (l *InsnList) All() []InsnID {
	ids := make([]InsnID, 0, l.Len())
	for id := l.head; id != NilInsn; id = l.arena[id].next {
		ids = append(ids, id)
	}
	return ids
}

// Clone deep-copies the list, returning the copy and an old->new id mapping
// so that jump/switch/line-number targets pointing at labels can be
// re-resolved to the cloned labels (§3: "Cloning preserves a label-mapping
// so cloned jumps resolve to cloned labels").
func (l *InsnList) Clone() (*InsnList, map[InsnID]InsnID) {
	out := NewInsnList()
	mapping := make(map[InsnID]InsnID, l.Len())
	for id := l.head; id != NilInsn; id = l.arena[id].next {
		mapping[id] = out.Append(l.arena[id].insn)
	}
	remap := func(id InsnID) InsnID {
		if id == NilInsn {
			return NilInsn
		}
		if n, ok := mapping[id]; ok {
			return n
		}
		return id
	}
	out.Each(func(id InsnID, insn Insn) {
		switch v := insn.(type) {
		case JumpInsn:
			v.Target = remap(v.Target)
			out.Set(id, v)
		case LineNumberInsn:
			v.Label = remap(v.Label)
			out.Set(id, v)
		case TableSwitchInsn:
			v.Default = remap(v.Default)
			targets := make([]InsnID, len(v.Targets))
			for i, t := range v.Targets {
				targets[i] = remap(t)
			}
			v.Targets = targets
			out.Set(id, v)
		case LookupSwitchInsn:
			v.Default = remap(v.Default)
			targets := make([]InsnID, len(v.Targets))
			for i, t := range v.Targets {
				targets[i] = remap(t)
			}
			v.Targets = targets
			out.Set(id, v)
		}
	})
	return out, mapping
}
