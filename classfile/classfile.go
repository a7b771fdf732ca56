/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package classfile is the bytecode model and utilities component (C1): it
// reads and writes class files, represents classes/methods/fields/
// instruction lists, and exposes the small pile of pure helpers (descriptor
// parsing, slot-size arithmetic, visibility, constant-instruction detection,
// boxed/unboxed tables) the rest of the engine is built on. The decoded
// form is one exported tree the rest of weld mutates directly, rather than
// an unexported parse struct copied into a postable one afterward, so
// nothing downstream needs a re-parse step.
package classfile

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/foundryvm/weld/tracelog"
	"github.com/foundryvm/weld/types"
)

// ClassNode is the full in-memory representation of one class file.
type ClassNode struct {
	MinorVersion int
	MajorVersion int
	Access       int
	Name         string
	SuperName    string
	Interfaces   []string
	Fields       []*FieldNode
	Methods      []*MethodNode
	Attributes   []*Attribute
	SourceFile   string
	Signature    string
	InnerClasses []InnerClassEntry
	CP           *ConstantPool
	Annotations  []Annotation
}

// InnerClassEntry is one InnerClasses attribute entry.
type InnerClassEntry struct {
	InnerName       string
	OuterName       string
	InnerSimpleName string
	Access          int
}

// FieldNode is one field_info entry.
type FieldNode struct {
	Access     int
	Name       string
	Desc       string
	Signature  string
	ConstValue interface{}
	Attributes []*Attribute
	Annotations []Annotation
}

// MethodNode is one method_info entry: a name, descriptor, access flags and
// (for non-abstract/non-native methods) an instruction list plus exception
// and debug tables.
type MethodNode struct {
	Access         int
	Name           string
	Desc           string
	Signature      string
	Exceptions     []string // declared checked-exception class names
	Instructions   *InsnList
	TryCatchBlocks []TryCatchBlock
	LocalVars      []LocalVariable
	MaxStack       int
	MaxLocals      int
	Attributes     []*Attribute
	Annotations    []Annotation
}

// Annotation returns the first annotation on m whose type descriptor
// matches desc (e.g. "Lweld/Overwrite;"), or nil.
func (m *MethodNode) Annotation(desc string) *Annotation {
	for i := range m.Annotations {
		if m.Annotations[i].Type == desc {
			return &m.Annotations[i]
		}
	}
	return nil
}

// Annotation returns the first annotation on f whose type descriptor
// matches desc, or nil.
func (f *FieldNode) Annotation(desc string) *Annotation {
	for i := range f.Annotations {
		if f.Annotations[i].Type == desc {
			return &f.Annotations[i]
		}
	}
	return nil
}

// Annotation returns the first annotation on c whose type descriptor
// matches desc, or nil.
func (c *ClassNode) Annotation(desc string) *Annotation {
	for i := range c.Annotations {
		if c.Annotations[i].Type == desc {
			return &c.Annotations[i]
		}
	}
	return nil
}

// TryCatchBlock is one exception_table entry of a Code attribute.
type TryCatchBlock struct {
	Start     InsnID
	End       InsnID
	Handler   InsnID
	CatchType string // "" means catch-all (finally)
}

// LocalVariable is one LocalVariableTable entry.
type LocalVariable struct {
	Name  string
	Desc  string
	Index int
	Start InsnID
	End   InsnID
}

// Attribute is an opaque, unrecognised attribute: name plus raw bytes.
// Attributes weld understands (Code, Exceptions, InnerClasses, ...) are
// parsed into the typed fields above instead of staying in this list.
type Attribute struct {
	Name    string
	Content []byte
}

// IsStatic reports whether m is a static method.
func (m *MethodNode) IsStatic() bool { return m.Access&types.AccStatic != 0 }

// IsAbstract reports whether m has no body.
func (m *MethodNode) IsAbstract() bool { return m.Access&types.AccAbstract != 0 }

// Visibility returns m's declared visibility.
func (m *MethodNode) Visibility() types.Visibility {
	return types.VisibilityFromAccessFlags(m.Access)
}

// IsStatic reports whether f is a static field.
func (f *FieldNode) IsStatic() bool { return f.Access&types.AccStatic != 0 }

// Visibility returns f's declared visibility.
func (f *FieldNode) Visibility() types.Visibility {
	return types.VisibilityFromAccessFlags(f.Access)
}

// FindMethod returns the method named name/desc declared directly on c, or
// nil.
func (c *ClassNode) FindMethod(name, desc string) *MethodNode {
	for _, m := range c.Methods {
		if m.Name == name && m.Desc == desc {
			return m
		}
	}
	return nil
}

// FindField returns the field named name declared directly on c, or nil.
func (c *ClassNode) FindField(name string) *FieldNode {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// HasInterface reports whether c directly declares ifaceName as implemented.
func (c *ClassNode) HasInterface(ifaceName string) bool {
	for _, i := range c.Interfaces {
		if i == ifaceName {
			return true
		}
	}
	return false
}

// cfe formats a "Class Format Error" including the caller's file/line so
// malformed-input failures are easy to trace back to the check that
// rejected them.
func cfe(msg string) error {
	errMsg := "class format error: " + msg
	if pc, file, line, ok := runtime.Caller(1); ok {
		name := "?"
		if fn := runtime.FuncForPC(pc); fn != nil {
			name = fn.Name()
		}
		errMsg = fmt.Sprintf("%s\n  detected at %s:%d in %s", errMsg, file, line, name)
	}
	tracelog.Error(errMsg)
	return errors.New(errMsg)
}

// BadClassError exposes cfe to external callers: it returns the same
// BadClass error and, like cfe, also logs the message via tracelog.Error.
func BadClassError(msg string) error { return cfe(msg) }
