/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package mixininfo is the mixin class model component (C5): it parses a
// decoded mixin class into a categorized member list (shadows, overwrites,
// uniques, intrinsics, accessors, invokers, injector handlers, plain
// merges), validating the mixin's supertype and shadow references against
// its declared targets along the way.
package mixininfo

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/foundryvm/weld/classfile"
	"github.com/foundryvm/weld/classinfo"
	"github.com/foundryvm/weld/types"
)

// MemberKind categorizes one field or method of a mixin class (§4.5 step 2/3).
type MemberKind int

const (
	KindPlain MemberKind = iota
	KindShadow
	KindOverwrite
	KindUnique
	KindIntrinsic
	KindAccessor
	KindInvoker
	KindInjector
	KindConstructor
)

func (k MemberKind) String() string {
	switch k {
	case KindShadow:
		return "shadow"
	case KindOverwrite:
		return "overwrite"
	case KindUnique:
		return "unique"
	case KindIntrinsic:
		return "intrinsic"
	case KindAccessor:
		return "accessor"
	case KindInvoker:
		return "invoker"
	case KindInjector:
		return "injector"
	case KindConstructor:
		return "constructor"
	default:
		return "plain"
	}
}

// FieldMember is one categorized field of a mixin class.
type FieldMember struct {
	Node    *classfile.FieldNode
	Kind    MemberKind
	Final   bool
	Mutable bool
}

// MethodMember is one categorized method of a mixin class.
type MethodMember struct {
	Node *classfile.MethodNode
	Kind MemberKind

	// RenamedTo is the deterministic name an injector handler is spliced
	// in under once merged (§4.5 step 5); empty for every other Kind.
	RenamedTo string

	// InjectorAnnotation is the @Inject/@ModifyArg/@ModifyArgs/@Redirect/
	// @ModifyConstant/@ModifyVariable annotation record, set only when
	// Kind == KindInjector. C10 reads it to build an InjectionInfo.
	InjectorAnnotation *classfile.Annotation

	// AccessorTarget is the target field or method name an @Accessor/
	// @Invoker resolves to, set only when Kind is KindAccessor/KindInvoker.
	AccessorTarget string
}

// MixinInfo is the parsed, categorized form of one mixin class (C5).
type MixinInfo struct {
	ClassName   string
	Node        *classfile.ClassNode
	TargetNames []string
	Priority    int
	Remap       bool
	Fields      []*FieldMember
	Methods     []*MethodMember
}

// Parse validates and categorizes node as a mixin class (§4.5). classes
// resolves target classes for supertype and shadow-reference validation.
func Parse(node *classfile.ClassNode, classes *classinfo.Cache) (*MixinInfo, error) {
	anno := node.Annotation(types.AnnMixin)
	if anno == nil {
		return nil, fmt.Errorf("weld: %s is not a mixin class (missing @Mixin)", node.Name)
	}

	targets := targetNames(anno)
	if len(targets) == 0 {
		return nil, fmt.Errorf("weld: mixin %s declares no targets", node.Name)
	}

	mi := &MixinInfo{
		ClassName:   node.Name,
		Node:        node,
		TargetNames: targets,
		Priority:    anno.GetInt("priority", types.DefaultPriority),
		Remap:       anno.GetBool("remap", true),
	}

	if err := validateSupertype(node, targets, classes); err != nil {
		return nil, fmt.Errorf("weld: mixin %s: %w", node.Name, err)
	}

	for _, f := range node.Fields {
		mi.Fields = append(mi.Fields, categorizeField(f))
	}
	for _, m := range node.Methods {
		mi.Methods = append(mi.Methods, categorizeMethod(m))
	}

	if err := validateShadows(mi, classes); err != nil {
		return nil, fmt.Errorf("weld: mixin %s: %w", node.Name, err)
	}

	for _, mm := range mi.Methods {
		if mm.Kind == KindInjector {
			mm.RenamedTo = HandlerRename(mi.ClassName, mm.Node.Name, mm.Node.Desc)
		}
	}

	return mi, nil
}

func targetNames(anno *classfile.Annotation) []string {
	var out []string
	for _, ev := range anno.GetArray("targets") {
		if s := ev.AsString(); s != "" {
			out = append(out, strings.ReplaceAll(s, ".", "/"))
		}
	}
	return out
}

// validateSupertype enforces §4.5 step 1: the mixin's declared supertype
// must be one of its targets, or an ancestor shared by all of them.
func validateSupertype(node *classfile.ClassNode, targets []string, classes *classinfo.Cache) error {
	if node.SuperName == "" || node.SuperName == "java/lang/Object" {
		return nil
	}
	for _, t := range targets {
		if node.SuperName == t {
			continue
		}
		ok, err := classes.IsAssignableFrom(node.SuperName, t)
		if err != nil {
			return fmt.Errorf("resolving target %s: %w", t, err)
		}
		if !ok {
			return fmt.Errorf("declared supertype %s is not %s or one of its superclasses", node.SuperName, t)
		}
	}
	return nil
}

// validateShadows enforces §4.5 step 4: every @Shadow member must resolve
// against at least one declared target.
func validateShadows(mi *MixinInfo, classes *classinfo.Cache) error {
	for _, fm := range mi.Fields {
		if fm.Kind != KindShadow {
			continue
		}
		if !shadowFieldResolves(mi.TargetNames, fm.Node.Name, classes) {
			return fmt.Errorf("shadow field %s does not resolve in any target", fm.Node.Name)
		}
	}
	for _, mm := range mi.Methods {
		if mm.Kind != KindShadow {
			continue
		}
		if !shadowMethodResolves(mi.TargetNames, mm.Node.Name, mm.Node.Desc, classes) {
			return fmt.Errorf("shadow method %s%s does not resolve in any target", mm.Node.Name, mm.Node.Desc)
		}
	}
	return nil
}

func shadowFieldResolves(targets []string, name string, classes *classinfo.Cache) bool {
	for _, t := range targets {
		ci, err := classes.ForName(t)
		if err != nil {
			continue
		}
		if f, _, _ := ci.FindField(name); f != nil {
			return true
		}
	}
	return false
}

func shadowMethodResolves(targets []string, name, desc string, classes *classinfo.Cache) bool {
	for _, t := range targets {
		ci, err := classes.ForName(t)
		if err != nil {
			continue
		}
		if m, _, _ := ci.FindMethodInHierarchy(name, desc, true, types.SearchAll); m != nil {
			return true
		}
	}
	return false
}

func categorizeField(f *classfile.FieldNode) *FieldMember {
	fm := &FieldMember{Node: f, Kind: KindPlain}
	switch {
	case f.Annotation(types.AnnShadow) != nil:
		fm.Kind = KindShadow
	case f.Annotation(types.AnnUnique) != nil:
		fm.Kind = KindUnique
	}
	fm.Final = f.Annotation(types.AnnFinal) != nil
	fm.Mutable = f.Annotation(types.AnnMutable) != nil
	return fm
}

func categorizeMethod(m *classfile.MethodNode) *MethodMember {
	mm := &MethodMember{Node: m, Kind: KindPlain}
	if m.Name == "<init>" {
		// A mixin constructor is never shadowed/overwritten/etc; its only
		// job is contributing instance-field initializer code (§4.7) to
		// every target constructor sharing its descriptor.
		mm.Kind = KindConstructor
		return mm
	}
	switch {
	case m.Annotation(types.AnnShadow) != nil:
		mm.Kind = KindShadow
	case m.Annotation(types.AnnOverwrite) != nil:
		mm.Kind = KindOverwrite
	case m.Annotation(types.AnnUnique) != nil:
		mm.Kind = KindUnique
	case m.Annotation(types.AnnIntrinsic) != nil:
		mm.Kind = KindIntrinsic
	case m.Annotation(types.AnnAccessor) != nil:
		mm.Kind = KindAccessor
		mm.AccessorTarget = accessorTarget(m, types.AnnAccessor, []string{"get", "is", "set"})
	case m.Annotation(types.AnnInvoker) != nil:
		mm.Kind = KindInvoker
		mm.AccessorTarget = accessorTarget(m, types.AnnInvoker, []string{"call", "invoke"})
	default:
		for _, d := range types.InjectorAnnotations {
			if a := m.Annotation(d); a != nil {
				mm.Kind = KindInjector
				mm.InjectorAnnotation = a
				break
			}
		}
	}
	return mm
}

// accessorTarget resolves the target field/method name an @Accessor or
// @Invoker method addresses: an explicit "value" element wins, otherwise
// it is derived from the method name by stripping the first matching
// prefix in prefixes (getFoo/isFoo/setFoo -> foo, callFoo/invokeFoo ->
// foo) and lower-casing the first remaining letter.
func accessorTarget(m *classfile.MethodNode, annDesc string, prefixes []string) string {
	if a := m.Annotation(annDesc); a != nil {
		if v := a.GetString("value", ""); v != "" {
			return v
		}
	}
	name := m.Name
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) && len(name) > len(p) {
			rest := name[len(p):]
			return strings.ToLower(rest[:1]) + rest[1:]
		}
	}
	return name
}

// HandlerRename derives the deterministic post-merge name for an injector
// handler method (§4.5 step 5): a hash of (mixin class, original name,
// descriptor), so re-parsing the same mixin always yields the same name
// and two distinct handlers never collide.
func HandlerRename(mixinClass, name, desc string) string {
	sum := md5.Sum([]byte(mixinClass + "#" + name + desc))
	return fmt.Sprintf("%s$weld$%s", name, hex.EncodeToString(sum[:])[:8])
}
