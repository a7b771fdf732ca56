/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package mixininfo

import (
	"fmt"
	"testing"

	"github.com/foundryvm/weld/classfile"
	"github.com/foundryvm/weld/classinfo"
	"github.com/foundryvm/weld/types"
)

type fakeLoader struct {
	classes map[string]*classfile.ClassNode
}

func (f *fakeLoader) LoadClass(name string) (*classfile.ClassNode, error) {
	if cn, ok := f.classes[name]; ok {
		return cn, nil
	}
	return nil, fmt.Errorf("no such class: %s", name)
}

func mixinAnnotation(targets ...string) classfile.Annotation {
	arr := make([]classfile.ElementValue, len(targets))
	for i, t := range targets {
		arr[i] = classfile.ElementValue{Tag: classfile.EVClass, ClassName: t}
	}
	return classfile.Annotation{
		Type: types.AnnMixin,
		Elements: map[string]classfile.ElementValue{
			"targets": {Tag: classfile.EVArray, Array: arr},
		},
	}
}

func boolAnnotation(desc string) classfile.Annotation {
	return classfile.Annotation{Type: desc, Elements: map[string]classfile.ElementValue{}}
}

func TestParseCategorizesMembers(t *testing.T) {
	target := &classfile.ClassNode{
		Name:      "com/example/Target",
		SuperName: "java/lang/Object",
		Fields:    []*classfile.FieldNode{{Name: "counter", Desc: "I"}},
		Methods:   []*classfile.MethodNode{{Name: "tick", Desc: "()V"}},
	}
	loader := &fakeLoader{classes: map[string]*classfile.ClassNode{
		"java/lang/Object":   {Name: "java/lang/Object"},
		"com/example/Target": target,
	}}
	classes := classinfo.NewCache(loader)

	mixin := &classfile.ClassNode{
		Name:        "com/example/MyMixin",
		SuperName:   "com/example/Target",
		Annotations: []classfile.Annotation{mixinAnnotation("com/example/Target")},
		Fields: []*classfile.FieldNode{
			{Name: "counter", Desc: "I", Annotations: []classfile.Annotation{boolAnnotation(types.AnnShadow)}},
			{Name: "extra", Desc: "I", Annotations: []classfile.Annotation{boolAnnotation(types.AnnUnique)}},
		},
		Methods: []*classfile.MethodNode{
			{Name: "tick", Desc: "()V", Annotations: []classfile.Annotation{boolAnnotation(types.AnnOverwrite)}},
			{Name: "onTick", Desc: "(Lweld/CallbackInfo;)V", Annotations: []classfile.Annotation{boolAnnotation(types.AnnInject)}},
			{Name: "getCounter", Desc: "()I", Annotations: []classfile.Annotation{boolAnnotation(types.AnnAccessor)}},
			{Name: "<init>", Desc: "()V"},
		},
	}

	mi, err := Parse(mixin, classes)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if mi.Priority != types.DefaultPriority {
		t.Errorf("Priority = %d, want default %d", mi.Priority, types.DefaultPriority)
	}
	if len(mi.TargetNames) != 1 || mi.TargetNames[0] != "com/example/Target" {
		t.Fatalf("TargetNames = %v", mi.TargetNames)
	}

	if mi.Fields[0].Kind != KindShadow {
		t.Errorf("counter field Kind = %v, want shadow", mi.Fields[0].Kind)
	}
	if mi.Fields[1].Kind != KindUnique {
		t.Errorf("extra field Kind = %v, want unique", mi.Fields[1].Kind)
	}
	if mi.Methods[0].Kind != KindOverwrite {
		t.Errorf("tick method Kind = %v, want overwrite", mi.Methods[0].Kind)
	}
	if mi.Methods[1].Kind != KindInjector {
		t.Errorf("onTick method Kind = %v, want injector", mi.Methods[1].Kind)
	}
	if mi.Methods[1].RenamedTo == "" {
		t.Error("injector handler should get a deterministic rename")
	}
	if mi.Methods[2].Kind != KindAccessor || mi.Methods[2].AccessorTarget != "counter" {
		t.Errorf("getCounter accessor target = %q, want counter", mi.Methods[2].AccessorTarget)
	}
	if mi.Methods[3].Kind != KindConstructor {
		t.Errorf("<init> Kind = %v, want constructor", mi.Methods[3].Kind)
	}
}

func TestCategorizeMethodConstructorWinsOverAnyAnnotation(t *testing.T) {
	ctor := &classfile.MethodNode{
		Name: "<init>", Desc: "()V",
		Annotations: []classfile.Annotation{boolAnnotation(types.AnnUnique)},
	}
	mm := categorizeMethod(ctor)
	if mm.Kind != KindConstructor {
		t.Errorf("Kind = %v, want constructor even though @Unique is present", mm.Kind)
	}
}

func TestParseRejectsMissingMixinAnnotation(t *testing.T) {
	classes := classinfo.NewCache(&fakeLoader{classes: map[string]*classfile.ClassNode{}})
	_, err := Parse(&classfile.ClassNode{Name: "com/example/NotAMixin"}, classes)
	if err == nil {
		t.Fatal("Parse: expected error for class missing @Mixin")
	}
}

func TestParseRejectsBadSupertype(t *testing.T) {
	loader := &fakeLoader{classes: map[string]*classfile.ClassNode{
		"java/lang/Object":    {Name: "java/lang/Object"},
		"com/example/Target":  {Name: "com/example/Target", SuperName: "java/lang/Object"},
		"com/example/Unrelated": {Name: "com/example/Unrelated", SuperName: "java/lang/Object"},
	}}
	classes := classinfo.NewCache(loader)

	mixin := &classfile.ClassNode{
		Name:        "com/example/BadMixin",
		SuperName:   "com/example/Unrelated",
		Annotations: []classfile.Annotation{mixinAnnotation("com/example/Target")},
	}
	if _, err := Parse(mixin, classes); err == nil {
		t.Fatal("Parse: expected supertype validation error")
	}
}

func TestHandlerRenameIsDeterministic(t *testing.T) {
	a := HandlerRename("com/example/MyMixin", "onTick", "()V")
	b := HandlerRename("com/example/MyMixin", "onTick", "()V")
	if a != b {
		t.Errorf("HandlerRename not deterministic: %q vs %q", a, b)
	}
	c := HandlerRename("com/example/MyMixin", "onTick", "(I)V")
	if a == c {
		t.Error("HandlerRename should differ when descriptor differs")
	}
}
