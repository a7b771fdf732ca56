/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package classinfo

import (
	"fmt"
	"testing"

	"github.com/foundryvm/weld/classfile"
	"github.com/foundryvm/weld/types"
)

// fakeLoader is a fixed in-memory class table standing in for a classpath:
//
//	java/lang/Object
//	Animal implements Named
//	Dog extends Animal implements Barks
//	Named declares name()Ljava/lang/String;
//	Barks extends Named, declares bark()V
type fakeLoader struct {
	classes map[string]*classfile.ClassNode
}

func (f *fakeLoader) LoadClass(name string) (*classfile.ClassNode, error) {
	if cn, ok := f.classes[name]; ok {
		return cn, nil
	}
	return nil, fmt.Errorf("no such class: %s", name)
}

func newFakeLoader() *fakeLoader {
	object := &classfile.ClassNode{Name: "java/lang/Object"}
	named := &classfile.ClassNode{
		Name:       "Named",
		Access:     types.AccInterface | types.AccAbstract,
		Methods:    []*classfile.MethodNode{{Name: "name", Desc: "()Ljava/lang/String;", Access: types.AccPublic | types.AccAbstract}},
		Interfaces: nil,
	}
	barks := &classfile.ClassNode{
		Name:       "Barks",
		Access:     types.AccInterface | types.AccAbstract,
		Interfaces: []string{"Named"},
		Methods:    []*classfile.MethodNode{{Name: "bark", Desc: "()V", Access: types.AccPublic | types.AccAbstract}},
	}
	animal := &classfile.ClassNode{
		Name:       "Animal",
		SuperName:  "java/lang/Object",
		Interfaces: []string{"Named"},
		Fields:     []*classfile.FieldNode{{Name: "age", Desc: "I"}},
	}
	dog := &classfile.ClassNode{
		Name:       "Dog",
		SuperName:  "Animal",
		Interfaces: []string{"Barks"},
	}
	return &fakeLoader{classes: map[string]*classfile.ClassNode{
		"java/lang/Object": object,
		"Named":            named,
		"Barks":            barks,
		"Animal":           animal,
		"Dog":              dog,
	}}
}

func TestForNameIsMemoized(t *testing.T) {
	c := NewCache(newFakeLoader())
	a, err := c.ForName("Dog")
	if err != nil {
		t.Fatalf("ForName: %v", err)
	}
	b, err := c.ForName("Dog")
	if err != nil {
		t.Fatalf("ForName (2nd): %v", err)
	}
	if a != b {
		t.Errorf("ForName returned distinct ClassInfo pointers for the same class")
	}
	if a.Handle() != b.Handle() {
		t.Errorf("handles differ: %v vs %v", a.Handle(), b.Handle())
	}
}

func TestFindMethodInHierarchyViaInterfaces(t *testing.T) {
	c := NewCache(newFakeLoader())
	dog, err := c.ForName("Dog")
	if err != nil {
		t.Fatalf("ForName: %v", err)
	}

	m, owner, err := dog.FindMethodInHierarchy("bark", "()V", true, types.SearchAll)
	if err != nil {
		t.Fatalf("FindMethodInHierarchy: %v", err)
	}
	if m == nil {
		t.Fatal("bark()V not found via interface chain")
	}
	if owner.Name() != "Barks" {
		t.Errorf("owner = %s, want Barks", owner.Name())
	}

	// name()Ljava/lang/String; is two interface-hops away (Barks -> Named)
	m2, owner2, err := dog.FindMethodInHierarchy("name", "()Ljava/lang/String;", true, types.SearchAll)
	if err != nil {
		t.Fatalf("FindMethodInHierarchy: %v", err)
	}
	if m2 == nil || owner2.Name() != "Named" {
		t.Fatalf("name()Ljava/lang/String; not resolved to Named, got %v", owner2)
	}
}

func TestFindMethodInHierarchySuperOnlySkipsInterfaces(t *testing.T) {
	c := NewCache(newFakeLoader())
	dog, err := c.ForName("Dog")
	if err != nil {
		t.Fatalf("ForName: %v", err)
	}
	m, _, err := dog.FindMethodInHierarchy("bark", "()V", true, types.SearchSuperOnly)
	if err != nil {
		t.Fatalf("FindMethodInHierarchy: %v", err)
	}
	if m != nil {
		t.Fatal("SearchSuperOnly should not have found an interface-only method")
	}
}

func TestFindFieldWalksSuperclassChain(t *testing.T) {
	c := NewCache(newFakeLoader())
	dog, err := c.ForName("Dog")
	if err != nil {
		t.Fatalf("ForName: %v", err)
	}
	f, owner, err := dog.FindField("age")
	if err != nil {
		t.Fatalf("FindField: %v", err)
	}
	if f == nil || owner.Name() != "Animal" {
		t.Fatalf("age not resolved to Animal, got %v", owner)
	}
}

func TestGetInterfacesFlattensTransitively(t *testing.T) {
	c := NewCache(newFakeLoader())
	dog, err := c.ForName("Dog")
	if err != nil {
		t.Fatalf("ForName: %v", err)
	}
	ifaces, err := dog.GetInterfaces()
	if err != nil {
		t.Fatalf("GetInterfaces: %v", err)
	}
	want := map[string]bool{"Barks": true, "Named": true}
	if len(ifaces) != len(want) {
		t.Fatalf("GetInterfaces = %v, want two entries (Barks, Named)", ifaces)
	}
	for _, i := range ifaces {
		if !want[i] {
			t.Errorf("unexpected interface %q", i)
		}
	}
}

func TestIsAssignableFrom(t *testing.T) {
	c := NewCache(newFakeLoader())
	ok, err := c.IsAssignableFrom("Named", "Dog")
	if err != nil {
		t.Fatalf("IsAssignableFrom: %v", err)
	}
	if !ok {
		t.Error("Dog should be assignable to Named (via Barks extends Named)")
	}

	ok, err = c.IsAssignableFrom("Barks", "Animal")
	if err != nil {
		t.Fatalf("IsAssignableFrom: %v", err)
	}
	if ok {
		t.Error("Animal should not be assignable to Barks")
	}
}

func TestInvalidateForcesReload(t *testing.T) {
	loader := newFakeLoader()
	c := NewCache(loader)
	first, err := c.ForName("Dog")
	if err != nil {
		t.Fatalf("ForName: %v", err)
	}
	c.Invalidate("Dog")
	second, err := c.ForName("Dog")
	if err != nil {
		t.Fatalf("ForName (after invalidate): %v", err)
	}
	if first == second {
		t.Error("Invalidate should force a fresh ClassInfo on next ForName")
	}
}
