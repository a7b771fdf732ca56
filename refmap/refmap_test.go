/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package refmap

import "testing"

const sampleDoc = `{
  "mappings": {
    "com/example/Target": {
      "field_1": "a",
      "method_1()I": "b"
    }
  },
  "data": {
    "searge": {
      "com/example/Target": {
        "field_1": "az"
      }
    }
  }
}`

func TestRemapContextFallsBackToDefault(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got := doc.Remap("searge", "com/example/Target", "field_1"); got != "az" {
		t.Errorf("context hit: got %q, want az", got)
	}
	if got := doc.Remap("searge", "com/example/Target", "method_1()I"); got != "b" {
		t.Errorf("context miss should fall back to default: got %q, want b", got)
	}
	if got := doc.Remap("", "com/example/Target", "field_1"); got != "a" {
		t.Errorf("default bucket: got %q, want a", got)
	}
	if got := doc.Remap("", "com/example/Target", "unknown"); got != "unknown" {
		t.Errorf("unmapped symbol should resolve to itself: got %q", got)
	}
}

func TestRemapScansAllOwnersWhenOwnerOmitted(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := doc.Remap("", "", "method_1()I"); got != "b" {
		t.Errorf("owner-omitted scan: got %q, want b", got)
	}
}

func TestBuilderAddAndRemap(t *testing.T) {
	b := NewBuilder()
	b.Add("", "com/example/Mixin", MethodSymbol("doThing", "()V"), "doThing$merged")
	doc := b.Document()

	if got := doc.Remap("", "com/example/Mixin", "doThing()V"); got != "doThing$merged" {
		t.Errorf("got %q, want doThing$merged", got)
	}
}

func TestSymbolFormatting(t *testing.T) {
	if got := MethodSymbol("foo", "(I)V"); got != "foo(I)V" {
		t.Errorf("MethodSymbol: got %q", got)
	}
	if got := FieldSymbol("bar", "I"); got != "bar:I" {
		t.Errorf("FieldSymbol: got %q", got)
	}
}
