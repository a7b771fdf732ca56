/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package main

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/foundryvm/weld/classfile"
)

func buildFixtureClass(name string) *classfile.ClassNode {
	return &classfile.ClassNode{
		Name:      name,
		SuperName: "java/lang/Object",
	}
}

func TestClasspathLoaderResolvesFromDirectory(t *testing.T) {
	dir := t.TempDir()
	node := buildFixtureClass("com/example/Widget")
	raw, err := classfile.Encode(node)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	path := filepath.Join(dir, "com", "example")
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(path, "Widget.class"), raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	l, err := newClasspathLoader([]string{dir})
	if err != nil {
		t.Fatalf("newClasspathLoader: %v", err)
	}
	defer l.Close()

	got, err := l.LoadClass("com/example/Widget")
	if err != nil {
		t.Fatalf("LoadClass: %v", err)
	}
	if got.Name != "com/example/Widget" {
		t.Fatalf("Name = %q, want com/example/Widget", got.Name)
	}
}

func TestClasspathLoaderResolvesFromJar(t *testing.T) {
	dir := t.TempDir()
	jarPath := filepath.Join(dir, "lib.jar")
	out, err := os.Create(jarPath)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	zw := zip.NewWriter(out)

	node := buildFixtureClass("com/example/Gadget")
	raw, err := classfile.Encode(node)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	w, err := zw.Create("com/example/Gadget.class")
	if err != nil {
		t.Fatalf("zip Create: %v", err)
	}
	if _, err := w.Write(raw); err != nil {
		t.Fatalf("zip Write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l, err := newClasspathLoader([]string{jarPath})
	if err != nil {
		t.Fatalf("newClasspathLoader: %v", err)
	}
	defer l.Close()

	got, err := l.LoadClass("com/example/Gadget")
	if err != nil {
		t.Fatalf("LoadClass: %v", err)
	}
	if got.Name != "com/example/Gadget" {
		t.Fatalf("Name = %q, want com/example/Gadget", got.Name)
	}
}

func TestClasspathLoaderReportsMissingClass(t *testing.T) {
	l, err := newClasspathLoader([]string{t.TempDir()})
	if err != nil {
		t.Fatalf("newClasspathLoader: %v", err)
	}
	defer l.Close()

	if _, err := l.LoadClass("com/example/Missing"); err == nil {
		t.Fatal("LoadClass: expected an error for a class not on the classpath")
	}
}
