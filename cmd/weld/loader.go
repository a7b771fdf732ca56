/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package main

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/foundryvm/weld/classfile"
)

// classpathLoader implements classinfo.Loader over a list of on-disk
// directories and jar archives: exactly the kind of concrete, host-owned
// "find the bytes for this class name" policy that package classinfo
// never decides for itself. Directory entries are memory-mapped via
// classfile.ReadMapped; jar entries are decoded straight out of the
// zip reader, since a jar's compressed member can't be mapped in place.
type classpathLoader struct {
	dirs []string
	jars []*zip.ReadCloser
}

// newClasspathLoader opens every jar on entries eagerly (so a bad jar
// path fails fast, before any class is resolved) and keeps directories
// as plain path prefixes.
func newClasspathLoader(entries []string) (*classpathLoader, error) {
	l := &classpathLoader{}
	for _, e := range entries {
		info, err := os.Stat(e)
		if err != nil {
			return nil, fmt.Errorf("weld: classpath entry %s: %w", e, err)
		}
		if info.IsDir() {
			l.dirs = append(l.dirs, e)
			continue
		}
		rc, err := zip.OpenReader(e)
		if err != nil {
			return nil, fmt.Errorf("weld: opening jar %s: %w", e, err)
		}
		l.jars = append(l.jars, rc)
	}
	return l, nil
}

func (l *classpathLoader) Close() {
	for _, rc := range l.jars {
		rc.Close()
	}
}

// LoadClass resolves name (slash-separated internal form) against every
// directory, then every jar, in the order they were given on the command
// line.
func (l *classpathLoader) LoadClass(name string) (*classfile.ClassNode, error) {
	rel := name + ".class"
	for _, dir := range l.dirs {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return classfile.ReadMapped(path)
	}
	for _, rc := range l.jars {
		for _, f := range rc.File {
			if f.Name != rel {
				continue
			}
			rd, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("weld: opening %s in jar: %w", rel, err)
			}
			defer rd.Close()
			raw, err := io.ReadAll(rd)
			if err != nil {
				return nil, fmt.Errorf("weld: reading %s from jar: %w", rel, err)
			}
			return classfile.Decode(raw)
		}
	}
	return nil, fmt.Errorf("weld: class %s not found on classpath", name)
}
