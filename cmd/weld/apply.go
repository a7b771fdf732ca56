/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package main

import (
	"archive/zip"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foundryvm/weld/classfile"
	"github.com/foundryvm/weld/profiler"
	"github.com/foundryvm/weld/transform"
	"github.com/foundryvm/weld/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply <target.class | target.jar>...",
	Short: "Apply every bound mixin to a class file or jar.",
	Long: `apply loads a set of mixin configs (and an optional reference map),
runs each given .class file (or every class entry of a .jar) through
the transformer, and writes the result over the input unless -o is
given.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().StringArray("config", nil, "mixin config JSON file (repeatable)")
	applyCmd.Flags().String("refmap", "", "reference map JSON file")
	applyCmd.Flags().StringArray("classpath", nil, "directory or jar to resolve mixin/target classes from (repeatable)")
	applyCmd.Flags().String("side", "common", "config side to load (common/client/server)")
	applyCmd.Flags().String("phase", string(types.PhaseDefault), "pipeline phase to select configs for (preinit/default/late)")
	applyCmd.Flags().StringP("output", "o", "", "output path (single-input mode only; default overwrites the input)")
	applyCmd.Flags().Bool("profile", false, "print a timing report to stderr after applying")
}

func runApply(cmd *cobra.Command, args []string) {
	prof := profiler.New()
	prof.Begin("apply")
	defer func() {
		prof.End()
		if getBool(cmd, "profile") {
			profiler.Report(os.Stderr, prof.Root())
		}
	}()

	loader, err := newClasspathLoader(getStringArray(cmd, "classpath"))
	if err != nil {
		fatalf("%v", err)
	}
	defer loader.Close()

	engine := transform.NewEngine(loader, types.Phase(getString(cmd, "phase")))

	prof.Begin("load")
	side := getString(cmd, "side")
	for _, path := range getStringArray(cmd, "config") {
		raw, err := os.ReadFile(path)
		if err != nil {
			fatalf("reading config %s: %v", path, err)
		}
		if err := engine.LoadConfig(raw, side); err != nil {
			fatalf("loading config %s: %v", path, err)
		}
	}
	if refmapPath := getString(cmd, "refmap"); refmapPath != "" {
		raw, err := os.ReadFile(refmapPath)
		if err != nil {
			fatalf("reading refmap %s: %v", refmapPath, err)
		}
		if err := engine.LoadRefmap(raw); err != nil {
			fatalf("loading refmap %s: %v", refmapPath, err)
		}
	}
	engine.Finalize()
	prof.End()

	output := getString(cmd, "output")
	if output != "" && len(args) > 1 {
		fatalf("-o only applies when a single input is given")
	}

	prof.Begin("transform")
	for _, path := range args {
		if strings.HasSuffix(path, ".jar") {
			applyToJar(engine, path, output)
			continue
		}
		applyToClass(engine, path, output)
	}
	prof.End()

	engine.Audit()
}

func applyToClass(engine *transform.Engine, path, output string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		fatalf("reading %s: %v", path, err)
	}
	node, err := classfile.Decode(raw)
	if err != nil {
		fatalf("decoding %s: %v", path, err)
	}
	out, err := engine.Transform(node.Name, node.Name, raw)
	if err != nil {
		fatalf("transforming %s: %v", path, err)
	}
	dest := path
	if output != "" {
		dest = output
	}
	if err := os.WriteFile(dest, out, 0o644); err != nil {
		fatalf("writing %s: %v", dest, err)
	}
}

func applyToJar(engine *transform.Engine, path, output string) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		fatalf("opening %s: %v", path, err)
	}
	defer rc.Close()

	dest := path
	if output != "" {
		dest = output
	}
	tmp := dest + ".weld.tmp"
	out, err := os.Create(tmp)
	if err != nil {
		fatalf("creating %s: %v", tmp, err)
	}
	zw := zip.NewWriter(out)

	for _, f := range rc.File {
		rd, err := f.Open()
		if err != nil {
			fatalf("reading %s from %s: %v", f.Name, path, err)
		}
		raw, err := io.ReadAll(rd)
		rd.Close()
		if err != nil {
			fatalf("reading %s from %s: %v", f.Name, path, err)
		}

		if strings.HasSuffix(f.Name, ".class") {
			node, err := classfile.Decode(raw)
			if err == nil {
				if transformed, terr := engine.Transform(node.Name, node.Name, raw); terr == nil {
					raw = transformed
				} else {
					fatalf("transforming %s in %s: %v", f.Name, path, terr)
				}
			}
		}

		w, err := zw.Create(f.Name)
		if err != nil {
			fatalf("writing %s to %s: %v", f.Name, tmp, err)
		}
		if _, err := w.Write(raw); err != nil {
			fatalf("writing %s to %s: %v", f.Name, tmp, err)
		}
	}

	if err := zw.Close(); err != nil {
		fatalf("closing %s: %v", tmp, err)
	}
	if err := out.Close(); err != nil {
		fatalf("closing %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		fatalf("renaming %s to %s: %v", tmp, dest, err)
	}
}
