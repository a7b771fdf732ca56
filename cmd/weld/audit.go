/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/foundryvm/weld/classfile"
	"github.com/foundryvm/weld/tracelog"
	"github.com/foundryvm/weld/transform"
	"github.com/foundryvm/weld/types"
)

var auditCmd = &cobra.Command{
	Use:   "audit <already-transformed.class>...",
	Short: "Warn about config targets that were never transformed.",
	Long: `audit loads a set of mixin configs and marks every given class as
already transformed elsewhere (by a host classloader this run never
drove), then reports any declared target that still never showed up.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().StringArray("config", nil, "mixin config JSON file (repeatable)")
	auditCmd.Flags().StringArray("classpath", nil, "directory or jar to resolve mixin classes from (repeatable)")
	auditCmd.Flags().String("side", "common", "config side to load (common/client/server)")
	auditCmd.Flags().String("phase", string(types.PhaseDefault), "pipeline phase to select configs for (preinit/default/late)")
}

func runAudit(cmd *cobra.Command, args []string) {
	tracelog.Init()

	loader, err := newClasspathLoader(getStringArray(cmd, "classpath"))
	if err != nil {
		fatalf("%v", err)
	}
	defer loader.Close()

	engine := transform.NewEngine(loader, types.Phase(getString(cmd, "phase")))

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
	engine.Finalize()

	for _, path := range args {
		raw, err := os.ReadFile(path)
		if err != nil {
			fatalf("reading %s: %v", path, err)
		}
		node, err := classfile.Decode(raw)
		if err != nil {
			fatalf("decoding %s: %v", path, err)
		}
		engine.MarkTriggered(node.Name)
	}

	engine.Audit()
}
