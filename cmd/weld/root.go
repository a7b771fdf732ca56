/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Command weld is the concrete "host classloader" driver the transformer
// component (C11) is written against: apply reads a refmap, a set of
// mixin configs, and a target .class (or every entry of a .jar), runs
// them through transform.Engine, and writes the result; audit runs the
// audit pass standalone over a set of already-transformed classes. This
// is the ambient operator surface the distilled specification leaves
// implicit (§4.11).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "weld",
	Short: "Apply bytecode mixins to compiled JVM classes.",
	Long: `weld is an offline driver for the bytecode mixin transformer: point it
at a set of mixin configs and a reference map, and it rewrites a .class
file or every entry of a .jar the way a host classloader would at
runtime.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// getString gets an expected string flag, or exits if the flag was never
// registered.
func getString(cmd *cobra.Command, flag string) string {
	v, err := cmd.Flags().GetString(flag)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	return v
}

// getStringArray gets an expected repeatable string flag.
func getStringArray(cmd *cobra.Command, flag string) []string {
	v, err := cmd.Flags().GetStringArray(flag)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	return v
}

// getBool gets an expected boolean flag.
func getBool(cmd *cobra.Command, flag string) bool {
	v, err := cmd.Flags().GetBool(flag)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	return v
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "weld: "+format+"\n", args...)
	os.Exit(1)
}
