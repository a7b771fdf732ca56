/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package config is the mixin config & registry component (C4): it parses
// a JSON configuration document, resolves each declared mixin class
// within its package into a MixinInfo (C5), indexes the result by target
// class name, and filters the whole thing down to one deployment phase.
package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/foundryvm/weld/classfile"
	"github.com/foundryvm/weld/classinfo"
	"github.com/foundryvm/weld/excerrors"
	"github.com/foundryvm/weld/mixininfo"
	"github.com/foundryvm/weld/tracelog"
	"github.com/foundryvm/weld/types"
)

// Document is the on-disk shape of a mixin config document (§4.4). Unknown
// fields are tolerated by encoding/json itself; Parse additionally logs a
// warning for any JSON object key this struct does not declare.
type Document struct {
	Package    string         `json:"package"`
	Mixins     []string       `json:"mixins"`
	Client     []string       `json:"client"`
	Server     []string       `json:"server"`
	Priority   int            `json:"priority"`
	MinVersion string         `json:"minVersion"`
	Required   bool           `json:"required"`
	Refmap     string         `json:"refmap"`
	Plugin     string         `json:"plugin"`
	Verbose    bool           `json:"verbose"`
	Token      map[string]int `json:"token"`
	Phase      string         `json:"phase"`
}

var knownFields = map[string]bool{
	"package": true, "mixins": true, "client": true, "server": true,
	"priority": true, "minVersion": true, "required": true, "refmap": true,
	"plugin": true, "verbose": true, "token": true, "phase": true,
}

// Plugin is the hook a config's `plugin` class may implement (§4.4
// postInitialise). weld itself never loads Java/JVM code to find one; the
// host registers an implementation by name via RegisterPlugin.
type Plugin interface {
	// AcceptTargets is called during postInitialise once for each of this
	// config's resolved target names, with myTargets holding just that one
	// name and otherTargets the union of every other loaded config's
	// target names. Returning false vetoes application of this config's
	// mixins against that target.
	AcceptTargets(myTargets, otherTargets []string) bool
}

var plugins = map[string]Plugin{}

// RegisterPlugin associates a plugin class name (as it would appear in a
// config document's `plugin` field) with a host-supplied implementation.
func RegisterPlugin(className string, p Plugin) {
	plugins[className] = p
}

// Config is a parsed, prepared mixin config (C4).
type Config struct {
	Doc     Document
	Mixins  map[string]*mixininfo.MixinInfo // by mixin class name, prepare()d successfully
	ByTarget map[string][]*mixininfo.MixinInfo
	Failed  []PrepareFailure
}

// PrepareFailure records one mixin class that failed to parse during
// prepare(); per §4.4, only a required mixin's failure aborts the config.
type PrepareFailure struct {
	ClassName string
	Err       error
}

// Parse decodes raw as a config document, warning (via tracelog) about any
// unrecognized top-level key.
func Parse(raw []byte) (*Document, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, excerrors.New(excerrors.MixinPrepareError, "", "", fmt.Errorf("parsing config document: %w", err))
	}
	for k := range generic {
		if !knownFields[k] {
			tracelog.Warning(fmt.Sprintf("config: unknown field %q ignored", k))
		}
	}

	doc := Document{Priority: types.DefaultPriority}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, excerrors.New(excerrors.MixinPrepareError, "", "", fmt.Errorf("parsing config document: %w", err))
	}
	if doc.Phase == "" {
		doc.Phase = string(types.PhaseDefault)
	}
	if doc.Package == "" {
		return nil, excerrors.New(excerrors.MixinPrepareError, "", "", fmt.Errorf("config document declares no package"))
	}
	return &doc, nil
}

// classNames returns every mixin class name doc declares for side, in
// declaration order: the unconditional `mixins` list, then the side-specific
// list (client or server), deduplicated.
func classNames(doc *Document, side string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(names []string) {
		for _, n := range names {
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	add(doc.Mixins)
	switch side {
	case "client":
		add(doc.Client)
	case "server":
		add(doc.Server)
	}
	return out
}

// Prepare resolves every mixin class doc declares (within doc.Package) via
// loader, builds its MixinInfo, and indexes it by target class name (§4.4).
// A non-required mixin's prepare failure is recorded in the returned
// Config's Failed list rather than aborting; a required mixin's failure
// aborts prepare entirely.
func Prepare(doc *Document, side string, classes *classinfo.Cache) (*Config, error) {
	cfg := &Config{
		Doc:      *doc,
		Mixins:   make(map[string]*mixininfo.MixinInfo),
		ByTarget: make(map[string][]*mixininfo.MixinInfo),
	}

	for _, simple := range classNames(doc, side) {
		full := doc.Package + "/" + simple
		full = strings.ReplaceAll(full, ".", "/")

		node, err := loadMixinClass(classes, full)
		if err != nil {
			if doc.Required {
				return nil, excerrors.New(excerrors.MixinPrepareError, full, "", err)
			}
			cfg.Failed = append(cfg.Failed, PrepareFailure{ClassName: full, Err: err})
			tracelog.Warning(fmt.Sprintf("config: skipping mixin %s: %v", full, err))
			continue
		}

		mi, err := mixininfo.Parse(node, classes)
		if err != nil {
			if doc.Required {
				return nil, excerrors.New(excerrors.MixinPrepareError, full, "", err)
			}
			cfg.Failed = append(cfg.Failed, PrepareFailure{ClassName: full, Err: err})
			tracelog.Warning(fmt.Sprintf("config: skipping mixin %s: %v", full, err))
			continue
		}
		if mi.Priority == types.DefaultPriority && doc.Priority != types.DefaultPriority {
			mi.Priority = doc.Priority
		}

		cfg.Mixins[full] = mi
		for _, t := range mi.TargetNames {
			cfg.ByTarget[t] = append(cfg.ByTarget[t], mi)
		}
	}

	tracelog.Trace(fmt.Sprintf("config: prepared %s (%d mixins, %d targets, %d failed)",
		doc.Package, len(cfg.Mixins), len(cfg.ByTarget), len(cfg.Failed)))
	return cfg, nil
}

func loadMixinClass(classes *classinfo.Cache, full string) (*classfile.ClassNode, error) {
	ci, err := classes.ForName(full)
	if err != nil {
		return nil, err
	}
	return ci.Node(), nil
}

// Select filters a set of parsed configs down to those eligible in phase
// (§4.4 select(environment)).
func Select(configs []*Config, phase types.Phase) []*Config {
	var out []*Config
	for _, c := range configs {
		if c.Doc.Phase == string(phase) {
			out = append(out, c)
		}
	}
	return out
}

// Targets returns cfg's resolved target class names, sorted for
// deterministic cross-config comparison.
func (cfg *Config) Targets() []string {
	out := make([]string, 0, len(cfg.ByTarget))
	for t := range cfg.ByTarget {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// PostInitialise runs each config's plugin hook (if it declares one and the
// host registered an implementation for it), vetoing targets the plugin
// rejects by removing them from ByTarget (§4.4 postInitialise).
func PostInitialise(configs []*Config) {
	for _, cfg := range configs {
		if cfg.Doc.Plugin == "" {
			continue
		}
		p, ok := plugins[cfg.Doc.Plugin]
		if !ok {
			continue
		}
		mine := cfg.Targets()
		others := otherTargets(configs, cfg)
		for _, t := range mine {
			if !p.AcceptTargets([]string{t}, others) {
				delete(cfg.ByTarget, t)
				tracelog.Trace(fmt.Sprintf("config: plugin %s vetoed target %s", cfg.Doc.Plugin, t))
			}
		}
	}
}

func otherTargets(configs []*Config, self *Config) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range configs {
		if c == self {
			continue
		}
		for _, t := range c.Targets() {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	sort.Strings(out)
	return out
}
