/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package transform is the transformer driver component (C11): the single
// entrypoint a class loader calls into, tying configs (C4), the class-info
// cache (C3), the applicator (C7) and injection orchestration (C10)
// together into one transform(name, transformedName, bytes) -> bytes
// operation (§4.11). It also holds the engine's coarse lock and
// re-entrance guard (§5).
package transform

import (
	"fmt"
	"sort"
	"sync"

	"github.com/foundryvm/weld/apply"
	"github.com/foundryvm/weld/classfile"
	"github.com/foundryvm/weld/classinfo"
	"github.com/foundryvm/weld/config"
	"github.com/foundryvm/weld/injection"
	"github.com/foundryvm/weld/injectionpoint"
	"github.com/foundryvm/weld/injector"
	"github.com/foundryvm/weld/mixininfo"
	"github.com/foundryvm/weld/refmap"
	"github.com/foundryvm/weld/target"
	"github.com/foundryvm/weld/tracelog"
	"github.com/foundryvm/weld/types"
)

// binding pairs a resolved mixin with the index of the config that
// contributed it, so mixinsFor can stable-sort by §5's ordering rule:
// priority descending, then config-id ascending, then mixin class name
// ascending.
type binding struct {
	mi          *mixininfo.MixinInfo
	configIndex int
}

// Engine is one transform run's state: the resolved, phase-selected set of
// configs, the class-info cache they resolve mixins and targets through,
// and the coarse lock + re-entrance guard §5 requires (host-thread-driven
// scheduling, a single lock, no concurrent transforms in flight).
type Engine struct {
	mu sync.Mutex

	classes  *classinfo.Cache
	registry *injectionpoint.Registry
	refs     *refmap.Document

	phase  types.Phase
	all    []*config.Config
	active []*config.Config

	inProgress map[string]bool
	triggered  map[string]bool
}

// NewEngine returns an Engine resolving mixin/target classes through
// loader, selecting configs for phase once Finalize runs.
func NewEngine(loader classinfo.Loader, phase types.Phase) *Engine {
	return &Engine{
		classes:    classinfo.NewCache(loader),
		registry:   injectionpoint.NewRegistry(),
		phase:      phase,
		inProgress: make(map[string]bool),
		triggered:  make(map[string]bool),
	}
}

// Registry exposes the engine's injection-point registry so a host can
// register its own dotted at_code strategies before Finalize.
func (e *Engine) Registry() *injectionpoint.Registry { return e.registry }

// LoadConfig parses and prepares raw as a mixin config document for side,
// adding it to the engine's candidate set (§4.4).
func (e *Engine) LoadConfig(raw []byte, side string) error {
	doc, err := config.Parse(raw)
	if err != nil {
		return err
	}
	cfg, err := config.Prepare(doc, side, e.classes)
	if err != nil {
		return err
	}
	e.all = append(e.all, cfg)
	return nil
}

// LoadRefmap parses raw as this engine's reference map, used to resolve
// every non-self symbol an applied mixin's instructions touch (§4.2/§4.7).
func (e *Engine) LoadRefmap(raw []byte) error {
	doc, err := refmap.Parse(raw)
	if err != nil {
		return err
	}
	e.refs = doc
	return nil
}

// Finalize selects every loaded config eligible for the engine's phase and
// runs their postInitialise plugin hooks (§4.4's select/postInitialise
// steps). Call once after every LoadConfig/LoadRefmap.
func (e *Engine) Finalize() {
	e.active = config.Select(e.all, e.phase)
	config.PostInitialise(e.active)
}

// mixinsFor collects every active config's mixins bound to target, ordered
// per §5: priority descending, then config-id ascending, then mixin class
// name ascending.
func (e *Engine) mixinsFor(target string) []binding {
	var out []binding
	for i, cfg := range e.active {
		for _, mi := range cfg.ByTarget[target] {
			out = append(out, binding{mi: mi, configIndex: i})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.mi.Priority != b.mi.Priority {
			return a.mi.Priority > b.mi.Priority
		}
		if a.configIndex != b.configIndex {
			return a.configIndex < b.configIndex
		}
		return a.mi.ClassName < b.mi.ClassName
	})
	return out
}

func (e *Engine) verboseFor(target string) bool {
	for _, cfg := range e.active {
		if _, ok := cfg.ByTarget[target]; ok && cfg.Doc.Verbose {
			return true
		}
	}
	return false
}

// Transform is the driver's single entrypoint (§4.11): decode name's class
// bytes, merge in every mixin bound to it (in priority order), run every
// injector handler against its resolved target method, re-encode, and
// return the result. A class with no bound mixins passes through
// unchanged. transformedName is accepted for parity with a real class
// loader's transform hook but is not otherwise consulted — weld has no
// notion of a class being loaded under an alternate name.
func (e *Engine) Transform(name, transformedName string, raw []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	mixins := e.mixinsFor(name)
	if len(mixins) == 0 {
		return raw, nil
	}
	if e.inProgress[name] {
		return nil, fmt.Errorf("weld: re-entrant transform of %s while already applying", name)
	}
	e.inProgress[name] = true
	defer delete(e.inProgress, name)

	node, err := classfile.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("weld: decoding %s: %w", name, err)
	}

	mis := make([]*mixininfo.MixinInfo, len(mixins))
	for i, b := range mixins {
		mis[i] = b.mi
	}

	ctx := target.NewContext(node)
	sess := apply.NewSession(e.refs)
	if err := ctx.ApplyMixins(mis, sess.Merge); err != nil {
		return nil, err
	}

	if err := e.runInjectors(node, mis, e.verboseFor(name)); err != nil {
		return nil, err
	}

	out, err := classfile.Encode(node)
	if err != nil {
		return nil, fmt.Errorf("weld: encoding %s: %w", name, err)
	}
	e.triggered[name] = true
	return out, nil
}

// runInjectors resolves every injector handler contributed by mis, runs it
// against its already-merged target method, and enforces require/expect
// and group-minimum counts afterward (§4.9/§4.10).
func (e *Engine) runInjectors(node *classfile.ClassNode, mis []*mixininfo.MixinInfo, verbose bool) error {
	methodTargets := make(map[string]*injector.Target)
	groups := make(map[string][]*injection.Info)

	for _, mi := range mis {
		for _, mm := range mi.Methods {
			if mm.Kind != mixininfo.KindInjector {
				continue
			}
			info, err := injection.Parse(mm, mi.ClassName, mi.Priority, e.registry)
			if err != nil {
				return err
			}
			targetMethod := node.FindMethod(info.TargetName, info.TargetDesc)
			if targetMethod == nil {
				return fmt.Errorf("weld: %s: injector %s targets unknown method %s%s", mi.ClassName, mm.Node.Name, info.TargetName, info.TargetDesc)
			}
			info.Prepare(targetMethod)

			key := info.TargetName + "<>" + info.TargetDesc
			itgt, ok := methodTargets[key]
			if !ok {
				itgt = injector.NewTarget(targetMethod)
				methodTargets[key] = itgt
			}

			if err := info.Inject(itgt, node.Name); err != nil {
				return err
			}
			if err := info.PostInject(verbose); err != nil {
				return err
			}
			if info.Group != "" {
				groups[info.Group] = append(groups[info.Group], info)
			}
		}
	}

	for _, members := range groups {
		if err := injection.PostInjectGroup(members); err != nil {
			return err
		}
	}
	return nil
}

// MarkTriggered records name as already transformed without running
// Transform, for a standalone audit pass over classes a host already
// transformed through some other loader instance (§4.11 "Audit").
func (e *Engine) MarkTriggered(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggered[name] = true
}

// Audit warns (via tracelog) about every target an active config declares
// that Transform never actually ran against (§4.11 "Audit pass") — the
// common symptom of a config whose target classes were never classloaded.
func (e *Engine) Audit() {
	for _, cfg := range e.active {
		for _, t := range cfg.Targets() {
			if !e.triggered[t] {
				tracelog.Warning(fmt.Sprintf("weld: target %s declared by a config but never transformed", t))
			}
		}
	}
}

// Hotswap accepts freshly compiled mixin class bytes, re-parses and
// re-categorizes it, invalidates the class-info cache entry for every
// target it declares (so a subsequent Transform reflects the new mixin),
// and returns the affected target names. It refuses while any transform
// is in flight (§5 "Hot-swap... refused while re-entrance lock held").
func (e *Engine) Hotswap(mixinClass string, raw []byte) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.inProgress) > 0 {
		return nil, fmt.Errorf("weld: hot-swap of %s refused, a transform is already in flight", mixinClass)
	}

	node, err := classfile.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("weld: decoding hot-swapped mixin %s: %w", mixinClass, err)
	}
	mi, err := mixininfo.Parse(node, e.classes)
	if err != nil {
		return nil, err
	}

	for _, cfg := range e.active {
		if _, ok := cfg.Mixins[mixinClass]; !ok {
			continue
		}
		cfg.Mixins[mixinClass] = mi
		for _, t := range mi.TargetNames {
			replaceBinding(cfg.ByTarget, t, mi)
			e.classes.Invalidate(t)
			delete(e.triggered, t)
		}
	}
	return mi.TargetNames, nil
}

func replaceBinding(byTarget map[string][]*mixininfo.MixinInfo, target string, mi *mixininfo.MixinInfo) {
	list := byTarget[target]
	for i, existing := range list {
		if existing.ClassName == mi.ClassName {
			list[i] = mi
			return
		}
	}
	byTarget[target] = append(list, mi)
}
