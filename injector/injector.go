/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package injector is the injectors component (C9): per-kind instruction
// rewriters that splice a handler method call into a target method at an
// already-located node. Every rewrite updates the target's max_stack and
// max_locals conservatively (additive, never max-based, per §4.9) and is
// conflict-decorated against every other injector that has already
// touched the same node.
package injector

import (
	"fmt"

	"github.com/foundryvm/weld/classfile"
	"github.com/foundryvm/weld/tracelog"
)

// Meta is the conflict-decoration record stamped on every instruction an
// injector touches (§4.9).
type Meta struct {
	Owner     string
	Priority  int
	Final     bool
	Name      string
	Desc      string
}

// Target is one target method's live rewrite state: its instruction list
// plus the side map of per-node conflict decorations (never serialized
// into the class file).
type Target struct {
	Method *classfile.MethodNode
	Decor  map[classfile.InsnID]Meta
}

// NewTarget wraps m for injector rewriting.
func NewTarget(m *classfile.MethodNode) *Target {
	return &Target{Method: m, Decor: make(map[classfile.InsnID]Meta)}
}

// claim checks node id against any prior decoration and records meta if
// the claim proceeds (§4.9 "Conflict decoration"): a lower-priority
// claimant is skipped with a warning (ok=false, err=nil); a higher
// priority replaces the prior unless it was final (a hard error).
func (t *Target) claim(id classfile.InsnID, meta Meta) (ok bool, err error) {
	prior, exists := t.Decor[id]
	if !exists {
		t.Decor[id] = meta
		return true, nil
	}
	if meta.Priority < prior.Priority {
		tracelog.Warning(fmt.Sprintf("weld: injector %s/%s skipped, %s/%s already claimed the node at higher priority", meta.Owner, meta.Name, prior.Owner, prior.Name))
		return false, nil
	}
	if prior.Final && meta.Priority >= prior.Priority {
		return false, fmt.Errorf("weld: injector %s/%s conflicts with final injector %s/%s at the same node", meta.Owner, meta.Name, prior.Owner, prior.Name)
	}
	t.Decor[id] = meta
	return true, nil
}

// growStack/growLocals are applied additively across every successful
// injection in a method, per §4.9 "sum, not max".
func (t *Target) growStack(n int) {
	t.Method.MaxStack += n
}

func (t *Target) growLocals(n int) {
	t.Method.MaxLocals += n
}

// handlerCallInsn builds the MethodInsn that invokes handler on
// targetOwner, honoring handler's own static-ness.
func handlerCallInsn(targetOwner string, handler *classfile.MethodNode) classfile.MethodInsn {
	op := classfile.INVOKEVIRTUAL
	if handler.IsStatic() {
		op = classfile.INVOKESTATIC
	}
	return classfile.MethodInsn{Op: op, Owner: targetOwner, Name: handler.Name, Desc: handler.Desc}
}

// Inject implements the callback injector (§4.9 "Callback injector
// (Inject)"): it splices a call to handler at id. If handler is
// non-static, ALOAD_0 is emitted first to supply the receiver; handler's
// own parameters beyond the receiver are assumed already satisfied by the
// caller via local-capture (captureSlots), each reloaded with the
// matching *LOAD before the call.
//
// The returned bool reports whether the splice actually happened: false
// means a higher-priority injector already claimed id and this call was
// skipped with a logged warning (§4.9's conflict rule), not an error.
func Inject(t *Target, id classfile.InsnID, targetOwner string, handler *classfile.MethodNode, meta Meta, captureSlots []int) (bool, error) {
	ok, err := t.claim(id, meta)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	list := t.Method.Instructions
	insertAt := id
	if !handler.IsStatic() {
		insertAt = list.InsertBefore(insertAt, classfile.VarInsn{Op: classfile.ALOAD, Slot: 0})
		insertAt = list.Next(insertAt)
	}
	for _, slot := range captureSlots {
		list.InsertBefore(insertAt, classfile.VarInsn{Op: classfile.ALOAD, Slot: slot})
	}
	list.InsertBefore(insertAt, handlerCallInsn(targetOwner, handler))

	// The handler's return value, if any, is popped right after the call.
	// No CallbackInfo object is created and no cancellation or
	// early-return check is emitted around this call site, here or in
	// injection.Info.Inject.
	if _, ret, ok := classfile.ParseMethodDescriptor(handler.Desc); ok && ret != "V" {
		pop := classfile.POP
		if ret == "J" || ret == "D" {
			pop = classfile.POP2
		}
		list.InsertBefore(insertAt, classfile.InsnNoArg{Op: pop})
	}
	t.growStack(1 + len(captureSlots))
	t.growLocals(0)
	return true, nil
}

// ModifyConstant implements §4.9's ModifyConstant: replaces the LDC/
// int-push at id with a call to handler(old_value) -> new_value.
func ModifyConstant(t *Target, id classfile.InsnID, targetOwner string, handler *classfile.MethodNode, meta Meta) (bool, error) {
	ok, err := t.claim(id, meta)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	list := t.Method.Instructions
	list.InsertAfter(id, handlerCallInsn(targetOwner, handler))
	t.growStack(1)
	return true, nil
}

// ModifyVariable implements §4.9's ModifyVariable: wraps a local-variable
// access at id with handler(current_value) -> new_value. isLoad reports
// whether id is a *LOAD (handler runs after the load completes, i.e.
// wraps the loaded value) versus a *STORE (handler runs on the value
// about to be stored).
func ModifyVariable(t *Target, id classfile.InsnID, targetOwner string, handler *classfile.MethodNode, meta Meta, isLoad bool) (bool, error) {
	ok, err := t.claim(id, meta)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	list := t.Method.Instructions
	if isLoad {
		list.InsertAfter(id, handlerCallInsn(targetOwner, handler))
	} else {
		list.InsertBefore(id, handlerCallInsn(targetOwner, handler))
	}
	t.growStack(1)
	return true, nil
}

// Redirect implements §4.9's Redirect: replaces the method/field access at
// id with a call to handler, whose descriptor already matches the
// resolved replacement shape (receiver-if-instance plus original args, or
// field-value plus receiver-if-instance). C10 is responsible for building
// a handler descriptor that matches the access being redirected; Redirect
// itself only performs the splice.
func Redirect(t *Target, id classfile.InsnID, targetOwner string, handler *classfile.MethodNode, meta Meta) (bool, error) {
	ok, err := t.claim(id, meta)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	list := t.Method.Instructions
	list.Set(id, handlerCallInsn(targetOwner, handler))
	return true, nil
}

// ModifyArg implements §4.9's single-argument ModifyArg: pops the
// belowArgCount stack slots sitting above the target argument (the
// arguments that follow it in the call) into fresh locals starting at
// slotBase, in stack order, calls
// handler on the (now topmost) target argument, then reloads the spilled
// arguments in reverse so the call's original argument order is restored.
func ModifyArg(t *Target, id classfile.InsnID, targetOwner string, handler *classfile.MethodNode, meta Meta, belowArgCount, slotBase int) (bool, error) {
	ok, err := t.claim(id, meta)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	list := t.Method.Instructions

	for i := 0; i < belowArgCount; i++ {
		list.InsertBefore(id, classfile.VarInsn{Op: classfile.ASTORE, Slot: slotBase + i})
	}
	list.InsertBefore(id, handlerCallInsn(targetOwner, handler))
	for i := belowArgCount - 1; i >= 0; i-- {
		list.InsertBefore(id, classfile.VarInsn{Op: classfile.ALOAD, Slot: slotBase + i})
	}

	t.growLocals(belowArgCount)
	t.growStack(belowArgCount + 1)
	return true, nil
}

// ModifyArgs implements §4.9's many-argument ModifyArgs: spills every
// argument into a synthetic container object (built by container, which
// returns the spill/box/array-build sequence appropriate to the target's
// argument types), passes it to handler, and unpacks the result back onto
// the stack in original order via unpack. extraLocals/extraStack are the
// caller's own count of scratch locals and peak stack depth container and
// unpack actually need — computed by the caller, which built them and
// knows the target's argument shapes, rather than guessed here.
func ModifyArgs(t *Target, id classfile.InsnID, targetOwner string, handler *classfile.MethodNode, meta Meta, container, unpack []classfile.Insn, extraLocals, extraStack int) (bool, error) {
	ok, err := t.claim(id, meta)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	list := t.Method.Instructions
	for _, insn := range container {
		list.InsertBefore(id, insn)
	}
	list.InsertBefore(id, handlerCallInsn(targetOwner, handler))
	for _, insn := range unpack {
		list.InsertBefore(id, insn)
	}
	t.growLocals(extraLocals)
	t.growStack(extraStack)
	return true, nil
}
