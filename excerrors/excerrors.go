/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package excerrors is weld's error taxonomy: every failure the engine can
// raise carries a Kind, and non-required-mixin failures are routed through
// a Handler that may downgrade them to a warning instead of aborting,
// rather than using exceptions for control flow.
package excerrors

import "fmt"

// Kind enumerates weld's error taxonomy.
type Kind int

const (
	BadClass Kind = iota
	MixinPrepareError
	InvalidInjection
	InvalidInjectionPoint
	InjectionCountError
	RedirectConflict
	MixinApplyError
	ReEntrance
	ClassAlreadyLoaded
)

func (k Kind) String() string {
	switch k {
	case BadClass:
		return "BadClass"
	case MixinPrepareError:
		return "MixinPrepareError"
	case InvalidInjection:
		return "InvalidInjection"
	case InvalidInjectionPoint:
		return "InvalidInjectionPoint"
	case InjectionCountError:
		return "InjectionCountError"
	case RedirectConflict:
		return "RedirectConflict"
	case MixinApplyError:
		return "MixinApplyError"
	case ReEntrance:
		return "ReEntrance"
	case ClassAlreadyLoaded:
		return "ClassAlreadyLoaded"
	default:
		return "UnknownError"
	}
}

// Recoverable reports whether, in isolation, this Kind may be downgraded to
// a warning for a non-required mixin. ReEntrance and BadClass are always
// fatal regardless of required-ness.
func (k Kind) Recoverable() bool {
	switch k {
	case ReEntrance, BadClass:
		return false
	default:
		return true
	}
}

// Error is the concrete error value raised by every weld component. Mixin
// and Target are best-effort context, empty when not applicable.
type Error struct {
	Kind   Kind
	Mixin  string
	Target string
	Cause  error
}

func (e *Error) Error() string {
	switch {
	case e.Mixin != "" && e.Target != "":
		return fmt.Sprintf("%s: mixin %s -> target %s: %v", e.Kind, e.Mixin, e.Target, e.Cause)
	case e.Mixin != "":
		return fmt.Sprintf("%s: mixin %s: %v", e.Kind, e.Mixin, e.Cause)
	case e.Target != "":
		return fmt.Sprintf("%s: target %s: %v", e.Kind, e.Target, e.Cause)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error.
func New(kind Kind, mixin, target string, cause error) *Error {
	return &Error{Kind: kind, Mixin: mixin, Target: target, Cause: cause}
}

// Severity is the outcome a Handler chooses for a non-required failure.
type Severity int

const (
	Ignore Severity = iota
	Warn
	Escalate
)

// Handler lets the host remap non-required mixin failures: a non-required
// mixin's error is routed through the registered Handler, which may map it
// to WARN, ERROR, or IGNORE instead of aborting the whole transform.
type Handler interface {
	Resolve(err *Error) Severity
}

// DefaultHandler warns on every recoverable error and escalates everything
// else.
type DefaultHandler struct{}

func (DefaultHandler) Resolve(err *Error) Severity {
	if err.Kind.Recoverable() {
		return Warn
	}
	return Escalate
}
