/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package session hands out the process's session id: a per-process random
// tag stamped into every MixinMerged annotation (GLOSSARY) so a forged class
// claiming to already carry a mixin's output can be told apart from the
// genuine, freshly-merged one. Replaces the source's singleton-environment
// pattern with a package that is still process-wide (one session per
// process is the whole point) but exposes no mutable global beyond the id
// itself, per the Design Notes' "explicit Engine handle" rework: the id is
// generated once, lazily, and is immutable thereafter.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
)

var (
	once sync.Once
	id   string
)

// ID returns the process-wide session id, generating it on first use.
func ID() string {
	once.Do(func() {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			// crypto/rand failing is not something we can recover from
			// meaningfully; fall back to a fixed, clearly-fake id rather
			// than panic, so a single flaky read never takes the engine
			// down.
			id = "deadbeefcafef00d"
			return
		}
		id = hex.EncodeToString(buf[:])
	})
	return id
}
