/*
 * weld - a bytecode mixin transformer
 * Copyright (c) 2026 by the weld authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package classfile

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// ReadMapped opens path and memory-maps it read-only, returning the decoded
// ClassNode. Mixin configs routinely reference dozens of target classes
// whose bytes the host loader already has resident on disk; the file is
// mapped rather than read(2) into a buffer, and the mapped bytes are then
// copied once into a fresh slice that Decode runs on. The mapping is
// unmapped before ReadMapped returns; because Decode only ever sees the
// copy, nothing in the returned ClassNode aliases the mapping.
func ReadMapped(path string) (*ClassNode, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("weld: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("weld: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, cfe(fmt.Sprintf("%s is empty", path))
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("weld: mmap %s: %w", path, err)
	}
	defer m.Unmap()

	raw := make([]byte, len(m))
	copy(raw, m)

	return Decode(raw)
}
