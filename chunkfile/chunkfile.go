// Copyright 2021 The gg Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package chunkfile implements the generic chunk-oriented container format
// used by auxiliary indexes (multi-pack-index, commit-graph) to store
// several independently addressable blobs behind one table of contents,
// grounded on git's chunk-format.c.
package chunkfile

import "fmt"

// TOCEntrySize is the on-disk size, in bytes, of one table-of-contents
// entry: a 4-byte big-endian chunk id followed by an 8-byte big-endian
// offset.
const TOCEntrySize = 12

// ChunkSizeMismatchError reports that a chunk's WriteFunc produced a
// different number of bytes than it declared when added via AddChunk. This
// indicates a programmer error in the registered callback, not a data
// problem, and the writer treats it as fatal.
type ChunkSizeMismatchError struct {
	ID       uint32
	Declared uint64
	Actual   uint64
}

func (e *ChunkSizeMismatchError) Error() string {
	return fmt.Sprintf("chunkfile: chunk %#08x: wrote %d bytes, declared %d", e.ID, e.Actual, e.Declared)
}

// CorruptChunkHeaderError reports that a table of contents read from disk
// violated one of the format's invariants.
type CorruptChunkHeaderError struct {
	Reason string
}

func (e *CorruptChunkHeaderError) Error() string {
	return fmt.Sprintf("chunkfile: corrupt table of contents: %s", e.Reason)
}
