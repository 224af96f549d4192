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

package chunkfile

import "scm-forge.dev/pkg/packcore/hashfile"

// WriteFunc writes exactly one chunk's body to w, using context for
// whatever state the caller's chunk needs (e.g. the in-memory table being
// serialized). It must write exactly the number of bytes declared when the
// chunk was added via AddChunk; Writer.WriteChunks treats any other count
// as a fatal ChunkSizeMismatchError.
type WriteFunc func(w *hashfile.Writer, context any) error

type chunkDecl struct {
	id    uint32
	size  uint64
	write WriteFunc
}

// Writer lays out a table of contents followed by each declared chunk's
// body, through a HashedStream, in a single pass. The zero Writer is ready
// to use.
type Writer struct {
	chunks []chunkDecl
}

// AddChunk appends a chunk declaration. size is the caller's precomputed
// length of the chunk body that fn will write; chunks are emitted in the
// order they were added.
func (w *Writer) AddChunk(id uint32, size uint64, fn WriteFunc) {
	w.chunks = append(w.chunks, chunkDecl{id: id, size: size, write: fn})
}

// NumChunks returns the number of chunks declared so far.
func (w *Writer) NumChunks() int {
	return len(w.chunks)
}

// WriteChunks writes the table of contents and then invokes each chunk's
// WriteFunc in declaration order, verifying that each wrote exactly its
// declared size. context is passed through to every WriteFunc unchanged.
func (w *Writer) WriteChunks(hw *hashfile.Writer, context any) error {
	n := len(w.chunks)
	running := uint64(hw.Position()) + uint64(n+1)*TOCEntrySize
	for _, c := range w.chunks {
		if err := hw.WriteU32BE(c.id); err != nil {
			return err
		}
		if err := hw.WriteU64BE(running); err != nil {
			return err
		}
		running += c.size
	}
	// Terminator: id 0, offset equal to the first byte past the last chunk.
	if err := hw.WriteU32BE(0); err != nil {
		return err
	}
	if err := hw.WriteU64BE(running); err != nil {
		return err
	}

	for _, c := range w.chunks {
		start := hw.Position()
		if err := c.write(hw, context); err != nil {
			return err
		}
		actual := uint64(hw.Position() - start)
		if actual != c.size {
			return &ChunkSizeMismatchError{ID: c.id, Declared: c.size, Actual: actual}
		}
	}
	return nil
}
