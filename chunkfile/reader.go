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

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MappedFile is a memory-mapped, read-only view of a chunk file on disk.
// Callers pass its Data to ReadTOC and keep the MappedFile alive (via
// Close) for as long as any chunk slice sliced out of Data is in use.
type MappedFile struct {
	Data []byte
	f    *os.File
}

// OpenMapped opens path and memory-maps its entire contents read-only.
func OpenMapped(path string) (*MappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chunkfile: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("chunkfile: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return &MappedFile{f: f}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("chunkfile: mmap: %w", err)
	}
	return &MappedFile{Data: data, f: f}, nil
}

// Close unmaps the file and closes the underlying descriptor.
func (m *MappedFile) Close() error {
	var err error
	if m.Data != nil {
		err = unix.Munmap(m.Data)
	}
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// TOC is a parsed chunk-file table of contents: a sparse map from chunk id
// to that chunk's body, sliced directly out of the mapped file.
type TOC struct {
	chunks map[uint32][]byte
}

// ReadTOC parses a table of contents of tocLength real chunk entries (plus
// the implicit terminator) starting at byte offset tocOffset within data,
// which must be the full contents of the chunk file. rawsz is the trailer
// digest's size in bytes, reserved at the end of the file.
//
// It enforces the on-read invariants: chunk ids in the TOC must be
// unique, offsets must be monotonically non-decreasing, the last chunk's
// end must not extend past len(data)-rawsz, and the terminator entry must
// carry id 0.
func ReadTOC(data []byte, tocOffset uint64, tocLength int, rawsz int) (*TOC, error) {
	if tocLength < 0 {
		return nil, &CorruptChunkHeaderError{Reason: "negative chunk count"}
	}
	entryCount := tocLength + 1
	need := tocOffset + uint64(entryCount)*TOCEntrySize
	if need > uint64(len(data)) {
		return nil, &CorruptChunkHeaderError{Reason: "table of contents runs past end of file"}
	}

	ids := make([]uint32, entryCount)
	offsets := make([]uint64, entryCount)
	pos := tocOffset
	for i := 0; i < entryCount; i++ {
		ids[i] = binary.BigEndian.Uint32(data[pos : pos+4])
		offsets[i] = binary.BigEndian.Uint64(data[pos+4 : pos+12])
		pos += TOCEntrySize
	}

	limit := uint64(len(data)) - uint64(rawsz)
	toc := &TOC{chunks: make(map[uint32][]byte, tocLength)}
	for i := 0; i < tocLength; i++ {
		id := ids[i]
		if id == 0 {
			return nil, &CorruptChunkHeaderError{Reason: "terminating chunk id appears earlier than expected"}
		}
		if _, dup := toc.chunks[id]; dup {
			return nil, &CorruptChunkHeaderError{Reason: fmt.Sprintf("duplicate chunk id %#08x", id)}
		}
		start, end := offsets[i], offsets[i+1]
		if end < start {
			return nil, &CorruptChunkHeaderError{Reason: fmt.Sprintf("improper chunk offsets %#x and %#x", start, end)}
		}
		if end > limit {
			return nil, &CorruptChunkHeaderError{Reason: fmt.Sprintf("chunk offset %#x exceeds file bounds", end)}
		}
		toc.chunks[id] = data[start:end]
	}
	if ids[tocLength] != 0 {
		return nil, &CorruptChunkHeaderError{Reason: fmt.Sprintf("final chunk has non-zero id %#08x", ids[tocLength])}
	}
	return toc, nil
}

// Chunk returns the body of the chunk with the given id and reports
// whether it was present. A missing id is not an error: callers use the ok
// result to distinguish optional chunks from a real failure.
func (t *TOC) Chunk(id uint32) (data []byte, ok bool) {
	data, ok = t.chunks[id]
	return data, ok
}

// NumChunks returns the number of real (non-terminator) chunks parsed.
func (t *TOC) NumChunks() int {
	return len(t.chunks)
}
