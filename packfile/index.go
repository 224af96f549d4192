// Copyright 2021 The gg Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//		 https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package packfile

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"sort"

	"scm-forge.dev/pkg/packcore/githash"
	"scm-forge.dev/pkg/packcore/hashfile"
)

// Entry describes one packed object as supplied to WriteIndex: the caller
// computes the CRC-32 and locates the offset; the writer never derives
// either on its own (the *EntrySource* collaborator in the design docs).
type Entry struct {
	OID    githash.OID
	Offset int64
	CRC32  uint32
}

// IndexOptions controls how WriteIndex lays out a pack index.
type IndexOptions struct {
	// Version is the caller's preferred index format version, 1 or 2. It
	// is overridden to 2 whenever the version-selection invariant forces
	// it (see needsLargeOffset).
	Version int
	// Strict fails the write with a *DuplicateObjectError if two entries
	// carry the same OID after sorting.
	Strict bool
	// Off32Limit is the largest offset value that may be stored directly
	// in the 32-bit small-offset slot; anything larger is promoted to the
	// v2 large-offset table. Zero means "use DefaultIndexOptions' value."
	Off32Limit uint32
	// AnomalyOffsets is a set of offset values that must be promoted to
	// the large-offset table regardless of magnitude, an escape hatch for
	// pathological packs. Membership, not count, is what matters: an
	// entry whose offset appears here gets one large-offset slot, the same
	// single slot it gets when its offset also exceeds Off32Limit.
	AnomalyOffsets map[int64]bool
}

// DefaultIndexOptions returns the options git-index-pack(1) uses absent any
// caller override: version 2, with the 32-bit offset ceiling at the largest
// value that does not collide with the large-offset high bit.
func DefaultIndexOptions() IndexOptions {
	return IndexOptions{
		Version:    2,
		Off32Limit: 0x7fffffff,
	}
}

const largeOffsetBit = uint32(1) << 31

// needsLargeOffset reports whether off must be stored in the v2 large-offset
// table rather than directly in the 32-bit small-offset slot.
func (opts IndexOptions) needsLargeOffset(off int64) bool {
	if off < 0 {
		return true
	}
	if off >= (1 << 31) {
		return true
	}
	limit := opts.Off32Limit
	if limit == 0 {
		limit = DefaultIndexOptions().Off32Limit
	}
	if off > int64(limit) {
		return true
	}
	return opts.AnomalyOffsets[off]
}

// DuplicateObjectError reports a strict-mode duplicate OID in the entries
// passed to WriteIndex.
type DuplicateObjectError struct {
	OID githash.OID
}

func (e *DuplicateObjectError) Error() string {
	return fmt.Sprintf("pack index: duplicate object %v", e.OID)
}

var indexV2Magic = [...]byte{0o377, 't', 'O', 'c', 0, 0, 0, 2}

const fanOutEntryCount = 256

// WriteIndex sorts entries by OID and writes a pack index to hw, choosing
// between v1 and v2 per the version-selection invariant: v2 is forced
// whenever any entry needs a large offset slot, regardless of
// opts.Version. It returns the index's trailer digest.
//
// hw may be a write-mode or verify-mode hashfile.Writer (see hashfile.
// NewWriter and hashfile.NewVerifier); the algorithm is identical either
// way, which is what lets the same code serve both index creation and
// `git index-pack --verify`-style checking.
func WriteIndex(hw *hashfile.Writer, entries []Entry, packTrailer githash.OID, opts IndexOptions) (githash.OID, error) {
	sort.Slice(entries, func(i, j int) bool {
		return githash.Compare(entries[i].OID, entries[j].OID) < 0
	})

	version := opts.Version
	for _, e := range entries {
		if opts.needsLargeOffset(e.Offset) {
			version = 2
			break
		}
	}
	if version != 1 && version != 2 {
		return githash.OID{}, fmt.Errorf("pack index: unsupported version %d", version)
	}

	if opts.Strict {
		for i := 1; i < len(entries); i++ {
			if githash.Compare(entries[i-1].OID, entries[i].OID) == 0 {
				return githash.OID{}, &DuplicateObjectError{OID: entries[i].OID}
			}
		}
	}

	if version == 2 {
		if err := writeBytes(hw, indexV2Magic[:]); err != nil {
			return githash.OID{}, err
		}
	}
	if err := writeFanOut(hw, entries); err != nil {
		return githash.OID{}, err
	}

	if version == 2 {
		for _, e := range entries {
			if err := writeBytes(hw, e.OID.Bytes()); err != nil {
				return githash.OID{}, err
			}
		}
		for _, e := range entries {
			if err := hw.WriteU32BE(e.CRC32); err != nil {
				return githash.OID{}, err
			}
		}
		var largeOffsets []int64
		for _, e := range entries {
			if opts.needsLargeOffset(e.Offset) {
				slot := largeOffsetBit | uint32(len(largeOffsets))
				largeOffsets = append(largeOffsets, e.Offset)
				if err := hw.WriteU32BE(slot); err != nil {
					return githash.OID{}, err
				}
			} else {
				if err := hw.WriteU32BE(uint32(e.Offset)); err != nil {
					return githash.OID{}, err
				}
			}
		}
		for _, off := range largeOffsets {
			if err := hw.WriteU64BE(uint64(off)); err != nil {
				return githash.OID{}, err
			}
		}
	} else {
		for _, e := range entries {
			if err := hw.WriteU32BE(uint32(e.Offset)); err != nil {
				return githash.OID{}, err
			}
			if err := writeBytes(hw, e.OID.Bytes()); err != nil {
				return githash.OID{}, err
			}
		}
	}

	if err := writeBytes(hw, packTrailer.Bytes()); err != nil {
		return githash.OID{}, err
	}
	return hw.Finalize(hashfile.FinalizeOptions{EmitTrailer: true})
}

func writeBytes(hw *hashfile.Writer, b []byte) error {
	_, err := hw.Write(b)
	return err
}

func writeFanOut(hw *hashfile.Writer, entries []Entry) error {
	bucket := 0
	for i, e := range entries {
		first := int(e.OID.Bytes()[0])
		if bucket >= first {
			continue
		}
		for ; bucket < first; bucket++ {
			if err := hw.WriteU32BE(uint32(i)); err != nil {
				return err
			}
		}
	}
	for ; bucket < fanOutEntryCount; bucket++ {
		if err := hw.WriteU32BE(uint32(len(entries))); err != nil {
			return err
		}
	}
	return nil
}

// Index is an in-memory pack index, as produced by reading back a file
// written by WriteIndex. It exists for round-trip testing and for
// ReverseIndexWriter, which needs the OID-sorted entry order to compute
// pack-offset-sorted positions.
type Index struct {
	Entries     []Entry
	PackTrailer githash.OID
}

// ReadIndex parses a pack index file of either version from r, whose
// entries carry OIDs of the given algorithm. It performs no buffering and
// will not read more bytes than necessary.
func ReadIndex(r io.Reader, algo githash.Algo) (*Index, error) {
	h := algo.New()
	tr := io.TeeReader(r, h)

	first := make([]byte, len(indexV2Magic))
	if _, err := readFull(tr, first); err != nil {
		return nil, fmt.Errorf("read pack index: %w", err)
	}

	var idx *Index
	var err error
	if bytes.Equal(first, indexV2Magic[:]) {
		idx, err = readIndexV2(tr, algo)
	} else {
		idx, err = readIndexV1(io.MultiReader(bytes.NewReader(first), tr), algo)
	}
	if err != nil {
		return nil, err
	}

	got := h.Sum(nil)
	want := make([]byte, len(got))
	if _, err := readFull(r, want); err != nil {
		return nil, fmt.Errorf("read pack index: trailer: %w", err)
	}
	if !bytes.Equal(got, want) {
		return nil, fmt.Errorf("read pack index: trailer checksum does not match")
	}
	return idx, nil
}

func readIndexObjectCount(r io.Reader) (uint32, error) {
	if _, err := io.CopyN(ioutil.Discard, r, (fanOutEntryCount-1)*4); err != nil {
		return 0, fmt.Errorf("fanout table: %w", err)
	}
	var raw [4]byte
	if _, err := readFull(r, raw[:]); err != nil {
		return 0, fmt.Errorf("fanout table: %w", err)
	}
	return beUint32(raw[:]), nil
}

func readIndexV2(r io.Reader, algo githash.Algo) (*Index, error) {
	n, err := readIndexObjectCount(r)
	if err != nil {
		return nil, fmt.Errorf("read pack index v2: %w", err)
	}
	idx := &Index{Entries: make([]Entry, n)}
	rawsz := algo.Size()
	oidBuf := make([]byte, rawsz)
	for i := range idx.Entries {
		if _, err := readFull(r, oidBuf); err != nil {
			return nil, fmt.Errorf("read pack index v2: object ids: %w", err)
		}
		oid, err := githash.FromBytes(algo, oidBuf)
		if err != nil {
			return nil, fmt.Errorf("read pack index v2: %w", err)
		}
		idx.Entries[i].OID = oid
	}
	var buf [8]byte
	for i := range idx.Entries {
		if _, err := readFull(r, buf[:4]); err != nil {
			return nil, fmt.Errorf("read pack index v2: checksums: %w", err)
		}
		idx.Entries[i].CRC32 = beUint32(buf[:4])
	}
	var largeSlots []int
	for i := range idx.Entries {
		if _, err := readFull(r, buf[:4]); err != nil {
			return nil, fmt.Errorf("read pack index v2: offsets: %w", err)
		}
		off := beUint32(buf[:4])
		if off&largeOffsetBit != 0 {
			slot := int(off &^ largeOffsetBit)
			for len(largeSlots) <= slot {
				largeSlots = append(largeSlots, -1)
			}
			largeSlots[slot] = i
			continue
		}
		idx.Entries[i].Offset = int64(off)
	}
	for _, i := range largeSlots {
		if _, err := readFull(r, buf[:8]); err != nil {
			return nil, fmt.Errorf("read pack index v2: large offsets: %w", err)
		}
		if i < 0 {
			continue
		}
		idx.Entries[i].Offset = int64(beUint64(buf[:8]))
	}
	trailer := make([]byte, rawsz)
	if _, err := readFull(r, trailer); err != nil {
		return nil, fmt.Errorf("read pack index v2: pack trailer: %w", err)
	}
	idx.PackTrailer, err = githash.FromBytes(algo, trailer)
	if err != nil {
		return nil, fmt.Errorf("read pack index v2: %w", err)
	}
	return idx, nil
}

func readIndexV1(r io.Reader, algo githash.Algo) (*Index, error) {
	n, err := readIndexObjectCount(r)
	if err != nil {
		return nil, fmt.Errorf("read pack index v1: %w", err)
	}
	idx := &Index{Entries: make([]Entry, n)}
	rawsz := algo.Size()
	oidBuf := make([]byte, rawsz)
	var offBuf [4]byte
	for i := range idx.Entries {
		if _, err := readFull(r, offBuf[:]); err != nil {
			return nil, fmt.Errorf("read pack index v1: entries: %w", err)
		}
		idx.Entries[i].Offset = int64(beUint32(offBuf[:]))
		if _, err := readFull(r, oidBuf); err != nil {
			return nil, fmt.Errorf("read pack index v1: entries: %w", err)
		}
		oid, err := githash.FromBytes(algo, oidBuf)
		if err != nil {
			return nil, fmt.Errorf("read pack index v1: %w", err)
		}
		idx.Entries[i].OID = oid
	}
	trailer := make([]byte, rawsz)
	if _, err := readFull(r, trailer); err != nil {
		return nil, fmt.Errorf("read pack index v1: pack trailer: %w", err)
	}
	idx.PackTrailer, err = githash.FromBytes(algo, trailer)
	if err != nil {
		return nil, fmt.Errorf("read pack index v1: %w", err)
	}
	return idx, nil
}

// readFull is the same as io.ReadFull but returns io.ErrUnexpectedEOF
// instead of io.EOF.
func readFull(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func beUint64(b []byte) uint64 {
	return uint64(beUint32(b))<<32 | uint64(beUint32(b[4:]))
}
