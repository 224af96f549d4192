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
	"fmt"
	"sort"

	"scm-forge.dev/pkg/packcore/githash"
	"scm-forge.dev/pkg/packcore/hashfile"
)

// RevFlags selects which of WriteReverseIndex's two mutually exclusive modes
// to run, mirroring the Write/Verify flag pair write_rev_file takes in
// pack-write.c.
type RevFlags uint8

const (
	// RevWrite produces a fresh .rev file.
	RevWrite RevFlags = 1 << iota
	// RevVerify compares the bytes of an existing .rev file, read through
	// a verify-mode hashfile.Writer, and checks its trailer.
	// WriteReverseIndex does not detect a missing file: it compares against
	// whatever bytes hw supplies and reports a checksum error on mismatch.
	RevVerify
)

// RidxSignature is the 32-bit magic at the start of a reverse-index file.
const RidxSignature = 0x52494458 // "RIDX"

// RidxVersion is the only reverse-index format version this package
// produces or accepts.
const RidxVersion = 1

// ReverseIndexResult reports what WriteReverseIndex did.
type ReverseIndexResult struct {
	// Produced is false only when flags was 0 (no-op); a successful call
	// under RevWrite or RevVerify reports true.
	Produced bool
	// Trailer is the reverse-index's own trailer digest. It is the zero
	// OID when Produced is false.
	Trailer githash.OID
}

// UnknownHashAlgorithmError reports that WriteReverseIndex was asked to
// encode an OID algorithm other than the two the reverse-index format
// recognizes.
type UnknownHashAlgorithmError struct {
	Algo githash.Algo
}

func (e *UnknownHashAlgorithmError) Error() string {
	return fmt.Sprintf("reverse index: unknown hash algorithm %v", e.Algo)
}

// BothWriteAndVerifyError reports that flags asked for both RevWrite and
// RevVerify, which are mutually exclusive.
type BothWriteAndVerifyError struct{}

func (BothWriteAndVerifyError) Error() string {
	return "reverse index: RevWrite and RevVerify are mutually exclusive"
}

func oidVersion(algo githash.Algo) (uint32, error) {
	switch algo {
	case githash.SHA1:
		return 1, nil
	case githash.SHA256:
		return 2, nil
	default:
		return 0, &UnknownHashAlgorithmError{Algo: algo}
	}
}

// WriteReverseIndex writes (or verifies) a .rev file mapping pack-order
// positions back to OID-sorted positions. entries must already be in
// OID-ascending order, i.e. the order WriteIndex leaves them in after its
// in-place sort: the reverse index records, for each pack-offset-ascending
// position, which index into entries it corresponds to.
//
// hw is constructed by the caller exactly as for WriteIndex: hashfile.
// NewWriter for RevWrite, hashfile.NewVerifier for RevVerify. When flags is
// 0 it touches nothing and returns a zero result. In either nonzero mode it
// writes (or compares) the whole file through hw; it has no missing-file
// case of its own.
func WriteReverseIndex(hw *hashfile.Writer, entries []Entry, packTrailer githash.OID, algo githash.Algo, flags RevFlags) (ReverseIndexResult, error) {
	if flags&RevWrite != 0 && flags&RevVerify != 0 {
		return ReverseIndexResult{}, BothWriteAndVerifyError{}
	}
	if flags == 0 {
		return ReverseIndexResult{}, nil
	}

	version, err := oidVersion(algo)
	if err != nil {
		return ReverseIndexResult{}, err
	}

	positions := make([]int, len(entries))
	for i := range positions {
		positions[i] = i
	}
	sort.SliceStable(positions, func(i, j int) bool {
		return entries[positions[i]].Offset < entries[positions[j]].Offset
	})

	if err := hw.WriteU32BE(RidxSignature); err != nil {
		return ReverseIndexResult{}, err
	}
	if err := hw.WriteU32BE(RidxVersion); err != nil {
		return ReverseIndexResult{}, err
	}
	if err := hw.WriteU32BE(version); err != nil {
		return ReverseIndexResult{}, err
	}
	for _, p := range positions {
		if err := hw.WriteU32BE(uint32(p)); err != nil {
			return ReverseIndexResult{}, err
		}
	}
	if _, err := hw.Write(packTrailer.Bytes()); err != nil {
		return ReverseIndexResult{}, err
	}
	trailer, err := hw.Finalize(hashfile.FinalizeOptions{EmitTrailer: true})
	if err != nil {
		return ReverseIndexResult{}, err
	}
	return ReverseIndexResult{Produced: true, Trailer: trailer}, nil
}

// ReadReverseIndex parses a .rev file produced by WriteReverseIndex,
// returning the pack-offset-ascending sequence of positions into an
// OID-sorted entry list. It is used by tests to verify the testable
// property that entries_sorted_by_oid[positions[k]].offset is
// non-decreasing in k.
func ReadReverseIndex(data []byte, algo githash.Algo) ([]int, githash.OID, error) {
	rawsz := algo.Size()
	if len(data) < 12+rawsz+rawsz {
		return nil, githash.OID{}, fmt.Errorf("reverse index: truncated header")
	}
	sig := beUint32(data[0:4])
	if sig != RidxSignature {
		return nil, githash.OID{}, fmt.Errorf("reverse index: bad signature %08x", sig)
	}
	version := beUint32(data[4:8])
	if version != RidxVersion {
		return nil, githash.OID{}, fmt.Errorf("reverse index: unsupported version %d", version)
	}
	wantOidVersion, err := oidVersion(algo)
	if err != nil {
		return nil, githash.OID{}, err
	}
	if got := beUint32(data[8:12]); got != wantOidVersion {
		return nil, githash.OID{}, fmt.Errorf("reverse index: oid version %d does not match algorithm %v", got, algo)
	}

	body := data[12 : len(data)-rawsz-rawsz]
	if len(body)%4 != 0 {
		return nil, githash.OID{}, fmt.Errorf("reverse index: position array is not a multiple of 4 bytes")
	}
	positions := make([]int, len(body)/4)
	for i := range positions {
		positions[i] = int(beUint32(body[i*4:]))
	}
	trailer, err := githash.FromBytes(algo, data[len(data)-rawsz-rawsz:len(data)-rawsz])
	if err != nil {
		return nil, githash.OID{}, fmt.Errorf("reverse index: pack trailer: %w", err)
	}
	return positions, trailer, nil
}
