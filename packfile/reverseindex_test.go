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
	"testing"

	"scm-forge.dev/pkg/packcore/githash"
	"scm-forge.dev/pkg/packcore/hashfile"
)

func TestWriteReverseIndexRoundTrip(t *testing.T) {
	// Entries are in OID-ascending order, as WriteIndex leaves them, but
	// their pack offsets are not monotonic in that order.
	entries := []Entry{
		{OID: oidLiteral(t, "1100000000000000000000000000000000000000"), Offset: 900},
		{OID: oidLiteral(t, "5500000000000000000000000000000000000000"), Offset: 12},
		{OID: oidLiteral(t, "aa00000000000000000000000000000000000000"), Offset: 400},
	}
	trailer := oidLiteral(t, "0123456789abcdef0123456789abcdef01234567")

	var buf bytes.Buffer
	hw := hashfile.NewWriter("test.rev", &buf, githash.SHA1)
	result, err := WriteReverseIndex(hw, entries, trailer, githash.SHA1, RevWrite)
	if err != nil {
		t.Fatalf("WriteReverseIndex: %v", err)
	}
	if !result.Produced {
		t.Fatal("result.Produced = false; want true")
	}

	positions, gotTrailer, err := ReadReverseIndex(buf.Bytes(), githash.SHA1)
	if err != nil {
		t.Fatalf("ReadReverseIndex: %v", err)
	}
	if gotTrailer != trailer {
		t.Errorf("pack trailer = %v; want %v", gotTrailer, trailer)
	}
	if len(positions) != len(entries) {
		t.Fatalf("len(positions) = %d; want %d", len(positions), len(entries))
	}

	// entries_sorted_by_oid[p[k]].offset must be non-decreasing in k.
	prev := int64(-1)
	for k, p := range positions {
		off := entries[p].Offset
		if off < prev {
			t.Errorf("offset at position %d (entry %d) = %d; not >= previous %d", k, p, off, prev)
		}
		prev = off
	}
	// Position 0 should reference the entry with the smallest offset (12,
	// the "55.." entry at index 1).
	if positions[0] != 1 {
		t.Errorf("positions[0] = %d; want 1 (smallest-offset entry)", positions[0])
	}
}

func TestWriteReverseIndexNoOp(t *testing.T) {
	var buf bytes.Buffer
	hw := hashfile.NewWriter("test.rev", &buf, githash.SHA1)
	result, err := WriteReverseIndex(hw, nil, githash.OID{}, githash.SHA1, 0)
	if err != nil {
		t.Fatalf("WriteReverseIndex: %v", err)
	}
	if result.Produced {
		t.Error("result.Produced = true for flags=0; want false")
	}
	if buf.Len() != 0 {
		t.Errorf("buf.Len() = %d; want 0", buf.Len())
	}
}

func TestWriteReverseIndexBothFlagsFails(t *testing.T) {
	var buf bytes.Buffer
	hw := hashfile.NewWriter("test.rev", &buf, githash.SHA1)
	_, err := WriteReverseIndex(hw, nil, githash.OID{}, githash.SHA1, RevWrite|RevVerify)
	if _, ok := err.(BothWriteAndVerifyError); !ok {
		t.Errorf("WriteReverseIndex(RevWrite|RevVerify) error = %v; want BothWriteAndVerifyError", err)
	}
}

func TestWriteReverseIndexUnknownAlgorithm(t *testing.T) {
	var buf bytes.Buffer
	hw := hashfile.NewWriter("test.rev", &buf, githash.Algo(99))
	_, err := WriteReverseIndex(hw, nil, githash.OID{}, githash.Algo(99), RevWrite)
	if _, ok := err.(*UnknownHashAlgorithmError); !ok {
		t.Errorf("WriteReverseIndex with unknown algorithm error = %v; want *UnknownHashAlgorithmError", err)
	}
}

func TestWriteReverseIndexVerify(t *testing.T) {
	entries := []Entry{
		{OID: oidLiteral(t, "1100000000000000000000000000000000000000"), Offset: 900},
		{OID: oidLiteral(t, "5500000000000000000000000000000000000000"), Offset: 12},
	}
	trailer := oidLiteral(t, "0123456789abcdef0123456789abcdef01234567")

	var buf bytes.Buffer
	hw := hashfile.NewWriter("test.rev", &buf, githash.SHA1)
	if _, err := WriteReverseIndex(hw, entries, trailer, githash.SHA1, RevWrite); err != nil {
		t.Fatalf("WriteReverseIndex: %v", err)
	}

	vw := hashfile.NewVerifier("test.rev", bytes.NewReader(buf.Bytes()), githash.SHA1)
	result, err := WriteReverseIndex(vw, entries, trailer, githash.SHA1, RevVerify)
	if err != nil {
		t.Fatalf("WriteReverseIndex (verify): %v", err)
	}
	if !result.Produced {
		t.Error("verify result.Produced = false; want true")
	}
}
