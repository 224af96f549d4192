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

	"github.com/google/go-cmp/cmp"
	"scm-forge.dev/pkg/packcore/githash"
	"scm-forge.dev/pkg/packcore/hashfile"
)

func oidLiteral(t *testing.T, s string) githash.OID {
	t.Helper()
	id, err := githash.Parse(s)
	if err != nil {
		t.Fatalf("oidLiteral(%q): %v", s, err)
	}
	return id
}

// writeAndRead runs WriteIndex against an in-memory buffer and parses the
// result back with ReadIndex, failing the test on any error.
func writeAndRead(t *testing.T, entries []Entry, trailer githash.OID, opts IndexOptions) (*Index, []byte) {
	t.Helper()
	var buf bytes.Buffer
	hw := hashfile.NewWriter("test.idx", &buf, githash.SHA1)
	if _, err := WriteIndex(hw, entries, trailer, opts); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}
	idx, err := ReadIndex(bytes.NewReader(buf.Bytes()), githash.SHA1)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	return idx, buf.Bytes()
}

func TestWriteIndexV1Suffices(t *testing.T) {
	entries := []Entry{
		{OID: oidLiteral(t, "aa00000000000000000000000000000000000000"), Offset: 12},
		{OID: oidLiteral(t, "5500000000000000000000000000000000000000"), Offset: 400},
		{OID: oidLiteral(t, "1100000000000000000000000000000000000000"), Offset: 900},
	}
	trailer := oidLiteral(t, "0123456789abcdef0123456789abcdef01234567")

	var buf bytes.Buffer
	hw := hashfile.NewWriter("test.idx", &buf, githash.SHA1)
	opts := IndexOptions{Version: 1, Off32Limit: 0x7fffffff}
	if _, err := WriteIndex(hw, entries, trailer, opts); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}

	// v1 has no magic: the first 4 bytes are the fanout[0] count.
	if bytes.Equal(buf.Bytes()[:4], indexV2Magic[:4]) {
		t.Fatalf("WriteIndex produced a v2 index; want v1")
	}

	idx, err := ReadIndex(bytes.NewReader(buf.Bytes()), githash.SHA1)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	wantOrder := []string{
		"1100000000000000000000000000000000000000",
		"5500000000000000000000000000000000000000",
		"aa00000000000000000000000000000000000000",
	}
	if len(idx.Entries) != len(wantOrder) {
		t.Fatalf("len(idx.Entries) = %d; want %d", len(idx.Entries), len(wantOrder))
	}
	for i, want := range wantOrder {
		if got := idx.Entries[i].OID.String(); got != want {
			t.Errorf("idx.Entries[%d].OID = %s; want %s", i, got, want)
		}
	}
}

func TestWriteIndexLargeOffsetPromotion(t *testing.T) {
	entries := []Entry{
		{OID: oidLiteral(t, "1111111111111111111111111111111111111111"), Offset: 10},
		{OID: oidLiteral(t, "2222222222222222222222222222222222222222"), Offset: 1 << 31},
		{OID: oidLiteral(t, "3333333333333333333333333333333333333333"), Offset: (1 << 31) + 5},
	}
	trailer := oidLiteral(t, "0123456789abcdef0123456789abcdef01234567")
	opts := IndexOptions{Version: 1, Off32Limit: 0x7fffffff}

	idx, _ := writeAndRead(t, entries, trailer, opts)
	wantOffsets := []int64{10, 1 << 31, (1 << 31) + 5}
	for i, want := range wantOffsets {
		if got := idx.Entries[i].Offset; got != want {
			t.Errorf("idx.Entries[%d].Offset = %d; want %d", i, got, want)
		}
	}
}

func TestWriteIndexAnomalyForcing(t *testing.T) {
	entries := []Entry{
		{OID: oidLiteral(t, "1111111111111111111111111111111111111111"), Offset: 10},
		{OID: oidLiteral(t, "2222222222222222222222222222222222222222"), Offset: 20},
		{OID: oidLiteral(t, "3333333333333333333333333333333333333333"), Offset: 30},
	}
	trailer := oidLiteral(t, "0123456789abcdef0123456789abcdef01234567")
	opts := IndexOptions{
		Version:        1,
		Off32Limit:     0x7fffffff,
		AnomalyOffsets: map[int64]bool{20: true},
	}

	var buf bytes.Buffer
	hw := hashfile.NewWriter("test.idx", &buf, githash.SHA1)
	if _, err := WriteIndex(hw, entries, trailer, opts); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}
	if !bytes.Equal(buf.Bytes()[:4], indexV2Magic[:4]) {
		t.Fatalf("WriteIndex did not force v2 for an anomalous offset")
	}

	idx, err := ReadIndex(bytes.NewReader(buf.Bytes()), githash.SHA1)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	for _, e := range idx.Entries {
		if e.Offset == 20 {
			return
		}
	}
	t.Errorf("round-tripped entries do not include offset 20: %+v", idx.Entries)
}

func TestWriteIndexStrictDuplicate(t *testing.T) {
	dup := oidLiteral(t, "1111111111111111111111111111111111111111")
	entries := []Entry{
		{OID: dup, Offset: 10},
		{OID: dup, Offset: 20},
	}
	trailer := oidLiteral(t, "0123456789abcdef0123456789abcdef01234567")
	opts := IndexOptions{Version: 1, Strict: true, Off32Limit: 0x7fffffff}

	var buf bytes.Buffer
	hw := hashfile.NewWriter("test.idx", &buf, githash.SHA1)
	_, err := WriteIndex(hw, entries, trailer, opts)
	if err == nil {
		t.Fatal("WriteIndex with a strict duplicate succeeded; want error")
	}
	if _, ok := err.(*DuplicateObjectError); !ok {
		t.Errorf("WriteIndex error = %T; want *DuplicateObjectError", err)
	}
}

func TestWriteIndexFanOut(t *testing.T) {
	entries := []Entry{
		{OID: oidLiteral(t, "aa00000000000000000000000000000000000000"), Offset: 12, CRC32: 1},
		{OID: oidLiteral(t, "5500000000000000000000000000000000000000"), Offset: 400, CRC32: 2},
		{OID: oidLiteral(t, "1100000000000000000000000000000000000000"), Offset: 900, CRC32: 3},
	}
	trailer := oidLiteral(t, "0123456789abcdef0123456789abcdef01234567")
	_, raw := writeAndRead(t, entries, trailer, DefaultIndexOptions())

	// Version 2: 4-byte magic, 4-byte version, then the 256-entry fanout.
	fanout := raw[8 : 8+256*4]
	get := func(i int) uint32 { return beUint32(fanout[i*4:]) }
	if got := get(0x10); got != 0 {
		t.Errorf("fanout[0x10] = %d; want 0", got)
	}
	if got := get(0x11); got != 1 {
		t.Errorf("fanout[0x11] = %d; want 1", got)
	}
	if got := get(0x55); got != 2 {
		t.Errorf("fanout[0x55] = %d; want 2", got)
	}
	if got := get(0xaa); got != 3 {
		t.Errorf("fanout[0xaa] = %d; want 3", got)
	}
	if got := get(0xff); got != 3 {
		t.Errorf("fanout[0xff] = %d; want 3", got)
	}
}

func TestWriteIndexRoundTripCRC32(t *testing.T) {
	entries := []Entry{
		{OID: oidLiteral(t, "aa00000000000000000000000000000000000000"), Offset: 12, CRC32: 0xdeadbeef},
		{OID: oidLiteral(t, "5500000000000000000000000000000000000000"), Offset: 400, CRC32: 0x12345678},
	}
	trailer := oidLiteral(t, "0123456789abcdef0123456789abcdef01234567")
	idx, _ := writeAndRead(t, entries, trailer, DefaultIndexOptions())

	want := []Entry{entries[1], entries[0]} // sorted ascending: 55.. before aa..
	oidComparer := cmp.Comparer(func(a, b githash.OID) bool { return a == b })
	diff := cmp.Diff(want, idx.Entries, oidComparer)
	if diff != "" {
		t.Errorf("round-tripped entries (-want +got):\n%s", diff)
	}
	if idx.PackTrailer != trailer {
		t.Errorf("PackTrailer = %v; want %v", idx.PackTrailer, trailer)
	}
}
