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
	"os"
	"path/filepath"
	"testing"

	"scm-forge.dev/pkg/packcore/githash"
)

func TestFinalize(t *testing.T) {
	dir := t.TempDir()
	tempPack := filepath.Join(dir, "tmp_pack_test")
	if err := os.WriteFile(tempPack, []byte("pack body"), 0o666); err != nil {
		t.Fatal(err)
	}

	entries := []Entry{
		{OID: oidLiteral(t, "1100000000000000000000000000000000000000"), Offset: 12, CRC32: 1},
		{OID: oidLiteral(t, "aa00000000000000000000000000000000000000"), Offset: 400, CRC32: 2},
	}
	trailer := oidLiteral(t, "0123456789abcdef0123456789abcdef01234567")

	result, err := Finalize(tempPack, trailer, FinalizeOptions{
		Dir:               dir,
		Entries:           entries,
		Algo:              githash.SHA1,
		IndexOptions:      DefaultIndexOptions(),
		WriteReverseIndex: true,
	})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	wantPack := filepath.Join(dir, "pack-"+trailer.String()+".pack")
	wantIdx := filepath.Join(dir, "pack-"+trailer.String()+".idx")
	wantRev := filepath.Join(dir, "pack-"+trailer.String()+".rev")
	if result.PackPath != wantPack {
		t.Errorf("PackPath = %s; want %s", result.PackPath, wantPack)
	}
	if result.IdxPath != wantIdx {
		t.Errorf("IdxPath = %s; want %s", result.IdxPath, wantIdx)
	}
	if result.RevPath != wantRev {
		t.Errorf("RevPath = %s; want %s", result.RevPath, wantRev)
	}

	for _, p := range []string{wantPack, wantIdx, wantRev} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("stat %s: %v", p, err)
		}
	}
	if _, err := os.Stat(tempPack); !os.IsNotExist(err) {
		t.Errorf("temp pack %s still exists after Finalize", tempPack)
	}

	idxData, err := os.ReadFile(wantIdx)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := ReadIndex(bytes.NewReader(idxData), githash.SHA1)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if len(idx.Entries) != len(entries) {
		t.Errorf("len(idx.Entries) = %d; want %d", len(idx.Entries), len(entries))
	}
}

func TestFinalizeWithoutReverseIndex(t *testing.T) {
	dir := t.TempDir()
	tempPack := filepath.Join(dir, "tmp_pack_test")
	if err := os.WriteFile(tempPack, []byte("pack body"), 0o666); err != nil {
		t.Fatal(err)
	}
	trailer := oidLiteral(t, "0123456789abcdef0123456789abcdef01234567")

	result, err := Finalize(tempPack, trailer, FinalizeOptions{
		Dir:          dir,
		IndexOptions: DefaultIndexOptions(),
		Algo:         githash.SHA1,
	})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if result.RevPath != "" {
		t.Errorf("RevPath = %q; want empty", result.RevPath)
	}
}
