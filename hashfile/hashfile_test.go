// Copyright 2020 The gg Authors
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

package hashfile

import (
	"bytes"
	"crypto/sha1"
	"testing"

	"scm-forge.dev/pkg/packcore/githash"
)

func TestWriterDigestsAndEmitsTrailer(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter("test.bin", &buf, githash.SHA1)
	payload := []byte("hello, packfile")
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got, want := w.Position(), int64(len(payload)); got != want {
		t.Errorf("Position() = %d; want %d", got, want)
	}
	trailer, err := w.Finalize(FinalizeOptions{EmitTrailer: true})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	want := sha1.Sum(payload)
	wantOID, err := githash.FromBytes(githash.SHA1, want[:])
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if trailer != wantOID {
		t.Errorf("trailer = %v; want %v", trailer, wantOID)
	}
	if got, want := buf.Bytes(), append(append([]byte{}, payload...), want[:]...); !bytes.Equal(got, want) {
		t.Errorf("buf = %x; want %x", got, want)
	}
}

func TestWriterU32U64BE(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter("test.bin", &buf, githash.SHA1)
	if err := w.WriteU32BE(0x01020304); err != nil {
		t.Fatalf("WriteU32BE: %v", err)
	}
	if err := w.WriteU64BE(0x0102030405060708); err != nil {
		t.Fatalf("WriteU64BE: %v", err)
	}
	want := []byte{0x01, 0x02, 0x03, 0x04, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("buf = %x; want %x", buf.Bytes(), want)
	}
}

func TestVerifierAcceptsMatchingFile(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter("test.bin", &buf, githash.SHA1)
	payload := []byte("some object bytes")
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Finalize(FinalizeOptions{EmitTrailer: true}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	v := NewVerifier("test.bin", bytes.NewReader(buf.Bytes()), githash.SHA1)
	if _, err := v.Write(payload); err != nil {
		t.Fatalf("verify Write: %v", err)
	}
	if _, err := v.Finalize(FinalizeOptions{EmitTrailer: true}); err != nil {
		t.Fatalf("verify Finalize: %v", err)
	}
}

func TestVerifierRejectsMismatchedBytes(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter("test.bin", &buf, githash.SHA1)
	if _, err := w.Write([]byte("original bytes here")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Finalize(FinalizeOptions{EmitTrailer: true}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	v := NewVerifier("test.bin", bytes.NewReader(buf.Bytes()), githash.SHA1)
	_, err := v.Write([]byte("different bytes!!!!!"))
	if err == nil {
		t.Fatal("verify Write with mismatched bytes succeeded; want error")
	}
	if _, ok := err.(*CorruptChecksumError); !ok {
		t.Errorf("verify Write error = %T; want *CorruptChecksumError", err)
	}
}

func TestVerifierRejectsMismatchedTrailer(t *testing.T) {
	payload := []byte("payload")
	wrongTrailer := sha1.Sum([]byte("not the payload"))
	existing := append(append([]byte{}, payload...), wrongTrailer[:]...)

	v := NewVerifier("test.bin", bytes.NewReader(existing), githash.SHA1)
	if _, err := v.Write(payload); err != nil {
		t.Fatalf("verify Write: %v", err)
	}
	_, err := v.Finalize(FinalizeOptions{EmitTrailer: true})
	if err == nil {
		t.Fatal("verify Finalize with mismatched trailer succeeded; want error")
	}
	if _, ok := err.(*CorruptChecksumError); !ok {
		t.Errorf("verify Finalize error = %T; want *CorruptChecksumError", err)
	}
}
