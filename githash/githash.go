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

// Package githash provides a type for object hashes that is independent of
// the algorithm producing them, along with the two digest algorithms the
// packfile and index formats support.
package githash

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// Algo identifies one of the two digest algorithms an object store may be
// built on. Exactly one algorithm is in effect for a given pack; this
// package never mixes widths within a single OID.
type Algo uint8

// Supported algorithms. The numeric values match the oid_version field of
// the reverse-index header: 1 for the short digest, 2 for the long one.
const (
	SHA1   Algo = 1
	SHA256 Algo = 2
)

// Size returns the number of raw bytes a digest produced by a occupies, or 0
// if a is not a known algorithm.
func (a Algo) Size() int {
	switch a {
	case SHA1:
		return 20
	case SHA256:
		return 32
	default:
		return 0
	}
}

// New returns a fresh hash.Hash implementing a, or nil if a is not known.
func (a Algo) New() hash.Hash {
	switch a {
	case SHA1:
		return sha1.New()
	case SHA256:
		return sha256.New()
	default:
		return nil
	}
}

// Valid reports whether a is one of the known algorithms.
func (a Algo) Valid() bool {
	return a == SHA1 || a == SHA256
}

// String returns a human-readable algorithm name.
func (a Algo) String() string {
	switch a {
	case SHA1:
		return "sha1"
	case SHA256:
		return "sha256"
	default:
		return fmt.Sprintf("Algo(%d)", uint8(a))
	}
}

// MaxSize is the largest Size any Algo defined in this package can return.
const MaxSize = 32

// An OID is the hash of an object, tagged with the algorithm that produced
// it. The zero OID is not a valid identifier for any algorithm; use New or
// Parse to construct one.
type OID struct {
	algo Algo
	b    [MaxSize]byte
}

// New returns the zero-valued OID for algo.
func New(algo Algo) OID {
	return OID{algo: algo}
}

// FromBytes copies b into a new OID of the given algorithm. It returns an
// error if len(b) != algo.Size().
func FromBytes(algo Algo, b []byte) (OID, error) {
	if !algo.Valid() {
		return OID{}, fmt.Errorf("git object id: unknown algorithm %v", algo)
	}
	if len(b) != algo.Size() {
		return OID{}, fmt.Errorf("git object id: %d bytes for %v (want %d)", len(b), algo, algo.Size())
	}
	var id OID
	id.algo = algo
	copy(id.b[:], b)
	return id, nil
}

// Parse decodes a hex-encoded object id. The algorithm is inferred from the
// string length: 40 hex characters for SHA1, 64 for SHA256.
func Parse(s string) (OID, error) {
	var id OID
	err := id.UnmarshalText([]byte(s))
	return id, err
}

// Algo returns the algorithm that produced id.
func (id OID) Algo() Algo {
	return id.algo
}

// IsZero reports whether id is the zero value (no algorithm set).
func (id OID) IsZero() bool {
	return id.algo == 0
}

// Bytes returns the raw digest bytes of id. The returned slice aliases id's
// internal storage and must not be modified by the caller.
func (id OID) Bytes() []byte {
	return id.b[:id.algo.Size()]
}

// String returns the hex-encoded hash.
func (id OID) String() string {
	return hex.EncodeToString(id.Bytes())
}

// Short returns the first 4 hex-encoded bytes of the hash.
func (id OID) Short() string {
	n := 4
	if b := id.Bytes(); len(b) < n {
		n = len(b)
	}
	return hex.EncodeToString(id.Bytes()[:n])
}

// MarshalText returns the hex-encoded hash.
func (id OID) MarshalText() ([]byte, error) {
	buf := make([]byte, hex.EncodedLen(len(id.Bytes())))
	hex.Encode(buf, id.Bytes())
	return buf, nil
}

// UnmarshalText decodes a hex-encoded hash into id, inferring the algorithm
// from the string's length.
func (id *OID) UnmarshalText(s []byte) error {
	var algo Algo
	switch len(s) {
	case hex.EncodedLen(SHA1.Size()):
		algo = SHA1
	case hex.EncodedLen(SHA256.Size()):
		algo = SHA256
	default:
		return fmt.Errorf("parse git object id %q: wrong size", s)
	}
	var buf [MaxSize]byte
	if _, err := hex.Decode(buf[:algo.Size()], s); err != nil {
		return fmt.Errorf("parse git object id %q: %w", s, err)
	}
	id.algo = algo
	id.b = buf
	return nil
}

// MarshalBinary returns the hash as a byte slice.
func (id OID) MarshalBinary() ([]byte, error) {
	b := make([]byte, len(id.Bytes()))
	copy(b, id.Bytes())
	return b, nil
}

// UnmarshalBinary copies the bytes from b into id. The algorithm is
// inferred from len(b), as in UnmarshalText.
func (id *OID) UnmarshalBinary(b []byte) error {
	var algo Algo
	switch len(b) {
	case SHA1.Size():
		algo = SHA1
	case SHA256.Size():
		algo = SHA256
	default:
		return fmt.Errorf("parse git binary object id %x: wrong size", b)
	}
	id.algo = algo
	var buf [MaxSize]byte
	copy(buf[:], b)
	id.b = buf
	return nil
}

// Format implements the fmt.Formatter interface.
// Specifically, it ensures that %x does not double-hex-encode the data.
func (id OID) Format(f fmt.State, c rune) {
	bits := id.Bytes()
	if prec, ok := f.Precision(); ok && c != 'v' && prec < len(bits) {
		bits = bits[:prec]
	}
	text := make([]byte, hex.EncodedLen(len(bits)))
	hex.Encode(text, bits)

	switch c {
	case 's':
		f.Write(text)
	case 'v':
		if !f.Flag('#') {
			f.Write(text)
			return
		}
		f.Write([]byte("githash.OID{"))
		f.Write(text)
		f.Write([]byte("}"))
	case 'x':
		if f.Flag('#') {
			f.Write([]byte("0x"))
		}
		f.Write(text)
	case 'X':
		if f.Flag('#') {
			f.Write([]byte("0X"))
		}
		for i, c := range text {
			if 'a' <= c && c <= 'f' {
				text[i] = c - 'a' + 'A'
			}
		}
		f.Write(text)
	default:
		// Print a wrong type/unknown verb error.
		f.Write([]byte("%!"))
		io.WriteString(f, string(c))
		f.Write([]byte("(githash.OID="))
		f.Write(text)
		f.Write([]byte(")"))
	}
}

// Compare returns -1, 0, or +1 depending on whether a sorts before, equal
// to, or after b. Both OIDs are expected to share an algorithm, per the
// single-hash-width-per-process invariant; Compare still produces a total
// order across widths by comparing the shared prefix and then length, so
// that it remains safe to use as a sort.Interface helper in tests.
func Compare(a, b OID) int {
	ab, bb := a.Bytes(), b.Bytes()
	n := len(ab)
	if len(bb) < n {
		n = len(bb)
	}
	for i := 0; i < n; i++ {
		if ab[i] != bb[i] {
			if ab[i] < bb[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ab) < len(bb):
		return -1
	case len(ab) > len(bb):
		return 1
	default:
		return 0
	}
}
