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

// Package hashfile provides a write sink that tees every byte it is given
// into a running digest, mirroring git's csum-file.c: the same bytes that
// land on disk also feed the trailer that gets appended once the stream is
// finalized. A Writer can instead run in verify mode, where it checks the
// incoming bytes and the final trailer against an already-written file
// rather than producing a new one.
package hashfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"scm-forge.dev/pkg/packcore/githash"
)

// CorruptChecksumError reports a digest mismatch, either because a verify
// stream's trailing bytes did not match the recomputed digest, or because
// bytes read back from an existing file did not match the bytes a verifying
// Writer was given.
type CorruptChecksumError struct {
	Path     string
	Expected githash.OID
	Actual   githash.OID
}

func (e *CorruptChecksumError) Error() string {
	return fmt.Sprintf("hashfile %s: checksum mismatch: expected %v, got %v", e.Path, e.Expected, e.Actual)
}

// A Writer tees bytes into a running digest as they are written, and
// appends (or checks) the digest as a trailer when Finalize is called. The
// zero Writer is not usable; construct one with NewWriter or NewVerifier.
//
// A Writer must not be shared between goroutines: all writes are totally
// ordered by program order and the digest observes bytes in exactly that
// order.
type Writer struct {
	path   string
	algo   githash.Algo
	digest interface {
		Write(p []byte) (int, error)
		Sum(b []byte) []byte
	}
	pos int64

	sink io.Writer // nil in verify mode

	verify   io.ReaderAt // nil in write mode
	verifyAt int64
}

// NewWriter returns a Writer that appends to sink, digesting every byte
// written under algo. path is used only to annotate errors.
func NewWriter(path string, sink io.Writer, algo githash.Algo) *Writer {
	return &Writer{
		path:   path,
		algo:   algo,
		digest: algo.New(),
		sink:   sink,
	}
}

// NewVerifier returns a Writer that, instead of producing output, compares
// every byte it is given against the corresponding bytes of an existing
// file, and compares the final digest against that file's trailer. This
// lets one code path (see packfile.WriteIndex, for example) serve both
// creation and verification of a file by swapping which constructor the
// caller uses.
func NewVerifier(path string, existing io.ReaderAt, algo githash.Algo) *Writer {
	return &Writer{
		path:   path,
		algo:   algo,
		digest: algo.New(),
		verify: existing,
	}
}

// Position returns the number of bytes written (or, in verify mode,
// compared) so far.
func (w *Writer) Position() int64 {
	return w.pos
}

// Write appends p to the stream, feeding every byte to the digest exactly
// once, in order. In verify mode, it instead reads len(p) bytes from the
// existing file at the current position and compares them to p.
func (w *Writer) Write(p []byte) (int, error) {
	if w.verify != nil {
		got := make([]byte, len(p))
		if _, err := w.verify.ReadAt(got, w.verifyAt); err != nil && err != io.EOF {
			return 0, fmt.Errorf("hashfile %s: verify read: %w", w.path, err)
		}
		if !bytes.Equal(got, p) {
			return 0, &CorruptChecksumError{Path: w.path}
		}
		w.verifyAt += int64(len(p))
	} else {
		if _, err := w.sink.Write(p); err != nil {
			return 0, fmt.Errorf("hashfile %s: write: %w", w.path, err)
		}
	}
	w.digest.Write(p)
	w.pos += int64(len(p))
	return len(p), nil
}

// WriteU32BE appends the big-endian encoding of v.
func (w *Writer) WriteU32BE(v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// WriteU64BE appends the big-endian encoding of v.
func (w *Writer) WriteU64BE(v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// FinalizeOptions controls what Finalize does once the caller has written
// every content byte.
type FinalizeOptions struct {
	// EmitTrailer writes the running digest as a trailer at the current
	// position (or, in verify mode, compares it against the bytes found
	// there).
	EmitTrailer bool
}

// Finalize completes the stream: if opts.EmitTrailer is set, it writes (or
// checks) the running digest as a rawsz-byte trailer. It returns the
// final digest, as an OID tagged with the Writer's algorithm.
//
// No Writer is usable after Finalize; callers must not call Write or
// Finalize again.
func (w *Writer) Finalize(opts FinalizeOptions) (githash.OID, error) {
	sum := w.digest.Sum(nil)
	trailer, err := githash.FromBytes(w.algo, sum)
	if err != nil {
		return githash.OID{}, fmt.Errorf("hashfile %s: finalize: %w", w.path, err)
	}
	if !opts.EmitTrailer {
		return trailer, nil
	}
	if w.verify != nil {
		got := make([]byte, len(sum))
		if _, err := w.verify.ReadAt(got, w.verifyAt); err != nil && err != io.EOF {
			return githash.OID{}, fmt.Errorf("hashfile %s: verify trailer read: %w", w.path, err)
		}
		gotOID, err := githash.FromBytes(w.algo, got)
		if err != nil {
			return githash.OID{}, fmt.Errorf("hashfile %s: verify trailer: %w", w.path, err)
		}
		if gotOID != trailer {
			return githash.OID{}, &CorruptChecksumError{Path: w.path, Expected: trailer, Actual: gotOID}
		}
		w.verifyAt += int64(len(sum))
		w.pos += int64(len(sum))
		return trailer, nil
	}
	if _, err := w.sink.Write(sum); err != nil {
		return githash.OID{}, fmt.Errorf("hashfile %s: write trailer: %w", w.path, err)
	}
	w.pos += int64(len(sum))
	return trailer, nil
}
