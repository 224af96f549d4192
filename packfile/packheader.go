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
	"encoding/binary"
	"fmt"
	"io"

	"scm-forge.dev/pkg/packcore/githash"
)

// HeaderSize is the length, in bytes, of a pack stream header: a 4-byte
// magic, a 4-byte version, and a 4-byte entry count.
const HeaderSize = 12

// PackMagic is the 4-byte magic at the start of every pack stream.
var PackMagic = [4]byte{'P', 'A', 'C', 'K'}

// PackVersion is the only pack stream version this package writes.
const PackVersion = 2

// CorruptPackPrefixError reports that the prefix digest supplied to
// FixupPackHeader (via PartialDigest) did not match the bytes actually
// found at the front of the file.
type CorruptPackPrefixError struct {
	BoundaryOffset int64
}

func (e *CorruptPackPrefixError) Error() string {
	return fmt.Sprintf("pack header fixup: corrupt prefix before offset %d", e.BoundaryOffset)
}

// PartialDigest requests that FixupPackHeader verify that the bytes
// [0, BoundaryOffset) of the file, as they stood before the fixup touched
// anything, hash to Expected. On success, FixupPackHeader treats
// everything from BoundaryOffset onward as a fresh digest chain.
type PartialDigest struct {
	Expected       githash.OID
	BoundaryOffset int64
}

// bufSize is the chunk size FixupPackHeader streams the file body in.
const bufSize = 8192

// FixupPackHeader rewrites the entry-count field of a pack stream's header
// in place and computes the trailing digest over the whole rewritten file.
// f must be open for reading and writing and positioned anywhere; it seeks
// as needed. algo selects the digest algorithm used both for the
// old-bytes verification (when partial is non-nil) and for the final
// trailer.
//
// fileSize is the length of the pack as streamed, header and body, with no
// trailer: all fileSize bytes are read and digested, and the trailer is
// then written at offset fileSize, extending the file (or overwriting
// whatever bytes already lie there).
func FixupPackHeader(f io.ReadWriteSeeker, fileSize int64, finalCount uint32, algo githash.Algo, partial *PartialDigest) (githash.OID, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return githash.OID{}, fmt.Errorf("pack header fixup: %w", err)
	}
	var header [HeaderSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return githash.OID{}, fmt.Errorf("pack header fixup: read header: %w", err)
	}

	oldHash := algo.New()
	oldHash.Write(header[:])

	binary.BigEndian.PutUint32(header[8:12], finalCount)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return githash.OID{}, fmt.Errorf("pack header fixup: %w", err)
	}
	if _, err := f.Write(header[:]); err != nil {
		return githash.OID{}, fmt.Errorf("pack header fixup: rewrite header: %w", err)
	}

	newHash := algo.New()
	newHash.Write(header[:])

	remaining := fileSize - HeaderSize
	prefixRemaining := int64(-1)
	if partial != nil {
		prefixRemaining = partial.BoundaryOffset - HeaderSize
		if prefixRemaining < 0 {
			return githash.OID{}, fmt.Errorf("pack header fixup: boundary offset %d precedes header", partial.BoundaryOffset)
		}
	}

	buf := make([]byte, bufSize)
	checkedPrefix := partial == nil
	for remaining > 0 {
		n := int64(len(buf))
		if n > remaining {
			n = remaining
		}
		if _, err := io.ReadFull(f, buf[:n]); err != nil {
			return githash.OID{}, fmt.Errorf("pack header fixup: read body: %w", err)
		}
		newHash.Write(buf[:n])
		if !checkedPrefix {
			chunk := n
			if chunk > prefixRemaining {
				chunk = prefixRemaining
			}
			oldHash.Write(buf[:chunk])
			prefixRemaining -= chunk
			if prefixRemaining == 0 {
				sum := oldHash.Sum(nil)
				got, err := githash.FromBytes(algo, sum)
				if err != nil {
					return githash.OID{}, fmt.Errorf("pack header fixup: %w", err)
				}
				if got != partial.Expected {
					return githash.OID{}, &CorruptPackPrefixError{BoundaryOffset: partial.BoundaryOffset}
				}
				checkedPrefix = true
			}
		}
		remaining -= n
	}
	if !checkedPrefix {
		return githash.OID{}, fmt.Errorf("pack header fixup: file shorter than boundary offset %d", partial.BoundaryOffset)
	}

	sum := newHash.Sum(nil)
	trailer, err := githash.FromBytes(algo, sum)
	if err != nil {
		return githash.OID{}, fmt.Errorf("pack header fixup: %w", err)
	}
	if _, err := f.Write(sum); err != nil {
		return githash.OID{}, fmt.Errorf("pack header fixup: write trailer: %w", err)
	}
	return trailer, nil
}

// ReadPackHeader parses the 12-byte pack stream header from the front of
// data, returning the declared entry count. It fails if the magic does not
// match PackMagic.
func ReadPackHeader(data []byte) (version, count uint32, err error) {
	if len(data) < HeaderSize {
		return 0, 0, fmt.Errorf("read pack header: truncated")
	}
	if !bytes.Equal(data[:4], PackMagic[:]) {
		return 0, 0, fmt.Errorf("read pack header: bad magic %q", data[:4])
	}
	version = binary.BigEndian.Uint32(data[4:8])
	count = binary.BigEndian.Uint32(data[8:12])
	return version, count, nil
}
