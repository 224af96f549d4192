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

package packfile

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/klauspost/compress/zlib"
	"scm-forge.dev/pkg/packcore/githash"
	"scm-forge.dev/pkg/packcore/objheader"
)

// ByteReader is a combination of io.Reader and io.ByteReader.
type ByteReader interface {
	io.Reader
	io.ByteReader
}

// Reader reads a pack stream, validating the header and trailer against
// algo's width.
type Reader struct {
	r          byteReaderCounter
	nobjs      uint32
	algo       githash.Algo
	dataReader zlibReader
}

// NewReader returns a Reader that reads from r, a pack stream digested
// under algo.
func NewReader(r ByteReader, algo githash.Algo) *Reader {
	return &Reader{r: byteReaderCounter{r: r}, algo: algo}
}

func (r *Reader) init() error {
	if r.r.n > 0 {
		return nil
	}
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(&r.r, buf[:]); errors.Is(err, io.EOF) {
		return fmt.Errorf("packfile: read header: %w", io.ErrUnexpectedEOF)
	} else if err != nil {
		return fmt.Errorf("packfile: read header: %w", err)
	}
	version, count, err := ReadPackHeader(buf[:])
	if err != nil {
		return fmt.Errorf("packfile: read header: %w", err)
	}
	if version != PackVersion {
		return fmt.Errorf("packfile: read header: version is %d (only supports %d)", version, PackVersion)
	}
	r.nobjs = count
	return nil
}

// Next advances to the next object in the pack stream. Header.Size
// determines how many bytes can be read for the next object. Any
// remaining data in the current object is automatically discarded.
//
// io.EOF is returned at the end of the input.
func (r *Reader) Next() (*Header, error) {
	if err := r.init(); err != nil {
		return nil, err
	}
	if r.dataReader != nil {
		if _, err := io.Copy(ioutil.Discard, r.dataReader); err != nil {
			return nil, fmt.Errorf("packfile: advance to next object: %w", err)
		}
		r.dataReader.Close()
	}
	if r.nobjs == 0 {
		trailer := make([]byte, r.algo.Size())
		if _, err := io.ReadFull(&r.r, trailer); err != nil {
			return nil, fmt.Errorf("packfile: read trailing checksum: %w", err)
		}
		return nil, io.EOF
	}
	hdr := &Header{Offset: r.r.n}
	var err error
	var size uint64
	hdr.Type, size, err = readObjectHeader(&r.r)
	if err != nil {
		return nil, fmt.Errorf("packfile: %w", err)
	}
	hdr.Size = int64(size)
	switch hdr.Type {
	case objheader.OfsDelta:
		off, err := readOffset(&r.r)
		if err != nil {
			return nil, fmt.Errorf("packfile: %w", err)
		}
		hdr.BaseOffset = hdr.Offset + off
	case objheader.RefDelta:
		buf := make([]byte, r.algo.Size())
		if _, err := io.ReadFull(&r.r, buf); err != nil {
			return nil, fmt.Errorf("packfile: read ref-delta object: %w", err)
		}
		oid, err := githash.FromBytes(r.algo, buf)
		if err != nil {
			return nil, fmt.Errorf("packfile: read ref-delta object: %w", err)
		}
		hdr.BaseObject = oid
	}
	if r.dataReader == nil {
		dr, err := zlib.NewReader(&r.r)
		if err != nil {
			return nil, fmt.Errorf("packfile: %w", err)
		}
		r.dataReader = dr.(zlibReader)
	} else {
		if err := r.dataReader.Reset(&r.r, nil); err != nil {
			return nil, fmt.Errorf("packfile: %w", err)
		}
	}
	r.nobjs--
	return hdr, nil
}

// Read reads from the current object in the pack stream. It returns (0,
// io.EOF) when it reaches the end of that object, until Next is called to
// advance to the next object.
func (r *Reader) Read(p []byte) (int, error) {
	if r.dataReader == nil {
		return 0, fmt.Errorf("packfile: Read() called before Next()")
	}
	n, err := r.dataReader.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("packfile: %w", err)
	}
	return n, err
}

// readObjectHeader reads a variable-length object header byte by byte from
// br and decodes it with objheader.Decode, which only operates on a
// complete in-memory buffer.
func readObjectHeader(br io.ByteReader) (objheader.Type, uint64, error) {
	var buf [objheader.MaxLen]byte
	n := 0
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("read object header: %w", err)
		}
		if n >= len(buf) {
			return 0, 0, &objheader.HeaderTooLongError{Max: len(buf)}
		}
		buf[n] = b
		n++
		if b&0x80 == 0 {
			break
		}
	}
	t, size, _, err := objheader.Decode(buf[:n])
	if err != nil {
		return 0, 0, fmt.Errorf("read object header: %w", err)
	}
	return t, size, nil
}

// readOffset parses the offset encoding from
// https://git-scm.com/docs/pack-format.
//
// n bytes with MSB set in all but the last one.
// The offset is then the number constructed by
// concatenating the lower 7 bit of each byte, and
// for n >= 2 adding 2^7 + 2^14 + ... + 2^(7*(n-1))
// to the result.
func readOffset(br io.ByteReader) (int64, error) {
	var bits int64
	var accum int64
	for i := 0; i < 8; i++ {
		b, err := br.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("read offset: %w", err)
		}
		bits <<= 7
		bits |= int64(b & 0x7f)
		if b&0x80 == 0 {
			return -(bits + accum), nil
		}
		accum += 1 << ((i + 1) * 7)
	}
	return 0, fmt.Errorf("read offset: too large")
}

// A Header holds a single object header in a pack stream.
type Header struct {
	// Offset is the location in the pack stream this object starts at. It
	// can be used as a key for BaseOffset. Writer ignores this field.
	Offset int64

	Type objheader.Type

	// Size is the uncompressed size of the object in bytes.
	Size int64

	// BaseOffset is the Offset of a previous Header for an OfsDelta type
	// object.
	BaseOffset int64
	// BaseObject is the hash of an object for a RefDelta type object.
	BaseObject githash.OID
}

type byteReaderCounter struct {
	r ByteReader
	n int64
}

func (brc *byteReaderCounter) Read(p []byte) (int, error) {
	n, err := brc.r.Read(p)
	brc.n += int64(n)
	return n, err
}

func (brc *byteReaderCounter) ReadByte() (byte, error) {
	b, err := brc.r.ReadByte()
	if err != nil {
		return 0, err
	}
	brc.n++
	return b, err
}

type zlibReader interface {
	io.Reader
	io.Closer
	zlib.Resetter
}
