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

// Command genpack writes a small, hand-built pack and its accompanying
// index and reverse index to a directory, exercising Writer, WriteIndex,
// and Finalize end-to-end without any delta resolution.
package main

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strconv"

	"scm-forge.dev/pkg/packcore/githash"
	"scm-forge.dev/pkg/packcore/objheader"
	"scm-forge.dev/pkg/packcore/packfile"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: genpack DIR")
		os.Exit(64)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, "genpack:", err)
		os.Exit(1)
	}
}

func run(dir string) (err error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return err
	}

	tempPack, err := os.CreateTemp(dir, "tmp_pack_")
	if err != nil {
		return err
	}
	tempPackPath := tempPack.Name()
	defer func() {
		if err != nil {
			os.Remove(tempPackPath)
		}
	}()

	entries, err := writeSample(tempPack)
	if closeErr := tempPack.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	trailer, err := readTrailer(tempPackPath, githash.SHA1)
	if err != nil {
		return err
	}
	packData, err := os.ReadFile(tempPackPath)
	if err != nil {
		return err
	}
	for i := range entries {
		end := int64(len(packData) - githash.SHA1.Size())
		if i+1 < len(entries) {
			end = entries[i+1].Offset
		}
		entries[i].CRC32 = crc32.ChecksumIEEE(packData[entries[i].Offset:end])
	}

	result, err := packfile.Finalize(tempPackPath, trailer, packfile.FinalizeOptions{
		Dir:               dir,
		Entries:           entries,
		Algo:              githash.SHA1,
		IndexOptions:      packfile.DefaultIndexOptions(),
		WriteReverseIndex: true,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "pack =", result.PackPath)
	fmt.Fprintln(os.Stderr, "idx  =", result.IdxPath)
	fmt.Fprintln(os.Stderr, "rev  =", result.RevPath)
	fmt.Fprintf(os.Stderr, "trailer = %x\n", result.Trailer.Bytes())
	return nil
}

// writeSample writes a blob, a tree referencing it, and a commit
// referencing the tree, all stored whole with no deltas, and returns the
// pack index entries describing each object, in pack order, with OID and
// offset set; run fills in each CRC-32 from the finished file. The pack's
// own trailer is read back from disk afterward, since Writer computes it
// internally.
func writeSample(out io.Writer) ([]packfile.Entry, error) {
	w := packfile.NewWriter(out, 3, githash.SHA1)

	var entries []packfile.Entry

	const blobContent = "Hello, World!\n"
	blobOffset, err := w.WriteHeader(&packfile.Header{Type: objheader.Blob, Size: int64(len(blobContent))})
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, blobContent); err != nil {
		return nil, err
	}
	blobHash := hashObject("blob", []byte(blobContent))
	entries = append(entries, packfile.Entry{OID: blobHash, Offset: blobOffset})

	treeBuf := append([]byte("100644 hello.txt\x00"), blobHash.Bytes()...)
	treeOffset, err := w.WriteHeader(&packfile.Header{Type: objheader.Tree, Size: int64(len(treeBuf))})
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(treeBuf); err != nil {
		return nil, err
	}
	treeHash := hashObject("tree", treeBuf)
	entries = append(entries, packfile.Entry{OID: treeHash, Offset: treeOffset})

	commitBuf := new(bytes.Buffer)
	fmt.Fprintf(commitBuf, "tree %s\n", treeHash)
	const unixTimestamp = 1608391559
	fmt.Fprintf(commitBuf, "author Octocat <octocat@example.com> %d -0800\n", unixTimestamp)
	fmt.Fprintf(commitBuf, "committer Octocat <octocat@example.com> %d -0800\n", unixTimestamp)
	fmt.Fprintf(commitBuf, "\nFirst commit\n")
	commitOffset, err := w.WriteHeader(&packfile.Header{Type: objheader.Commit, Size: int64(commitBuf.Len())})
	if err != nil {
		return nil, err
	}
	commitHash := hashObject("commit", commitBuf.Bytes())
	if _, err := io.Copy(w, commitBuf); err != nil {
		return nil, err
	}
	entries = append(entries, packfile.Entry{OID: commitHash, Offset: commitOffset})

	if err := w.Close(); err != nil {
		return nil, err
	}
	return entries, nil
}

// readTrailer reads the last algo.Size() bytes of the pack file at path,
// which Writer.Close wrote as the pack's own digest.
func readTrailer(path string, algo githash.Algo) (githash.OID, error) {
	f, err := os.Open(path)
	if err != nil {
		return githash.OID{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return githash.OID{}, err
	}
	buf := make([]byte, algo.Size())
	if _, err := f.ReadAt(buf, info.Size()-int64(len(buf))); err != nil {
		return githash.OID{}, err
	}
	return githash.FromBytes(algo, buf)
}

func appendObjectPrefix(dst []byte, typ string, n int64) []byte {
	dst = append(dst, typ...)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, n, 10)
	dst = append(dst, 0)
	return dst
}

func hashObject(typ string, data []byte) githash.OID {
	buf := appendObjectPrefix(nil, typ, int64(len(data)))
	buf = append(buf, data...)
	sum := sha1.Sum(buf)
	oid, err := githash.FromBytes(githash.SHA1, sum[:])
	if err != nil {
		panic(err)
	}
	return oid
}
