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
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"scm-forge.dev/pkg/packcore/githash"
	"scm-forge.dev/pkg/packcore/hashfile"
)

// PathAllocator produces unique temporary file paths under a pack
// directory, the way git's odb_mkstemp does. kind is one of "pack", "idx",
// or "rev"; it is purely a naming hint.
type PathAllocator interface {
	TempPath(dir, kind string) (string, error)
}

// uuidPathAllocator is the default PathAllocator: it names temp files
// tmp_<kind>_<uuid> so concurrent Finalizer calls over the same directory
// cannot collide, without relying on O_EXCL retry loops.
type uuidPathAllocator struct{}

// DefaultPathAllocator is the PathAllocator FinalizeOptions uses when the
// caller leaves PathAllocator nil.
var DefaultPathAllocator PathAllocator = uuidPathAllocator{}

func (uuidPathAllocator) TempPath(dir, kind string) (string, error) {
	return filepath.Join(dir, fmt.Sprintf("tmp_%s_%s", kind, uuid.NewString())), nil
}

// PermissionAdjuster is applied to each temp file once its final bytes are
// in place, e.g. to apply the shared-repository "group writable" bit.
type PermissionAdjuster interface {
	Adjust(path string) error
}

// permissionAdjusterFunc adapts a function to PermissionAdjuster.
type permissionAdjusterFunc func(path string) error

func (f permissionAdjusterFunc) Adjust(path string) error { return f(path) }

// DefaultPermissionAdjuster leaves file permissions as the OS assigned
// them; callers in a shared-repository setup should supply their own
// PermissionAdjuster (e.g. one that chmods to 0664).
var DefaultPermissionAdjuster PermissionAdjuster = permissionAdjusterFunc(func(string) error { return nil })

// FinalizeOptions controls Finalize.
type FinalizeOptions struct {
	// Dir is the pack directory both the temp pack and the published
	// triplet live in.
	Dir string
	// Entries are the packed-object entries for the index and (if
	// WriteReverseIndex is set) reverse index.
	Entries []Entry
	// Algo is the digest algorithm the pack was built with.
	Algo githash.Algo
	// IndexOptions controls the .idx layout; the zero value is not valid,
	// use DefaultIndexOptions as a base.
	IndexOptions IndexOptions
	// WriteReverseIndex requests a .rev file alongside the .pack/.idx
	// pair.
	WriteReverseIndex bool
	// PathAllocator and PermissionAdjuster default to DefaultPathAllocator
	// and DefaultPermissionAdjuster when nil.
	PathAllocator      PathAllocator
	PermissionAdjuster PermissionAdjuster
}

// FinalizeResult names the files Finalizer published.
type FinalizeResult struct {
	PackPath string
	IdxPath  string
	RevPath  string // empty if no reverse index was requested
	Trailer  githash.OID
}

// Finalize publishes a temp pack at tempPackPath, along with its index and
// optional reverse index, as a content-addressed (pack, idx, rev) triplet
// under opts.Dir. packTrailer is the pack's own trailer digest, already
// known from streaming it (see FixupPackHeader).
//
// Steps run in the fixed order the format requires: permission-adjust the
// pack, write the index to a sibling temp and permission-adjust it, write
// the reverse index if requested, then rename pack, idx, rev in that
// order. A rename failure after the pack rename has succeeded is returned
// to the caller as a hard error: the core does not attempt to roll back a
// prior rename, since a published pack without its index is simply
// unusable, not corrupt.
func Finalize(tempPackPath string, packTrailer githash.OID, opts FinalizeOptions) (FinalizeResult, error) {
	alloc := opts.PathAllocator
	if alloc == nil {
		alloc = DefaultPathAllocator
	}
	perm := opts.PermissionAdjuster
	if perm == nil {
		perm = DefaultPermissionAdjuster
	}

	if err := perm.Adjust(tempPackPath); err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize pack: adjust pack permissions: %w", err)
	}

	idxTemp, err := alloc.TempPath(opts.Dir, "idx")
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize pack: allocate idx temp: %w", err)
	}
	idxFile, err := os.OpenFile(idxTemp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize pack: create idx temp: %w", err)
	}
	defer idxFile.Close()

	hw := hashfile.NewWriter(idxTemp, idxFile, opts.Algo)
	if _, err := WriteIndex(hw, opts.Entries, packTrailer, opts.IndexOptions); err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize pack: write index: %w", err)
	}
	if err := perm.Adjust(idxTemp); err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize pack: adjust idx permissions: %w", err)
	}

	var revTemp string
	if opts.WriteReverseIndex {
		revTemp, err = alloc.TempPath(opts.Dir, "rev")
		if err != nil {
			return FinalizeResult{}, fmt.Errorf("finalize pack: allocate rev temp: %w", err)
		}
		revFile, err := os.OpenFile(revTemp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
		if err != nil {
			return FinalizeResult{}, fmt.Errorf("finalize pack: create rev temp: %w", err)
		}
		rw := hashfile.NewWriter(revTemp, revFile, opts.Algo)
		_, err = WriteReverseIndex(rw, opts.Entries, packTrailer, opts.Algo, RevWrite)
		closeErr := revFile.Close()
		if err != nil {
			return FinalizeResult{}, fmt.Errorf("finalize pack: write reverse index: %w", err)
		}
		if closeErr != nil {
			return FinalizeResult{}, fmt.Errorf("finalize pack: close rev temp: %w", closeErr)
		}
		if err := perm.Adjust(revTemp); err != nil {
			return FinalizeResult{}, fmt.Errorf("finalize pack: adjust rev permissions: %w", err)
		}
	}

	hex := packTrailer.String()
	packPath := filepath.Join(opts.Dir, "pack-"+hex+".pack")
	idxPath := filepath.Join(opts.Dir, "pack-"+hex+".idx")
	result := FinalizeResult{PackPath: packPath, IdxPath: idxPath, Trailer: packTrailer}

	if err := os.Rename(tempPackPath, packPath); err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize pack: publish pack: %w", err)
	}
	if err := os.Rename(idxTemp, idxPath); err != nil {
		// The pack is already published and unindexed: a hard error the
		// core does not try to recover from.
		return FinalizeResult{}, fmt.Errorf("finalize pack: publish idx (pack already published at %s): %w", packPath, err)
	}
	if opts.WriteReverseIndex {
		revPath := filepath.Join(opts.Dir, "pack-"+hex+".rev")
		if err := os.Rename(revTemp, revPath); err != nil {
			return FinalizeResult{}, fmt.Errorf("finalize pack: publish rev (pack+idx already published at %s): %w", packPath, err)
		}
		result.RevPath = revPath
	}
	return result, nil
}
