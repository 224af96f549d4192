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
	"fmt"

	"github.com/google/renameio/v2"
	"scm-forge.dev/pkg/packcore/githash"
)

// PromisorEntry is one line of a .promisor file: an object that a partial
// clone chose not to fetch, optionally annotated with the ref that
// referred to it.
type PromisorEntry struct {
	OID     githash.OID
	RefName githash.Ref // empty if the object was not reached via a ref
}

// WritePromisorFile atomically writes path as a newline-delimited list of
// "<oid> <refname>" pairs (refname omitted, with no trailing space, when
// an entry has none), one per entries. The write is atomic: either path
// ends up with the full new contents, or it is left untouched.
func WritePromisorFile(path string, entries []PromisorEntry) error {
	var buf bytes.Buffer
	for _, e := range entries {
		buf.WriteString(e.OID.String())
		if e.RefName != "" {
			buf.WriteByte(' ')
			buf.WriteString(e.RefName.String())
		}
		buf.WriteByte('\n')
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0o666); err != nil {
		return fmt.Errorf("write promisor file %s: %w", path, err)
	}
	return nil
}
