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

/*
Package packfile implements the on-disk and wire formats around a pack: the
pack stream itself (Writer, Reader), its header fixup for streamed/thin
packs (FixupPackHeader), its index in both v1 and v2 form (WriteIndex,
ReadIndex), its reverse index (WriteReverseIndex, ReadReverseIndex), atomic
publication of a finished (pack, idx, rev) triple (Finalize), and the
promisor file used to record filtered/partial-clone object boundaries
(WritePromisorFile).

The format is described in https://git-scm.com/docs/pack-format and
https://git-scm.com/docs/pack-format#_pack_idx_version_2. It does not
implement delta resolution or compression strategy: Writer and Reader move
whatever object bytes the caller supplies, deltified or not, without
interpreting them.
*/
package packfile
