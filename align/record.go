// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package align materialises the reads and per-base alignments that
// intersect one chunk, walking each record's CIGAR and (optionally)
// re-expressing it in run-length-encoded coordinates.
//
// The indexed alignment file itself is an external collaborator (spec §1,
// §6): Index/Iterator below is the contract a real indexed-BAM/CRAM reader
// implements. MemIndex is the in-memory reference implementation used by
// tests and by small inputs that fit in memory, grounded on the teacher's
// bamprovider.NewFakeProvider.
package align

// Strand records which genomic strand a read aligned to.
type Strand int8

const (
	Forward Strand = 1
	Reverse Strand = -1
)

// Read is an ordered sequence of bases, owned by the chunk that
// materialised it. RLE is nil unless the run carries UseRunLengthEncoding.
type Read struct {
	Name          string
	Bases         []byte // raw ASCII bases, forward-reference-strand oriented (as stored by SAM/BAM)
	Strand        Strand
	RLE           *RLESeq
	StartSoftClip int
	EndSoftClip   int
	ChunkIndex    int
}

// OpType identifies one aligned-block kind.
type OpType byte

const (
	OpMatch OpType = iota
	OpInsertion
	OpDeletion
)

// Op is one run of a single alignment operation type, expressed in
// whichever coordinate system is active for the chunk (raw bases, or RLE
// run indices). It generalises spec §3's "(readOffset, refOffset, weight)
// triple" by run-length-compressing consecutive triples of the same type
// and unit stride, the same grouping a CIGAR already performs.
type Op struct {
	Type      OpType
	RefOffset int // run (or base) index into the chunk's reference substring
	RefLen    int
	ReadOffset int // run (or base) index into the read
	ReadLen    int
}

// Alignment is the ordered list of Ops describing how one read aligns to
// the chunk's reference substring. Weight defaults to 1.0.
type Alignment struct {
	Ops    []Op
	Weight float64
}

// RefSpan returns the total reference length this alignment consumes
// (matches plus deletions; insertions don't advance the reference), in
// whichever coordinate system the Ops are expressed in. Used by the
// downsampler (spec §4.3) to estimate per-chunk depth.
func (a *Alignment) RefSpan() int {
	n := 0
	for _, op := range a.Ops {
		if op.Type == OpMatch || op.Type == OpDeletion {
			n += op.RefLen
		}
	}
	return n
}
