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

package align_test

import (
	"testing"

	"github.com/grailbio/genopolish/align"
	"github.com/grailbio/genopolish/chunk"
	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/require"
)

func mustRef(t *testing.T, name string, length int) *sam.Reference {
	ref, err := sam.NewReference(name, "", "", length, nil, nil)
	require.NoError(t, err)
	return ref
}

func mustHeader(t *testing.T, refs ...*sam.Reference) *sam.Header {
	h, err := sam.NewHeader(nil, refs)
	require.NoError(t, err)
	return h
}

func TestLoadRawCoordinates(t *testing.T) {
	chr1 := mustRef(t, "chr1", 1000)
	header := mustHeader(t, chr1)

	rec := &sam.Record{
		Name: "r1",
		Ref:  chr1,
		Pos:  10,
		Seq:  sam.NewSeq([]byte("ACGTACGTACGTACG")),
		Cigar: sam.Cigar{
			sam.NewCigarOp(sam.CigarSoftClipped, 2),
			sam.NewCigarOp(sam.CigarMatch, 5),
			sam.NewCigarOp(sam.CigarInsertion, 2),
			sam.NewCigarOp(sam.CigarMatch, 3),
			sam.NewCigarOp(sam.CigarDeletion, 4),
			sam.NewCigarOp(sam.CigarMatch, 2),
			sam.NewCigarOp(sam.CigarSoftClipped, 1),
		},
	}
	idx := align.NewMemIndex(header, []*sam.Record{rec})

	c := chunk.Chunk{Contig: "chr1", BoundaryStart: 10, InnerStart: 10, InnerEnd: 30, BoundaryEnd: 30, Index: 0}
	reads, alns, err := align.Load(idx, c, nil, align.LoadOpts{})
	require.NoError(t, err)
	require.Len(t, reads, 1)
	require.Len(t, alns, 1)

	r := reads[0]
	require.Equal(t, "r1", r.Name)
	require.Equal(t, 2, r.StartSoftClip)
	require.Equal(t, 1, r.EndSoftClip)
	require.Equal(t, align.Forward, r.Strand)

	want := []align.Op{
		{Type: align.OpMatch, RefOffset: 0, RefLen: 5, ReadOffset: 2, ReadLen: 5},
		{Type: align.OpInsertion, ReadOffset: 7, ReadLen: 2},
		{Type: align.OpMatch, RefOffset: 5, RefLen: 3, ReadOffset: 9, ReadLen: 3},
		{Type: align.OpDeletion, RefOffset: 8, RefLen: 4},
		{Type: align.OpMatch, RefOffset: 12, RefLen: 2, ReadOffset: 12, ReadLen: 2},
	}
	require.Equal(t, want, alns[0].Ops)
}

func TestLoadSkipsNonOverlappingRecords(t *testing.T) {
	chr1 := mustRef(t, "chr1", 1000)
	header := mustHeader(t, chr1)

	inRange := &sam.Record{
		Name: "in", Ref: chr1, Pos: 10, Seq: sam.NewSeq([]byte("AAAAA")),
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 5)},
	}
	before := &sam.Record{
		Name: "before", Ref: chr1, Pos: 0, Seq: sam.NewSeq([]byte("AAAAA")),
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 5)},
	}
	wrongContig := &sam.Record{
		Name: "wrong", Ref: mustRef(t, "chr2", 1000), Pos: 10, Seq: sam.NewSeq([]byte("AAAAA")),
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 5)},
	}
	idx := align.NewMemIndex(header, []*sam.Record{before, inRange, wrongContig})

	c := chunk.Chunk{Contig: "chr1", BoundaryStart: 10, InnerStart: 10, InnerEnd: 20, BoundaryEnd: 20, Index: 0}
	reads, _, err := align.Load(idx, c, nil, align.LoadOpts{})
	require.NoError(t, err)
	require.Len(t, reads, 1)
	require.Equal(t, "in", reads[0].Name)
}

func TestLoadRequireBoundaryMatchFilters(t *testing.T) {
	chr1 := mustRef(t, "chr1", 1000)
	header := mustHeader(t, chr1)

	leadingClip := &sam.Record{
		Name: "clipped", Ref: chr1, Pos: 10, Seq: sam.NewSeq([]byte("AAAAAAA")),
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarSoftClipped, 2), sam.NewCigarOp(sam.CigarMatch, 5)},
	}
	clean := &sam.Record{
		Name: "clean", Ref: chr1, Pos: 10, Seq: sam.NewSeq([]byte("AAAAA")),
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 5)},
	}
	idx := align.NewMemIndex(header, []*sam.Record{leadingClip, clean})

	c := chunk.Chunk{Contig: "chr1", BoundaryStart: 10, InnerStart: 10, InnerEnd: 20, BoundaryEnd: 20, Index: 0}
	reads, _, err := align.Load(idx, c, nil, align.LoadOpts{RequireBoundaryMatch: true})
	require.NoError(t, err)
	require.Len(t, reads, 1)
	require.Equal(t, "clean", reads[0].Name)
}

func TestLoadRLESplitsOnRunBoundary(t *testing.T) {
	chr1 := mustRef(t, "chr1", 1000)
	header := mustHeader(t, chr1)

	// Reference run structure over the boundary window: AAAA CCCC (2 runs).
	refSubstr := []byte("AAAACCCC")
	// Read matches base-for-base but its own homopolymer runs differ:
	// AAA (3) then CCCCC (5) -- a deletion of one A, an insertion of one C.
	rec := &sam.Record{
		Name: "r1", Ref: chr1, Pos: 0, Seq: sam.NewSeq([]byte("AAACCCCC")),
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 8)},
	}
	idx := align.NewMemIndex(header, []*sam.Record{rec})
	c := chunk.Chunk{Contig: "chr1", BoundaryStart: 0, InnerStart: 0, InnerEnd: 8, BoundaryEnd: 8, Index: 0}

	reads, alns, err := align.Load(idx, c, refSubstr, align.LoadOpts{UseRLE: true})
	require.NoError(t, err)
	require.Len(t, reads, 1)
	require.NotNil(t, reads[0].RLE)
	require.Equal(t, 2, reads[0].RLE.Len()) // AAA, CCCCC

	// The base-level Match walk pairs ref position 3 (the reference's 4th
	// "A") with read position 3 (the read's first "C", since the read only
	// has 3 As): the ref's AAAA run therefore spans both the read's A run
	// and the start of its C run, while the ref's CCCC run stays within the
	// read's C run.
	require.Len(t, alns[0].Ops, 2)
	require.Equal(t, align.Op{Type: align.OpMatch, RefOffset: 0, RefLen: 1, ReadOffset: 0, ReadLen: 2}, alns[0].Ops[0])
	require.Equal(t, align.Op{Type: align.OpMatch, RefOffset: 1, RefLen: 1, ReadOffset: 1, ReadLen: 1}, alns[0].Ops[1])
}
