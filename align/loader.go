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

package align

import (
	"github.com/grailbio/base/errors"
	"github.com/grailbio/genopolish/chunk"
	"github.com/grailbio/hts/sam"
)

// LoadOpts configures the loader (§4.2).
type LoadOpts struct {
	// UseRLE requests RLE-coordinate alignments; refSubstrRaw is still
	// passed raw, and is collapsed internally.
	UseRLE bool
	// RequireBoundaryMatch enforces the "boundary-at-match" policy: a
	// read's first and last CIGAR operation must be a match.
	RequireBoundaryMatch bool
}

// Load materialises every read whose aligned span intersects c's boundary
// window and the Alignment describing how each one maps to the chunk's
// reference substring. refSubstrRaw is the raw (ASCII) reference substring
// for [c.BoundaryStart, c.BoundaryEnd).
func Load(idx Index, c chunk.Chunk, refSubstrRaw []byte, opts LoadOpts) ([]*Read, []*Alignment, error) {
	var refRuns RLESeq
	if opts.UseRLE {
		refRuns = CompressRLE(refSubstrRaw)
	}

	it := idx.NewIterator(Region{Contig: c.Contig, Start: int(c.BoundaryStart), End: int(c.BoundaryEnd)})
	defer it.Close()

	var reads []*Read
	var alignments []*Alignment
	for it.Scan() {
		rec := it.Record()
		if len(rec.Cigar) == 0 {
			continue
		}
		if opts.RequireBoundaryMatch && !(isMatchOp(rec.Cigar[0]) && isMatchOp(rec.Cigar[len(rec.Cigar)-1])) {
			continue
		}

		raw := rec.Seq.Expand()
		startClip, endClip := softClipLens(rec.Cigar)

		read := &Read{
			Name:          rec.Name,
			Bases:         raw,
			Strand:        strandOf(rec),
			StartSoftClip: startClip,
			EndSoftClip:   endClip,
			ChunkIndex:    c.Index,
		}

		var b alignmentBuilder
		if opts.UseRLE {
			trimmed := raw[startClip : len(raw)-endClip]
			readRuns := CompressRLE(trimmed)
			read.RLE = &readRuns
			b = &rleBuilder{refRuns: refRuns, readRuns: readRuns, boundaryStart: int(c.BoundaryStart), startClip: startClip}
		} else {
			b = &rawBuilder{boundaryStart: int(c.BoundaryStart)}
		}

		refPos := rec.Pos
		readPos := 0
		for _, co := range rec.Cigar {
			n := co.Len()
			switch co.Type() {
			case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
				b.match(refPos, readPos, n)
				refPos += n
				readPos += n
			case sam.CigarInsertion:
				b.insertion(readPos, n)
				readPos += n
			case sam.CigarDeletion, sam.CigarSkipped:
				b.deletion(refPos, n)
				refPos += n
			case sam.CigarSoftClipped:
				readPos += n
			case sam.CigarHardClipped:
				// No bases present in rec.Seq for hard clips; nothing to advance.
			default:
				return nil, nil, errors.E("align.Load: unsupported CIGAR operation", rec.Name)
			}
		}

		reads = append(reads, read)
		alignments = append(alignments, b.finish())
	}
	if err := it.Err(); err != nil {
		return nil, nil, errors.E(err, "align.Load")
	}
	return reads, alignments, nil
}

func isMatchOp(co sam.CigarOp) bool {
	switch co.Type() {
	case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
		return true
	default:
		return false
	}
}

func softClipLens(cigar sam.Cigar) (start, end int) {
	if len(cigar) == 0 {
		return 0, 0
	}
	if cigar[0].Type() == sam.CigarSoftClipped {
		start = cigar[0].Len()
	}
	if last := cigar[len(cigar)-1]; last.Type() == sam.CigarSoftClipped {
		end = last.Len()
	}
	return start, end
}

func strandOf(rec *sam.Record) Strand {
	if rec.Flags&sam.Reverse != 0 {
		return Reverse
	}
	return Forward
}

// alignmentBuilder accumulates Ops in either raw-base or RLE-run
// coordinates as the loader walks one record's CIGAR.
type alignmentBuilder interface {
	match(refPos, readPos, n int)
	insertion(readPos, n int)
	deletion(refPos, n int)
	finish() *Alignment
}

type rawBuilder struct {
	boundaryStart int
	ops           []Op
}

func (b *rawBuilder) match(refPos, readPos, n int) {
	b.ops = append(b.ops, Op{Type: OpMatch, RefOffset: refPos - b.boundaryStart, RefLen: n, ReadOffset: readPos, ReadLen: n})
}
func (b *rawBuilder) insertion(readPos, n int) {
	b.ops = append(b.ops, Op{Type: OpInsertion, ReadOffset: readPos, ReadLen: n})
}
func (b *rawBuilder) deletion(refPos, n int) {
	b.ops = append(b.ops, Op{Type: OpDeletion, RefOffset: refPos - b.boundaryStart, RefLen: n})
}
func (b *rawBuilder) finish() *Alignment { return &Alignment{Ops: b.ops, Weight: 1.0} }

// rleBuilder re-expresses a base-granularity CIGAR walk in RLE run
// coordinates, splitting wherever the read's run or the reference's run
// changes mid-operation (§4.2).
type rleBuilder struct {
	refRuns, readRuns RLESeq
	boundaryStart     int
	startClip         int
	ops               []Op
}

func (b *rleBuilder) match(refPos, readPos, n int) {
	i := 0
	for i < n {
		refRun := b.refRuns.RunIndex(refPos - b.boundaryStart + i)
		readRunStart := b.readRuns.RunIndex(readPos - b.startClip + i)
		readRunEnd := readRunStart
		j := i
		for j < n && b.refRuns.RunIndex(refPos-b.boundaryStart+j) == refRun {
			readRunEnd = b.readRuns.RunIndex(readPos - b.startClip + j)
			j++
		}
		b.ops = append(b.ops, Op{Type: OpMatch, RefOffset: refRun, RefLen: 1, ReadOffset: readRunStart, ReadLen: readRunEnd - readRunStart + 1})
		i = j
	}
}

func (b *rleBuilder) insertion(readPos, n int) {
	i := 0
	for i < n {
		run := b.readRuns.RunIndex(readPos - b.startClip + i)
		j := i
		for j < n && b.readRuns.RunIndex(readPos-b.startClip+j) == run {
			j++
		}
		b.ops = append(b.ops, Op{Type: OpInsertion, ReadOffset: run, ReadLen: 1})
		i = j
	}
}

func (b *rleBuilder) deletion(refPos, n int) {
	i := 0
	for i < n {
		run := b.refRuns.RunIndex(refPos - b.boundaryStart + i)
		j := i
		for j < n && b.refRuns.RunIndex(refPos-b.boundaryStart+j) == run {
			j++
		}
		b.ops = append(b.ops, Op{Type: OpDeletion, RefOffset: run, RefLen: 1})
		i = j
	}
}

func (b *rleBuilder) finish() *Alignment { return &Alignment{Ops: b.ops, Weight: 1.0} }
