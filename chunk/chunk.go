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

// Package chunk partitions the reference coordinate space of an alignment
// into overlapping work units ("chunks"), the unit of parallel dispatch for
// the rest of the polishing pipeline.
//
// The sharding strategy is grounded on the teacher's position-based BAM
// sharder (encoding/bam.Shard / bamprovider.Provider.GenerateShards):
// fixed-stride windows over a coordinate space, padded by a fixed overlap
// and clamped to contig bounds.
package chunk

import (
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
)

// Pos is the integer type used for genomic coordinates.
type Pos int64

// Chunk is a coordinate-bounded work unit with overlap padding for
// stitching. boundaryStart <= innerStart <= innerEnd <= boundaryEnd.
// [innerStart, innerEnd) is the region this chunk is authoritative for.
type Chunk struct {
	Contig                                          string
	BoundaryStart, InnerStart, InnerEnd, BoundaryEnd Pos
	Index                                            int
}

// InnerLen returns the length of the chunk's authoritative window.
func (c Chunk) InnerLen() Pos { return c.InnerEnd - c.InnerStart }

// BoundaryLen returns the length of the chunk's padded window, the region
// the loader (align package) must materialise reads for.
func (c Chunk) BoundaryLen() Pos { return c.BoundaryEnd - c.BoundaryStart }

// ContigLen names a contig and its length, in the order contigs should be
// chunked (an ordered alternative to a name->length map, since chunk order
// within a contig, and contig order across a run, must be deterministic).
type ContigLen struct {
	Name string
	Len  Pos
}

// Region restricts chunking to part of a single contig, as parsed from a
// CLI region string of the form "contig[:start-end]".
type Region struct {
	Contig     string
	Start, End Pos // half-open, 0-based; End==0 means "to the end of contig"
}

// ParseRegion parses a CLI region string of the form
// "contig[:first-last]" or "contig[:pos]", with 1-based, inclusive
// positions (samtools convention), into a 0-based, half-open Region.
// Grounded on the teacher's interval.ParseRegionString, adapted to this
// package's Region/Pos types in place of BEDUnion's PosType/Entry.
func ParseRegion(region string) (*Region, error) {
	if region == "" {
		return nil, errors.E("chunk.ParseRegion: empty region string")
	}
	colon := strings.IndexByte(region, ':')
	if colon == -1 {
		return &Region{Contig: region}, nil
	}
	if colon == 0 {
		return nil, errors.E("chunk.ParseRegion: empty contig ID", region)
	}
	contig := region[:colon]
	span := region[colon+1:]

	dash := strings.IndexByte(span, '-')
	if dash == -1 {
		pos1, err := strconv.ParseInt(span, 10, 64)
		if err != nil || pos1 <= 0 {
			return nil, errors.E("chunk.ParseRegion: invalid position", span)
		}
		return &Region{Contig: contig, Start: Pos(pos1 - 1), End: Pos(pos1)}, nil
	}

	start1Str, endStr := span[:dash], span[dash+1:]
	start1, err := strconv.ParseInt(start1Str, 10, 64)
	if err != nil || start1 <= 0 {
		return nil, errors.E("chunk.ParseRegion: invalid start position", start1Str)
	}
	end0, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end0 < start1 {
		return nil, errors.E("chunk.ParseRegion: invalid range", span)
	}
	return &Region{Contig: contig, Start: Pos(start1 - 1), End: Pos(end0)}, nil
}

// Chunker holds the ordered list of chunks produced for one run. It
// supports random access by index, matching the §4.1 contract.
type Chunker struct {
	chunks []Chunk
}

// New builds a Chunker over contigs (or, if region is non-nil, over the
// single named region), using inner window length chunkSize and boundary
// overlap on both sides.
func New(contigs []ContigLen, region *Region, chunkSize, overlap Pos) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, errors.E("chunk.New: chunkSize must be positive")
	}
	if overlap < 0 {
		return nil, errors.E("chunk.New: overlap must be non-negative")
	}

	var chunks []Chunk
	if region != nil {
		var clen Pos
		found := false
		for _, c := range contigs {
			if c.Name == region.Contig {
				clen = c.Len
				found = true
				break
			}
		}
		if !found {
			return nil, errors.E("chunk.New: region contig not found in reference", region.Contig)
		}
		start, end := region.Start, region.End
		if end <= 0 || end > clen {
			end = clen
		}
		if start < 0 || start >= end {
			return nil, errors.E("chunk.New: invalid region bounds", region.Contig)
		}
		chunks = append(chunks, chunksFor(region.Contig, start, end, clen, chunkSize, overlap)...)
	} else {
		for _, c := range contigs {
			chunks = append(chunks, chunksFor(c.Name, 0, c.Len, c.Len, chunkSize, overlap)...)
		}
	}
	if len(chunks) == 0 {
		return nil, errors.E("chunk.New: no valid reads")
	}
	for i := range chunks {
		chunks[i].Index = i
	}
	return &Chunker{chunks: chunks}, nil
}

// chunksFor emits fixed-stride, padded chunks tiling [rangeStart,
// rangeEnd) of a contig of total length contigLen. Padding is clamped to
// [0, contigLen), so when the range covers the whole contig the first
// chunk's BoundaryStart==InnerStart and the last's BoundaryEnd==InnerEnd,
// as required by §3; a range inside the contig keeps its outer padding.
func chunksFor(contig string, rangeStart, rangeEnd, contigLen, chunkSize, overlap Pos) []Chunk {
	var out []Chunk
	for innerStart := rangeStart; innerStart < rangeEnd; innerStart += chunkSize {
		innerEnd := innerStart + chunkSize
		if innerEnd > rangeEnd {
			innerEnd = rangeEnd
		}
		boundaryStart := innerStart - overlap
		if boundaryStart < 0 {
			boundaryStart = 0
		}
		boundaryEnd := innerEnd + overlap
		if boundaryEnd > contigLen {
			boundaryEnd = contigLen
		}
		out = append(out, Chunk{
			Contig:        contig,
			BoundaryStart: boundaryStart,
			InnerStart:    innerStart,
			InnerEnd:      innerEnd,
			BoundaryEnd:   boundaryEnd,
		})
	}
	return out
}

// Len returns the number of chunks.
func (c *Chunker) Len() int { return len(c.chunks) }

// At returns the chunk at index i.
func (c *Chunker) At(i int) Chunk { return c.chunks[i] }

// All returns every chunk, in increasing coordinate order.
func (c *Chunker) All() []Chunk { return c.chunks }

// ForContig returns the chunks belonging to a single contig, in order.
func (c *Chunker) ForContig(name string) []Chunk {
	var out []Chunk
	for _, ch := range c.chunks {
		if ch.Contig == name {
			out = append(out, ch)
		}
	}
	return out
}
