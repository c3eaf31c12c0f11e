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

// Package stitch concatenates per-chunk consensus sequences into one
// assembly (spec §4.8), using a WFA alignment of each pair's overlap
// window to choose a boundary that neither duplicates nor drops bases.
package stitch

import (
	"github.com/shenwei356/wfa"
)

// Params configures overlap alignment and anchor selection.
type Params struct {
	// MinAnchorLen is the minimum run of consecutive matching bases
	// required to trust an anchor cut point. Below it, Stitch falls back
	// to cutting the overlap window in half. Defaults to 10 when zero.
	MinAnchorLen int
}

func (p Params) minAnchorLen() int {
	if p.MinAnchorLen > 0 {
		return p.MinAnchorLen
	}
	return 10
}

func newAligner() *wfa.Aligner {
	a := wfa.New(wfa.DefaultPenalties, &wfa.Options{GlobalAlignment: true})
	a.AdaptiveReduction(wfa.DefaultAdaptiveOption)
	return a
}

// anchor locates the longest run of consecutive matches in a WFA
// alignment and returns the query/target offsets at its midpoint, along
// with the run's length. Both offsets are relative to the start of the
// aligned (query, target) byte slices.
func anchor(cigar *wfa.AlignmentResult) (cutQuery, cutTarget, length int) {
	var v, h int
	var runLen, runStartV, runStartH int
	best := func() {
		if runLen > length {
			length = runLen
			cutQuery = runStartV + runLen/2
			cutTarget = runStartH + runLen/2
		}
	}
	for _, op := range cigar.Ops {
		opByte, n := wfa.Op(op)
		switch opByte {
		case 'M':
			if runLen == 0 {
				runStartV, runStartH = v, h
			}
			runLen += int(n)
			v += int(n)
			h += int(n)
			continue
		case 'X':
			v += int(n)
			h += int(n)
		case 'I':
			h += int(n)
		case 'D':
			v += int(n)
		}
		best()
		runLen = 0
	}
	best()
	return cutQuery, cutTarget, length
}

// cutPoint aligns the overlap between prevTail (the end of the earlier
// chunk) and nextHead (the start of the later chunk) and returns how much
// of each to keep: prevTail[:keepPrev] is retained from the earlier
// chunk, and nextHead[keepNext:] is retained from the later one. When no
// run of matches reaches MinAnchorLen, it falls back to splitting the
// window down the middle so the boundary is still deterministic.
func cutPoint(prevTail, nextHead []byte, p Params) (keepPrev, keepNext int) {
	if len(prevTail) == 0 || len(nextHead) == 0 {
		return len(prevTail), 0
	}
	aligner := newAligner()
	defer wfa.RecycleAligner(aligner)

	result, err := aligner.Align(prevTail, nextHead)
	if err != nil {
		mid := len(prevTail) / 2
		return mid, len(nextHead) - (len(prevTail) - mid)
	}
	defer wfa.RecycleAlignmentResult(result)

	cutQuery, cutTarget, length := anchor(result)
	if length < p.minAnchorLen() {
		return len(prevTail) / 2, len(nextHead) / 2
	}
	return cutQuery, cutTarget
}

// Stitch concatenates consecutive chunk consensus sequences. overlap is
// the number of bases each pair of adjacent chunks shares (their padded
// boundary region, per spec §4.1's chunk overlap). A single chunk is
// returned unchanged (stitching is idempotent for one chunk).
func Stitch(chunks [][]byte, overlap int, p Params) []byte {
	if len(chunks) == 0 {
		return nil
	}
	out := append([]byte{}, chunks[0]...)
	for i := 1; i < len(chunks); i++ {
		prevTail, nextHead, prevTailStart := overlapWindows(out, chunks[i], overlap)
		keepPrev, keepNext := cutPoint(prevTail, nextHead, p)
		out = append(out[:prevTailStart+keepPrev], chunks[i][keepNext:]...)
	}
	return out
}

// overlapWindows clips the requested overlap length to what's actually
// available at each side of the boundary.
func overlapWindows(prev, next []byte, overlap int) (prevTail, nextHead []byte, prevTailStart int) {
	w := overlap
	if w > len(prev) {
		w = len(prev)
	}
	if w > len(next) {
		w = len(next)
	}
	prevTailStart = len(prev) - w
	return prev[prevTailStart:], next[:w], prevTailStart
}

// DiploidChunk is one chunk's phased output: two haplotype sequences
// plus the set of read names assigned to each, used to resolve which
// haplotype label continues which physical strand across chunks.
type DiploidChunk struct {
	H1, H2           []byte
	H1Reads, H2Reads map[string]bool
}

// swap exchanges a chunk's H1/H2 labels in place.
func (c *DiploidChunk) swap() {
	c.H1, c.H2 = c.H2, c.H1
	c.H1Reads, c.H2Reads = c.H2Reads, c.H1Reads
}

func agreement(a, b map[string]bool) int {
	n := 0
	for name := range a {
		if b[name] {
			n++
		}
	}
	return n
}

// StitchDiploid stitches both haplotypes across chunks, first resolving
// each chunk's H1/H2 labelling against the previous chunk by read-set
// agreement (spec §4.8): a chunk's labels are swapped only when doing so
// strictly increases the number of reads shared between same-labelled
// haplotypes across the boundary; ties keep the original labelling.
func StitchDiploid(chunks []DiploidChunk, overlap int, p Params) (h1, h2 []byte) {
	if len(chunks) == 0 {
		return nil, nil
	}
	oriented := make([]DiploidChunk, len(chunks))
	copy(oriented, chunks)
	for i := 1; i < len(oriented); i++ {
		prev, cur := oriented[i-1], oriented[i]
		noSwap := agreement(prev.H1Reads, cur.H1Reads) + agreement(prev.H2Reads, cur.H2Reads)
		swapped := agreement(prev.H1Reads, cur.H2Reads) + agreement(prev.H2Reads, cur.H1Reads)
		if swapped > noSwap {
			oriented[i].swap()
		}
	}

	h1Chunks := make([][]byte, len(oriented))
	h2Chunks := make([][]byte, len(oriented))
	for i, c := range oriented {
		h1Chunks[i] = c.H1
		h2Chunks[i] = c.H2
	}
	return Stitch(h1Chunks, overlap, p), Stitch(h2Chunks, overlap, p)
}
