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

// Package bubble extracts variant sites from a POA graph (spec §4.6):
// runs of backbone columns where reads diverge, each carrying the set of
// distinct alleles observed across them.
package bubble

import (
	"sort"

	"github.com/grailbio/genopolish/align"
	"github.com/grailbio/genopolish/poa"
)

// Allele is one distinct sequence observed across a Bubble's span.
type Allele struct {
	Bases       string
	Reads       []int // indices into the reads/alignments slices passed to Extract
	Weight      float64
	IsReference bool
}

// Bubble is a maximal run of divergent backbone columns
// [StartCol, EndCol) (indices into poa.Graph.Backbone), plus the distinct
// alleles observed across that span.
type Bubble struct {
	StartCol int
	EndCol   int
	Alleles  []Allele
}

// Graph is the ordered sequence of bubbles for one chunk, plus the
// reference fragments between them: Fragments[i] is the literal reference
// text immediately before Bubbles[i], and there is one trailing fragment
// after the last bubble. len(Fragments) == len(Bubbles)+1.
type Graph struct {
	Bubbles   []Bubble
	Fragments []string
}

// insertionWeight sums the weight of every insertion-node edge reachable
// directly from backbone node id (a proxy for "non-trivial insert weight").
func insertionWeight(g *poa.Graph, backboneID int64) float64 {
	var w float64
	it := g.From(backboneID)
	for it.Next() {
		n := it.Node()
		if gn, ok := n.(*poa.Node); ok && gn.RefRun < 0 && gn.ID() != g.End {
			w += g.WeightedEdge(backboneID, gn.ID()).Weight()
		}
	}
	return w
}

// deletionWeight estimates "non-trivial delete weight" at backbone column i
// as the weight of paths that skip directly from column i-1 to some later
// column without passing through column i.
func deletionWeight(g *poa.Graph, backbone []int64, i int) float64 {
	if i == 0 {
		return 0
	}
	var w float64
	it := g.From(backbone[i-1])
	for it.Next() {
		to := it.Node().ID()
		if to != backbone[i] && g.NodeByID(to).RefRun >= 0 {
			w += g.WeightedEdge(backbone[i-1], to).Weight()
		}
	}
	return w
}

// isDivergent reports whether backbone column i shows a branch: more than
// one distinct base observed, or non-trivial insertion/deletion weight.
func isDivergent(g *poa.Graph, backbone []int64, i int, minSupport float64) bool {
	n := g.NodeByID(backbone[i])
	if len(n.Votes) > 1 {
		return true
	}
	if insertionWeight(g, backbone[i]) >= minSupport {
		return true
	}
	if deletionWeight(g, backbone, i) >= minSupport {
		return true
	}
	return false
}

// Extract scans the graph's backbone and groups consecutive divergent
// columns into bubbles, enumerating the allele(s) each read shows across
// each bubble's span. Alleles with total weight below minSupport are
// dropped, except the reference allele, which every bubble keeps (and
// gains even when no read shows it). When useReadAlleles is false, alleles are instead synthesised
// directly from each column's base votes rather than read substrings.
func Extract(g *poa.Graph, refBases []byte, reads []*align.Read, alignments []*align.Alignment, minSupport float64, useReadAlleles bool) *Graph {
	backbone := g.Backbone
	out := &Graph{}

	fragStart := 0
	i := 0
	for i < len(backbone) {
		if !isDivergent(g, backbone, i, minSupport) {
			i++
			continue
		}
		start := i
		for i < len(backbone) && isDivergent(g, backbone, i, minSupport) {
			i++
		}
		end := i

		out.Fragments = append(out.Fragments, string(refBases[fragStart:start]))
		var alleles []Allele
		if useReadAlleles {
			alleles = readAlleles(reads, alignments, start, end, minSupport, string(refBases[start:end]))
		} else {
			alleles = votedAlleles(g, backbone, start, end, minSupport, string(refBases[start:end]))
		}
		out.Bubbles = append(out.Bubbles, Bubble{StartCol: start, EndCol: end, Alleles: alleles})
		fragStart = end
	}
	out.Fragments = append(out.Fragments, string(refBases[fragStart:]))
	return out
}

// readSpan reconstructs the bases one read's alignment shows across
// reference columns [start, end), including insertions immediately
// following a column in that range.
func readSpan(rd *align.Read, aln *align.Alignment, start, end int) (string, bool) {
	var b []byte
	covered := false
	refIdx := -1
	for _, op := range aln.Ops {
		switch op.Type {
		case align.OpMatch:
			for k := 0; k < op.RefLen; k++ {
				refIdx = op.RefOffset + k
				if refIdx >= start && refIdx < end {
					covered = true
					b = append(b, baseFor(rd, op, k))
				}
			}
		case align.OpInsertion:
			if refIdx >= start && refIdx < end {
				for k := 0; k < op.ReadLen; k++ {
					b = append(b, baseFor(rd, op, k))
				}
			}
		case align.OpDeletion:
			for k := 0; k < op.RefLen; k++ {
				if op.RefOffset+k >= start && op.RefOffset+k < end {
					covered = true
				}
			}
		}
	}
	return string(b), covered
}

func baseFor(rd *align.Read, op align.Op, k int) byte {
	if rd.RLE != nil {
		idx := op.ReadOffset
		if op.ReadLen > 1 {
			idx += k
		}
		if idx >= 0 && idx < len(rd.RLE.Bases) {
			return rd.RLE.Bases[idx]
		}
		return 'N'
	}
	idx := op.ReadOffset + k
	if idx >= 0 && idx < len(rd.Bases) {
		return rd.Bases[idx]
	}
	return 'N'
}

func readAlleles(reads []*align.Read, alignments []*align.Alignment, start, end int, minSupport float64, refSpan string) []Allele {
	byBases := map[string]*Allele{}
	var order []string
	for i, rd := range reads {
		if i >= len(alignments) {
			break
		}
		span, covered := readSpan(rd, alignments[i], start, end)
		if !covered {
			continue
		}
		a, ok := byBases[span]
		if !ok {
			a = &Allele{Bases: span, IsReference: span == refSpan}
			byBases[span] = a
			order = append(order, span)
		}
		a.Reads = append(a.Reads, i)
		a.Weight += alignments[i].Weight
	}
	return finalizeAlleles(byBases, order, minSupport, refSpan)
}

// votedAlleles synthesises alleles purely from each column's vote
// histogram, without consulting individual reads: used when
// useReadAlleles is false. Multi-column bubbles combine the per-column
// majority base with the literal reference fragment as the two
// candidates, since enumerating every combination of per-column bases
// would be combinatorial.
func votedAlleles(g *poa.Graph, backbone []int64, start, end int, minSupport float64, refSpan string) []Allele {
	byBases := map[string]*Allele{}
	var order []string
	add := func(bases string, weight float64) {
		a, ok := byBases[bases]
		if !ok {
			a = &Allele{Bases: bases, IsReference: bases == refSpan}
			byBases[bases] = a
			order = append(order, bases)
		}
		a.Weight += weight
	}

	majority := make([]byte, 0, end-start)
	var majorityWeight float64
	for i := start; i < end; i++ {
		n := g.NodeByID(backbone[i])
		majority = append(majority, n.Base)
		for _, w := range n.Votes {
			if w > majorityWeight {
				majorityWeight = w
			}
		}
	}
	add(string(majority), majorityWeight)
	add(refSpan, 0)

	// Single-column bubbles additionally get one allele per distinct
	// voted base, since that is the literal divergence being described.
	if end-start == 1 {
		n := g.NodeByID(backbone[start])
		for b, w := range n.Votes {
			add(string([]byte{b}), w)
		}
	}
	return finalizeAlleles(byBases, order, minSupport, refSpan)
}

func finalizeAlleles(byBases map[string]*Allele, order []string, minSupport float64, refSpan string) []Allele {
	var out []Allele
	haveRef := false
	for _, k := range order {
		a := byBases[k]
		if a.Weight < minSupport && !a.IsReference {
			continue
		}
		out = append(out, *a)
		if a.IsReference {
			haveRef = true
		}
	}
	if !haveRef {
		out = append(out, Allele{Bases: refSpan, IsReference: true})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsReference != out[j].IsReference {
			return out[i].IsReference
		}
		return out[i].Bases < out[j].Bases
	})
	return out
}
