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

// Package phase assigns chunk reads to one of two haplotypes and chooses
// the per-bubble allele pair maximising the phased likelihood (spec §4.7).
package phase

import (
	"math"

	"github.com/grailbio/genopolish/align"
	"github.com/grailbio/genopolish/bubble"
	"gonum.org/v1/gonum/floats"
)

// Params configures the EM alternation.
type Params struct {
	// ReadErrorRate is the per-bubble probability a read's observed
	// allele disagrees with its true haplotype's genotype. Defaults to
	// 0.1 when zero.
	ReadErrorRate float64
	// MaxIterations bounds the EM alternation. Defaults to 10 when zero.
	MaxIterations int
	// ConfidenceThreshold is the minimum |log-likelihood difference|
	// between the two haplotypes required to phase a read; below it the
	// read is marked unphased.
	ConfidenceThreshold float64
}

// Fragment is the diploid Genome Fragment: the allele index chosen for
// each haplotype at every bubble.
type Fragment struct {
	H1, H2 []int
}

// Assignment classifies every read (by index into the reads slice passed
// to Phase) into hap1, hap2, or unphased.
type Assignment struct {
	Hap1, Hap2, Unphased []int
}

type genotype struct{ a, b int }

// Phase runs the EM-like alternation described in §4.7: fix read
// assignments and choose per-bubble genotypes maximising conditional
// support, then fix genotypes and reassign reads, until assignments
// stabilise or MaxIterations is reached.
//
// Read-to-allele membership is taken only from each bubble Allele's Reads
// list, which bubble.Extract fills only when called with useReadAlleles
// set; a read listed under no allele of a bubble counts as not covering
// that bubble.
func Phase(bg *bubble.Graph, reads []*align.Read, alignments []*align.Alignment, p Params) (*Fragment, *Assignment) {
	nReads := len(reads)
	nBubbles := len(bg.Bubbles)
	if nBubbles == 0 || nReads == 0 {
		return &Fragment{}, &Assignment{}
	}

	errorRate := p.ReadErrorRate
	if errorRate <= 0 {
		errorRate = 0.1
	}
	maxIter := p.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}

	readAllele := buildReadAlleleIdx(bg, nReads)
	assign := initialAssignment(readAllele, nReads)

	genotypes := make([]genotype, nBubbles)
	for iter := 0; iter < maxIter; iter++ {
		for bi := range genotypes {
			genotypes[bi] = chooseGenotype(bg.Bubbles[bi].Alleles, readAllele[bi], assign)
		}
		newAssign := make([]int, nReads)
		changed := false
		for r := 0; r < nReads; r++ {
			ll1 := readLogLikelihood(readAllele, genotypes, r, 1, errorRate)
			ll2 := readLogLikelihood(readAllele, genotypes, r, 2, errorRate)
			hap := 1
			if ll2 > ll1 {
				hap = 2
			}
			newAssign[r] = hap
			if assign[r] != hap {
				changed = true
			}
		}
		assign = newAssign
		if !changed {
			break
		}
	}

	result := &Assignment{}
	for r := 0; r < nReads; r++ {
		ll1 := readLogLikelihood(readAllele, genotypes, r, 1, errorRate)
		ll2 := readLogLikelihood(readAllele, genotypes, r, 2, errorRate)
		switch diff := math.Abs(ll1 - ll2); {
		case diff < p.ConfidenceThreshold:
			result.Unphased = append(result.Unphased, r)
		case assign[r] == 1:
			result.Hap1 = append(result.Hap1, r)
		default:
			result.Hap2 = append(result.Hap2, r)
		}
	}

	frag := &Fragment{H1: make([]int, nBubbles), H2: make([]int, nBubbles)}
	for bi, g := range genotypes {
		frag.H1[bi], frag.H2[bi] = g.a, g.b
	}
	return frag, result
}

// buildReadAlleleIdx inverts each bubble's allele->reads lists into
// readAllele[bubbleIdx][readIdx] = alleleIdx (-1 if the read doesn't
// cover that bubble).
func buildReadAlleleIdx(bg *bubble.Graph, nReads int) [][]int {
	out := make([][]int, len(bg.Bubbles))
	for bi, b := range bg.Bubbles {
		idx := make([]int, nReads)
		for i := range idx {
			idx[i] = -1
		}
		for ai, a := range b.Alleles {
			for _, ri := range a.Reads {
				if ri >= 0 && ri < nReads {
					idx[ri] = ai
				}
			}
		}
		out[bi] = idx
	}
	return out
}

// initialAssignment seeds the EM loop with a k-means-style (k=2)
// clustering of each read's per-bubble allele-vote vector, using
// gonum/floats for the centroid distance and update arithmetic.
func initialAssignment(readAllele [][]int, nReads int) []int {
	nBubbles := len(readAllele)
	vec := func(r int) []float64 {
		v := make([]float64, nBubbles)
		for b := 0; b < nBubbles; b++ {
			v[b] = float64(readAllele[b][r] + 1) // shift so "uncovered" (-1) -> 0
		}
		return v
	}
	assign := make([]int, nReads)
	if nReads <= 1 {
		for i := range assign {
			assign[i] = 1
		}
		return assign
	}

	c1, c2 := vec(0), vec(nReads-1)
	for iter := 0; iter < 10; iter++ {
		changed := false
		for r := 0; r < nReads; r++ {
			v := vec(r)
			d1 := floats.Distance(v, c1, 2)
			d2 := floats.Distance(v, c2, 2)
			hap := 1
			if d2 < d1 {
				hap = 2
			}
			if assign[r] != hap {
				changed = true
			}
			assign[r] = hap
		}
		sum1 := make([]float64, nBubbles)
		sum2 := make([]float64, nBubbles)
		var n1, n2 int
		for r := 0; r < nReads; r++ {
			v := vec(r)
			if assign[r] == 1 {
				floats.Add(sum1, v)
				n1++
			} else {
				floats.Add(sum2, v)
				n2++
			}
		}
		if n1 > 0 {
			floats.Scale(1/float64(n1), sum1)
			c1 = sum1
		}
		if n2 > 0 {
			floats.Scale(1/float64(n2), sum2)
			c2 = sum2
		}
		if !changed {
			break
		}
	}
	return assign
}

// chooseGenotype picks the unordered allele pair (a <= b) maximising the
// count of assigned reads whose observed allele matches their
// haplotype's side of the pair. Ties prefer the pair containing the
// reference allele (§4.7's tie-break; a <= b already holds by
// construction).
func chooseGenotype(alleles []bubble.Allele, readAllele []int, assign []int) genotype {
	best := genotype{0, 0}
	bestScore := -1.0
	for a := 0; a < len(alleles); a++ {
		for b := a; b < len(alleles); b++ {
			score := 0.0
			for r, al := range readAllele {
				if al < 0 {
					continue
				}
				switch assign[r] {
				case 1:
					if al == a {
						score++
					}
				case 2:
					if al == b {
						score++
					}
				}
			}
			if score > bestScore || (score == bestScore && prefersReference(alleles, a, b, best.a, best.b)) {
				bestScore = score
				best = genotype{a, b}
			}
		}
	}
	return best
}

func prefersReference(alleles []bubble.Allele, a, b, ba, bb int) bool {
	has := alleles[a].IsReference || alleles[b].IsReference
	had := alleles[ba].IsReference || alleles[bb].IsReference
	return has && !had
}

func readLogLikelihood(readAllele [][]int, genotypes []genotype, r, hap int, errorRate float64) float64 {
	ll := 0.0
	for bi, g := range genotypes {
		al := readAllele[bi][r]
		if al < 0 {
			continue
		}
		want := g.a
		if hap == 2 {
			want = g.b
		}
		if al == want {
			ll += math.Log(1 - errorRate)
		} else {
			ll += math.Log(errorRate)
		}
	}
	return ll
}
