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

package rlemodel

import (
	"math"

	"github.com/grailbio/genopolish/align"
)

// Histogram maps an observed run length to its summed alignment weight.
type Histogram map[int]float64

// Argmax returns the run length i in [1, MaxRun] maximising
// P(i) * Π_j P(j|i,base)^H[j] (spec §4.5), computed in log-space.
func (m *Matrix) Argmax(base byte, h Histogram) int {
	best, bestLL := 1, math.Inf(-1)
	for i := 1; i <= m.MaxRun; i++ {
		ll := math.Log(m.prior(base, i))
		for j, weight := range h {
			p := m.subProb(base, i, j)
			if p <= 0 {
				ll = math.Inf(-1)
				break
			}
			ll += weight * math.Log(p)
		}
		if ll > bestLL {
			bestLL = ll
			best = i
		}
	}
	return best
}

// ReestimateConsensus replaces each run length in consensusRLE with the
// model's argmax over the run-length histogram of reads whose alignment
// covers that position. Callers restrict reads/alignments to one
// haplotype's assignment in diploid mode (unphased reads are passed to
// both haplotype calls, per §4.5).
func (m *Matrix) ReestimateConsensus(consensusRLE align.RLESeq, reads []*align.Read, alignments []*align.Alignment) align.RLESeq {
	hist := make([]Histogram, consensusRLE.Len())
	for i := range hist {
		hist[i] = Histogram{}
	}

	for ri, rd := range reads {
		if ri >= len(alignments) || rd.RLE == nil {
			continue
		}
		aln := alignments[ri]
		for _, op := range aln.Ops {
			if op.Type != align.OpMatch {
				continue
			}
			for k := 0; k < op.RefLen; k++ {
				refIdx := op.RefOffset + k
				if refIdx < 0 || refIdx >= len(hist) {
					continue
				}
				readRun := op.ReadOffset
				if op.ReadLen > 1 {
					readRun += k
				}
				if readRun < 0 || readRun >= len(rd.RLE.Runs) {
					continue
				}
				hist[refIdx][rd.RLE.Runs[readRun]] += aln.Weight
			}
		}
	}

	out := consensusRLE
	for i, h := range hist {
		if len(h) == 0 {
			continue
		}
		newLen := m.Argmax(out.Bases[i], h)
		out = out.WithReplacedRun(i, newLen)
	}
	return out
}
