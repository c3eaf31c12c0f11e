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

package bubble_test

import (
	"testing"

	"github.com/grailbio/genopolish/align"
	"github.com/grailbio/genopolish/bubble"
	"github.com/grailbio/genopolish/poa"
	"github.com/stretchr/testify/require"
)

func fullMatchAlignment(n int) *align.Alignment {
	return &align.Alignment{Weight: 1.0, Ops: []align.Op{{Type: align.OpMatch, RefOffset: 0, RefLen: n, ReadOffset: 0, ReadLen: n}}}
}

func TestExtractFindsSingleColumnBubble(t *testing.T) {
	ref := []byte("ACGT")
	var reads []*align.Read
	var alns []*align.Alignment
	for _, s := range []string{"ACGT", "ACGT", "ACGT", "AGGT", "AGGT"} {
		reads = append(reads, &align.Read{Bases: []byte(s)})
		alns = append(alns, fullMatchAlignment(4))
	}
	g := poa.Build(ref, reads, alns)

	bg := bubble.Extract(g, ref, reads, alns, 1.0, true)
	require.Len(t, bg.Bubbles, 1)
	b := bg.Bubbles[0]
	require.Equal(t, 1, b.StartCol)
	require.Equal(t, 2, b.EndCol)
	require.Len(t, bg.Fragments, 2)
	require.Equal(t, "A", bg.Fragments[0])
	require.Equal(t, "GT", bg.Fragments[1])

	require.Len(t, b.Alleles, 2)
	require.Equal(t, "C", b.Alleles[0].Bases)
	require.True(t, b.Alleles[0].IsReference)
	require.Equal(t, []int{0, 1, 2}, b.Alleles[0].Reads)
	require.Equal(t, "G", b.Alleles[1].Bases)
	require.Equal(t, []int{3, 4}, b.Alleles[1].Reads)
}

func TestExtractNoDivergenceYieldsNoBubbles(t *testing.T) {
	ref := []byte("ACGT")
	var reads []*align.Read
	var alns []*align.Alignment
	for i := 0; i < 5; i++ {
		reads = append(reads, &align.Read{Bases: []byte("ACGT")})
		alns = append(alns, fullMatchAlignment(4))
	}
	g := poa.Build(ref, reads, alns)

	bg := bubble.Extract(g, ref, reads, alns, 1.0, true)
	require.Empty(t, bg.Bubbles)
	require.Equal(t, []string{"ACGT"}, bg.Fragments)
}

func TestExtractBelowSupportThresholdDropsMinorAllele(t *testing.T) {
	ref := []byte("ACGT")
	var reads []*align.Read
	var alns []*align.Alignment
	for _, s := range []string{"ACGT", "ACGT", "ACGT", "ACGT", "AGGT"} {
		reads = append(reads, &align.Read{Bases: []byte(s)})
		alns = append(alns, fullMatchAlignment(4))
	}
	g := poa.Build(ref, reads, alns)

	// minSupport above the single dissenting read's weight (1.0) drops it,
	// but the reference allele is always retained.
	bg := bubble.Extract(g, ref, reads, alns, 1.5, true)
	require.Len(t, bg.Bubbles, 1)
	require.Len(t, bg.Bubbles[0].Alleles, 1)
	require.True(t, bg.Bubbles[0].Alleles[0].IsReference)
}
