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

package rlemodel_test

import (
	"testing"

	"github.com/grailbio/genopolish/align"
	"github.com/grailbio/genopolish/rlemodel"
	"github.com/stretchr/testify/require"
)

func identityMatrix(maxRun int) *rlemodel.Matrix {
	table := make([][]float64, maxRun+1)
	for i := range table {
		table[i] = make([]float64, maxRun+1)
		for j := 1; j <= maxRun; j++ {
			if i == j {
				table[i][j] = 0.9
			} else if i >= 1 {
				table[i][j] = 0.1 / float64(maxRun-1)
			}
		}
	}
	return &rlemodel.Matrix{
		MaxRun: maxRun,
		P:      map[byte][][]float64{'A': table, 'C': table, 'G': table, 'T': table},
	}
}

func TestArgmaxPicksStronglySupportedRunLength(t *testing.T) {
	m := identityMatrix(8)
	h := rlemodel.Histogram{5: 10}
	require.Equal(t, 5, m.Argmax('A', h))
}

func TestArgmaxMajorityOverridesMinority(t *testing.T) {
	m := identityMatrix(8)
	h := rlemodel.Histogram{6: 9, 5: 1}
	require.Equal(t, 6, m.Argmax('A', h))
}

func TestReestimateConsensusReplacesRunLengths(t *testing.T) {
	m := identityMatrix(8)
	// Consensus says "AAAAA" (run length 5), but every read observed 6 A's.
	consensus := align.CompressRLE([]byte("AAAAA"))
	reads := []*align.Read{
		{RLE: refRLE("AAAAAA")},
		{RLE: refRLE("AAAAAA")},
		{RLE: refRLE("AAAAAA")},
	}
	alns := []*align.Alignment{
		matchOp(), matchOp(), matchOp(),
	}

	got := m.ReestimateConsensus(consensus, reads, alns)
	require.Equal(t, "AAAAAA", string(got.Expand()))
}

func refRLE(s string) *align.RLESeq {
	r := align.CompressRLE([]byte(s))
	return &r
}

func matchOp() *align.Alignment {
	return &align.Alignment{Weight: 1.0, Ops: []align.Op{{Type: align.OpMatch, RefOffset: 0, RefLen: 1, ReadOffset: 0, ReadLen: 1}}}
}
