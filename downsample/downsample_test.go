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

package downsample_test

import (
	"testing"

	"github.com/grailbio/genopolish/align"
	"github.com/grailbio/genopolish/downsample"
	"github.com/stretchr/testify/require"
)

// makeReads builds n reads, each aligning across a single reference base
// (one OpMatch of RefLen 1), so with chunkLen==1 the estimated depth
// d = Σ alignedRefLen / chunkLen equals n, mirroring a chunk where every
// read spans the whole (1-base) window exactly once.
func makeReads(n int) ([]*align.Read, []*align.Alignment) {
	reads := make([]*align.Read, n)
	alns := make([]*align.Alignment, n)
	for i := range reads {
		reads[i] = &align.Read{Name: string(rune('a' + i))}
		alns[i] = &align.Alignment{Weight: 1.0, Ops: []align.Op{{Type: align.OpMatch, RefLen: 1}}}
	}
	return reads, alns
}

func TestNoopUnderTarget(t *testing.T) {
	reads, alns := makeReads(5)
	gotReads, gotAlns := downsample.Reads(reads, alns, 10, 1, 1)
	require.Equal(t, reads, gotReads)
	require.Equal(t, alns, gotAlns)
}

func TestDeterministicBySeed(t *testing.T) {
	reads, alns := makeReads(100)
	r1, a1 := downsample.Reads(reads, alns, 20, 1, 42)
	r2, a2 := downsample.Reads(reads, alns, 20, 1, 42)
	require.Equal(t, r1, r2)
	require.Equal(t, a1, a2)
	require.Len(t, a1, len(r1))
}

func TestDifferentSeedsCanDiffer(t *testing.T) {
	reads, alns := makeReads(200)
	r1, _ := downsample.Reads(reads, alns, 20, 1, 1)
	r2, _ := downsample.Reads(reads, alns, 20, 1, 2)
	require.NotEqual(t, r1, r2)
}

func TestReadsAndAlignmentsStayPaired(t *testing.T) {
	reads, alns := makeReads(50)
	gotReads, gotAlns := downsample.Reads(reads, alns, 10, 1, 7)
	require.Len(t, gotAlns, len(gotReads))
	for i, r := range gotReads {
		idx := int([]rune(r.Name)[0] - 'a')
		require.Same(t, alns[idx], gotAlns[i])
	}
}

func TestDepthAccountsForAlignedRefLen(t *testing.T) {
	// 10 reads each spanning only 1 of a 10-base chunk: d = 10/10 = 1,
	// well under a target of 5, so no downsampling should occur even
	// though len(reads) (10) alone would exceed the target.
	reads, alns := makeReads(10)
	gotReads, gotAlns := downsample.Reads(reads, alns, 5, 10, 1)
	require.Equal(t, reads, gotReads)
	require.Equal(t, alns, gotAlns)
}
