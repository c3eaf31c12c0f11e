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

package chunk_test

import (
	"testing"

	"github.com/grailbio/genopolish/chunk"
	"github.com/stretchr/testify/require"
)

func TestTilesExactly(t *testing.T) {
	c, err := chunk.New([]chunk.ContigLen{{Name: "ctg1", Len: 2000}}, nil, 1000, 100)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	var prevInnerEnd chunk.Pos
	for i := 0; i < c.Len(); i++ {
		ch := c.At(i)
		require.LessOrEqual(t, ch.BoundaryStart, ch.InnerStart)
		require.LessOrEqual(t, ch.InnerStart, ch.InnerEnd)
		require.LessOrEqual(t, ch.InnerEnd, ch.BoundaryEnd)
		if i == 0 {
			require.Equal(t, ch.BoundaryStart, ch.InnerStart)
		} else {
			require.Equal(t, prevInnerEnd, ch.InnerStart)
			require.LessOrEqual(t, ch.BoundaryStart, prevInnerEnd)
		}
		if i == c.Len()-1 {
			require.Equal(t, ch.BoundaryEnd, ch.InnerEnd)
		}
		prevInnerEnd = ch.InnerEnd
	}
	require.Equal(t, chunk.Pos(2000), prevInnerEnd)
}

func TestEmptyCoverageIsFatal(t *testing.T) {
	_, err := chunk.New(nil, nil, 1000, 100)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no valid reads")
}

func TestRegionRestriction(t *testing.T) {
	contigs := []chunk.ContigLen{{Name: "ctg1", Len: 5000}, {Name: "ctg2", Len: 5000}}
	c, err := chunk.New(contigs, &chunk.Region{Contig: "ctg2", Start: 100, End: 2100}, 1000, 50)
	require.NoError(t, err)
	for i := 0; i < c.Len(); i++ {
		require.Equal(t, "ctg2", c.At(i).Contig)
	}
}

func TestMissingRegionContigIsFatal(t *testing.T) {
	contigs := []chunk.ContigLen{{Name: "ctg1", Len: 5000}}
	_, err := chunk.New(contigs, &chunk.Region{Contig: "nope", Start: 0, End: 100}, 1000, 50)
	require.Error(t, err)
}

func TestParseRegionBareContig(t *testing.T) {
	r, err := chunk.ParseRegion("chr1")
	require.NoError(t, err)
	require.Equal(t, &chunk.Region{Contig: "chr1"}, r)
}

func TestParseRegionSinglePosition(t *testing.T) {
	r, err := chunk.ParseRegion("chr1:100")
	require.NoError(t, err)
	require.Equal(t, &chunk.Region{Contig: "chr1", Start: 99, End: 100}, r)
}

func TestParseRegionRange(t *testing.T) {
	r, err := chunk.ParseRegion("chr1:100-200")
	require.NoError(t, err)
	require.Equal(t, &chunk.Region{Contig: "chr1", Start: 99, End: 200}, r)
}

func TestParseRegionRejectsEmptyString(t *testing.T) {
	_, err := chunk.ParseRegion("")
	require.Error(t, err)
}

func TestParseRegionRejectsEmptyContig(t *testing.T) {
	_, err := chunk.ParseRegion(":100-200")
	require.Error(t, err)
}

func TestParseRegionRejectsZeroPosition(t *testing.T) {
	_, err := chunk.ParseRegion("chr1:0")
	require.Error(t, err)
}

func TestParseRegionRejectsBackwardsRange(t *testing.T) {
	_, err := chunk.ParseRegion("chr1:200-100")
	require.Error(t, err)
}

func TestParseRegionRejectsNonNumericPosition(t *testing.T) {
	_, err := chunk.ParseRegion("chr1:abc")
	require.Error(t, err)
}
