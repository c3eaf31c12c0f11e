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

// Package downsample implements the per-chunk coverage cap described in
// spec §4.3: when a chunk's read depth exceeds the configured target, reads
// are retained independently at random so that the expected depth matches
// the target, the same way encoding/fastq.Downsample subsamples read pairs.
package downsample

import (
	"math/rand"

	"github.com/grailbio/genopolish/align"
)

// Reads estimates current depth as d = Σ alignedRefLen / chunkLen (spec
// §4.3) and, if d exceeds targetDepth, retains each read independently
// with probability targetDepth/d (a no-op when already at or under
// target). seed makes the selection reproducible; callers seed by chunk
// index so that re-running a pipeline over the same input reproduces the
// same downsampled read set.
func Reads(reads []*align.Read, alignments []*align.Alignment, targetDepth int, chunkLen int, seed int64) ([]*align.Read, []*align.Alignment) {
	if targetDepth <= 0 || chunkLen <= 0 {
		return reads, alignments
	}
	var totalRefSpan int
	for _, a := range alignments {
		totalRefSpan += a.RefSpan()
	}
	d := float64(totalRefSpan) / float64(chunkLen)
	if d <= float64(targetDepth) {
		return reads, alignments
	}
	rate := float64(targetDepth) / d
	random := rand.New(rand.NewSource(seed))

	outReads := make([]*align.Read, 0, targetDepth)
	outAlignments := make([]*align.Alignment, 0, targetDepth)
	for i := range reads {
		if random.Float64() < rate {
			outReads = append(outReads, reads[i])
			outAlignments = append(outAlignments, alignments[i])
		}
	}
	return outReads, outAlignments
}
