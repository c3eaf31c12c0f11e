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

// Package pipeline orchestrates one polishing run: chunk -> load ->
// downsample -> POA -> RLE re-estimation -> (diploid: bubble graph ->
// phase -> per-haplotype POA/RLE) -> stitch, per contig (spec.md §2).
package pipeline

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/genopolish/align"
	"github.com/grailbio/genopolish/bubble"
	"github.com/grailbio/genopolish/chunk"
	"github.com/grailbio/genopolish/downsample"
	"github.com/grailbio/genopolish/feature"
	"github.com/grailbio/genopolish/params"
	"github.com/grailbio/genopolish/phase"
	"github.com/grailbio/genopolish/poa"
	"github.com/grailbio/genopolish/refmap"
	"github.com/grailbio/genopolish/rlemodel"
	"github.com/grailbio/genopolish/schedule"
	"github.com/grailbio/genopolish/stitch"
)

// Result is one contig's finished, stitched output.
type Result struct {
	Contig  string
	Haploid []byte // set in haploid mode
	H1, H2  []byte // set in diploid mode
}

// Options configures one run beyond what's already in the parameter
// document: CLI-level overrides (spec.md §6's "override-depth",
// "diploid toggle", "region").
type Options struct {
	Region        *chunk.Region
	Diploid       bool
	OverrideDepth int
}

type chunkOutput struct {
	haploid     []byte
	dip         stitch.DiploidChunk
	tensor      feature.Tensor
	loadedReads int // reads this chunk's loader materialised, pre-downsample
}

// Run executes the full pipeline over every chunk, dispatched through the
// scheduler (§4.9), then stitches each contig's chunk outputs (§4.8).
func Run(idx align.Index, ref *refmap.Map, doc *params.Doc, opts Options) ([]Result, error) {
	contigs := contigList(ref)
	chunker, err := chunk.New(contigs, opts.Region, chunk.Pos(doc.ChunkSize), chunk.Pos(doc.ChunkBoundary))
	if err != nil {
		return nil, err
	}

	depth := doc.MaxDepth
	if opts.OverrideDepth > 0 {
		depth = opts.OverrideDepth
	}

	mode := doc.Mode()
	matrix := matrixFromDoc(doc)

	results, err := schedule.Run(chunker.Len(), schedule.Params{
		Workers:       doc.Workers,
		ShuffleChunks: doc.ShuffleChunks,
	}, func(i int) (interface{}, error) {
		return processChunk(idx, ref, chunker.At(i), doc, matrix, opts.Diploid, depth, mode)
	}, func(done, total int) {
		log.Printf("pipeline: %d/%d chunks complete", done, total)
	})
	if err != nil {
		return nil, errors.E(err, "pipeline: chunk processing failed")
	}

	var totalLoadedReads int
	for _, r := range results {
		if co, ok := r.(*chunkOutput); ok {
			totalLoadedReads += co.loadedReads
		}
	}
	if totalLoadedReads == 0 {
		return nil, errors.E("pipeline: EmptyCoverage: no valid reads")
	}

	if mode != feature.ModeNone {
		if err := dumpFeatures(results, doc.FeatureOutputBase); err != nil {
			return nil, err
		}
	}

	overlap := int(doc.ChunkBoundary) * 2
	var out []Result
	for _, c := range contigs {
		chunks := chunker.ForContig(c.Name)
		if len(chunks) == 0 {
			continue
		}
		if opts.Diploid {
			dipChunks := make([]stitch.DiploidChunk, len(chunks))
			for i, ch := range chunks {
				dipChunks[i] = results[ch.Index].(*chunkOutput).dip
			}
			h1, h2 := stitch.StitchDiploid(dipChunks, overlap, stitch.Params{})
			out = append(out, Result{Contig: c.Name, H1: h1, H2: h2})
		} else {
			seqs := make([][]byte, len(chunks))
			for i, ch := range chunks {
				seqs[i] = results[ch.Index].(*chunkOutput).haploid
			}
			out = append(out, Result{Contig: c.Name, Haploid: stitch.Stitch(seqs, overlap, stitch.Params{})})
		}
	}
	return out, nil
}

func contigList(ref *refmap.Map) []chunk.ContigLen {
	names := ref.Names()
	out := make([]chunk.ContigLen, len(names))
	for i, name := range names {
		l, _ := ref.Len(name)
		out[i] = chunk.ContigLen{Name: name, Len: chunk.Pos(l)}
	}
	return out
}

func matrixFromDoc(doc *params.Doc) *rlemodel.Matrix {
	maxRun := doc.RLEMatrix.MaxRun
	if maxRun <= 0 {
		maxRun = 8
	}
	return &rlemodel.Matrix{
		MaxRun: maxRun,
		P:      doc.RLEMatrix.ByteKeyedP(),
		Prior:  doc.RLEMatrix.ByteKeyedPrior(),
	}
}

func processChunk(idx align.Index, ref *refmap.Map, c chunk.Chunk, doc *params.Doc, matrix *rlemodel.Matrix, diploid bool, depth int, mode feature.Mode) (*chunkOutput, error) {
	refSub, err := ref.Sub(c.Contig, int(c.BoundaryStart), int(c.BoundaryEnd))
	if err != nil {
		return nil, errors.E(err, "pipeline: reference lookup", c.Contig)
	}
	refBytes := []byte(refSub)

	reads, alignments, err := align.Load(idx, c, refBytes, align.LoadOpts{
		UseRLE:               doc.UseRunLengthEncoding,
		RequireBoundaryMatch: doc.RequireBoundaryMatch,
	})
	if err != nil {
		return nil, errors.E(err, "pipeline: loading chunk", c.Contig, fmt.Sprintf("chunk=%d", c.Index))
	}
	loadedReads := len(reads)
	reads, alignments = downsample.Reads(reads, alignments, depth, int(c.InnerLen()), int64(c.Index))

	// In RLE mode align.Load expresses every Op.RefOffset as a run index
	// into CompressRLE(refBytes), so the POA backbone must be built from
	// those run bases, not from the raw reference bytes.
	var refRLE align.RLESeq
	backbone := refBytes
	if doc.UseRunLengthEncoding {
		refRLE = align.CompressRLE(refBytes)
		backbone = refRLE.Bases
	}

	if !diploid {
		g := poa.Build(backbone, reads, alignments)
		g.Realign(doc.POA.RealignMaxIterations)
		if err := g.Validate(); err != nil {
			return nil, errors.E(err, "pipeline: chunk produced a cyclic graph", c.Contig, fmt.Sprintf("chunk=%d", c.Index))
		}
		consensus := polish(g, refRLE, matrix, reads, alignments, doc.UseRunLengthEncoding)
		out := &chunkOutput{haploid: consensus, loadedReads: loadedReads}
		if mode != feature.ModeNone && mode != feature.ModeDiploidRleWeight {
			t, emitErr := feature.Emit(mode, g, nil)
			if emitErr != nil {
				return nil, emitErr
			}
			out.tensor = t
		}
		return out, nil
	}

	g := poa.Build(backbone, reads, alignments)
	g.Realign(doc.POA.RealignMaxIterations)
	if err := g.Validate(); err != nil {
		return nil, errors.E(err, "pipeline: chunk produced a cyclic graph", c.Contig, fmt.Sprintf("chunk=%d", c.Index))
	}
	bg := bubble.Extract(g, backbone, reads, alignments, doc.Phaser.MinAlleleSupport, doc.UseReadAllelesInPhasing)
	frag, assign := phase.Phase(bg, reads, alignments, phase.Params{
		ReadErrorRate:       doc.Phaser.ReadErrorRate,
		MaxIterations:       doc.Phaser.MaxIterations,
		ConfidenceThreshold: doc.Phaser.ConfidenceThreshold,
	})
	_ = frag // the per-bubble genotype choice is implicit in how reads/alignments are split below

	hap1Reads, hap1Aln := subset(reads, alignments, append(assign.Hap1, assign.Unphased...))
	hap2Reads, hap2Aln := subset(reads, alignments, append(assign.Hap2, assign.Unphased...))

	g1 := poa.Build(backbone, hap1Reads, hap1Aln)
	g1.Realign(doc.POA.RealignMaxIterations)
	g2 := poa.Build(backbone, hap2Reads, hap2Aln)
	g2.Realign(doc.POA.RealignMaxIterations)

	c1 := polish(g1, refRLE, matrix, hap1Reads, hap1Aln, doc.UseRunLengthEncoding)
	c2 := polish(g2, refRLE, matrix, hap2Reads, hap2Aln, doc.UseRunLengthEncoding)

	out := &chunkOutput{
		dip: stitch.DiploidChunk{
			H1:      c1,
			H2:      c2,
			H1Reads: readNameSet(reads, append(assign.Hap1, assign.Unphased...)),
			H2Reads: readNameSet(reads, append(assign.Hap2, assign.Unphased...)),
		},
		loadedReads: loadedReads,
	}
	if mode == feature.ModeDiploidRleWeight {
		t, emitErr := feature.Emit(mode, g1, g2)
		if emitErr != nil {
			return nil, emitErr
		}
		out.tensor = t
	}
	return out, nil
}

// polish runs the consensus traversal and, when RLE is enabled, the
// Bayesian run-length re-estimation (§4.5) over it, returning expanded
// (raw ASCII) bases either way.
func polish(g *poa.Graph, refRLE align.RLESeq, matrix *rlemodel.Matrix, reads []*align.Read, alignments []*align.Alignment, useRLE bool) []byte {
	path := g.ConsensusPath()
	if !useRLE {
		out := make([]byte, len(path))
		for i, id := range path {
			out[i] = g.NodeByID(id).Base
		}
		return out
	}

	bases := make([]byte, len(path))
	runs := make([]int, len(path))
	for i, id := range path {
		n := g.NodeByID(id)
		bases[i] = n.Base
		if n.RefRun >= 0 && n.RefRun < len(refRLE.Runs) {
			runs[i] = refRLE.Runs[n.RefRun]
		} else {
			runs[i] = 1 // inserted column: no reference run length to inherit
		}
	}
	starts := make([]int, len(runs)+1)
	for i, n := range runs {
		starts[i+1] = starts[i] + n
	}
	consensusRLE := align.RLESeq{Bases: bases, Runs: runs, Starts: starts}
	reestimated := matrix.ReestimateConsensus(consensusRLE, reads, alignments)
	return reestimated.Expand()
}

func subset(reads []*align.Read, alignments []*align.Alignment, idxs []int) ([]*align.Read, []*align.Alignment) {
	rs := make([]*align.Read, 0, len(idxs))
	as := make([]*align.Alignment, 0, len(idxs))
	for _, i := range idxs {
		if i < 0 || i >= len(reads) {
			continue
		}
		rs = append(rs, reads[i])
		as = append(as, alignments[i])
	}
	return rs, as
}

func readNameSet(reads []*align.Read, idxs []int) map[string]bool {
	out := make(map[string]bool, len(idxs))
	for _, i := range idxs {
		if i >= 0 && i < len(reads) {
			out[reads[i].Name] = true
		}
	}
	return out
}

func dumpFeatures(results []interface{}, outputBase string) error {
	for i, r := range results {
		co, ok := r.(*chunkOutput)
		if !ok || co.tensor.Shape == nil {
			continue
		}
		path := fmt.Sprintf("%s.chunk%d.npy", outputBase, i)
		if err := feature.Dump(path, co.tensor); err != nil {
			return err
		}
	}
	return nil
}
