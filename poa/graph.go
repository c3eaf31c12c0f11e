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

// Package poa builds and consensuses a partial-order alignment graph: the
// per-chunk structure that folds every read's alignment onto a shared
// backbone of reference-run columns, recording how much read support each
// column and each inserted column carries (spec §4.4).
//
// The arena is an integer-indexed gonum/graph, the same pattern
// cmd/cmpint's discordance graph and cmd/press's threshold graph use: IDs
// come from the underlying simple.WeightedDirectedGraph, and Node/edge
// values implementing encoding.Attributer/dot.Node are stored directly so
// Dot can hand the graph straight to gonum's DOT encoder.
package poa

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/genopolish/align"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Node is one column of the graph: a backbone position anchored to a
// reference run (RefRun >= 0) or an inserted column with no reference
// anchor (RefRun == -1, including the Start/End sentinels).
type Node struct {
	id     int64
	Base   byte
	RefRun int
	// Votes is the per-base weighted observation histogram this column's
	// Base was chosen from (nil for insertion/sentinel columns). Bubble
	// extraction (§4.6) reads this to detect divergence.
	Votes map[byte]float64
}

func (n *Node) ID() int64 { return n.id }

// DOTID labels nodes for Graph.Dot.
func (n *Node) DOTID() string {
	c := n.Base
	if c == 0 {
		c = '-'
	}
	if n.RefRun < 0 {
		return fmt.Sprintf("n%d_ins_%c", n.id, c)
	}
	return fmt.Sprintf("n%d_ref%d_%c", n.id, n.RefRun, c)
}

// edge is a weighted POA transition: the summed alignment weight of every
// read observed taking this path between two columns.
type edge struct {
	f, t graph.Node
	w    float64
}

func (e edge) From() graph.Node         { return e.f }
func (e edge) To() graph.Node           { return e.t }
func (e edge) ReversedEdge() graph.Edge { return edge{f: e.t, t: e.f, w: e.w} }
func (e edge) Weight() float64          { return e.w }
func (e edge) Attributes() []encoding.Attribute {
	return []encoding.Attribute{{Key: "weight", Value: fmt.Sprintf("%.2f", e.w)}}
}

// Graph is an arena-indexed POA graph.
type Graph struct {
	*simple.WeightedDirectedGraph
	Start, End int64
	// Backbone holds the node ID anchored to each reference run, in
	// reference order; len(Backbone) == len(refBases) passed to Build.
	Backbone []int64
}

// New returns an empty graph with sentinel Start/End nodes.
func New() *Graph {
	g := &Graph{WeightedDirectedGraph: simple.NewWeightedDirectedGraph(0, 0)}
	g.Start = g.addNode(0, -1)
	g.End = g.addNode(0, -1)
	return g
}

func (g *Graph) addNode(base byte, refRun int) int64 {
	id := g.WeightedDirectedGraph.NewNode().ID()
	n := &Node{id: id, Base: base, RefRun: refRun}
	g.AddNode(n)
	return id
}

func (g *Graph) nodeAt(id int64) *Node {
	return g.Node(id).(*Node)
}

// NodeByID exposes the concrete Node for id, for callers (bubble
// extraction, feature dumps) that need its Votes/RefRun outside this
// package.
func (g *Graph) NodeByID(id int64) *Node {
	return g.nodeAt(id)
}

func (g *Graph) bump(from, to int64, weight float64) {
	w := weight
	if g.HasEdgeFromTo(from, to) {
		w += g.WeightedEdge(from, to).Weight()
	}
	g.SetWeightedEdge(edge{f: g.Node(from), t: g.Node(to), w: w})
}

// Build threads every read's Alignment onto a backbone of len(refBases)
// reference-run columns. Each column's Base is majority-voted from
// aligned reads, falling back to refBases when a column carries no
// coverage at all. Insertions grow new off-backbone columns; deletions
// simply skip a backbone column without emitting an edge into it.
func Build(refBases []byte, reads []*align.Read, alignments []*align.Alignment) *Graph {
	refLen := len(refBases)
	g := New()

	backbone := make([]int64, refLen)
	for i := 0; i < refLen; i++ {
		backbone[i] = g.addNode(refBases[i], i)
	}
	prev := g.Start
	for i := 0; i < refLen; i++ {
		g.bump(prev, backbone[i], 0)
		prev = backbone[i]
	}
	g.bump(prev, g.End, 0)

	votes := make([]map[byte]float64, refLen)
	for i := range votes {
		votes[i] = map[byte]float64{}
	}

	for ri, rd := range reads {
		if ri >= len(alignments) {
			break
		}
		aln := alignments[ri]
		prevNode := g.Start
		for _, op := range aln.Ops {
			switch op.Type {
			case align.OpMatch:
				for k := 0; k < op.RefLen; k++ {
					refIdx := op.RefOffset + k
					if refIdx < 0 || refIdx >= refLen {
						continue
					}
					base := baseAt(rd, op, k)
					votes[refIdx][base] += aln.Weight
					g.bump(prevNode, backbone[refIdx], aln.Weight)
					prevNode = backbone[refIdx]
				}
			case align.OpInsertion:
				for k := 0; k < op.ReadLen; k++ {
					base := baseAt(rd, op, k)
					ins := g.addNode(base, -1)
					g.bump(prevNode, ins, aln.Weight)
					prevNode = ins
				}
			case align.OpDeletion:
				// No node emitted: the read skips these backbone columns.
			}
		}
		g.bump(prevNode, g.End, aln.Weight)
	}

	for i, vs := range votes {
		n := g.nodeAt(backbone[i])
		n.Votes = vs
		if best, ok := argmaxBase(vs); ok {
			n.Base = best
		}
	}
	g.Backbone = backbone
	return g
}

func baseAt(rd *align.Read, op align.Op, k int) byte {
	if rd.RLE != nil {
		idx := op.ReadOffset
		if op.ReadLen > 1 && op.ReadOffset+k <= op.ReadOffset+op.ReadLen-1 {
			idx = op.ReadOffset + k
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

func argmaxBase(votes map[byte]float64) (byte, bool) {
	var best byte
	bestW := -1.0
	for b, w := range votes {
		if w > bestW || (w == bestW && b < best) {
			bestW = w
			best = b
		}
	}
	return best, bestW >= 0
}

// ConsensusPath greedily follows the heaviest outgoing edge at each
// column from Start to End, returning the node IDs of every column that
// survives into the consensus (sentinels and any zero-Base node excluded;
// an uncovered backbone column keeps its reference base and is included). Consensus and the RLE length model (§4.5, which needs each
// surviving column's RefRun) both build on this traversal.
//
// Weight ties are broken deterministically, since g.From iterates a
// gonum/graph/simple adjacency map in unspecified order: among
// equally-weighted successors, the backbone (reference-anchored, RefRun
// >= 0) successor wins over an inserted column per §4.4's "break ties by
// reference base" rule, and a further tie is broken by the lower node ID
// (insertion order), so the same graph always yields the same path.
func (g *Graph) ConsensusPath() []int64 {
	var out []int64
	cur := g.Start
	seen := map[int64]bool{}
	for cur != g.End {
		if seen[cur] {
			break // defensive cycle guard; Build never introduces cycles
		}
		seen[cur] = true
		it := g.From(cur)
		best, bestW := int64(-1), -1.0
		bestIsBackbone := false
		for it.Next() {
			id := it.Node().ID()
			w := g.WeightedEdge(cur, id).Weight()
			isBackbone := g.nodeAt(id).RefRun >= 0
			switch {
			case best == -1, w > bestW:
				best, bestW, bestIsBackbone = id, w, isBackbone
			case w == bestW:
				if (isBackbone && !bestIsBackbone) || (isBackbone == bestIsBackbone && id < best) {
					best, bestIsBackbone = id, isBackbone
				}
			}
		}
		if best == -1 {
			break
		}
		if best != g.End {
			if n := g.nodeAt(best); n.Base != 0 {
				out = append(out, best)
			}
		}
		cur = best
	}
	return out
}

// Consensus greedily follows the heaviest outgoing edge at each column
// from Start to End, emitting the highest-weighted base at each
// surviving column, the standard POA consensus traversal.
func (g *Graph) Consensus() []byte {
	path := g.ConsensusPath()
	out := make([]byte, len(path))
	for i, id := range path {
		out[i] = g.nodeAt(id).Base
	}
	return out
}

// Validate confirms the graph is still a DAG.
func (g *Graph) Validate() error {
	if _, err := topo.Sort(g); err != nil {
		return errors.E(err, "poa: graph is not a DAG")
	}
	return nil
}

// Dot renders the graph in DOT format (spec §6's optional graph-dump side
// channel).
func (g *Graph) Dot(name string) (string, error) {
	b, err := dot.Marshal(g, name, "", "\t")
	if err != nil {
		return "", errors.E(err, "poa: dot marshal")
	}
	return string(b), nil
}
