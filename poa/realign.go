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

package poa

// Realign merges insertion columns that different reads created for what
// is really the same inserted base: two insertion nodes with identical
// Base that share a predecessor and a successor column are coalesced into
// one, summing their edge weights. It iterates until no further merge is
// found or maxIterations is reached (spec §4.4's realignment pass, bounded
// by an iteration cap from parameters), and returns the number of merges
// performed.
func (g *Graph) Realign(maxIterations int) int {
	merged := 0
	for iter := 0; iter < maxIterations; iter++ {
		if !g.mergeOnePair() {
			break
		}
		merged++
	}
	return merged
}

func (g *Graph) mergeOnePair() bool {
	var insertionIDs []int64
	nodes := g.Nodes()
	for nodes.Next() {
		n := nodes.Node().(*Node)
		if n.RefRun < 0 && n.id != g.Start && n.id != g.End {
			insertionIDs = append(insertionIDs, n.id)
		}
	}
	for i := 0; i < len(insertionIDs); i++ {
		for j := i + 1; j < len(insertionIDs); j++ {
			a, b := insertionIDs[i], insertionIDs[j]
			if g.nodeAt(a).Base != g.nodeAt(b).Base {
				continue
			}
			if g.sharePredecessor(a, b) && g.shareSuccessor(a, b) {
				g.mergeInto(a, b)
				return true
			}
		}
	}
	return false
}

func (g *Graph) predecessorSet(id int64) map[int64]bool {
	set := map[int64]bool{}
	to := g.To(id)
	for to.Next() {
		set[to.Node().ID()] = true
	}
	return set
}

func (g *Graph) successorSet(id int64) map[int64]bool {
	set := map[int64]bool{}
	from := g.From(id)
	for from.Next() {
		set[from.Node().ID()] = true
	}
	return set
}

func (g *Graph) sharePredecessor(a, b int64) bool {
	pa := g.predecessorSet(a)
	for id := range g.predecessorSet(b) {
		if pa[id] {
			return true
		}
	}
	return false
}

func (g *Graph) shareSuccessor(a, b int64) bool {
	sa := g.successorSet(a)
	for id := range g.successorSet(b) {
		if sa[id] {
			return true
		}
	}
	return false
}

// mergeInto redirects every edge touching b onto a, summing weights where
// both already have an edge to/from the same neighbor, then removes b.
func (g *Graph) mergeInto(a, b int64) {
	for id := range g.predecessorSet(b) {
		w := g.WeightedEdge(id, b).Weight()
		g.bump(id, a, w)
	}
	for id := range g.successorSet(b) {
		w := g.WeightedEdge(b, id).Weight()
		g.bump(a, id, w)
	}
	g.RemoveNode(b)
}
