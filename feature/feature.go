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

// Package feature implements the optional feature-dump side channel
// (spec.md §9's tagged FeatureMode variant): per-chunk tensors describing
// the POA graph(s), written as .npy for an external ML post-processor.
package feature

import (
	"fmt"
	"os"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/genopolish/poa"
	"github.com/kshedden/gonpy"
)

// Mode is the feature-dump mode. DiploidRleWeight is kept as its own
// variant (not aliased to ChannelRleWeight) per spec.md §9's noted
// defect in the source this spec distills from.
type Mode int

const (
	ModeNone Mode = iota
	ModeSimpleWeight
	ModeSplitRleWeight
	ModeChannelRleWeight
	ModeDiploidRleWeight
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeSimpleWeight:
		return "simpleWeight"
	case ModeSplitRleWeight:
		return "splitRleWeight"
	case ModeChannelRleWeight:
		return "channelRleWeight"
	case ModeDiploidRleWeight:
		return "diploidRleWeight"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses a params document's featureMode string. An empty
// string means ModeNone.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "none":
		return ModeNone, nil
	case "simpleWeight":
		return ModeSimpleWeight, nil
	case "splitRleWeight":
		return ModeSplitRleWeight, nil
	case "channelRleWeight":
		return ModeChannelRleWeight, nil
	case "diploidRleWeight":
		return ModeDiploidRleWeight, nil
	default:
		return ModeNone, errors.E(fmt.Sprintf("feature: unknown featureMode %q", s))
	}
}

var bases = [4]byte{'A', 'C', 'G', 'T'}

// Tensor is a dense row-major float64 array with an explicit shape, the
// gonpy-writable form every emitter produces.
type Tensor struct {
	Shape []int
	Data  []float64
}

func voteWeight(n *poa.Node) float64 {
	var w float64
	for _, v := range n.Votes {
		w += v
	}
	return w
}

func outgoingWeight(g *poa.Graph, id int64) float64 {
	var w float64
	it := g.From(id)
	for it.Next() {
		w += g.WeightedEdge(id, it.Node().ID()).Weight()
	}
	return w
}

// EmitSimpleWeight produces one scalar per backbone column: its total
// observed vote weight.
func EmitSimpleWeight(g *poa.Graph) Tensor {
	data := make([]float64, len(g.Backbone))
	for i, id := range g.Backbone {
		data[i] = voteWeight(g.NodeByID(id))
	}
	return Tensor{Shape: []int{len(g.Backbone)}, Data: data}
}

// EmitSplitRleWeight produces two channels per column: base-vote weight
// and non-reference (insertion/deletion/edge) outgoing weight, kept as
// separate columns rather than merged into one scalar.
func EmitSplitRleWeight(g *poa.Graph) Tensor {
	n := len(g.Backbone)
	data := make([]float64, n*2)
	for i, id := range g.Backbone {
		node := g.NodeByID(id)
		data[i*2] = voteWeight(node)
		data[i*2+1] = outgoingWeight(g, id) - voteWeight(node)
	}
	return Tensor{Shape: []int{n, 2}, Data: data}
}

// EmitChannelRleWeight produces one channel per base plus a trailing
// total-outgoing-weight channel, so the four nucleotide vote weights sit
// in their own array depth rather than merged into a scalar or split
// into two generic columns.
func EmitChannelRleWeight(g *poa.Graph) Tensor {
	n := len(g.Backbone)
	channels := len(bases) + 1
	data := make([]float64, n*channels)
	for i, id := range g.Backbone {
		node := g.NodeByID(id)
		for c, b := range bases {
			data[i*channels+c] = node.Votes[b]
		}
		data[i*channels+len(bases)] = outgoingWeight(g, id)
	}
	return Tensor{Shape: []int{n, channels}, Data: data}
}

// EmitDiploidRleWeight stacks each haplotype's EmitChannelRleWeight
// tensor along a leading haplotype axis. It is a distinct tensor shape
// from EmitChannelRleWeight's (spec.md §9 flags the source's collapse of
// this case into the single-haplotype variant as a defect).
func EmitDiploidRleWeight(g1, g2 *poa.Graph) Tensor {
	t1, t2 := EmitChannelRleWeight(g1), EmitChannelRleWeight(g2)
	data := make([]float64, 0, len(t1.Data)+len(t2.Data))
	data = append(data, t1.Data...)
	data = append(data, t2.Data...)
	return Tensor{Shape: append([]int{2}, t1.Shape...), Data: data}
}

// Emit runs the emitter matching mode. g2 is required (non-nil) only for
// ModeDiploidRleWeight.
func Emit(mode Mode, g1, g2 *poa.Graph) (Tensor, error) {
	switch mode {
	case ModeNone:
		return Tensor{}, nil
	case ModeSimpleWeight:
		return EmitSimpleWeight(g1), nil
	case ModeSplitRleWeight:
		return EmitSplitRleWeight(g1), nil
	case ModeChannelRleWeight:
		return EmitChannelRleWeight(g1), nil
	case ModeDiploidRleWeight:
		if g2 == nil {
			return Tensor{}, errors.E("feature: diploidRleWeight requires a second haplotype graph")
		}
		return EmitDiploidRleWeight(g1, g2), nil
	default:
		return Tensor{}, errors.E(fmt.Sprintf("feature: unhandled mode %v", mode))
	}
}

// Dump writes a tensor to path as a .npy float64 array.
func Dump(path string, t Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.E(err, "feature: creating tensor dump", path)
	}
	defer f.Close()

	w, err := gonpy.NewWriter(f)
	if err != nil {
		return errors.E(err, "feature: creating npy writer", path)
	}
	w.Shape = t.Shape
	if err := w.WriteFloat64(t.Data); err != nil {
		return errors.E(err, "feature: writing tensor", path)
	}
	return nil
}
