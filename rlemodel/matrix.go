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

// Package rlemodel implements Bayesian re-estimation of homopolymer run
// lengths against a pre-trained substitution matrix (spec §4.5).
package rlemodel

import (
	"gonum.org/v1/gonum/stat/distuv"
)

// Matrix gives P(observedRun=j | trueRun=i, base) for runs up to MaxRun,
// plus a prior P(trueRun=i | base). It is loaded once from the parameter
// document and is immutable thereafter (spec §9: "Process-wide RLE
// matrix... load at startup into an immutable value, pass by reference to
// workers").
type Matrix struct {
	MaxRun int
	// P[base][i][j] = P(observed=j | true=i, base), 1-indexed by run
	// length (index 0 unused).
	P map[byte][][]float64
	// Prior[base][i] = P(true=i | base). A nil or missing entry is
	// treated as uniform over [1, MaxRun].
	Prior map[byte][]float64
}

// subProb returns P(j|i,base), falling back to a Poisson(i) approximation
// when either run length exceeds the table's range (runs longer than any
// training example still need a likelihood to compare against).
func (m *Matrix) subProb(base byte, i, j int) float64 {
	table, ok := m.P[base]
	if ok && i >= 1 && i < len(table) && j >= 1 && j < len(table[i]) {
		return table[i][j]
	}
	return distuv.Poisson{Lambda: float64(i)}.Prob(float64(j))
}

// prior returns P(true=i|base), defaulting to uniform over [1, MaxRun].
func (m *Matrix) prior(base byte, i int) float64 {
	if p, ok := m.Prior[base]; ok && i >= 0 && i < len(p) {
		return p[i]
	}
	return 1.0 / float64(m.MaxRun)
}
