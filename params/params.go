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

// Package params loads the YAML parameter document that configures a
// genopolish run (spec.md §6).
package params

import (
	"os"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/genopolish/feature"
	"gopkg.in/yaml.v3"
)

// SubstitutionMatrix mirrors rlemodel.Matrix's shape in YAML-friendly
// form: P[base][i][j] = P(observed=j | true=i, base), Prior[base][i] =
// P(true=i | base).
type SubstitutionMatrix struct {
	MaxRun int                    `yaml:"maxRun"`
	P      map[string][][]float64 `yaml:"p"`
	Prior  map[string][]float64   `yaml:"prior,omitempty"`
}

// POAParams carries the POA engine's hyperparameters (spec §4.4).
type POAParams struct {
	RealignMaxIterations int `yaml:"realignMaxIterations"`
}

// PhaserParams carries the phaser's hyperparameters (spec §4.7).
type PhaserParams struct {
	PriorHetRate        float64 `yaml:"priorHetRate"`
	ReadErrorRate       float64 `yaml:"readErrorRate"`
	MaxIterations       int     `yaml:"maxIterations"`
	ConfidenceThreshold float64 `yaml:"confidenceThreshold"`
	MinAlleleSupport    float64 `yaml:"minAlleleSupport"`
}

// Doc is the full parameter document (spec.md §6, §9).
type Doc struct {
	UseRunLengthEncoding    bool   `yaml:"useRunLengthEncoding"`
	MaxDepth                int    `yaml:"maxDepth"`
	ChunkSize               int    `yaml:"chunkSize"`
	ChunkBoundary           int    `yaml:"chunkBoundary"`
	ShuffleChunks           bool   `yaml:"shuffleChunks"`
	UseReadAlleles          bool   `yaml:"useReadAlleles"`
	UseReadAllelesInPhasing bool   `yaml:"useReadAllelesInPhasing"`
	RequireBoundaryMatch    bool   `yaml:"requireBoundaryMatch"`
	Diploid                 bool   `yaml:"diploid"`
	Workers                 int    `yaml:"workers"`
	FeatureMode             string `yaml:"featureMode"`
	FeatureOutputBase       string `yaml:"featureOutputBase,omitempty"`

	RLEMatrix SubstitutionMatrix `yaml:"rleMatrix"`
	POA       POAParams          `yaml:"poa"`
	Phaser    PhaserParams       `yaml:"phaser"`
}

// Load reads and unmarshals a parameter document from path, then
// validates it.
func Load(path string) (*Doc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.E(err, "params: reading parameter document", path)
	}
	var d Doc
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, errors.E(err, "params: parsing parameter document", path)
	}
	if d.ChunkSize <= 0 {
		d.ChunkSize = 1_000_000
	}
	if d.POA.RealignMaxIterations <= 0 {
		d.POA.RealignMaxIterations = 10
	}
	if d.Phaser.MaxIterations <= 0 {
		d.Phaser.MaxIterations = 10
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks the cross-field constraints spec.md §7 calls
// ParameterInconsistent, fatal at startup.
func (d *Doc) Validate() error {
	mode, err := feature.ParseMode(d.FeatureMode)
	if err != nil {
		return errors.E(err, "params: ParameterInconsistent", "invalid featureMode")
	}
	if mode != feature.ModeNone && !d.UseRunLengthEncoding {
		return errors.E("params: ParameterInconsistent", "featureMode requires useRunLengthEncoding")
	}
	if mode != feature.ModeNone && d.FeatureOutputBase == "" {
		return errors.E("params: ParameterInconsistent", "featureMode requires featureOutputBase")
	}
	if d.ChunkBoundary < 0 {
		return errors.E("params: ParameterInconsistent", "chunkBoundary must be >= 0")
	}
	if d.MaxDepth < 0 {
		return errors.E("params: ParameterInconsistent", "maxDepth must be >= 0")
	}
	return nil
}

// Mode parses the document's configured feature-dump mode.
func (d *Doc) Mode() feature.Mode {
	m, _ := feature.ParseMode(d.FeatureMode)
	return m
}

// rekeyByBase re-keys a string-keyed YAML map to the
// byte-keyed form rlemodel.Matrix uses internally.
func rekeyByBase(m map[string][][]float64) map[byte][][]float64 {
	out := make(map[byte][][]float64, len(m))
	for k, v := range m {
		if len(k) != 1 {
			continue
		}
		out[k[0]] = v
	}
	return out
}

func rekeyPrior(m map[string][]float64) map[byte][]float64 {
	out := make(map[byte][]float64, len(m))
	for k, v := range m {
		if len(k) != 1 {
			continue
		}
		out[k[0]] = v
	}
	return out
}

// ByteKeyedP and ByteKeyedPrior expose the substitution matrix in the
// byte-keyed form rlemodel.Matrix expects.
func (m SubstitutionMatrix) ByteKeyedP() map[byte][][]float64   { return rekeyByBase(m.P) }
func (m SubstitutionMatrix) ByteKeyedPrior() map[byte][]float64 { return rekeyPrior(m.Prior) }
