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

package params_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/genopolish/params"
	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesMinimalDocument(t *testing.T) {
	path := writeDoc(t, `
useRunLengthEncoding: true
maxDepth: 40
chunkSize: 1000000
chunkBoundary: 100
shuffleChunks: false
useReadAlleles: true
useReadAllelesInPhasing: false
rleMatrix:
  maxRun: 8
`)
	d, err := params.Load(path)
	require.NoError(t, err)
	require.True(t, d.UseRunLengthEncoding)
	require.Equal(t, 40, d.MaxDepth)
	require.Equal(t, 1000000, d.ChunkSize)
	require.Equal(t, 100, d.ChunkBoundary)
	require.Equal(t, 8, d.RLEMatrix.MaxRun)
	require.Equal(t, 10, d.POA.RealignMaxIterations) // default fill-in
}

func TestLoadRejectsFeatureModeWithoutRLE(t *testing.T) {
	path := writeDoc(t, `
useRunLengthEncoding: false
featureMode: simpleWeight
featureOutputBase: /tmp/out
`)
	_, err := params.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsFeatureModeWithoutOutputBase(t *testing.T) {
	path := writeDoc(t, `
useRunLengthEncoding: true
featureMode: simpleWeight
`)
	_, err := params.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsNegativeChunkBoundary(t *testing.T) {
	path := writeDoc(t, `
useRunLengthEncoding: true
chunkBoundary: -5
`)
	_, err := params.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := params.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSubstitutionMatrixRekeysByBase(t *testing.T) {
	m := params.SubstitutionMatrix{
		MaxRun: 2,
		P: map[string][][]float64{
			"A": {{0, 0}, {0, 0.9}, {0, 0.1}},
		},
		Prior: map[string][]float64{
			"A": {0, 0.5, 0.5},
		},
	}
	p := m.ByteKeyedP()
	require.Equal(t, [][]float64{{0, 0}, {0, 0.9}, {0, 0.1}}, p['A'])
	require.Equal(t, []float64{0, 0.5, 0.5}, m.ByteKeyedPrior()['A'])
}
