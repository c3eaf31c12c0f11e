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

package schedule_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/grailbio/genopolish/schedule"
	"github.com/stretchr/testify/require"
)

func TestRunOrdersResultsByChunkIndex(t *testing.T) {
	results, err := schedule.Run(5, schedule.Params{}, func(i int) (interface{}, error) {
		return i * i, nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, []interface{}{0, 1, 4, 9, 16}, results)
}

func TestRunShuffledOrderDoesNotAffectOutput(t *testing.T) {
	process := func(i int) (interface{}, error) { return i * i, nil }
	base, err := schedule.Run(20, schedule.Params{}, process, nil)
	require.NoError(t, err)

	shuffled, err := schedule.Run(20, schedule.Params{ShuffleChunks: true, ShuffleSeed: 7}, process, nil)
	require.NoError(t, err)

	require.Equal(t, base, shuffled)
}

func TestRunPropagatesFirstError(t *testing.T) {
	_, err := schedule.Run(4, schedule.Params{}, func(i int) (interface{}, error) {
		if i == 2 {
			return nil, fmt.Errorf("boom")
		}
		return i, nil
	}, nil)
	require.Error(t, err)
}

func TestRunReportsProgressForEveryChunk(t *testing.T) {
	var mu sync.Mutex
	var calls int
	var lastTotal int
	progress := func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		lastTotal = total
	}

	_, err := schedule.Run(6, schedule.Params{}, func(i int) (interface{}, error) {
		return nil, nil
	}, progress)

	require.NoError(t, err)
	require.Equal(t, 6, calls)
	require.Equal(t, 6, lastTotal)
}
