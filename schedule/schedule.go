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

// Package schedule dispatches per-chunk polishing work across a worker
// pool (spec §4.9) and assembles results back into chunk order.
package schedule

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
)

// Params configures dispatch.
type Params struct {
	// Workers caps concurrency; traverse.Each treats <= 0 as "no limit"
	// (one goroutine per chunk).
	Workers int
	// ShuffleChunks randomizes dispatch order. Since each chunk's result
	// is written into a pre-allocated slot by index, this only affects
	// scheduling fairness under the worker cap, never the output.
	ShuffleChunks bool
	// ShuffleSeed seeds the shuffle for reproducible test runs.
	ShuffleSeed int64
}

// Progress is invoked after each chunk completes, with the number of
// chunks finished so far.
type Progress func(done, total int)

// Run processes nChunks items by calling process(i) for each chunk
// index i, storing the results in a slice ordered by chunk index
// regardless of completion order. The first error from any worker is
// returned after all workers have finished; partial results from other
// chunks are still available in the returned slice where an index
// either errored or never wrote (its element is the zero value).
func Run(nChunks int, p Params, process func(i int) (interface{}, error), progress Progress) ([]interface{}, error) {
	results := make([]interface{}, nChunks)
	order := dispatchOrder(nChunks, p)

	var mu sync.Mutex
	var done int
	worker := func(slot int) error {
		i := order[slot]
		r, procErr := process(i)
		if procErr != nil {
			return errors.E(procErr, fmt.Sprintf("schedule: chunk %d failed", i))
		}
		results[i] = r
		if progress != nil {
			mu.Lock()
			done++
			d := done
			mu.Unlock()
			progress(d, nChunks)
		}
		return nil
	}

	var err error
	if p.Workers > 0 {
		err = traverse.T{Limit: p.Workers}.Each(len(order), worker)
	} else {
		err = traverse.Each(len(order), worker)
	}
	if err != nil {
		log.Error.Printf("schedule: worker pool returned an error: %v", err)
		return results, err
	}
	return results, nil
}

// dispatchOrder returns the chunk indices in the order workers will
// claim them, optionally shuffled.
func dispatchOrder(nChunks int, p Params) []int {
	order := make([]int, nChunks)
	for i := range order {
		order[i] = i
	}
	if p.ShuffleChunks && nChunks > 1 {
		rnd := rand.New(rand.NewSource(p.ShuffleSeed))
		rnd.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}
