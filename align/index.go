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

package align

import (
	"os"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// Region is a half-open, 0-based genomic interval query.
type Region struct {
	Contig     string
	Start, End int
}

// Index is the contract a backend must satisfy to supply "indexed
// alignment file" access (spec §6): random access by contig range, plus
// iteration yielding CIGAR/sequence/quality/strand/reference-start/read-name
// records. Thread-safe: the scheduler opens one Iterator per chunk, possibly
// concurrently, against a single Index.
type Index interface {
	Header() (*sam.Header, error)
	NewIterator(r Region) Iterator
	Close() error
}

// Iterator iterates over records intersecting one Region, in coordinate
// order.
type Iterator interface {
	Scan() bool
	Record() *sam.Record
	Err() error
	Close() error
}

// ErrNotIndexed is returned by OpenIndex when no index file accompanies the
// alignment file, per §7's InputUnavailable taxonomy.
var ErrNotIndexed = errors.E("alignment file is not indexed")

// Backend constructs a real Index from a path and an explicit index path.
// The core package ships no concrete file-backed backend: parsing indexed
// BAM/CRAM is the out-of-scope "indexed alignment reader" collaborator
// (spec §1). Callers (typically cmd/genopolish) register a Backend that
// wraps their production reader; tests and small inputs use NewMemIndex
// directly instead.
type Backend func(path, indexPath string) (Index, error)

// OpenIndex resolves indexPath (defaulting to path+".bai" like the
// teacher's bamprovider.ProviderOpts.Index) and hands off to backend. It
// fails fast, before any chunk work is scheduled, if the alignment file or
// its index is missing.
func OpenIndex(backend Backend, path, indexPath string) (Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.E(err, "align.OpenIndex: alignment file unavailable", path)
	}
	if indexPath == "" {
		indexPath = path + ".bai"
	}
	if _, err := os.Stat(indexPath); err != nil {
		return nil, ErrNotIndexed
	}
	if backend == nil {
		return nil, errors.E("align.OpenIndex: no backend registered for indexed alignment reads")
	}
	return backend(path, indexPath)
}

// MemIndex is an in-memory Index over a fixed record set, grounded on the
// teacher's bamprovider.fakeProvider. It is the reference backend used by
// tests and by callers small enough to hold every record in memory.
type MemIndex struct {
	header *sam.Header
	recs   []*sam.Record
}

// NewMemIndex returns an Index that serves recs (assumed sorted by
// reference position) directly from memory.
func NewMemIndex(header *sam.Header, recs []*sam.Record) *MemIndex {
	return &MemIndex{header: header, recs: recs}
}

func (m *MemIndex) Header() (*sam.Header, error) { return m.header, nil }
func (m *MemIndex) Close() error                 { return nil }

func (m *MemIndex) NewIterator(r Region) Iterator {
	return &memIterator{recs: m.recs, region: r, idx: -1}
}

type memIterator struct {
	recs   []*sam.Record
	region Region
	idx    int
	cur    *sam.Record
}

func (it *memIterator) Scan() bool {
	for {
		it.idx++
		if it.idx >= len(it.recs) {
			return false
		}
		r := it.recs[it.idx]
		if r.Ref == nil || r.Ref.Name() != it.region.Contig {
			continue
		}
		span, _ := r.Cigar.Lengths()
		end := r.Pos + span
		if end <= it.region.Start || r.Pos >= it.region.End {
			continue
		}
		it.cur = r
		return true
	}
}

func (it *memIterator) Record() *sam.Record { return it.cur }
func (it *memIterator) Err() error          { return nil }
func (it *memIterator) Close() error        { return nil }
