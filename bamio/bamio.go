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

// Package bamio implements the align.Backend the core pipeline leaves as
// an out-of-scope collaborator: a concrete, file-backed, BAI-indexed BAM
// reader. It is grounded on the teacher's encoding/bamprovider.BAMProvider,
// simplified to the standard bam.Index.Chunks query (the provider's own
// bamIterator instead hand-rolls offset lookup against internal sharding
// types this module has no equivalent of).
package bamio

import (
	"io"
	"os"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/genopolish/align"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// Provider is a bam.Index-backed align.Index over one BAM file.
type Provider struct {
	path, indexPath string

	mu     sync.Mutex
	file   *os.File
	reader *bam.Reader
	index  *bam.Index
	header *sam.Header
}

// Open is an align.Backend: it satisfies align.OpenIndex's constructor
// signature so cmd/genopolish can register it directly.
func Open(path, indexPath string) (align.Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E(err, "bamio: opening BAM file", path)
	}
	reader, err := bam.NewReader(f, 1)
	if err != nil {
		f.Close()
		return nil, errors.E(err, "bamio: reading BAM header", path)
	}
	indexFile, err := os.Open(indexPath)
	if err != nil {
		f.Close()
		return nil, errors.E(err, "bamio: opening BAM index", indexPath)
	}
	defer indexFile.Close()
	index, err := bam.ReadIndex(indexFile)
	if err != nil {
		f.Close()
		return nil, errors.E(err, "bamio: parsing BAM index", indexPath)
	}
	return &Provider{path: path, indexPath: indexPath, file: f, reader: reader, index: index, header: reader.Header()}, nil
}

func (p *Provider) Header() (*sam.Header, error) { return p.header, nil }

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file.Close()
}

// NewIterator seeks to the first BAI chunk overlapping r and scans
// forward, filtering out records whose span doesn't actually intersect
// r (BAI chunks are coarse-grained and may include neighboring records).
func (p *Provider) NewIterator(r align.Region) align.Iterator {
	ref := p.refByName(r.Contig)
	if ref == nil {
		return &errIterator{err: errors.E("bamio: unknown contig", r.Contig)}
	}
	chunks, err := p.index.Chunks(ref, r.Start, r.End)
	if err != nil {
		// No region of the index covers this range: an empty, not an
		// erroring, iterator (a read-free chunk is a normal occurrence).
		return &errIterator{}
	}
	if len(chunks) == 0 {
		return &errIterator{}
	}

	// One dedicated reader per iterator: BAM readers aren't safe for
	// concurrent seeking, and the scheduler may run many chunks' loads
	// concurrently against the same Provider.
	f, err := os.Open(p.path)
	if err != nil {
		return &errIterator{err: errors.E(err, "bamio: reopening BAM file", p.path)}
	}
	reader, err := bam.NewReader(f, 1)
	if err != nil {
		f.Close()
		return &errIterator{err: errors.E(err, "bamio: reading BAM header", p.path)}
	}
	if err := reader.Seek(chunks[0].Begin); err != nil {
		f.Close()
		return &errIterator{err: errors.E(err, "bamio: seeking BAM reader", p.path)}
	}
	return &iterator{file: f, reader: reader, region: r, refID: ref.ID()}
}

func (p *Provider) refByName(name string) *sam.Reference {
	for _, ref := range p.header.Refs() {
		if ref.Name() == name {
			return ref
		}
	}
	return nil
}

type iterator struct {
	file   *os.File
	reader *bam.Reader
	region align.Region
	refID  int
	cur    *sam.Record
	err    error
}

func (it *iterator) Scan() bool {
	for {
		rec, err := it.reader.Read()
		if err == io.EOF {
			return false
		}
		if err != nil {
			it.err = errors.E(err, "bamio: reading record")
			return false
		}
		if rec.Ref == nil || rec.Ref.ID() != it.refID {
			if rec.Ref != nil && rec.Ref.ID() > it.refID {
				return false
			}
			continue
		}
		span, _ := rec.Cigar.Lengths()
		end := rec.Pos + span
		if end <= it.region.Start {
			continue
		}
		if rec.Pos >= it.region.End {
			return false
		}
		it.cur = rec
		return true
	}
}

func (it *iterator) Record() *sam.Record { return it.cur }
func (it *iterator) Err() error          { return it.err }
func (it *iterator) Close() error        { return it.file.Close() }

type errIterator struct{ err error }

func (i *errIterator) Scan() bool          { return false }
func (i *errIterator) Record() *sam.Record { return nil }
func (i *errIterator) Err() error          { return i.err }
func (i *errIterator) Close() error        { return nil }
