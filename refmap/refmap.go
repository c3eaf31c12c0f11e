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

// Package refmap holds the in-memory reference-contig map that the polishing
// pipeline reads alignments against.
//
// A draft assembly is small enough (compared to a BAM/PAM alignment store)
// that the whole FASTA is kept resident for the duration of a run; this
// mirrors the teacher's eager, in-memory fasta.New, trading streaming for
// simplicity.
package refmap

import (
	"bufio"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/klauspost/compress/gzip"
	pkgerrors "github.com/pkg/errors"
)

const bufferInitSize = 300 * 1024 * 1024

// Map is a canonicalised contig name -> sequence mapping. Keys are unique:
// FASTA headers are tokenised at the first whitespace character before
// insertion, so ">chr1 some metadata" and a later ">chr1" record collide
// deliberately (last one wins) rather than leaking two distinct keys as the
// naive "store under the raw header line" approach does.
type Map struct {
	seqs  map[string]string
	order []string
}

// New parses r as FASTA (optionally gzip-compressed, detected by magic
// bytes) and returns the resulting Map.
func New(r io.Reader) (*Map, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err == nil && len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, gzErr := gzip.NewReader(br)
		if gzErr != nil {
			return nil, errors.E(gzErr, "refmap.New: gzip header")
		}
		return parse(gz)
	}
	return parse(br)
}

func parse(r io.Reader) (*Map, error) {
	m := &Map{seqs: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, bufferInitSize)

	var curName string
	var curSeq strings.Builder
	haveSeq := false

	flush := func() error {
		if !haveSeq {
			return nil
		}
		if curName == "" {
			return errors.E("refmap.New: sequence data with no preceding '>' header")
		}
		if _, dup := m.seqs[curName]; !dup {
			m.order = append(m.order, curName)
		}
		m.seqs[curName] = curSeq.String()
		curSeq.Reset()
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if err := flush(); err != nil {
				return nil, err
			}
			curName = canonicalise(line[1:])
			haveSeq = true
			continue
		}
		if !haveSeq {
			return nil, errors.E("refmap.New: sequence data with no preceding '>' header")
		}
		curSeq.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "refmap: couldn't read FASTA data")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return m, nil
}

// canonicalise extracts the accession token of a FASTA header: the run of
// non-whitespace characters immediately following '>'. Headers commonly
// carry free-text description after the accession; that text is discarded
// before the name is ever used as a map key.
func canonicalise(header string) string {
	fields := strings.Fields(header)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Get returns the full sequence for a contig name.
func (m *Map) Get(name string) (string, bool) {
	s, ok := m.seqs[name]
	return s, ok
}

// Sub returns the half-open substring [start, end) of the named contig.
func (m *Map) Sub(name string, start, end int) (string, error) {
	s, ok := m.seqs[name]
	if !ok {
		return "", errors.E("refmap.Sub: unknown contig", name)
	}
	if start < 0 || end > len(s) || start > end {
		return "", errors.E("refmap.Sub: invalid range", name)
	}
	return s[start:end], nil
}

// Len returns the length of the named contig.
func (m *Map) Len(name string) (int, bool) {
	s, ok := m.seqs[name]
	if !ok {
		return 0, false
	}
	return len(s), true
}

// Names returns contig names in first-seen order.
func (m *Map) Names() []string {
	return m.order
}
