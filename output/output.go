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

// Package output writes a pipeline run's per-contig results to FASTA:
// one file in haploid mode, two (.h1.fa/.h2.fa) in diploid mode.
package output

import (
	"bufio"
	"fmt"
	"os"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/genopolish/pipeline"
)

const lineWidth = 60

func writeRecord(w *bufio.Writer, name string, seq []byte) error {
	if _, err := fmt.Fprintf(w, ">%s\n", name); err != nil {
		return err
	}
	for i := 0; i < len(seq); i += lineWidth {
		end := i + lineWidth
		if end > len(seq) {
			end = len(seq)
		}
		if _, err := w.Write(seq[i:end]); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(w *bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.E(err, "output: creating FASTA", path)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := write(w); err != nil {
		return errors.E(err, "output: writing FASTA", path)
	}
	return w.Flush()
}

// WriteFASTA writes results to outPrefix+".fa" in haploid mode, or
// outPrefix+".h1.fa"/outPrefix+".h2.fa" in diploid mode.
func WriteFASTA(outPrefix string, results []pipeline.Result, diploid bool) error {
	if !diploid {
		return writeFile(outPrefix+".fa", func(w *bufio.Writer) error {
			for _, r := range results {
				if err := writeRecord(w, r.Contig, r.Haploid); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := writeFile(outPrefix+".h1.fa", func(w *bufio.Writer) error {
		for _, r := range results {
			if err := writeRecord(w, r.Contig+"_h1", r.H1); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	return writeFile(outPrefix+".h2.fa", func(w *bufio.Writer) error {
		for _, r := range results {
			if err := writeRecord(w, r.Contig+"_h2", r.H2); err != nil {
				return err
			}
		}
		return nil
	})
}
